package detector

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/andresmejia3/blurface/internal/types"
	pigo "github.com/esimov/pigo/core"
)

// pigo's quality score is unbounded. This is the score that maps to a confidence of 0.5,
// which is the cutoff pigo's own examples use.
const pigoQualityPivot = 5.0

// facefinder is pigo's frontal face cascade (cascade/facefinder in github.com/esimov/pigo, MIT)
//
//go:embed cascade/facefinder
var facefinder []byte

// cascade is the part of *pigo.Pigo the backend uses
type cascade interface {
	RunCascade(cp pigo.CascadeParams, angle float64) []pigo.Detection
	ClusterDetections(detections []pigo.Detection, iouThreshold float64) []pigo.Detection
}

// PigoBackend detects faces with a pigo pixel-intensity-comparison cascade.
// It is pure Go and holds no native resources.
type PigoBackend struct {
	classifier   cascade
	Angle        float64 // 0.0 is upright
	ShiftFactor  float64
	ScaleFactor  float64
	IouThreshold float64
	MinFaceSize  int // Smallest face side, in pixels, searched for in full range mode
}

// NewPigoBackend unpacks a binary cascade such as pigo's "facefinder"
func NewPigoBackend(cascadeFile []byte) (*PigoBackend, error) {
	p := pigo.NewPigo()
	// Unpack returns the classifier holding the cascade trees, their depth and thresholds
	classifier, err := p.Unpack(cascadeFile)
	if err != nil {
		return nil, fmt.Errorf("unpack cascade: %w", err)
	}
	return newPigoBackend(classifier), nil
}

// DefaultPigoBackend uses the frontal face cascade built into the binary
func DefaultPigoBackend() (*PigoBackend, error) {
	return NewPigoBackend(facefinder)
}

// LoadPigoBackend reads the cascade from disk. This is meant to run once at startup.
func LoadPigoBackend(path string) (*PigoBackend, error) {
	cascadeFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot open cascade file %s: %w", path, err)
	}
	return NewPigoBackend(cascadeFile)
}

func newPigoBackend(c cascade) *PigoBackend {
	return &PigoBackend{
		classifier:   c,
		ShiftFactor:  0.1,
		ScaleFactor:  1.1,
		IouThreshold: 0.2,
		MinFaceSize:  20,
	}
}

func (b *PigoBackend) Detect(frame *types.Frame, rng types.Range) ([]RawDetection, error) {
	cols, rows := frame.Width, frame.Height
	minSize, maxSize := b.sizeRange(cols, rows, rng)

	cParams := pigo.CascadeParams{
		MinSize:     minSize,
		MaxSize:     maxSize,
		ShiftFactor: b.ShiftFactor,
		ScaleFactor: b.ScaleFactor,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(frame.NRGBA()),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}

	// The result contains quadruplets of row, column, scale and detection score
	faces := b.classifier.RunCascade(cParams, b.Angle)
	faces = b.classifier.ClusterDetections(faces, b.IouThreshold)

	raw := make([]RawDetection, 0, len(faces))
	for _, face := range faces {
		side := float64(face.Scale)
		raw = append(raw, RawDetection{
			XMin:   (float64(face.Col) - side/2) / float64(cols),
			YMin:   (float64(face.Row) - side/2) / float64(rows),
			Width:  side / float64(cols),
			Height: side / float64(rows),
			Score:  qualityToScore(float64(face.Q)),
		})
	}
	return raw, nil
}

// sizeRange picks the face sizes the cascade scans for. Short range skips faces
// smaller than an eighth of the frame, which is where most false positives live.
func (b *PigoBackend) sizeRange(cols, rows int, rng types.Range) (minSize, maxSize int) {
	maxSize = min(cols, rows)
	minSize = b.MinFaceSize
	if rng != types.RangeFull {
		minSize = max(minSize, maxSize/8)
	}
	if minSize > maxSize {
		minSize = maxSize
	}
	return minSize, maxSize
}

func qualityToScore(q float64) float64 {
	if q <= 0 {
		return 0
	}
	return q / (q + pigoQualityPivot)
}
