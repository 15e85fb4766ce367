package detector

import (
	"io"
	"math"

	"github.com/andresmejia3/blurface/internal/types"
)

// RawDetection is a backend's face candidate in relative (0-1) frame coordinates
type RawDetection struct {
	XMin   float64
	YMin   float64
	Width  float64
	Height float64
	Score  float64 // Confidence in [0, 1]
}

// Backend runs a face detection model over an RGB frame.
// Implementations must be safe for concurrent use; the loaded model is shared
// read-only by every request in the process.
type Backend interface {
	Detect(frame *types.Frame, rng types.Range) ([]RawDetection, error)
}

// FaceLocator is what the pipelines depend on
type FaceLocator interface {
	Locate(frame *types.Frame, cfg types.Config) (types.DetectionResult, error)
}

// Locator turns raw backend output into clamped, thresholded pixel boxes
type Locator struct {
	backend Backend
}

func New(backend Backend) *Locator {
	return &Locator{backend: backend}
}

// Locate finds the faces in frame. A frame with no faces returns an empty result and no error.
// The frame must already be in RGB order.
func (l *Locator) Locate(frame *types.Frame, cfg types.Config) (types.DetectionResult, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	if frame.Order != types.OrderRGB {
		return nil, &types.InvalidFrameError{Reason: "detector requires rgb channel order, got " + frame.Order.String()}
	}

	raw, err := l.backend.Detect(frame, cfg.Range)
	if err != nil {
		return nil, &types.DetectError{Err: err}
	}

	result := make(types.DetectionResult, 0, len(raw))
	for _, d := range raw {
		// Written this way round so that NaN scores are rejected too
		if !(d.Score >= cfg.ConfidenceThreshold) {
			continue
		}
		box, ok := toPixels(d, frame.Width, frame.Height, cfg.Padding)
		if !ok {
			continue
		}
		result = append(result, types.Detection{Box: box, Score: math.Min(d.Score, 1)})
	}
	return result, nil
}

// Close releases the backend if it holds native resources
func (l *Locator) Close() error {
	if c, ok := l.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func toPixels(d RawDetection, width, height, padding int) (types.BoundingBox, bool) {
	if anyNaN(d.XMin, d.YMin, d.Width, d.Height) {
		return types.BoundingBox{}, false
	}
	// Rounded, not truncated: a whole-pixel coordinate often comes back as n-1e-15
	x := int(math.Round(d.XMin * float64(width)))
	y := int(math.Round(d.YMin * float64(height)))
	w := int(math.Round(d.Width * float64(width)))
	h := int(math.Round(d.Height * float64(height)))
	return types.ClampBox(x-padding, y-padding, w+2*padding, h+2*padding, width, height)
}

func anyNaN(v ...float64) bool {
	for _, f := range v {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return true
		}
	}
	return false
}
