//go:build gocv
// +build gocv

package detector

import (
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"

	"github.com/andresmejia3/blurface/internal/types"
)

// DNNBackend runs OpenCV's res10 SSD face detector (Caffe).
// The network outputs relative boxes and probabilities directly.
type DNNBackend struct {
	net gocv.Net
	// gocv.Net keeps per-inference state, so forward passes are serialised
	mu sync.Mutex
}

// NewDNNBackend loads the prototxt/caffemodel pair once for the life of the process
func NewDNNBackend(prototxt, weights string) (*DNNBackend, error) {
	net := gocv.ReadNetFromCaffe(prototxt, weights)
	if net.Empty() {
		return nil, fmt.Errorf("failed to load caffe model %s (%s)", weights, prototxt)
	}
	return &DNNBackend{net: net}, nil
}

func (b *DNNBackend) Detect(frame *types.Frame, rng types.Range) ([]RawDetection, error) {
	mat, err := gocv.NewMatFromBytes(frame.Height, frame.Width, gocv.MatTypeCV8UC3, frame.Pix)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer mat.Close()

	// A larger input lets the network resolve small, distant faces
	side := 300
	if rng == types.RangeFull {
		side = 600
	}

	// The model was trained on BGR with these channel means, and our frames are RGB
	blob := gocv.BlobFromImage(mat, 1.0, image.Pt(side, side), gocv.NewScalar(104, 177, 123, 0), true, false)
	defer blob.Close()

	b.mu.Lock()
	b.net.SetInput(blob, "")
	prob := b.net.Forward("")
	b.mu.Unlock()
	defer prob.Close()

	results := prob.Reshape(1, 1)
	defer results.Close()

	raw := []RawDetection{}
	for i := 0; i+6 < results.Total(); i += 7 {
		score := float64(results.GetFloatAt(0, i+2))
		if score <= 0 {
			continue
		}
		left := float64(results.GetFloatAt(0, i+3))
		top := float64(results.GetFloatAt(0, i+4))
		right := float64(results.GetFloatAt(0, i+5))
		bottom := float64(results.GetFloatAt(0, i+6))
		raw = append(raw, RawDetection{
			XMin:   left,
			YMin:   top,
			Width:  right - left,
			Height: bottom - top,
			Score:  score,
		})
	}
	return raw, nil
}

func (b *DNNBackend) Close() error {
	return b.net.Close()
}
