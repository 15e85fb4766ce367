//go:build !gocv
// +build !gocv

package detector

import (
	"errors"

	"github.com/andresmejia3/blurface/internal/types"
)

// ErrDNNUnavailable is returned when the binary was built without OpenCV
var ErrDNNUnavailable = errors.New("gocv build tag is not enabled")

// DNNBackend is a placeholder for builds without the gocv tag
type DNNBackend struct{}

// NewDNNBackend always fails without the gocv build tag
func NewDNNBackend(prototxt, weights string) (*DNNBackend, error) {
	return nil, ErrDNNUnavailable
}

func (b *DNNBackend) Detect(frame *types.Frame, rng types.Range) ([]RawDetection, error) {
	return nil, ErrDNNUnavailable
}

func (b *DNNBackend) Close() error {
	return nil
}
