package redactor

import (
	"sync"

	"github.com/andresmejia3/blurface/internal/types"
)

// Passes of box blur applied per region. Three passes approximate a Gaussian.
const blurPasses = 3

// Regions longer than this many pixels get a proportionally wider kernel
const radiusReferenceSide = 150

// blurBufferPool recycles scratch buffers for the horizontal pass.
var blurBufferPool = sync.Pool{
	New: func() interface{} { return make([]uint8, 0, 1024*1024) },
}

// colSumsPool recycles column accumulators for the vertical pass.
var colSumsPool = sync.Pool{
	New: func() interface{} { return make([]uint32, 0, 1024) },
}

// Redact blurs every box of the frame in place and returns the frame.
// All boxes are checked before any pixel is touched, so a bad box leaves the frame unmodified.
func Redact(frame *types.Frame, boxes []types.BoundingBox, strength int) (*types.Frame, error) {
	if len(boxes) == 0 {
		return frame, nil
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	for _, b := range boxes {
		if !b.Within(frame.Width, frame.Height) {
			return nil, &types.OutOfBoundsError{Box: b, Width: frame.Width, Height: frame.Height}
		}
	}

	for _, b := range boxes {
		radius := KernelRadius(strength, b)
		for i := 0; i < blurPasses; i++ {
			boxBlur(frame, b, radius)
		}
	}
	return frame, nil
}

// KernelRadius returns the blur radius for a region. The kernel is 2*radius+1 wide,
// which is always odd and at least max(3, strength).
func KernelRadius(strength int, b types.BoundingBox) int {
	if strength < 1 {
		strength = 1
	}
	radius := strength
	if s := strength * max(b.Width, b.Height) / radiusReferenceSide; s > radius {
		radius = s
	}
	return radius
}

// boxBlur is a separable sliding-window mean over the region. Samples are clamped
// to the region edges, so nothing outside the box is read or written.
func boxBlur(img *types.Frame, rect types.BoundingBox, radius int) {
	w, h := rect.Width, rect.Height
	nc := img.NChan
	stride := img.Stride()
	pix := img.Pix
	minX, minY := rect.X, rect.Y
	count := uint32(2*radius + 1)

	neededSize := w * h * nc
	bufPtr := blurBufferPool.Get().([]uint8)
	if cap(bufPtr) < neededSize {
		bufPtr = make([]uint8, neededSize)
	}
	buf := bufPtr[:neededSize]
	defer func() {
		// The scratch holds partially blurred face pixels
		clear(buf)
		blurBufferPool.Put(bufPtr)
	}()

	// 1. Horizontal Pass: Image -> Buffer
	var sums [types.FrameChannels]uint32
	for y := 0; y < h; y++ {
		rowStart := (minY+y)*stride + minX*nc
		bufRowStart := y * w * nc

		sums = [types.FrameChannels]uint32{}
		for k := -radius; k <= radius; k++ {
			off := rowStart + clampIndex(k, w)*nc
			for c := 0; c < nc; c++ {
				sums[c] += uint32(pix[off+c])
			}
		}

		for x := 0; x < w; x++ {
			bufOff := bufRowStart + x*nc
			for c := 0; c < nc; c++ {
				buf[bufOff+c] = uint8(sums[c] / count)
			}

			offRemove := rowStart + clampIndex(x-radius, w)*nc
			offAdd := rowStart + clampIndex(x+radius+1, w)*nc
			for c := 0; c < nc; c++ {
				sums[c] = sums[c] - uint32(pix[offRemove+c]) + uint32(pix[offAdd+c])
			}
		}
	}

	// 2. Vertical Pass: Buffer -> Image, row by row with one accumulator per column
	neededCols := w * nc
	csPtr := colSumsPool.Get().([]uint32)
	if cap(csPtr) < neededCols {
		csPtr = make([]uint32, neededCols)
	}
	colSums := csPtr[:neededCols]
	clear(colSums)
	defer func() {
		clear(colSums)
		colSumsPool.Put(csPtr)
	}()

	for k := -radius; k <= radius; k++ {
		rowOffset := clampIndex(k, h) * w * nc
		for i := 0; i < neededCols; i++ {
			colSums[i] += uint32(buf[rowOffset+i])
		}
	}

	for y := 0; y < h; y++ {
		dstRowOff := (minY+y)*stride + minX*nc
		removeOff := clampIndex(y-radius, h) * w * nc
		addOff := clampIndex(y+radius+1, h) * w * nc

		for i := 0; i < neededCols; i++ {
			pix[dstRowOff+i] = uint8(colSums[i] / count)
			colSums[i] = colSums[i] - uint32(buf[removeOff+i]) + uint32(buf[addOff+i])
		}
	}
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}
