package pipeline

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/andresmejia3/blurface/internal/types"
)

// Test fixtures: faces are drawn as magenta/black checkerboards that markerLocator
// recognises, on top of a smooth gradient.

var magenta = [3]byte{255, 0, 255}

func paintBackground(f *types.Frame, seed int) {
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			off := y*f.Stride() + x*3
			f.Pix[off] = byte(x*4 + seed)
			f.Pix[off+1] = byte(y * 5)
			f.Pix[off+2] = 100
		}
	}
}

func paintFace(f *types.Frame, b types.BoundingBox) {
	for y := b.Y; y < b.Y+b.Height; y++ {
		for x := b.X; x < b.X+b.Width; x++ {
			off := y*f.Stride() + x*3
			if (x-b.X+y-b.Y)%2 == 0 {
				copy(f.Pix[off:off+3], magenta[:])
			} else {
				f.Pix[off], f.Pix[off+1], f.Pix[off+2] = 0, 0, 0
			}
		}
	}
}

func isMagenta(f *types.Frame, x, y int) bool {
	off := y*f.Stride() + x*3
	return bytes.Equal(f.Pix[off:off+3], magenta[:])
}

// markerLocator reports a candidate box whenever its top-left pixel is magenta
type markerLocator struct {
	candidates []types.BoundingBox
	mu         sync.Mutex
	calls      int
	err        error
}

func (m *markerLocator) Locate(frame *types.Frame, cfg types.Config) (types.DetectionResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	const score = 0.9
	res := types.DetectionResult{}
	if score < cfg.ConfidenceThreshold {
		return res, nil
	}
	for _, c := range m.candidates {
		if c.Within(frame.Width, frame.Height) && isMagenta(frame, c.X, c.Y) {
			res = append(res, types.Detection{Box: c, Score: score})
		}
	}
	return res, nil
}

// fixedLocator reports the same boxes for every frame
type fixedLocator struct {
	boxes []types.BoundingBox
}

func (l *fixedLocator) Locate(frame *types.Frame, cfg types.Config) (types.DetectionResult, error) {
	res := types.DetectionResult{}
	for _, b := range l.boxes {
		res = append(res, types.Detection{Box: b, Score: 1})
	}
	return res, nil
}

// regionStdDev is the standard deviation of the red channel inside b
func regionStdDev(f *types.Frame, b types.BoundingBox) float64 {
	var sum, sq float64
	n := float64(b.Width * b.Height)
	for y := b.Y; y < b.Y+b.Height; y++ {
		for x := b.X; x < b.X+b.Width; x++ {
			v := float64(f.Pix[y*f.Stride()+x*3])
			sum += v
			sq += v * v
		}
	}
	mean := sum / n
	return math.Sqrt(sq/n - mean*mean)
}

// pixelsOutsideEqual reports whether a and b match everywhere outside boxes
func pixelsOutsideEqual(a, b *types.Frame, boxes []types.BoundingBox) bool {
	for y := 0; y < a.Height; y++ {
		for x := 0; x < a.Width; x++ {
			inside := false
			for _, box := range boxes {
				if x >= box.X && x < box.X+box.Width && y >= box.Y && y < box.Y+box.Height {
					inside = true
					break
				}
			}
			if inside {
				continue
			}
			off := y*a.Stride() + x*3
			if !bytes.Equal(a.Pix[off:off+3], b.Pix[off:off+3]) {
				return false
			}
		}
	}
	return true
}

// The fake container: "FAKEVID1", then width, height, rate num, rate den and
// frame count as big-endian uint32, then raw rgb24 frames.

const fakeMagic = "FAKEVID1"

type fakeHeader struct {
	Width, Height, Num, Den, Count uint32
}

func encodeFakeVideo(rate types.Rational, frames []*types.Frame) []byte {
	var buf bytes.Buffer
	buf.WriteString(fakeMagic)
	h := fakeHeader{Num: uint32(rate.Num), Den: uint32(rate.Den), Count: uint32(len(frames))}
	if len(frames) > 0 {
		h.Width, h.Height = uint32(frames[0].Width), uint32(frames[0].Height)
	}
	binary.Write(&buf, binary.BigEndian, h)
	for _, f := range frames {
		buf.Write(f.Pix)
	}
	return buf.Bytes()
}

func decodeFakeVideo(data []byte) (types.MediaDescriptor, []*types.Frame, error) {
	desc, body, err := parseFakeHeader(data)
	if err != nil {
		return desc, nil, err
	}
	size := desc.Width * desc.Height * 3
	var frames []*types.Frame
	for len(body) >= size && size > 0 {
		f := types.NewFrame(desc.Width, desc.Height)
		copy(f.Pix, body[:size])
		frames = append(frames, f)
		body = body[size:]
	}
	return desc, frames, nil
}

func parseFakeHeader(data []byte) (types.MediaDescriptor, []byte, error) {
	if !bytes.HasPrefix(data, []byte(fakeMagic)) {
		return types.MediaDescriptor{}, nil, errors.New("invalid data found when processing input")
	}
	r := bytes.NewReader(data[len(fakeMagic):])
	var h fakeHeader
	if err := binary.Read(r, binary.BigEndian, &h); err != nil {
		return types.MediaDescriptor{}, nil, fmt.Errorf("short header: %w", err)
	}
	desc := types.MediaDescriptor{
		Kind:       types.KindVideo,
		Format:     "fakevid",
		Width:      int(h.Width),
		Height:     int(h.Height),
		FrameRate:  types.Rational{Num: int(h.Num), Den: int(h.Den)},
		FrameCount: int(h.Count),
	}
	body, _ := io.ReadAll(r)
	return desc, body, nil
}

// fakeCodec reads and writes the fake container and records what it handed out
type fakeCodec struct {
	mu       sync.Mutex
	decoders []*fakeDecoder
	encoders []*fakeEncoder
}

func (c *fakeCodec) Probe(ctx context.Context, path string) (types.MediaDescriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return types.MediaDescriptor{}, err
	}
	desc, _, err := parseFakeHeader(data)
	return desc, err
}

func (c *fakeCodec) NewDecoder(ctx context.Context, path string, desc types.MediaDescriptor) (FrameDecoder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	_, body, err := parseFakeHeader(data)
	if err != nil {
		return nil, err
	}
	d := &fakeDecoder{body: body}
	c.mu.Lock()
	c.decoders = append(c.decoders, d)
	c.mu.Unlock()
	return d, nil
}

func (c *fakeCodec) NewEncoder(ctx context.Context, path string, desc types.MediaDescriptor) (FrameEncoder, error) {
	e := &fakeEncoder{path: path, rate: desc.FrameRate}
	c.mu.Lock()
	c.encoders = append(c.encoders, e)
	c.mu.Unlock()
	return e, nil
}

func (c *fakeCodec) allClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, d := range c.decoders {
		if !d.closed {
			return false
		}
	}
	for _, e := range c.encoders {
		if !e.closed && !e.aborted {
			return false
		}
	}
	return true
}

type fakeDecoder struct {
	body   []byte
	closed bool
}

func (d *fakeDecoder) Next(dst *types.Frame) error {
	if len(d.body) == 0 {
		return io.EOF
	}
	if len(d.body) < len(dst.Pix) {
		d.body = nil
		return io.ErrUnexpectedEOF
	}
	copy(dst.Pix, d.body)
	d.body = d.body[len(dst.Pix):]
	return nil
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

type fakeEncoder struct {
	path    string
	rate    types.Rational
	frames  []*types.Frame
	closed  bool
	aborted bool
}

func (e *fakeEncoder) WriteFrame(frame *types.Frame) error {
	e.frames = append(e.frames, frame.Clone())
	return nil
}

func (e *fakeEncoder) Close() error {
	e.closed = true
	return os.WriteFile(e.path, encodeFakeVideo(e.rate, e.frames), 0644)
}

func (e *fakeEncoder) Abort() {
	e.aborted = true
	os.Remove(e.path)
}
