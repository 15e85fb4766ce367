package types

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"path/filepath"
	"strings"
	"time"
)

// Kind is the coarse media category that selects a pipeline
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

var kindByExtension = map[string]Kind{
	".png":  KindImage,
	".jpg":  KindImage,
	".jpeg": KindImage,
	".mp4":  KindVideo,
	".avi":  KindVideo,
	".mov":  KindVideo,
}

// KindFromPath resolves the media kind from a file name's extension
func KindFromPath(path string) (Kind, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if k, ok := kindByExtension[ext]; ok {
		return k, nil
	}
	return "", &UnsupportedKindError{Kind: Kind(strings.TrimPrefix(ext, "."))}
}

// ChannelOrder describes how the 3 bytes of a pixel are laid out
type ChannelOrder int

const (
	OrderRGB ChannelOrder = iota
	OrderBGR
)

func (o ChannelOrder) String() string {
	if o == OrderBGR {
		return "bgr"
	}
	return "rgb"
}

// FrameChannels is the only channel count the pipelines accept
const FrameChannels = 3

// Frame is one decoded raster: an image input, or one instant of a video.
// Pix is row-major with a stride of Width*NChan.
type Frame struct {
	Width  int
	Height int
	NChan  int
	Order  ChannelOrder
	Pix    []byte
}

// NewFrame allocates a zeroed RGB frame
func NewFrame(width, height int) *Frame {
	return &Frame{
		Width:  width,
		Height: height,
		NChan:  FrameChannels,
		Order:  OrderRGB,
		Pix:    make([]byte, width*height*FrameChannels),
	}
}

// FrameFromImage copies any image.Image into a new RGB frame
func FrameFromImage(img image.Image) *Frame {
	b := img.Bounds()
	f := NewFrame(b.Dx(), b.Dy())

	// Fast path for the layout imaging.Decode hands back
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < f.Height; y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			di := y * f.Stride()
			for x := 0; x < f.Width; x++ {
				f.Pix[di] = src.Pix[si]
				f.Pix[di+1] = src.Pix[si+1]
				f.Pix[di+2] = src.Pix[si+2]
				si += 4
				di += 3
			}
		}
		return f
	}

	nrgba := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	draw.Draw(nrgba, nrgba.Bounds(), img, b.Min, draw.Src)
	return FrameFromImage(nrgba)
}

func (f *Frame) Stride() int {
	return f.Width * f.NChan
}

// Validate reports whether the frame is usable by a detector
func (f *Frame) Validate() error {
	if f == nil {
		return &InvalidFrameError{Reason: "nil frame"}
	}
	if f.Width <= 0 || f.Height <= 0 {
		return &InvalidFrameError{Reason: fmt.Sprintf("empty extent %dx%d", f.Width, f.Height)}
	}
	if f.NChan != FrameChannels {
		return &InvalidFrameError{Reason: fmt.Sprintf("expected %d channels, got %d", FrameChannels, f.NChan)}
	}
	if len(f.Pix) < f.Width*f.Height*f.NChan {
		return &InvalidFrameError{Reason: fmt.Sprintf("pixel buffer holds %d bytes, need %d", len(f.Pix), f.Width*f.Height*f.NChan)}
	}
	return nil
}

// ToRGB swaps the outer channels in place if the frame is BGR
func (f *Frame) ToRGB() {
	if f.Order == OrderRGB {
		return
	}
	for i := 0; i+2 < len(f.Pix); i += f.NChan {
		f.Pix[i], f.Pix[i+2] = f.Pix[i+2], f.Pix[i]
	}
	f.Order = OrderRGB
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	c := *f
	c.Pix = make([]byte, len(f.Pix))
	copy(c.Pix, f.Pix)
	return &c
}

// NRGBA converts the frame into an image the standard encoders handle quickly
func (f *Frame) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, f.Width, f.Height))
	for y := 0; y < f.Height; y++ {
		si := y * f.Stride()
		di := y * img.Stride
		for x := 0; x < f.Width; x++ {
			r, g, b := f.Pix[si], f.Pix[si+1], f.Pix[si+2]
			if f.Order == OrderBGR {
				r, b = b, r
			}
			img.Pix[di] = r
			img.Pix[di+1] = g
			img.Pix[di+2] = b
			img.Pix[di+3] = 255
			si += f.NChan
			di += 4
		}
	}
	return img
}

// Frame implements image.Image so that pigo, imaging and gg can read it directly.

func (f *Frame) ColorModel() color.Model { return color.RGBAModel }

func (f *Frame) Bounds() image.Rectangle { return image.Rect(0, 0, f.Width, f.Height) }

func (f *Frame) At(x, y int) color.Color {
	if x < 0 || y < 0 || x >= f.Width || y >= f.Height {
		return color.RGBA{}
	}
	off := y*f.Stride() + x*f.NChan
	r, g, b := f.Pix[off], f.Pix[off+1], f.Pix[off+2]
	if f.Order == OrderBGR {
		r, b = b, r
	}
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// BoundingBox is an axis-aligned face region in frame pixel coordinates
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height)
}

func (b BoundingBox) Area() int {
	return b.Width * b.Height
}

// Within reports whether the box has positive extent and lies inside a width x height frame
func (b BoundingBox) Within(width, height int) bool {
	return b.Width > 0 && b.Height > 0 && b.X >= 0 && b.Y >= 0 && b.X+b.Width <= width && b.Y+b.Height <= height
}

// ClampBox intersects a rectangle with the frame. ok is false if nothing is left.
func ClampBox(x, y, w, h, frameWidth, frameHeight int) (box BoundingBox, ok bool) {
	x1 := max(0, x)
	y1 := max(0, y)
	x2 := min(frameWidth, x+w)
	y2 := min(frameHeight, y+h)
	if x2-x1 <= 0 || y2-y1 <= 0 {
		return BoundingBox{}, false
	}
	return BoundingBox{X: x1, Y: y1, Width: x2 - x1, Height: y2 - y1}, true
}

// Detection is one accepted face
type Detection struct {
	Box   BoundingBox `json:"box"`
	Score float64     `json:"score"`
}

// DetectionResult holds the faces found in one frame, in detector order
type DetectionResult []Detection

func (r DetectionResult) Boxes() []BoundingBox {
	boxes := make([]BoundingBox, len(r))
	for i, d := range r {
		boxes[i] = d.Box
	}
	return boxes
}

// Rational is a frame rate as the container reports it, e.g. 30000/1001
type Rational struct {
	Num int `json:"num"`
	Den int `json:"den"`
}

func (r Rational) Float() float64 {
	if r.Den == 0 {
		return 0
	}
	return float64(r.Num) / float64(r.Den)
}

// String formats the rate the way ffmpeg's -r flag accepts it
func (r Rational) String() string {
	return fmt.Sprintf("%d/%d", r.Num, r.Den)
}

func (r Rational) Valid() bool {
	return r.Num > 0 && r.Den > 0
}

// MediaDescriptor is captured once at decode time and held for the whole run
type MediaDescriptor struct {
	Kind       Kind     `json:"kind"`
	Format     string   `json:"format"`
	Width      int      `json:"width"`
	Height     int      `json:"height"`
	FrameRate  Rational `json:"frameRate"`  // Video only
	FrameCount int      `json:"frameCount"` // Video only. 0 if the container does not say.
}

// Report summarises one processing run
type Report struct {
	Kind       Kind            `json:"kind"`
	Descriptor MediaDescriptor `json:"descriptor"`
	Frames     int             `json:"frames"`
	Faces      int             `json:"faces"`
	Elapsed    time.Duration   `json:"elapsed"`
}

// Message is the human summary shown by the CLI and the upload endpoint
func (r Report) Message() string {
	if r.Kind == KindVideo {
		return fmt.Sprintf("Successfully processed video. %d face instances detected and blurred across %d frames.", r.Faces, r.Frames)
	}
	return fmt.Sprintf("Successfully processed image. %d face(s) detected and blurred.", r.Faces)
}
