package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"time"

	"github.com/andresmejia3/blurface/internal/detector"
	"github.com/andresmejia3/blurface/internal/redactor"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/cyclopcam/logs"
	"github.com/disintegration/imaging"
)

// JPEG re-encode quality. High enough that the untouched parts of the picture survive.
const jpegQuality = 95

var imageFormats = map[string]imaging.Format{
	"jpeg": imaging.JPEG,
	"png":  imaging.PNG,
}

// ImagePipeline redacts a single still image
type ImagePipeline struct {
	locator detector.FaceLocator
	log     logs.Log
}

func NewImagePipeline(locator detector.FaceLocator, log logs.Log) *ImagePipeline {
	return &ImagePipeline{locator: locator, log: log}
}

// ImageResult is a redacted raster before it is encoded
type ImageResult struct {
	Frame      *types.Frame
	Detections types.DetectionResult
	Descriptor types.MediaDescriptor
}

// Redact decodes data, then locates and blurs every face in it
func (p *ImagePipeline) Redact(ctx context.Context, data []byte, cfg types.Config) (*ImageResult, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &types.CancelledError{Err: err}
	}

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &types.DecodeError{Kind: types.KindImage, Err: err}
	}
	if _, ok := imageFormats[format]; !ok {
		return nil, &types.DecodeError{Kind: types.KindImage, Err: fmt.Errorf("unsupported image format %q", format)}
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, &types.DecodeError{Kind: types.KindImage, Err: err}
	}
	frame := types.FrameFromImage(img)

	dets, err := p.locator.Locate(frame, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := redactor.Redact(frame, dets.Boxes(), cfg.BlurStrength); err != nil {
		return nil, err
	}

	return &ImageResult{
		Frame:      frame,
		Detections: dets,
		Descriptor: types.MediaDescriptor{
			Kind:   types.KindImage,
			Format: format,
			Width:  frame.Width,
			Height: frame.Height,
		},
	}, nil
}

// Process redacts data and re-encodes it in its original format
func (p *ImagePipeline) Process(ctx context.Context, data []byte, cfg types.Config) (Output, error) {
	start := time.Now()

	res, err := p.Redact(ctx, data, cfg)
	if err != nil {
		return Output{}, err
	}

	var buf bytes.Buffer
	if err := EncodeImage(&buf, res.Frame, res.Descriptor.Format); err != nil {
		return Output{}, err
	}

	report := types.Report{
		Kind:       types.KindImage,
		Descriptor: res.Descriptor,
		Frames:     1,
		Faces:      len(res.Detections),
		Elapsed:    time.Since(start),
	}
	p.log.Infof("Image %dx%d (%s): %d face(s) blurred in %v", res.Frame.Width, res.Frame.Height, res.Descriptor.Format, report.Faces, report.Elapsed)

	return Output{Data: buf.Bytes(), Format: res.Descriptor.Format, Report: report}, nil
}

// EncodeImage writes frame as "jpeg" or "png"
func EncodeImage(w io.Writer, frame *types.Frame, format string) error {
	f, ok := imageFormats[format]
	if !ok {
		return &types.EncodeError{Err: fmt.Errorf("unsupported image format %q", format)}
	}
	if err := imaging.Encode(w, frame.NRGBA(), f, imaging.JPEGQuality(jpegQuality)); err != nil {
		return &types.EncodeError{Err: err}
	}
	return nil
}
