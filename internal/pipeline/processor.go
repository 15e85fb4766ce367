package pipeline

import (
	"context"
	"os"

	"github.com/andresmejia3/blurface/internal/detector"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/cyclopcam/logs"
)

// Processor routes media to the image or video pipeline. It is the only entry point
// the CLI and HTTP layers use, and it adds no processing of its own.
type Processor struct {
	Image *ImagePipeline
	Video *VideoPipeline
}

func NewProcessor(locator detector.FaceLocator, codec VideoCodec, log logs.Log) *Processor {
	return &Processor{
		Image: NewImagePipeline(locator, log),
		Video: NewVideoPipeline(locator, codec, log),
	}
}

// Process redacts data of the given kind. observer is only used for video and may be nil.
func (p *Processor) Process(ctx context.Context, data []byte, kind types.Kind, cfg types.Config, observer Observer) (Output, error) {
	switch kind {
	case types.KindImage:
		return p.Image.Process(ctx, data, cfg)
	case types.KindVideo:
		return p.Video.Process(ctx, data, cfg, observer)
	default:
		return Output{}, &types.UnsupportedKindError{Kind: kind}
	}
}

// ProcessFile redacts inPath into outPath. Videos are streamed; images are read whole.
func (p *Processor) ProcessFile(ctx context.Context, inPath, outPath string, kind types.Kind, cfg types.Config, observer Observer) (types.Report, error) {
	switch kind {
	case types.KindImage:
		data, err := os.ReadFile(inPath)
		if err != nil {
			return types.Report{}, &types.DecodeError{Kind: kind, Err: err}
		}
		out, err := p.Image.Process(ctx, data, cfg)
		if err != nil {
			return types.Report{}, err
		}
		if err := os.WriteFile(outPath, out.Data, 0644); err != nil {
			return types.Report{}, &types.EncodeError{Err: err}
		}
		return out.Report, nil
	case types.KindVideo:
		return p.Video.ProcessFile(ctx, inPath, outPath, cfg, observer)
	default:
		return types.Report{}, &types.UnsupportedKindError{Kind: kind}
	}
}
