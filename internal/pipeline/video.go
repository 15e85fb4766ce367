package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/andresmejia3/blurface/internal/detector"
	"github.com/andresmejia3/blurface/internal/redactor"
	"github.com/andresmejia3/blurface/internal/types"
	"github.com/andresmejia3/blurface/internal/worker"
	"github.com/cyclopcam/logs"
	"golang.org/x/sync/errgroup"
)

// VideoPipeline redacts every frame of a video and re-encodes it as MP4
type VideoPipeline struct {
	locator detector.FaceLocator
	codec   VideoCodec
	log     logs.Log
	// TempDir is where Process stages its input and output. Empty means os.TempDir.
	TempDir string
}

func NewVideoPipeline(locator detector.FaceLocator, codec VideoCodec, log logs.Log) *VideoPipeline {
	return &VideoPipeline{locator: locator, codec: codec, log: log}
}

// Process is the in-memory variant of ProcessFile. The container needs seekable
// files on both ends, so data is staged in a private temp directory that is always removed.
func (p *VideoPipeline) Process(ctx context.Context, data []byte, cfg types.Config, observer Observer) (Output, error) {
	if err := cfg.Validate(); err != nil {
		return Output{}, err
	}

	dir, err := os.MkdirTemp(p.TempDir, "blurface-*")
	if err != nil {
		return Output{}, &types.StagingError{Op: "create temp dir", Err: err}
	}
	defer os.RemoveAll(dir)

	inPath := filepath.Join(dir, "input")
	if err := os.WriteFile(inPath, data, 0600); err != nil {
		return Output{}, &types.StagingError{Op: "stage input", Err: err}
	}
	outPath := filepath.Join(dir, "output.mp4")

	report, err := p.ProcessFile(ctx, inPath, outPath, cfg, observer)
	if err != nil {
		return Output{}, err
	}

	encoded, err := os.ReadFile(outPath)
	if err != nil {
		return Output{}, &types.StagingError{Op: "read output", Err: err}
	}
	return Output{Data: encoded, Format: "mp4", Report: report}, nil
}

// ProcessFile streams inPath through detection and redaction into outPath.
// On any failure outPath is removed.
func (p *VideoPipeline) ProcessFile(ctx context.Context, inPath, outPath string, cfg types.Config, observer Observer) (types.Report, error) {
	start := time.Now()
	if err := cfg.Validate(); err != nil {
		return types.Report{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Report{}, &types.CancelledError{Err: err}
	}

	desc, err := p.codec.Probe(ctx, inPath)
	if err != nil {
		return types.Report{}, p.failure(ctx, 0, &types.DecodeError{Kind: types.KindVideo, Err: err})
	}

	dec, err := p.codec.NewDecoder(ctx, inPath, desc)
	if err != nil {
		return types.Report{}, p.failure(ctx, 0, &types.DecodeError{Kind: types.KindVideo, Err: err})
	}
	defer dec.Close()

	enc, err := p.codec.NewEncoder(ctx, outPath, desc)
	if err != nil {
		return types.Report{}, p.failure(ctx, 0, &types.EncodeError{Err: err})
	}
	finished := false
	defer func() {
		if !finished {
			enc.Abort()
		}
	}()

	p.log.Infof("Video %dx%d @ %s fps, %d frames expected, %d worker(s)", desc.Width, desc.Height, desc.FrameRate, desc.FrameCount, cfg.WorkerCount())

	frames, faces, err := p.run(ctx, dec, enc, desc, cfg, observer)
	if err != nil {
		return types.Report{}, p.failure(ctx, frames, err)
	}
	if frames == 0 {
		return types.Report{}, &types.DecodeError{Kind: types.KindVideo, Err: errors.New("video contains no frames")}
	}

	finished = true
	if err := enc.Close(); err != nil {
		os.Remove(outPath)
		return types.Report{}, p.failure(ctx, frames, &types.EncodeError{Err: err})
	}
	if observer != nil {
		observer(1)
	}

	if desc.FrameCount > 0 && desc.FrameCount != frames {
		p.log.Warnf("Container reported %d frames but %d were decoded", desc.FrameCount, frames)
	}
	report := types.Report{
		Kind:       types.KindVideo,
		Descriptor: desc,
		Frames:     frames,
		Faces:      faces,
		Elapsed:    time.Since(start),
	}
	p.log.Infof("Video done: %d frames, %d face instances blurred in %v", frames, faces, report.Elapsed)
	return report, nil
}

// failure turns any error raised after the caller's context ended into a CancelledError.
// Killed child processes surface as decode or encode errors otherwise.
func (p *VideoPipeline) failure(ctx context.Context, frames int, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		p.log.Warnf("Video cancelled after %d frames", frames)
		return &types.CancelledError{Frame: frames, Err: ctxErr}
	}
	p.log.Errorf("Video failed after %d frames: %v", frames, err)
	return err
}

// run decodes, detects and writes frames until the decoder is exhausted.
// Detection may run on several goroutines but frames are written strictly in index order.
func (p *VideoPipeline) run(ctx context.Context, dec FrameDecoder, enc FrameEncoder, desc types.MediaDescriptor, cfg types.Config, observer Observer) (written, faces int, err error) {
	g, gctx := errgroup.WithContext(ctx)
	n := cfg.WorkerCount()
	tasks := make(chan worker.Task, n)

	// Producer
	g.Go(func() error {
		defer close(tasks)
		for idx := 0; ; idx++ {
			if err := gctx.Err(); err != nil {
				return err
			}
			frame := types.NewFrame(desc.Width, desc.Height)
			if err := dec.Next(frame); err != nil {
				if err == io.EOF {
					return nil
				}
				return &types.FrameDecodeError{Index: idx, Err: err}
			}
			select {
			case tasks <- worker.Task{Index: idx, Frame: frame}:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
	})

	results, waitWorkers := worker.Detect(gctx, n, tasks, func(frame *types.Frame) (types.DetectionResult, error) {
		return p.locator.Locate(frame, cfg)
	})

	// Consumer
	g.Go(func() error {
		reorder := worker.NewReorderBuffer()
		for res := range results {
			if res.Err != nil {
				return fmt.Errorf("frame %d: %w", res.Index, res.Err)
			}
			for _, r := range reorder.Push(res) {
				if err := gctx.Err(); err != nil {
					return err
				}
				frame, err := redactor.Redact(r.Frame, r.Detections.Boxes(), cfg.BlurStrength)
				if err != nil {
					return fmt.Errorf("frame %d: %w", r.Index, err)
				}
				if err := enc.WriteFrame(frame); err != nil {
					return &types.EncodeError{Err: err}
				}
				written++
				faces += len(r.Detections)
				if observer != nil && desc.FrameCount > 0 {
					observer(min(1, float64(written)/float64(desc.FrameCount)))
				}
			}
		}
		return gctx.Err()
	})

	err = g.Wait()
	// g.Wait cancels gctx, so workers blocked on a send exit as well
	waitWorkers()
	return written, faces, err
}
