package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/andresmejia3/blurface/internal/types"
	"github.com/andresmejia3/blurface/internal/utils"
)

// FFmpegCodec decodes and encodes through ffmpeg child processes, exchanging
// packed rgb24 frames over pipes.
type FFmpegCodec struct{}

func (FFmpegCodec) Probe(ctx context.Context, path string) (types.MediaDescriptor, error) {
	return utils.ProbeVideo(ctx, path)
}

func (FFmpegCodec) NewDecoder(ctx context.Context, path string, desc types.MediaDescriptor) (FrameDecoder, error) {
	// The child must die with this decoder, not only with the caller's context
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegRawDecoder(ctx, path)
	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}
	return &ffmpegDecoder{cmd: cmd, out: out, cancel: cancel}, nil
}

func (FFmpegCodec) NewEncoder(ctx context.Context, path string, desc types.MediaDescriptor) (FrameEncoder, error) {
	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegEncoder(ctx, path, desc.FrameRate, desc.Width, desc.Height)
	in, err := cmd.StdinPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create encoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start encoder: %w", err)
	}
	return &ffmpegEncoder{cmd: cmd, in: in, cancel: cancel, path: path}, nil
}

type ffmpegDecoder struct {
	cmd    *utils.SafeCommand
	out    io.ReadCloser
	cancel context.CancelFunc
	done   bool
}

func (d *ffmpegDecoder) Next(dst *types.Frame) error {
	if d.done {
		return io.EOF
	}
	_, err := io.ReadFull(d.out, dst.Pix)
	if err == nil {
		return nil
	}

	// A clean EOF on a frame boundary is the end of the stream, but only if ffmpeg agrees
	if err == io.EOF {
		d.done = true
		if werr := d.cmd.Wait(); werr != nil {
			d.cancel()
			return d.cmd.Explain(fmt.Errorf("decoder exited: %w", werr))
		}
		d.cancel()
		return io.EOF
	}

	// Short read: the frame is truncated
	d.stop()
	return d.cmd.Explain(fmt.Errorf("truncated frame: %w", err))
}

func (d *ffmpegDecoder) stop() {
	if d.done {
		return
	}
	d.done = true
	d.cancel()
	d.cmd.Wait()
}

func (d *ffmpegDecoder) Close() error {
	d.stop()
	return nil
}

type ffmpegEncoder struct {
	cmd    *utils.SafeCommand
	in     io.WriteCloser
	cancel context.CancelFunc
	path   string
	closed bool
}

func (e *ffmpegEncoder) WriteFrame(frame *types.Frame) error {
	if e.closed {
		return fmt.Errorf("encoder is closed")
	}
	if _, err := e.in.Write(frame.Pix); err != nil {
		// The pipe broke because ffmpeg died. Reap it so its logs explain why.
		e.closed = true
		e.cancel()
		e.cmd.Wait()
		return e.cmd.Explain(fmt.Errorf("encoder write failed: %w", err))
	}
	return nil
}

func (e *ffmpegEncoder) Close() error {
	if e.closed {
		return fmt.Errorf("encoder is closed")
	}
	e.closed = true
	defer e.cancel()

	e.in.Close()
	if err := e.cmd.Wait(); err != nil {
		return e.cmd.Explain(fmt.Errorf("encoder exited: %w", err))
	}
	return nil
}

func (e *ffmpegEncoder) Abort() {
	if !e.closed {
		e.closed = true
		e.cancel()
		e.in.Close()
		e.cmd.Wait()
	}
	os.Remove(e.path)
}
