package pipeline

import (
	"context"

	"github.com/andresmejia3/blurface/internal/types"
)

// Observer receives progress in [0,1] after each written video frame
type Observer func(progress float64)

// Output is the encoded result of one run
type Output struct {
	Data   []byte
	Format string // "jpeg", "png" or "mp4"
	Report types.Report
}

// Extension returns the file extension matching Format, including the dot
func (o Output) Extension() string {
	return FormatExtension(o.Format)
}

// FormatExtension maps an output format name to a file extension
func FormatExtension(format string) string {
	switch format {
	case "jpeg":
		return ".jpg"
	case "png":
		return ".png"
	default:
		return ".mp4"
	}
}

// VideoCodec opens the container-level reader and writer for a run.
// FFmpegCodec is the production implementation.
type VideoCodec interface {
	Probe(ctx context.Context, path string) (types.MediaDescriptor, error)
	NewDecoder(ctx context.Context, path string, desc types.MediaDescriptor) (FrameDecoder, error)
	NewEncoder(ctx context.Context, path string, desc types.MediaDescriptor) (FrameEncoder, error)
}

// FrameDecoder yields frames in stream order
type FrameDecoder interface {
	// Next fills dst with the next frame. It returns io.EOF after the last frame
	// and any other error if a frame could not be read in full.
	Next(dst *types.Frame) error
	Close() error
}

// FrameEncoder writes frames in the order given
type FrameEncoder interface {
	WriteFrame(frame *types.Frame) error
	// Close flushes and finalizes the output file
	Close() error
	// Abort stops encoding and removes any partial output
	Abort()
}
