package types

import (
	"errors"
	"fmt"
)

// ErrCancelled matches any CancelledError via errors.Is
var ErrCancelled = errors.New("processing cancelled")

// InvalidFrameError is returned when a malformed or empty frame reaches the detector
type InvalidFrameError struct {
	Reason string
}

func (e *InvalidFrameError) Error() string {
	return "invalid frame: " + e.Reason
}

// OutOfBoundsError is returned when a box exceeds the frame at redaction time
type OutOfBoundsError struct {
	Box    BoundingBox
	Width  int
	Height int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("box %+v is outside the %dx%d frame", e.Box, e.Width, e.Height)
}

// DecodeError is returned when the input bytes cannot be parsed as the declared kind
type DecodeError struct {
	Kind Kind
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("cannot decode %s: %v", e.Kind, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FrameDecodeError is returned when one video frame is unreadable mid-stream
type FrameDecodeError struct {
	Index int
	Err   error
}

func (e *FrameDecodeError) Error() string {
	return fmt.Sprintf("failed to decode frame %d: %v", e.Index, e.Err)
}

func (e *FrameDecodeError) Unwrap() error { return e.Err }

// UnsupportedKindError is returned for kinds outside image and video
type UnsupportedKindError struct {
	Kind Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("unsupported media kind '%s'", e.Kind)
}

// CancelledError is returned when the caller's context ends during processing.
// Frame is the number of frames fully written before the run stopped.
type CancelledError struct {
	Frame int
	Err   error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("processing cancelled after %d frames: %v", e.Frame, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

func (e *CancelledError) Is(target error) bool { return target == ErrCancelled }

// EncodeError is returned when the output could not be written
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("failed to encode output: %v", e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// InvalidConfigError is returned by Config.Validate
type InvalidConfigError struct {
	Field  string
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// DetectError is returned when the detection backend itself fails
type DetectError struct {
	Err error
}

func (e *DetectError) Error() string {
	return fmt.Sprintf("face detection failed: %v", e.Err)
}

func (e *DetectError) Unwrap() error { return e.Err }

// StagingError is returned when temporary files for a run cannot be created or read
type StagingError struct {
	Op  string
	Err error
}

func (e *StagingError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *StagingError) Unwrap() error { return e.Err }
