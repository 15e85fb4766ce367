package types

import "fmt"

// Range selects the detector operating range
type Range string

const (
	RangeShort Range = "short" // faces close to the camera, roughly within 2m
	RangeFull  Range = "full"  // small and distant faces as well
)

const (
	DefaultConfidenceThreshold = 0.5
	DefaultBlurStrength        = 15
	DefaultPadding             = 20
)

// Config is the per-run processing configuration. It is passed by value into
// every pipeline call and never read from shared state.
type Config struct {
	ConfidenceThreshold float64 // (0, 1]. Detections scoring below this are dropped.
	BlurStrength        int     // >= 1. Controls the blur kernel size.
	Range               Range
	Padding             int // Pixels added on every side of a detection before clamping
	Workers             int // Parallel detection workers for video. 0 means 1.
}

// DefaultConfig returns the configuration used when the caller doesn't override anything
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: DefaultConfidenceThreshold,
		BlurStrength:        DefaultBlurStrength,
		Range:               RangeShort,
		Padding:             DefaultPadding,
		Workers:             1,
	}
}

func (c Config) Validate() error {
	// Written this way round so that NaN is rejected too
	if !(c.ConfidenceThreshold > 0 && c.ConfidenceThreshold <= 1.0) {
		return &InvalidConfigError{Field: "confidenceThreshold", Reason: fmt.Sprintf("must be in (0, 1], got %v", c.ConfidenceThreshold)}
	}
	if c.BlurStrength < 1 {
		return &InvalidConfigError{Field: "blurStrength", Reason: fmt.Sprintf("must be >= 1, got %d", c.BlurStrength)}
	}
	if c.Padding < 0 {
		return &InvalidConfigError{Field: "padding", Reason: fmt.Sprintf("must be >= 0, got %d", c.Padding)}
	}
	if c.Workers < 0 {
		return &InvalidConfigError{Field: "workers", Reason: fmt.Sprintf("must be >= 0, got %d", c.Workers)}
	}
	switch c.Range {
	case RangeShort, RangeFull, "":
	default:
		return &InvalidConfigError{Field: "range", Reason: fmt.Sprintf("must be '%s' or '%s', got '%s'", RangeShort, RangeFull, c.Range)}
	}
	return nil
}

// WorkerCount returns the number of detection workers to spawn
func (c Config) WorkerCount() int {
	if c.Workers < 1 {
		return 1
	}
	return c.Workers
}
