package trace

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig is returned by NewTracerConfig for out-of-range options.
var ErrInvalidConfig = errors.New("invalid tracer config")

// TracerOptions are the inputs to NewTracerConfig.
type TracerOptions struct {
	// MinTraceTime is the default minimum duration for a trace to be
	// submitted. Nested markers inherit their parent's value instead.
	MinTraceTime time.Duration
	// MinMethodTime is the minimum duration for a frame to stay in the tree.
	MinMethodTime time.Duration
	// MaxTraceRecords bounds the records kept per trace.
	MaxTraceRecords int
	// DefaultMarkerFlags are set on every new outermost marker.
	DefaultMarkerFlags MarkerFlags
}

// TracerConfig is the immutable configuration shared by the builders of a
// Tracer.
type TracerConfig struct {
	minTraceTime  int64
	minMethodTime int64
	maxRecords    int
	markerFlags   MarkerFlags
}

// NewTracerConfig validates opts and freezes them.
func NewTracerConfig(opts TracerOptions) (*TracerConfig, error) {
	if opts.MinTraceTime < 0 {
		return nil, fmt.Errorf("%w: negative minimum trace time %s", ErrInvalidConfig, opts.MinTraceTime)
	}
	if opts.MinMethodTime < 0 {
		return nil, fmt.Errorf("%w: negative minimum method time %s", ErrInvalidConfig, opts.MinMethodTime)
	}
	if opts.MaxTraceRecords <= 0 {
		return nil, fmt.Errorf("%w: max trace records must be positive, got %d", ErrInvalidConfig, opts.MaxTraceRecords)
	}
	return &TracerConfig{
		minTraceTime:  int64(opts.MinTraceTime),
		minMethodTime: int64(opts.MinMethodTime),
		maxRecords:    opts.MaxTraceRecords,
		markerFlags:   opts.DefaultMarkerFlags,
	}, nil
}

// DefaultTracerConfig returns 50ms trace time, 250us method time and 4096
// records per trace.
func DefaultTracerConfig() *TracerConfig {
	return &TracerConfig{
		minTraceTime:  int64(50 * time.Millisecond),
		minMethodTime: int64(250 * time.Microsecond),
		maxRecords:    4096,
		markerFlags:   MarkerDropInterim,
	}
}

func (c *TracerConfig) MinTraceTime() time.Duration  { return time.Duration(c.minTraceTime) }
func (c *TracerConfig) MinMethodTime() time.Duration { return time.Duration(c.minMethodTime) }
func (c *TracerConfig) MaxTraceRecords() int         { return c.maxRecords }
func (c *TracerConfig) DefaultMarkerFlags() MarkerFlags {
	return c.markerFlags
}
