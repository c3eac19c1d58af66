package ws

import (
	"strings"

	"github.com/GriffinCanCode/tracepipe/internal/store"
)

// ClientMessage is sent by feed clients
type ClientMessage struct {
	Type   string  `json:"type"`
	Filter *Filter `json:"filter,omitempty"`
}

// ServerMessage is pushed to feed clients
type ServerMessage struct {
	Type      string       `json:"type"`
	Message   string       `json:"message,omitempty"`
	Chunk     *store.Chunk `json:"chunk,omitempty"`
	Filter    *Filter      `json:"filter,omitempty"`
	Timestamp int64        `json:"timestamp"`
}

// Filter selects which chunks a client receives. The zero value passes
// everything.
type Filter struct {
	ErrorsOnly bool   `json:"errors_only,omitempty"`
	TraceType  string `json:"trace_type,omitempty"`
	Class      string `json:"class,omitempty"`
	// MinDuration is in nanoseconds
	MinDuration int64 `json:"min_duration,omitempty"`
}

// Match reports whether c passes the filter
func (f *Filter) Match(c *store.Chunk) bool {
	if f == nil {
		return true
	}
	if f.ErrorsOnly && !c.HasError() {
		return false
	}
	if f.TraceType != "" && !strings.EqualFold(f.TraceType, c.TraceType) {
		return false
	}
	if f.Class != "" && !strings.Contains(c.Class, f.Class) {
		return false
	}
	return c.Duration >= f.MinDuration
}
