// Package id provides identifier generation for the collector and agents.
//
// Two families of identifiers are used:
//   - Prefixed ULIDs for collector-side entities (sessions, requests). They are
//     sortable by creation time, which keeps session listings and logs ordered.
//   - 128-bit trace IDs and 64-bit span IDs for captured traces. These travel
//     on the wire as hex strings and as raw words inside chunk metadata.
package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// SessionID identifies one agent session on the collector
type SessionID string

// RequestID identifies an API request
type RequestID string

// AgentID identifies an agent process across restarts
type AgentID string

const (
	SessionPrefix = "sess"
	RequestPrefix = "req"
)

// ErrInvalidTraceID is returned when a trace ID string cannot be parsed
var ErrInvalidTraceID = errors.New("invalid trace id")

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the shared generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand
func NewGenerator() *Generator {
	return &Generator{entropy: ulid.Monotonic(rand.Reader, 0)}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewSessionID generates a new session ID
func NewSessionID() SessionID {
	return SessionID(Default().GenerateWithPrefix(SessionPrefix))
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewAgentID generates a random agent UUID
func NewAgentID() AgentID {
	return AgentID(uuid.NewString())
}

func (id SessionID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id AgentID) String() string   { return string(id) }

// Created returns the creation time encoded in a prefixed ULID.
func Created(prefixed string) (time.Time, error) {
	raw := prefixed
	if i := strings.LastIndexByte(prefixed, '_'); i >= 0 {
		raw = prefixed[i+1:]
	}
	parsed, err := ulid.Parse(raw)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}

// TraceID is a 128-bit trace identifier split into two words
type TraceID struct {
	Hi uint64
	Lo uint64
}

// NewTraceID generates a random trace ID
func NewTraceID() TraceID {
	u := uuid.New()
	return TraceID{
		Hi: binary.BigEndian.Uint64(u[:8]),
		Lo: binary.BigEndian.Uint64(u[8:]),
	}
}

// NewSpanID generates a random non-zero span ID
func NewSpanID() uint64 {
	for {
		u := uuid.New()
		if v := binary.BigEndian.Uint64(u[8:]); v != 0 {
			return v
		}
	}
}

// IsZero reports whether the trace ID is unset
func (t TraceID) IsZero() bool {
	return t.Hi == 0 && t.Lo == 0
}

// String renders the trace ID as 32 lowercase hex characters
func (t TraceID) String() string {
	var b [16]byte
	binary.BigEndian.PutUint64(b[:8], t.Hi)
	binary.BigEndian.PutUint64(b[8:], t.Lo)
	return hex.EncodeToString(b[:])
}

// ParseTraceID parses the 32-character hex form produced by TraceID.String
func ParseTraceID(s string) (TraceID, error) {
	if len(s) != 32 {
		return TraceID{}, fmt.Errorf("%w: %q", ErrInvalidTraceID, s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return TraceID{}, fmt.Errorf("%w: %v", ErrInvalidTraceID, err)
	}
	return TraceID{
		Hi: binary.BigEndian.Uint64(b[:8]),
		Lo: binary.BigEndian.Uint64(b[8:]),
	}, nil
}

// MarshalText implements encoding.TextMarshaler
func (t TraceID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (t *TraceID) UnmarshalText(b []byte) error {
	v, err := ParseTraceID(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// SpanString renders a span ID as 16 hex characters
func SpanString(span uint64) string {
	return fmt.Sprintf("%016x", span)
}

// ParseSpan parses the 16-character hex form produced by SpanString
func ParseSpan(s string) (uint64, error) {
	if len(s) != 16 {
		return 0, fmt.Errorf("invalid span id %q", s)
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid span id %q: %w", s, err)
	}
	return binary.BigEndian.Uint64(b), nil
}
