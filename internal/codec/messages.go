package codec

import (
	"fmt"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// RegisterMsg opens a session on a framed connection.
type RegisterMsg struct {
	_       struct{} `cbor:",toarray"`
	AgentID string
	AuthKey string
}

// AgentDataMsg carries symbol definitions only.
type AgentDataMsg struct {
	_     struct{} `cbor:",toarray"`
	Reset bool
	Data  []byte
}

// TraceDataMsg carries one chunk of trace data.
type TraceDataMsg struct {
	_        struct{} `cbor:",toarray"`
	TraceHi  uint64
	TraceLo  uint64
	ChunkNum int
	Data     []byte
}

// TraceID returns the trace identifier of the chunk.
func (m *TraceDataMsg) TraceID() id.TraceID {
	return id.TraceID{Hi: m.TraceHi, Lo: m.TraceLo}
}

// AckMsg acknowledges a message. SessionID is set in reply to Register.
type AckMsg struct {
	_         struct{} `cbor:",toarray"`
	SessionID string
}

// ErrorMsg reports a rejected message. Codes follow HTTP status semantics.
type ErrorMsg struct {
	_       struct{} `cbor:",toarray"`
	Code    int
	Message string
}

func (m *ErrorMsg) Error() string {
	return fmt.Sprintf("collector error %d: %s", m.Code, m.Message)
}

// Marshal encodes a framed message body.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes a framed message body.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}
