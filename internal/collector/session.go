package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/store"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

var (
	// ErrUnknownSession is returned for a session ID that was never
	// registered or has been swept.
	ErrUnknownSession = errors.New("unknown session")
	// ErrUnauthorized is returned by Register for a wrong auth key.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrResend asks the agent to resend the message with symbol
	// definitions, after it reset its enricher.
	ErrResend = errors.New("unknown symbols, resend with definitions")
	// ErrProtocol reports a message of the wrong kind, such as trace
	// records in agent data.
	ErrProtocol = errors.New("protocol violation")
)

// AgentSession is the collector state of one agent connection. Its registry
// uses the agent's numbering. Calls on one session are serialized.
type AgentSession struct {
	ID      id.SessionID
	AgentID string
	Created time.Time

	mu           sync.Mutex
	lastActivity time.Time

	symbols     *trace.SymbolRegistry
	translator  *translator
	store       store.TraceChunkStore
	compression store.Compression
	log         *zap.Logger
}

func newAgentSession(sid id.SessionID, agentID string, now time.Time, global *trace.SymbolRegistry,
	st store.TraceChunkStore, comp store.Compression, log *zap.Logger) *AgentSession {
	symbols := trace.NewSymbolRegistry()
	return &AgentSession{
		ID:           sid,
		AgentID:      agentID,
		Created:      now,
		lastActivity: now,
		symbols:      symbols,
		translator:   newTranslator(symbols, global),
		store:        st,
		compression:  comp,
		log:          log.With(zap.String("session", string(sid)), zap.String("agent", agentID)),
	}
}

// LastActivity returns the time of the last message handled.
func (s *AgentSession) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Symbols returns the number of symbols and methods the agent has defined.
func (s *AgentSession) Symbols() (int, int) {
	return s.symbols.Size()
}

func (s *AgentSession) touch(now time.Time) {
	if now.After(s.lastActivity) {
		s.lastActivity = now
	}
}

// definitions accepts symbol and method definitions only.
type definitions struct {
	registry *trace.SymbolRegistry
}

func (d definitions) DefineSymbol(sid int, name string) error {
	d.registry.PutSymbol(sid, name)
	return nil
}

func (d definitions) DefineMethod(mid int, def trace.MethodDef) error {
	d.registry.PutMethod(mid, def)
	return nil
}

func (definitions) TraceStart(int64, int) error {
	return fmt.Errorf("%w: trace record in agent data", ErrProtocol)
}

func (definitions) TraceBegin(trace.Begin) error {
	return fmt.Errorf("%w: trace begin in agent data", ErrProtocol)
}

func (definitions) TraceAttr(int, trace.Value) error {
	return fmt.Errorf("%w: attribute in agent data", ErrProtocol)
}

func (definitions) Exception(*trace.Exception) error {
	return fmt.Errorf("%w: exception in agent data", ErrProtocol)
}

func (definitions) TraceEnd(int64, int64, int64, trace.RecordFlags) error {
	return fmt.Errorf("%w: trace record in agent data", ErrProtocol)
}

// HandleAgentData loads symbol definitions. With reset the session forgets
// every definition it holds first.
func (s *AgentSession) HandleAgentData(now time.Time, data []byte, reset bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(now)

	if reset {
		s.symbols.Reset()
		s.translator.reset()
	}
	return codec.Scan(data, definitions{registry: s.symbols})
}

// HandleTraceData indexes one trace data message and stores the resulting
// chunks. Definitions inside the message are loaded first, so a message
// that references a symbol defined later in the same message is accepted.
func (s *AgentSession) HandleTraceData(ctx context.Context, now time.Time, traceID id.TraceID, chunkNum int, data []byte) ([]*store.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch(now)

	if err := codec.ScanSymbols(data, definitions{registry: s.symbols}); err != nil {
		return nil, err
	}

	indexer := NewMetadataIndexer(s.translator.global, traceID, chunkNum, s.compression)
	s.translator.out = indexer
	if err := codec.Scan(data, s.translator); err != nil {
		return nil, err
	}

	chunks := indexer.Chunks()
	if len(chunks) == 0 {
		s.log.Debug("trace data without trace begin", zap.Stringer("trace_id", traceID))
		return nil, nil
	}
	if err := s.store.AddAll(ctx, chunks); err != nil {
		return nil, fmt.Errorf("store chunks: %w", err)
	}
	return chunks, nil
}
