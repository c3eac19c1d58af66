package collector

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/clock"
	"github.com/GriffinCanCode/tracepipe/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/store"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// Options configure a Collector.
type Options struct {
	// AuthKey is the shared secret agents present on registration. Empty
	// accepts any key.
	AuthKey        string
	SessionTimeout time.Duration
	Compression    store.Compression

	Clock   clock.Clock
	Metrics *monitoring.Metrics
	Logger  *zap.Logger
}

// Collector receives agent messages, indexes trace data into chunks and
// keeps them in a store.
type Collector struct {
	opts     Options
	symbols  *trace.SymbolRegistry
	store    store.Store
	sessions *SessionManager
	feed     *Feed
	clock    clock.Clock
	metrics  *monitoring.Metrics
	log      *zap.Logger
}

// New creates a collector writing to st.
func New(st store.Store, opts Options) *Collector {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	clk := clock.OrReal(opts.Clock)
	return &Collector{
		opts:     opts,
		symbols:  trace.NewSymbolRegistry(),
		store:    st,
		sessions: NewSessionManager(opts.SessionTimeout, clk, log),
		feed:     NewFeed(0),
		clock:    clk,
		metrics:  opts.Metrics,
		log:      log,
	}
}

// Symbols returns the global registry that stored payloads refer to.
func (c *Collector) Symbols() *trace.SymbolRegistry { return c.symbols }

// Store returns the chunk store.
func (c *Collector) Store() store.Store { return c.store }

// Sessions returns the session manager.
func (c *Collector) Sessions() *SessionManager { return c.sessions }

// Feed returns the live chunk feed.
func (c *Collector) Feed() *Feed { return c.feed }

// Register opens a session for agentID.
func (c *Collector) Register(agentID, authKey string) (id.SessionID, error) {
	if c.opts.AuthKey != "" && subtle.ConstantTimeCompare([]byte(authKey), []byte(c.opts.AuthKey)) != 1 {
		c.metrics.RecordProtocolError("unauthorized")
		return "", ErrUnauthorized
	}
	sid := id.NewSessionID()
	s := newAgentSession(sid, agentID, c.clock.Now(), c.symbols, c.store, c.opts.Compression, c.log)
	c.sessions.Add(s)
	c.metrics.SetSessionsActive(c.sessions.Count())
	c.log.Info("agent registered", zap.String("session", string(sid)), zap.String("agent", agentID))
	return sid, nil
}

func (c *Collector) session(sid id.SessionID) (*AgentSession, error) {
	s, ok := c.sessions.Get(sid)
	if !ok {
		c.metrics.RecordProtocolError("unknown_session")
		return nil, fmt.Errorf("%w: %s", ErrUnknownSession, sid)
	}
	return s, nil
}

// AgentData handles a symbol definitions message.
func (c *Collector) AgentData(sid id.SessionID, data []byte, reset bool) error {
	s, err := c.session(sid)
	if err != nil {
		return err
	}
	if err := s.HandleAgentData(c.clock.Now(), data, reset); err != nil {
		c.recordError(err)
		return err
	}
	return nil
}

// TraceData handles one trace data message and publishes the stored chunks.
func (c *Collector) TraceData(ctx context.Context, sid id.SessionID, traceID id.TraceID, chunkNum int, data []byte) ([]*store.Chunk, error) {
	s, err := c.session(sid)
	if err != nil {
		return nil, err
	}

	timer := monitoring.NewTimer(c.metrics)
	before := c.store.Stats().Evicted
	chunks, err := s.HandleTraceData(ctx, c.clock.Now(), traceID, chunkNum, data)
	if err != nil {
		c.recordError(err)
		return nil, err
	}
	timer.Stop(len(chunks))

	st := c.store.Stats()
	c.metrics.SetStoreSize(st.Chunks, st.Bytes)
	c.metrics.AddStoreEvictions(int(st.Evicted - before))
	c.feed.Publish(chunks...)
	return chunks, nil
}

func (c *Collector) recordError(err error) {
	switch {
	case errors.Is(err, ErrResend):
		c.metrics.RecordProtocolError("resend")
	case errors.Is(err, ErrProtocol):
		c.metrics.RecordProtocolError("wrong_message")
	case errors.Is(err, codec.ErrMalformed):
		c.metrics.RecordProtocolError("malformed")
	default:
		c.metrics.RecordProtocolError("internal")
	}
	c.log.Warn("agent message rejected", zap.Error(err))
}

// Tree decodes the call tree of one stored span. Chunks of the span are
// decoded in order and their roots concatenated.
func (c *Collector) Tree(ctx context.Context, traceID id.TraceID, spanID uint64) ([]*trace.Record, error) {
	chunks, err := c.store.Get(ctx, traceID, spanID)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, store.ErrNotFound
	}
	var roots []*trace.Record
	for _, ch := range chunks {
		payload, err := ch.Payload()
		if err != nil {
			return nil, err
		}
		recs, err := codec.Decode(payload, c.symbols)
		if err != nil {
			return nil, fmt.Errorf("decode chunk %d: %w", ch.ChunkNum, err)
		}
		roots = append(roots, recs...)
	}
	return roots, nil
}

// Sweep evicts idle sessions once.
func (c *Collector) Sweep() int {
	n := c.sessions.Sweep()
	c.metrics.AddSessionsEvicted(n)
	c.metrics.SetSessionsActive(c.sessions.Count())
	return n
}

// Run sweeps sessions every interval until ctx is done.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || c.opts.SessionTimeout <= 0 {
		<-ctx.Done()
		return
	}
	c.sessions.Run(ctx, interval, func(n int) {
		c.metrics.AddSessionsEvicted(n)
		c.metrics.SetSessionsActive(c.sessions.Count())
	})
}

// Unregister closes a session before it idles out.
func (c *Collector) Unregister(sid id.SessionID) bool {
	ok := c.sessions.Remove(sid)
	if ok {
		c.metrics.SetSessionsActive(c.sessions.Count())
	}
	return ok
}
