package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// Propagation headers
const (
	HeaderTraceID = "X-Trace-ID"
	HeaderSpanID  = "X-Span-ID"
)

// Tracer instruments Go code with a trace.Tracer. Each request or job gets
// its own builder, carried in the context.
type Tracer struct {
	tracer  *trace.Tracer
	symbols *trace.SymbolRegistry
	logger  *zap.Logger
	base    time.Time

	builders sync.Pool
}

// New creates a tracer instrumenting through t
func New(t *trace.Tracer, logger *zap.Logger) *Tracer {
	if logger == nil {
		logger = zap.NewNop()
	}
	tr := &Tracer{
		tracer:  t,
		symbols: t.Symbols(),
		logger:  logger,
		base:    time.Now(),
	}
	tr.builders.New = func() any { return t.NewBuilder() }
	return tr
}

// Symbols returns the registry names are interned into
func (t *Tracer) Symbols() *trace.SymbolRegistry {
	return t.symbols
}

func (t *Tracer) now() int64 {
	return time.Since(t.base).Nanoseconds()
}

// Span is one open frame. It must be finished on the goroutine that
// started it.
type Span struct {
	tracer   *Tracer
	builder  *trace.Builder
	root     bool
	finished bool
}

// StartSpan enters a method frame. Outside of a traced context a fresh
// builder is taken and the frame is only kept if a trace begins on it or
// below it.
func (t *Tracer) StartSpan(ctx context.Context, class, method string) (*Span, context.Context) {
	b, ok := builderFrom(ctx)
	if !ok {
		b = t.builders.Get().(*trace.Builder)
		ctx = context.WithValue(ctx, builderKey, b)
	}
	b.TraceEnter(t.symbols.SymbolID(class), t.symbols.SymbolID(method), 0, t.now())
	return &Span{tracer: t, builder: b, root: !ok}, ctx
}

// StartTrace enters a frame and begins a trace of traceType on it. A trace
// context found in headers is continued.
func (t *Tracer) StartTrace(ctx context.Context, traceType, class, method string, headers map[string]string) (*Span, context.Context) {
	span, ctx := t.StartSpan(ctx, class, method)
	span.builder.TraceBegin(t.symbols.SymbolID(traceType), time.Now().UnixMilli(), 0)
	if traceID, parent := ExtractTraceContext(headers); !traceID.IsZero() {
		span.builder.JoinTrace(traceID, parent)
	}
	return span, ctx
}

// SetTag sets an attribute on the span's frame
func (s *Span) SetTag(key string, value any) {
	s.builder.NewAttr(s.tracer.symbols.SymbolID(key), trace.ValueOf(value))
}

// IDs returns the trace and span the frame belongs to
func (s *Span) IDs() (id.TraceID, uint64, bool) {
	return s.builder.Span()
}

// Finish leaves the frame, by error when err is not nil
func (s *Span) Finish(err error) {
	if s.finished {
		return
	}
	s.finished = true

	ts := s.tracer.now()
	if err != nil {
		s.builder.TraceErr(err, ts)
	} else {
		s.builder.TraceReturn(ts)
	}
	if s.root && !s.builder.InTrace() && s.builder.Depth() == 1 {
		s.tracer.builders.Put(s.builder)
	}
}

// ExtractTraceContext extracts trace context from headers
func ExtractTraceContext(headers map[string]string) (id.TraceID, uint64) {
	traceID, err := id.ParseTraceID(headers[HeaderTraceID])
	if err != nil {
		return id.TraceID{}, 0
	}
	spanID, _ := id.ParseSpan(headers[HeaderSpanID])
	return traceID, spanID
}

// InjectTraceContext injects the active trace of ctx into headers
func InjectTraceContext(ctx context.Context, headers map[string]string) {
	b, ok := builderFrom(ctx)
	if !ok {
		return
	}
	if traceID, spanID, ok := b.Span(); ok {
		headers[HeaderTraceID] = traceID.String()
		headers[HeaderSpanID] = id.SpanString(spanID)
	}
}

type contextKey string

const builderKey contextKey = "trace_builder"

func builderFrom(ctx context.Context) (*trace.Builder, bool) {
	b, ok := ctx.Value(builderKey).(*trace.Builder)
	return b, ok
}

// FormatTrace returns a formatted trace string for logging
func FormatTrace(traceID id.TraceID, spanID uint64) string {
	return fmt.Sprintf("[trace:%s span:%s]", traceID, id.SpanString(spanID))
}
