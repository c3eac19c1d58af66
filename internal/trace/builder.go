package trace

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// Tracer creates builders sharing one configuration, symbol registry and
// sink. It is safe for concurrent use; builders are not.
type Tracer struct {
	cfg     *TracerConfig
	symbols *SymbolRegistry
	sink    Sink
	log     *zap.Logger

	newTraceID func() id.TraceID
	newSpanID  func() uint64
}

// NewTracer creates a tracer. A nil cfg selects DefaultTracerConfig and a nil
// sink discards every trace.
func NewTracer(cfg *TracerConfig, symbols *SymbolRegistry, sink Sink, log *zap.Logger) *Tracer {
	if cfg == nil {
		cfg = DefaultTracerConfig()
	}
	if symbols == nil {
		symbols = NewSymbolRegistry()
	}
	if sink == nil {
		sink = SinkFunc(func(*Record) bool { return false })
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracer{
		cfg:        cfg,
		symbols:    symbols,
		sink:       sink,
		log:        log,
		newTraceID: id.NewTraceID,
		newSpanID:  id.NewSpanID,
	}
}

// Config returns the tracer configuration.
func (t *Tracer) Config() *TracerConfig { return t.cfg }

// Symbols returns the registry used for interning.
func (t *Tracer) Symbols() *SymbolRegistry { return t.symbols }

// NewBuilder returns a builder for one goroutine.
func (t *Tracer) NewBuilder() *Builder {
	return &Builder{
		tracer: t,
		cfg:    t.cfg,
		stack:  make([]Record, 1, 16),
	}
}

// Builder turns enter/return/error events of a single goroutine into pruned
// record trees and submits finished traces to the tracer's sink. Misuse is
// logged and absorbed; no method panics or returns an error.
type Builder struct {
	tracer *Tracer
	cfg    *TracerConfig

	// stack[0] always exists; the parent of stack[i] is stack[i-1]
	stack []Record
	top   int
	mtop  *Marker

	numRecords int
	disabled   bool
	misuses    int

	lastErr error
	lastEx  *Exception
}

// Disable stops recording; events are ignored until Enable.
func (b *Builder) Disable() { b.disabled = true }

// Enable resumes recording after Disable.
func (b *Builder) Enable() { b.disabled = false }

// Depth returns the current stack depth including unused frames.
func (b *Builder) Depth() int { return b.top + 1 }

// InTrace reports whether a marker is active.
func (b *Builder) InTrace() bool { return b.mtop != nil }

// TraceEnter records entry into a method.
func (b *Builder) TraceEnter(classID, methodID, signatureID int, ts int64) {
	if b.disabled {
		return
	}

	cur := &b.stack[b.top]
	switch {
	case cur.InUse() && b.mtop != nil:
		cur = b.push()
		b.numRecords++
	case cur.InUse():
		// nothing is traced, so the frame is recycled in place
		cur.clean()
		b.numRecords = 0
	default:
		b.numRecords++
	}

	cur.ClassID = classID
	cur.MethodID = methodID
	cur.SignatureID = signatureID
	cur.Start = ts
	cur.Calls++

	if b.numRecords > b.cfg.maxRecords {
		cur.Flags |= RecordOverflow
	}

	if b.mtop != nil && b.mtop.Flags.Has(MarkerTraceCalls) {
		b.tracer.log.Debug("trace enter",
			zap.String("method", b.describe(cur)),
			zap.Int("depth", b.top))
	}
}

// TraceBegin starts a trace on the current frame.
func (b *Builder) TraceBegin(traceType int, clock int64, flags MarkerFlags) {
	if b.disabled {
		return
	}

	cur := b.current()
	if cur == nil {
		b.misuse("trace begin on a frame that is not traced", zap.Int("trace_type", traceType))
		return
	}
	if cur.Marker != nil {
		b.misuse("trace marker already set on current frame",
			zap.Int("trace_type", traceType),
			zap.Int("existing_type", cur.Marker.TraceType))
		return
	}

	m := &Marker{
		TraceType: traceType,
		Clock:     clock,
		SpanID:    b.tracer.newSpanID(),
		parent:    b.mtop,
	}
	if p := b.mtop; p != nil {
		m.MinimumTime = p.MinimumTime
		m.Flags = p.Flags & markerInherited
		m.TraceID = p.TraceID
		m.ParentID = p.SpanID
	} else {
		m.MinimumTime = b.cfg.minTraceTime
		m.Flags = b.cfg.markerFlags
		m.TraceID = b.tracer.newTraceID()
	}
	m.Flags |= flags

	cur.Marker = m
	cur.Flags |= RecordTraceBegin
	b.mtop = m
}

// JoinTrace makes the innermost trace continue a trace started elsewhere.
func (b *Builder) JoinTrace(traceID id.TraceID, parentSpan uint64) {
	if b.mtop == nil || traceID.IsZero() {
		return
	}
	b.mtop.TraceID = traceID
	b.mtop.ParentID = parentSpan
}

// Span returns the trace and span of the innermost active trace.
func (b *Builder) Span() (id.TraceID, uint64, bool) {
	if b.mtop == nil {
		return id.TraceID{}, 0, false
	}
	return b.mtop.TraceID, b.mtop.SpanID, true
}

// TraceReturn records a normal return from the current method.
func (b *Builder) TraceReturn(ts int64) {
	if b.disabled {
		return
	}
	cur := b.current()
	if cur == nil {
		b.unmatched("trace return without an active frame")
		return
	}
	cur.Time = ts - cur.Start
	b.pop()
}

// TraceError records a return by error from the current method. Passing the
// same *Exception through several frames marks the outer ones as pass-through.
func (b *Builder) TraceError(ex *Exception, ts int64) {
	if b.disabled {
		return
	}
	cur := b.current()
	if cur == nil {
		b.unmatched("trace error without an active frame")
		return
	}
	cur.Exception = ex
	cur.thrown = ex
	cur.Time = ts - cur.Start
	cur.Errors++
	b.pop()
}

// TraceErr is TraceError for a Go error. The same error value returned by
// nested frames maps to the same exception, and an error wrapping the one
// returned by a child keeps the child's exception as its cause.
func (b *Builder) TraceErr(err error, ts int64) {
	if b.disabled {
		return
	}
	b.TraceError(b.exception(err), ts)
}

func (b *Builder) exception(err error) *Exception {
	if err == nil {
		return nil
	}
	if sameError(err, b.lastErr) {
		return b.lastEx
	}

	symbols := b.tracer.symbols
	ex := &Exception{
		ClassID: symbols.SymbolID(typeName(err)),
		Message: err.Error(),
		Stack:   CaptureStack(symbols, 2),
	}
	if cause := unwrap(err); cause != nil {
		if sameError(cause, b.lastErr) {
			ex.Cause = b.lastEx
		} else {
			ex.Cause = NewException(symbols, cause)
		}
	}
	b.lastErr, b.lastEx = err, ex
	return ex
}

// NewAttr sets an attribute on the current frame.
func (b *Builder) NewAttr(attrID int, v Value) {
	if b.disabled {
		return
	}
	cur := b.current()
	if cur == nil {
		b.misuse("attribute set outside of a traced frame", zap.Int("attr", attrID))
		return
	}
	cur.Attrs = setAttr(cur.Attrs, attrID, v)
}

// MarkTraceFlags sets flags on the innermost trace, if any.
func (b *Builder) MarkTraceFlags(flags MarkerFlags) {
	if b.mtop != nil {
		b.mtop.Flags |= flags
	}
}

// SetMinimumTime overrides the minimum duration of the innermost trace.
func (b *Builder) SetMinimumTime(ns int64) {
	if b.mtop != nil {
		b.mtop.MinimumTime = ns
	}
}

// current walks up past unused frames and returns the innermost live one.
func (b *Builder) current() *Record {
	for b.top > 0 && !b.stack[b.top].InUse() {
		b.top--
	}
	if cur := &b.stack[b.top]; cur.InUse() {
		return cur
	}
	return nil
}

func (b *Builder) push() *Record {
	b.top++
	if b.top == len(b.stack) {
		b.stack = append(b.stack, Record{})
	} else {
		b.stack[b.top].clean()
	}
	return &b.stack[b.top]
}

func (b *Builder) pop() {
	rec := &b.stack[b.top]
	var parent *Record
	if b.top > 0 {
		parent = &b.stack[b.top-1]
	}

	b.popException(rec)

	clean := true
	submitted := false

	if m := rec.Marker; m != nil {
		if m != b.mtop {
			b.misuse("trace marker stack mismatch",
				zap.Int("trace_type", m.TraceType),
				zap.String("method", b.describe(rec)))
		}
		b.mtop = m.parent

		if rec.Exception != nil || rec.Flags.Has(RecordExceptionPass) {
			m.Flags |= MarkerErrorMark
		}
		if m.parent != nil {
			m.parent.Flags |= m.Flags & MarkerOverflow
		}

		keep := !m.Flags.Has(MarkerDropTrace) &&
			(rec.Time >= m.MinimumTime || m.Flags.Has(MarkerSubmitTrace))
		if keep {
			b.tracer.sink.Submit(rec.detach())
			submitted = true
			clean = false
		} else {
			// a dropped nested trace stays in the tree as a plain frame
			rec.Marker = nil
			rec.Flags &^= RecordTraceBegin
		}
	}

	if parent != nil {
		if !submitted && b.retain(rec) {
			if !rec.Flags.Has(RecordOverflow) {
				b.reparent(rec, parent)
			} else if b.mtop != nil {
				b.mtop.Flags |= MarkerOverflow
			}
			clean = false
		}
		parent.Calls += rec.Calls
		parent.Errors += rec.Errors
	}

	if clean {
		rec.clean()
		b.numRecords--
	} else if parent != nil {
		rec.clean()
		b.top--
	} else {
		rec.clean()
		b.numRecords = 0
	}

	if b.mtop == nil {
		b.numRecords = 0
	}
}

func (b *Builder) retain(rec *Record) bool {
	if rec.Time > b.cfg.minMethodTime || rec.Errors > 0 {
		return true
	}
	return b.mtop != nil && b.mtop.Flags.Has(MarkerAllMethods)
}

// reparent links rec under parent. With DropInterim, a frame whose only
// child accounts for nearly all of its time is replaced by that child.
func (b *Builder) reparent(rec, parent *Record) {
	if b.mtop != nil && b.mtop.Flags.Has(MarkerDropInterim) && safeInterim(rec) &&
		rec.Time-rec.Children[0].Time < b.cfg.minMethodTime {
		child := rec.Children[0]
		child.Calls = rec.Calls
		child.Errors = rec.Errors
		child.Flags |= RecordDroppedParent
		b.numRecords--
		parent.Children = append(parent.Children, child)
		return
	}
	parent.Children = append(parent.Children, rec.detach())
}

func safeInterim(rec *Record) bool {
	return len(rec.Children) == 1 && len(rec.Attrs) == 0 &&
		rec.Exception == nil && rec.Marker == nil &&
		rec.Flags&(RecordExceptionPass|RecordExceptionWrap) == 0
}

// popException drops an exception that a child already carries.
func (b *Builder) popException(rec *Record) {
	if rec.Exception == nil || len(rec.Children) == 0 {
		return
	}
	cex := rec.Children[len(rec.Children)-1].thrown
	switch {
	case cex == nil:
	case cex == rec.Exception:
		rec.Exception = nil
		rec.Flags |= RecordExceptionPass
	case cex == rec.Exception.Cause:
		rec.Flags |= RecordExceptionWrap
	}
}

func (b *Builder) describe(rec *Record) string {
	s := b.tracer.symbols
	return s.SymbolName(rec.ClassID) + "." + s.SymbolName(rec.MethodID)
}

// unmatched handles a return whose frame is gone. Outside of a trace that is
// the outer frame of an untraced call recycled in place by a nested enter.
func (b *Builder) unmatched(msg string) {
	if b.mtop != nil {
		b.misuse(msg)
	}
}

func (b *Builder) misuse(msg string, fields ...zap.Field) {
	b.misuses++
	if b.misuses <= 10 || b.misuses%1000 == 0 {
		b.tracer.log.Warn(msg, append(fields, zap.Int("misuses", b.misuses))...)
	}
}
