package trace

import (
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// Begin carries the fields of a trace marker through an event stream.
type Begin struct {
	TraceType int
	Clock     int64
	TraceID   id.TraceID
	SpanID    uint64
	ParentID  uint64
	Flags     MarkerFlags
}

// Handler receives capture-side events, either live from instrumentation or
// replayed from a finished record tree.
type Handler interface {
	TraceEnter(classID, methodID, signatureID int, ts int64)
	TraceBegin(b Begin)
	NewAttr(attrID int, v Value)
	TraceError(ex *Exception)
	TraceStats(calls, errors int64, flags RecordFlags)
	TraceReturn(ts int64)
}

// MethodDef is an interned (class, method, signature) triple.
type MethodDef struct {
	ClassID     int
	MethodID    int
	SignatureID int
}

// Processor receives wire-level events in stream order. It is implemented by
// the codec writer and by every consumer of a decoded stream.
type Processor interface {
	DefineSymbol(id int, name string) error
	DefineMethod(mid int, def MethodDef) error
	TraceStart(tstart int64, mid int) error
	TraceBegin(b Begin) error
	TraceAttr(attrID int, v Value) error
	Exception(ex *Exception) error
	TraceEnd(tstop, calls, errors int64, flags RecordFlags) error
}

// Sink accepts finished traces. Submit must not block the calling thread and
// reports whether the record was accepted.
type Sink interface {
	Submit(rec *Record) bool
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(rec *Record) bool

// Submit calls f(rec).
func (f SinkFunc) Submit(rec *Record) bool { return f(rec) }
