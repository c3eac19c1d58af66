package trace

import (
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

// RecordFlags are per-record state bits.
type RecordFlags uint32

const (
	// RecordOverflow marks a record past the trace's record budget. Its
	// counts reach the parent but the record is not linked into the tree.
	RecordOverflow RecordFlags = 0x01
	// RecordTraceBegin marks a record carrying a marker.
	RecordTraceBegin RecordFlags = 0x02
	// RecordExceptionPass marks a record whose exception was thrown by a
	// child and passed through unchanged.
	RecordExceptionPass RecordFlags = 0x04
	// RecordExceptionWrap marks a record whose exception wraps the child's.
	RecordExceptionWrap RecordFlags = 0x08
	// RecordDroppedParent marks a child that replaced its elided interim
	// parent.
	RecordDroppedParent RecordFlags = 0x10
)

// Has reports whether all bits of f are set.
func (r RecordFlags) Has(f RecordFlags) bool { return r&f == f }

// MarkerFlags are per-trace state bits.
type MarkerFlags uint32

const (
	MarkerOverflow    MarkerFlags = 0x01
	MarkerSubmitTrace MarkerFlags = 0x02
	MarkerAllMethods  MarkerFlags = 0x04
	MarkerDropInterim MarkerFlags = 0x08
	MarkerTraceCalls  MarkerFlags = 0x10
	MarkerDropTrace   MarkerFlags = 0x20
	MarkerErrorMark   MarkerFlags = 0x1000

	// inherited by nested markers from their parent
	markerInherited = MarkerAllMethods | MarkerTraceCalls | MarkerDropInterim
)

// Has reports whether all bits of f are set.
func (m MarkerFlags) Has(f MarkerFlags) bool { return m&f == f }

// StackFrame is one line of an exception stack trace.
type StackFrame struct {
	ClassID  int
	MethodID int
	FileID   int
	Line     int
}

// Exception is a captured error with its stack and cause chain. All names
// are symbol IDs.
type Exception struct {
	ClassID int
	Message string
	Stack   []StackFrame
	Cause   *Exception
}

// Marker is attached to the record that begins a trace.
type Marker struct {
	TraceType   int
	Clock       int64
	MinimumTime int64
	Flags       MarkerFlags
	TraceID     id.TraceID
	SpanID      uint64
	ParentID    uint64

	parent *Marker
}

// Begin returns the marker fields as they travel through the event stream.
func (m *Marker) Begin() Begin {
	return Begin{
		TraceType: m.TraceType,
		Clock:     m.Clock,
		TraceID:   m.TraceID,
		SpanID:    m.SpanID,
		ParentID:  m.ParentID,
		Flags:     m.Flags,
	}
}

// Record is one captured method invocation. Children are exclusively owned.
type Record struct {
	ClassID     int
	MethodID    int
	SignatureID int

	// Start is the entry timestamp and Time the duration, both in ns.
	Start int64
	Time  int64

	Calls  int64
	Errors int64
	Flags  RecordFlags

	Attrs     []Attr
	Exception *Exception
	Marker    *Marker
	Children  []*Record

	// thrown survives pass-through elision of Exception
	thrown *Exception
}

// InUse reports whether the record holds a live invocation.
func (r *Record) InUse() bool { return r.ClassID != 0 }

// Attr returns the value of attribute id.
func (r *Record) Attr(id int) (Value, bool) {
	for _, a := range r.Attrs {
		if a.ID == id {
			return a.Value, true
		}
	}
	return Value{}, false
}

// Size returns the number of records in the subtree rooted at r.
func (r *Record) Size() int {
	n := 1
	for _, c := range r.Children {
		n += c.Size()
	}
	return n
}

// Traverse replays the subtree as handler events in pre-order: enter, begin,
// attributes, exception, children, stats, return.
func (r *Record) Traverse(h Handler) {
	h.TraceEnter(r.ClassID, r.MethodID, r.SignatureID, r.Start)
	if r.Marker != nil {
		h.TraceBegin(r.Marker.Begin())
	}
	for _, a := range r.Attrs {
		h.NewAttr(a.ID, a.Value)
	}
	if r.Exception != nil {
		h.TraceError(r.Exception)
	}
	for _, c := range r.Children {
		c.Traverse(h)
	}
	h.TraceStats(r.Calls, r.Errors, r.Flags)
	h.TraceReturn(r.Start + r.Time)
}

// detach copies the record so the capture thread can reuse its slot.
func (r *Record) detach() *Record {
	cp := *r
	cp.Attrs, cp.Children = nil, nil
	if len(r.Attrs) > 0 {
		cp.Attrs = append([]Attr(nil), r.Attrs...)
	}
	if len(r.Children) > 0 {
		cp.Children = append([]*Record(nil), r.Children...)
	}
	if r.Marker != nil {
		m := *r.Marker
		m.parent = nil
		cp.Marker = &m
	}
	return &cp
}

func (r *Record) clean() {
	for i := range r.Children {
		r.Children[i] = nil
	}
	*r = Record{Attrs: r.Attrs[:0], Children: r.Children[:0]}
}
