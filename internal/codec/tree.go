package codec

import (
	"fmt"

	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// TreeDecoder is a Processor that rebuilds record trees, resolving methods
// through its registry.
type TreeDecoder struct {
	Symbols *trace.SymbolRegistry

	roots []*trace.Record
	stack []*trace.Record
}

// NewTreeDecoder creates a decoder defining symbols into symbols, or into a
// fresh registry if symbols is nil.
func NewTreeDecoder(symbols *trace.SymbolRegistry) *TreeDecoder {
	if symbols == nil {
		symbols = trace.NewSymbolRegistry()
	}
	return &TreeDecoder{Symbols: symbols}
}

// Roots returns the completed top-level records.
func (d *TreeDecoder) Roots() []*trace.Record { return d.roots }

func (d *TreeDecoder) top() (*trace.Record, error) {
	if len(d.stack) == 0 {
		return nil, fmt.Errorf("%w: event outside of a record", ErrMalformed)
	}
	return d.stack[len(d.stack)-1], nil
}

func (d *TreeDecoder) DefineSymbol(id int, name string) error {
	d.Symbols.PutSymbol(id, name)
	return nil
}

func (d *TreeDecoder) DefineMethod(mid int, def trace.MethodDef) error {
	d.Symbols.PutMethod(mid, def)
	return nil
}

func (d *TreeDecoder) TraceStart(tstart int64, mid int) error {
	def, ok := d.Symbols.MethodDef(mid)
	if !ok {
		return fmt.Errorf("%w: undefined method %d", ErrMalformed, mid)
	}
	d.stack = append(d.stack, &trace.Record{
		ClassID:     def.ClassID,
		MethodID:    def.MethodID,
		SignatureID: def.SignatureID,
		Start:       tstart,
	})
	return nil
}

func (d *TreeDecoder) TraceBegin(b trace.Begin) error {
	rec, err := d.top()
	if err != nil {
		return err
	}
	rec.Marker = &trace.Marker{
		TraceType: b.TraceType,
		Clock:     b.Clock,
		Flags:     b.Flags,
		TraceID:   b.TraceID,
		SpanID:    b.SpanID,
		ParentID:  b.ParentID,
	}
	return nil
}

func (d *TreeDecoder) TraceAttr(attrID int, v trace.Value) error {
	rec, err := d.top()
	if err != nil {
		return err
	}
	rec.Attrs = append(rec.Attrs, trace.Attr{ID: attrID, Value: v})
	return nil
}

func (d *TreeDecoder) Exception(ex *trace.Exception) error {
	rec, err := d.top()
	if err != nil {
		return err
	}
	rec.Exception = ex
	return nil
}

func (d *TreeDecoder) TraceEnd(tstop, calls, errors int64, flags trace.RecordFlags) error {
	rec, err := d.top()
	if err != nil {
		return err
	}
	d.stack = d.stack[:len(d.stack)-1]
	rec.Time = tstop - rec.Start
	rec.Calls = calls
	rec.Errors = errors
	rec.Flags = flags

	if n := len(d.stack); n > 0 {
		parent := d.stack[n-1]
		parent.Children = append(parent.Children, rec)
	} else {
		d.roots = append(d.roots, rec)
	}
	return nil
}

var _ trace.Processor = (*TreeDecoder)(nil)

// Decode rebuilds every record tree in data.
func Decode(data []byte, symbols *trace.SymbolRegistry) ([]*trace.Record, error) {
	d := NewTreeDecoder(symbols)
	if err := Scan(data, d); err != nil {
		return nil, err
	}
	return d.Roots(), nil
}
