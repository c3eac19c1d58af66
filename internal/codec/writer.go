package codec

import (
	"bytes"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// Writer encodes Processor events into an in-memory trace stream.
type Writer struct {
	buf bytes.Buffer
	enc *cbor.Encoder
}

// NewWriter creates an empty writer.
func NewWriter() *Writer {
	w := &Writer{}
	w.enc = encMode.NewEncoder(&w.buf)
	return w
}

// Bytes returns the encoded stream. The slice is valid until the next write
// or Reset.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

// Len returns the number of bytes written so far.
func (w *Writer) Len() int { return w.buf.Len() }

// Reset discards the encoded stream.
func (w *Writer) Reset() { w.buf.Reset() }

func (w *Writer) item(tag uint64, content any) error {
	if err := w.enc.Encode(cbor.Tag{Number: tag, Content: content}); err != nil {
		return fmt.Errorf("encode tag %d: %w", tag, err)
	}
	return nil
}

func (w *Writer) DefineSymbol(id int, name string) error {
	return w.item(tagSymbol, symbolItem{ID: id, Name: name})
}

func (w *Writer) DefineMethod(mid int, def trace.MethodDef) error {
	return w.item(tagMethod, methodItem{
		ID:          mid,
		ClassID:     def.ClassID,
		MethodID:    def.MethodID,
		SignatureID: def.SignatureID,
	})
}

func (w *Writer) TraceStart(tstart int64, mid int) error {
	if mid < 0 || mid > MaxMethodID {
		return fmt.Errorf("%w: %d", ErrMethodRange, mid)
	}
	return w.item(tagTraceStart, prolog(tstart, mid))
}

func (w *Writer) TraceBegin(b trace.Begin) error {
	return w.item(tagTraceBegin, beginItem{
		Clock:     b.Clock,
		TraceType: b.TraceType,
		TraceHi:   b.TraceID.Hi,
		TraceLo:   b.TraceID.Lo,
		SpanID:    b.SpanID,
		ParentID:  b.ParentID,
		Flags:     uint32(b.Flags),
	})
}

func (w *Writer) TraceAttr(attrID int, v trace.Value) error {
	return w.item(tagTraceAttr, attrItem{ID: attrID, Value: v.Interface()})
}

func (w *Writer) Exception(ex *trace.Exception) error {
	return w.item(tagException, encodeException(ex))
}

func (w *Writer) TraceEnd(tstop, calls, errors int64, flags trace.RecordFlags) error {
	if errors != 0 || flags != 0 {
		if err := w.item(tagStats, statsItem{Errors: errors, Flags: uint32(flags)}); err != nil {
			return err
		}
	}
	return w.item(tagTraceEnd, epilog(tstop, calls))
}

var _ trace.Processor = (*Writer)(nil)

// Encode writes a whole record tree with symbol definitions from symbols.
func Encode(symbols *trace.SymbolRegistry, rec *trace.Record) ([]byte, error) {
	w := NewWriter()
	if err := trace.NewEnricher(symbols, w).Enrich(rec); err != nil {
		return nil, err
	}
	return bytes.Clone(w.Bytes()), nil
}
