package trace

import (
	"github.com/bits-and-blooms/bitset"
)

// Enricher turns Handler events into Processor events, emitting a symbol or
// method definition right before the first event of the stream that refers
// to it. One Enricher serves exactly one downstream stream; call Reset when
// that stream is re-established.
type Enricher struct {
	symbols *SymbolRegistry
	out     Processor
	defsOut Processor

	sentSymbols *bitset.BitSet
	sentMethods *bitset.BitSet

	calls, errors int64
	flags         RecordFlags

	err error
}

// NewEnricher creates an enricher resolving names in symbols and writing to out.
func NewEnricher(symbols *SymbolRegistry, out Processor) *Enricher {
	return &Enricher{
		symbols:     symbols,
		out:         out,
		sentSymbols: bitset.New(1024),
		sentMethods: bitset.New(1024),
	}
}

// Reset forgets what has been sent downstream.
func (e *Enricher) Reset() {
	e.sentSymbols.ClearAll()
	e.sentMethods.ClearAll()
	e.err = nil
}

// SetOutput redirects the enricher to another stream and resets it.
func (e *Enricher) SetOutput(out Processor) {
	e.out = out
	e.Reset()
}

// SetDefinitions sends symbol and method definitions to p instead of the
// event stream, and resets the enricher. A nil p restores inline definitions.
func (e *Enricher) SetDefinitions(p Processor) {
	e.defsOut = p
	e.Reset()
}

func (e *Enricher) defs() Processor {
	if e.defsOut != nil {
		return e.defsOut
	}
	return e.out
}

// Err returns the first error reported by the output since the last call to
// Enrich or Reset.
func (e *Enricher) Err() error { return e.err }

// Enrich writes a whole record tree.
func (e *Enricher) Enrich(rec *Record) error {
	e.err = nil
	rec.Traverse(e)
	return e.err
}

// Sent reports whether sid has been defined on the current stream.
func (e *Enricher) Sent(sid int) bool {
	return sid > 0 && e.sentSymbols.Test(uint(sid))
}

func (e *Enricher) TraceEnter(classID, methodID, signatureID int, ts int64) {
	mid := e.symbols.MethodID(classID, methodID, signatureID)
	e.method(mid)
	e.check(e.out.TraceStart(ts, mid))
}

func (e *Enricher) TraceBegin(b Begin) {
	e.symbol(b.TraceType)
	e.check(e.out.TraceBegin(b))
}

func (e *Enricher) NewAttr(attrID int, v Value) {
	e.symbol(attrID)
	e.check(e.out.TraceAttr(attrID, v))
}

func (e *Enricher) TraceError(ex *Exception) {
	e.exception(ex)
	e.check(e.out.Exception(ex))
}

func (e *Enricher) TraceStats(calls, errors int64, flags RecordFlags) {
	e.calls, e.errors, e.flags = calls, errors, flags
}

func (e *Enricher) TraceReturn(ts int64) {
	e.check(e.out.TraceEnd(ts, e.calls, e.errors, e.flags))
	e.calls, e.errors, e.flags = 0, 0, 0
}

func (e *Enricher) symbol(sid int) {
	if sid <= 0 || e.sentSymbols.Test(uint(sid)) {
		return
	}
	name, ok := e.symbols.Lookup(sid)
	if !ok {
		name = "<?>"
	}
	if err := e.defs().DefineSymbol(sid, name); err != nil {
		e.check(err)
		return
	}
	e.sentSymbols.Set(uint(sid))
}

func (e *Enricher) method(mid int) {
	if mid <= 0 || e.sentMethods.Test(uint(mid)) {
		return
	}
	def, _ := e.symbols.MethodDef(mid)
	e.symbol(def.ClassID)
	e.symbol(def.MethodID)
	e.symbol(def.SignatureID)
	if err := e.defs().DefineMethod(mid, def); err != nil {
		e.check(err)
		return
	}
	e.sentMethods.Set(uint(mid))
}

func (e *Enricher) exception(ex *Exception) {
	for ; ex != nil; ex = ex.Cause {
		e.symbol(ex.ClassID)
		for _, f := range ex.Stack {
			e.symbol(f.ClassID)
			e.symbol(f.MethodID)
			e.symbol(f.FileID)
		}
	}
}

func (e *Enricher) check(err error) {
	if err != nil && e.err == nil {
		e.err = err
	}
}

var _ Handler = (*Enricher)(nil)
