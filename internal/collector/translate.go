package collector

import (
	"fmt"

	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// translator rewrites events from an agent's symbol numbering into the
// collector's global numbering. The agent registry must be primed with the
// message's definitions before the data pass.
type translator struct {
	agent  *trace.SymbolRegistry
	global *trace.SymbolRegistry
	out    trace.Processor

	symbols map[int]int
	methods map[int]int
}

func newTranslator(agent, global *trace.SymbolRegistry) *translator {
	return &translator{
		agent:   agent,
		global:  global,
		symbols: make(map[int]int),
		methods: make(map[int]int),
	}
}

// reset forgets cached mappings after the agent registry was cleared.
func (t *translator) reset() {
	clear(t.symbols)
	clear(t.methods)
}

func (t *translator) symbol(sid int) (int, error) {
	if sid == 0 {
		return 0, nil
	}
	if gid, ok := t.symbols[sid]; ok {
		return gid, nil
	}
	name, ok := t.agent.Lookup(sid)
	if !ok {
		return 0, fmt.Errorf("%w: symbol %d", ErrResend, sid)
	}
	gid := t.global.SymbolID(name)
	t.symbols[sid] = gid
	return gid, nil
}

func (t *translator) method(mid int) (int, error) {
	if gid, ok := t.methods[mid]; ok {
		return gid, nil
	}
	def, ok := t.agent.MethodDef(mid)
	if !ok {
		return 0, fmt.Errorf("%w: method %d", ErrResend, mid)
	}
	c, err := t.symbol(def.ClassID)
	if err != nil {
		return 0, err
	}
	m, err := t.symbol(def.MethodID)
	if err != nil {
		return 0, err
	}
	s, err := t.symbol(def.SignatureID)
	if err != nil {
		return 0, err
	}
	gid := t.global.MethodID(c, m, s)
	t.methods[mid] = gid
	return gid, nil
}

func (t *translator) exception(ex *trace.Exception) (*trace.Exception, error) {
	if ex == nil {
		return nil, nil
	}
	cls, err := t.symbol(ex.ClassID)
	if err != nil {
		return nil, err
	}
	cause, err := t.exception(ex.Cause)
	if err != nil {
		return nil, err
	}
	out := &trace.Exception{ClassID: cls, Message: ex.Message, Cause: cause}
	if len(ex.Stack) > 0 {
		out.Stack = make([]trace.StackFrame, len(ex.Stack))
	}
	for i, f := range ex.Stack {
		var fr trace.StackFrame
		if fr.ClassID, err = t.symbol(f.ClassID); err != nil {
			return nil, err
		}
		if fr.MethodID, err = t.symbol(f.MethodID); err != nil {
			return nil, err
		}
		if fr.FileID, err = t.symbol(f.FileID); err != nil {
			return nil, err
		}
		fr.Line = f.Line
		out.Stack[i] = fr
	}
	return out, nil
}

// Definitions were consumed by the symbol pass.
func (t *translator) DefineSymbol(int, string) error { return nil }
func (t *translator) DefineMethod(int, trace.MethodDef) error { return nil }

func (t *translator) TraceStart(tstart int64, mid int) error {
	gid, err := t.method(mid)
	if err != nil {
		return err
	}
	return t.out.TraceStart(tstart, gid)
}

func (t *translator) TraceBegin(b trace.Begin) error {
	ttype, err := t.symbol(b.TraceType)
	if err != nil {
		return err
	}
	b.TraceType = ttype
	return t.out.TraceBegin(b)
}

func (t *translator) TraceAttr(attrID int, v trace.Value) error {
	gid, err := t.symbol(attrID)
	if err != nil {
		return err
	}
	return t.out.TraceAttr(gid, v)
}

func (t *translator) Exception(ex *trace.Exception) error {
	gex, err := t.exception(ex)
	if err != nil {
		return err
	}
	return t.out.Exception(gex)
}

func (t *translator) TraceEnd(tstop, calls, errors int64, flags trace.RecordFlags) error {
	return t.out.TraceEnd(tstop, calls, errors, flags)
}

var _ trace.Processor = (*translator)(nil)
