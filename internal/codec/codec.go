package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// Item tags. Hot record types use tags below 24, which CBOR encodes in the
// initial byte; rare ones take a second byte.
const (
	tagTraceStart = 6
	tagTraceEnd   = 7
	tagTraceAttr  = 8
	tagSymbol     = 11
	tagMethod     = 12

	tagTraceBegin = 48
	tagException  = 49
	tagStats      = 50
)

const (
	tickShift = 16
	tickMask  = 1<<40 - 1

	// MaxMethodID is the largest method ID a prolog can carry.
	MaxMethodID = 1<<24 - 1
	maxPacked   = 1<<24 - 1
)

var (
	// ErrMalformed reports input that is not a well-formed trace stream.
	ErrMalformed = errors.New("malformed trace data")
	// ErrMethodRange reports a method ID too large for the prolog word.
	ErrMethodRange = errors.New("method id out of range")
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{}.EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels:  256,
		MaxArrayElements: 1 << 20,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

type symbolItem struct {
	_    struct{} `cbor:",toarray"`
	ID   int
	Name string
}

type methodItem struct {
	_           struct{} `cbor:",toarray"`
	ID          int
	ClassID     int
	MethodID    int
	SignatureID int
}

type attrItem struct {
	_     struct{} `cbor:",toarray"`
	ID    int
	Value any
}

type beginItem struct {
	_         struct{} `cbor:",toarray"`
	Clock     int64
	TraceType int
	TraceHi   uint64
	TraceLo   uint64
	SpanID    uint64
	ParentID  uint64
	Flags     uint32
}

type statsItem struct {
	_      struct{} `cbor:",toarray"`
	Errors int64
	Flags  uint32
}

type frameItem struct {
	_        struct{} `cbor:",toarray"`
	ClassID  int
	MethodID int
	FileID   int
	Line     int
}

type exceptionItem struct {
	_       struct{} `cbor:",toarray"`
	ClassID int
	Message string
	Stack   []frameItem
	Cause   *exceptionItem
}

// prolog packs the entry tick and method ID into one big-endian word.
func prolog(tstart int64, mid int) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(tstart>>tickShift)&tickMask|uint64(mid)<<40)
	return b
}

func parseProlog(b []byte) (tstart int64, mid int, err error) {
	if len(b) != 8 {
		return 0, 0, fmt.Errorf("%w: prolog of %d bytes", ErrMalformed, len(b))
	}
	w := binary.BigEndian.Uint64(b)
	return int64(w&tickMask) << tickShift, int(w >> 40), nil
}

// epilog packs the exit tick and call count. Counts that do not fit in 24
// bits go to a second word.
func epilog(tstop, calls int64) []byte {
	ticks := uint64(tstop>>tickShift) & tickMask
	if calls >= 0 && calls <= maxPacked {
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, ticks|uint64(calls)<<40)
		return b
	}
	b := make([]byte, 16)
	binary.BigEndian.PutUint64(b, ticks)
	binary.BigEndian.PutUint64(b[8:], uint64(calls))
	return b
}

func parseEpilog(b []byte) (tstop, calls int64, err error) {
	switch len(b) {
	case 8:
		w := binary.BigEndian.Uint64(b)
		return int64(w&tickMask) << tickShift, int64(w >> 40), nil
	case 16:
		w := binary.BigEndian.Uint64(b)
		return int64(w&tickMask) << tickShift, int64(binary.BigEndian.Uint64(b[8:])), nil
	default:
		return 0, 0, fmt.Errorf("%w: epilog of %d bytes", ErrMalformed, len(b))
	}
}

// Ticks truncates a timestamp to the precision kept on the wire.
func Ticks(ns int64) int64 {
	return int64(uint64(ns>>tickShift)&tickMask) << tickShift
}

func encodeException(ex *trace.Exception) *exceptionItem {
	if ex == nil {
		return nil
	}
	item := &exceptionItem{
		ClassID: ex.ClassID,
		Message: ex.Message,
		Stack:   make([]frameItem, len(ex.Stack)),
		Cause:   encodeException(ex.Cause),
	}
	for i, f := range ex.Stack {
		item.Stack[i] = frameItem{ClassID: f.ClassID, MethodID: f.MethodID, FileID: f.FileID, Line: f.Line}
	}
	return item
}

func decodeException(item *exceptionItem) *trace.Exception {
	if item == nil {
		return nil
	}
	ex := &trace.Exception{
		ClassID: item.ClassID,
		Message: item.Message,
		Cause:   decodeException(item.Cause),
	}
	if len(item.Stack) > 0 {
		ex.Stack = make([]trace.StackFrame, len(item.Stack))
		for i, f := range item.Stack {
			ex.Stack[i] = trace.StackFrame{ClassID: f.ClassID, MethodID: f.MethodID, FileID: f.FileID, Line: f.Line}
		}
	}
	return ex
}

func decodeValue(v any) trace.Value {
	switch x := v.(type) {
	case uint64:
		if x <= 1<<63-1 {
			return trace.Int(int64(x))
		}
	case float32:
		return trace.Float(float64(x))
	}
	return trace.ValueOf(v)
}
