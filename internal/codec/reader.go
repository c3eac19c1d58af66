package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// Scan decodes data in a single forward pass and calls p for every item in
// stream order. Errors returned by p stop the scan and are returned as is.
func Scan(data []byte, p trace.Processor) error {
	return scan(data, p, false)
}

// ScanSymbols passes only symbol and method definitions to p. Other items
// are checked for framing but not decoded.
func ScanSymbols(data []byte, p trace.Processor) error {
	return scan(data, p, true)
}

// readTag parses a tag head and returns the tag number and head length.
func readTag(data []byte) (uint64, int, bool) {
	if len(data) == 0 || data[0]>>5 != 6 {
		return 0, 0, false
	}
	switch info := data[0] & 0x1f; {
	case info < 24:
		return uint64(info), 1, true
	case info == 24 && len(data) >= 2:
		return uint64(data[1]), 2, true
	default:
		return 0, 0, false
	}
}

type scanner struct {
	data     []byte
	off      int
	p        trace.Processor
	defsOnly bool

	depth  int
	errors int64
	flags  trace.RecordFlags
}

func scan(data []byte, p trace.Processor, defsOnly bool) error {
	s := &scanner{data: data, p: p, defsOnly: defsOnly}
	for s.off < len(s.data) {
		if err := s.next(); err != nil {
			return err
		}
	}
	if s.depth != 0 {
		return fmt.Errorf("%w: %d unterminated records", ErrMalformed, s.depth)
	}
	return nil
}

func (s *scanner) malformed(format string, args ...any) error {
	return fmt.Errorf("%w: "+format+" at offset %d", append([]any{ErrMalformed}, append(args, s.off)...)...)
}

func (s *scanner) content(head int, v any) error {
	rest, err := decMode.UnmarshalFirst(s.data[s.off+head:], v)
	if err != nil {
		return s.malformed("%v", err)
	}
	s.off = len(s.data) - len(rest)
	return nil
}

func (s *scanner) next() error {
	tag, head, ok := readTag(s.data[s.off:])
	if !ok {
		return s.malformed("expected tagged item, got 0x%02x", s.data[s.off])
	}

	if s.defsOnly && tag != tagSymbol && tag != tagMethod {
		return s.skip(tag, head)
	}

	switch tag {
	case tagSymbol:
		var it symbolItem
		if err := s.content(head, &it); err != nil {
			return err
		}
		return s.p.DefineSymbol(it.ID, it.Name)

	case tagMethod:
		var it methodItem
		if err := s.content(head, &it); err != nil {
			return err
		}
		return s.p.DefineMethod(it.ID, trace.MethodDef{
			ClassID:     it.ClassID,
			MethodID:    it.MethodID,
			SignatureID: it.SignatureID,
		})

	case tagTraceStart:
		var b []byte
		if err := s.content(head, &b); err != nil {
			return err
		}
		tstart, mid, err := parseProlog(b)
		if err != nil {
			return err
		}
		s.depth++
		return s.p.TraceStart(tstart, mid)

	case tagTraceBegin:
		var it beginItem
		if err := s.content(head, &it); err != nil {
			return err
		}
		if s.depth == 0 {
			return s.malformed("trace begin outside of a record")
		}
		return s.p.TraceBegin(trace.Begin{
			TraceType: it.TraceType,
			Clock:     it.Clock,
			TraceID:   id.TraceID{Hi: it.TraceHi, Lo: it.TraceLo},
			SpanID:    it.SpanID,
			ParentID:  it.ParentID,
			Flags:     trace.MarkerFlags(it.Flags),
		})

	case tagTraceAttr:
		var it attrItem
		if err := s.content(head, &it); err != nil {
			return err
		}
		if s.depth == 0 {
			return s.malformed("attribute outside of a record")
		}
		return s.p.TraceAttr(it.ID, decodeValue(it.Value))

	case tagException:
		var it exceptionItem
		if err := s.content(head, &it); err != nil {
			return err
		}
		if s.depth == 0 {
			return s.malformed("exception outside of a record")
		}
		return s.p.Exception(decodeException(&it))

	case tagStats:
		var it statsItem
		if err := s.content(head, &it); err != nil {
			return err
		}
		s.errors, s.flags = it.Errors, trace.RecordFlags(it.Flags)
		return nil

	case tagTraceEnd:
		var b []byte
		if err := s.content(head, &b); err != nil {
			return err
		}
		tstop, calls, err := parseEpilog(b)
		if err != nil {
			return err
		}
		if s.depth == 0 {
			return s.malformed("record end without start")
		}
		s.depth--
		errs, flags := s.errors, s.flags
		s.errors, s.flags = 0, 0
		return s.p.TraceEnd(tstop, calls, errs, flags)

	default:
		var skip cbor.RawMessage
		return s.content(head, &skip)
	}
}

// skip steps over an item in a definitions-only pass, keeping record depth
// so that truncated streams are still reported.
func (s *scanner) skip(tag uint64, head int) error {
	var raw cbor.RawMessage
	if err := s.content(head, &raw); err != nil {
		return err
	}
	switch tag {
	case tagTraceStart:
		s.depth++
	case tagTraceEnd:
		if s.depth == 0 {
			return s.malformed("record end without start")
		}
		s.depth--
	}
	return nil
}
