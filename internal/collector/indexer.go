package collector

import (
	"fmt"

	"github.com/GriffinCanCode/tracepipe/internal/codec"
	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/store"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

type openChunk struct {
	chunk *store.Chunk
	depth int
	start int
}

// MetadataIndexer splits one decoded trace data message into chunks, one per
// trace begin, and re-encodes the events into each chunk's payload. Events
// must use the IDs of registry; payloads carry no symbol definitions and
// are resolved against the same registry when read back.
type MetadataIndexer struct {
	registry    *trace.SymbolRegistry
	out         *codec.Writer
	compression store.Compression

	traceID  id.TraceID
	chunkNum int

	depth     int
	lastStart int64
	lastMid   int
	lastPos   int

	stack  []openChunk
	result []*store.Chunk
}

// NewMetadataIndexer creates an indexer for one message of trace traceID.
func NewMetadataIndexer(registry *trace.SymbolRegistry, traceID id.TraceID, chunkNum int, comp store.Compression) *MetadataIndexer {
	return &MetadataIndexer{
		registry:    registry,
		out:         codec.NewWriter(),
		compression: comp,
		traceID:     traceID,
		chunkNum:    chunkNum,
	}
}

// Chunks returns the chunks completed so far, innermost traces first.
func (x *MetadataIndexer) Chunks() []*store.Chunk { return x.result }

// Unfinished reports whether a trace begin is still waiting for its end.
func (x *MetadataIndexer) Unfinished() bool { return len(x.stack) > 0 }

func (x *MetadataIndexer) top() *openChunk {
	if len(x.stack) == 0 {
		return nil
	}
	return &x.stack[len(x.stack)-1]
}

// Definitions are not forwarded; the registry already holds them.
func (x *MetadataIndexer) DefineSymbol(int, string) error { return nil }
func (x *MetadataIndexer) DefineMethod(int, trace.MethodDef) error { return nil }

func (x *MetadataIndexer) TraceStart(tstart int64, mid int) error {
	x.lastPos = x.out.Len()
	x.depth++
	x.lastStart = tstart
	x.lastMid = mid
	if t := x.top(); t != nil {
		t.chunk.AddMethod(mid)
	}
	return x.out.TraceStart(tstart, mid)
}

func (x *MetadataIndexer) TraceBegin(b trace.Begin) error {
	c := &store.Chunk{
		TraceID:    b.TraceID,
		SpanID:     b.SpanID,
		ParentID:   b.ParentID,
		ChunkNum:   x.chunkNum,
		Flags:      b.Flags,
		TraceType:  x.registry.SymbolName(b.TraceType),
		Tstamp:     b.Clock,
		Tstart:     x.lastStart,
		StackDepth: x.depth - 1,
	}
	if c.TraceID.IsZero() {
		c.TraceID = x.traceID
	}
	if t := x.top(); t != nil {
		c.SetParent(t.chunk)
		if c.ParentID == 0 {
			c.ParentID = t.chunk.SpanID
		}
	}
	if def, ok := x.registry.MethodDef(x.lastMid); ok {
		c.Class = x.registry.SymbolName(def.ClassID)
		c.Method = x.registry.SymbolName(def.MethodID)
	}
	c.AddMethod(x.lastMid)

	x.stack = append(x.stack, openChunk{chunk: c, depth: x.depth, start: x.lastPos})
	return x.out.TraceBegin(b)
}

func (x *MetadataIndexer) TraceAttr(attrID int, v trace.Value) error {
	if t := x.top(); t != nil && t.depth == x.depth {
		t.chunk.SetAttr(x.registry.SymbolName(attrID), v.String())
	}
	return x.out.TraceAttr(attrID, v)
}

func (x *MetadataIndexer) Exception(ex *trace.Exception) error {
	if t := x.top(); t != nil && t.depth == x.depth {
		t.chunk.Exception = x.resolve(ex)
	}
	return x.out.Exception(ex)
}

func (x *MetadataIndexer) TraceEnd(tstop, calls, errors int64, flags trace.RecordFlags) error {
	if err := x.out.TraceEnd(tstop, calls, errors, flags); err != nil {
		return err
	}
	t := x.top()
	if t != nil {
		t.chunk.Records++
		if t.depth == x.depth {
			c := t.chunk
			c.Tstop = tstop
			c.Duration = tstop - c.Tstart
			c.Calls = calls
			c.Errors = errors
			if c.Exception != nil {
				c.Flags |= trace.MarkerErrorMark
			}
			if err := x.finish(t); err != nil {
				return err
			}
		}
	}
	x.depth--
	return nil
}

// finish cuts the payload of the innermost chunk and pops it.
func (x *MetadataIndexer) finish(t *openChunk) error {
	c := t.chunk
	if err := c.SetPayload(x.out.Bytes()[t.start:], x.compression); err != nil {
		return fmt.Errorf("compress chunk payload: %w", err)
	}
	x.stack = x.stack[:len(x.stack)-1]
	if p := x.top(); p != nil {
		p.chunk.Records += c.Records
		for _, mid := range c.Methods {
			p.chunk.AddMethod(mid)
		}
	}
	c.SetParent(nil)
	x.result = append(x.result, c)
	return nil
}

func (x *MetadataIndexer) resolve(ex *trace.Exception) *store.ExceptionInfo {
	return DescribeException(x.registry, ex)
}

var _ trace.Processor = (*MetadataIndexer)(nil)
