package store

import (
	"context"
	"errors"
	"maps"
	"slices"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

// ErrNotFound is returned when no chunk matches a lookup.
var ErrNotFound = errors.New("chunk not found")

// ExceptionInfo is the resolved form of the exception that ended a chunk's
// root frame.
type ExceptionInfo struct {
	Class   string   `json:"class"`
	Message string   `json:"message"`
	Stack   []string `json:"stack,omitempty"`
}

// Chunk holds the metadata and payload of one trace or embedded trace as
// received by the collector. A stored chunk is never modified.
type Chunk struct {
	TraceID  id.TraceID `json:"trace_id"`
	SpanID   uint64     `json:"span_id"`
	ParentID uint64     `json:"parent_id"`
	ChunkNum int        `json:"chunk_num"`

	Flags     trace.MarkerFlags `json:"flags"`
	TraceType string            `json:"trace_type"`
	Class     string            `json:"class"`
	Method    string            `json:"method"`

	// Tstamp is the wall clock start in ms since epoch. Tstart and Tstop
	// are agent timestamps in ns.
	Tstamp   int64 `json:"tstamp"`
	Tstart   int64 `json:"tstart"`
	Tstop    int64 `json:"tstop"`
	Duration int64 `json:"duration"`

	// StackDepth is the nesting level of the root frame within the
	// submitted tree; zero for top-level traces.
	StackDepth int `json:"stack_depth"`

	Calls   int64 `json:"calls"`
	Errors  int64 `json:"errors"`
	Records int64 `json:"records"`

	Attrs     map[string]string `json:"attrs,omitempty"`
	Methods   []int             `json:"methods,omitempty"`
	Exception *ExceptionInfo    `json:"exception,omitempty"`

	// Data is the encoded trace, compressed as Compression says.
	Data        []byte      `json:"-"`
	Compression Compression `json:"-"`
	RawSize     int         `json:"-"`

	// parent is set while the enclosing chunk is still being indexed
	parent *Chunk
}

// Size is the accounting size of the chunk in a bounded store.
func (c *Chunk) Size() int {
	n := 256 + len(c.Data)
	for k, v := range c.Attrs {
		n += 64 + len(k) + len(v)
	}
	return n
}

// HasError reports whether the trace was marked as failed.
func (c *Chunk) HasError() bool {
	return c.Flags.Has(trace.MarkerErrorMark)
}

// Description returns Class.Method of the chunk's root frame.
func (c *Chunk) Description() string {
	return c.Class + "." + c.Method
}

// Parent returns the enclosing chunk while indexing is in progress.
func (c *Chunk) Parent() *Chunk { return c.parent }

// SetParent links c to its enclosing chunk.
func (c *Chunk) SetParent(p *Chunk) { c.parent = p }

// SetAttr records a string attribute.
func (c *Chunk) SetAttr(name, value string) {
	if c.Attrs == nil {
		c.Attrs = make(map[string]string)
	}
	c.Attrs[name] = value
}

// AddMethod adds mid to the sorted method set.
func (c *Chunk) AddMethod(mid int) {
	i, found := slices.BinarySearch(c.Methods, mid)
	if !found {
		c.Methods = slices.Insert(c.Methods, i, mid)
	}
}

// SetPayload compresses raw into the chunk.
func (c *Chunk) SetPayload(raw []byte, comp Compression) error {
	data, used, err := Compress(raw, comp)
	if err != nil {
		return err
	}
	if used == CompressionNone {
		data = slices.Clone(raw)
	}
	c.Data, c.Compression, c.RawSize = data, used, len(raw)
	return nil
}

// Payload returns the decompressed trace data.
func (c *Chunk) Payload() ([]byte, error) {
	if len(c.Data) == 0 && c.RawSize == 0 {
		return nil, nil
	}
	return Decompress(c.Data, c.Compression, c.RawSize)
}

// Clone returns a copy that shares nothing with c except Data, which is
// never written after the chunk is stored.
func (c *Chunk) Clone() *Chunk {
	cp := *c
	cp.parent = nil
	cp.Attrs = maps.Clone(c.Attrs)
	cp.Methods = slices.Clone(c.Methods)
	if c.Exception != nil {
		ex := *c.Exception
		ex.Stack = slices.Clone(c.Exception.Stack)
		cp.Exception = &ex
	}
	return &cp
}

// TraceChunkStore receives finished chunks. Implementations bound their
// own capacity by eviction and never reject a chunk for lack of space.
type TraceChunkStore interface {
	Add(ctx context.Context, c *Chunk) error
	AddAll(ctx context.Context, chunks []*Chunk) error
}

// Stats describes store occupancy.
type Stats struct {
	Chunks  int   `json:"chunks"`
	Bytes   int64 `json:"bytes"`
	Evicted int64 `json:"evicted"`
}

// Store is a TraceChunkStore that can also be queried.
type Store interface {
	TraceChunkStore

	// Search returns the chunks matching q.
	Search(ctx context.Context, q Query) (Result, error)
	// Get returns every chunk of one span ordered by chunk number.
	Get(ctx context.Context, traceID id.TraceID, spanID uint64) ([]*Chunk, error)
	Stats() Stats
	Close() error
}
