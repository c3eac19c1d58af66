package store

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
)

const (
	DefaultMaxSize    = 256 << 20
	DefaultDeleteSize = 16 << 20
)

type entry struct {
	chunk *Chunk
	size  int
}

// MemoryStore keeps chunks in insertion order and trims the oldest ones
// once their total size passes MaxSize.
type MemoryStore struct {
	mu      sync.Mutex
	entries []entry
	total   int64
	evicted int64

	maxSize    int64
	deleteSize int64
	log        *zap.Logger
}

// NewMemoryStore creates a store holding about maxSize bytes that frees at
// least deleteSize bytes per trim. Non-positive values select the defaults.
func NewMemoryStore(maxSize, deleteSize int64, log *zap.Logger) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if deleteSize <= 0 {
		deleteSize = DefaultDeleteSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryStore{
		maxSize:    maxSize,
		deleteSize: deleteSize,
		log:        log,
	}
}

// Add stores c. The store takes ownership of c.
func (s *MemoryStore) Add(_ context.Context, c *Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(c)
	s.trim()
	return nil
}

// AddAll stores chunks in order, trimming once at the end.
func (s *MemoryStore) AddAll(_ context.Context, chunks []*Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		s.append(c)
	}
	s.trim()
	return nil
}

func (s *MemoryStore) append(c *Chunk) {
	c.parent = nil
	sz := c.Size()
	s.entries = append(s.entries, entry{chunk: c, size: sz})
	s.total += int64(sz)
}

// trim drops the oldest prefix once the store is over capacity. The prefix
// frees at least deleteSize bytes and brings the total back under maxSize.
func (s *MemoryStore) trim() {
	if s.total <= s.maxSize {
		return
	}
	target := max(s.deleteSize, s.total-s.maxSize)

	var freed int64
	n := 0
	for n < len(s.entries) && freed < target {
		freed += int64(s.entries[n].size)
		n++
	}

	rest := make([]entry, len(s.entries)-n, max(len(s.entries)-n, 16))
	copy(rest, s.entries[n:])
	s.entries = rest
	s.total -= freed
	s.evicted += int64(n)

	s.log.Debug("store trimmed",
		zap.Int("chunks", n),
		zap.Int64("freed", freed),
		zap.Int64("total", s.total))
}

// Chunks returns copies of all stored chunks, oldest first.
func (s *MemoryStore) Chunks() []*Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Chunk, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.chunk.Clone()
	}
	return out
}

// Search returns matching chunks, newest first unless sorted by duration.
func (s *MemoryStore) Search(_ context.Context, q Query) (Result, error) {
	s.mu.Lock()
	var matched []*Chunk
	for _, e := range s.entries {
		if q.Match(e.chunk) {
			matched = append(matched, e.chunk)
		}
	}
	s.mu.Unlock()
	return q.page(matched), nil
}

// Get returns the chunks of one span ordered by chunk number.
func (s *MemoryStore) Get(_ context.Context, traceID id.TraceID, spanID uint64) ([]*Chunk, error) {
	s.mu.Lock()
	var out []*Chunk
	for _, e := range s.entries {
		if e.chunk.TraceID == traceID && e.chunk.SpanID == spanID {
			out = append(out, e.chunk.Clone())
		}
	}
	s.mu.Unlock()
	slices.SortStableFunc(out, func(a, b *Chunk) int { return cmp.Compare(a.ChunkNum, b.ChunkNum) })
	return out, nil
}

// Stats returns current occupancy.
func (s *MemoryStore) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{Chunks: len(s.entries), Bytes: s.total, Evicted: s.evicted}
}

// Close releases nothing; it exists to satisfy Store.
func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
