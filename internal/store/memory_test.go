package store

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

func newChunk(span uint64, dataLen int) *Chunk {
	return &Chunk{
		TraceID: id.TraceID{Hi: 1, Lo: span},
		SpanID:  span,
		Class:   "com.example.Service",
		Method:  fmt.Sprintf("call%d", span),
		Data:    make([]byte, dataLen),
		RawSize: dataLen,
	}
}

func spans(chunks []*Chunk) []uint64 {
	out := make([]uint64, len(chunks))
	for i, c := range chunks {
		out[i] = c.SpanID
	}
	return out
}

func TestChunkSize(t *testing.T) {
	c := newChunk(1, 100)
	assert.Equal(t, 356, c.Size())

	c.SetAttr("URI", "/x")
	assert.Equal(t, 356+64+3+2, c.Size())
}

func TestMemoryStoreTrimsOldestPrefix(t *testing.T) {
	ctx := context.Background()
	// each chunk accounts for 256+744 = 1000 bytes
	s := NewMemoryStore(5000, 2000, nil)

	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, s.Add(ctx, newChunk(i, 744)))
	}
	assert.Equal(t, Stats{Chunks: 5, Bytes: 5000}, s.Stats())

	require.NoError(t, s.Add(ctx, newChunk(6, 744)))
	assert.Equal(t, []uint64{3, 4, 5, 6}, spans(s.Chunks()))
	assert.Equal(t, Stats{Chunks: 4, Bytes: 4000, Evicted: 2}, s.Stats())
}

func TestMemoryStoreAddAllTrimsOnce(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(3000, 1000, nil)

	batch := make([]*Chunk, 6)
	for i := range batch {
		batch[i] = newChunk(uint64(i+1), 744)
	}
	require.NoError(t, s.AddAll(ctx, batch))

	assert.Equal(t, []uint64{4, 5, 6}, spans(s.Chunks()))
	assert.Equal(t, int64(3000), s.Stats().Bytes)
}

func TestMemoryStoreEvictionBound(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))
	const maxSize = 20000

	s := NewMemoryStore(maxSize, 3000, nil)
	var added []uint64
	for i := uint64(1); i <= 500; i++ {
		if rng.Intn(4) == 0 {
			batch := []*Chunk{newChunk(i, rng.Intn(2000)), newChunk(i+10000, rng.Intn(2000))}
			require.NoError(t, s.AddAll(ctx, batch))
			added = append(added, i, i+10000)
		} else {
			require.NoError(t, s.Add(ctx, newChunk(i, rng.Intn(2000))))
			added = append(added, i)
		}

		st := s.Stats()
		assert.LessOrEqual(t, st.Bytes, int64(maxSize))

		got := spans(s.Chunks())
		require.Equal(t, added[len(added)-len(got):], got, "store must keep a suffix of insertions")

		var sum int64
		for _, c := range s.Chunks() {
			sum += int64(c.Size())
		}
		assert.Equal(t, sum, st.Bytes)
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)
	c := newChunk(1, 10)
	c.SetAttr("URI", "/a")
	c.AddMethod(3)
	require.NoError(t, s.Add(ctx, c))

	got := s.Chunks()
	got[0].Attrs["URI"] = "/changed"
	got[0].Methods[0] = 99
	got[0] = newChunk(2, 10)

	again := s.Chunks()
	require.Len(t, again, 1)
	assert.Equal(t, "/a", again[0].Attrs["URI"])
	assert.Equal(t, []int{3}, again[0].Methods)
}

func TestMemoryStoreSearch(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)

	mk := func(span uint64, dur int64, uri string, failed bool, chunkNum int) *Chunk {
		c := newChunk(span, 10)
		c.Duration = dur
		c.Tstamp = int64(span) * 1000
		c.ChunkNum = chunkNum
		c.TraceType = "HTTP"
		c.SetAttr("URI", uri)
		if failed {
			c.Flags |= trace.MarkerErrorMark
		}
		return c
	}
	require.NoError(t, s.AddAll(ctx, []*Chunk{
		mk(1, 10, "/orders", false, 0),
		mk(2, 50, "/orders/1", true, 0),
		mk(3, 30, "/users", false, 0),
		mk(4, 70, "/users/2", true, 1),
	}))

	tests := []struct {
		name  string
		query Query
		want  []uint64
		total int
	}{
		{"all newest first", NewQuery(), []uint64{4, 3, 2, 1}, 4},
		{"errors only", Query{ErrorsOnly: true}, []uint64{4, 2}, 2},
		{"spans only", Query{SpansOnly: true}, []uint64{3, 2, 1}, 3},
		{"min duration", Query{MinDuration: 30}, []uint64{4, 3, 2}, 3},
		{"text", Query{Text: "ORDERS"}, []uint64{2, 1}, 2},
		{"text on description", Query{Text: "call3"}, []uint64{3}, 1},
		{"attr match", NewQuery().WithAttr("URI", "/users"), []uint64{3}, 1},
		{"time window", Query{MinTstamp: 2000, MaxTstamp: 3000}, []uint64{3, 2}, 2},
		{"trace id", Query{TraceID: id.TraceID{Hi: 1, Lo: 2}}, []uint64{2}, 1},
		{"span id", Query{SpanID: 3}, []uint64{3}, 1},
		{"sort by duration", Query{SortByDuration: true}, []uint64{4, 2, 3, 1}, 4},
		{"page", Query{Offset: 1, Limit: 2}, []uint64{3, 2}, 4},
		{"offset past end", Query{Offset: 10}, []uint64{}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := s.Search(ctx, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spans(res.Chunks))
			assert.Equal(t, tt.total, res.Total)
		})
	}

	res, err := s.Search(ctx, Query{SpanID: 1})
	require.NoError(t, err)
	assert.Nil(t, res.Chunks[0].Attrs)

	res, err = s.Search(ctx, Query{SpanID: 1, FetchAttrs: true})
	require.NoError(t, err)
	assert.Equal(t, "/orders", res.Chunks[0].Attrs["URI"])
}

func TestMemoryStoreGetOrdersChunks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0, 0, nil)
	for _, n := range []int{2, 0, 1} {
		c := newChunk(7, 1)
		c.ChunkNum = n
		require.NoError(t, s.Add(ctx, c))
	}
	require.NoError(t, s.Add(ctx, newChunk(8, 1)))

	got, err := s.Get(ctx, id.TraceID{Hi: 1, Lo: 7}, 7)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, c := range got {
		assert.Equal(t, i, c.ChunkNum)
	}
}

func TestWithAttrRemovesEmptyValues(t *testing.T) {
	q := NewQuery().WithAttr("A", "1").WithAttr("B", "2").WithAttr("A", "")
	assert.Equal(t, map[string]string{"B": "2"}, q.Attrs)
}
