package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracepipe/internal/shared/id"
	"github.com/GriffinCanCode/tracepipe/internal/trace"
)

func openSQLite(t *testing.T, path string, maxSize, deleteSize int64) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(path, maxSize, deleteSize, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openSQLite(t, filepath.Join(t.TempDir(), "chunks.db"), 0, 0)

	c := newChunk(1<<63|5, 0)
	c.TraceID = id.TraceID{Hi: 1 << 63, Lo: 42}
	c.ParentID = 9
	c.Flags = trace.MarkerErrorMark
	c.TraceType = "HTTP"
	c.Tstamp, c.Tstart, c.Tstop, c.Duration = 1700000000000, 100, 900, 800
	c.Calls, c.Errors, c.Records = 12, 1, 4
	c.SetAttr("URI", "/orders")
	c.AddMethod(4)
	c.AddMethod(2)
	c.Exception = &ExceptionInfo{Class: "*errors.errorString", Message: "boom", Stack: []string{"a.b (c.go:1)"}}
	require.NoError(t, c.SetPayload([]byte("payload payload payload payload payload"), CompressionZstd))

	require.NoError(t, s.Add(ctx, c))

	got, err := s.Get(ctx, c.TraceID, c.SpanID)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, c.Clone(), got[0])

	payload, err := got[0].Payload()
	require.NoError(t, err)
	assert.Equal(t, "payload payload payload payload payload", string(payload))
}

func TestSQLiteStoreSearchAndTrim(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "chunks.db")
	s := openSQLite(t, path, 3000, 1000)

	for i := uint64(1); i <= 4; i++ {
		c := newChunk(i, 744)
		c.Duration = int64(i * 10)
		if i%2 == 0 {
			c.Flags = trace.MarkerErrorMark
		}
		require.NoError(t, s.Add(ctx, c))
	}
	assert.Equal(t, Stats{Chunks: 3, Bytes: 3000, Evicted: 1}, s.Stats())

	res, err := s.Search(ctx, NewQuery())
	require.NoError(t, err)
	assert.Equal(t, []uint64{4, 3, 2}, spans(res.Chunks))

	res, err = s.Search(ctx, Query{ErrorsOnly: true, MinDuration: 30})
	require.NoError(t, err)
	assert.Equal(t, []uint64{4}, spans(res.Chunks))

	res, err = s.Search(ctx, Query{Text: "call3"})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, spans(res.Chunks))

	require.NoError(t, s.Close())
	reopened := openSQLite(t, path, 3000, 1000)
	assert.Equal(t, 3, reopened.Stats().Chunks)
	assert.Equal(t, int64(3000), reopened.Stats().Bytes)
}
