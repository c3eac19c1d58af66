package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/tracepipe/internal/store"
)

func TestFeedDropsForSlowSubscribers(t *testing.T) {
	f := NewFeed(2)
	fast := f.Subscribe()
	slow := f.Subscribe()
	require.Equal(t, 2, f.Subscribers())

	f.Publish(&store.Chunk{SpanID: 1}, &store.Chunk{SpanID: 2})
	assert.Equal(t, uint64(1), (<-fast.C).SpanID)
	assert.Equal(t, uint64(2), (<-fast.C).SpanID)

	f.Publish(&store.Chunk{SpanID: 3})
	assert.Equal(t, uint64(3), (<-fast.C).SpanID)
	assert.Equal(t, int64(1), f.Missed())
	assert.Len(t, slow.C, 2)
}

func TestFeedCancelClosesChannel(t *testing.T) {
	f := NewFeed(0)
	s := f.Subscribe()
	s.Cancel()
	s.Cancel()

	_, ok := <-s.C
	assert.False(t, ok)
	assert.Equal(t, 0, f.Subscribers())

	f.Publish(&store.Chunk{SpanID: 1})
	assert.Zero(t, f.Missed())
}
