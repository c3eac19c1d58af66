package collector

import (
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/tracepipe/internal/store"
)

// Feed fans stored chunks out to live subscribers. Slow subscribers miss
// chunks instead of blocking ingestion.
type Feed struct {
	mu      sync.RWMutex
	subs    map[*Subscription]struct{}
	missed  atomic.Int64
	bufSize int
}

// Subscription receives chunks on C until cancelled.
type Subscription struct {
	C    <-chan *store.Chunk
	ch   chan *store.Chunk
	feed *Feed
	once sync.Once
}

// NewFeed creates a feed with per-subscriber buffers of bufSize.
func NewFeed(bufSize int) *Feed {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Feed{subs: make(map[*Subscription]struct{}), bufSize: bufSize}
}

// Subscribe registers a new subscriber.
func (f *Feed) Subscribe() *Subscription {
	ch := make(chan *store.Chunk, f.bufSize)
	s := &Subscription{C: ch, ch: ch, feed: f}
	f.mu.Lock()
	f.subs[s] = struct{}{}
	f.mu.Unlock()
	return s
}

// Cancel unregisters the subscription and closes C.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		delete(s.feed.subs, s)
		s.feed.mu.Unlock()
		close(s.ch)
	})
}

// Publish delivers chunks to every subscriber without blocking.
func (f *Feed) Publish(chunks ...*store.Chunk) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for s := range f.subs {
		for _, c := range chunks {
			select {
			case s.ch <- c:
			default:
				f.missed.Add(1)
			}
		}
	}
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}

// Missed returns how many deliveries were skipped for full buffers.
func (f *Feed) Missed() int64 { return f.missed.Load() }
