package capture

import (
	"sync"

	"github.com/kybaq/har-tool/internal/metrics"
)

// DefaultRingCapacity bounds the in-memory history when no explicit
// capacity is configured.
const DefaultRingCapacity = 2000

// subscriberBuffer is the per-subscriber channel depth. A subscriber
// that falls further behind loses records instead of slowing capture.
const subscriberBuffer = 256

// Ring is a fixed-capacity history of records, newest first, with
// fan-out to live subscribers. Pushing never blocks on readers.
type Ring struct {
	mu    sync.Mutex
	buf   []LogRecord
	head  int
	count int
	subs  map[chan LogRecord]struct{}
}

// NewRing builds a ring holding at most capacity records. A capacity
// of zero or less falls back to DefaultRingCapacity.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{
		buf:  make([]LogRecord, capacity),
		subs: make(map[chan LogRecord]struct{}),
	}
}

// Push stores rec as the newest record, evicting the oldest when the
// ring is full, and offers rec to every subscriber. Subscribers with a
// full channel are skipped.
func (ring *Ring) Push(rec LogRecord) {
	ring.mu.Lock()
	ring.head = (ring.head - 1 + len(ring.buf)) % len(ring.buf)
	ring.buf[ring.head] = rec
	if ring.count < len(ring.buf) {
		ring.count++
	}
	size := ring.count
	for ch := range ring.subs {
		select {
		case ch <- rec:
		default:
			metrics.RecordDropped("subscriber_full")
		}
	}
	ring.mu.Unlock()
	metrics.SetRingSize(size)
}

// Snapshot returns up to limit records, newest first. A limit of zero
// or less returns everything currently held.
func (ring *Ring) Snapshot(limit int) []LogRecord {
	ring.mu.Lock()
	defer ring.mu.Unlock()
	n := ring.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]LogRecord, n)
	for i := 0; i < n; i++ {
		out[i] = ring.buf[(ring.head+i)%len(ring.buf)]
	}
	return out
}

// Len reports how many records the ring currently holds.
func (ring *Ring) Len() int {
	ring.mu.Lock()
	defer ring.mu.Unlock()
	return ring.count
}

// Clear drops the stored history. Subscribers stay registered and keep
// receiving records pushed after the clear.
func (ring *Ring) Clear() {
	ring.mu.Lock()
	ring.buf = make([]LogRecord, len(ring.buf))
	ring.head = 0
	ring.count = 0
	ring.mu.Unlock()
	metrics.SetRingSize(0)
}

// Subscribe registers a listener for records pushed from now on and
// returns its channel plus a cancel function. Cancel is idempotent and
// closes the channel once no push can still be writing to it.
func (ring *Ring) Subscribe() (<-chan LogRecord, func()) {
	ch := make(chan LogRecord, subscriberBuffer)
	ring.mu.Lock()
	ring.subs[ch] = struct{}{}
	active := len(ring.subs)
	ring.mu.Unlock()
	metrics.SetSubscribers(active)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			ring.mu.Lock()
			delete(ring.subs, ch)
			remaining := len(ring.subs)
			ring.mu.Unlock()
			close(ch)
			metrics.SetSubscribers(remaining)
		})
	}
	return ch, cancel
}
