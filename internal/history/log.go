// Package history holds the bounded, process-wide log of proxied requests.
package history

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 500

// subscriberBuffer is the per-subscriber channel depth; a subscriber that
// falls further behind misses records rather than stalling writers.
const subscriberBuffer = 64

// Log is a fixed-capacity FIFO of Records. Appends are serialized under a
// mutex; List copies out under the same brief lock.
type Log struct {
	mu    sync.Mutex
	buf   []Record
	start int // index of the oldest record
	count int
	seq   uint64

	subMu  sync.RWMutex
	subs   map[uint64]chan Record
	nextID uint64
}

// New creates a log holding at most capacity records.
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf:  make([]Record, capacity),
		subs: make(map[uint64]chan Record),
	}
}

// Append stores r, evicting the oldest record when full, and returns the
// stored copy with Seq assigned (and ID/Timestamp filled if empty).
func (l *Log) Append(r Record) Record {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.seq++
	r.Seq = l.seq
	capacity := len(l.buf)
	if l.count < capacity {
		l.buf[(l.start+l.count)%capacity] = r
		l.count++
	} else {
		l.buf[l.start] = r
		l.start = (l.start + 1) % capacity
	}
	l.mu.Unlock()

	l.publish(r)
	return r
}

// List returns a snapshot of all records, oldest first.
func (l *Log) List() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Record, l.count)
	capacity := len(l.buf)
	for i := 0; i < l.count; i++ {
		out[i] = l.buf[(l.start+i)%capacity]
	}
	return out
}

// Len returns the number of records currently held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.count
}

// Cap returns the capacity.
func (l *Log) Cap() int {
	return len(l.buf)
}

// Subscribe returns a channel receiving every record appended from now on
// and a cancel function that closes it.
func (l *Log) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, subscriberBuffer)

	l.subMu.Lock()
	l.nextID++
	id := l.nextID
	l.subs[id] = ch
	l.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			l.subMu.Lock()
			delete(l.subs, id)
			l.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (l *Log) publish(r Record) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for _, ch := range l.subs {
		select {
		case ch <- r:
		default:
		}
	}
}
