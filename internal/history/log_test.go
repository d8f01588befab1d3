package history

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(url string) Record {
	return Record{Method: "GET", URL: url}
}

func TestLog_AppendAssignsIdentity(t *testing.T) {
	l := New(10)

	a := l.Append(rec("/a"))
	b := l.Append(rec("/b"))

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, uint64(1), a.Seq)
	assert.Equal(t, uint64(2), b.Seq)
	assert.False(t, a.Timestamp.IsZero())
}

func TestLog_KeepsProvidedIDAndTimestamp(t *testing.T) {
	l := New(2)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	got := l.Append(Record{ID: "fixed", Timestamp: ts, Method: "POST"})

	assert.Equal(t, "fixed", got.ID)
	assert.True(t, got.Timestamp.Equal(ts))
}

func TestLog_EvictsOldestFirst(t *testing.T) {
	const capacity = 5
	const extra = 3
	l := New(capacity)

	for i := 0; i < capacity+extra; i++ {
		l.Append(rec(fmt.Sprintf("/%d", i)))
	}

	list := l.List()
	require.Len(t, list, capacity)
	for i, r := range list {
		assert.Equal(t, fmt.Sprintf("/%d", i+extra), r.URL, "position %d", i)
	}
	assert.Equal(t, capacity, l.Len())
	assert.Equal(t, capacity, l.Cap())
}

func TestLog_ListIsSnapshot(t *testing.T) {
	l := New(3)
	l.Append(rec("/a"))

	snap := l.List()
	l.Append(rec("/b"))
	snap[0].URL = "/mutated"

	list := l.List()
	require.Len(t, snap, 1)
	require.Len(t, list, 2)
	assert.Equal(t, "/a", list[0].URL)
}

func TestLog_DefaultCapacity(t *testing.T) {
	assert.Equal(t, DefaultCapacity, New(0).Cap())
	assert.Equal(t, DefaultCapacity, New(-4).Cap())
}

func TestLog_ConcurrentWritersAndReaders(t *testing.T) {
	const capacity = 50
	const writers = 8
	const perWriter = 100
	l := New(capacity)

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				l.Append(rec(fmt.Sprintf("/%d/%d", w, i)))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				list := l.List()
				assert.LessOrEqual(t, len(list), capacity)
			}
		}()
	}
	wg.Wait()

	list := l.List()
	require.Len(t, list, capacity)
	for i := 1; i < len(list); i++ {
		assert.Equal(t, list[i-1].Seq+1, list[i].Seq, "sequence must be contiguous")
	}
	assert.Equal(t, uint64(writers*perWriter), list[len(list)-1].Seq)
}

func TestLog_Subscribe(t *testing.T) {
	l := New(4)
	ch, cancel := l.Subscribe()

	l.Append(rec("/live"))

	select {
	case r := <-ch:
		assert.Equal(t, "/live", r.URL)
	case <-time.After(time.Second):
		t.Fatal("subscriber did not receive record")
	}

	cancel()
	cancel() // idempotent
	_, open := <-ch
	assert.False(t, open)

	// Appending after cancel must not panic
	l.Append(rec("/after"))
}

func TestLog_SlowSubscriberDoesNotBlock(t *testing.T) {
	l := New(4)
	_, cancel := l.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*3; i++ {
			l.Append(rec("/flood"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Append blocked on a slow subscriber")
	}
}

func TestRecord_JSONShape(t *testing.T) {
	r := Record{
		ID:        "abc",
		Timestamp: time.Unix(0, 0).UTC(),
		Method:    "GET",
		URL:       "https://api.1inch.dev/swap",
		Error:     Ptr("dial tcp: connection refused"),
	}

	data, err := json.Marshal(r)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))

	for _, key := range []string{"id", "timestamp", "method", "url", "status", "duration_ms", "request_body", "response_body", "error"} {
		assert.Contains(t, m, key)
	}
	assert.Nil(t, m["status"])
	assert.Nil(t, m["duration_ms"])
	assert.Equal(t, "dial tcp: connection refused", m["error"])
	assert.Equal(t, 0, r.StatusCode())
}

