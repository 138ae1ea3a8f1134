package learning

import "sync"

// DefaultQueueCapacity bounds the retry queue when no capacity is
// configured.
const DefaultQueueCapacity = 256

// retryQueue holds records whose push failed, oldest first. When full,
// enqueueing drops the oldest entry: recent operations are worth more
// to the store than stale ones, and the queue must never grow without
// bound during an outage.
type retryQueue struct {
	mu       sync.Mutex
	capacity int
	items    []Record
	dropped  uint64
}

func newRetryQueue(capacity int) *retryQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	return &retryQueue{capacity: capacity}
}

// enqueue appends rec, evicting the oldest entry when full. It reports
// whether an entry was dropped.
func (q *retryQueue) enqueue(rec Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := false
	if len(q.items) >= q.capacity {
		excess := len(q.items) - q.capacity + 1
		for i := 0; i < excess; i++ {
			q.items[i] = Record{}
		}
		q.items = q.items[excess:]
		q.dropped += uint64(excess)
		dropped = true
	}
	q.items = append(q.items, rec)
	return dropped
}

// drain removes and returns up to max records, oldest first.
func (q *retryQueue) drain(max int) []Record {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) == 0 || max <= 0 {
		return nil
	}
	if max > len(q.items) {
		max = len(q.items)
	}

	out := make([]Record, max)
	copy(out, q.items[:max])
	for i := 0; i < max; i++ {
		q.items[i] = Record{}
	}
	q.items = q.items[max:]
	return out
}

// requeue puts drained records back at the front, preserving order.
// They are older than anything waiting, so when capacity is short the
// oldest of them are dropped first, same policy as enqueue.
func (q *retryQueue) requeue(recs []Record) {
	if len(recs) == 0 {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	room := q.capacity - len(q.items)
	if room <= 0 {
		q.dropped += uint64(len(recs))
		return
	}
	if len(recs) > room {
		q.dropped += uint64(len(recs) - room)
		recs = recs[len(recs)-room:]
	}
	q.items = append(append(make([]Record, 0, len(recs)+len(q.items)), recs...), q.items...)
}

func (q *retryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func (q *retryQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
