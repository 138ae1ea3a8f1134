package oplog

import (
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
)

// DefaultCapacity is used when the configuration does not set a log size.
const DefaultCapacity = 1000

// Log is a bounded FIFO of Operations with copy-on-read views.
//
// One mutex serializes appends so interleaved writes from independent
// sessions never corrupt ordering or size. Reads take the same lock in
// shared mode and copy out, so a view is always a consistent snapshot.
type Log struct {
	mu       sync.RWMutex
	capacity int
	entries  []Operation

	totalAppended uint64
	totalEvicted  uint64
}

// NewLog returns an empty log holding at most capacity entries.
func NewLog(capacity int) (*Log, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("log capacity must be positive, got %d", capacity)
	}
	return &Log{
		capacity: capacity,
		entries:  make([]Operation, 0, capacity),
	}, nil
}

// MustNewLog is NewLog for callers with a known-good capacity.
func MustNewLog(capacity int) *Log {
	l, err := NewLog(capacity)
	if err != nil {
		panic(err)
	}
	return l
}

// Append records an operation. It always succeeds; at capacity the
// oldest entry is evicted first. The log stores its own copy, so later
// mutation of the argument does not reach stored history.
func (l *Log) Append(op Operation) {
	cp := op.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, cp)
	l.totalAppended++

	if excess := len(l.entries) - l.capacity; excess > 0 {
		// Zero evicted slots so their excerpts are collectable before
		// the backing array is next reallocated.
		for i := 0; i < excess; i++ {
			l.entries[i] = Operation{}
		}
		l.entries = l.entries[excess:]
		l.totalEvicted += uint64(excess)
	}
}

// Size returns the number of entries currently held.
func (l *Log) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Capacity returns the maximum number of entries the log holds.
func (l *Log) Capacity() int {
	return l.capacity
}

// TotalAppended returns the number of appends over the log's lifetime.
func (l *Log) TotalAppended() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalAppended
}

// TotalEvicted returns the number of entries dropped at capacity.
func (l *Log) TotalEvicted() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalEvicted
}

// Recent returns the last n operations in append order, oldest first.
func (l *Log) Recent(n int) []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return []Operation{}
	}
	start := len(l.entries) - n
	if start < 0 {
		start = 0
	}
	return cloneAll(l.entries[start:])
}

// ByUser returns the most recent n operations issued by the given
// agent, in append order.
func (l *Log) ByUser(agentID string, n int) []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 {
		return []Operation{}
	}
	matched := make([]Operation, 0, n)
	for i := len(l.entries) - 1; i >= 0 && len(matched) < n; i-- {
		if l.entries[i].AgentID == agentID {
			matched = append(matched, l.entries[i].Clone())
		}
	}
	reverse(matched)
	return matched
}

// BySession returns every held operation recorded under the given
// session, in append order.
func (l *Log) BySession(sessionID string) []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Operation, 0, 8)
	for _, op := range l.entries {
		if op.SessionID == sessionID {
			out = append(out, op.Clone())
		}
	}
	return out
}

// ByClassification returns every held operation whose classification
// complexity matches kind, in append order.
func (l *Log) ByClassification(kind classify.Complexity) []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Operation, 0, 8)
	for _, op := range l.entries {
		if op.Classification.Complexity == kind {
			out = append(out, op.Clone())
		}
	}
	return out
}

// Within returns every held operation that ended inside the trailing
// window, in append order.
func (l *Log) Within(window time.Duration) []Operation {
	cutoff := time.Now().Add(-window)

	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]Operation, 0, 8)
	for _, op := range l.entries {
		if op.EndedAt.After(cutoff) {
			out = append(out, op.Clone())
		}
	}
	return out
}

// Get returns the held operation with the given id. Cross-references
// between records are id values, so lookups go through here rather
// than through live pointers.
func (l *Log) Get(id string) (Operation, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for i := len(l.entries) - 1; i >= 0; i-- {
		if l.entries[i].ID == id {
			return l.entries[i].Clone(), true
		}
	}
	return Operation{}, false
}

// Snapshot returns a copy of every held operation in append order.
func (l *Log) Snapshot() []Operation {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneAll(l.entries)
}

func cloneAll(ops []Operation) []Operation {
	out := make([]Operation, len(ops))
	for i, op := range ops {
		out[i] = op.Clone()
	}
	return out
}

func reverse(ops []Operation) {
	for i, j := 0, len(ops)-1; i < j; i, j = i+1, j-1 {
		ops[i], ops[j] = ops[j], ops[i]
	}
}
