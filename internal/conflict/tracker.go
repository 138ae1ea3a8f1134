// Package conflict tracks divergent edits as durable, non-blocking
// records.
//
// The wrapped engine records conflicts as repository state instead of
// failing the command that caused them. The tracker mirrors that
// state: after every state-mutating command the caller feeds it the
// engine's current conflict listing, and the tracker diffs the listing
// against what it already knows. Newly listed paths become unresolved
// Conflict records; paths that disappeared are marked resolved. A
// resolved record is never deleted, so the full conflict history stays
// queryable for audit.
//
// Records reference their originating operation by id only. The
// tracker performs no I/O; running the conflict query is the caller's
// job.
package conflict

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/agentjj/internal/jj"
)

// Conflict is one observed divergence on a path. Other agents keep
// working on unrelated paths while it stays open; resolution is a
// later observed command, not a callback.
type Conflict struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Sides int    `json:"sides"`

	// OperationID names the operation whose inspection first saw the
	// conflict. A reference, not ownership; look the operation up in
	// the operation log.
	OperationID string    `json:"operation_id"`
	DetectedAt  time.Time `json:"detected_at"`

	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`

	// ResolvedBy names the operation whose inspection no longer
	// listed the path.
	ResolvedBy string `json:"resolved_by,omitempty"`
}

func (c Conflict) clone() Conflict {
	cp := c
	if c.ResolvedAt != nil {
		at := *c.ResolvedAt
		cp.ResolvedAt = &at
	}
	return cp
}

// Diff reports what one inspection changed.
type Diff struct {
	New      []Conflict `json:"new"`
	Resolved []Conflict `json:"resolved"`
}

// Empty reports whether the inspection changed nothing.
func (d Diff) Empty() bool {
	return len(d.New) == 0 && len(d.Resolved) == 0
}

// Tracker holds every conflict record ever observed, keyed by id, with
// a path index over the open ones. Safe for concurrent use.
type Tracker struct {
	mu sync.RWMutex

	// records and order form an append-only arena: records are created,
	// then only their resolved fields ever change.
	records map[string]*Conflict
	order   []string

	// openByPath maps a currently conflicted path to its open record.
	// A path can conflict again after resolution; that creates a new
	// record rather than reviving the old one.
	openByPath map[string]string
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		records:    make(map[string]*Conflict),
		openByPath: make(map[string]string),
	}
}

// Inspect diffs the engine's current conflict listing against known
// state. opID names the operation that triggered the inspection; it is
// recorded on new conflicts as the originator and on disappeared ones
// as the resolver. Returns copies of the changed records.
func (t *Tracker) Inspect(opID string, listing []jj.ConflictEntry) Diff {
	now := time.Now().UTC()

	t.mu.Lock()
	defer t.mu.Unlock()

	var diff Diff

	listed := make(map[string]struct{}, len(listing))
	for _, entry := range listing {
		if entry.Path == "" {
			continue
		}
		listed[entry.Path] = struct{}{}

		if _, open := t.openByPath[entry.Path]; open {
			continue
		}

		sides := entry.Sides
		if sides < 2 {
			sides = 2
		}
		rec := &Conflict{
			ID:          uuid.NewString(),
			Path:        entry.Path,
			Sides:       sides,
			OperationID: opID,
			DetectedAt:  now,
		}
		t.records[rec.ID] = rec
		t.order = append(t.order, rec.ID)
		t.openByPath[rec.Path] = rec.ID
		diff.New = append(diff.New, rec.clone())
	}

	// Walk in detection order so the diff is deterministic.
	for _, id := range t.order {
		rec := t.records[id]
		if rec.Resolved {
			continue
		}
		if _, still := listed[rec.Path]; still {
			continue
		}
		rec.Resolved = true
		at := now
		rec.ResolvedAt = &at
		rec.ResolvedBy = opID
		delete(t.openByPath, rec.Path)
		diff.Resolved = append(diff.Resolved, rec.clone())
	}

	return diff
}

// Get returns the record with the given id.
func (t *Tracker) Get(id string) (Conflict, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	rec, ok := t.records[id]
	if !ok {
		return Conflict{}, false
	}
	return rec.clone(), true
}

// Open returns every unresolved conflict in detection order.
func (t *Tracker) Open() []Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Conflict, 0, len(t.openByPath))
	for _, id := range t.order {
		if rec := t.records[id]; !rec.Resolved {
			out = append(out, rec.clone())
		}
	}
	return out
}

// All returns every record ever observed in detection order, resolved
// ones included.
func (t *Tracker) All() []Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Conflict, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.records[id].clone())
	}
	return out
}

// ByOperation returns every conflict originated by the given operation,
// in detection order.
func (t *Tracker) ByOperation(opID string) []Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Conflict
	for _, id := range t.order {
		if rec := t.records[id]; rec.OperationID == opID {
			out = append(out, rec.clone())
		}
	}
	return out
}

// ForPath returns the conflict history of one path in detection order.
// A path that conflicted, resolved, and conflicted again has multiple
// records.
func (t *Tracker) ForPath(path string) []Conflict {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []Conflict
	for _, id := range t.order {
		if rec := t.records[id]; rec.Path == path {
			out = append(out, rec.clone())
		}
	}
	return out
}

// Counts returns how many records are open and how many resolved.
func (t *Tracker) Counts() (open, resolved int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	open = len(t.openByPath)
	resolved = len(t.order) - open
	return open, resolved
}
