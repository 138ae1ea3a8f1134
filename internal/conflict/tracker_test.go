package conflict

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentjj/internal/jj"
)

func listing(paths ...string) []jj.ConflictEntry {
	out := make([]jj.ConflictEntry, len(paths))
	for i, p := range paths {
		out[i] = jj.ConflictEntry{Path: p, Sides: 2}
	}
	return out
}

func paths(cs []Conflict) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = c.Path
	}
	return out
}

func TestInspectRecordsNewConflicts(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	diff := tr.Inspect("op-1", listing("src/main.go", "src/util.go"))

	require.Len(t, diff.New, 2)
	assert.Empty(t, diff.Resolved)

	for _, c := range diff.New {
		assert.NotEmpty(t, c.ID)
		assert.Equal(t, "op-1", c.OperationID)
		assert.Equal(t, 2, c.Sides)
		assert.False(t, c.Resolved)
		assert.Nil(t, c.ResolvedAt)
		assert.False(t, c.DetectedAt.IsZero())
	}
	assert.NotEqual(t, diff.New[0].ID, diff.New[1].ID)

	open := tr.Open()
	assert.Equal(t, []string{"src/main.go", "src/util.go"}, paths(open))
}

func TestInspectResolvesDisappearedPaths(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Inspect("op-1", listing("a.go", "b.go"))

	// A later inspection no longer lists b.go: only b.go resolves.
	diff := tr.Inspect("op-2", listing("a.go"))

	assert.Empty(t, diff.New)
	require.Len(t, diff.Resolved, 1)
	resolved := diff.Resolved[0]
	assert.Equal(t, "b.go", resolved.Path)
	assert.True(t, resolved.Resolved)
	require.NotNil(t, resolved.ResolvedAt)
	assert.Equal(t, "op-2", resolved.ResolvedBy)
	assert.Equal(t, "op-1", resolved.OperationID)

	assert.Equal(t, []string{"a.go"}, paths(tr.Open()))
}

func TestResolvedRecordsPersistForAudit(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Inspect("op-1", listing("a.go", "b.go"))
	tr.Inspect("op-2", nil)

	assert.Empty(t, tr.Open())

	all := tr.All()
	require.Len(t, all, 2)
	for _, c := range all {
		assert.True(t, c.Resolved)
	}

	open, resolved := tr.Counts()
	assert.Equal(t, 0, open)
	assert.Equal(t, 2, resolved)
}

func TestReconflictCreatesNewRecord(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	first := tr.Inspect("op-1", listing("a.go"))
	tr.Inspect("op-2", nil)
	second := tr.Inspect("op-3", listing("a.go"))

	require.Len(t, second.New, 1)
	assert.NotEqual(t, first.New[0].ID, second.New[0].ID)

	history := tr.ForPath("a.go")
	require.Len(t, history, 2)
	assert.True(t, history[0].Resolved)
	assert.False(t, history[1].Resolved)
}

func TestInspectIsStableOnUnchangedListing(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Inspect("op-1", listing("a.go"))
	diff := tr.Inspect("op-2", listing("a.go"))

	assert.True(t, diff.Empty())
	assert.Len(t, tr.All(), 1)
}

func TestInspectDefaultsSideCount(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	diff := tr.Inspect("op-1", []jj.ConflictEntry{{Path: "a.go", Sides: 0}})

	require.Len(t, diff.New, 1)
	assert.Equal(t, 2, diff.New[0].Sides)
}

func TestInspectKeepsParsedSideCount(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	diff := tr.Inspect("op-1", []jj.ConflictEntry{{Path: "a.go", Sides: 4}})

	require.Len(t, diff.New, 1)
	assert.Equal(t, 4, diff.New[0].Sides)
}

func TestInspectSkipsEmptyPaths(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	diff := tr.Inspect("op-1", []jj.ConflictEntry{{Path: "", Sides: 2}})

	assert.True(t, diff.Empty())
	assert.Empty(t, tr.All())
}

func TestByOperation(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	tr.Inspect("op-1", listing("a.go"))
	tr.Inspect("op-2", listing("a.go", "b.go"))

	assert.Equal(t, []string{"a.go"}, paths(tr.ByOperation("op-1")))
	assert.Equal(t, []string{"b.go"}, paths(tr.ByOperation("op-2")))
}

func TestGetReturnsCopy(t *testing.T) {
	t.Parallel()

	tr := NewTracker()
	diff := tr.Inspect("op-1", listing("a.go"))
	id := diff.New[0].ID

	got, ok := tr.Get(id)
	require.True(t, ok)

	got.Path = "mutated"
	again, ok := tr.Get(id)
	require.True(t, ok)
	assert.Equal(t, "a.go", again.Path)

	_, ok = tr.Get("missing")
	assert.False(t, ok)
}

func TestConcurrentInspections(t *testing.T) {
	t.Parallel()

	// The listing is the repository's complete conflict state, so
	// concurrent inspections all see the same paths. No path may end
	// up with more than one open record.
	all := make([]string, 8)
	for i := range all {
		all[i] = fmt.Sprintf("file-%d.go", i)
	}

	tr := NewTracker()

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				tr.Inspect(fmt.Sprintf("op-%d-%d", w, i), listing(all...))
				_ = tr.Open()
			}
		}(w)
	}
	wg.Wait()

	open := tr.Open()
	assert.Len(t, open, len(all))
	assert.Len(t, tr.All(), len(all))
	seen := make(map[string]bool)
	for _, c := range open {
		assert.False(t, seen[c.Path], "duplicate open record for %s", c.Path)
		seen[c.Path] = true
	}
}
