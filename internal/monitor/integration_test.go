package monitor

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/conflict"
	obsapi "github.com/fyrsmithlabs/agentjj/internal/http"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/learning"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// TestClientAgainstObservationServer runs the monitor client against
// the real observation API rather than a hand-rolled fake.
func TestClientAgainstObservationServer(t *testing.T) {
	log := oplog.MustNewLog(100)
	tracker := conflict.NewTracker()
	learner, err := learning.NewAdapter(nil, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = learner.Close() })

	srv, err := obsapi.NewServer(log, tracker, nil, learner, nil, logging.Nop(), nil)
	require.NoError(t, err)

	now := time.Now().UTC()
	log.Append(oplog.Operation{
		ID:             "op-1",
		Args:           []string{"status"},
		AgentID:        "agent-1",
		SessionID:      "sess-1",
		StartedAt:      now,
		EndedAt:        now,
		Success:        true,
		Classification: classify.Classify("status"),
	})
	tracker.Inspect("op-1", []jj.ConflictEntry{{Path: "main.go", Sides: 2}})

	ts := httptest.NewServer(srv.Echo())
	t.Cleanup(ts.Close)

	snap, err := NewClient(ts.URL).Fetch(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "ok", snap.Status)
	assert.Equal(t, 1, snap.OpenConflicts)
	assert.Equal(t, 1, snap.LogSize)
	assert.Equal(t, 100, snap.LogCapacity)
	assert.Equal(t, 1, snap.Total)
	assert.InDelta(t, 1.0, snap.SuccessRate, 0.001)
	assert.Equal(t, "local", snap.Source)
}
