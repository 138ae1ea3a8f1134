package hooks

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
	"github.com/fyrsmithlabs/agentjj/internal/logging"
	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

var (
	// ErrInvalidState reports a hook called out of session order, for
	// example post_edit before pre_task.
	ErrInvalidState = errors.New("hook called out of session order")

	// ErrHighRisk reports a command the gate refused to run
	// autonomously.
	ErrHighRisk = errors.New("high-risk command requires explicit override")
)

// State is one position in the per-session lifecycle.
type State string

const (
	// StateIdle means no task is in flight. Unknown sessions are Idle.
	StateIdle State = "idle"

	// StateTaskStarted means pre_task ran and no edit has landed yet.
	StateTaskStarted State = "task_started"

	// StateEditing means at least one post_edit ran.
	StateEditing State = "editing"
)

// HookContext identifies the caller of a hook. It is an ephemeral
// value; nothing persists beyond the operations it causes.
type HookContext struct {
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`
	Task      string    `json:"task,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// validate rejects contexts that cannot name a session. The id rule
// matches the logging context helpers, which panic on ids they cannot
// carry.
func (h HookContext) validate() error {
	if err := logging.ValidateID(h.AgentID, "agent id"); err != nil {
		return fmt.Errorf("%w: %v", jj.ErrInvalidInput, err)
	}
	if err := logging.ValidateID(h.SessionID, "session id"); err != nil {
		return fmt.Errorf("%w: %v", jj.ErrInvalidInput, err)
	}
	return nil
}

// at returns the context timestamp, defaulting to now.
func (h HookContext) at() time.Time {
	if h.Timestamp.IsZero() {
		return time.Now().UTC()
	}
	return h.Timestamp
}

// TaskSummary is what post_task returns: everything the session
// recorded between pre_task and post_task.
type TaskSummary struct {
	SessionID string    `json:"session_id"`
	AgentID   string    `json:"agent_id"`
	Task      string    `json:"task,omitempty"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`

	EditCount  int               `json:"edit_count"`
	Operations []oplog.Operation `json:"operations"`

	// ConflictsDetected counts operations whose inspection found new
	// conflicts.
	ConflictsDetected int `json:"conflicts_detected"`

	// SuggestedActions carries session-level suggestions, e.g. squash
	// after many small mutations.
	SuggestedActions []classify.Action `json:"suggested_actions"`
}

// SessionInfo is a read-only snapshot of one live session.
type SessionInfo struct {
	SessionID  string    `json:"session_id"`
	AgentID    string    `json:"agent_id"`
	Task       string    `json:"task,omitempty"`
	State      State     `json:"state"`
	StartedAt  time.Time `json:"started_at"`
	EditCount  int       `json:"edit_count"`
	Operations int       `json:"operations"`
	Conflicts  int       `json:"conflicts"`
}
