package oplog

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/agentjj/internal/classify"
	"github.com/fyrsmithlabs/agentjj/internal/jj"
)

// DefaultExcerptLimit caps each recorded output stream when the caller
// does not configure a limit.
const DefaultExcerptLimit = 8192

// Operation is one recorded engine invocation plus its outcome and
// classification. Created when a command completes and immutable
// thereafter; the log owns the stored copy and evicts it oldest-first
// at capacity.
type Operation struct {
	ID        string    `json:"id"`
	Args      []string  `json:"args"`
	AgentID   string    `json:"agent_id"`
	SessionID string    `json:"session_id"`

	StartedAt time.Time     `json:"started_at"`
	EndedAt   time.Time     `json:"ended_at"`
	Duration  time.Duration `json:"duration"`

	ExitCode int  `json:"exit_code"`
	Success  bool `json:"success"`

	// Stdout and Stderr are bounded excerpts, not the full streams.
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated,omitempty"`

	Classification classify.Classification `json:"classification"`

	// HasConflict marks operations whose conflict inspection found
	// newly conflicting paths.
	HasConflict bool `json:"has_conflict"`
}

// Command renders the argument vector as a display string.
func (o Operation) Command() string {
	return strings.Join(o.Args, " ")
}

// Clone returns a deep copy. Slice-typed fields are duplicated so the
// copy shares no mutable state with the original.
func (o Operation) Clone() Operation {
	cp := o
	cp.Args = make([]string, len(o.Args))
	copy(cp.Args, o.Args)
	cp.Classification = o.Classification.Clone()
	return cp
}

// Params carries the identity and policy inputs needed to turn an
// engine result into an Operation record.
type Params struct {
	// ID is the operation id. Generated when empty; callers that need
	// the id before the record exists (conflict inspection references
	// it) pass one in.
	ID string

	AgentID   string
	SessionID string

	Classification classify.Classification
	HasConflict    bool

	// ExcerptLimit bounds each recorded output stream in bytes.
	// Non-positive means DefaultExcerptLimit.
	ExcerptLimit int
}

// NewID returns a fresh operation id.
func NewID() string {
	return uuid.NewString()
}

// FromResult builds an immutable Operation record from a completed
// engine result. The argument vector is copied and both output streams
// are truncated to the excerpt limit.
func FromResult(res *jj.Result, p Params) Operation {
	id := p.ID
	if id == "" {
		id = NewID()
	}
	limit := p.ExcerptLimit
	if limit <= 0 {
		limit = DefaultExcerptLimit
	}

	args := make([]string, len(res.Args))
	copy(args, res.Args)

	stdout, outCut := truncateExcerpt(res.Stdout, limit)
	stderr, errCut := truncateExcerpt(res.Stderr, limit)

	return Operation{
		ID:             id,
		Args:           args,
		AgentID:        p.AgentID,
		SessionID:      p.SessionID,
		StartedAt:      res.StartedAt,
		EndedAt:        res.StartedAt.Add(res.Duration),
		Duration:       res.Duration,
		ExitCode:       res.ExitCode,
		Success:        res.ExitCode == 0,
		Stdout:         stdout,
		Stderr:         stderr,
		Truncated:      outCut || errCut || res.OutputTruncated,
		Classification: p.Classification.Clone(),
		HasConflict:    p.HasConflict,
	}
}

// truncateExcerpt cuts s to at most limit bytes, backing off to a rune
// boundary so the excerpt stays valid UTF-8.
func truncateExcerpt(s string, limit int) (string, bool) {
	if len(s) <= limit {
		return s, false
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut], true
}
