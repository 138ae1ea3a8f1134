package learning

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentjj/internal/oplog"
)

// Record is the learning store's view of one engine operation. It is
// flat and string-friendly so both backends can round-trip it through
// their metadata/payload maps.
type Record struct {
	ID          string        `json:"id"`
	AgentID     string        `json:"agent_id"`
	SessionID   string        `json:"session_id"`
	Command     string        `json:"command"`
	Verb        string        `json:"verb"`
	Complexity  string        `json:"complexity"`
	Risk        string        `json:"risk"`
	Success     bool          `json:"success"`
	HasConflict bool          `json:"has_conflict"`
	ExitCode    int           `json:"exit_code"`
	Duration    time.Duration `json:"duration"`
	Timestamp   time.Time     `json:"timestamp"`
	Excerpt     string        `json:"excerpt,omitempty"`
	Tag         string        `json:"tag"`
}

// FromOperation flattens an operation into a Record filed under tag.
func FromOperation(op oplog.Operation, tag string) Record {
	excerpt := op.Stderr
	if excerpt == "" {
		excerpt = op.Stdout
	}

	return Record{
		ID:          op.ID,
		AgentID:     op.AgentID,
		SessionID:   op.SessionID,
		Command:     op.Command(),
		Verb:        op.Classification.Verb,
		Complexity:  string(op.Classification.Complexity),
		Risk:        string(op.Classification.Risk),
		Success:     op.Success,
		HasConflict: op.HasConflict,
		ExitCode:    op.ExitCode,
		Duration:    op.Duration,
		Timestamp:   op.EndedAt,
		Excerpt:     excerpt,
		Tag:         tag,
	}
}

// Document renders the text that gets embedded. Similarity search runs
// over this, so it leads with the command and the outcome.
func (r Record) Document() string {
	var b strings.Builder
	b.WriteString("command: ")
	b.WriteString(r.Command)

	b.WriteString("\noutcome: ")
	if r.Success {
		b.WriteString("succeeded")
	} else {
		b.WriteString(fmt.Sprintf("failed with exit code %d", r.ExitCode))
	}
	if r.HasConflict {
		b.WriteString(", introduced conflicts")
	}

	b.WriteString("\nclassification: ")
	b.WriteString(r.Complexity)
	b.WriteString(" complexity, ")
	b.WriteString(r.Risk)
	b.WriteString(" risk")

	if r.Excerpt != "" {
		b.WriteString("\noutput: ")
		b.WriteString(r.Excerpt)
	}
	return b.String()
}

// Metadata flattens the record for backends that store string maps.
func (r Record) Metadata() map[string]string {
	return map[string]string{
		"agent_id":     r.AgentID,
		"session_id":   r.SessionID,
		"command":      r.Command,
		"verb":         r.Verb,
		"complexity":   r.Complexity,
		"risk":         r.Risk,
		"success":      strconv.FormatBool(r.Success),
		"has_conflict": strconv.FormatBool(r.HasConflict),
		"exit_code":    strconv.Itoa(r.ExitCode),
		"duration_ms":  strconv.FormatInt(r.Duration.Milliseconds(), 10),
		"timestamp":    r.Timestamp.UTC().Format(time.RFC3339Nano),
		"tag":          r.Tag,
	}
}

// recordFromMetadata rebuilds a Record from a backend's string map.
// Missing or malformed fields fall back to zero values; retrieval is
// advisory, not authoritative.
func recordFromMetadata(id string, meta map[string]string) Record {
	rec := Record{
		ID:         id,
		AgentID:    meta["agent_id"],
		SessionID:  meta["session_id"],
		Command:    meta["command"],
		Verb:       meta["verb"],
		Complexity: meta["complexity"],
		Risk:       meta["risk"],
		Tag:        meta["tag"],
	}
	rec.Success, _ = strconv.ParseBool(meta["success"])
	rec.HasConflict, _ = strconv.ParseBool(meta["has_conflict"])
	rec.ExitCode, _ = strconv.Atoi(meta["exit_code"])
	if ms, err := strconv.ParseInt(meta["duration_ms"], 10, 64); err == nil {
		rec.Duration = time.Duration(ms) * time.Millisecond
	}
	if ts, err := time.Parse(time.RFC3339Nano, meta["timestamp"]); err == nil {
		rec.Timestamp = ts
	}
	return rec
}
