package secrets

import (
	"strconv"
	"time"
)

// Result contains the outcome of a scrub pass.
type Result struct {
	// Original is the input content, never serialized.
	Original string `json:"-"`

	// Scrubbed is the content with secrets replaced by markers.
	Scrubbed string `json:"scrubbed"`

	// Findings describes detected secrets without their values.
	Findings []Finding `json:"findings,omitempty"`

	// TotalFindings is the count of secrets found.
	TotalFindings int `json:"total_findings"`

	// ByRule maps rule IDs to finding counts.
	ByRule map[string]int `json:"by_rule,omitempty"`

	// Duration is how long the scrub took.
	Duration time.Duration `json:"duration"`
}

// Finding records where a secret was detected. The matched value is
// deliberately absent so a Result can be logged as-is.
type Finding struct {
	RuleID      string `json:"rule_id"`
	Description string `json:"description"`
	Line        int    `json:"line,omitempty"`
	Preview     string `json:"preview,omitempty"`
}

// HasFindings reports whether any secrets were found.
func (r *Result) HasFindings() bool {
	return r.TotalFindings > 0
}

// RuleIDs returns the unique rule IDs that matched.
func (r *Result) RuleIDs() []string {
	ids := make([]string, 0, len(r.ByRule))
	for id := range r.ByRule {
		ids = append(ids, id)
	}
	return ids
}

// Summary returns a one-line description suitable for log fields.
func (r *Result) Summary() string {
	if !r.HasFindings() {
		return "no secrets detected"
	}
	if r.TotalFindings == 1 {
		return "1 secret redacted"
	}
	return strconv.Itoa(r.TotalFindings) + " secrets redacted"
}
