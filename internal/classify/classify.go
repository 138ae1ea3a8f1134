// Package classify maps engine command lines to a deterministic
// complexity/risk assessment before they run.
//
// Classification is a pure function over a priority-ordered rule table
// keyed by the command verb: the first matching rule wins, and an
// explicit default arm catches every verb the table does not know.
// Unknown verbs are never auto-trusted; they classify as medium
// complexity and high risk so the hook gate refuses them without an
// explicit override.
//
// The classifier performs no I/O, reads no clock, and keeps no state
// between calls. Identical input always yields an identical
// Classification.
package classify

import (
	"strings"
)

// Complexity buckets a command by how much repository state it touches.
type Complexity string

const (
	ComplexityLow    Complexity = "low"
	ComplexityMedium Complexity = "medium"
	ComplexityHigh   Complexity = "high"
)

// Risk is the gate signal: high-risk commands are refused for
// autonomous execution unless the caller overrides explicitly.
type Risk string

const (
	RiskLow  Risk = "low"
	RiskHigh Risk = "high"
)

// Action is a follow-up the classifier suggests alongside a command.
type Action string

const (
	ActionBackup          Action = "backup"
	ActionVerify          Action = "verify"
	ActionTest            Action = "test"
	ActionResolveConflict Action = "resolve_conflict"
	ActionSquash          Action = "squash"
)

// Classification is the computed triple for one command line, plus the
// state-mutating flag that drives conflict inspection. Computed once at
// operation creation and never mutated.
type Classification struct {
	// Verb is the normalized command verb the rules matched on. For
	// family commands (op, git, bookmark) it includes the subverb,
	// e.g. "op restore".
	Verb string `json:"verb"`

	Complexity Complexity `json:"complexity"`
	Risk       Risk       `json:"risk"`

	// SuggestedActions is always non-nil so the JSON form is [] rather
	// than null when nothing is suggested.
	SuggestedActions []Action `json:"suggested_actions"`

	// Mutating reports whether the command changes repository state.
	// Mutating commands trigger a conflict inspection after they run.
	Mutating bool `json:"mutating"`

	// Rule names the table entry that produced this classification,
	// for audit output and per-rule tests.
	Rule string `json:"rule"`
}

// HighRisk reports whether the command needs an explicit override to
// run autonomously.
func (c Classification) HighRisk() bool {
	return c.Risk == RiskHigh
}

// Suggests reports whether the classification carries the given action.
func (c Classification) Suggests(a Action) bool {
	for _, s := range c.SuggestedActions {
		if s == a {
			return true
		}
	}
	return false
}

// Clone returns a copy safe to hand to callers. The actions slice is
// duplicated so callers cannot mutate the rule table through it.
func (c Classification) Clone() Classification {
	out := c
	out.SuggestedActions = make([]Action, len(c.SuggestedActions))
	copy(out.SuggestedActions, c.SuggestedActions)
	return out
}

// command is the parsed view a rule matches against.
type command struct {
	verb string
	sub  string
	args []string
}

// hasFlag reports whether any argument equals the given flag.
func (c command) hasFlag(flag string) bool {
	for _, a := range c.args {
		if a == flag {
			return true
		}
	}
	return false
}

// wideScope reports whether the command targets a broad slice of the
// repository: an --all flag, the all() revset, a revset range, or a
// glob. Destructive verbs with wide scope classify as high/high.
func (c command) wideScope() bool {
	if c.hasFlag("--all") {
		return true
	}
	for _, a := range c.args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if a == "all()" || strings.Contains(a, "..") || strings.ContainsAny(a, "*?") {
			return true
		}
	}
	return false
}

// rule is one arm of the classification table. Rules are evaluated in
// order; the first match wins.
type rule struct {
	name  string
	match func(c command) bool
	out   Classification
}

// Classifier evaluates the built-in rule table. All rules are built at
// construction time; the classifier is immutable and safe for
// concurrent use.
type Classifier struct {
	rules    []rule
	fallback Classification
}

// New returns a classifier with the built-in rule table.
func New() *Classifier {
	return &Classifier{
		rules: buildRules(),
		// Fail-safe default arm: an unfamiliar verb is assumed to
		// mutate state and is never auto-trusted.
		fallback: Classification{
			Complexity:       ComplexityMedium,
			Risk:             RiskHigh,
			SuggestedActions: []Action{ActionBackup, ActionVerify},
			Mutating:         true,
			Rule:             "unknown-verb",
		},
	}
}

// Classify evaluates a whitespace-separated command line.
func (cl *Classifier) Classify(commandLine string) Classification {
	return cl.ClassifyArgs(strings.Fields(commandLine))
}

// ClassifyArgs evaluates a command argument vector as passed to the
// engine, without the engine binary itself.
func (cl *Classifier) ClassifyArgs(args []string) Classification {
	cmd := parse(args)
	for _, r := range cl.rules {
		if r.match(cmd) {
			out := r.out.Clone()
			out.Verb = displayVerb(cmd)
			out.Rule = r.name
			return out
		}
	}
	out := cl.fallback.Clone()
	out.Verb = displayVerb(cmd)
	return out
}

var defaultClassifier = New()

// Classify evaluates a command line against the default rule table.
func Classify(commandLine string) Classification {
	return defaultClassifier.Classify(commandLine)
}

// ClassifyArgs evaluates an argument vector against the default rule table.
func ClassifyArgs(args []string) Classification {
	return defaultClassifier.ClassifyArgs(args)
}

// verbAliases maps engine shorthand to the canonical verb the rules
// are keyed by.
var verbAliases = map[string]string{
	"st":        "status",
	"desc":      "describe",
	"co":        "checkout",
	"b":         "bookmark",
	"branch":    "bookmark",
	"operation": "op",
	"unsquash":  "squash",
}

// globalValueFlags are leading engine flags that consume the next
// token, so the parser does not mistake their value for the verb.
var globalValueFlags = map[string]struct{}{
	"-R":             {},
	"--repository":   {},
	"--at-operation": {},
	"--at-op":        {},
	"--config-toml":  {},
	"--color":        {},
}

// parse extracts the verb, the optional subverb for family commands,
// and the remaining tokens. Leading global flags are skipped.
func parse(args []string) command {
	i := 0
	for i < len(args) {
		a := args[i]
		if !strings.HasPrefix(a, "-") {
			break
		}
		if _, ok := globalValueFlags[a]; ok {
			i += 2
			continue
		}
		if eq := strings.IndexByte(a, '='); eq > 0 {
			if _, ok := globalValueFlags[a[:eq]]; ok {
				i++
				continue
			}
		}
		i++
	}
	if i >= len(args) {
		return command{}
	}

	verb := strings.ToLower(args[i])
	if canonical, ok := verbAliases[verb]; ok {
		verb = canonical
	}
	rest := args[i+1:]

	sub := ""
	if isFamilyVerb(verb) {
		for _, a := range rest {
			if !strings.HasPrefix(a, "-") {
				sub = strings.ToLower(a)
				break
			}
		}
	}
	return command{verb: verb, sub: sub, args: rest}
}

// isFamilyVerb reports whether the verb groups subcommands whose
// semantics differ enough to classify separately.
func isFamilyVerb(verb string) bool {
	switch verb {
	case "op", "git", "bookmark", "workspace", "config", "file":
		return true
	}
	return false
}

func displayVerb(c command) string {
	if c.verb == "" {
		return ""
	}
	if c.sub != "" {
		return c.verb + " " + c.sub
	}
	return c.verb
}

// verbSet builds a membership matcher over canonical verbs.
func verbSet(verbs ...string) func(command) bool {
	set := make(map[string]struct{}, len(verbs))
	for _, v := range verbs {
		set[v] = struct{}{}
	}
	return func(c command) bool {
		_, ok := set[c.verb]
		return ok
	}
}

// familySub matches one subverb of a family command.
func familySub(verb string, subs ...string) func(command) bool {
	set := make(map[string]struct{}, len(subs))
	for _, s := range subs {
		set[s] = struct{}{}
	}
	return func(c command) bool {
		if c.verb != verb {
			return false
		}
		_, ok := set[c.sub]
		return ok
	}
}

func actions(as ...Action) []Action {
	if len(as) == 0 {
		return []Action{}
	}
	return as
}

// buildRules returns the ordered classification table. More specific
// arms come first so they are not shadowed by broader ones.
func buildRules() []rule {
	readOnly := Classification{
		Complexity:       ComplexityLow,
		Risk:             RiskLow,
		SuggestedActions: actions(),
		Mutating:         false,
	}
	destructive := verbSet("abandon", "restore", "obliterate", "discard", "untrack")

	rules := []rule{
		// Conflict listing is a query even though "resolve" mutates.
		{
			name: "resolve-list",
			match: func(c command) bool {
				return c.verb == "resolve" && (c.hasFlag("--list") || c.hasFlag("-l"))
			},
			out: readOnly,
		},
		{
			name:  "read-only",
			match: verbSet("status", "log", "diff", "show", "files", "cat", "root", "version", "help", "evolog", "obslog", "interdiff"),
			out:   readOnly,
		},
		{
			name:  "op-read-only",
			match: familySub("op", "log", "show", "diff"),
			out:   readOnly,
		},
		{
			name:  "family-read-only",
			match: matchAny(familySub("git", "export", "import", "remote"), familySub("bookmark", "list", "track", "untrack"), familySub("workspace", "list", "root"), familySub("config", "list", "get", "path"), familySub("file", "show", "list", "annotate")),
			out:   readOnly,
		},

		// Destructive verbs over a wide scope are the one combination
		// the gate must never let through unreviewed.
		{
			name: "destructive-wide-scope",
			match: func(c command) bool {
				return destructive(c) && c.wideScope()
			},
			out: Classification{
				Complexity:       ComplexityHigh,
				Risk:             RiskHigh,
				SuggestedActions: actions(ActionBackup, ActionVerify),
				Mutating:         true,
			},
		},
		{
			name:  "destructive-narrow-scope",
			match: destructive,
			out: Classification{
				Complexity:       ComplexityMedium,
				Risk:             RiskHigh,
				SuggestedActions: actions(ActionBackup),
				Mutating:         true,
			},
		},

		// Restoring the whole repository to an earlier operation is
		// sweeping even though it is also the recovery path.
		{
			name:  "op-restore",
			match: familySub("op", "restore", "abandon"),
			out: Classification{
				Complexity:       ComplexityHigh,
				Risk:             RiskHigh,
				SuggestedActions: actions(ActionBackup, ActionVerify),
				Mutating:         true,
			},
		},
		{
			name:  "op-undo",
			match: familySub("op", "undo"),
			out: Classification{
				Complexity:       ComplexityMedium,
				Risk:             RiskLow,
				SuggestedActions: actions(ActionVerify),
				Mutating:         true,
			},
		},

		// History rewriting merges divergent state and is the usual
		// source of new conflicts.
		{
			name:  "history-rewrite",
			match: verbSet("rebase", "squash", "merge", "split", "move", "absorb", "backout", "duplicate", "parallelize"),
			out: Classification{
				Complexity:       ComplexityMedium,
				Risk:             RiskLow,
				SuggestedActions: actions(ActionBackup, ActionVerify),
				Mutating:         true,
			},
		},
		{
			name:  "resolve",
			match: verbSet("resolve"),
			out: Classification{
				Complexity:       ComplexityMedium,
				Risk:             RiskLow,
				SuggestedActions: actions(ActionVerify, ActionTest),
				Mutating:         true,
			},
		},

		{
			name:  "creation",
			match: verbSet("new", "commit", "describe", "edit", "checkout", "tag"),
			out: Classification{
				Complexity:       ComplexityLow,
				Risk:             RiskLow,
				SuggestedActions: actions(),
				Mutating:         true,
			},
		},
		{
			name:  "ref-management",
			match: matchAny(familySub("bookmark", "create", "set", "move", "rename", "delete", "forget"), familySub("workspace", "add", "forget", "rename"), familySub("git", "fetch", "clone", "init")),
			out: Classification{
				Complexity:       ComplexityMedium,
				Risk:             RiskLow,
				SuggestedActions: actions(),
				Mutating:         true,
			},
		},
		{
			name:  "git-push",
			match: familySub("git", "push"),
			out: Classification{
				Complexity:       ComplexityMedium,
				Risk:             RiskLow,
				SuggestedActions: actions(ActionVerify),
				Mutating:         true,
			},
		},

		// Config edits change behavior, not repository state, so they
		// never trigger conflict inspection.
		{
			name:  "config-write",
			match: familySub("config", "set", "edit", "unset"),
			out: Classification{
				Complexity:       ComplexityMedium,
				Risk:             RiskLow,
				SuggestedActions: actions(),
				Mutating:         false,
			},
		},
	}
	return rules
}

func matchAny(ms ...func(command) bool) func(command) bool {
	return func(c command) bool {
		for _, m := range ms {
			if m(c) {
				return true
			}
		}
		return false
	}
}
