package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Scrubber detects and redacts secrets in text.
type Scrubber interface {
	// Scrub redacts secrets and reports what was found.
	Scrub(content string) *Result

	// Check detects secrets without modifying the content.
	Check(content string) *Result

	// IsEnabled reports whether scrubbing is active.
	IsEnabled() bool
}

// Options configures a Scrubber.
type Options struct {
	// Enabled turns scrubbing on. When false New returns a no-op.
	Enabled bool

	// RepoPath is the directory searched for a .gitleaks.toml allowlist.
	RepoPath string

	// UserAllowlistPath is an optional extra allowlist file.
	UserAllowlistPath string
}

// scrubber runs the Gitleaks ruleset over content. The detector is
// built once; DetectString mutates internal detector state, so calls
// are serialized.
type scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Scrubber from options. Allowlist files that exist but
// do not parse are reported as errors rather than silently weakening
// detection.
func New(opts Options) (Scrubber, error) {
	if !opts.Enabled {
		return &NoopScrubber{}, nil
	}

	allowlist, err := LoadAllowlists(opts.RepoPath, opts.UserAllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlists: %w", err)
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("building detector: %w", err)
	}
	applyAllowlist(&detector.Config, allowlist)

	return &scrubber{detector: detector}, nil
}

// MustNew builds a Scrubber and panics on error.
func MustNew(opts Options) Scrubber {
	s, err := New(opts)
	if err != nil {
		panic(err)
	}
	return s
}

func (s *scrubber) Scrub(content string) *Result {
	start := time.Now()
	result := &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}

	s.mu.Lock()
	findings := s.detector.DetectString(content)
	s.mu.Unlock()

	// Collect unique secret values. The same token often shows up on
	// several lines of engine output; one marker form covers them all.
	type match struct {
		secret string
		ruleID string
	}
	seen := make(map[string]struct{})
	matches := make([]match, 0, len(findings))

	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		result.Findings = append(result.Findings, Finding{
			RuleID:      f.RuleID,
			Description: f.Description,
			Line:        f.StartLine,
			Preview:     preview(f.Secret, 4),
		})
		result.ByRule[f.RuleID]++
		if _, dup := seen[f.Secret]; !dup {
			seen[f.Secret] = struct{}{}
			matches = append(matches, match{secret: f.Secret, ruleID: f.RuleID})
		}
	}
	result.TotalFindings = len(result.Findings)

	if len(matches) > 0 {
		// Longest first so a secret embedded in a larger one cannot
		// split an already-placed marker.
		sort.Slice(matches, func(i, j int) bool {
			return len(matches[i].secret) > len(matches[j].secret)
		})
		scrubbed := content
		for _, m := range matches {
			marker := fmt.Sprintf("[REDACTED:%s:%s]", m.ruleID, preview(m.secret, 4))
			scrubbed = strings.ReplaceAll(scrubbed, m.secret, marker)
		}
		result.Scrubbed = scrubbed
	}

	result.Duration = time.Since(start)
	return result
}

func (s *scrubber) Check(content string) *Result {
	result := s.Scrub(content)
	result.Scrubbed = result.Original
	return result
}

func (s *scrubber) IsEnabled() bool { return true }

// preview returns the first n bytes of a secret for the marker.
func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// applyAllowlist merges user patterns into the Gitleaks config.
// Patterns were validated in loadTOML, so compilation cannot fail.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	if len(allowlist.Paths) == 0 && len(allowlist.Regexes) == 0 {
		return
	}

	global := &gitleaksConfig.Allowlist{
		Description: "agentjj user/repo allowlist",
	}
	for _, pattern := range allowlist.Paths {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("pre-validated path pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Paths = append(global.Paths, (*gitleaksRegexp.Regexp)(re))
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("pre-validated content pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	// Literal tokens in the regex list also act as stopwords so plain
	// strings suppress matches without regex anchoring.
	global.StopWords = append(global.StopWords, allowlist.Regexes...)

	cfg.Allowlists = append(cfg.Allowlists, global)
}

// NoopScrubber passes content through untouched.
type NoopScrubber struct{}

func (n *NoopScrubber) Scrub(content string) *Result {
	return &Result{
		Original: content,
		Scrubbed: content,
		Findings: make([]Finding, 0),
		ByRule:   make(map[string]int),
	}
}

func (n *NoopScrubber) Check(content string) *Result { return n.Scrub(content) }

func (n *NoopScrubber) IsEnabled() bool { return false }

var (
	_ Scrubber = (*scrubber)(nil)
	_ Scrubber = (*NoopScrubber)(nil)
)
