package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist holds path and content regex patterns excluded from detection.
type Allowlist struct {
	Paths   []string
	Regexes []string
}

// LoadAllowlists merges the repo-level .gitleaks.toml and the user
// allowlist file using union semantics. Missing files are silently
// skipped; files that exist but fail to parse or validate are errors.
//
// repoPath is the directory searched for .gitleaks.toml (empty to skip).
// userPath is the full path to the user allowlist file (empty to skip).
func LoadAllowlists(repoPath, userPath string) (*Allowlist, error) {
	merged := &Allowlist{
		Paths:   []string{},
		Regexes: []string{},
	}

	if repoPath != "" {
		repoFile := filepath.Join(repoPath, ".gitleaks.toml")
		repo, err := loadTOML(repoFile)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, repo.Paths...)
			merged.Regexes = append(merged.Regexes, repo.Regexes...)
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	if userPath != "" {
		user, err := loadTOML(userPath)
		switch {
		case err == nil:
			merged.Paths = append(merged.Paths, user.Paths...)
			merged.Regexes = append(merged.Regexes, user.Regexes...)
		case !os.IsNotExist(err):
			return nil, err
		}
	}

	return merged, nil
}

// loadTOML reads one allowlist file and fail-fast validates its patterns.
func loadTOML(path string) (*Allowlist, error) {
	var file struct {
		Allowlist struct {
			Paths   []string
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &file); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range file.Allowlist.Paths {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: path pattern %q in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}
	for _, pattern := range file.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: content pattern %q in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Paths:   file.Allowlist.Paths,
		Regexes: file.Allowlist.Regexes,
	}, nil
}
