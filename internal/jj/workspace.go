package jj

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-git/go-git/v5"
)

// Workspace describes a detected Jujutsu workspace.
type Workspace struct {
	// Root is the directory containing .jj.
	Root string `json:"root"`

	// JJDir is the .jj directory itself.
	JJDir string `json:"jj_dir"`

	// Colocated is set when the root also carries a .git store.
	Colocated bool `json:"colocated"`

	// GitBranch is the backing git branch for colocated workspaces,
	// empty when detached or unreadable.
	GitBranch string `json:"git_branch,omitempty"`
}

// OpHeadsDir returns the engine's operation-heads directory, the path
// that changes whenever any process commits an operation.
func (w *Workspace) OpHeadsDir() string {
	return filepath.Join(w.JJDir, "repo", "op_heads", "heads")
}

// DetectWorkspace walks up from path looking for a .jj directory. The
// walk stops at a .git boundary: a plain git repo nested inside a jj
// workspace must not inherit the parent workspace.
func DetectWorkspace(path string) (*Workspace, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", path, err)
	}

	dir := abs
	for {
		jjDir := filepath.Join(dir, ".jj")
		if isDir(jjDir) {
			ws := &Workspace{
				Root:  dir,
				JJDir: jjDir,
			}
			if isDir(filepath.Join(dir, ".git")) {
				ws.Colocated = true
				ws.GitBranch = detectGitBranch(dir)
			}
			return ws, nil
		}

		// A .git without .jj at this level is a boundary.
		if isDir(filepath.Join(dir, ".git")) {
			return nil, fmt.Errorf("%w: %s is inside a git repository", ErrNotRepository, abs)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, fmt.Errorf("%w: no .jj above %s", ErrNotRepository, abs)
		}
		dir = parent
	}
}

// detectGitBranch reads the backing git store's HEAD. Failures are not
// errors; colocated detection already succeeded on the filesystem.
func detectGitBranch(root string) string {
	repo, err := git.PlainOpen(root)
	if err != nil {
		return ""
	}
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return ""
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
