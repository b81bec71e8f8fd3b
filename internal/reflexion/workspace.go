// Package reflexion runs the self-correction loop: generate, materialize,
// gate, reflect, retry. A task gets a bounded number of attempts; each
// failure produces a structured reflection that is fed into the next
// attempt and persisted to episodic memory.
package reflexion

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aurora-dev/aurora/internal/core"
)

// Workspace materializes generated files into per-task, per-attempt
// directories so gates can run against a real filesystem and a failed
// attempt never contaminates the next one.
type Workspace struct {
	root string
}

// NewWorkspace creates a workspace manager rooted at dir.
func NewWorkspace(root string) (*Workspace, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Workspace{root: root}, nil
}

// Materialize writes the generated files under a fresh attempt directory
// and returns its path.
func (w *Workspace) Materialize(taskID core.TaskID, attempt int, files []core.GeneratedFile) (string, error) {
	dir := filepath.Join(w.root, string(taskID), fmt.Sprintf("attempt-%d", attempt))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("creating attempt directory: %w", err)
	}

	for _, f := range files {
		clean := filepath.Clean(f.Path)
		if filepath.IsAbs(clean) || clean == ".." || len(clean) >= 3 && clean[:3] == ".."+string(filepath.Separator) {
			return "", core.ErrValidation("PATH_ESCAPE",
				fmt.Sprintf("generated path %s escapes the workspace", f.Path))
		}
		target := filepath.Join(dir, clean)
		if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
			return "", fmt.Errorf("creating parent for %s: %w", clean, err)
		}
		if err := os.WriteFile(target, []byte(f.Content), 0o640); err != nil {
			return "", fmt.Errorf("writing %s: %w", clean, err)
		}
	}
	return dir, nil
}

// Cleanup removes every attempt directory for a task.
func (w *Workspace) Cleanup(taskID core.TaskID) error {
	return os.RemoveAll(filepath.Join(w.root, string(taskID)))
}
