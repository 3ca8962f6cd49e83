// Package workspace owns the on-disk layout of a review run: the reports
// directory, the raw capture area, and the aggregate artifacts. Every write
// the pipeline performs goes through this package so that path containment
// and atomicity are enforced in one place.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Artifact names inside the reports directory. Downstream tooling (CI
// annotations, the gate step of the workflow) matches on these exact names.
const (
	RawDirName      = "raw"
	SummaryFileName = "summary.md"
	GateFileName    = "gate.txt"
	VerdictFileName = "gate.json"
	LedgerFileName  = "runs.db"
)

// PathError reports an attempt to read or write outside the reports
// directory. Callers treat it as a security violation, not an I/O failure.
type PathError struct {
	Path string
	Root string
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("path %q escapes reports directory %q", e.Path, e.Root)
}

// Layout resolves artifact locations under a single reports directory.
type Layout struct {
	root string
}

// NewLayout creates a layout rooted at dir. The directory does not need to
// exist yet; call Ensure before the first write.
func NewLayout(dir string) *Layout {
	return &Layout{root: dir}
}

// Root returns the reports directory path as configured.
func (l *Layout) Root() string {
	return l.root
}

// Ensure creates the reports directory and the raw capture subdirectory.
func (l *Layout) Ensure() error {
	if l.root == "" {
		return fmt.Errorf("reports directory is required")
	}
	if err := os.MkdirAll(filepath.Join(l.root, RawDirName), 0755); err != nil {
		return fmt.Errorf("failed to create reports directory: %w", err)
	}
	return nil
}

// RawPath returns the raw capture destination for a tool.
func (l *Layout) RawPath(tool string) string {
	return filepath.Join(l.root, RawDirName, tool+".txt")
}

// SidePath returns the side answer file location for a tool. Only the
// argument-based provider uses it; the path is reserved for every tool so
// the naming stays uniform.
func (l *Layout) SidePath(tool string) string {
	return filepath.Join(l.root, RawDirName, tool+"-last-message.txt")
}

// ReportPath returns the normalized report destination for a tool.
func (l *Layout) ReportPath(tool string) string {
	return filepath.Join(l.root, "review-"+tool+".json")
}

// SummaryPath returns the aggregate summary document location.
func (l *Layout) SummaryPath() string {
	return filepath.Join(l.root, SummaryFileName)
}

// GatePath returns the single-token gate artifact location.
func (l *Layout) GatePath() string {
	return filepath.Join(l.root, GateFileName)
}

// VerdictPath returns the machine-readable verdict location.
func (l *Layout) VerdictPath() string {
	return filepath.Join(l.root, VerdictFileName)
}

// LedgerPath returns the default run ledger database location.
func (l *Layout) LedgerPath() string {
	return filepath.Join(l.root, LedgerFileName)
}

// Resolve validates that candidate stays strictly inside the reports
// directory and returns its absolute form. Relative candidates are joined
// to the root first. Symlinked components that point outside the root are
// rejected the same way `..` segments are.
func (l *Layout) Resolve(candidate string) (string, error) {
	rootAbs, err := filepath.Abs(l.root)
	if err != nil {
		return "", fmt.Errorf("failed to resolve reports directory: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(rootAbs); err == nil {
		rootAbs = resolved
	}

	path := candidate
	if !filepath.IsAbs(path) {
		path = filepath.Join(rootAbs, path)
	}
	pathAbs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve path %q: %w", candidate, err)
	}
	// Resolve symlinks on the deepest existing ancestor so a link inside the
	// reports dir cannot redirect writes elsewhere.
	if resolved, err := resolveExisting(pathAbs); err == nil {
		pathAbs = resolved
	}

	rel, err := filepath.Rel(rootAbs, pathAbs)
	if err != nil {
		return "", &PathError{Path: candidate, Root: l.root}
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &PathError{Path: candidate, Root: l.root}
	}
	return pathAbs, nil
}

// resolveExisting evaluates symlinks for the longest existing prefix of path
// and rejoins the non-existing remainder.
func resolveExisting(path string) (string, error) {
	remainder := ""
	current := path
	for {
		resolved, err := filepath.EvalSymlinks(current)
		if err == nil {
			return filepath.Join(resolved, remainder), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		remainder = filepath.Join(filepath.Base(current), remainder)
		current = parent
	}
}

// WriteFile writes data to a path inside the reports directory. The write is
// atomic: data lands in a temp file in the destination directory, is synced,
// then renamed over the target. A partially written artifact is never
// observable.
func (l *Layout) WriteFile(path string, data []byte) error {
	resolved, err := l.Resolve(path)
	if err != nil {
		return err
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(resolved)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", resolved, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", resolved, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tmpName, resolved); err != nil {
		return fmt.Errorf("failed to finalize %s: %w", resolved, err)
	}
	return nil
}

// ReadFile reads a path after validating containment.
func (l *Layout) ReadFile(path string) ([]byte, error) {
	resolved, err := l.Resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, err
	}
	return data, nil
}
