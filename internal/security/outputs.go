// Package security keeps report and database files written by a run inside
// the directory the operator chose.
package security

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// canonical resolves symlinks in path, or in its closest existing ancestor
// when path does not exist yet.
func canonical(path string) (string, error) {
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved, nil
	}
	for dir := filepath.Dir(abs); ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, abs)
			return filepath.Join(resolved, rel), nil
		}
		if dir == filepath.Dir(dir) {
			return abs, nil
		}
	}
}

// ValidateWithin rejects paths that escape root, including through
// symlinked directories.
func ValidateWithin(path, root string) error {
	canonicalPath, err := canonical(path)
	if err != nil {
		return err
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory: %w", err)
	}
	canonicalRoot, err := filepath.EvalSymlinks(absRoot)
	if err != nil {
		return fmt.Errorf("failed to resolve output directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside output directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s escapes %s", path, root)
	}
	return nil
}

// OutputDir is a directory that report files for runs are written to.
type OutputDir struct {
	root string
}

// NewOutputDir creates root if needed.
func NewOutputDir(root string) (*OutputDir, error) {
	if root == "" {
		return nil, fmt.Errorf("output directory must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	return &OutputDir{root: root}, nil
}

// Root returns the directory.
func (o *OutputDir) Root() string { return o.root }

// Path returns the location of a report file for a run. Both parts are
// sanitised and the result is checked against the root.
func (o *OutputDir) Path(runID, name string) (string, error) {
	p := filepath.Join(o.root, SanitizeFilename(runID)+"_"+SanitizeFilename(name))
	if err := ValidateWithin(p, o.root); err != nil {
		return "", err
	}
	return p, nil
}

// Create opens a report file for writing, replacing any previous one.
func (o *OutputDir) Create(runID, name string) (*os.File, error) {
	p, err := o.Path(runID, name)
	if err != nil {
		return nil, err
	}
	return os.Create(p)
}

// SanitizeFilename keeps ASCII letters, digits, dot, underscore and dash,
// collapses every other run of characters into one underscore and caps
// the length at 128 bytes.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
