// Package artifacts lays out the run-scoped results directory:
//
//	<root>/<timestamp>-<run id>/<target>/<scenario>/attempt-<n>/
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Store struct {
	RunID  string
	RunDir string
}

// NewStore creates a fresh run directory under root.
func NewStore(root string, now time.Time) (*Store, error) {
	id := uuid.NewString()[:8]
	dir := filepath.Join(root, fmt.Sprintf("%s-%s", now.Format("2006-01-02_15-04-05"), id))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create run dir: %w", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Store{RunID: id, RunDir: abs}, nil
}

// AttemptDir returns (and creates) the directory for one attempt. scenario
// may be a display name or a slug from UniqueSlugs.
func (s *Store) AttemptDir(target, scenario string, attempt int) (string, error) {
	dir := filepath.Join(s.RunDir, Slug(target), Slug(scenario), fmt.Sprintf("attempt-%d", attempt))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create attempt dir: %w", err)
	}
	return dir, nil
}

// Path joins name onto the run directory.
func (s *Store) Path(name string) string {
	return filepath.Join(s.RunDir, name)
}

var slugRe = regexp.MustCompile(`[^a-z0-9]+`)

// Slug converts a display name into a filesystem-safe directory name.
func Slug(name string) string {
	s := slugRe.ReplaceAllString(strings.ToLower(name), "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "unnamed"
	}
	return s
}

// UniqueSlugs slugs every name, suffixing -2, -3, ... onto later names whose
// slug is already taken so no two share a directory.
func UniqueSlugs(names []string) []string {
	out := make([]string, len(names))
	seen := make(map[string]bool, len(names))
	for i, name := range names {
		base := Slug(name)
		s := base
		for n := 2; seen[s]; n++ {
			s = fmt.Sprintf("%s-%d", base, n)
		}
		seen[s] = true
		out[i] = s
	}
	return out
}

// RemoveIfEmpty deletes dir when nothing was written into it.
func RemoveIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil || len(entries) > 0 {
		return
	}
	_ = os.Remove(dir)
}
