package task

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"

	syncerrors "github.com/randalmurphal/tasksync/internal/errors"
)

// Spec is a parsed task specification: the two-level task hierarchy plus the
// content hash of the raw input used by the idempotency ledger's fast path.
type Spec struct {
	Tasks       []*Task
	ContentHash string
	SourcePaths []string
}

// specFile is the on-disk YAML document shape.
type specFile struct {
	Version int     `yaml:"version,omitempty"`
	Tasks   []*Task `yaml:"tasks"`
}

// HashContent computes the SHA-256 hash of content.
func HashContent(content []byte) string {
	hash := sha256.Sum256(content)
	return hex.EncodeToString(hash[:])
}

// LoadSpec loads and parses a task specification from a path or a
// doublestar glob pattern. Multiple matched files are concatenated into one
// spec; the content hash covers every file in sorted path order so the hash
// is stable across directory traversal order.
func LoadSpec(pattern string) (*Spec, error) {
	paths, err := expandPattern(pattern)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, syncerrors.ErrSpecNotFound(pattern)
	}
	sort.Strings(paths)

	hasher := sha256.New()
	var tasks []*Task
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, syncerrors.ErrSpecMalformed(path, err)
		}
		hasher.Write(data)

		parsed, err := ParseSpec(data)
		if err != nil {
			return nil, syncerrors.ErrSpecMalformed(path, err)
		}
		tasks = append(tasks, parsed...)
	}

	spec := &Spec{
		Tasks:       tasks,
		ContentHash: hex.EncodeToString(hasher.Sum(nil)),
		SourcePaths: paths,
	}
	if err := validateSpec(spec.Tasks); err != nil {
		return nil, syncerrors.ErrSpecMalformed(paths[0], err)
	}
	return spec, nil
}

// ParseSpec parses a single YAML document into tasks.
func ParseSpec(data []byte) ([]*Task, error) {
	var file specFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if len(file.Tasks) == 0 {
		return nil, fmt.Errorf("no tasks defined")
	}
	return file.Tasks, nil
}

// validateSpec checks structural invariants: per-scope id uniqueness, field
// validity, and the two-level nesting limit.
func validateSpec(tasks []*Task) error {
	seen := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if err := t.Validate(); err != nil {
			return err
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate top-level task id %q", t.ID)
		}
		seen[t.ID] = true

		sub := make(map[string]bool, len(t.Subtasks))
		for _, st := range t.Subtasks {
			if err := st.Validate(); err != nil {
				return err
			}
			if sub[st.ID] {
				return fmt.Errorf("duplicate subtask id %q under task %q", st.ID, t.ID)
			}
			sub[st.ID] = true
			if len(st.Subtasks) > 0 {
				return fmt.Errorf("subtask %s.%s: nesting beyond two levels is not supported", t.ID, st.ID)
			}
		}
	}
	return nil
}

// expandPattern resolves a literal path or a glob pattern to file paths.
func expandPattern(pattern string) ([]string, error) {
	if info, err := os.Stat(pattern); err == nil && !info.IsDir() {
		return []string{pattern}, nil
	}

	base, glob := doublestar.SplitPattern(filepath.ToSlash(pattern))
	matches, err := doublestar.Glob(os.DirFS(base), glob)
	if err != nil {
		return nil, fmt.Errorf("expand pattern %q: %w", pattern, err)
	}

	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, filepath.Join(base, m))
	}
	return paths, nil
}
