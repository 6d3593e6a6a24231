// Package fs enforces the workspace/project root policy: every path a
// transaction touches must resolve, symlinks included, to a descendant of
// a configured root. It also carries the small filesystem helpers shared
// by the coordinator and the history journal.
package fs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// RootMode selects which configured root a path must fall under.
type RootMode int

const (
	// ModeAuto tries the project root first, then the workspace root.
	// Existing files resolve wherever they already live; new files are
	// created under the first configured root.
	ModeAuto RootMode = iota
	ModeWorkspace
	ModeProject
)

func (m RootMode) String() string {
	switch m {
	case ModeWorkspace:
		return "workspace"
	case ModeProject:
		return "project"
	default:
		return "auto"
	}
}

// ParseRootMode maps the CLI/config spelling to a RootMode.
func ParseRootMode(s string) (RootMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "workspace":
		return ModeWorkspace, nil
	case "project":
		return ModeProject, nil
	default:
		return ModeAuto, fmt.Errorf("unknown root mode %q (expected auto, workspace, or project)", s)
	}
}

// Policy is the immutable per-call root configuration.
type Policy struct {
	Mode          RootMode
	WorkspaceRoot string
	ProjectRoot   string
}

// Violation is returned when a path escapes every permitted root. No I/O
// has happened for that path by the time it is reported.
type Violation struct {
	Path  string
	Roots []string
}

func (e *Violation) Error() string {
	return fmt.Sprintf("path %q escapes the permitted root(s) %s", e.Path, strings.Join(e.Roots, ", "))
}

// roots returns the permitted roots in resolution order.
func (p Policy) roots() []string {
	var out []string
	add := func(r string) {
		if r != "" {
			out = append(out, filepath.Clean(r))
		}
	}
	switch p.Mode {
	case ModeWorkspace:
		add(p.WorkspaceRoot)
	case ModeProject:
		add(p.ProjectRoot)
	default:
		add(p.ProjectRoot)
		add(p.WorkspaceRoot)
	}
	return out
}

// DefaultRoot returns the root new files are created under, which is also
// where the robust merge backend runs git.
func (p Policy) DefaultRoot() string {
	roots := p.roots()
	if len(roots) == 0 {
		return ""
	}
	return roots[0]
}

// Resolve turns path into an absolute, symlink-resolved target and verifies
// containment before any I/O occurs. Relative paths are joined against the
// permitted roots in order; an existing file wins over the default root.
func (p Policy) Resolve(path string) (string, error) {
	roots := p.roots()
	if len(roots) == 0 {
		return "", fmt.Errorf("no permitted root configured")
	}

	if filepath.IsAbs(path) {
		abs := filepath.Clean(path)
		for _, root := range roots {
			if contained(root, abs) {
				return abs, nil
			}
		}
		return "", &Violation{Path: path, Roots: roots}
	}

	first := ""
	for _, root := range roots {
		cand := filepath.Join(root, path)
		if !contained(root, cand) {
			continue
		}
		if first == "" {
			first = cand
		}
		if _, err := os.Stat(cand); err == nil {
			return cand, nil
		}
	}
	if first == "" {
		return "", &Violation{Path: path, Roots: roots}
	}
	// New file: created under the first permitted root.
	return first, nil
}

// contained reports whether target is root or a descendant of it once
// symlinks in both are resolved. The target may not exist yet; its deepest
// existing ancestor is resolved instead.
func contained(root, target string) bool {
	resolvedRoot, err := resolveExisting(root)
	if err != nil {
		return false
	}
	resolvedTarget, err := resolveExisting(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(resolvedRoot, resolvedTarget)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// resolveExisting resolves symlinks for the deepest existing ancestor of
// path and rejoins the non-existing remainder.
func resolveExisting(path string) (string, error) {
	path = filepath.Clean(path)
	var tail []string
	for {
		resolved, err := filepath.EvalSymlinks(path)
		if err == nil {
			if len(tail) == 0 {
				return resolved, nil
			}
			parts := append([]string{resolved}, tail...)
			return filepath.Join(parts...), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(path)
		if parent == path {
			return "", err
		}
		tail = append([]string{filepath.Base(path)}, tail...)
		path = parent
	}
}

// EnsureParentDir creates the directory a file will be written into.
func EnsureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == string(filepath.Separator) {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// CopyFile copies src to dst byte for byte, preserving src's mode.
func CopyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, info.Mode())
}

// SHA256 returns the hex digest of a file's content.
func SHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
