// Package gitpatch is the robust merge backend: it delegates patch
// validation and application to a local git binary, gaining three-way
// merge against the patch's recorded base when the naive applier reports
// drift. Every subprocess call runs under a bounded timeout.
package gitpatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	godiff "github.com/sourcegraph/go-diff/diff"
)

// DefaultTimeout bounds a single git invocation when the caller does not
// configure one.
const DefaultTimeout = 30 * time.Second

// ToolError wraps a git subprocess failure, including timeouts. The
// coordinator treats it like any other I/O failure and rolls back.
type ToolError struct {
	Op     string
	Stderr string
	Err    error
}

func (e *ToolError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("git %s: %s", e.Op, msg)
}

func (e *ToolError) Unwrap() error { return e.Err }

// MergeResult is the outcome of a three-way apply. An empty Conflicted
// slice means the merge was clean.
type MergeResult struct {
	Conflicted []string
}

// ShadowResult reports where a shadow application landed. The primary
// working tree is untouched; promotion is the caller's decision.
type ShadowResult struct {
	Branch   string
	Worktree string
	Commit   string
}

// Backend runs git against a fixed repository root.
type Backend struct {
	root    string
	runner  Runner
	timeout time.Duration
	log     *slog.Logger
}

// New creates a Backend rooted at a git repository. A zero timeout falls
// back to DefaultTimeout; a nil logger discards.
func New(root string, timeout time.Duration, log *slog.Logger) *Backend {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Backend{root: root, runner: DefaultRunner(), timeout: timeout, log: log}
}

// WithRunner replaces the subprocess runner. Tests use this to inject
// fakes.
func (b *Backend) WithRunner(r Runner) *Backend {
	b.runner = r
	return b
}

func (b *Backend) run(ctx context.Context, op, stdin string, args ...string) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	stdout, stderr, err := b.runner.Run(ctx, b.root, stdin, args...)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout, stderr, &ToolError{Op: op, Stderr: "timed out", Err: ctx.Err()}
	}
	return stdout, stderr, err
}

// Check validates that the patch would apply cleanly without touching the
// working tree.
func (b *Backend) Check(ctx context.Context, patch string) error {
	_, stderr, err := b.run(ctx, "apply --check", patch, "apply", "--check", "-")
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return te
		}
		return &ToolError{Op: "apply --check", Stderr: stderr, Err: err}
	}
	return nil
}

var conflictApplied = regexp.MustCompile(`Applied patch to '(.+)' with conflicts`)

// ApplyThreeWay applies the patch in the working tree, merging against the
// patch's recorded base blobs when direct application fails. A merge that
// leaves standard conflict markers is not an error: the result names the
// conflicted files and the markers stay on disk for manual resolution.
func (b *Backend) ApplyThreeWay(ctx context.Context, patch string) (*MergeResult, error) {
	_, stderr, err := b.run(ctx, "apply --3way", patch, "apply", "--3way", "-")
	if err == nil {
		return &MergeResult{}, nil
	}
	var te *ToolError
	if errors.As(err, &te) {
		return nil, te
	}

	if files := parseConflicts(stderr); len(files) > 0 {
		b.log.Info("three-way merge left conflicts", "files", files)
		return &MergeResult{Conflicted: files}, nil
	}
	return nil, &ToolError{Op: "apply --3way", Stderr: stderr, Err: err}
}

// Apply applies the patch with plain git-apply semantics, without merging.
func (b *Backend) Apply(ctx context.Context, patch string) error {
	_, stderr, err := b.run(ctx, "apply", patch, "apply", "-")
	if err != nil {
		var te *ToolError
		if errors.As(err, &te) {
			return te
		}
		return &ToolError{Op: "apply", Stderr: stderr, Err: err}
	}
	return nil
}

// parseConflicts extracts conflicted paths from git apply stderr.
func parseConflicts(stderr string) []string {
	matches := conflictApplied.FindAllStringSubmatch(stderr, -1)
	files := make([]string, 0, len(matches))
	for _, m := range matches {
		files = append(files, strings.TrimSpace(m[1]))
	}
	return files
}

// Files lists the target paths a patch touches. Unlike the naive parser
// this reads git extended headers (index lines and friends), so it also
// understands patches produced by git diff directly.
func Files(patch string) ([]string, error) {
	fds, err := godiff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("parse patch: %w", err)
	}
	paths := make([]string, 0, len(fds))
	for _, fd := range fds {
		name := fd.NewName
		if name == "/dev/null" {
			name = fd.OrigName
		}
		paths = append(paths, stripPrefix(name))
	}
	return paths, nil
}

// FileSection extracts the single file's section of a multi-file patch,
// preserving its extended headers so three-way merge can find the base
// blobs git recorded in the index lines.
func FileSection(patch, target string) (string, error) {
	fds, err := godiff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		return "", fmt.Errorf("parse patch: %w", err)
	}
	for _, fd := range fds {
		if stripPrefix(fd.NewName) == target || stripPrefix(fd.OrigName) == target {
			out, err := godiff.PrintFileDiff(fd)
			if err != nil {
				return "", fmt.Errorf("print file diff: %w", err)
			}
			return string(out), nil
		}
	}
	return "", fmt.Errorf("patch has no section for %s", target)
}

func stripPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}

// ApplyShadow applies the whole patch inside an isolated worktree on a
// fresh branch and commits there, leaving the primary working tree
// untouched. The caller promotes the commit if and when it wants it.
func (b *Backend) ApplyShadow(ctx context.Context, patch string) (*ShadowResult, error) {
	id := uuid.NewString()[:8]
	branch := "patchtx/shadow-" + id
	worktree := filepath.Join(os.TempDir(), "patchtx-shadow-"+id)

	if _, stderr, err := b.run(ctx, "worktree add", "", "worktree", "add", "-b", branch, worktree); err != nil {
		return nil, &ToolError{Op: "worktree add", Stderr: stderr, Err: err}
	}

	shadow := &Backend{root: worktree, runner: b.runner, timeout: b.timeout, log: b.log}
	res, err := shadow.ApplyThreeWay(ctx, patch)
	if err != nil {
		b.removeWorktree(ctx, worktree)
		return nil, err
	}
	if len(res.Conflicted) > 0 {
		// Leave the worktree in place so the conflict can be inspected.
		return &ShadowResult{Branch: branch, Worktree: worktree}, &ConflictError{Files: res.Conflicted}
	}

	if _, stderr, err := shadow.run(ctx, "add", "", "add", "-A"); err != nil {
		b.removeWorktree(ctx, worktree)
		return nil, &ToolError{Op: "add", Stderr: stderr, Err: err}
	}
	if _, stderr, err := shadow.run(ctx, "commit", "", "commit", "-m", "patchtx: shadow apply"); err != nil {
		b.removeWorktree(ctx, worktree)
		return nil, &ToolError{Op: "commit", Stderr: stderr, Err: err}
	}
	sha, stderr, err := shadow.run(ctx, "rev-parse", "", "rev-parse", "HEAD")
	if err != nil {
		return nil, &ToolError{Op: "rev-parse", Stderr: stderr, Err: err}
	}

	out := &ShadowResult{Branch: branch, Worktree: worktree, Commit: strings.TrimSpace(sha)}
	b.log.Info("shadow apply committed", "branch", out.Branch, "commit", out.Commit, "worktree", out.Worktree)
	return out, nil
}

func (b *Backend) removeWorktree(ctx context.Context, worktree string) {
	// Best effort; the worktree lives under the OS temp dir anyway.
	_, _, _ = b.run(ctx, "worktree remove", "", "worktree", "remove", "--force", worktree)
}

// ConflictError reports files left with conflict markers by a three-way
// merge. It is terminal: the caller surfaces it, nothing retries it.
type ConflictError struct {
	Files []string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("merge left conflicts in: %s", strings.Join(e.Files, ", "))
}
