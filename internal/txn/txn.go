// Package txn coordinates a multi-file patch application with
// all-or-nothing semantics: every target is policy-checked before any I/O,
// every file is snapshotted before its first write, and the first hard
// failure restores every touched file and removes every created one.
//
// A transaction is strictly sequential; rollback correctness depends on
// backups existing before writes and on undoing in reverse order. Callers
// may run independent transactions concurrently only on disjoint file
// sets; the coordinator takes no cross-transaction locks.
package txn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/sokinpui/patchtx/internal/applier"
	"github.com/sokinpui/patchtx/internal/backup"
	"github.com/sokinpui/patchtx/internal/diff"
	"github.com/sokinpui/patchtx/internal/fs"
	"github.com/sokinpui/patchtx/internal/gitpatch"
)

// Status is the transaction outcome class.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusConflict Status = "conflict"
	StatusError    Status = "error"
)

// Result describes what a transaction did. After StatusError the
// filesystem is byte-identical to its pre-transaction state.
type Result struct {
	Status     Status
	Files      []string // every file touched, resolved absolute paths
	Created    []string // subset of Files that did not exist before
	Deleted    []string // subset of Files removed by deletion patches
	Conflicted []string // files left with conflict markers
	Hunks      int
	Message    string

	// Backups maps file path to its retained .bak artifact when backup
	// retention was requested.
	Backups map[string]string

	// Shadow metadata, set only in shadow mode.
	ShadowBranch   string
	ShadowWorktree string
	ShadowCommit   string
}

// Options configures one transaction. Resolved once per call; there is no
// process-global state.
type Options struct {
	Policy fs.Policy

	// Robust falls back to the git backend when the naive applier reports
	// a context mismatch. ThreeWay additionally merges against the patch's
	// recorded base and tolerates conflict markers. Shadow applies the
	// whole patch in an isolated worktree instead of the primary tree.
	Robust   bool
	ThreeWay bool
	Shadow   bool

	// KeepBackups retains .bak artifacts after commit for caller
	// inspection instead of discarding them.
	KeepBackups bool

	// Timeout bounds each git subprocess call.
	Timeout time.Duration

	// Runner overrides the git backend's subprocess runner. Tests use
	// this to script git's behavior.
	Runner gitpatch.Runner

	Logger *slog.Logger
}

// Coordinator runs transactions. It is stateless between calls.
type Coordinator struct {
	opts Options
	log  *slog.Logger
}

// New creates a Coordinator. A nil logger discards.
func New(opts Options) *Coordinator {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{opts: opts, log: log}
}

// Apply runs one transaction over the parsed patches. raw is the original
// diff text, handed to the git backend verbatim so extended headers
// survive. The returned error is non-nil exactly when Result.Status is
// StatusError.
func (c *Coordinator) Apply(ctx context.Context, raw string, patches []*diff.FilePatch) (*Result, error) {
	log := c.log.With("txn", uuid.NewString()[:8])

	if len(patches) == 0 {
		return &Result{Status: StatusSuccess, Message: "empty patch, nothing to do"}, nil
	}

	// Staged: every path must pass policy before any I/O happens.
	resolved := make([]string, len(patches))
	for i, p := range patches {
		abs, err := c.opts.Policy.Resolve(p.TargetPath())
		if err != nil {
			log.Warn("path rejected", "path", p.TargetPath(), "err", err)
			return &Result{Status: StatusError, Message: err.Error()}, err
		}
		resolved[i] = abs
	}

	if c.opts.Shadow {
		return c.applyShadow(ctx, raw, log)
	}
	return c.applyDirect(ctx, raw, patches, resolved, log)
}

// backend builds the git backend rooted at the policy's default root,
// honoring a scripted runner when one is configured.
func (c *Coordinator) backend(log *slog.Logger) *gitpatch.Backend {
	b := gitpatch.New(c.opts.Policy.DefaultRoot(), c.opts.Timeout, log)
	if c.opts.Runner != nil {
		b = b.WithRunner(c.opts.Runner)
	}
	return b
}

func (c *Coordinator) applyShadow(ctx context.Context, raw string, log *slog.Logger) (*Result, error) {
	shadow, err := c.backend(log).ApplyShadow(ctx, raw)

	var conflict *gitpatch.ConflictError
	switch {
	case err == nil:
		files, _ := gitpatch.Files(raw)
		return &Result{
			Status:         StatusSuccess,
			Files:          files,
			Message:        fmt.Sprintf("applied in shadow worktree %s (commit %s)", shadow.Worktree, shadow.Commit),
			ShadowBranch:   shadow.Branch,
			ShadowWorktree: shadow.Worktree,
			ShadowCommit:   shadow.Commit,
		}, nil
	case errors.As(err, &conflict):
		res := &Result{
			Status:  StatusConflict,
			Message: err.Error(),
		}
		if shadow != nil {
			res.ShadowBranch = shadow.Branch
			res.ShadowWorktree = shadow.Worktree
			for _, f := range conflict.Files {
				res.Conflicted = append(res.Conflicted, filepath.Join(shadow.Worktree, f))
			}
		} else {
			res.Conflicted = conflict.Files
		}
		return res, nil
	default:
		return &Result{Status: StatusError, Message: err.Error()}, err
	}
}

func (c *Coordinator) applyDirect(ctx context.Context, raw string, patches []*diff.FilePatch, resolved []string, log *slog.Logger) (*Result, error) {
	var (
		backups     = make(map[string]*backup.Backup)
		order       []*backup.Backup // acquisition order, for reverse rollback
		createdDirs []string         // directories made for new files, creation order
		backend     *gitpatch.Backend
		res         = &Result{Status: StatusSuccess}
		touched     = make(map[string]bool)
	)

	rollback := func() {
		for i := len(order) - 1; i >= 0; i-- {
			bk := order[i]
			if err := bk.Restore(); err != nil {
				log.Error("rollback restore failed", "path", bk.Path(), "err", err)
			}
			if err := bk.Discard(); err != nil {
				log.Error("rollback discard failed", "path", bk.Path(), "err", err)
			}
		}
		// Deepest first; a dir that gained other content stays.
		for i := len(createdDirs) - 1; i >= 0; i-- {
			_ = os.Remove(createdDirs[i])
		}
	}
	fail := func(err error) (*Result, error) {
		rollback()
		log.Warn("transaction rolled back", "err", err)
		return &Result{Status: StatusError, Message: err.Error()}, err
	}

	for i, p := range patches {
		// Cancellation is honored between files, never mid-file.
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("transaction cancelled: %w", err))
		}

		abs := resolved[i]
		bk, ok := backups[abs]
		if !ok {
			var err error
			bk, err = backup.Snapshot(abs)
			if err != nil {
				return fail(err)
			}
			backups[abs] = bk
			order = append(order, bk)
		}

		if p.IsDelete() {
			if err := os.Remove(abs); err != nil {
				return fail(fmt.Errorf("delete %s: %w", abs, err))
			}
			if !touched[abs] {
				touched[abs] = true
				res.Files = append(res.Files, abs)
			}
			res.Deleted = append(res.Deleted, abs)
			res.Hunks += len(p.Hunks)
			continue
		}

		content, err := os.ReadFile(abs)
		if err != nil && !os.IsNotExist(err) {
			return fail(fmt.Errorf("read %s: %w", abs, err))
		}

		out, err := applier.Apply(content, p)
		if err != nil {
			var mismatch *applier.Mismatch
			if !errors.As(err, &mismatch) || !c.opts.Robust {
				return fail(err)
			}

			// Robust fallback: hand this file's section (extended headers
			// intact) to git.
			if backend == nil {
				backend = c.backend(log)
			}
			section, serr := gitpatch.FileSection(raw, p.TargetPath())
			if serr != nil {
				return fail(fmt.Errorf("%w (robust fallback unavailable: %v)", err, serr))
			}

			// Plain application when git agrees it is clean; three-way
			// merge only as the last escalation.
			if backend.Check(ctx, section) == nil || !c.opts.ThreeWay {
				if aerr := backend.Apply(ctx, section); aerr != nil {
					return fail(fmt.Errorf("%w (git apply also failed: %v)", err, aerr))
				}
			} else {
				merge, merr := backend.ApplyThreeWay(ctx, section)
				if merr != nil {
					return fail(fmt.Errorf("%w (three-way merge failed: %v)", err, merr))
				}
				if len(merge.Conflicted) > 0 {
					// A conflict flags the file and the transaction, but
					// already-applied siblings stay committed for manual
					// resolution. git reports repo-relative names; resolve
					// them so all result paths speak the same vocabulary.
					for _, cf := range merge.Conflicted {
						res.Conflicted = append(res.Conflicted, filepath.Join(c.opts.Policy.DefaultRoot(), cf))
					}
				}
			}
			// git wrote the file in place.
			if !bk.Existed() {
				res.Created = append(res.Created, abs)
			}
			if !touched[abs] {
				touched[abs] = true
				res.Files = append(res.Files, abs)
			}
			res.Hunks += len(p.Hunks)
			continue
		}

		mode := os.FileMode(0644)
		if info, err := os.Stat(abs); err == nil {
			mode = info.Mode()
		}
		createdDirs = append(createdDirs, missingDirs(abs)...)
		if err := fs.EnsureParentDir(abs); err != nil {
			return fail(fmt.Errorf("create parent dir for %s: %w", abs, err))
		}
		if err := os.WriteFile(abs, out, mode); err != nil {
			return fail(fmt.Errorf("write %s: %w", abs, err))
		}

		if !bk.Existed() {
			res.Created = append(res.Created, abs)
		}
		if !touched[abs] {
			touched[abs] = true
			res.Files = append(res.Files, abs)
		}
		res.Hunks += len(p.Hunks)
		log.Debug("applied", "path", abs, "hunks", len(p.Hunks))
	}

	// Commit.
	if c.opts.KeepBackups {
		res.Backups = make(map[string]string)
		for _, bk := range order {
			if bk.BackupPath() != "" {
				res.Backups[bk.Path()] = bk.BackupPath()
			}
		}
	} else {
		for _, bk := range order {
			if err := bk.Discard(); err != nil {
				log.Error("discard backup failed", "path", bk.Path(), "err", err)
			}
		}
	}

	if len(res.Conflicted) > 0 {
		res.Status = StatusConflict
		res.Message = fmt.Sprintf("three-way merge left conflict markers in %d file(s)", len(res.Conflicted))
		return res, nil
	}
	res.Message = fmt.Sprintf("applied %d hunk(s) across %d file(s)", res.Hunks, len(res.Files))
	log.Info("transaction committed", "files", len(res.Files), "created", len(res.Created), "hunks", res.Hunks)
	return res, nil
}

// missingDirs lists the ancestors of path that do not exist yet, shallow
// first, so rollback can remove them in reverse.
func missingDirs(path string) []string {
	var dirs []string
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if dir == filepath.Dir(dir) {
			break
		}
		if _, err := os.Stat(dir); err == nil {
			break
		}
		dirs = append([]string{dir}, dirs...)
	}
	return dirs
}
