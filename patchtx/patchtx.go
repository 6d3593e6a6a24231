// Package patchtx is the public entry point for applying unified diffs
// as all-or-nothing transactions against a policy-checked file tree.
package patchtx

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"

	"github.com/sokinpui/patchtx/cli"
	"github.com/sokinpui/patchtx/internal/diff"
	"github.com/sokinpui/patchtx/internal/fs"
	"github.com/sokinpui/patchtx/internal/history"
	"github.com/sokinpui/patchtx/internal/multiedit"
	"github.com/sokinpui/patchtx/internal/source"
	"github.com/sokinpui/patchtx/internal/txn"
)

// Outcome reports the result of one apply or revert.
type Outcome struct {
	Status         string            `json:"status"` // "success", "conflict" or "error"
	Files          []string          `json:"files,omitempty"`
	Created        []string          `json:"created,omitempty"`
	Deleted        []string          `json:"deleted,omitempty"`
	Conflicted     []string          `json:"conflicted,omitempty"`
	Hunks          int               `json:"hunks,omitempty"`
	Message        string            `json:"message"`
	Backups        map[string]string `json:"backups,omitempty"`
	ShadowCommit   string            `json:"shadow_commit,omitempty"`
	ShadowWorktree string            `json:"shadow_worktree,omitempty"`
}

// DetailedError enhances a standard error with a stack trace.
type DetailedError struct {
	Err   error
	Stack []byte
}

func (e *DetailedError) Error() string {
	return e.Err.Error()
}

// App orchestrates the entire application logic.
type App struct {
	cfg            *cli.Config
	policy         fs.Policy
	sourceProvider *source.Provider
	journal        *history.Manager
	log            *slog.Logger
}

// New creates a new App instance from parsed flags.
func New(cfg *cli.Config) (*App, error) {
	workspace, err := filepath.Abs(cfg.WorkspaceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	project := cfg.ProjectRoot
	if project != "" {
		if project, err = filepath.Abs(project); err != nil {
			return nil, fmt.Errorf("resolve project root: %w", err)
		}
	}
	mode, err := fs.ParseRootMode(cfg.Root)
	if err != nil {
		return nil, err
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if cfg.Verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	journal, err := history.Open(workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history journal: %w", err)
	}

	return &App{
		cfg: cfg,
		policy: fs.Policy{
			Mode:          mode,
			WorkspaceRoot: workspace,
			ProjectRoot:   project,
		},
		sourceProvider: source.New(),
		journal:        journal,
		log:            log,
	}, nil
}

func (a *App) coordinator() *txn.Coordinator {
	return txn.New(txn.Options{
		Policy:      a.policy,
		Robust:      a.cfg.Robust,
		ThreeWay:    a.cfg.ThreeWay,
		Shadow:      a.cfg.Shadow,
		KeepBackups: a.cfg.KeepBackups,
		Timeout:     a.cfg.Timeout,
		Logger:      a.log,
	})
}

// Execute runs the action selected by the flags against content from
// stdin or the clipboard.
func (a *App) Execute(ctx context.Context) (out *Outcome, err error) {
	// Centralized panic recovery.
	defer func() {
		if r := recover(); r != nil {
			err = &DetailedError{
				Err:   fmt.Errorf("internal panic: %v", r),
				Stack: debug.Stack(),
			}
		}
	}()

	if a.cfg.Revert {
		return a.Revert()
	}

	content, err := a.sourceProvider.GetContent()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(content) == "" {
		return &Outcome{Status: "success", Message: "Source is empty. Nothing to process."}, nil
	}

	switch {
	case a.cfg.Preview || a.cfg.DryRun:
		return a.Preview(content)
	case a.cfg.MultiEdit:
		return a.ApplyMultiEdit(ctx, content)
	default:
		return a.ApplyPatch(ctx, content)
	}
}

// Apply applies a diff that must describe exactly one file.
func (a *App) Apply(ctx context.Context, diffText string) (*Outcome, error) {
	raw, err := multiedit.ExtractFenced(diffText)
	if err != nil {
		return nil, err
	}
	patch, err := diff.ParseFile(raw)
	if err != nil {
		return errorOutcome(err), err
	}
	if patch == nil {
		return &Outcome{Status: "success", Message: "Source is empty. Nothing to process."}, nil
	}
	return a.run(ctx, raw, []*diff.FilePatch{patch})
}

// ApplyPatch applies a unified diff spanning any number of files as one
// transaction.
func (a *App) ApplyPatch(ctx context.Context, diffText string) (*Outcome, error) {
	raw, err := multiedit.ExtractFenced(diffText)
	if err != nil {
		return nil, err
	}
	patches, err := diff.Parse(raw)
	if err != nil {
		return errorOutcome(err), err
	}
	return a.run(ctx, raw, patches)
}

// ApplyMultiEdit applies a bundled multi-file edit: per-file blocks
// introduced by "path:" headers, consolidated into a single diff.
func (a *App) ApplyMultiEdit(ctx context.Context, input string) (*Outcome, error) {
	raw, err := multiedit.ExtractFenced(input)
	if err != nil {
		return nil, err
	}
	blocks, err := multiedit.Split(raw)
	if err != nil {
		return errorOutcome(err), err
	}
	consolidated, err := multiedit.Consolidate(blocks)
	if err != nil {
		return errorOutcome(err), err
	}
	patches, err := diff.Parse(consolidated)
	if err != nil {
		return errorOutcome(err), err
	}
	return a.run(ctx, consolidated, patches)
}

// Preview parses a diff and reports per-file change statistics without
// touching any file.
func (a *App) Preview(diffText string) (*Outcome, error) {
	raw, err := multiedit.ExtractFenced(diffText)
	if err != nil {
		return nil, err
	}
	if a.cfg.MultiEdit {
		if raw, err = multieditConsolidate(raw); err != nil {
			return errorOutcome(err), err
		}
	}
	patches, err := diff.Parse(raw)
	if err != nil {
		return errorOutcome(err), err
	}

	out := &Outcome{Status: "success", Message: diff.Preview(patches)}
	for _, s := range diff.Stats(patches) {
		out.Files = append(out.Files, s.Path)
		out.Hunks += s.Hunks
	}
	return out, nil
}

// Diff generates a unified diff turning old into new, labelled with path.
func Diff(old, new, path string) (string, error) {
	return diff.Generate(old, new, path)
}

// Revert undoes the most recently applied transaction, verifying files
// are unchanged since it committed.
func (a *App) Revert() (*Outcome, error) {
	reverted, err := a.journal.RevertLast()
	if err != nil {
		return errorOutcome(err), err
	}
	return &Outcome{
		Status:  "success",
		Files:   reverted,
		Message: fmt.Sprintf("Reverted %d file(s).", len(reverted)),
	}, nil
}

func (a *App) run(ctx context.Context, raw string, patches []*diff.FilePatch) (*Outcome, error) {
	result, err := a.coordinator().Apply(ctx, raw, patches)
	out := convert(result)
	if err != nil {
		return out, err
	}
	if result.Status != txn.StatusError && !a.cfg.Shadow {
		if jerr := a.record(result); jerr != nil {
			a.log.Warn("journal write failed", "err", jerr)
		}
	}
	return out, nil
}

// record journals the committed transaction so it can be reverted.
func (a *App) record(result *txn.Result) error {
	created := make(map[string]bool, len(result.Created))
	for _, f := range result.Created {
		created[f] = true
	}
	deleted := make(map[string]bool, len(result.Deleted))
	for _, f := range result.Deleted {
		deleted[f] = true
	}

	ops := make([]history.Op, 0, len(result.Files))
	for _, f := range result.Files {
		op := history.Op{Path: f, Action: "modify", Backup: result.Backups[f]}
		switch {
		case deleted[f]:
			op.Action = "delete"
		case created[f]:
			op.Action = "create"
		}
		if op.Action != "delete" {
			if hash, err := fs.SHA256(f); err == nil {
				op.Hash = hash
			}
		}
		ops = append(ops, op)
	}
	return a.journal.Record(ops)
}

func convert(r *txn.Result) *Outcome {
	if r == nil {
		return nil
	}
	out := &Outcome{
		Status:         string(r.Status),
		Files:          r.Files,
		Created:        r.Created,
		Deleted:        r.Deleted,
		Conflicted:     r.Conflicted,
		Hunks:          r.Hunks,
		Backups:        r.Backups,
		ShadowCommit:   r.ShadowCommit,
		ShadowWorktree: r.ShadowWorktree,
	}
	switch r.Status {
	case txn.StatusSuccess:
		if len(r.Files) > 0 {
			out.Message = fmt.Sprintf("Successfully applied diff to %d file(s).", len(r.Files))
		} else {
			out.Message = r.Message
		}
	case txn.StatusConflict:
		out.Message = fmt.Sprintf("Applied with conflicts in %d file(s); resolve the markers by hand.", len(r.Conflicted))
	default:
		out.Message = "Error applying diff: " + r.Message
	}
	return out
}

func errorOutcome(err error) *Outcome {
	return &Outcome{Status: "error", Message: "Error applying diff: " + err.Error()}
}

func multieditConsolidate(raw string) (string, error) {
	blocks, err := multiedit.Split(raw)
	if err != nil {
		return "", err
	}
	return multiedit.Consolidate(blocks)
}
