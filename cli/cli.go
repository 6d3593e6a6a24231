package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"
)

// Config holds all the command-line flag values.
type Config struct {
	WorkspaceRoot string
	ProjectRoot   string
	Root          string // "auto", "workspace" or "project"

	Robust   bool
	ThreeWay bool
	Shadow   bool

	KeepBackups bool
	DryRun      bool
	MultiEdit   bool
	JSON        bool
	Revert      bool
	Preview     bool
	Verbose     bool

	Timeout time.Duration
}

// envDefault returns the PATCHTX_* environment value for key, or fallback.
func envDefault(key, fallback string) string {
	if v := os.Getenv("PATCHTX_" + key); v != "" {
		return v
	}
	return fallback
}

// ParseFlags defines and parses command-line flags using pflag.
func ParseFlags() (*Config, error) {
	cfg := &Config{}

	pflag.StringVarP(&cfg.WorkspaceRoot, "workspace", "w", envDefault("WORKSPACE", ""), "Workspace root directory (defaults to the current directory).")
	pflag.StringVarP(&cfg.ProjectRoot, "project", "p", envDefault("PROJECT", ""), "Project root directory, an additional allowed root.")
	pflag.StringVar(&cfg.Root, "root", envDefault("ROOT", "auto"), "Root resolution policy: auto, workspace or project.")

	pflag.BoolVarP(&cfg.Robust, "robust", "r", false, "Fall back to git apply when context matching fails.")
	pflag.BoolVar(&cfg.ThreeWay, "3way", true, "Allow three-way merges in robust mode, leaving conflict markers on conflict.")
	pflag.BoolVar(&cfg.Shadow, "shadow", false, "Apply the patch in an isolated git worktree instead of the working tree.")

	pflag.BoolVarP(&cfg.KeepBackups, "keep-backups", "k", false, "Retain .bak files after a successful apply.")
	pflag.BoolVarP(&cfg.DryRun, "dry-run", "n", false, "Parse and preview the patch without touching any file.")
	pflag.BoolVarP(&cfg.MultiEdit, "multi-edit", "m", false, "Treat input as a bundle of per-file edit blocks.")
	pflag.BoolVarP(&cfg.JSON, "json", "j", false, "Print the result as JSON on stdout.")
	pflag.BoolVarP(&cfg.Revert, "revert", "u", false, "Revert the most recent applied patch.")
	pflag.BoolVar(&cfg.Preview, "preview", false, "Print per-file change statistics without applying.")
	pflag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Log progress to stderr.")

	pflag.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "Timeout for each git subprocess.")

	pflag.Usage = func() {
		fmt.Println("Usage: patchtx [flags]")
		fmt.Println("\nApply a unified diff from stdin (pipe) or the clipboard as one transaction.")
		fmt.Println("\nExample: git diff | patchtx --robust")
		fmt.Println("\nFlags:")
		pflag.PrintDefaults()
	}

	pflag.Parse()

	switch cfg.Root {
	case "auto", "workspace", "project":
	default:
		return nil, fmt.Errorf("error: invalid --root value %q (want auto, workspace or project)", cfg.Root)
	}
	if cfg.Root == "project" && cfg.ProjectRoot == "" {
		return nil, fmt.Errorf("error: --root=project requires --project")
	}
	if cfg.Revert && (cfg.DryRun || cfg.Preview || cfg.Shadow) {
		return nil, fmt.Errorf("error: --revert cannot be combined with --dry-run, --preview or --shadow")
	}

	if cfg.WorkspaceRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("could not determine working directory: %w", err)
		}
		cfg.WorkspaceRoot = wd
	}

	return cfg, nil
}
