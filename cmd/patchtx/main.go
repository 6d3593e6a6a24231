package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sokinpui/patchtx/cli"
	"github.com/sokinpui/patchtx/internal/ui"
	"github.com/sokinpui/patchtx/patchtx"
)

func main() {
	cfg, err := cli.ParseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	app, err := patchtx.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := app.Execute(ctx)
	if cfg.JSON {
		printJSON(out, err)
	} else {
		printHuman(cfg, out, err)
	}

	if err != nil {
		os.Exit(1)
	}
	if out != nil && out.Status == "conflict" {
		os.Exit(2)
	}
}

func printJSON(out *patchtx.Outcome, err error) {
	if out == nil {
		out = &patchtx.Outcome{Status: "error"}
		if err != nil {
			out.Message = "Error applying diff: " + err.Error()
		}
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if eerr := enc.Encode(out); eerr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", eerr)
	}
}

func printHuman(cfg *cli.Config, out *patchtx.Outcome, err error) {
	if err != nil {
		var detailed *patchtx.DetailedError
		if errors.As(err, &detailed) {
			ui.Error("Error: %v", detailed.Err)
			fmt.Fprintf(os.Stderr, "%s\n", detailed.Stack)
		} else {
			ui.Error("Error: %v", err)
		}
		return
	}
	if out == nil {
		return
	}

	switch {
	case cfg.Preview || cfg.DryRun:
		fmt.Print(out.Message)
	case cfg.Revert:
		ui.PrintRevertSummary(out.Files)
	default:
		if out.Message != "" {
			ui.Info("%s", out.Message)
		}
		ui.PrintApplySummary(out.Files, out.Created, out.Conflicted)
		if out.ShadowWorktree != "" {
			ui.Info("Shadow worktree: %s", out.ShadowWorktree)
		}
		for path, bak := range out.Backups {
			ui.Path("backup %s -> %s", path, bak)
		}
	}
}
