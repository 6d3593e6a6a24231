package gitpatch

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// Runner abstracts git command execution so the backend can be tested
// without a real repository.
type Runner interface {
	Run(ctx context.Context, dir, stdin string, args ...string) (stdout, stderr string, err error)
}

// execRunner shells out to the git binary on PATH.
type execRunner struct{}

// DefaultRunner returns the production Runner.
func DefaultRunner() Runner { return execRunner{} }

func (execRunner) Run(ctx context.Context, dir, stdin string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	err := cmd.Run()
	return out.String(), errBuf.String(), err
}
