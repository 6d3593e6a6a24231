package gitpatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	dir   string
	stdin string
	args  []string
}

// fakeRunner scripts git responses per leading subcommand argument.
type fakeRunner struct {
	calls     []call
	responses map[string]fakeResponse
}

type fakeResponse struct {
	stdout string
	stderr string
	err    error
}

func (f *fakeRunner) Run(ctx context.Context, dir, stdin string, args ...string) (string, string, error) {
	f.calls = append(f.calls, call{dir: dir, stdin: stdin, args: args})
	key := strings.Join(args, " ")
	for prefix, resp := range f.responses {
		if strings.HasPrefix(key, prefix) {
			return resp.stdout, resp.stderr, resp.err
		}
	}
	return "", "", nil
}

const samplePatch = `diff --git a/hello.txt b/hello.txt
index 5626abf..f719efd 100644
--- a/hello.txt
+++ b/hello.txt
@@ -1 +1 @@
-one
+two
`

func TestCheckPassesPatchOnStdin(t *testing.T) {
	fake := &fakeRunner{}
	b := New("/repo", 0, nil).WithRunner(fake)

	require.NoError(t, b.Check(context.Background(), samplePatch))

	require.Len(t, fake.calls, 1)
	assert.Equal(t, "/repo", fake.calls[0].dir)
	assert.Equal(t, samplePatch, fake.calls[0].stdin)
	assert.Equal(t, []string{"apply", "--check", "-"}, fake.calls[0].args)
}

func TestCheckFailure(t *testing.T) {
	fake := &fakeRunner{responses: map[string]fakeResponse{
		"apply --check": {stderr: "error: patch failed: hello.txt:1", err: errors.New("exit status 1")},
	}}
	b := New("/repo", 0, nil).WithRunner(fake)

	err := b.Check(context.Background(), samplePatch)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Error(), "patch failed")
}

func TestApplyThreeWayClean(t *testing.T) {
	fake := &fakeRunner{}
	b := New("/repo", 0, nil).WithRunner(fake)

	res, err := b.ApplyThreeWay(context.Background(), samplePatch)
	require.NoError(t, err)
	assert.Empty(t, res.Conflicted)
	assert.Equal(t, []string{"apply", "--3way", "-"}, fake.calls[0].args)
}

func TestApplyThreeWayConflict(t *testing.T) {
	stderr := "Applied patch to 'hello.txt' with conflicts.\nApplied patch to 'other.txt' with conflicts.\n"
	fake := &fakeRunner{responses: map[string]fakeResponse{
		"apply --3way": {stderr: stderr, err: errors.New("exit status 1")},
	}}
	b := New("/repo", 0, nil).WithRunner(fake)

	res, err := b.ApplyThreeWay(context.Background(), samplePatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.txt", "other.txt"}, res.Conflicted)
}

func TestApplyThreeWayHardFailure(t *testing.T) {
	fake := &fakeRunner{responses: map[string]fakeResponse{
		"apply --3way": {stderr: "error: repository lacks the necessary blob", err: errors.New("exit status 128")},
	}}
	b := New("/repo", 0, nil).WithRunner(fake)

	_, err := b.ApplyThreeWay(context.Background(), samplePatch)
	var te *ToolError
	require.ErrorAs(t, err, &te)
}

func TestFiles(t *testing.T) {
	patch := samplePatch + `diff --git a/dir/new.txt b/dir/new.txt
new file mode 100644
index 0000000..3b18e51
--- /dev/null
+++ b/dir/new.txt
@@ -0,0 +1 @@
+hello world
`
	files, err := Files(patch)
	require.NoError(t, err)
	assert.Equal(t, []string{"hello.txt", "dir/new.txt"}, files)
}

func TestFileSectionKeepsExtendedHeaders(t *testing.T) {
	multi := samplePatch + `diff --git a/other.txt b/other.txt
index 1234567..89abcde 100644
--- a/other.txt
+++ b/other.txt
@@ -1 +1 @@
-x
+y
`
	section, err := FileSection(multi, "other.txt")
	require.NoError(t, err)
	assert.Contains(t, section, "index 1234567..89abcde")
	assert.Contains(t, section, "+y")
	assert.NotContains(t, section, "hello.txt")

	_, err = FileSection(multi, "absent.txt")
	assert.Error(t, err)
}

func TestApplyShadowCommits(t *testing.T) {
	fake := &fakeRunner{responses: map[string]fakeResponse{
		"rev-parse": {stdout: "deadbeefcafe\n"},
	}}
	b := New("/repo", 0, nil).WithRunner(fake)

	res, err := b.ApplyShadow(context.Background(), samplePatch)
	require.NoError(t, err)
	assert.Equal(t, "deadbeefcafe", res.Commit)
	assert.True(t, strings.HasPrefix(res.Branch, "patchtx/shadow-"))
	assert.NotEmpty(t, res.Worktree)

	var ops []string
	for _, c := range fake.calls {
		ops = append(ops, c.args[0])
	}
	assert.Equal(t, []string{"worktree", "apply", "add", "commit", "rev-parse"}, ops)

	// The three-way apply must run inside the shadow worktree.
	assert.Equal(t, res.Worktree, fake.calls[1].dir)
}

func TestApplyShadowConflictLeavesWorktree(t *testing.T) {
	fake := &fakeRunner{responses: map[string]fakeResponse{
		"apply --3way": {stderr: "Applied patch to 'hello.txt' with conflicts.\n", err: errors.New("exit status 1")},
	}}
	b := New("/repo", 0, nil).WithRunner(fake)

	res, err := b.ApplyShadow(context.Background(), samplePatch)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, []string{"hello.txt"}, conflict.Files)
	require.NotNil(t, res)
	assert.NotEmpty(t, res.Worktree)

	for _, c := range fake.calls {
		assert.NotEqual(t, "commit", c.args[0], fmt.Sprintf("unexpected commit call: %v", c.args))
	}
}
