package fs

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// workspacePolicy builds a single-root policy over a fresh temp dir.
// t.TempDir may itself sit behind a symlink (macOS), so the root is
// resolved first.
func workspacePolicy(t *testing.T) (Policy, string) {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return Policy{Mode: ModeWorkspace, WorkspaceRoot: root}, root
}

func TestParseRootMode(t *testing.T) {
	for in, want := range map[string]RootMode{
		"":          ModeAuto,
		"auto":      ModeAuto,
		"workspace": ModeWorkspace,
		"Project":   ModeProject,
	} {
		got, err := ParseRootMode(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	_, err := ParseRootMode("bogus")
	assert.Error(t, err)
}

func TestResolveRelative(t *testing.T) {
	policy, root := workspacePolicy(t)

	got, err := policy.Resolve("sub/file.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "file.txt"), got)
}

func TestResolveAbsoluteInside(t *testing.T) {
	policy, root := workspacePolicy(t)

	target := filepath.Join(root, "file.txt")
	got, err := policy.Resolve(target)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestResolveEscapeRejected(t *testing.T) {
	policy, _ := workspacePolicy(t)

	for _, path := range []string{
		"../outside.txt",
		"sub/../../outside.txt",
		"/etc/passwd",
	} {
		_, err := policy.Resolve(path)
		var violation *Violation
		require.ErrorAs(t, err, &violation, "path %q should be rejected", path)
	}
}

func TestResolveSymlinkEscapeRejected(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need privileges on windows")
	}
	policy, root := workspacePolicy(t)
	outside := t.TempDir()

	link := filepath.Join(root, "leak")
	require.NoError(t, os.Symlink(outside, link))

	_, err := policy.Resolve("leak/secret.txt")
	var violation *Violation
	require.ErrorAs(t, err, &violation)
}

func TestResolveAutoPrefersExistingFile(t *testing.T) {
	workspace, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	project, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	policy := Policy{Mode: ModeAuto, WorkspaceRoot: workspace, ProjectRoot: project}

	// File exists only under the workspace root.
	existing := filepath.Join(workspace, "present.txt")
	require.NoError(t, os.WriteFile(existing, []byte("x"), 0644))

	got, err := policy.Resolve("present.txt")
	require.NoError(t, err)
	assert.Equal(t, existing, got)

	// A new file lands under the project root, which auto tries first.
	got, err = policy.Resolve("brand-new.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(project, "brand-new.txt"), got)
}

func TestDefaultRoot(t *testing.T) {
	policy := Policy{Mode: ModeAuto, WorkspaceRoot: "/w", ProjectRoot: "/p"}
	assert.Equal(t, "/p", policy.DefaultRoot())

	policy = Policy{Mode: ModeWorkspace, WorkspaceRoot: "/w", ProjectRoot: "/p"}
	assert.Equal(t, "/w", policy.DefaultRoot())
}

func TestCopyFilePreservesMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.sh")
	dst := filepath.Join(dir, "dst.sh")
	require.NoError(t, os.WriteFile(src, []byte("#!/bin/sh\n"), 0755))

	require.NoError(t, CopyFile(src, dst))

	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\n", string(data))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0755), info.Mode().Perm())
}

func TestSHA256(t *testing.T) {
	path := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello\n"), 0644))

	sum, err := SHA256(path)
	require.NoError(t, err)
	assert.Equal(t, "5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03", sum)

	_, err = SHA256(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
