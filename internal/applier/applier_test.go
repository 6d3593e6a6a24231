package applier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sokinpui/patchtx/internal/diff"
)

func parseOne(t *testing.T, text string) *diff.FilePatch {
	t.Helper()
	p, err := diff.ParseFile(text)
	require.NoError(t, err)
	require.NotNil(t, p)
	return p
}

func TestApplySimple(t *testing.T) {
	patch := parseOne(t, `--- a/hello.txt
+++ b/hello.txt
@@ -1,3 +1,3 @@
 line1
-line2
+line-two
 line3
`)
	out, err := Apply([]byte("line1\nline2\nline3\n"), patch)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline-two\nline3\n", string(out))
}

func TestApplyCreate(t *testing.T) {
	patch := parseOne(t, `--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+hello
+world
`)
	out, err := Apply(nil, patch)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld\n", string(out))
}

func TestApplyOffsetDrift(t *testing.T) {
	// The hunk header says line 2, but the block actually sits at line 5.
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -2,3 +2,3 @@
 aaa
-bbb
+BBB
 ccc
`)
	content := "x\ny\nz\nw\naaa\nbbb\nccc\n"
	out, err := Apply([]byte(content), patch)
	require.NoError(t, err)
	assert.Equal(t, "x\ny\nz\nw\naaa\nBBB\nccc\n", string(out))
}

func TestApplyBackwardDrift(t *testing.T) {
	// Block sits a few lines before where the header claims.
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -6,3 +6,3 @@
 aaa
-bbb
+BBB
 ccc
`)
	content := "aaa\nbbb\nccc\nd\ne\nf\ng\nh\n"
	out, err := Apply([]byte(content), patch)
	require.NoError(t, err)
	assert.Equal(t, "aaa\nBBB\nccc\nd\ne\nf\ng\nh\n", string(out))
}

func TestApplyMultipleHunksOffset(t *testing.T) {
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -1,2 +1,3 @@
 one
+one-and-a-half
 two
@@ -4,2 +5,2 @@
 four
-five
+FIVE
`)
	content := "one\ntwo\nthree\nfour\nfive\n"
	out, err := Apply([]byte(content), patch)
	require.NoError(t, err)
	assert.Equal(t, "one\none-and-a-half\ntwo\nthree\nfour\nFIVE\n", string(out))
}

func TestApplyMismatch(t *testing.T) {
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,3 @@
 line1
-line2
+line-two
 line3
`)
	_, err := Apply([]byte("completely\ndifferent\ncontent\n"), patch)

	var mismatch *Mismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, "f.txt", mismatch.Path)
	assert.Equal(t, 0, mismatch.Hunk)
	assert.Contains(t, mismatch.Error(), "stale patch base")
}

func TestApplyAlreadyApplied(t *testing.T) {
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,3 @@
 line1
-line2
+line-two
 line3
`)
	_, err := Apply([]byte("line1\nline-two\nline3\n"), patch)

	var mismatch *Mismatch
	require.ErrorAs(t, err, &mismatch)
	assert.Contains(t, mismatch.Reason, "already applied")
}

func TestApplyPreservesCRLF(t *testing.T) {
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -1,3 +1,3 @@
 line1
-line2
+line-two
 line3
`)
	out, err := Apply([]byte("line1\r\nline2\r\nline3\r\n"), patch)
	require.NoError(t, err)
	assert.Equal(t, "line1\r\nline-two\r\nline3\r\n", string(out))
}

func TestApplyCRLFDiffAgainstLFFile(t *testing.T) {
	// Diff body carries \r (copied from a CRLF producer); file is LF.
	patch := parseOne(t, "--- a/f.txt\n+++ b/f.txt\n@@ -1,2 +1,2 @@\n line1\r\n-line2\r\n+line-two\r\n")
	out, err := Apply([]byte("line1\nline2\n"), patch)
	require.NoError(t, err)
	assert.Equal(t, "line1\nline-two\n", string(out))
}

func TestApplyNoTrailingNewline(t *testing.T) {
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -1 +1 @@
-old
\ No newline at end of file
+new
\ No newline at end of file
`)
	out, err := Apply([]byte("old"), patch)
	require.NoError(t, err)
	assert.Equal(t, "new", string(out))
}

func TestApplyAddsTrailingNewline(t *testing.T) {
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -1 +1 @@
-old
\ No newline at end of file
+new
`)
	out, err := Apply([]byte("old"), patch)
	require.NoError(t, err)
	assert.Equal(t, "new\n", string(out))
}

func TestApplyGeneratedDiffRoundTrips(t *testing.T) {
	cases := []struct{ name, old, new string }{
		{"no trailing newline", "one\ntwo\nthree", "one\n2\nthree"},
		{"newline added at eof", "a\nb", "a\nb\n"},
		{"newline removed at eof", "a\nb\n", "a\nb"},
		{"terminated both sides", "x\ny\n", "x\nz\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			text, err := diff.Generate(tc.old, tc.new, "f.txt")
			require.NoError(t, err)

			patch := parseOne(t, text)
			out, err := Apply([]byte(tc.old), patch)
			require.NoError(t, err)
			assert.Equal(t, tc.new, string(out))
		})
	}
}

func TestApplyPureInsertion(t *testing.T) {
	patch := parseOne(t, `--- a/f.txt
+++ b/f.txt
@@ -2,0 +3,1 @@
+inserted
`)
	out, err := Apply([]byte("one\ntwo\nthree\n"), patch)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\ninserted\nthree\n", string(out))
}
