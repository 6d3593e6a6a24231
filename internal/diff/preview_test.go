package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStats(t *testing.T) {
	text := `--- /dev/null
+++ b/new.txt
@@ -0,0 +1,2 @@
+a
+b
--- a/mod.txt
+++ b/mod.txt
@@ -1,3 +1,3 @@
 ctx
-old
+new
 ctx2
`
	patches, err := Parse(text)
	require.NoError(t, err)

	stats := Stats(patches)
	require.Len(t, stats, 2)

	assert.Equal(t, "new.txt", stats[0].Path)
	assert.True(t, stats[0].Create)
	assert.Equal(t, 2, stats[0].Added)
	assert.Equal(t, 0, stats[0].Removed)

	assert.Equal(t, "mod.txt", stats[1].Path)
	assert.False(t, stats[1].Create)
	assert.Equal(t, 1, stats[1].Hunks)
	assert.Equal(t, 1, stats[1].Added)
	assert.Equal(t, 1, stats[1].Removed)
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "No changes.\n", Preview(nil))

	patches, err := Parse(`--- a/f.txt
+++ b/f.txt
@@ -1 +1 @@
-x
+y
`)
	require.NoError(t, err)

	out := Preview(patches)
	assert.Contains(t, out, "modify f.txt: 1 hunk(s), +1 -1")
	assert.Contains(t, out, "1 file(s), +1 -1")
}
