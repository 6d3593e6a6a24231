// Package applier applies a parsed file patch to in-memory content. It
// performs no filesystem I/O, so hunk matching can be tested without a
// real file tree. Line-ending convention (LF vs CRLF) is detected from the
// input and preserved for the whole output.
package applier

import (
	"fmt"
	"strings"

	"github.com/sokinpui/patchtx/internal/diff"
)

// Mismatch reports a hunk whose context+remove block was not found in the
// current content, usually because the patch base has drifted.
type Mismatch struct {
	Path   string
	Hunk   int // 0-based index into the patch's hunks
	Reason string
}

func (e *Mismatch) Error() string {
	return fmt.Sprintf("hunk %d does not apply to %s: %s", e.Hunk+1, e.Path, e.Reason)
}

// backwardWindow bounds how far before the expected position a hunk is
// searched for. Forward search is unbounded since earlier hunks only ever
// push later ones down.
const backwardWindow = 64

// Apply transforms content according to patch and returns the new bytes.
// For a creation patch the input content is ignored and the file is built
// from the hunks' add lines. Bytes that are not valid UTF-8 are matched
// byte for byte; no re-encoding happens anywhere.
func Apply(content []byte, patch *diff.FilePatch) ([]byte, error) {
	doc := splitDoc(content)
	if patch.IsCreate() {
		// New files adopt the convention the add lines were written in.
		doc = document{trailingNewline: true, crlf: hunksCarryCRLF(patch)}
	}

	offset := 0
	for i := range patch.Hunks {
		hunk := &patch.Hunks[i]
		expected, replacement := hunkBlocks(hunk)

		pos, err := locate(doc.lines, expected, replacement, hunk, offset, patch.TargetPath(), i)
		if err != nil {
			return nil, err
		}

		newLines := make([]string, 0, len(doc.lines)-len(expected)+len(replacement))
		newLines = append(newLines, doc.lines[:pos]...)
		newLines = append(newLines, replacement...)
		newLines = append(newLines, doc.lines[pos+len(expected):]...)
		doc.lines = newLines
		offset += len(replacement) - len(expected)

		// A hunk whose replacement reaches the end of the document decides
		// whether the output keeps a final newline.
		if pos+len(replacement) == len(doc.lines) {
			if last := lastKeptLine(hunk); last != nil {
				doc.trailingNewline = !last.NoEOL
			}
		}
	}

	return doc.render(), nil
}

// locate finds the 0-based index where the hunk's expected block starts.
// The position implied by the hunk header is tried first, then a forward
// scan, then a bounded backward scan to tolerate upstream drift.
func locate(lines, expected, replacement []string, hunk *diff.Hunk, offset int, path string, idx int) (int, error) {
	want := hunk.OldStart - 1 + offset
	if hunk.OldCount == 0 {
		// Pure insertion: old_start names the line the block goes after.
		want = hunk.OldStart + offset
	}
	if want < 0 {
		want = 0
	}
	if want > len(lines) {
		want = len(lines)
	}

	if len(expected) == 0 {
		return want, nil
	}

	if matchAt(lines, expected, want) {
		return want, nil
	}
	for pos := want + 1; pos+len(expected) <= len(lines); pos++ {
		if matchAt(lines, expected, pos) {
			return pos, nil
		}
	}
	low := want - backwardWindow
	if low < 0 {
		low = 0
	}
	for pos := want - 1; pos >= low; pos-- {
		if matchAt(lines, expected, pos) {
			return pos, nil
		}
	}

	reason := "context not found (stale patch base)"
	if len(replacement) > 0 && findAnywhere(lines, replacement) >= 0 {
		reason = "hunk appears to be already applied"
	}
	return 0, &Mismatch{Path: path, Hunk: idx, Reason: reason}
}

func matchAt(lines, block []string, pos int) bool {
	if pos < 0 || pos+len(block) > len(lines) {
		return false
	}
	for j, want := range block {
		if lines[pos+j] != want {
			return false
		}
	}
	return true
}

func findAnywhere(lines, block []string) int {
	for pos := 0; pos+len(block) <= len(lines); pos++ {
		if matchAt(lines, block, pos) {
			return pos
		}
	}
	return -1
}

// hunkBlocks splits a hunk into the block expected in the current content
// (context + remove lines) and its replacement (context + add lines). A
// trailing \r carried in from a CRLF diff body is dropped so both sides
// compare in the document's normalized LF space.
func hunkBlocks(hunk *diff.Hunk) (expected, replacement []string) {
	for _, l := range hunk.Lines {
		text := strings.TrimSuffix(l.Text, "\r")
		switch l.Marker {
		case diff.Context:
			expected = append(expected, text)
			replacement = append(replacement, text)
		case diff.Remove:
			expected = append(expected, text)
		case diff.Add:
			replacement = append(replacement, text)
		}
	}
	return expected, replacement
}

func hunksCarryCRLF(patch *diff.FilePatch) bool {
	for _, h := range patch.Hunks {
		for _, l := range h.Lines {
			if l.Marker == diff.Add && strings.HasSuffix(l.Text, "\r") {
				return true
			}
		}
	}
	return false
}

// lastKeptLine returns the hunk's last line that survives in the output.
func lastKeptLine(hunk *diff.Hunk) *diff.Line {
	for i := len(hunk.Lines) - 1; i >= 0; i-- {
		if hunk.Lines[i].Marker != diff.Remove {
			return &hunk.Lines[i]
		}
	}
	return nil
}

// document is content split into lines plus the state needed to rebuild it
// byte-for-byte: line-ending convention and presence of a final newline.
type document struct {
	lines           []string
	crlf            bool
	trailingNewline bool
}

func splitDoc(content []byte) document {
	s := string(content)
	if s == "" {
		return document{trailingNewline: true}
	}

	doc := document{crlf: strings.Contains(s, "\r\n")}
	if doc.crlf {
		s = strings.ReplaceAll(s, "\r\n", "\n")
	}

	lines := strings.Split(s, "\n")
	if lines[len(lines)-1] == "" {
		doc.trailingNewline = true
		lines = lines[:len(lines)-1]
	}
	doc.lines = lines
	return doc
}

func (d document) render() []byte {
	if len(d.lines) == 0 {
		return []byte{}
	}
	sep := "\n"
	if d.crlf {
		sep = "\r\n"
	}
	out := strings.Join(d.lines, sep)
	if d.trailingNewline {
		out += sep
	}
	return []byte(out)
}
