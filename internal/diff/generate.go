package diff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Generate produces unified-diff text turning old into new, labeled with
// a/<path> and b/<path> headers so the result round-trips through Parse
// and Apply. Missing trailing newlines on either side come out as
// "\ No newline at end of file" markers.
func Generate(old, new, path string) (string, error) {
	ud := difflib.UnifiedDiff{
		A:        splitLines(old),
		B:        splitLines(new),
		FromFile: "a/" + path,
		ToFile:   "b/" + path,
		Context:  3,
	}
	text, err := difflib.GetUnifiedDiffString(ud)
	if err != nil {
		return "", err
	}
	if text == "" {
		// splitLines terminates the final line on both sides, so inputs
		// that differ only in the trailing newline compare equal. Emit
		// the one-line patch difflib cannot see.
		if old == new {
			return "", nil
		}
		return eolOnlyPatch(old, new, path), nil
	}

	patches, err := Parse(text)
	if err != nil {
		return "", err
	}
	p := patches[0]
	if old != "" && !strings.HasSuffix(old, "\n") {
		markNoEOL(p, len(splitLines(old)), true)
	}
	if new != "" && !strings.HasSuffix(new, "\n") {
		markNoEOL(p, len(splitLines(new)), false)
	}
	return Render(patches), nil
}

// markNoEOL flags the diff line that carries the side's final content
// line, provided the last hunk actually reaches the end of that side.
func markNoEOL(p *FilePatch, total int, oldSide bool) {
	if len(p.Hunks) == 0 {
		return
	}
	h := &p.Hunks[len(p.Hunks)-1]
	start, count := h.NewStart, h.NewCount
	if oldSide {
		start, count = h.OldStart, h.OldCount
	}
	if start+count-1 != total {
		return
	}
	for i := len(h.Lines) - 1; i >= 0; i-- {
		m := h.Lines[i].Marker
		if m == Context || (oldSide && m == Remove) || (!oldSide && m == Add) {
			h.Lines[i].NoEOL = true
			return
		}
	}
}

// eolOnlyPatch builds the patch for contents whose only difference is
// whether the final line is newline-terminated.
func eolOnlyPatch(old, new, path string) string {
	lines := strings.Split(strings.TrimSuffix(old, "\n"), "\n")
	n := len(lines)
	last := lines[n-1]
	p := &FilePatch{
		OldPath: path,
		NewPath: path,
		Hunks: []Hunk{{
			OldStart: n, OldCount: 1,
			NewStart: n, NewCount: 1,
			Lines: []Line{
				{Marker: Remove, Text: last, NoEOL: !strings.HasSuffix(old, "\n")},
				{Marker: Add, Text: last, NoEOL: !strings.HasSuffix(new, "\n")},
			},
		}},
	}
	return Render([]*FilePatch{p})
}

// splitLines splits content into newline-terminated lines without the
// phantom trailing empty line difflib.SplitLines would add.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	lines := strings.SplitAfter(s, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	} else {
		lines[len(lines)-1] += "\n"
	}
	return lines
}
