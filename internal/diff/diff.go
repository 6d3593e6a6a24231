// Package diff parses unified-diff text into an in-memory representation
// and renders it back. Parsing is deliberately permissive: extended git
// headers are skipped, CRLF line endings are preserved verbatim inside
// line text, and a diff with zero hunks is a valid no-op.
package diff

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DevNull marks file creation (old side) or deletion (new side) in a header.
const DevNull = "/dev/null"

// Marker classifies a hunk body line.
type Marker byte

const (
	Context Marker = ' '
	Add     Marker = '+'
	Remove  Marker = '-'
)

// Line is a single hunk body line. Text is verbatim diff content after the
// marker character; it may carry a trailing \r when the input used CRLF.
type Line struct {
	Marker Marker
	Text   string
	// NoEOL is set by a following "\ No newline at end of file" marker.
	NoEOL bool
}

// Hunk is one contiguous change block with its unified-diff coordinates.
type Hunk struct {
	OldStart int
	OldCount int
	NewStart int
	NewCount int
	Lines    []Line
}

// FilePatch is the parsed diff for a single file. OldPath == DevNull means
// the patch creates the file; NewPath == DevNull means it deletes it.
type FilePatch struct {
	OldPath string
	NewPath string
	Hunks   []Hunk
}

// IsCreate reports whether the patch creates a new file.
func (p *FilePatch) IsCreate() bool { return p.OldPath == DevNull }

// IsDelete reports whether the patch deletes the file.
func (p *FilePatch) IsDelete() bool { return p.NewPath == DevNull }

// TargetPath returns the on-disk path the patch addresses.
func (p *FilePatch) TargetPath() string {
	if p.IsDelete() {
		return p.OldPath
	}
	return p.NewPath
}

// ParseError reports structurally malformed diff text. Line is 1-based.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("diff parse error at line %d: %s", e.Line, e.Reason)
}

// ErrMultiFile is returned by ParseFile when the diff spans several files.
var ErrMultiFile = errors.New("diff contains more than one file")

var hunkHeaderRegex = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@`)

// Parse turns raw unified-diff text into an ordered list of file patches.
// Text outside file headers and hunk bodies (git extended headers, index
// lines, commit messages) is ignored. An input with no file headers at all
// parses to an empty, non-error result.
func Parse(text string) ([]*FilePatch, error) {
	lines := strings.Split(text, "\n")

	var patches []*FilePatch
	var current *FilePatch

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		switch {
		case strings.HasPrefix(line, "--- "):
			oldPath := parseHeaderPath(line[4:])
			// The pairing "+++" must follow immediately.
			if i+1 >= len(lines) || !strings.HasPrefix(lines[i+1], "+++ ") {
				return nil, &ParseError{Line: i + 1, Reason: `"---" header without matching "+++"`}
			}
			newPath := parseHeaderPath(lines[i+1][4:])
			current = &FilePatch{OldPath: oldPath, NewPath: newPath}
			patches = append(patches, current)
			i++

		case strings.HasPrefix(line, "@@"):
			if current == nil {
				return nil, &ParseError{Line: i + 1, Reason: "hunk header before any file header"}
			}
			hunk, err := parseHunkHeader(line, i+1)
			if err != nil {
				return nil, err
			}
			consumed := parseHunkBody(lines[i+1:], hunk)
			current.Hunks = append(current.Hunks, *hunk)
			i += consumed

		default:
			// Extended headers and any other noise between files.
		}
	}

	return patches, nil
}

// ParseFile is the single-file entry point. It returns ErrMultiFile when the
// diff carries headers for more than one file, and (nil, nil) for an empty
// diff, which callers treat as a no-op.
func ParseFile(text string) (*FilePatch, error) {
	patches, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if len(patches) == 0 {
		return nil, nil
	}
	if len(patches) > 1 {
		return nil, ErrMultiFile
	}
	return patches[0], nil
}

func parseHunkHeader(line string, lineNum int) (*Hunk, error) {
	m := hunkHeaderRegex.FindStringSubmatch(line)
	if m == nil {
		return nil, &ParseError{Line: lineNum, Reason: fmt.Sprintf("malformed hunk header %q", line)}
	}
	atoi := func(s string, def int) int {
		if s == "" {
			return def
		}
		n, _ := strconv.Atoi(s)
		return n
	}
	return &Hunk{
		OldStart: atoi(m[1], 0),
		OldCount: atoi(m[2], 1),
		NewStart: atoi(m[3], 0),
		NewCount: atoi(m[4], 1),
	}, nil
}

// parseHunkBody consumes body lines following a hunk header and returns how
// many input lines it consumed. Any line not starting with a diff marker
// ends the hunk.
func parseHunkBody(lines []string, hunk *Hunk) int {
	consumed := 0
	oldLeft, newLeft := hunk.OldCount, hunk.NewCount

	for _, raw := range lines {
		if oldLeft <= 0 && newLeft <= 0 {
			break
		}
		if raw == "" {
			// Some producers emit bare empty lines for empty context.
			hunk.Lines = append(hunk.Lines, Line{Marker: Context, Text: ""})
			oldLeft--
			newLeft--
			consumed++
			continue
		}
		switch raw[0] {
		case ' ':
			hunk.Lines = append(hunk.Lines, Line{Marker: Context, Text: raw[1:]})
			oldLeft--
			newLeft--
		case '+':
			hunk.Lines = append(hunk.Lines, Line{Marker: Add, Text: raw[1:]})
			newLeft--
		case '-':
			hunk.Lines = append(hunk.Lines, Line{Marker: Remove, Text: raw[1:]})
			oldLeft--
		case '\\':
			// "\ No newline at end of file" applies to the previous line.
			if n := len(hunk.Lines); n > 0 {
				hunk.Lines[n-1].NoEOL = true
			}
		default:
			return consumed
		}
		consumed++
	}
	return consumed
}

// parseHeaderPath extracts the path from a "---"/"+++" header value,
// dropping the a/ or b/ prefix and any trailing tab-separated timestamp.
func parseHeaderPath(s string) string {
	if idx := strings.IndexByte(s, '\t'); idx >= 0 {
		s = s[:idx]
	}
	s = strings.TrimRight(s, "\r")
	s = strings.TrimSpace(s)
	if s == DevNull {
		return s
	}
	if strings.HasPrefix(s, "a/") || strings.HasPrefix(s, "b/") {
		return s[2:]
	}
	return s
}

// Render writes patches back out as unified-diff text. The output is
// suitable for handing to an external tool such as git apply.
func Render(patches []*FilePatch) string {
	var sb strings.Builder
	for _, p := range patches {
		sb.WriteString("--- ")
		sb.WriteString(headerPath(p.OldPath, "a/"))
		sb.WriteString("\n+++ ")
		sb.WriteString(headerPath(p.NewPath, "b/"))
		sb.WriteByte('\n')
		for _, h := range p.Hunks {
			fmt.Fprintf(&sb, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
			for _, l := range h.Lines {
				sb.WriteByte(byte(l.Marker))
				sb.WriteString(l.Text)
				sb.WriteByte('\n')
				if l.NoEOL {
					sb.WriteString("\\ No newline at end of file\n")
				}
			}
		}
	}
	return sb.String()
}

func headerPath(path, prefix string) string {
	if path == DevNull {
		return path
	}
	return prefix + path
}
