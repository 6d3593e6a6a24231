// Package multiedit splits a bundled multi-file edit into per-file diff
// patches. The input format is a sequence of blocks, each introduced by a
// header line ending in ":" that names the target file, followed by the
// hunks for that file. Blocks whose bodies lack ---/+++ file headers get
// them synthesized from the block header.
package multiedit

import (
	"fmt"
	"strings"

	"github.com/sokinpui/patchtx/internal/diff"
)

// Block is one file's worth of edits from a bundled input.
type Block struct {
	Path string
	Body string
}

// ParseError reports a malformed multi-edit input.
type ParseError struct {
	Line   int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("multi-edit parse error at line %d: %s", e.Line, e.Reason)
}

// isHeader reports whether line opens a new block. A header names a file
// and ends with ":"; diff body lines (context, add, remove, hunk headers)
// never qualify.
func isHeader(line string) bool {
	if !strings.HasSuffix(line, ":") {
		return false
	}
	trimmed := strings.TrimSuffix(line, ":")
	if strings.TrimSpace(trimmed) == "" {
		return false
	}
	switch line[0] {
	case '+', '-', '@', ' ', '\t', '\\':
		return false
	}
	return true
}

// Split breaks input into blocks. A header is only recognized at the very
// start of the input or immediately after a blank line, so a body line
// that happens to end with ":" cannot terminate a block early.
func Split(input string) ([]Block, error) {
	lines := strings.Split(input, "\n")

	var (
		blocks    []Block
		current   *Block
		body      []string
		lastBlank = true // start of input counts as a boundary
	)
	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimRight(strings.Join(body, "\n"), "\n") + "\n"
		blocks = append(blocks, *current)
		current = nil
		body = nil
	}

	for i, line := range lines {
		if lastBlank && isHeader(line) {
			flush()
			current = &Block{Path: strings.TrimSpace(strings.TrimSuffix(line, ":"))}
			lastBlank = false
			continue
		}
		if current == nil {
			if strings.TrimSpace(line) != "" {
				return nil, &ParseError{Line: i + 1, Reason: "content before first file header"}
			}
		} else {
			body = append(body, line)
		}
		lastBlank = strings.TrimSpace(line) == ""
	}
	flush()

	if len(blocks) == 0 {
		return nil, &ParseError{Line: 1, Reason: "no file blocks found"}
	}
	return blocks, nil
}

// Consolidate turns blocks into a single unified diff. Block bodies that
// already carry ---/+++ headers pass through; bare hunk bodies get headers
// synthesized from the block's path.
func Consolidate(blocks []Block) (string, error) {
	var sb strings.Builder
	for _, b := range blocks {
		body := strings.TrimLeft(b.Body, "\n")
		if body == "" || strings.TrimSpace(body) == "" {
			return "", fmt.Errorf("empty block for %s", b.Path)
		}
		if !strings.HasPrefix(body, "--- ") {
			sb.WriteString("--- a/" + b.Path + "\n")
			sb.WriteString("+++ b/" + b.Path + "\n")
		}
		sb.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			sb.WriteByte('\n')
		}
	}
	return sb.String(), nil
}

// Parse splits and consolidates input, then parses the result into file
// patches.
func Parse(input string) ([]*diff.FilePatch, error) {
	blocks, err := Split(input)
	if err != nil {
		return nil, err
	}
	consolidated, err := Consolidate(blocks)
	if err != nil {
		return nil, err
	}
	return diff.Parse(consolidated)
}
