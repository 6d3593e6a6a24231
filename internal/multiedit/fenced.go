package multiedit

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractFenced pulls diff content out of markdown fenced code blocks.
// Blocks tagged "diff" or "patch" are taken; untagged blocks are taken
// only when no tagged block exists and the content looks like a diff.
// Input with no fences at all is returned unchanged, so raw diffs and
// markdown-wrapped diffs go through the same path.
func ExtractFenced(input string) (string, error) {
	source := []byte(input)
	root := goldmark.DefaultParser().Parse(text.NewReader(source))

	var tagged, untagged []string
	walker := func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		fence, ok := node.(*ast.FencedCodeBlock)
		if !ok {
			return ast.WalkContinue, nil
		}

		var lang string
		if fence.Info != nil {
			lang = string(fence.Info.Text(source))
		}

		var content bytes.Buffer
		lines := fence.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			content.Write(seg.Value(source))
		}

		switch lang {
		case "diff", "patch":
			tagged = append(tagged, content.String())
		case "":
			untagged = append(untagged, content.String())
		}
		return ast.WalkSkipChildren, nil
	}
	if err := ast.Walk(root, walker); err != nil {
		return "", err
	}

	if len(tagged) > 0 {
		return strings.Join(tagged, "\n"), nil
	}
	for _, c := range untagged {
		if looksLikeDiff(c) {
			return c, nil
		}
	}
	return input, nil
}

func looksLikeDiff(s string) bool {
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "--- ") || strings.HasPrefix(line, "@@ ") {
			return true
		}
	}
	return false
}
