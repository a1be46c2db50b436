// Package conflict provides card content-similarity scoring.
package conflict

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/jwlin/recallbox/internal/models"
)

// CardSimilarity scores two cards in [0,1] using the normalized edit
// distance of their markdown-stripped front/back text. 1.0 means identical
// content; scores at or above the policy threshold are treated as
// near-duplicates that are safe to auto-resolve.
func CardSimilarity(local, remote *models.Card) float64 {
	a := normalizeCardText(local)
	b := normalizeCardText(remote)

	if a == "" && b == "" {
		return 1.0
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(a, b, false)
	distance := dmp.DiffLevenshtein(diffs)

	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}

	similarity := 1.0 - float64(distance)/float64(longest)
	if similarity < 0 {
		return 0
	}
	return similarity
}

// normalizeCardText concatenates front and back, strips markdown markup,
// lowercases and collapses whitespace. Cards authored with different
// formatting but the same words compare as equal.
func normalizeCardText(c *models.Card) string {
	if c == nil {
		return ""
	}
	plain := markdownToPlain(c.Front + "\n" + c.Back)
	return strings.Join(strings.Fields(strings.ToLower(plain)), " ")
}

// markdownToPlain extracts the text content from a markdown document.
func markdownToPlain(md string) string {
	src := []byte(md)
	root := goldmark.New().Parser().Parse(text.NewReader(src))

	var sb strings.Builder
	ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Text:
			sb.Write(node.Segment.Value(src))
			if node.SoftLineBreak() || node.HardLineBreak() {
				sb.WriteByte('\n')
			}
		case *ast.AutoLink:
			sb.Write(node.URL(src))
		case *ast.FencedCodeBlock:
			writeLines(&sb, src, node)
		case *ast.CodeBlock:
			writeLines(&sb, src, node)
		case *ast.Paragraph, *ast.Heading, *ast.ListItem:
			sb.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})

	return sb.String()
}

// writeLines appends the raw lines of a block node.
func writeLines(sb *strings.Builder, src []byte, node ast.Node) {
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
}
