package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"ArticleReview/internal/ports"
)

const paragraphSelector = "p, li, blockquote"

var (
	spaceExpr     = regexp.MustCompile(`\s+`)
	blankLineExpr = regexp.MustCompile(`\n\s*\n`)
)

// HTMLParagrapher splits article HTML into plain-text paragraphs. Paragraph
// numbers used in prompts and link positions are 1-based indexes into its output.
type HTMLParagrapher struct{}

var _ ports.Paragrapher = HTMLParagrapher{}

// NewHTMLParagrapher returns the goquery-backed paragrapher.
func NewHTMLParagrapher() HTMLParagrapher {
	return HTMLParagrapher{}
}

// Paragraphs returns non-empty block texts in document order. Bodies without
// block markup are split on blank lines.
func (HTMLParagrapher) Paragraphs(body string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse article html: %w", err)
	}

	var out []string
	doc.Find(paragraphSelector).Each(func(_ int, sel *goquery.Selection) {
		// nested blocks (a <p> inside <li>) are counted once, at the outer element
		if sel.ParentsFiltered(paragraphSelector).Length() > 0 {
			return
		}
		if text := cleanText(sel.Text()); text != "" {
			out = append(out, text)
		}
	})
	if len(out) > 0 {
		return out, nil
	}

	for _, chunk := range blankLineExpr.Split(doc.Text(), -1) {
		if text := cleanText(chunk); text != "" {
			out = append(out, text)
		}
	}
	return out, nil
}

// Numbered renders paragraphs as "[1] text" lines for evaluator prompts.
func Numbered(paragraphs []string) string {
	var b strings.Builder
	for i, p := range paragraphs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, p)
	}
	return b.String()
}

func cleanText(value string) string {
	return strings.TrimSpace(spaceExpr.ReplaceAllString(value, " "))
}
