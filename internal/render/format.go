// Package render converts HTML message bodies into plain text suitable for
// classification input and preview display.
package render

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var blankRuns = regexp.MustCompile(`\n{3,}`)

// HTMLToText parses an HTML body and emits readable text: block elements
// become line breaks, script/style/head subtrees are dropped. Best-effort:
// unparseable input is returned as-is.
func HTMLToText(htmlStr string) string {
	doc, err := html.Parse(strings.NewReader(htmlStr))
	if err != nil {
		return htmlStr
	}

	var b strings.Builder
	var visit func(n *html.Node, skip bool)
	visit = func(n *html.Node, skip bool) {
		switch n.Type {
		case html.ElementNode:
			switch n.Data {
			case "script", "style", "head", "title":
				skip = true
			case "br":
				b.WriteString("\n")
			case "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "table":
				b.WriteString("\n")
			}
		case html.TextNode:
			if !skip {
				b.WriteString(n.Data)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c, skip)
		}
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "div", "tr", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "table":
				b.WriteString("\n")
			}
		}
	}
	visit(doc, false)

	return normalize(b.String())
}

// PreviewText derives a single-line preview of at most maxLen runes from an
// HTML or plain-text body.
func PreviewText(body string, maxLen int) string {
	text := body
	if strings.Contains(body, "<") && strings.Contains(body, ">") {
		text = HTMLToText(body)
	}
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if maxLen > 0 && len(runes) > maxLen {
		return strings.TrimSpace(string(runes[:maxLen])) + "…"
	}
	return text
}

// normalize trims trailing space per line and collapses blank-line runs.
func normalize(s string) string {
	lines := strings.Split(s, "\n")
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], " \t\r")
	}
	out := strings.Join(lines, "\n")
	out = blankRuns.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
