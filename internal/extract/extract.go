// Package extract prepares rendered page HTML for the markdown distillation
// step: it parses the DOM, drops the element subtrees that never carry
// article content, and re-renders the remainder bounded to a maximum length.
package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
)

// CleanedPage is the result of cleaning one rendered page.
type CleanedPage struct {
	Title string
	HTML  string
}

// strippedElements are removed wholesale before the page is handed to the
// HTML-to-markdown model.
var strippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"nav":      true,
	"footer":   true,
	"aside":    true,
	"iframe":   true,
}

// CleanHTML parses input, removes boilerplate subtrees, and renders the
// remainder back to HTML truncated to maxLen bytes (maxLen <= 0 means no
// truncation). Unparsable input falls back to returning the raw string,
// truncated the same way, so a malformed page still reaches the model.
func CleanHTML(input []byte, maxLen int) CleanedPage {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return CleanedPage{HTML: truncate(string(input), maxLen)}
	}

	title := strings.TrimSpace(findTitle(node))
	prune(node)

	var b bytes.Buffer
	if err := html.Render(&b, node); err != nil {
		return CleanedPage{Title: title, HTML: truncate(string(input), maxLen)}
	}
	return CleanedPage{Title: title, HTML: truncate(b.String(), maxLen)}
}

// Text distills cleaned HTML into plain text, preferring <main> or
// <article> over the whole <body>. It backs the deterministic fallback used
// when no markdown model is reachable.
func Text(input []byte) string {
	node, err := html.Parse(bytes.NewReader(input))
	if err != nil || node == nil {
		return ""
	}
	content := findFirst(node, "main")
	if content == nil {
		content = findFirst(node, "article")
	}
	if content == nil {
		content = findFirst(node, "body")
	}
	if content == nil {
		return ""
	}
	var b strings.Builder
	collectText(&b, content, false)
	return normalizeWhitespace(b.String())
}

// prune removes stripped elements and cookie/consent banners in place.
func prune(n *html.Node) {
	c := n.FirstChild
	for c != nil {
		next := c.NextSibling
		if c.Type == html.ElementNode && (strippedElements[strings.ToLower(c.Data)] || isConsentBanner(c)) {
			n.RemoveChild(c)
		} else {
			prune(c)
		}
		c = next
	}
}

func findTitle(n *html.Node) string {
	head := findFirst(n, "head")
	if head == nil {
		return ""
	}
	t := findFirst(head, "title")
	if t == nil || t.FirstChild == nil {
		return ""
	}
	return t.FirstChild.Data
}

func findFirst(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, tag) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if res := findFirst(c, tag); res != nil {
			return res
		}
	}
	return nil
}

func collectText(b *strings.Builder, n *html.Node, inPre bool) {
	if n.Type == html.ElementNode {
		name := strings.ToLower(n.Data)
		if strippedElements[name] || isConsentBanner(n) {
			return
		}
		switch name {
		case "pre", "code":
			inPre = true
		case "br", "hr", "ul", "ol":
			b.WriteString("\n")
		case "p", "h1", "h2", "h3", "h4", "h5", "h6", "li":
			b.WriteString("\n")
		}
	}

	if n.Type == html.TextNode {
		data := n.Data
		if !inPre {
			data = strings.ReplaceAll(data, "\t", " ")
			data = strings.ReplaceAll(data, "\r", " ")
		}
		b.WriteString(data)
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(b, c, inPre)
	}

	if n.Type == html.ElementNode {
		switch strings.ToLower(n.Data) {
		case "p", "h1", "h2", "h3", "h4", "h5", "h6":
			b.WriteString("\n\n")
		case "li", "pre", "code":
			b.WriteString("\n")
		}
	}
}

// isConsentBanner reports whether the element looks like a cookie/consent
// overlay, judged from its id/class/data-*/role attributes.
func isConsentBanner(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	for _, attr := range n.Attr {
		key := strings.ToLower(attr.Key)
		if key != "id" && key != "class" && !strings.HasPrefix(key, "data-") && key != "aria-label" && key != "role" {
			continue
		}
		val := strings.ToLower(attr.Val)
		for _, marker := range []string{"cookie", "consent", "gdpr"} {
			if strings.Contains(val, marker) {
				return true
			}
		}
	}
	return false
}

func normalizeWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if len(out) > 0 && out[len(out)-1] == "" {
				continue
			}
			out = append(out, "")
			continue
		}
		out = append(out, collapseSpaces(trimmed))
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

func collapseSpaces(s string) string {
	var b strings.Builder
	lastSpace := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
			continue
		}
		b.WriteRune(r)
		lastSpace = false
	}
	return b.String()
}

func truncate(s string, maxLen int) string {
	if maxLen > 0 && len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
