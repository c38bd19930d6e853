package email

import (
	"html"
	"strings"
)

// blockTags end a line in the text alternative.
var blockTags = map[string]bool{
	"br": true, "p": true, "div": true, "tr": true, "li": true, "table": true,
	"h1": true, "h2": true, "h3": true, "h4": true,
}

// htmlToText derives the text/plain part of a message from its rendered
// HTML. Tags are dropped, block elements end lines, entities are decoded and
// blank lines removed.
func htmlToText(body string) string {
	var b strings.Builder
	for len(body) > 0 {
		open := strings.IndexByte(body, '<')
		if open < 0 {
			b.WriteString(body)
			break
		}
		b.WriteString(body[:open])
		end := strings.IndexByte(body[open:], '>')
		if end < 0 {
			break
		}
		if blockTags[tagName(body[open+1:open+end])] {
			b.WriteByte('\n')
		}
		body = body[open+end+1:]
	}

	var lines []string
	for _, line := range strings.Split(html.UnescapeString(b.String()), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// tagName returns the lower-cased element name of a tag body such as
// `/p`, `br /` or `a href="..."`.
func tagName(tag string) string {
	tag = strings.TrimLeft(tag, "/")
	if i := strings.IndexAny(tag, " \t\n/"); i >= 0 {
		tag = tag[:i]
	}
	return strings.ToLower(tag)
}
