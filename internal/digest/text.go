package digest

import (
	"strings"

	"golang.org/x/net/html"
)

// PlainText converts status HTML to readable text. Paragraphs and <br> become
// newlines; all other markup is dropped.
func PlainText(content string) string {
	var buf strings.Builder
	z := html.NewTokenizer(strings.NewReader(content))

	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.TrimSpace(buf.String())
		case html.TextToken:
			buf.Write(z.Text())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if string(name) == "br" {
				buf.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			if string(name) == "p" {
				buf.WriteString("\n\n")
			}
		}
	}
}
