package channel

import (
	"html"
	"regexp"
	"strings"
)

var (
	breakTag = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</li>`)
	anyTag   = regexp.MustCompile(`<[^>]*>`)
)

// plainText turns the small HTML fragments produced by local commands into
// text for channels that cannot render markup.
func plainText(content, format string) string {
	if format != "html" {
		return content
	}
	s := breakTag.ReplaceAllString(content, "\n")
	s = anyTag.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	return strings.TrimSpace(s)
}
