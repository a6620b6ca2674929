package markdown

import (
	"strings"

	"github.com/russross/blackfriday/v2"
)

// ToHTML renders a markdown reply to HTML for static frontends that
// cannot render markdown themselves.
func ToHTML(markdown string) string {
	if markdown == "" {
		return ""
	}

	html := string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))

	return strings.TrimSpace(html)
}
