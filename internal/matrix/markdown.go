package matrix

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/renderer/html"
)

// md renders chat replies. Hard wraps keep the line structure of list
// replies; raw HTML in the source stays escaped.
var md = goldmark.New(goldmark.WithRendererOptions(html.WithHardWraps()))

// renderMarkdown returns the HTML form of text, or ok=false when the
// result would add nothing over the plain body.
func renderMarkdown(text string) (string, bool) {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return "", false
	}
	out := strings.TrimSpace(buf.String())
	if strings.Count(out, "<p>") == 1 && strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") {
		out = strings.TrimSuffix(strings.TrimPrefix(out, "<p>"), "</p>")
	}
	if out == text {
		return "", false
	}
	return out, true
}
