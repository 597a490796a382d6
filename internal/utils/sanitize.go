package utils

import (
	"html"
	"regexp"
	"strings"
)

var (
	scriptBlockRe = regexp.MustCompile(`(?is)<script.*?</script>`)
	htmlTagRe     = regexp.MustCompile(`(?s)<[^>]*>`)
	controlRe     = regexp.MustCompile("[\x00-\x08\x0b\x0c\x0e-\x1f]")
)

// SanitizeText strips script blocks, HTML tags and control characters from
// untrusted free-text input, then escapes what remains. Stored values are safe
// to render without further processing.
func SanitizeText(input string) string {
	out := scriptBlockRe.ReplaceAllString(input, "")
	out = htmlTagRe.ReplaceAllString(out, "")
	out = controlRe.ReplaceAllString(out, "")
	out = html.EscapeString(out)
	return strings.TrimSpace(out)
}
