// Package htmlutil cleans HTML fragments returned by metadata providers into
// plain text suitable for storage and display.
package htmlutil

import (
	"html"
	"regexp"
	"strings"
)

var (
	// blockBreakRE matches closing block tags and line breaks that should
	// become newlines.
	blockBreakRE = regexp.MustCompile(`(?i)</(?:p|div|li|h[1-6])>|<br\s*/?>`)

	tagRE        = regexp.MustCompile(`<[^>]*>`)
	whitespaceRE = regexp.MustCompile(`[ \t]{2,}`)
)

// StripTags removes HTML markup, preserving paragraph breaks as newlines and
// decoding entities.
func StripTags(s string) string {
	if s == "" {
		return ""
	}

	result := blockBreakRE.ReplaceAllString(s, "\n")
	result = tagRE.ReplaceAllString(result, "")
	result = html.UnescapeString(result)

	lines := strings.Split(result, "\n")
	cleaned := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(whitespaceRE.ReplaceAllString(line, " "))
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}
	return strings.Join(cleaned, "\n")
}
