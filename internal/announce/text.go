package announce

import (
	"regexp"
	"strings"
)

const (
	ellipsis = "..."
	linkSep  = "\n\n"

	// error_message column cap; anything longer is cut before storage.
	errorMessageCap = 500
)

var (
	credentialPattern = regexp.MustCompile(`(?i)(password|passwd|secret|token|authorization|api[_-]?key)\s*[=:]\s*\S+`)
	dsnPattern        = regexp.MustCompile(`\b[a-z][a-z0-9+.-]*://[^\s@/]+@\S+`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
)

// ComposeText applies the link append and platform length cap. When the
// combined length exceeds the limit, the text portion is truncated to
// limit - link - ellipsis and the link is appended in full: the link is
// never itself truncated. Lengths are counted in runes, matching how the
// platform counts characters.
func ComposeText(text, link string, includeLink bool, limit int) string {
	if includeLink && link != "" {
		if runeLen(text)+runeLen(linkSep)+runeLen(link) <= limit {
			return withLink(text, link)
		}

		maxText := limit - runeLen(link) - runeLen(linkSep) - runeLen(ellipsis)
		if maxText <= 0 {
			// No room for any text next to the link: post the bare link
			// rather than a dangling ellipsis.
			return link
		}
		return withLink(truncateRunes(text, maxText)+ellipsis, link)
	}

	if runeLen(text) <= limit {
		return text
	}
	return truncateRunes(text, limit-runeLen(ellipsis)) + ellipsis
}

func withLink(text, link string) string {
	if text == "" {
		return link
	}
	return text + linkSep + link
}

func runeLen(s string) int {
	return len([]rune(s))
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SanitizeError reduces an internal error to a message that is safe to
// persist and show an operator: single line, credentials and connection
// strings redacted, capped length. The full error only ever goes to the
// log and the correlation store.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if i := strings.IndexAny(msg, "\r\n"); i >= 0 {
		msg = msg[:i]
	}
	msg = credentialPattern.ReplaceAllString(msg, "$1=[redacted]")
	msg = dsnPattern.ReplaceAllString(msg, "[redacted]")
	msg = strings.TrimSpace(whitespaceRun.ReplaceAllString(msg, " "))

	return truncateRunes(msg, errorMessageCap)
}
