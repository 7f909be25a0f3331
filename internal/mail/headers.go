package mail

import (
	"regexp"
	"strings"
)

// angleToken matches one angle-bracket-delimited Message-ID token. The
// brackets are part of the canonical representation and are preserved.
var angleToken = regexp.MustCompile(`<[^<>]+>`)

var entityReplacer = strings.NewReplacer(
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&amp;", "&",
)

// DecodeEntities reverses the fixed set of HTML entity escapes some stores
// apply to extended header properties. Total over arbitrary input.
func DecodeEntities(raw string) string {
	if !strings.Contains(raw, "&") {
		return raw
	}
	return entityReplacer.Replace(raw)
}

// ParseMessageIDList decodes entities and extracts every angle-bracketed
// Message-ID token from a raw header value, preserving order. Returns nil
// for empty input or when no token is present.
func ParseMessageIDList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	return angleToken.FindAllString(DecodeEntities(raw), -1)
}

// NormalizeMessageID canonicalizes a single Message-ID header value to its
// first angle-bracketed token, or "" when none exists.
func NormalizeMessageID(raw string) string {
	ids := ParseMessageIDList(raw)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}
