// Package text cleans viewer-supplied text before it is spoken.
package text

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// LinkPlaceholder replaces every http(s) URL.
	LinkPlaceholder = "link"

	ellipsisChar = "…"
)

var urlPattern = regexp.MustCompile(`(?i)https?://\S+`)

// spamPatterns are matched case-insensitively against sanitized text.
var spamPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)http`),
	regexp.MustCompile(`(?i)t\.me`),
	regexp.MustCompile(`(?i)vk\.com`),
	regexp.MustCompile(`(?i)discord\.gg`),
	regexp.MustCompile(`(?i)join`),
	regexp.MustCompile(`(?i)взаим`),
}

// Filter applies the sanitize, length and spam rules shared by chat and
// local input.
type Filter struct {
	MinLen int
	MaxLen int
}

// NewFilter creates a filter. minLen is floored at 1.
func NewFilter(minLen, maxLen int) *Filter {
	if minLen < 1 {
		minLen = 1
	}
	return &Filter{MinLen: minLen, MaxLen: maxLen}
}

// Sanitize replaces URLs, collapses whitespace and truncates to MaxLen
// characters, the last of which is an ellipsis when truncation happened.
func (f *Filter) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}

	s := urlPattern.ReplaceAllString(raw, " "+LinkPlaceholder+" ")
	s = strings.Join(strings.Fields(s), " ")

	return f.Clip(s)
}

// Clip truncates s to MaxLen characters. A non-positive MaxLen disables it.
func (f *Filter) Clip(s string) string {
	if f.MaxLen <= 0 || utf8.RuneCountInString(s) <= f.MaxLen {
		return s
	}

	runes := []rune(s)
	return string(runes[:f.MaxLen-1]) + ellipsisChar
}

// IsSpam reports whether s matches any banned rule.
func (f *Filter) IsSpam(s string) bool {
	return IsSpam(s)
}

// IsSpam reports whether s matches any banned rule.
func IsSpam(s string) bool {
	for _, p := range spamPatterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// Accept sanitizes raw and reports whether the result may be spoken: it
// must be non-empty, at least MinLen characters and not spam.
func (f *Filter) Accept(raw string) (string, bool) {
	s := f.Sanitize(raw)
	if s == "" || utf8.RuneCountInString(s) < f.MinLen {
		return "", false
	}
	if IsSpam(s) {
		return "", false
	}
	return s, true
}
