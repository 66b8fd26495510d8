// Package sanitize turns untrusted payloads into short, printable strings
// for log lines and error traces.
package sanitize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultPreviewBytes bounds Preview output when callers pass zero.
const DefaultPreviewBytes = 256

// TruncateUTF8 truncates s to at most maxBytes bytes without splitting UTF-8 runes.
func TruncateUTF8(s string, maxBytes int) string {
	if maxBytes <= 0 {
		return ""
	}
	if len(s) <= maxBytes {
		return s
	}
	truncated := s[:maxBytes]
	for len(truncated) > 0 && !utf8.ValidString(truncated) {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated
}

// StripControlChars removes ANSI escape sequences and control characters
// other than newline and tab. Terminal output and socket frames can carry
// both.
func StripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		if s[i] == '\x1b' {
			i = skipEscape(s, i)
			continue
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == '\n' || r == '\t' || (r >= ' ' && !unicode.IsControl(r) && r != utf8.RuneError) {
			b.WriteString(s[i : i+size])
		}
		i += size
	}
	return b.String()
}

// skipEscape returns the index just past the escape sequence starting at i.
func skipEscape(s string, i int) int {
	if i+1 >= len(s) {
		return len(s)
	}
	switch s[i+1] {
	case '[':
		// CSI: parameters then one final byte in 0x40-0x7E. The scan is
		// capped so an unterminated sequence cannot swallow the rest.
		j := i + 2
		limit := min(j+64, len(s))
		for j < limit && (s[j] < 0x40 || s[j] > 0x7E) {
			j++
		}
		if j < len(s) && s[j] >= 0x40 && s[j] <= 0x7E {
			j++
		}
		return j
	case ']':
		// OSC: terminated by BEL or ESC \.
		j := i + 2
		for j < len(s) {
			if s[j] == '\x07' {
				return j + 1
			}
			if j+1 < len(s) && s[j] == '\x1b' && s[j+1] == '\\' {
				return j + 2
			}
			j++
		}
		return j
	default:
		return min(i+2, len(s))
	}
}

// Preview renders data as a single printable line of at most maxBytes
// bytes (DefaultPreviewBytes when maxBytes <= 0), marking truncation with
// "...". Newlines and tabs become spaces.
func Preview(data []byte, maxBytes int) string {
	if maxBytes <= 0 {
		maxBytes = DefaultPreviewBytes
	}
	clean := StripControlChars(string(data))
	clean = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		return r
	}, clean)
	clean = strings.TrimSpace(clean)
	if len(clean) <= maxBytes {
		return clean
	}
	return TruncateUTF8(clean, maxBytes) + "..."
}
