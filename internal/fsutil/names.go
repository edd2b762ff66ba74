package fsutil

import "strings"

// SanitizeName makes a single path element from an arbitrary identifier
// such as a sorter name. Characters other than ASCII letters, digits, dot,
// underscore and dash become an underscore; runs of underscores collapse and
// the result is capped at 128 bytes. Leading and trailing dots and
// underscores are trimmed, so the result never names a parent directory.
func SanitizeName(s string) string {
	if s == "" {
		return "unknown"
	}
	var b strings.Builder
	const maxLen = 128
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = r == '_'
		default:
			if !lastUnderscore {
				b.WriteRune('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
