package device

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// fallbackSlug is used when a name has no usable characters.
const fallbackSlug = "item"

// GenerateSlug creates an identifier-safe slug from a display name.
//
// Accents are folded ("Lumière" → "lumiere"), quotes dropped, and every
// other run of non-alphanumerics becomes a single underscore.
func GenerateSlug(name string) string {
	decomposed := norm.NFKD.String(strings.ToLower(name))

	var b strings.Builder
	b.Grow(len(decomposed))
	pendingSep := false
	for _, r := range decomposed {
		switch {
		case unicode.Is(unicode.Mn, r):
			continue
		case r == '\'' || r == '"' || r == '’':
			continue
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
		default:
			pendingSep = true
		}
	}

	if b.Len() == 0 {
		return fallbackSlug
	}
	return b.String()
}

// JoinSlug joins non-empty slug parts with underscores.
func JoinSlug(parts ...string) string {
	kept := parts[:0:0]
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "_")
}
