package indexer

import (
	"strings"
	"unicode"
)

// Preprocess normalizes a headline before it is registered and embedded: control and
// invisible format characters (BOM, zero-width space) are dropped, runs of whitespace
// collapse to one space, and the ends are trimmed.
func Preprocess(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	pendingSpace := false
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.Is(unicode.Cc, r), unicode.Is(unicode.Cf, r), r == unicode.ReplacementChar:
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}
