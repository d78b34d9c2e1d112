package moderation

import (
	"strings"

	"golang.org/x/text/width"
)

// Normalize folds text into the canonical form the word lists are matched
// against: full-width Latin letters and digits become their half-width
// equivalents, half-width katakana becomes full-width, and ASCII is
// lower-cased. This keeps the scan insensitive to the width and case variants
// mobile keyboards produce.
func Normalize(text string) string {
	return strings.ToLower(width.Fold.String(text))
}
