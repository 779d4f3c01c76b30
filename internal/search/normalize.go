package search

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var dotlessI = strings.NewReplacer("ı", "i")

// Normalize case-folds, strips diacritics, turns punctuation into spaces and
// collapses whitespace, so "Yazıcı nasıl?" and "yazici nasil" compare equal.
func Normalize(s string) string {
	s = dotlessI.Replace(strings.ToLower(s))

	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err == nil {
		s = stripped
	}

	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)

	return strings.Join(strings.Fields(s), " ")
}
