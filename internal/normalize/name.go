package normalize

import (
	"strings"
	"unicode"
)

// NameTokens lowercases a name and splits it into alphanumeric tokens.
// Apostrophes are removed rather than split on, so "O'Brien" is one token.
func NameTokens(raw string) []string {
	raw = strings.Map(func(r rune) rune {
		if r == '\'' || r == '’' {
			return -1
		}
		return unicode.ToLower(r)
	}, raw)
	return strings.FieldsFunc(raw, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TitleCase upper-cases the first letter of each space separated word.
func TitleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

// Key is the case-insensitive comparison key of a free-text label.
func Key(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
