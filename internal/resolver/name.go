package resolver

import (
	"strings"

	"kin-go/internal/normalize"
)

var honorifics = map[string]bool{
	"mr": true, "mrs": true, "ms": true, "miss": true, "mx": true, "dr": true, "prof": true,
	"sir": true, "madam": true, "rev": true, "fr": true, "hon": true,
}

var suffixes = map[string]bool{
	"jr": true, "sr": true, "ii": true, "iii": true, "iv": true, "phd": true,
	"md": true, "dds": true, "esq": true, "cpa": true, "mba": true, "rn": true,
}

// Name is a parsed personal name. Parts are lowercase comparison keys;
// Display keeps the original spelling with honorifics and suffixes removed.
type Name struct {
	First   string
	Middles []string
	Last    string
	Display string
}

// IsZero reports whether no usable name was found.
func (n Name) IsZero() bool { return n.First == "" && n.Last == "" }

// FirstOnly reports whether the name is a bare first name.
func (n Name) FirstOnly() bool { return n.First != "" && n.Last == "" && len(n.Middles) == 0 }

// Full reports whether both first and last are present.
func (n Name) Full() bool { return n.First != "" && n.Last != "" }

type word struct {
	key  string
	text string
}

// ParseName splits a raw name into first, middle and last parts.
// "Last, First Middle" is accepted. Strings containing '@' are not names.
func ParseName(raw string) Name {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "@") {
		return Name{}
	}

	var words []word
	lastOnly := false
	if before, after, ok := strings.Cut(raw, ","); ok {
		head, tail := toWords(before), toWords(after)
		switch {
		case len(tail) == 0:
			words, lastOnly = head, true
		case allSuffixes(tail):
			words = append(head, tail...)
		default:
			words = append(tail, head...)
		}
	} else {
		words = toWords(raw)
	}

	for len(words) > 0 && honorifics[words[0].key] {
		words = words[1:]
	}
	for len(words) > 1 && suffixes[words[len(words)-1].key] {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return Name{}
	}

	n := Name{Display: joinText(words)}
	switch {
	case lastOnly:
		n.Last = words[len(words)-1].key
	case len(words) == 1:
		n.First = words[0].key
	default:
		n.First = words[0].key
		n.Last = words[len(words)-1].key
		for _, w := range words[1 : len(words)-1] {
			n.Middles = append(n.Middles, w.key)
		}
	}
	return n
}

func toWords(s string) []word {
	var out []word
	for _, f := range strings.Fields(s) {
		key := strings.Join(normalize.NameTokens(f), "")
		if key == "" {
			continue
		}
		text := strings.Trim(f, ".,;:()\"")
		out = append(out, word{key: key, text: text})
	}
	return out
}

func allSuffixes(ws []word) bool {
	for _, w := range ws {
		if !suffixes[w.key] {
			return false
		}
	}
	return true
}

func joinText(ws []word) string {
	parts := make([]string, len(ws))
	for i, w := range ws {
		parts[i] = w.text
	}
	return strings.Join(parts, " ")
}
