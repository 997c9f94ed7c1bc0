package resolver

import (
	"strings"
	"unicode/utf8"

	"github.com/adrg/strutil"
	"github.com/adrg/strutil/metrics"
)

var levenshtein = metrics.NewLevenshtein()

// similarity is the normalized Levenshtein similarity of two keys, in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	return strutil.Similarity(a, b, levenshtein)
}

func isInitial(s string) bool {
	return utf8.RuneCountInString(s) == 1
}

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

// initialCompatible reports whether one side is an initial of the other.
func initialCompatible(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return (isInitial(a) || isInitial(b)) && firstRune(a) == firstRune(b)
}

// nicknameGroups lists given names that refer to the same person.
var nicknameGroups = [][]string{
	{"william", "bill", "billy", "will", "liam"},
	{"robert", "bob", "bobby", "rob", "robbie"},
	{"richard", "rick", "ricky", "dick", "rich"},
	{"elizabeth", "liz", "lizzie", "beth", "betsy", "eliza"},
	{"katherine", "kate", "katie", "kathy", "kat"},
	{"catherine", "cathy", "kate", "cat"},
	{"margaret", "maggie", "peggy", "meg"},
	{"james", "jim", "jimmy", "jamie"},
	{"john", "jack", "johnny"},
	{"jonathan", "jon", "jonny"},
	{"michael", "mike", "mikey"},
	{"thomas", "tom", "tommy"},
	{"christopher", "chris"},
	{"benjamin", "ben", "benny"},
	{"alexander", "alex", "sasha"},
	{"daniel", "dan", "danny"},
	{"joseph", "joe", "joey"},
	{"edward", "ed", "eddie", "ted"},
	{"anthony", "tony"},
	{"matthew", "matt"},
	{"nicholas", "nick"},
	{"jennifer", "jen", "jenny"},
	{"patricia", "pat", "patty", "trish"},
	{"susan", "sue", "suzy"},
	{"rebecca", "becky"},
	{"deborah", "deb", "debbie"},
	{"samuel", "sam"},
	{"steven", "steve"},
	{"stephen", "steve"},
	{"andrew", "andy", "drew"},
	{"david", "dave"},
	{"charles", "charlie", "chuck"},
}

var nicknameIndex = buildNicknameIndex()

func buildNicknameIndex() map[string][]int {
	idx := make(map[string][]int)
	for i, group := range nicknameGroups {
		for _, name := range group {
			idx[name] = append(idx[name], i)
		}
	}
	return idx
}

func nicknames(a, b string) bool {
	for _, ga := range nicknameIndex[a] {
		for _, gb := range nicknameIndex[b] {
			if ga == gb {
				return true
			}
		}
	}
	return false
}

// firstNamesSimilar reports fuzzy, prefix or nickname equivalence of two full first names.
func firstNamesSimilar(a, b string, threshold float64) bool {
	if a == "" || b == "" || isInitial(a) || isInitial(b) {
		return false
	}
	if a == b || similarity(a, b) >= threshold || nicknames(a, b) {
		return true
	}
	short, long := a, b
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= 3 && strings.HasPrefix(long, short)
}
