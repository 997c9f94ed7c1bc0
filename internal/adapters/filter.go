package adapters

import (
	"path"
	"strings"
)

// senderPattern is a parsed exclusion pattern with its matching strategy.
type senderPattern struct {
	pattern      string
	matchAddress bool // true = match the whole address; false = match the domain only
}

// SenderFilter drops observations from excluded senders such as mailing
// lists and no-reply robots. Patterns containing '@' match the whole
// lowercased address; others match its domain. Globs follow path.Match.
type SenderFilter struct {
	patterns []senderPattern
}

// NewSenderFilter creates a SenderFilter from raw patterns.
// Blank lines and lines starting with '#' are skipped.
func NewSenderFilter(raw []string) *SenderFilter {
	var patterns []senderPattern
	for _, p := range raw {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || strings.HasPrefix(p, "#") {
			continue
		}
		patterns = append(patterns, senderPattern{pattern: p, matchAddress: strings.Contains(p, "@")})
	}
	return &SenderFilter{patterns: patterns}
}

// Match reports whether email is excluded. An empty address never is.
func (f *SenderFilter) Match(email string) bool {
	if f == nil || len(f.patterns) == 0 {
		return false
	}
	addr := strings.ToLower(strings.TrimSpace(email))
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return false
	}
	domain := addr[at+1:]

	for _, p := range f.patterns {
		target := domain
		if p.matchAddress {
			target = addr
		}
		matched, err := path.Match(p.pattern, target)
		if err != nil {
			continue
		}
		if matched {
			return true
		}
	}
	return false
}
