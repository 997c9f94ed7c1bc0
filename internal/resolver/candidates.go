package resolver

import (
	"sort"
	"strings"
	"time"

	"kin-go/internal/kin"
	"kin-go/internal/normalize"
)

// Points awarded per signal.
const (
	pointsLastExact   = 50
	pointsLastInitial = 35
	pointsLastFuzzy   = 25
	pointsFirstExact  = 25
	pointsFirstFuzzy  = 20
	pointsInitial     = 10
	pointsCrossMatch  = 15
	pointsContext     = 30
	pointsRecent      = 10
	maxStrengthPoints = 25
)

// nameScore scores a query name against one spelling of a candidate's name.
// ok is false when a hard disqualifier applies.
func nameScore(q, c Name, fuzzy float64) (pts float64, ok bool) {
	if q.Last != "" && c.Last != "" {
		switch {
		case q.Last == c.Last:
			pts += pointsLastExact
		case initialCompatible(q.Last, c.Last):
			pts += pointsLastInitial
		case similarity(q.Last, c.Last) >= fuzzy:
			pts += pointsLastFuzzy
		default:
			return 0, false
		}
	}
	if q.First == "" {
		return pts, true
	}

	first := firstScore(q.First, c.First, fuzzy)
	if first == 0 && q.Full() && crossMatch(q, c, fuzzy) {
		first = pointsCrossMatch
	}
	if first == 0 {
		return 0, false
	}
	return pts + first, true
}

func firstScore(a, b string, fuzzy float64) float64 {
	switch {
	case a == "" || b == "":
		return 0
	case isInitial(a) || isInitial(b):
		if firstRune(a) == firstRune(b) {
			return pointsInitial
		}
		return 0
	case a == b:
		return pointsFirstExact
	case firstNamesSimilar(a, b, fuzzy):
		return pointsFirstFuzzy
	}
	return 0
}

// crossMatch reports a first name on one side appearing as a middle name on the other.
func crossMatch(q, c Name, fuzzy float64) bool {
	for _, m := range c.Middles {
		if !isInitial(m) && (m == q.First || similarity(m, q.First) >= fuzzy) {
			return true
		}
	}
	for _, m := range q.Middles {
		if !isInitial(m) && (m == c.First || similarity(m, c.First) >= fuzzy) {
			return true
		}
	}
	return false
}

// nameVariants returns the spellings a person is known by. Display names
// carry disambiguation suffixes and are not scored.
func nameVariants(p *kin.PersonEntity) []Name {
	var out []Name
	for _, raw := range append([]string{p.CanonicalName}, p.Aliases...) {
		if n := ParseName(raw); !n.IsZero() {
			out = append(out, n)
		}
	}
	return out
}

// contextSegments splits a context path into lowercase segments.
func contextSegments(path string) []string {
	parts := strings.FieldsFunc(path, func(r rune) bool {
		return r == '/' || r == '\\' || r == '>' || r == ':' || r == '|'
	})
	var out []string
	for _, p := range parts {
		if k := normalize.Key(p); k != "" {
			out = append(out, k)
		}
	}
	return out
}

// contextMatches reports whether path matches one of the stored tags,
// either as the whole path, a path prefix, or a single segment.
func contextMatches(path string, tags []string) bool {
	if strings.TrimSpace(path) == "" {
		return false
	}
	segs := contextSegments(path)
	full := strings.Join(segs, "/")
	for _, tag := range tags {
		t := strings.Join(contextSegments(tag), "/")
		if t == "" {
			continue
		}
		if t == full || strings.HasPrefix(full, t+"/") {
			return true
		}
		for _, s := range segs {
			if s == t {
				return true
			}
		}
	}
	return false
}

// scoreCandidate scores one person against the query. ok is false when disqualified.
func (r *Resolver) scoreCandidate(q Name, p *kin.PersonEntity, req kin.ResolveRequest, now time.Time) (float64, bool) {
	best, ok := 0.0, false
	for _, c := range nameVariants(p) {
		// A surname-less spelling cannot vouch for a full-name query when the
		// person has a surname on record.
		if q.Last != "" && c.Last == "" && hasSurname(p) {
			continue
		}
		if s, good := nameScore(q, c, r.opts.FuzzyThreshold); good && (!ok || s > best) {
			best, ok = s, true
		}
	}
	if !ok {
		return 0, false
	}

	total := best
	if contextMatches(req.ContextPath, p.ContextTags) {
		total += pointsContext
	}
	if !p.LastSeen.IsZero() && now.Sub(p.LastSeen) <= time.Duration(r.opts.RecentDays)*24*time.Hour {
		total += pointsRecent
	}
	strength := min(max(p.RelationshipStrength, 0), 100)
	total += strength / 100 * maxStrengthPoints
	return total, true
}

func hasSurname(p *kin.PersonEntity) bool {
	for _, n := range nameVariants(p) {
		if n.Last != "" {
			return true
		}
	}
	return false
}

// candidates scores every person and returns those retained, best first.
// Ties break on cached strength, then ID, so results are stable.
func (r *Resolver) candidates(q Name, people []*kin.PersonEntity, req kin.ResolveRequest, now time.Time) []kin.ScoredCandidate {
	var out []kin.ScoredCandidate
	for _, p := range people {
		score, ok := r.scoreCandidate(q, p, req, now)
		if !ok || score < r.opts.MinRetainScore {
			continue
		}
		out = append(out, kin.ScoredCandidate{Person: p, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Person.RelationshipStrength != b.Person.RelationshipStrength {
			return a.Person.RelationshipStrength > b.Person.RelationshipStrength
		}
		return a.Person.ID < b.Person.ID
	})
	return out
}
