package resolver

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"kin-go/internal/kin"
	"kin-go/internal/normalize"
)

// create builds and stores a new person from a request. When competitor is
// set the display name gets a suffix telling the two apart.
func (r *Resolver) create(ctx context.Context, req kin.ResolveRequest, sig signals, competitor *kin.PersonEntity) (*kin.PersonEntity, error) {
	id := r.idgen.New()
	now := r.clock.Now()

	p := &kin.PersonEntity{
		ID:           id,
		Emails:       []string{},
		PhoneNumbers: []string{},
		Aliases:      []string{},
		ContextTags:  []string{},
		Category:     kin.CategoryUnknown,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if sig.email != "" {
		owned, err := r.ownedElsewhere(ctx, "email", sig.email, id)
		if err != nil {
			return nil, err
		}
		if !owned {
			p.Emails = append(p.Emails, sig.email)
		}
	}
	if sig.phone != "" {
		owned, err := r.ownedElsewhere(ctx, "phone", sig.phone, id)
		if err != nil {
			return nil, err
		}
		if !owned {
			p.PhoneNumbers = append(p.PhoneNumbers, sig.phone)
		}
	}

	switch {
	case sig.name.Display != "":
		p.CanonicalName = sig.name.Display
	case sig.email != "":
		p.CanonicalName = normalize.NameFromEmail(sig.email)
	case sig.phone != "":
		p.CanonicalName = sig.phone
	}
	if p.CanonicalName == "" {
		p.CanonicalName = "Unknown"
	}
	p.DisplayName = p.CanonicalName

	if path := strings.TrimSpace(req.ContextPath); path != "" {
		p.ContextTags = append(p.ContextTags, path)
	}
	p.Company = companyFor(req, ownEmail(p, sig.email))
	p.Category = categoryFor(req, p.Company)
	if !req.ObservedAt.IsZero() {
		p.FirstSeen, p.LastSeen = req.ObservedAt, req.ObservedAt
	}

	if competitor != nil {
		suffix, err := r.disambiguationSuffix(ctx, req, p, competitor)
		if err != nil {
			return nil, err
		}
		p.DisplayName = fmt.Sprintf("%s (%s)", p.CanonicalName, suffix)
	}

	if err := r.people.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("creating person: %w", err)
	}
	r.logger.Info("person created", "person_id", p.ID, "display_name", p.DisplayName, "source_type", req.SourceType)
	return p, nil
}

// absorb applies the accretive updates of an accepted match: identifiers,
// a full-name alias, the context tag, and first/last seen bounds.
func (r *Resolver) absorb(ctx context.Context, p *kin.PersonEntity, req kin.ResolveRequest, sig signals) (*kin.PersonEntity, error) {
	up := p.Clone()
	changed := false

	if sig.email != "" && !slices.Contains(up.Emails, sig.email) {
		owned, err := r.ownedElsewhere(ctx, "email", sig.email, up.ID)
		if err != nil {
			return nil, err
		}
		if !owned {
			up.Emails = append(up.Emails, sig.email)
			changed = true
		}
	}
	if sig.phone != "" && !slices.Contains(up.PhoneNumbers, sig.phone) {
		owned, err := r.ownedElsewhere(ctx, "phone", sig.phone, up.ID)
		if err != nil {
			return nil, err
		}
		if !owned {
			up.PhoneNumbers = append(up.PhoneNumbers, sig.phone)
			changed = true
		}
	}

	// Only full names become aliases; a bare first name would let the
	// person match unrelated surnames later.
	if sig.name.Full() && !sameLabel(sig.name.Display, up.CanonicalName) && !containsLabel(up.Aliases, sig.name.Display) {
		up.Aliases = append(up.Aliases, sig.name.Display)
		changed = true
	}
	if path := strings.TrimSpace(req.ContextPath); path != "" && !containsLabel(up.ContextTags, path) {
		up.ContextTags = append(up.ContextTags, path)
		changed = true
	}
	if up.Company == "" {
		if c := companyFor(req, ownEmail(up, sig.email)); c != "" {
			up.Company = c
			changed = true
		}
	}
	if up.Category == "" || up.Category == kin.CategoryUnknown {
		if c := categoryFor(req, up.Company); c != kin.CategoryUnknown {
			up.Category = c
			changed = true
		}
	}
	if t := req.ObservedAt; !t.IsZero() {
		if up.FirstSeen.IsZero() || t.Before(up.FirstSeen) {
			up.FirstSeen = t
			changed = true
		}
		if t.After(up.LastSeen) {
			up.LastSeen = t
			changed = true
		}
	}

	if !changed {
		return p, nil
	}
	up.UpdatedAt = r.clock.Now()
	return r.upsert(ctx, up, p)
}

// disambiguationSuffix picks a short label separating a new person from an
// existing one with the same name. In order of preference: the shortest
// context segment the competitor has never been seen in, the organisation
// of a non-consumer email domain, the source type, then a sequence number.
func (r *Resolver) disambiguationSuffix(ctx context.Context, req kin.ResolveRequest, p, competitor *kin.PersonEntity) (string, error) {
	known := make(map[string]bool)
	for _, tag := range competitor.ContextTags {
		for _, s := range contextSegments(tag) {
			known[s] = true
		}
	}
	best := ""
	for _, seg := range strings.FieldsFunc(req.ContextPath, func(r rune) bool {
		return r == '/' || r == '\\' || r == '>' || r == ':' || r == '|'
	}) {
		seg = strings.TrimSpace(seg)
		if seg == "" || known[normalize.Key(seg)] {
			continue
		}
		if best == "" || utf8.RuneCountInString(seg) < utf8.RuneCountInString(best) {
			best = seg
		}
	}
	if best != "" {
		return best, nil
	}
	if p.Company != "" && !sameLabel(p.Company, competitor.Company) {
		return p.Company, nil
	}
	if req.SourceType != "" {
		return normalize.TitleCase(strings.ReplaceAll(string(req.SourceType), "-", " ")), nil
	}

	all, err := r.people.GetAll(ctx)
	if err != nil {
		return "", fmt.Errorf("counting namesakes: %w", err)
	}
	n := 1
	for _, other := range all {
		if sameLabel(other.CanonicalName, p.CanonicalName) {
			n++
		}
	}
	return fmt.Sprintf("#%d", n), nil
}

// ownEmail returns email when the person holds it, so a skipped identifier
// never lends its domain to the wrong person.
func ownEmail(p *kin.PersonEntity, email string) string {
	if slices.Contains(p.Emails, email) {
		return email
	}
	return ""
}

func companyFor(req kin.ResolveRequest, email string) string {
	if c := strings.TrimSpace(req.Metadata[kin.MetaCompany]); c != "" {
		return c
	}
	return normalize.Company(email)
}

var categoryKeywords = []struct {
	category kin.Category
	words    []string
}{
	{kin.CategoryFamily, []string{"family", "relatives", "kids", "parents"}},
	{kin.CategoryWork, []string{"work", "office", "job", "clients", "colleagues", "team"}},
	{kin.CategoryPersonal, []string{"personal", "friends", "social"}},
}

// categoryFor classifies a person from explicit metadata, context keywords,
// or a company affiliation.
func categoryFor(req kin.ResolveRequest, company string) kin.Category {
	if c := kin.ParseCategory(strings.ToLower(req.Metadata[kin.MetaCategory])); c != kin.CategoryUnknown {
		return c
	}
	segs := contextSegments(req.ContextPath)
	for _, ck := range categoryKeywords {
		for _, w := range ck.words {
			if slices.Contains(segs, w) {
				return ck.category
			}
		}
	}
	if company != "" {
		return kin.CategoryWork
	}
	return kin.CategoryUnknown
}

func sameLabel(a, b string) bool {
	return normalize.Key(a) == normalize.Key(b)
}

func containsLabel(list []string, s string) bool {
	for _, v := range list {
		if sameLabel(v, s) {
			return true
		}
	}
	return false
}
