package kin

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// DefaultTimelineLimit is the page size used when a timeline query sets none.
const DefaultTimelineLimit = 50

// PeopleQuery filters the person list. Zero values mean no filter.
type PeopleQuery struct {
	// Name matches a prefix of any name or alias token.
	Name  string
	Email string
	// Category keeps persons of one category.
	Category Category
	// SourceType keeps persons with at least one interaction of that type.
	SourceType SourceType
	// PendingOnly keeps persons named by an open pending link.
	PendingOnly bool
	Limit       int
	Offset      int
}

// PersonDetail is one person with the context a UI needs to show them.
type PersonDetail struct {
	Person             *PersonEntity            `json:"person"`
	RecentInteractions []*Interaction           `json:"recent_interactions"`
	InteractionCounts  map[SourceType]int       `json:"interaction_counts"`
	LastBySource       map[SourceType]time.Time `json:"last_by_source"`
	PendingLinks       []*PendingLink           `json:"pending_links"`
	Relationships      []*RelatedPerson         `json:"relationships"`
}

// RelatedPerson is an edge seen from one end.
type RelatedPerson struct {
	Person       *PersonEntity `json:"person"`
	Relationship *Relationship `json:"relationship"`
}

// RelationshipDetail is the edge between two persons. Relationship is nil
// when the two were never seen together.
type RelationshipDetail struct {
	PersonA      *PersonEntity `json:"person_a"`
	PersonB      *PersonEntity `json:"person_b"`
	Relationship *Relationship `json:"relationship,omitempty"`
}

// Stats aggregates the registry.
type Stats struct {
	People     int              `json:"people"`
	ByCategory map[Category]int `json:"by_category"`
	StoreStats
}

// GetPerson looks up a person by ID.
func (s *Service) GetPerson(ctx context.Context, id string) (*PersonEntity, error) {
	p, err := s.people.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, fmt.Errorf("person %s: %w", id, ErrNotFound)
	}
	return p, nil
}

// FindPeople lists persons matching q. Name searches keep the store's
// ranking; everything else is ordered by relationship strength, then name.
func (s *Service) FindPeople(ctx context.Context, q PeopleQuery) ([]*PersonEntity, error) {
	var (
		people []*PersonEntity
		err    error
	)
	switch {
	case q.Email != "":
		p, err := s.people.GetByEmail(ctx, strings.TrimSpace(q.Email))
		if err != nil {
			return nil, err
		}
		if p != nil {
			people = append(people, p)
		}
	case q.Name != "":
		if people, err = s.people.SearchByName(ctx, q.Name); err != nil {
			return nil, err
		}
	default:
		if people, err = s.people.GetAll(ctx); err != nil {
			return nil, err
		}
		sort.SliceStable(people, func(i, j int) bool {
			if people[i].RelationshipStrength != people[j].RelationshipStrength {
				return people[i].RelationshipStrength > people[j].RelationshipStrength
			}
			return people[i].DisplayName < people[j].DisplayName
		})
	}

	var withSource map[string]bool
	if q.SourceType != "" {
		ids, err := s.database.PersonIDsWithSource(ctx, q.SourceType)
		if err != nil {
			return nil, err
		}
		withSource = toSet(ids)
	}
	var pending map[string]bool
	if q.PendingOnly {
		links, err := s.database.ListPendingLinks(ctx, PendingQuery{Status: PendingOpen})
		if err != nil {
			return nil, err
		}
		pending = make(map[string]bool)
		for _, l := range links {
			pending[l.ProposedCanonicalID] = true
			if l.PreviousCanonicalID != "" {
				pending[l.PreviousCanonicalID] = true
			}
		}
	}

	out := people[:0]
	for _, p := range people {
		if q.Category != "" && p.Category != q.Category {
			continue
		}
		if withSource != nil && !withSource[p.ID] {
			continue
		}
		if pending != nil && !pending[p.ID] {
			continue
		}
		out = append(out, p)
	}
	return page(out, q.Offset, q.Limit), nil
}

// GetPersonDetail returns a person with recent interactions, open pending
// links and relationships. A person with little data gets empty sections,
// not an error.
func (s *Service) GetPersonDetail(ctx context.Context, id string, recent int) (*PersonDetail, error) {
	p, err := s.GetPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	if recent <= 0 {
		recent = 10
	}
	d := &PersonDetail{Person: p}

	if d.RecentInteractions, err = s.database.GetInteractionsForPerson(ctx, InteractionQuery{PersonID: id, Limit: recent}); err != nil {
		return nil, err
	}
	if d.InteractionCounts, err = s.database.GetInteractionCounts(ctx, id, time.Time{}); err != nil {
		return nil, err
	}
	if d.LastBySource, err = s.database.GetLastInteractionBySource(ctx, id); err != nil {
		return nil, err
	}
	if d.PendingLinks, err = s.database.ListPendingLinks(ctx, PendingQuery{Status: PendingOpen, PersonID: id}); err != nil {
		return nil, err
	}

	rels, err := s.database.ListRelationshipsForPerson(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Relationships = make([]*RelatedPerson, 0, len(rels))
	for _, r := range rels {
		otherID := r.PersonAID
		if otherID == id {
			otherID = r.PersonBID
		}
		other, err := s.people.GetByID(ctx, otherID)
		if err != nil {
			return nil, err
		}
		if other == nil {
			s.logger.Warn("relationship points at unknown person", "person_id", otherID)
			continue
		}
		d.Relationships = append(d.Relationships, &RelatedPerson{Person: other, Relationship: r})
	}
	return d, nil
}

// Timeline returns a page of a person's interactions, newest first.
func (s *Service) Timeline(ctx context.Context, q InteractionQuery) ([]*Interaction, error) {
	if _, err := s.GetPerson(ctx, q.PersonID); err != nil {
		return nil, err
	}
	if q.Limit <= 0 {
		q.Limit = DefaultTimelineLimit
	}
	if !q.Since.IsZero() && !q.Until.IsZero() && !q.Since.Before(q.Until) {
		return nil, &InputError{Field: "since", Value: q.Since.Format(time.RFC3339), Reason: "must be before until"}
	}
	return s.database.GetInteractionsForPerson(ctx, q)
}

// GetRelationshipDetail returns the edge between two persons in either order.
func (s *Service) GetRelationshipDetail(ctx context.Context, a, b string) (*RelationshipDetail, error) {
	if a == b {
		return nil, &InputError{Field: "person_id", Value: a, Reason: "a relationship needs two different persons"}
	}
	pa, err := s.GetPerson(ctx, a)
	if err != nil {
		return nil, err
	}
	pb, err := s.GetPerson(ctx, b)
	if err != nil {
		return nil, err
	}
	r, err := s.database.GetRelationship(ctx, a, b)
	if err != nil {
		return nil, err
	}
	if pb.ID < pa.ID {
		pa, pb = pb, pa
	}
	return &RelationshipDetail{PersonA: pa, PersonB: pb, Relationship: r}, nil
}

// Stats aggregates counts across the stores.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	storeStats, err := s.database.Stats(ctx)
	if err != nil {
		return nil, err
	}
	people, err := s.people.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	st := &Stats{People: len(people), ByCategory: make(map[Category]int), StoreStats: *storeStats}
	for _, p := range people {
		st.ByCategory[p.Category]++
	}
	return st, nil
}

func toSet(ids []string) map[string]bool {
	m := make(map[string]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func page[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return items[:0]
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
