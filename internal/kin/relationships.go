package kin

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"time"

	"kin-go/internal/scoring"
)

// channelClass buckets a co-occurrence for edge weighting.
type channelClass int

const (
	classEvent channelClass = iota
	classThread
	classDirect
	classGroup
)

// groupKey identifies one shared context: a calendar event, an email
// thread, a conversation or a group chat within one source type.
type groupKey struct {
	sourceType SourceType
	key        string
}

type coGroup struct {
	class   channelClass
	persons map[string]bool
	first   time.Time
	last    time.Time
}

type edgeAcc struct {
	counts scoring.EdgeCounts
	first  time.Time
	last   time.Time
}

// groupKeyFor returns the shared-context key of an observation, or "" when
// it was not seen alongside anyone.
func groupKeyFor(e *SourceEntity) string {
	for _, k := range []string{MetaEventID, MetaThreadID, MetaConversationID, MetaGroupID} {
		if v := e.Metadata[k]; v != "" {
			return k + ":" + v
		}
	}
	return ""
}

// classFor maps a source type and channel hint onto an edge-weight class.
func classFor(e *SourceEntity) channelClass {
	switch e.SourceType {
	case SourceCalendar:
		return classEvent
	case SourceEmail:
		return classThread
	}
	switch e.Metadata[MetaChannel] {
	case "direct":
		return classDirect
	case "group":
		return classGroup
	}
	if e.Metadata[MetaGroupID] != "" {
		return classGroup
	}
	switch e.SourceType {
	case SourceSMS, SourceIMessage, SourceWhatsApp, SourceCall, SourceChat:
		return classDirect
	}
	return classGroup
}

// DiscoverRelationships rebuilds every edge from the linked observations.
// Every pair of distinct persons sharing an event, thread, conversation or
// group is a co-occurrence; counts are recomputed from scratch, so running
// it twice changes nothing.
func (s *Service) DiscoverRelationships(ctx context.Context) (SyncReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var report SyncReport

	entities, err := s.database.ListLinkedSourceEntities(ctx)
	if err != nil {
		return report, err
	}
	all, err := s.people.GetAll(ctx)
	if err != nil {
		return report, err
	}
	persons := make(map[string]*PersonEntity, len(all))
	for _, p := range all {
		persons[p.ID] = p
	}

	groups := make(map[groupKey]*coGroup)
	var connections []*SourceEntity
	for _, e := range entities {
		if persons[e.CanonicalPersonID] == nil {
			report.Fail(e.SourceType, e.SourceID, fmt.Errorf("linked person %s: %w", e.CanonicalPersonID, ErrNotFound))
			continue
		}
		if e.Metadata[MetaConnection] == "true" && e.Metadata[MetaPeerEmail] != "" {
			connections = append(connections, e)
		}
		key := groupKeyFor(e)
		if key == "" {
			continue
		}
		gk := groupKey{sourceType: e.SourceType, key: key}
		g := groups[gk]
		if g == nil {
			g = &coGroup{class: classFor(e), persons: make(map[string]bool), first: e.ObservedAt, last: e.ObservedAt}
			groups[gk] = g
		}
		g.persons[e.CanonicalPersonID] = true
		if e.ObservedAt.Before(g.first) {
			g.first = e.ObservedAt
		}
		if e.ObservedAt.After(g.last) {
			g.last = e.ObservedAt
		}
	}

	edges := make(map[[2]string]*edgeAcc)
	edgeFor := func(a, b string, first, last time.Time) *edgeAcc {
		a, b = OrderedPair(a, b)
		acc := edges[[2]string{a, b}]
		if acc == nil {
			acc = &edgeAcc{first: first, last: last}
			edges[[2]string{a, b}] = acc
		}
		if first.Before(acc.first) {
			acc.first = first
		}
		if last.After(acc.last) {
			acc.last = last
		}
		return acc
	}

	for _, g := range groups {
		ids := sortedKeys(g.persons)
		if len(ids) < 2 {
			continue
		}
		class := g.class
		// A "direct" conversation with more than two people is a group.
		if class == classDirect && len(ids) > 2 {
			class = classGroup
		}
		for i := 0; i < len(ids); i++ {
			for j := i + 1; j < len(ids); j++ {
				acc := edgeFor(ids[i], ids[j], g.first, g.last)
				switch class {
				case classEvent:
					acc.counts.Events++
				case classThread:
					acc.counts.Threads++
				case classDirect:
					acc.counts.Direct++
				case classGroup:
					acc.counts.Group++
				}
			}
		}
	}

	for _, e := range connections {
		peer, err := s.people.GetByEmail(ctx, e.Metadata[MetaPeerEmail])
		if err != nil {
			return report, err
		}
		if peer == nil || peer.ID == e.CanonicalPersonID {
			continue
		}
		edgeFor(e.CanonicalPersonID, peer.ID, e.ObservedAt, e.ObservedAt).counts.LinkedExternal = true
	}

	now := s.clock.Now()
	rels := make([]*Relationship, 0, len(edges))
	for pair, acc := range edges {
		a, b := persons[pair[0]], persons[pair[1]]
		rel := &Relationship{
			PersonAID:                pair[0],
			PersonBID:                pair[1],
			RelationshipType:         relationshipTypeFor(a, b),
			SharedContexts:           sharedContexts(a, b),
			SharedEventsCount:        acc.counts.Events,
			SharedThreadsCount:       acc.counts.Threads,
			SharedMessagesCount:      acc.counts.Direct,
			SharedGroupMessagesCount: acc.counts.Group,
			IsLinkedExternal:         acc.counts.LinkedExternal,
			FirstSeenTogether:        acc.first,
			LastSeenTogether:         acc.last,
			EdgeWeight:               scoring.EdgeWeight(s.settings.Scoring, acc.counts),
			UpdatedAt:                now,
		}
		existing, err := s.database.GetRelationship(ctx, rel.PersonAID, rel.PersonBID)
		if err != nil {
			return report, err
		}
		switch {
		case existing == nil:
			report.Created++
		case sameEdge(existing, rel):
			report.Skipped++
		default:
			report.Updated++
		}
		rels = append(rels, rel)
	}
	sort.Slice(rels, func(i, j int) bool {
		if rels[i].PersonAID != rels[j].PersonAID {
			return rels[i].PersonAID < rels[j].PersonAID
		}
		return rels[i].PersonBID < rels[j].PersonBID
	})

	if err := s.database.ReplaceRelationships(ctx, rels); err != nil {
		return report, err
	}
	s.logger.Info("relationships discovered", "edges", len(rels), "groups", len(groups),
		"created", report.Created, "updated", report.Updated)
	return report, nil
}

// relationshipTypeFor derives an edge type from the two persons' categories.
func relationshipTypeFor(a, b *PersonEntity) RelationshipType {
	if a.Category != b.Category {
		return RelationshipInferred
	}
	switch a.Category {
	case CategoryFamily:
		return RelationshipFamily
	case CategoryWork:
		return RelationshipCoworker
	case CategoryPersonal:
		return RelationshipFriend
	}
	return RelationshipInferred
}

func sharedContexts(a, b *PersonEntity) []string {
	out := []string{}
	for _, t := range a.ContextTags {
		if slices.Contains(b.ContextTags, t) && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

func sameEdge(a, b *Relationship) bool {
	return a.RelationshipType == b.RelationshipType &&
		a.SharedEventsCount == b.SharedEventsCount &&
		a.SharedThreadsCount == b.SharedThreadsCount &&
		a.SharedMessagesCount == b.SharedMessagesCount &&
		a.SharedGroupMessagesCount == b.SharedGroupMessagesCount &&
		a.IsLinkedExternal == b.IsLinkedExternal &&
		slices.Equal(a.SharedContexts, b.SharedContexts)
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
