package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kin-go/internal/kin"
)

type relationshipRow struct {
	PersonAID                string               `db:"person_a_id"`
	PersonBID                string               `db:"person_b_id"`
	RelationshipType         kin.RelationshipType `db:"relationship_type"`
	SharedContexts           jsonColumn[[]string] `db:"shared_contexts"`
	SharedEventsCount        int                  `db:"shared_events_count"`
	SharedThreadsCount       int                  `db:"shared_threads_count"`
	SharedMessagesCount      int                  `db:"shared_messages_count"`
	SharedGroupMessagesCount int                  `db:"shared_group_messages_count"`
	IsLinkedExternal         bool                 `db:"is_linked_external"`
	FirstSeenTogether        time.Time            `db:"first_seen_together"`
	LastSeenTogether         time.Time            `db:"last_seen_together"`
	EdgeWeight               float64              `db:"edge_weight"`
	UpdatedAt                time.Time            `db:"updated_at"`
}

var relationshipCols = []string{
	"person_a_id", "person_b_id", "relationship_type", "shared_contexts",
	"shared_events_count", "shared_threads_count", "shared_messages_count", "shared_group_messages_count",
	"is_linked_external", "first_seen_together", "last_seen_together", "edge_weight", "updated_at",
}

// relationshipInsertBatch keeps each insert well under SQLite's bound-variable limit.
const relationshipInsertBatch = 200

func (r *relationshipRow) relationship() *kin.Relationship {
	contexts := r.SharedContexts.Data
	if contexts == nil {
		contexts = []string{}
	}
	return &kin.Relationship{
		PersonAID:                r.PersonAID,
		PersonBID:                r.PersonBID,
		RelationshipType:         r.RelationshipType,
		SharedContexts:           contexts,
		SharedEventsCount:        r.SharedEventsCount,
		SharedThreadsCount:       r.SharedThreadsCount,
		SharedMessagesCount:      r.SharedMessagesCount,
		SharedGroupMessagesCount: r.SharedGroupMessagesCount,
		IsLinkedExternal:         r.IsLinkedExternal,
		FirstSeenTogether:        r.FirstSeenTogether,
		LastSeenTogether:         r.LastSeenTogether,
		EdgeWeight:               r.EdgeWeight,
		UpdatedAt:                r.UpdatedAt,
	}
}

// ReplaceRelationships swaps the whole edge set in one transaction. Pairs
// are stored with the smaller person ID first.
func (s *SQLiteDatabase) ReplaceRelationships(ctx context.Context, rels []*kin.Relationship) error {
	err := s.InTx(ctx, func(ctx context.Context) error {
		if _, err := s.q(ctx).ExecContext(ctx, "DELETE FROM relationships"); err != nil {
			return fmt.Errorf("clearing relationships: %w", err)
		}

		for start := 0; start < len(rels); start += relationshipInsertBatch {
			end := min(start+relationshipInsertBatch, len(rels))

			ib := flavor.NewInsertBuilder()
			ib.InsertInto("relationships")
			ib.Cols(relationshipCols...)
			for _, r := range rels[start:end] {
				a, b := kin.OrderedPair(r.PersonAID, r.PersonBID)
				ib.Values(a, b, r.RelationshipType, jsonColumn[[]string]{Data: r.SharedContexts},
					r.SharedEventsCount, r.SharedThreadsCount, r.SharedMessagesCount, r.SharedGroupMessagesCount,
					r.IsLinkedExternal, r.FirstSeenTogether.UTC(), r.LastSeenTogether.UTC(), r.EdgeWeight, r.UpdatedAt.UTC())
			}

			query, args := ib.Build()
			if _, err := s.q(ctx).ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("inserting relationships: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("relationships replaced", "count", len(rels))
	return nil
}

func (s *SQLiteDatabase) GetRelationship(ctx context.Context, a, b string) (*kin.Relationship, error) {
	a, b = kin.OrderedPair(a, b)
	sb := flavor.NewSelectBuilder()
	sb.Select(relationshipCols...).From("relationships")
	sb.Where(sb.Equal("person_a_id", a), sb.Equal("person_b_id", b))

	query, args := sb.Build()
	var row relationshipRow
	if err := s.q(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding relationship: %w", err)
	}
	return row.relationship(), nil
}

func (s *SQLiteDatabase) ListRelationshipsForPerson(ctx context.Context, personID string) ([]*kin.Relationship, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(relationshipCols...).From("relationships")
	sb.Where(sb.Or(sb.Equal("person_a_id", personID), sb.Equal("person_b_id", personID)))
	sb.OrderBy("edge_weight DESC", "person_a_id", "person_b_id")

	query, args := sb.Build()
	var rows []relationshipRow
	if err := s.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing relationships: %w", err)
	}
	out := make([]*kin.Relationship, len(rows))
	for i := range rows {
		out[i] = rows[i].relationship()
	}
	return out, nil
}
