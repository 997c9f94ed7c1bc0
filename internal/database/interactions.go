package database

import (
	"context"
	"fmt"
	"time"

	"kin-go/internal/kin"
)

var interactionCols = []string{"id", "person_id", "timestamp", "source_type", "title", "snippet", "source_link", "source_id"}

func (s *SQLiteDatabase) AddInteractionIfNotExists(ctx context.Context, i *kin.Interaction) (bool, error) {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto("interactions")
	ib.Cols(interactionCols...)
	ib.Values(i.ID, i.PersonID, i.Timestamp.UTC(), i.SourceType, i.Title, i.Snippet, i.SourceLink, i.SourceID)

	query, args := ib.Build()
	query += " ON CONFLICT (source_type, source_id) DO NOTHING"

	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("adding interaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("adding interaction: %w", err)
	}
	return n == 1, nil
}

// GetInteractionsForPerson returns a timeline page, newest first. Offset is
// only applied together with a positive Limit.
func (s *SQLiteDatabase) GetInteractionsForPerson(ctx context.Context, q kin.InteractionQuery) ([]*kin.Interaction, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(interactionCols...).From("interactions")

	where := []string{sb.Equal("person_id", q.PersonID)}
	if q.SourceType != "" {
		where = append(where, sb.Equal("source_type", q.SourceType))
	}
	if !q.Since.IsZero() {
		where = append(where, sb.GreaterEqualThan("timestamp", q.Since.UTC()))
	}
	if !q.Until.IsZero() {
		where = append(where, sb.LessThan("timestamp", q.Until.UTC()))
	}
	sb.Where(where...)
	sb.OrderBy("timestamp DESC", "id DESC")
	if q.Limit > 0 {
		sb.Limit(q.Limit)
		if q.Offset > 0 {
			sb.Offset(q.Offset)
		}
	}

	query, args := sb.Build()
	var out []*kin.Interaction
	if err := s.q(ctx).SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("listing interactions: %w", err)
	}
	return out, nil
}

func (s *SQLiteDatabase) GetInteractionCounts(ctx context.Context, personID string, since time.Time) (map[kin.SourceType]int, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select("source_type", "COUNT(*) AS n").From("interactions")
	where := []string{sb.Equal("person_id", personID)}
	if !since.IsZero() {
		where = append(where, sb.GreaterEqualThan("timestamp", since.UTC()))
	}
	sb.Where(where...)
	sb.GroupBy("source_type")

	query, args := sb.Build()
	var rows []sourceCount
	if err := s.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("counting interactions: %w", err)
	}
	out := make(map[kin.SourceType]int, len(rows))
	for _, r := range rows {
		out[r.SourceType] = r.N
	}
	return out, nil
}

// GetLastInteractionBySource reduces in Go: SQLite's MAX over a DATETIME
// column loses the declared type, so the driver would hand back text.
func (s *SQLiteDatabase) GetLastInteractionBySource(ctx context.Context, personID string) (map[kin.SourceType]time.Time, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select("source_type", "timestamp").From("interactions")
	sb.Where(sb.Equal("person_id", personID))

	query, args := sb.Build()
	var rows []struct {
		SourceType kin.SourceType `db:"source_type"`
		Timestamp  time.Time      `db:"timestamp"`
	}
	if err := s.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("finding last interactions: %w", err)
	}
	out := make(map[kin.SourceType]time.Time)
	for _, r := range rows {
		if r.Timestamp.After(out[r.SourceType]) {
			out[r.SourceType] = r.Timestamp
		}
	}
	return out, nil
}

func (s *SQLiteDatabase) ReassignInteraction(ctx context.Context, sourceType kin.SourceType, sourceID, personID string) error {
	ub := flavor.NewUpdateBuilder()
	ub.Update("interactions")
	ub.Set(ub.Assign("person_id", personID))
	ub.Where(ub.Equal("source_type", sourceType), ub.Equal("source_id", sourceID))

	query, args := ub.Build()
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("reassigning interaction: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("interaction %s/%s: %w", sourceType, sourceID, kin.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) DeleteInteraction(ctx context.Context, sourceType kin.SourceType, sourceID string) error {
	dlb := flavor.NewDeleteBuilder()
	dlb.DeleteFrom("interactions")
	dlb.Where(dlb.Equal("source_type", sourceType), dlb.Equal("source_id", sourceID))

	query, args := dlb.Build()
	if _, err := s.q(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("deleting interaction: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) PersonIDsWithSource(ctx context.Context, sourceType kin.SourceType) ([]string, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select("DISTINCT person_id").From("interactions")
	sb.Where(sb.Equal("source_type", sourceType))
	sb.OrderBy("person_id")

	query, args := sb.Build()
	var ids []string
	if err := s.q(ctx).SelectContext(ctx, &ids, query, args...); err != nil {
		return nil, fmt.Errorf("listing persons by source: %w", err)
	}
	return ids, nil
}
