package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kin-go/internal/kin"
)

type pendingLinkRow struct {
	ID                  string            `db:"id"`
	SourceEntityID      string            `db:"source_entity_id"`
	PreviousCanonicalID string            `db:"previous_canonical_id"`
	ProposedCanonicalID string            `db:"proposed_canonical_id"`
	Reason              kin.PendingReason `db:"reason"`
	Confidence          float64           `db:"confidence"`
	Status              kin.PendingStatus `db:"status"`
	CreatedAt           time.Time         `db:"created_at"`
	ResolvedAt          *time.Time        `db:"resolved_at"`
	ResolvedBy          string            `db:"resolved_by"`
}

var pendingLinkCols = []string{
	"id", "source_entity_id", "previous_canonical_id", "proposed_canonical_id", "reason",
	"confidence", "status", "created_at", "resolved_at", "resolved_by",
}

func (r *pendingLinkRow) link() *kin.PendingLink {
	l := kin.PendingLink(*r)
	return &l
}

func (s *SQLiteDatabase) CreatePendingLink(ctx context.Context, l *kin.PendingLink) error {
	status := l.Status
	if status == "" {
		status = kin.PendingOpen
	}
	ib := flavor.NewInsertBuilder()
	ib.InsertInto("pending_links")
	ib.Cols(pendingLinkCols...)
	ib.Values(l.ID, l.SourceEntityID, l.PreviousCanonicalID, l.ProposedCanonicalID, l.Reason,
		l.Confidence, status, l.CreatedAt.UTC(), utcPtr(l.ResolvedAt), l.ResolvedBy)

	query, args := ib.Build()
	if _, err := s.q(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("creating pending link: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) GetPendingLink(ctx context.Context, id string) (*kin.PendingLink, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(pendingLinkCols...).From("pending_links")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var row pendingLinkRow
	if err := s.q(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding pending link: %w", err)
	}
	return row.link(), nil
}

// ListPendingLinks returns links oldest first.
func (s *SQLiteDatabase) ListPendingLinks(ctx context.Context, q kin.PendingQuery) ([]*kin.PendingLink, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(pendingLinkCols...).From("pending_links")

	var where []string
	if q.Status != "" {
		where = append(where, sb.Equal("status", q.Status))
	}
	if q.PersonID != "" {
		where = append(where, sb.Or(
			sb.Equal("previous_canonical_id", q.PersonID),
			sb.Equal("proposed_canonical_id", q.PersonID),
		))
	}
	if len(where) > 0 {
		sb.Where(where...)
	}
	sb.OrderBy("created_at", "id")
	if q.Limit > 0 {
		sb.Limit(q.Limit)
	}

	query, args := sb.Build()
	var rows []pendingLinkRow
	if err := s.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing pending links: %w", err)
	}
	out := make([]*kin.PendingLink, len(rows))
	for i := range rows {
		out[i] = rows[i].link()
	}
	return out, nil
}

func (s *SQLiteDatabase) ResolvePendingLink(ctx context.Context, id string, status kin.PendingStatus, resolvedBy string, resolvedAt time.Time) error {
	if status == kin.PendingOpen {
		return fmt.Errorf("resolving pending link %s: status must be terminal", id)
	}
	ub := flavor.NewUpdateBuilder()
	ub.Update("pending_links")
	ub.Set(
		ub.Assign("status", status),
		ub.Assign("resolved_by", resolvedBy),
		ub.Assign("resolved_at", resolvedAt.UTC()),
	)
	ub.Where(ub.Equal("id", id), ub.Equal("status", kin.PendingOpen))

	query, args := ub.Build()
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("resolving pending link: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	existing, err := s.GetPendingLink(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		return fmt.Errorf("pending link %s: %w", id, kin.ErrNotFound)
	}
	return fmt.Errorf("pending link %s is already %s: %w", id, existing.Status, kin.ErrConflict)
}
