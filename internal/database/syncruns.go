package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"kin-go/internal/kin"
)

var syncRunCols = []string{
	"id", "operation", "parameters", "status", "started_at", "finished_at",
	"created", "updated", "skipped", "pending", "errors",
}

type syncRunRow struct {
	ID         int64      `db:"id"`
	Operation  string     `db:"operation"`
	Parameters string     `db:"parameters"`
	Status     string     `db:"status"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
	Created    int        `db:"created"`
	Updated    int        `db:"updated"`
	Skipped    int        `db:"skipped"`
	Pending    int        `db:"pending"`
	Errors     int        `db:"errors"`
}

// CreateSyncRun records the start of an operation in the running state.
func (s *SQLiteDatabase) CreateSyncRun(ctx context.Context, operation, parameters string, startedAt time.Time) (*kin.SyncRun, error) {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto("sync_runs")
	ib.Cols("operation", "parameters", "status", "started_at")
	ib.Values(operation, parameters, kin.RunRunning, startedAt.UTC())

	query, args := ib.Build()
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("creating sync run: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("creating sync run: %w", err)
	}
	return &kin.SyncRun{
		ID:         id,
		Operation:  operation,
		Parameters: parameters,
		Status:     kin.RunRunning,
		StartedAt:  startedAt.UTC(),
	}, nil
}

// FinishSyncRun stores the final status, finish time and counters of run.
func (s *SQLiteDatabase) FinishSyncRun(ctx context.Context, run *kin.SyncRun) error {
	ub := flavor.NewUpdateBuilder()
	ub.Update("sync_runs")
	ub.Set(
		ub.Assign("status", run.Status),
		ub.Assign("finished_at", utcPtr(run.FinishedAt)),
		ub.Assign("created", run.Created),
		ub.Assign("updated", run.Updated),
		ub.Assign("skipped", run.Skipped),
		ub.Assign("pending", run.Pending),
		ub.Assign("errors", run.Errors),
	)
	ub.Where(ub.Equal("id", run.ID))

	query, args := ub.Build()
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("finishing sync run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sync run %d: %w", run.ID, kin.ErrNotFound)
	}
	return nil
}

// ListSyncRuns returns the most recent runs first.
func (s *SQLiteDatabase) ListSyncRuns(ctx context.Context, limit int) ([]*kin.SyncRun, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(syncRunCols...).From("sync_runs")
	sb.OrderBy("id DESC")
	if limit > 0 {
		sb.Limit(limit)
	}

	query, args := sb.Build()
	var rows []syncRunRow
	if err := s.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing sync runs: %w", err)
	}
	out := make([]*kin.SyncRun, len(rows))
	for i := range rows {
		r := kin.SyncRun(rows[i])
		out[i] = &r
	}
	return out, nil
}

// MaxSyncRunID returns the highest run ID, or 0 on a fresh database. The
// archive uses it as the database version.
func (s *SQLiteDatabase) MaxSyncRunID(ctx context.Context) (int64, error) {
	var id int64
	if err := s.q(ctx).GetContext(ctx, &id, "SELECT COALESCE(MAX(id), 0) FROM sync_runs"); err != nil {
		return 0, fmt.Errorf("finding max sync run: %w", err)
	}
	return id, nil
}

func (s *SQLiteDatabase) GetSyncCursor(ctx context.Context, adapter string) (time.Time, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select("last_synced_at").From("sync_cursors")
	sb.Where(sb.Equal("adapter", adapter))

	query, args := sb.Build()
	var at time.Time
	if err := s.q(ctx).GetContext(ctx, &at, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("reading sync cursor: %w", err)
	}
	return at, nil
}

func (s *SQLiteDatabase) SetSyncCursor(ctx context.Context, adapter string, at time.Time) error {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto("sync_cursors")
	ib.Cols("adapter", "last_synced_at")
	ib.Values(adapter, at.UTC())

	query, args := ib.Build()
	query += " ON CONFLICT (adapter) DO UPDATE SET last_synced_at = excluded.last_synced_at"

	if _, err := s.q(ctx).ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("writing sync cursor: %w", err)
	}
	return nil
}
