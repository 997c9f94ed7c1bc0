package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/huandu/go-sqlbuilder"
	"github.com/jmoiron/sqlx"

	"kin-go/internal/database/migrations"
	"kin-go/internal/kin"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

var flavor = sqlbuilder.SQLite

// SQLiteDatabase implements kin.Database on SQLite.
type SQLiteDatabase struct {
	db     *sqlx.DB
	path   string
	logger kin.Logger
}

var _ kin.Database = (*SQLiteDatabase)(nil)

// NewSQLiteDatabase opens the database at path (":memory:" for an in-memory
// database) and migrates it to the latest schema.
func NewSQLiteDatabase(path string, logger kin.Logger) (*SQLiteDatabase, error) {
	if logger == nil {
		logger = kin.NewNopLogger()
	}
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating %s: %w", path, err)
	}
	if err := migrations.CheckDBMigrationStatus(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path, logger: logger}, nil
}

// OpenConnection opens a SQLite connection with foreign keys enforced and a
// busy timeout for concurrent kin processes. An in-memory database is pinned
// to a single connection so every query sees the same data.
func OpenConnection(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}

type txKey struct{}

// querier is the part of sqlx shared by *sqlx.DB and *sqlx.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	GetContext(ctx context.Context, dest any, query string, args ...any) error
	SelectContext(ctx context.Context, dest any, query string, args ...any) error
}

// q returns the transaction carried by ctx, or the database.
func (s *SQLiteDatabase) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return tx
	}
	return s.db
}

// InTx runs fn in one transaction. Calls made with the context fn receives
// join it; a nested InTx joins the outer transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
func (s *SQLiteDatabase) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sqlx.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.logger.Warn("rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Path returns the database file path (or ":memory:" for in-memory databases).
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// BackupTo writes a consistent copy of the database to destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Source entity operations

type sourceEntityRow struct {
	ID                string                        `db:"id"`
	SourceType        kin.SourceType                `db:"source_type"`
	SourceID          string                        `db:"source_id"`
	ObservedName      string                        `db:"observed_name"`
	ObservedEmail     string                        `db:"observed_email"`
	ObservedPhone     string                        `db:"observed_phone"`
	ContextPath       string                        `db:"context_path"`
	ObservedAt        time.Time                     `db:"observed_at"`
	Metadata          jsonColumn[map[string]string] `db:"metadata"`
	CanonicalPersonID string                        `db:"canonical_person_id"`
	LinkConfidence    float64                       `db:"link_confidence"`
	LinkStatus        kin.LinkStatus                `db:"link_status"`
	LinkedAt          *time.Time                    `db:"linked_at"`
	CreatedAt         time.Time                     `db:"created_at"`
}

var sourceEntityCols = []string{
	"id", "source_type", "source_id", "observed_name", "observed_email", "observed_phone",
	"context_path", "observed_at", "metadata", "canonical_person_id", "link_confidence",
	"link_status", "linked_at", "created_at",
}

func (r *sourceEntityRow) entity() *kin.SourceEntity {
	return &kin.SourceEntity{
		ID:                r.ID,
		SourceType:        r.SourceType,
		SourceID:          r.SourceID,
		ObservedName:      r.ObservedName,
		ObservedEmail:     r.ObservedEmail,
		ObservedPhone:     r.ObservedPhone,
		ContextPath:       r.ContextPath,
		ObservedAt:        r.ObservedAt,
		Metadata:          r.Metadata.Data,
		CanonicalPersonID: r.CanonicalPersonID,
		LinkConfidence:    r.LinkConfidence,
		LinkStatus:        r.LinkStatus,
		LinkedAt:          r.LinkedAt,
		CreatedAt:         r.CreatedAt,
	}
}

func (s *SQLiteDatabase) CreateSourceEntity(ctx context.Context, e *kin.SourceEntity) error {
	ib := flavor.NewInsertBuilder()
	ib.InsertInto("source_entities")
	ib.Cols(sourceEntityCols...)
	ib.Values(e.ID, e.SourceType, e.SourceID, e.ObservedName, e.ObservedEmail, e.ObservedPhone,
		e.ContextPath, e.ObservedAt.UTC(), jsonColumn[map[string]string]{Data: e.Metadata},
		e.CanonicalPersonID, e.LinkConfidence, e.LinkStatus, utcPtr(e.LinkedAt), e.CreatedAt.UTC())

	query, args := ib.Build()
	query += " ON CONFLICT (source_type, source_id) DO NOTHING"

	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("creating source entity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source entity %s/%s: %w", e.SourceType, e.SourceID, kin.ErrConflict)
	}
	return nil
}

func (s *SQLiteDatabase) FindSourceEntity(ctx context.Context, sourceType kin.SourceType, sourceID string) (*kin.SourceEntity, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(sourceEntityCols...).From("source_entities")
	sb.Where(sb.Equal("source_type", sourceType), sb.Equal("source_id", sourceID))
	return s.getSourceEntity(ctx, sb)
}

func (s *SQLiteDatabase) GetSourceEntity(ctx context.Context, id string) (*kin.SourceEntity, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(sourceEntityCols...).From("source_entities")
	sb.Where(sb.Equal("id", id))
	return s.getSourceEntity(ctx, sb)
}

func (s *SQLiteDatabase) getSourceEntity(ctx context.Context, sb *sqlbuilder.SelectBuilder) (*kin.SourceEntity, error) {
	query, args := sb.Build()
	var row sourceEntityRow
	if err := s.q(ctx).GetContext(ctx, &row, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("finding source entity: %w", err)
	}
	return row.entity(), nil
}

func (s *SQLiteDatabase) UpdateSourceLink(ctx context.Context, id string, link kin.SourceLink) error {
	ub := flavor.NewUpdateBuilder()
	ub.Update("source_entities")
	ub.Set(
		ub.Assign("canonical_person_id", link.PersonID),
		ub.Assign("link_confidence", link.Confidence),
		ub.Assign("link_status", link.Status),
		ub.Assign("linked_at", utcPtr(link.LinkedAt)),
	)
	ub.Where(ub.Equal("id", id))

	query, args := ub.Build()
	res, err := s.q(ctx).ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("updating source link: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("source entity %s: %w", id, kin.ErrNotFound)
	}
	return nil
}

func (s *SQLiteDatabase) ListSourceEntitiesForPerson(ctx context.Context, personID string) ([]*kin.SourceEntity, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(sourceEntityCols...).From("source_entities")
	sb.Where(sb.Equal("canonical_person_id", personID))
	sb.OrderBy("observed_at", "id")
	return s.selectSourceEntities(ctx, sb)
}

func (s *SQLiteDatabase) ListLinkedSourceEntities(ctx context.Context) ([]*kin.SourceEntity, error) {
	sb := flavor.NewSelectBuilder()
	sb.Select(sourceEntityCols...).From("source_entities")
	sb.Where(sb.NotEqual("canonical_person_id", ""))
	sb.OrderBy("source_type", "observed_at", "id")
	return s.selectSourceEntities(ctx, sb)
}

func (s *SQLiteDatabase) selectSourceEntities(ctx context.Context, sb *sqlbuilder.SelectBuilder) ([]*kin.SourceEntity, error) {
	query, args := sb.Build()
	var rows []sourceEntityRow
	if err := s.q(ctx).SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing source entities: %w", err)
	}
	out := make([]*kin.SourceEntity, len(rows))
	for i := range rows {
		out[i] = rows[i].entity()
	}
	return out, nil
}

// Stats

func (s *SQLiteDatabase) Stats(ctx context.Context) (*kin.StoreStats, error) {
	stats := &kin.StoreStats{InteractionsBySource: make(map[kin.SourceType]int)}

	counts := []struct {
		dest  *int
		query string
	}{
		{&stats.SourceEntities, "SELECT COUNT(*) FROM source_entities"},
		{&stats.UnlinkedSources, "SELECT COUNT(*) FROM source_entities WHERE canonical_person_id = ''"},
		{&stats.Interactions, "SELECT COUNT(*) FROM interactions"},
		{&stats.Relationships, "SELECT COUNT(*) FROM relationships"},
		{&stats.PendingLinks, "SELECT COUNT(*) FROM pending_links WHERE status = 'pending'"},
	}
	for _, c := range counts {
		if err := s.q(ctx).GetContext(ctx, c.dest, c.query); err != nil {
			return nil, fmt.Errorf("computing stats: %w", err)
		}
	}

	var bySource []sourceCount
	if err := s.q(ctx).SelectContext(ctx, &bySource, "SELECT source_type, COUNT(*) AS n FROM interactions GROUP BY source_type"); err != nil {
		return nil, fmt.Errorf("computing stats: %w", err)
	}
	for _, c := range bySource {
		stats.InteractionsBySource[c.SourceType] = c.N
	}
	return stats, nil
}

type sourceCount struct {
	SourceType kin.SourceType `db:"source_type"`
	N          int            `db:"n"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
