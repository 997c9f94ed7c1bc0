package kin

import (
	"context"
	"time"
)

// Database is the relational side of the registry: raw observations,
// interactions, relationship edges, pending links and sync bookkeeping.
// Finders return (nil, nil) when nothing matches.
type Database interface {
	// Source entity operations

	// CreateSourceEntity inserts a new observation. A duplicate
	// (source_type, source_id) returns an error wrapping ErrConflict.
	CreateSourceEntity(ctx context.Context, e *SourceEntity) error

	// FindSourceEntity looks up an observation by its source key.
	FindSourceEntity(ctx context.Context, sourceType SourceType, sourceID string) (*SourceEntity, error)

	// GetSourceEntity looks up an observation by ID.
	GetSourceEntity(ctx context.Context, id string) (*SourceEntity, error)

	// UpdateSourceLink rewrites the link fields. Nothing else on the row changes.
	UpdateSourceLink(ctx context.Context, id string, link SourceLink) error

	// ListSourceEntitiesForPerson returns observations linked to a person, oldest first.
	ListSourceEntitiesForPerson(ctx context.Context, personID string) ([]*SourceEntity, error)

	// ListLinkedSourceEntities returns every observation linked to some person.
	ListLinkedSourceEntities(ctx context.Context) ([]*SourceEntity, error)

	// Interaction operations

	// AddInteractionIfNotExists inserts unless (source_type, source_id) already exists.
	// Reports whether a row was inserted.
	AddInteractionIfNotExists(ctx context.Context, i *Interaction) (bool, error)

	// GetInteractionsForPerson returns interactions newest first.
	GetInteractionsForPerson(ctx context.Context, q InteractionQuery) ([]*Interaction, error)

	// GetInteractionCounts groups a person's interactions since the given time by source type.
	// A zero since counts all history.
	GetInteractionCounts(ctx context.Context, personID string, since time.Time) (map[SourceType]int, error)

	// GetLastInteractionBySource returns the latest interaction time per source type.
	GetLastInteractionBySource(ctx context.Context, personID string) (map[SourceType]time.Time, error)

	// ReassignInteraction moves one interaction to another person.
	ReassignInteraction(ctx context.Context, sourceType SourceType, sourceID, personID string) error

	// DeleteInteraction removes one interaction. Used only when its observation is orphaned.
	DeleteInteraction(ctx context.Context, sourceType SourceType, sourceID string) error

	// PersonIDsWithSource returns the IDs of persons having interactions of the given type.
	PersonIDsWithSource(ctx context.Context, sourceType SourceType) ([]string, error)

	// Relationship operations

	// ReplaceRelationships atomically swaps the stored edge set for rels.
	ReplaceRelationships(ctx context.Context, rels []*Relationship) error

	// GetRelationship returns the edge between two persons in either order.
	GetRelationship(ctx context.Context, a, b string) (*Relationship, error)

	// ListRelationshipsForPerson returns a person's edges ordered by edge weight.
	ListRelationshipsForPerson(ctx context.Context, personID string) ([]*Relationship, error)

	// Pending link operations

	CreatePendingLink(ctx context.Context, l *PendingLink) error
	GetPendingLink(ctx context.Context, id string) (*PendingLink, error)
	ListPendingLinks(ctx context.Context, q PendingQuery) ([]*PendingLink, error)

	// ResolvePendingLink moves a pending link to a terminal status. A link that
	// is no longer pending returns an error wrapping ErrConflict.
	ResolvePendingLink(ctx context.Context, id string, status PendingStatus, resolvedBy string, resolvedAt time.Time) error

	// Sync bookkeeping

	CreateSyncRun(ctx context.Context, operation, parameters string, startedAt time.Time) (*SyncRun, error)
	FinishSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, limit int) ([]*SyncRun, error)
	MaxSyncRunID(ctx context.Context) (int64, error)

	// GetSyncCursor returns the last successful fetch time for an adapter, zero if never run.
	GetSyncCursor(ctx context.Context, adapter string) (time.Time, error)
	SetSyncCursor(ctx context.Context, adapter string, at time.Time) error

	// InTx runs fn in one transaction. Calls made with the context fn receives
	// join it; the transaction commits only when fn returns nil.
	InTx(ctx context.Context, fn func(ctx context.Context) error) error

	// Stats returns aggregate counts.
	Stats(ctx context.Context) (*StoreStats, error)

	// Close closes the database connection.
	Close() error
}

// InteractionQuery filters a person's interactions. Zero values mean no filter.
type InteractionQuery struct {
	PersonID   string
	SourceType SourceType
	Since      time.Time
	Until      time.Time
	Limit      int
	Offset     int
}

// PendingQuery filters pending links. PersonID matches either side of the link.
type PendingQuery struct {
	Status   PendingStatus
	PersonID string
	Limit    int
}

// PersonStore holds canonical person records. Implementations index by
// normalized email and phone and reject writes that would share either
// identifier between two persons with a *ConflictError.
// Returned records are copies; mutate and Upsert to change them.
type PersonStore interface {
	GetByID(ctx context.Context, id string) (*PersonEntity, error)
	GetByEmail(ctx context.Context, email string) (*PersonEntity, error)
	GetByPhone(ctx context.Context, phone string) (*PersonEntity, error)

	// SearchByName returns persons with a name or alias token starting with prefix.
	SearchByName(ctx context.Context, prefix string) ([]*PersonEntity, error)

	Upsert(ctx context.Context, p *PersonEntity) error

	// GetAll returns every person, ordered by ID.
	GetAll(ctx context.Context) ([]*PersonEntity, error)

	// Batch runs fn and commits all writes made inside it as one snapshot.
	// If fn fails, the writes made inside it are discarded.
	Batch(ctx context.Context, fn func(ctx context.Context) error) error
}
