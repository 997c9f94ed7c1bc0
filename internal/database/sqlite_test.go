package database

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"kin-go/internal/kin"
)

var t0 = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// newTestDB creates a new in-memory database with the schema applied.
func newTestDB(t *testing.T) *SQLiteDatabase {
	t.Helper()

	db, err := NewSQLiteDatabase(":memory:", nil)
	if err != nil {
		t.Fatalf("failed to create database: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func newSourceEntity(id string, st kin.SourceType, sourceID, personID string) *kin.SourceEntity {
	return &kin.SourceEntity{
		ID:                id,
		SourceType:        st,
		SourceID:          sourceID,
		ObservedName:      "Mary Palmer",
		ObservedEmail:     "mary@example.com",
		ContextPath:       "Work/Acme",
		ObservedAt:        t0,
		Metadata:          map[string]string{kin.MetaThreadID: "t-1"},
		CanonicalPersonID: personID,
		LinkConfidence:    1,
		LinkStatus:        kin.LinkAuto,
		CreatedAt:         t0,
	}
}

func TestSQLiteDatabase_SourceEntities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	e := newSourceEntity("se-1", kin.SourceEmail, "msg-1", "p1")
	if err := db.CreateSourceEntity(ctx, e); err != nil {
		t.Fatalf("CreateSourceEntity() error = %v", err)
	}

	t.Run("duplicate source key conflicts", func(t *testing.T) {
		dup := newSourceEntity("se-2", kin.SourceEmail, "msg-1", "p2")
		err := db.CreateSourceEntity(ctx, dup)
		if !errors.Is(err, kin.ErrConflict) {
			t.Errorf("CreateSourceEntity(duplicate) error = %v, want ErrConflict", err)
		}
	})

	t.Run("find by source key", func(t *testing.T) {
		got, err := db.FindSourceEntity(ctx, kin.SourceEmail, "msg-1")
		if err != nil {
			t.Fatalf("FindSourceEntity() error = %v", err)
		}
		if got == nil || got.ID != "se-1" {
			t.Fatalf("FindSourceEntity() = %+v, want se-1", got)
		}
		if !got.ObservedAt.Equal(t0) {
			t.Errorf("ObservedAt = %v, want %v", got.ObservedAt, t0)
		}
		if got.Metadata[kin.MetaThreadID] != "t-1" {
			t.Errorf("Metadata = %v, want thread_id t-1", got.Metadata)
		}
		if got.LinkedAt != nil {
			t.Errorf("LinkedAt = %v, want nil", got.LinkedAt)
		}
	})

	t.Run("missing returns nil", func(t *testing.T) {
		got, err := db.FindSourceEntity(ctx, kin.SourceChat, "msg-1")
		if err != nil || got != nil {
			t.Errorf("FindSourceEntity(missing) = %v, %v; want nil, nil", got, err)
		}
		got, err = db.GetSourceEntity(ctx, "nope")
		if err != nil || got != nil {
			t.Errorf("GetSourceEntity(missing) = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("update link", func(t *testing.T) {
		at := t0.Add(time.Hour)
		link := kin.SourceLink{PersonID: "p9", Confidence: 1, Status: kin.LinkConfirmed, LinkedAt: &at}
		if err := db.UpdateSourceLink(ctx, "se-1", link); err != nil {
			t.Fatalf("UpdateSourceLink() error = %v", err)
		}
		got, err := db.GetSourceEntity(ctx, "se-1")
		if err != nil {
			t.Fatalf("GetSourceEntity() error = %v", err)
		}
		if got.CanonicalPersonID != "p9" || got.LinkStatus != kin.LinkConfirmed {
			t.Errorf("link = %s/%s, want p9/confirmed", got.CanonicalPersonID, got.LinkStatus)
		}
		if got.LinkedAt == nil || !got.LinkedAt.Equal(at) {
			t.Errorf("LinkedAt = %v, want %v", got.LinkedAt, at)
		}
		if got.ObservedName != "Mary Palmer" {
			t.Errorf("ObservedName changed to %q", got.ObservedName)
		}
	})

	t.Run("update missing", func(t *testing.T) {
		err := db.UpdateSourceLink(ctx, "nope", kin.SourceLink{Status: kin.LinkUnlinked})
		if !errors.Is(err, kin.ErrNotFound) {
			t.Errorf("UpdateSourceLink(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestSQLiteDatabase_ListSourceEntities(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	late := newSourceEntity("se-1", kin.SourceEmail, "msg-1", "p1")
	late.ObservedAt = t0.Add(time.Hour)
	early := newSourceEntity("se-2", kin.SourceCalendar, "evt-1", "p1")
	other := newSourceEntity("se-3", kin.SourceEmail, "msg-2", "p2")
	unlinked := newSourceEntity("se-4", kin.SourceEmail, "msg-3", "")
	unlinked.LinkStatus = kin.LinkUnlinked
	for _, e := range []*kin.SourceEntity{late, early, other, unlinked} {
		if err := db.CreateSourceEntity(ctx, e); err != nil {
			t.Fatalf("CreateSourceEntity(%s) error = %v", e.ID, err)
		}
	}

	got, err := db.ListSourceEntitiesForPerson(ctx, "p1")
	if err != nil {
		t.Fatalf("ListSourceEntitiesForPerson() error = %v", err)
	}
	if len(got) != 2 || got[0].ID != "se-2" || got[1].ID != "se-1" {
		t.Errorf("ListSourceEntitiesForPerson(p1) = %v, want [se-2 se-1]", ids(got))
	}

	linked, err := db.ListLinkedSourceEntities(ctx)
	if err != nil {
		t.Fatalf("ListLinkedSourceEntities() error = %v", err)
	}
	if len(linked) != 3 {
		t.Errorf("ListLinkedSourceEntities() returned %d, want 3", len(linked))
	}
	for _, e := range linked {
		if e.ID == "se-4" {
			t.Error("ListLinkedSourceEntities() included an unlinked entity")
		}
	}
}

func ids(es []*kin.SourceEntity) []string {
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.ID
	}
	return out
}

func TestSQLiteDatabase_Interactions(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	add := func(id, person string, st kin.SourceType, sourceID string, at time.Time) {
		t.Helper()
		i := &kin.Interaction{ID: id, PersonID: person, Timestamp: at, SourceType: st, Title: "t " + id, SourceID: sourceID}
		inserted, err := db.AddInteractionIfNotExists(ctx, i)
		if err != nil {
			t.Fatalf("AddInteractionIfNotExists(%s) error = %v", id, err)
		}
		if !inserted {
			t.Fatalf("AddInteractionIfNotExists(%s) = false, want true", id)
		}
	}
	add("i1", "p1", kin.SourceEmail, "msg-1", t0)
	add("i2", "p1", kin.SourceEmail, "msg-2", t0.Add(time.Hour))
	add("i3", "p1", kin.SourceCalendar, "evt-1", t0.Add(2*time.Hour))
	add("i4", "p2", kin.SourceEmail, "msg-3", t0)

	t.Run("duplicate is skipped", func(t *testing.T) {
		dup := &kin.Interaction{ID: "i9", PersonID: "p2", Timestamp: t0, SourceType: kin.SourceEmail, SourceID: "msg-1"}
		inserted, err := db.AddInteractionIfNotExists(ctx, dup)
		if err != nil || inserted {
			t.Errorf("AddInteractionIfNotExists(duplicate) = %v, %v; want false, nil", inserted, err)
		}
	})

	tests := []struct {
		name string
		q    kin.InteractionQuery
		want []string
	}{
		{"all newest first", kin.InteractionQuery{PersonID: "p1"}, []string{"i3", "i2", "i1"}},
		{"by source", kin.InteractionQuery{PersonID: "p1", SourceType: kin.SourceEmail}, []string{"i2", "i1"}},
		{"since inclusive", kin.InteractionQuery{PersonID: "p1", Since: t0.Add(time.Hour)}, []string{"i3", "i2"}},
		{"until exclusive", kin.InteractionQuery{PersonID: "p1", Until: t0.Add(time.Hour)}, []string{"i1"}},
		{"page", kin.InteractionQuery{PersonID: "p1", Limit: 1, Offset: 1}, []string{"i2"}},
		{"offset ignored without limit", kin.InteractionQuery{PersonID: "p1", Offset: 2}, []string{"i3", "i2", "i1"}},
		{"unknown person", kin.InteractionQuery{PersonID: "p9"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.GetInteractionsForPerson(ctx, tt.q)
			if err != nil {
				t.Fatalf("GetInteractionsForPerson() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("GetInteractionsForPerson() returned %d rows, want %d", len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("row %d = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}

	t.Run("counts", func(t *testing.T) {
		counts, err := db.GetInteractionCounts(ctx, "p1", time.Time{})
		if err != nil {
			t.Fatalf("GetInteractionCounts() error = %v", err)
		}
		if counts[kin.SourceEmail] != 2 || counts[kin.SourceCalendar] != 1 {
			t.Errorf("GetInteractionCounts() = %v", counts)
		}
		recent, err := db.GetInteractionCounts(ctx, "p1", t0.Add(30*time.Minute))
		if err != nil {
			t.Fatalf("GetInteractionCounts(since) error = %v", err)
		}
		if recent[kin.SourceEmail] != 1 {
			t.Errorf("GetInteractionCounts(since)[email] = %d, want 1", recent[kin.SourceEmail])
		}
	})

	t.Run("last by source", func(t *testing.T) {
		last, err := db.GetLastInteractionBySource(ctx, "p1")
		if err != nil {
			t.Fatalf("GetLastInteractionBySource() error = %v", err)
		}
		if !last[kin.SourceEmail].Equal(t0.Add(time.Hour)) {
			t.Errorf("last email = %v, want %v", last[kin.SourceEmail], t0.Add(time.Hour))
		}
	})

	t.Run("person IDs with source", func(t *testing.T) {
		got, err := db.PersonIDsWithSource(ctx, kin.SourceEmail)
		if err != nil {
			t.Fatalf("PersonIDsWithSource() error = %v", err)
		}
		if len(got) != 2 || got[0] != "p1" || got[1] != "p2" {
			t.Errorf("PersonIDsWithSource() = %v, want [p1 p2]", got)
		}
	})
}

func TestSQLiteDatabase_ReassignAndDeleteInteraction(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	i := &kin.Interaction{ID: "i1", PersonID: "p1", Timestamp: t0, SourceType: kin.SourceEmail, SourceID: "msg-1"}
	if _, err := db.AddInteractionIfNotExists(ctx, i); err != nil {
		t.Fatalf("AddInteractionIfNotExists() error = %v", err)
	}

	if err := db.ReassignInteraction(ctx, kin.SourceEmail, "msg-1", "p2"); err != nil {
		t.Fatalf("ReassignInteraction() error = %v", err)
	}
	got, _ := db.GetInteractionsForPerson(ctx, kin.InteractionQuery{PersonID: "p2"})
	if len(got) != 1 {
		t.Fatalf("p2 has %d interactions after reassign, want 1", len(got))
	}

	if err := db.ReassignInteraction(ctx, kin.SourceEmail, "missing", "p2"); !errors.Is(err, kin.ErrNotFound) {
		t.Errorf("ReassignInteraction(missing) error = %v, want ErrNotFound", err)
	}

	if err := db.DeleteInteraction(ctx, kin.SourceEmail, "msg-1"); err != nil {
		t.Fatalf("DeleteInteraction() error = %v", err)
	}
	got, _ = db.GetInteractionsForPerson(ctx, kin.InteractionQuery{PersonID: "p2"})
	if len(got) != 0 {
		t.Errorf("p2 has %d interactions after delete, want 0", len(got))
	}
}

func TestSQLiteDatabase_InTx(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("failure rolls back every write", func(t *testing.T) {
		db := newTestDB(t)
		boom := errors.New("boom")
		err := db.InTx(ctx, func(ctx context.Context) error {
			if err := db.CreateSourceEntity(ctx, newSourceEntity("se-1", kin.SourceEmail, "msg-1", "p1")); err != nil {
				return err
			}
			i := &kin.Interaction{ID: "i1", PersonID: "p1", Timestamp: t0, SourceType: kin.SourceEmail, SourceID: "msg-1"}
			if _, err := db.AddInteractionIfNotExists(ctx, i); err != nil {
				return err
			}
			// Reads inside the transaction see its writes.
			if got, err := db.FindSourceEntity(ctx, kin.SourceEmail, "msg-1"); err != nil || got == nil {
				t.Errorf("FindSourceEntity() inside tx = %v, %v", got, err)
			}
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("InTx() error = %v, want boom", err)
		}
		if got, _ := db.FindSourceEntity(ctx, kin.SourceEmail, "msg-1"); got != nil {
			t.Error("source entity survived a rolled-back transaction")
		}
		if got, _ := db.GetInteractionsForPerson(ctx, kin.InteractionQuery{PersonID: "p1"}); len(got) != 0 {
			t.Errorf("%d interactions survived a rolled-back transaction", len(got))
		}
	})

	t.Run("nested calls join the outer transaction", func(t *testing.T) {
		db := newTestDB(t)
		err := db.InTx(ctx, func(ctx context.Context) error {
			return db.InTx(ctx, func(ctx context.Context) error {
				return db.ReplaceRelationships(ctx, []*kin.Relationship{{
					PersonAID: "p2", PersonBID: "p1", RelationshipType: kin.RelationshipCoworker,
					FirstSeenTogether: t0, LastSeenTogether: t0, UpdatedAt: t0,
				}})
			})
		})
		if err != nil {
			t.Fatalf("InTx() error = %v", err)
		}
		got, err := db.GetRelationship(ctx, "p1", "p2")
		if err != nil || got == nil {
			t.Fatalf("GetRelationship() = %v, %v", got, err)
		}
	})
}

func TestSQLiteDatabase_Relationships(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	rels := []*kin.Relationship{
		{
			PersonAID: "p2", PersonBID: "p1", RelationshipType: kin.RelationshipCoworker,
			SharedContexts: []string{"Work/Acme"}, SharedThreadsCount: 3, IsLinkedExternal: true,
			FirstSeenTogether: t0, LastSeenTogether: t0.Add(time.Hour), EdgeWeight: 4.5, UpdatedAt: t0,
		},
		{
			PersonAID: "p1", PersonBID: "p3", RelationshipType: kin.RelationshipInferred,
			SharedEventsCount: 1, FirstSeenTogether: t0, LastSeenTogether: t0, EdgeWeight: 1, UpdatedAt: t0,
		},
	}
	if err := db.ReplaceRelationships(ctx, rels); err != nil {
		t.Fatalf("ReplaceRelationships() error = %v", err)
	}

	t.Run("either order", func(t *testing.T) {
		for _, pair := range [][2]string{{"p1", "p2"}, {"p2", "p1"}} {
			got, err := db.GetRelationship(ctx, pair[0], pair[1])
			if err != nil {
				t.Fatalf("GetRelationship() error = %v", err)
			}
			if got == nil {
				t.Fatalf("GetRelationship(%s, %s) = nil", pair[0], pair[1])
			}
			if got.PersonAID != "p1" || got.PersonBID != "p2" {
				t.Errorf("pair = %s/%s, want p1/p2", got.PersonAID, got.PersonBID)
			}
			if !got.IsLinkedExternal || got.SharedThreadsCount != 3 || len(got.SharedContexts) != 1 {
				t.Errorf("GetRelationship() = %+v", got)
			}
		}
	})

	t.Run("ordered by weight", func(t *testing.T) {
		got, err := db.ListRelationshipsForPerson(ctx, "p1")
		if err != nil {
			t.Fatalf("ListRelationshipsForPerson() error = %v", err)
		}
		if len(got) != 2 || got[0].EdgeWeight != 4.5 {
			t.Fatalf("ListRelationshipsForPerson() = %+v", got)
		}
		if got[1].SharedContexts == nil {
			t.Error("SharedContexts should be an empty slice, not nil")
		}
	})

	t.Run("replace drops stale edges", func(t *testing.T) {
		if err := db.ReplaceRelationships(ctx, rels[1:]); err != nil {
			t.Fatalf("ReplaceRelationships() error = %v", err)
		}
		got, err := db.GetRelationship(ctx, "p1", "p2")
		if err != nil || got != nil {
			t.Errorf("GetRelationship(stale) = %v, %v; want nil, nil", got, err)
		}
	})

	t.Run("many edges", func(t *testing.T) {
		var many []*kin.Relationship
		for i := range 450 {
			many = append(many, &kin.Relationship{
				PersonAID: "a", PersonBID: fmt.Sprintf("b%03d", i), RelationshipType: kin.RelationshipInferred,
				FirstSeenTogether: t0, LastSeenTogether: t0, UpdatedAt: t0,
			})
		}
		if err := db.ReplaceRelationships(ctx, many); err != nil {
			t.Fatalf("ReplaceRelationships(450) error = %v", err)
		}
		got, _ := db.ListRelationshipsForPerson(ctx, "a")
		if len(got) != 450 {
			t.Errorf("stored %d edges, want 450", len(got))
		}
	})
}

func TestSQLiteDatabase_PendingLinks(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	for _, e := range []*kin.SourceEntity{
		newSourceEntity("se-1", kin.SourceEmail, "msg-1", ""),
		newSourceEntity("se-2", kin.SourceEmail, "msg-2", "p1"),
	} {
		if err := db.CreateSourceEntity(ctx, e); err != nil {
			t.Fatalf("CreateSourceEntity() error = %v", err)
		}
	}

	links := []*kin.PendingLink{
		{ID: "pl-2", SourceEntityID: "se-2", PreviousCanonicalID: "p1", ProposedCanonicalID: "p2", Reason: kin.PendingNameMatch, Confidence: 0.6, CreatedAt: t0.Add(time.Minute)},
		{ID: "pl-1", SourceEntityID: "se-1", ProposedCanonicalID: "p3", Reason: kin.PendingNameMatch, Confidence: 0.28, CreatedAt: t0},
	}
	for _, l := range links {
		if err := db.CreatePendingLink(ctx, l); err != nil {
			t.Fatalf("CreatePendingLink(%s) error = %v", l.ID, err)
		}
	}

	t.Run("defaults to pending", func(t *testing.T) {
		got, err := db.GetPendingLink(ctx, "pl-1")
		if err != nil {
			t.Fatalf("GetPendingLink() error = %v", err)
		}
		if got == nil || got.Status != kin.PendingOpen || got.ResolvedAt != nil {
			t.Errorf("GetPendingLink() = %+v, want open", got)
		}
	})

	t.Run("list oldest first", func(t *testing.T) {
		got, err := db.ListPendingLinks(ctx, kin.PendingQuery{Status: kin.PendingOpen})
		if err != nil {
			t.Fatalf("ListPendingLinks() error = %v", err)
		}
		if len(got) != 2 || got[0].ID != "pl-1" {
			t.Errorf("ListPendingLinks() = %+v, want pl-1 first", got)
		}
	})

	t.Run("filter by either person", func(t *testing.T) {
		for _, person := range []string{"p1", "p2"} {
			got, err := db.ListPendingLinks(ctx, kin.PendingQuery{PersonID: person})
			if err != nil {
				t.Fatalf("ListPendingLinks() error = %v", err)
			}
			if len(got) != 1 || got[0].ID != "pl-2" {
				t.Errorf("ListPendingLinks(%s) = %+v, want pl-2", person, got)
			}
		}
	})

	t.Run("resolve once", func(t *testing.T) {
		if err := db.ResolvePendingLink(ctx, "pl-1", kin.PendingConfirmed, "cli", t0.Add(time.Hour)); err != nil {
			t.Fatalf("ResolvePendingLink() error = %v", err)
		}
		got, _ := db.GetPendingLink(ctx, "pl-1")
		if got.Status != kin.PendingConfirmed || got.ResolvedBy != "cli" || got.ResolvedAt == nil {
			t.Errorf("resolved link = %+v", got)
		}

		err := db.ResolvePendingLink(ctx, "pl-1", kin.PendingRejected, "cli", t0)
		if !errors.Is(err, kin.ErrConflict) {
			t.Errorf("second ResolvePendingLink() error = %v, want ErrConflict", err)
		}
		err = db.ResolvePendingLink(ctx, "pl-9", kin.PendingRejected, "cli", t0)
		if !errors.Is(err, kin.ErrNotFound) {
			t.Errorf("ResolvePendingLink(missing) error = %v, want ErrNotFound", err)
		}

		open, _ := db.ListPendingLinks(ctx, kin.PendingQuery{Status: kin.PendingOpen})
		if len(open) != 1 {
			t.Errorf("%d open links remain, want 1", len(open))
		}
	})
}

func TestSQLiteDatabase_SyncRuns(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	if id, err := db.MaxSyncRunID(ctx); err != nil || id != 0 {
		t.Fatalf("MaxSyncRunID() on fresh db = %d, %v; want 0, nil", id, err)
	}

	first, err := db.CreateSyncRun(ctx, "sync", "", t0)
	if err != nil {
		t.Fatalf("CreateSyncRun() error = %v", err)
	}
	second, err := db.CreateSyncRun(ctx, "sync relationships", "", t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("CreateSyncRun() error = %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("run IDs not increasing: %d then %d", first.ID, second.ID)
	}

	done := t0.Add(2 * time.Minute)
	first.Status = kin.RunSuccess
	first.FinishedAt = &done
	first.Created, first.Pending = 3, 1
	if err := db.FinishSyncRun(ctx, first); err != nil {
		t.Fatalf("FinishSyncRun() error = %v", err)
	}

	runs, err := db.ListSyncRuns(ctx, 10)
	if err != nil {
		t.Fatalf("ListSyncRuns() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != second.ID {
		t.Fatalf("ListSyncRuns() = %+v, want newest first", runs)
	}
	if runs[1].Status != kin.RunSuccess || runs[1].Created != 3 || runs[1].FinishedAt == nil {
		t.Errorf("finished run = %+v", runs[1])
	}
	if runs[0].Status != kin.RunRunning {
		t.Errorf("open run status = %s, want running", runs[0].Status)
	}

	if id, _ := db.MaxSyncRunID(ctx); id != second.ID {
		t.Errorf("MaxSyncRunID() = %d, want %d", id, second.ID)
	}

	missing := &kin.SyncRun{ID: 99, Status: kin.RunError}
	if err := db.FinishSyncRun(ctx, missing); !errors.Is(err, kin.ErrNotFound) {
		t.Errorf("FinishSyncRun(missing) error = %v, want ErrNotFound", err)
	}
}

func TestSQLiteDatabase_SyncCursors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	got, err := db.GetSyncCursor(ctx, "mail")
	if err != nil || !got.IsZero() {
		t.Fatalf("GetSyncCursor(never run) = %v, %v; want zero, nil", got, err)
	}

	for _, at := range []time.Time{t0, t0.Add(time.Hour)} {
		if err := db.SetSyncCursor(ctx, "mail", at); err != nil {
			t.Fatalf("SetSyncCursor() error = %v", err)
		}
		got, err := db.GetSyncCursor(ctx, "mail")
		if err != nil {
			t.Fatalf("GetSyncCursor() error = %v", err)
		}
		if !got.Equal(at) {
			t.Errorf("GetSyncCursor() = %v, want %v", got, at)
		}
	}
}

func TestSQLiteDatabase_Stats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	unlinked := newSourceEntity("se-2", kin.SourceEmail, "msg-2", "")
	for _, e := range []*kin.SourceEntity{newSourceEntity("se-1", kin.SourceEmail, "msg-1", "p1"), unlinked} {
		if err := db.CreateSourceEntity(ctx, e); err != nil {
			t.Fatalf("CreateSourceEntity() error = %v", err)
		}
	}
	db.AddInteractionIfNotExists(ctx, &kin.Interaction{ID: "i1", PersonID: "p1", Timestamp: t0, SourceType: kin.SourceEmail, SourceID: "msg-1"})
	db.CreatePendingLink(ctx, &kin.PendingLink{ID: "pl-1", SourceEntityID: "se-2", ProposedCanonicalID: "p1", Reason: kin.PendingNameMatch, CreatedAt: t0})

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.SourceEntities != 2 || stats.UnlinkedSources != 1 || stats.Interactions != 1 || stats.PendingLinks != 1 {
		t.Errorf("Stats() = %+v", stats)
	}
	if stats.InteractionsBySource[kin.SourceEmail] != 1 {
		t.Errorf("InteractionsBySource = %v", stats.InteractionsBySource)
	}
}

func TestSQLiteDatabase_BackupTo(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := newTestDB(t)

	if _, err := db.CreateSyncRun(ctx, "sync", "", t0); err != nil {
		t.Fatalf("CreateSyncRun() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "backup.db")
	if err := db.BackupTo(ctx, dest); err != nil {
		t.Fatalf("BackupTo() error = %v", err)
	}

	restored, err := NewSQLiteDatabase(dest, nil)
	if err != nil {
		t.Fatalf("opening backup: %v", err)
	}
	defer restored.Close()

	if id, _ := restored.MaxSyncRunID(ctx); id != 1 {
		t.Errorf("backup MaxSyncRunID() = %d, want 1", id)
	}
}
