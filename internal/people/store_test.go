package people

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"kin-go/internal/config"
	"kin-go/internal/kin"
)

func person(id, name string, emails ...string) *kin.PersonEntity {
	return &kin.PersonEntity{
		ID:            id,
		CanonicalName: name,
		DisplayName:   name,
		Emails:        emails,
		Category:      kin.CategoryUnknown,
	}
}

func TestStore_UpsertAndLookup(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(nil)

	p := person("p1", "Mary Katherine Palmer", "Mary@Example.com", "mary@example.com")
	p.PhoneNumbers = []string{"+12015550123"}
	if err := s.Upsert(ctx, p); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}

	got, err := s.GetByEmail(ctx, "MARY@example.com")
	if err != nil || got == nil {
		t.Fatalf("GetByEmail() = %v, %v", got, err)
	}
	if len(got.Emails) != 1 || got.Emails[0] != "mary@example.com" {
		t.Errorf("Emails = %v, want deduplicated lowercase", got.Emails)
	}

	got, _ = s.GetByPhone(ctx, "+12015550123")
	if got == nil || got.ID != "p1" {
		t.Errorf("GetByPhone() = %v, want p1", got)
	}

	if got, _ := s.GetByEmail(ctx, "nobody@example.com"); got != nil {
		t.Errorf("GetByEmail(unknown) = %v, want nil", got)
	}
	if got, _ := s.GetByID(ctx, "missing"); got != nil {
		t.Errorf("GetByID(missing) = %v, want nil", got)
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(nil)
	if err := s.Upsert(ctx, person("p1", "Ann Lee", "ann@example.com")); err != nil {
		t.Fatal(err)
	}

	got, _ := s.GetByID(ctx, "p1")
	got.Emails[0] = "changed@example.com"
	got.CanonicalName = "Changed"

	again, _ := s.GetByID(ctx, "p1")
	if again.CanonicalName != "Ann Lee" || again.Emails[0] != "ann@example.com" {
		t.Errorf("stored person mutated through a returned copy: %+v", again)
	}
}

func TestStore_UniqueIdentifiers(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(nil)
	if err := s.Upsert(ctx, person("p1", "Ann Lee", "ann@example.com")); err != nil {
		t.Fatal(err)
	}

	err := s.Upsert(ctx, person("p2", "Ann Other", "ANN@example.com"))
	var conflict *kin.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("Upsert() error = %v, want ConflictError", err)
	}
	if conflict.ExistingID != "p1" {
		t.Errorf("ExistingID = %q, want p1", conflict.ExistingID)
	}
	if !errors.Is(err, kin.ErrConflict) {
		t.Error("error should wrap ErrConflict")
	}
	if got, _ := s.GetByID(ctx, "p2"); got != nil {
		t.Error("conflicting person was stored")
	}

	// Removing the email from p1 frees it for p2.
	p1, _ := s.GetByID(ctx, "p1")
	p1.Emails = nil
	if err := s.Upsert(ctx, p1); err != nil {
		t.Fatal(err)
	}
	if err := s.Upsert(ctx, person("p2", "Ann Other", "ann@example.com")); err != nil {
		t.Fatalf("Upsert() after release error = %v", err)
	}
	got, _ := s.GetByEmail(ctx, "ann@example.com")
	if got.ID != "p2" {
		t.Errorf("GetByEmail() = %s, want p2", got.ID)
	}
}

func TestStore_SearchByName(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(nil)

	ben := person("p1", "Ben Calvin")
	ben.RelationshipStrength = 60
	benW := person("p2", "Benjamin Warren")
	benW.RelationshipStrength = 55
	other := person("p3", "Taylor Walker")
	other.Aliases = []string{"Tay Benson"}
	for _, p := range []*kin.PersonEntity{ben, benW, other} {
		if err := s.Upsert(ctx, p); err != nil {
			t.Fatal(err)
		}
	}

	tests := []struct {
		prefix string
		want   []string
	}{
		{"ben", []string{"p1", "p2", "p3"}},
		{"Ben C", []string{"p1"}},
		{"walk", []string{"p3"}},
		{"zed", nil},
		{"", nil},
	}
	for _, tt := range tests {
		t.Run(tt.prefix, func(t *testing.T) {
			got, err := s.SearchByName(ctx, tt.prefix)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("SearchByName(%q) returned %d persons, want %d", tt.prefix, len(got), len(tt.want))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("result[%d] = %s, want %s", i, got[i].ID, id)
				}
			}
		})
	}
}

func TestStore_BatchRollback(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(nil)
	if err := s.Upsert(ctx, person("p1", "Ann Lee", "ann@example.com")); err != nil {
		t.Fatal(err)
	}

	boom := errors.New("boom")
	err := s.Batch(ctx, func(ctx context.Context) error {
		if err := s.Upsert(ctx, person("p2", "Bob Ray", "bob@example.com")); err != nil {
			return err
		}
		p1, _ := s.GetByID(ctx, "p1")
		p1.CanonicalName = "Ann Changed"
		if err := s.Upsert(ctx, p1); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Batch() error = %v, want boom", err)
	}

	if got, _ := s.GetByID(ctx, "p2"); got != nil {
		t.Error("p2 survived a failed batch")
	}
	if got, _ := s.GetByEmail(ctx, "bob@example.com"); got != nil {
		t.Error("email index kept a rolled-back entry")
	}
	if got, _ := s.GetByID(ctx, "p1"); got.CanonicalName != "Ann Lee" {
		t.Errorf("p1 name = %q, want original", got.CanonicalName)
	}
}

func TestStore_NestedBatchRollsBackOnlyItself(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := NewMemoryStore(nil)

	boom := errors.New("boom")
	err := s.Batch(ctx, func(ctx context.Context) error {
		if err := s.Upsert(ctx, person("p1", "Ann Lee", "ann@example.com")); err != nil {
			return err
		}
		inner := s.Batch(ctx, func(ctx context.Context) error {
			if err := s.Upsert(ctx, person("p2", "Bob Ray", "bob@example.com")); err != nil {
				return err
			}
			return boom
		})
		if !errors.Is(inner, boom) {
			t.Errorf("inner Batch() error = %v, want boom", inner)
		}
		return s.Upsert(ctx, person("p3", "Cy Young", "cy@example.com"))
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}

	for id, want := range map[string]bool{"p1": true, "p2": false, "p3": true} {
		got, _ := s.GetByID(ctx, id)
		if (got != nil) != want {
			t.Errorf("GetByID(%s) present = %v, want %v", id, got != nil, want)
		}
	}
	if got, _ := s.GetByEmail(ctx, "bob@example.com"); got != nil {
		t.Error("email index kept the inner batch's entry")
	}
}

func TestFileStore_PersistsAcrossOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "people.json")

	s, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	err = s.Batch(ctx, func(ctx context.Context) error {
		if err := s.Upsert(ctx, person("p1", "Ann Lee", "ann@example.com")); err != nil {
			return err
		}
		if _, err := os.Stat(path); err == nil {
			t.Error("snapshot written before batch finished")
		}
		return s.Upsert(ctx, person("p2", "Bob Ray", "bob@example.com"))
	})
	if err != nil {
		t.Fatalf("Batch() error = %v", err)
	}

	reopened, err := NewFileStore(path, nil)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	if reopened.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", reopened.Len())
	}
	got, _ := reopened.GetByEmail(ctx, "bob@example.com")
	if got == nil || got.ID != "p2" {
		t.Errorf("GetByEmail() after reopen = %v", got)
	}

	matches, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".people-*"))
	if len(matches) != 0 {
		t.Errorf("temp files left behind: %v", matches)
	}
}

func TestFileStore_RejectsUnknownVersion(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "people.json")
	if err := os.WriteFile(path, []byte(`{"version": 99, "persons": []}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileStore(path, nil); err == nil {
		t.Fatal("NewFileStore() expected error for unknown version")
	}
}

func TestNewPersonStoreFromConfig(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		cfg     config.PeopleConfig
		wantErr bool
	}{
		{"memory", config.PeopleConfig{Type: "memory"}, false},
		{"file", config.PeopleConfig{Type: "file", Path: filepath.Join(t.TempDir(), "p.json")}, false},
		{"file without path", config.PeopleConfig{Type: "file"}, true},
		{"unknown", config.PeopleConfig{Type: "redis"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPersonStoreFromConfig(tt.cfg, nil)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewPersonStoreFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
