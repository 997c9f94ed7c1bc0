package testutil

import (
	"context"
	"testing"

	"kin-go/internal/kin"
	"kin-go/internal/people"
)

// NewTestPersonStore creates an empty in-memory person store.
func NewTestPersonStore() *people.Store {
	return people.NewMemoryStore(kin.NewNopLogger())
}

// SeedPersons upserts the given persons, failing the test on error.
func SeedPersons(t *testing.T, store kin.PersonStore, persons ...*kin.PersonEntity) {
	t.Helper()
	for _, p := range persons {
		if err := store.Upsert(context.Background(), p); err != nil {
			t.Fatalf("seeding person %s: %v", p.ID, err)
		}
	}
}

// NewPerson builds a person with the given ID and name and empty lists.
func NewPerson(id, name string) *kin.PersonEntity {
	return &kin.PersonEntity{
		ID:            id,
		CanonicalName: name,
		DisplayName:   name,
		Emails:        []string{},
		PhoneNumbers:  []string{},
		Aliases:       []string{},
		ContextTags:   []string{},
		Category:      kin.CategoryUnknown,
	}
}
