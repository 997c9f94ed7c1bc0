// Package people holds the canonical person registry.
//
// All persons live in memory, indexed by ID, normalized email, normalized
// phone and name token. A file-backed store persists the whole registry as
// one JSON snapshot, rewritten atomically under an exclusive file lock so
// that concurrent kin processes never observe a half-written file.
package people

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"kin-go/internal/kin"
	"kin-go/internal/normalize"
)

// Store implements kin.PersonStore.
//
// Writers are expected to be serialized by the caller (the ingest path holds
// a single write lock); readers may run concurrently with them.
type Store struct {
	mu      sync.RWMutex
	byID    map[string]*kin.PersonEntity
	byEmail map[string]string
	byPhone map[string]string
	byToken map[string]map[string]bool

	snap   *snapshotFile // nil for a memory-only store
	logger kin.Logger

	saved []*state // one per open batch, innermost last
	dirty bool
}

var _ kin.PersonStore = (*Store)(nil)

// state is a shallow copy of the indexes. Entities are never mutated in
// place, so sharing the pointers is safe.
type state struct {
	byID    map[string]*kin.PersonEntity
	byEmail map[string]string
	byPhone map[string]string
	byToken map[string]map[string]bool
	dirty   bool
}

// NewMemoryStore creates a store that is never persisted.
func NewMemoryStore(logger kin.Logger) *Store {
	if logger == nil {
		logger = kin.NewNopLogger()
	}
	return &Store{
		byID:    make(map[string]*kin.PersonEntity),
		byEmail: make(map[string]string),
		byPhone: make(map[string]string),
		byToken: make(map[string]map[string]bool),
		logger:  logger,
	}
}

// NewFileStore opens the snapshot at path, creating an empty registry when it
// does not exist yet.
func NewFileStore(path string, logger kin.Logger) (*Store, error) {
	s := NewMemoryStore(logger)
	s.snap = newSnapshotFile(path)
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload replaces the in-memory registry with the snapshot on disk.
func (s *Store) Reload(ctx context.Context) error {
	if s.snap == nil {
		return nil
	}
	persons, err := s.snap.load(ctx)
	if err != nil {
		return fmt.Errorf("loading person snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = make(map[string]*kin.PersonEntity, len(persons))
	s.byEmail = make(map[string]string)
	s.byPhone = make(map[string]string)
	s.byToken = make(map[string]map[string]bool)
	for _, p := range persons {
		if err := s.checkOwnership(p); err != nil {
			s.logger.Warn("snapshot holds conflicting identifier", "person_id", p.ID, "error", err)
		}
		s.index(p)
	}
	s.logger.Debug("person snapshot loaded", "persons", len(persons))
	return nil
}

// Len returns the number of persons.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID)
}

func (s *Store) GetByID(_ context.Context, id string) (*kin.PersonEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[id].Clone(), nil
}

func (s *Store) GetByEmail(_ context.Context, email string) (*kin.PersonEntity, error) {
	key := emailKey(email)
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[s.byEmail[key]].Clone(), nil
}

func (s *Store) GetByPhone(_ context.Context, phone string) (*kin.PersonEntity, error) {
	key := strings.TrimSpace(phone)
	if key == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.byID[s.byPhone[key]].Clone(), nil
}

// SearchByName returns persons with a name token starting with prefix, or
// whose full name starts with it. Strongest relationships come first.
func (s *Store) SearchByName(_ context.Context, prefix string) ([]*kin.PersonEntity, error) {
	want := normalize.Key(prefix)
	if want == "" {
		return nil, nil
	}
	tokens := normalize.NameTokens(prefix)

	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make(map[string]bool)
	if len(tokens) == 1 {
		for tok, ids := range s.byToken {
			if strings.HasPrefix(tok, tokens[0]) {
				for id := range ids {
					hits[id] = true
				}
			}
		}
	}
	for id, p := range s.byID {
		if hits[id] {
			continue
		}
		for _, n := range names(p) {
			if strings.HasPrefix(normalize.Key(n), want) {
				hits[id] = true
				break
			}
		}
	}

	out := make([]*kin.PersonEntity, 0, len(hits))
	for id := range hits {
		out = append(out, s.byID[id].Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RelationshipStrength != out[j].RelationshipStrength {
			return out[i].RelationshipStrength > out[j].RelationshipStrength
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetAll(_ context.Context) ([]*kin.PersonEntity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*kin.PersonEntity, 0, len(s.byID))
	for _, p := range s.byID {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Upsert inserts or replaces a person. Emails are lowercased and both
// identifier lists deduplicated. A write that would give an email or phone
// to two persons fails with *kin.ConflictError and changes nothing.
func (s *Store) Upsert(ctx context.Context, p *kin.PersonEntity) error {
	if p == nil || p.ID == "" {
		return &kin.InputError{Field: "person", Reason: "missing id"}
	}
	c := p.Clone()
	c.Emails = dedupe(c.Emails, emailKey)
	c.PhoneNumbers = dedupe(c.PhoneNumbers, strings.TrimSpace)

	s.mu.Lock()
	if err := s.checkOwnership(c); err != nil {
		s.mu.Unlock()
		return err
	}
	if old := s.byID[c.ID]; old != nil {
		s.unindex(old)
	}
	s.index(c)
	s.dirty = true
	persist := len(s.saved) == 0
	s.mu.Unlock()

	if persist {
		return s.flush(ctx)
	}
	return nil
}

// Batch runs fn and writes the snapshot once at the end. If fn fails, every
// write made inside it is rolled back. Batches nest: a failed inner batch
// undoes only its own writes, and only the outermost one flushes.
func (s *Store) Batch(ctx context.Context, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.saved = append(s.saved, s.copyState())
	s.mu.Unlock()

	err := fn(ctx)

	s.mu.Lock()
	last := len(s.saved) - 1
	saved := s.saved[last]
	s.saved = s.saved[:last]
	outer := last == 0
	if err != nil {
		s.restore(saved)
	}
	s.mu.Unlock()

	if err != nil {
		return err
	}
	if outer {
		return s.flush(ctx)
	}
	return nil
}

// flush writes the snapshot if anything changed since the last write.
func (s *Store) flush(ctx context.Context) error {
	if s.snap == nil {
		s.mu.Lock()
		s.dirty = false
		s.mu.Unlock()
		return nil
	}

	s.mu.RLock()
	if !s.dirty {
		s.mu.RUnlock()
		return nil
	}
	persons := make([]*kin.PersonEntity, 0, len(s.byID))
	for _, p := range s.byID {
		persons = append(persons, p)
	}
	s.mu.RUnlock()

	sort.Slice(persons, func(i, j int) bool { return persons[i].ID < persons[j].ID })
	if err := s.snap.save(ctx, persons); err != nil {
		return fmt.Errorf("writing person snapshot: %w", err)
	}

	s.mu.Lock()
	s.dirty = false
	s.mu.Unlock()
	return nil
}

// checkOwnership requires s.mu held.
func (s *Store) checkOwnership(p *kin.PersonEntity) error {
	for _, e := range p.Emails {
		if owner, ok := s.byEmail[emailKey(e)]; ok && owner != p.ID {
			return &kin.ConflictError{Field: "email", Value: e, ExistingID: owner}
		}
	}
	for _, ph := range p.PhoneNumbers {
		if owner, ok := s.byPhone[ph]; ok && owner != p.ID {
			return &kin.ConflictError{Field: "phone", Value: ph, ExistingID: owner}
		}
	}
	return nil
}

// index requires s.mu held.
func (s *Store) index(p *kin.PersonEntity) {
	s.byID[p.ID] = p
	for _, e := range p.Emails {
		if k := emailKey(e); k != "" {
			if _, taken := s.byEmail[k]; !taken {
				s.byEmail[k] = p.ID
			}
		}
	}
	for _, ph := range p.PhoneNumbers {
		if _, taken := s.byPhone[ph]; !taken && ph != "" {
			s.byPhone[ph] = p.ID
		}
	}
	for _, tok := range nameTokens(p) {
		ids := s.byToken[tok]
		if ids == nil {
			ids = make(map[string]bool)
			s.byToken[tok] = ids
		}
		ids[p.ID] = true
	}
}

// unindex requires s.mu held.
func (s *Store) unindex(p *kin.PersonEntity) {
	delete(s.byID, p.ID)
	for _, e := range p.Emails {
		if k := emailKey(e); s.byEmail[k] == p.ID {
			delete(s.byEmail, k)
		}
	}
	for _, ph := range p.PhoneNumbers {
		if s.byPhone[ph] == p.ID {
			delete(s.byPhone, ph)
		}
	}
	for _, tok := range nameTokens(p) {
		if ids := s.byToken[tok]; ids != nil {
			delete(ids, p.ID)
			if len(ids) == 0 {
				delete(s.byToken, tok)
			}
		}
	}
}

// copyState requires s.mu held.
func (s *Store) copyState() *state {
	st := &state{
		byID:    make(map[string]*kin.PersonEntity, len(s.byID)),
		byEmail: make(map[string]string, len(s.byEmail)),
		byPhone: make(map[string]string, len(s.byPhone)),
		byToken: make(map[string]map[string]bool, len(s.byToken)),
		dirty:   s.dirty,
	}
	for k, v := range s.byID {
		st.byID[k] = v
	}
	for k, v := range s.byEmail {
		st.byEmail[k] = v
	}
	for k, v := range s.byPhone {
		st.byPhone[k] = v
	}
	for tok, ids := range s.byToken {
		cp := make(map[string]bool, len(ids))
		for id := range ids {
			cp[id] = true
		}
		st.byToken[tok] = cp
	}
	return st
}

// restore requires s.mu held.
func (s *Store) restore(st *state) {
	s.byID, s.byEmail, s.byPhone, s.byToken = st.byID, st.byEmail, st.byPhone, st.byToken
	s.dirty = st.dirty
}

func names(p *kin.PersonEntity) []string {
	out := []string{p.CanonicalName}
	if p.DisplayName != "" && p.DisplayName != p.CanonicalName {
		out = append(out, p.DisplayName)
	}
	return append(out, p.Aliases...)
}

func nameTokens(p *kin.PersonEntity) []string {
	var out []string
	for _, n := range names(p) {
		for _, tok := range normalize.NameTokens(n) {
			if !slices.Contains(out, tok) {
				out = append(out, tok)
			}
		}
	}
	return out
}

func emailKey(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}

func dedupe(list []string, key func(string) string) []string {
	out := make([]string, 0, len(list))
	for _, v := range list {
		k := key(v)
		if k == "" || slices.Contains(out, k) {
			continue
		}
		out = append(out, k)
	}
	return out
}
