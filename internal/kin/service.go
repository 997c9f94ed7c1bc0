package kin

import (
	"context"
	"fmt"
	"sync"
	"time"

	"kin-go/internal/scoring"
)

// Settings tunes the service.
type Settings struct {
	// AutoAcceptConfidence is the link confidence at or above which a match
	// is final. Anything lower is linked and raised as a pending link.
	AutoAcceptConfidence float64
	Scoring              scoring.Config
}

// DefaultSettings returns the standard service settings.
func DefaultSettings() Settings {
	return Settings{
		AutoAcceptConfidence: 0.95,
		Scoring:              scoring.DefaultConfig(),
	}
}

// Service coordinates the stores and the resolver. Every write to the
// person, source entity and interaction stores goes through writeMu, so two
// adapters can never propose conflicting merges for the same candidate.
// Reads take no service lock.
type Service struct {
	database Database
	people   PersonStore
	resolver Resolver
	settings Settings
	metrics  Metrics
	logger   Logger
	clock    Clock
	idgen    IDGenerator

	writeMu sync.Mutex
}

// NewService creates a Service with the provided dependencies. A nil
// metrics recorder discards measurements.
func NewService(database Database, people PersonStore, resolver Resolver, settings Settings, metrics Metrics, logger Logger, clock Clock, idgen IDGenerator) *Service {
	if metrics == nil {
		metrics = NopMetrics{}
	}
	if settings.AutoAcceptConfidence <= 0 {
		settings.AutoAcceptConfidence = DefaultSettings().AutoAcceptConfidence
	}
	settings.Scoring = settings.Scoring.WithDefaults()
	return &Service{
		database: database,
		people:   people,
		resolver: resolver,
		settings: settings,
		metrics:  metrics,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
	}
}

// Resolve runs the resolver without recording an observation. Used by the
// CLI and API to answer "who is this?"; with DryRun set nothing is written.
func (s *Service) Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error) {
	if !req.DryRun {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
	}
	res, err := s.resolver.Resolve(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("resolving: %w", err)
	}
	s.metrics.ResolutionDecided(res.Outcome, res.Reason)
	return res, nil
}

// atomically runs fn as one unit over both stores. Person writes sit in a
// batch around the database transaction, so a failed step or a failed commit
// undoes both sides and no observation can point at a person that was rolled
// back. Caller holds writeMu.
func (s *Service) atomically(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.people.Batch(ctx, func(ctx context.Context) error {
		return s.database.InTx(ctx, fn)
	})
}

// refreshPersonLocked recomputes a person's derived counters from the
// interaction and source entity stores. Counters are never incremented in
// place, so re-running a sync cannot make them drift. Caller holds writeMu.
func (s *Service) refreshPersonLocked(ctx context.Context, personID string) (*PersonEntity, error) {
	p, err := s.people.GetByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("loading person: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("person %s: %w", personID, ErrNotFound)
	}

	counts, err := s.database.GetInteractionCounts(ctx, personID, time.Time{})
	if err != nil {
		return nil, err
	}
	p.EmailCount, p.MeetingCount, p.MentionCount, p.MessageCount = 0, 0, 0, 0
	for st, n := range counts {
		switch st {
		case SourceEmail:
			p.EmailCount += n
		case SourceCalendar:
			p.MeetingCount += n
		case SourceNoteMention:
			p.MentionCount += n
		default:
			p.MessageCount += n
		}
	}

	sources, err := s.database.ListSourceEntitiesForPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	p.SourceCount = len(sources)
	p.ConfidenceScore = 0
	if len(sources) > 0 {
		var sum float64
		for _, e := range sources {
			sum += e.LinkConfidence
		}
		p.ConfidenceScore = sum / float64(len(sources))
	}

	p.UpdatedAt = s.clock.Now()
	if err := s.people.Upsert(ctx, p); err != nil {
		return nil, fmt.Errorf("saving person counters: %w", err)
	}
	return p, nil
}
