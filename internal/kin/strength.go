package kin

import (
	"context"
	"fmt"
	"math"
	"time"

	"kin-go/internal/scoring"
)

// StrengthScale converts scorer output in [0,1] to the cached 0-100 value.
const StrengthScale = 100

// RefreshStrengths recomputes the cached relationship strength of every
// person. Strength is derived state; this is the only place it is written.
func (s *Service) RefreshStrengths(ctx context.Context) (SyncReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var report SyncReport
	all, err := s.people.GetAll(ctx)
	if err != nil {
		return report, err
	}
	err = s.people.Batch(ctx, func(ctx context.Context) error {
		for _, p := range all {
			if err := ctx.Err(); err != nil {
				return err
			}
			changed, err := s.refreshStrengthLocked(ctx, p)
			if err != nil {
				report.Fail("", p.ID, err)
				continue
			}
			if changed {
				report.Updated++
			} else {
				report.Skipped++
			}
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("refreshing strengths: %w", err)
	}
	s.logger.Info("strengths refreshed", "people", len(all), "updated", report.Updated)
	return report, nil
}

// RefreshDerived recomputes one person's counters and strength.
func (s *Service) RefreshDerived(ctx context.Context, personID string) (*PersonEntity, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	p, err := s.refreshPersonLocked(ctx, personID)
	if err != nil {
		return nil, err
	}
	if _, err := s.refreshStrengthLocked(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// History summarizes a person's interactions for the scorer.
func (s *Service) History(ctx context.Context, personID string) (scoring.History, error) {
	var h scoring.History
	last, err := s.database.GetLastInteractionBySource(ctx, personID)
	if err != nil {
		return h, err
	}
	if len(last) == 0 {
		return h, nil
	}

	now := s.clock.Now()
	var latest time.Time
	for _, t := range last {
		if t.After(latest) {
			latest = t
		}
	}
	window := time.Duration(s.settings.Scoring.FrequencyWindowDays) * 24 * time.Hour
	counts, err := s.database.GetInteractionCounts(ctx, personID, now.Add(-window))
	if err != nil {
		return h, err
	}

	h.HasInteractions = true
	h.DaysSinceLast = now.Sub(latest).Hours() / 24
	h.DistinctSources = len(last)
	for _, n := range counts {
		h.InteractionsInWindow += n
	}
	return h, nil
}

// refreshStrengthLocked stores the person's strength when it changed. p is
// updated in place. Caller holds writeMu.
func (s *Service) refreshStrengthLocked(ctx context.Context, p *PersonEntity) (bool, error) {
	h, err := s.History(ctx, p.ID)
	if err != nil {
		return false, err
	}
	strength := math.Round(scoring.Strength(s.settings.Scoring, h)*StrengthScale*100) / 100
	if strength == p.RelationshipStrength {
		return false, nil
	}
	p.RelationshipStrength = strength
	p.UpdatedAt = s.clock.Now()
	if err := s.people.Upsert(ctx, p); err != nil {
		return false, fmt.Errorf("saving strength: %w", err)
	}
	return true, nil
}
