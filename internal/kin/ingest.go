package kin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// IngestAction is what ingesting one observation did.
type IngestAction string

const (
	ActionCreated  IngestAction = "created"
	ActionUpdated  IngestAction = "updated"
	ActionSkipped  IngestAction = "skipped"
	ActionPending  IngestAction = "pending"
	ActionOrphaned IngestAction = "orphaned"
)

// maxSnippetRunes bounds the stored preview. Full content is never kept.
const maxSnippetRunes = 200

// IngestResult describes the outcome of one observation.
type IngestResult struct {
	Action       IngestAction  `json:"action"`
	SourceEntity *SourceEntity `json:"source_entity"`
	Resolution   *Resolution   `json:"resolution,omitempty"`
	// PendingLink is set when the decision was raised for review.
	PendingLink *PendingLink `json:"pending_link,omitempty"`
}

// ItemError is a per-item failure collected into a SyncReport. Adapter is
// set for fetch failures, SourceType and SourceID for observation failures.
type ItemError struct {
	Adapter    string
	SourceType SourceType
	SourceID   string
	Err        error
}

func (e ItemError) Error() string {
	if e.Adapter != "" && e.SourceID == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s/%s: %v", e.SourceType, e.SourceID, e.Err)
}

func (e ItemError) Unwrap() error { return e.Err }

func (e ItemError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Adapter    string     `json:"adapter,omitempty"`
		SourceType SourceType `json:"source_type,omitempty"`
		SourceID   string     `json:"source_id,omitempty"`
		Error      string     `json:"error"`
	}{e.Adapter, e.SourceType, e.SourceID, e.Err.Error()})
}

// SyncReport counts what a sync trigger did. Partial data problems land in
// Errors; they never fail the trigger.
type SyncReport struct {
	Created  int         `json:"created"`
	Updated  int         `json:"updated"`
	Skipped  int         `json:"skipped"`
	Pending  int         `json:"pending"`
	Orphaned int         `json:"orphaned"`
	Errors   []ItemError `json:"errors"`
}

// Record counts one ingest result.
func (r *SyncReport) Record(res *IngestResult) {
	switch res.Action {
	case ActionCreated:
		r.Created++
	case ActionUpdated:
		r.Updated++
	case ActionSkipped:
		r.Skipped++
	case ActionOrphaned:
		r.Orphaned++
	}
	if res.PendingLink != nil {
		r.Pending++
	}
}

// Fail records a per-item error.
func (r *SyncReport) Fail(sourceType SourceType, sourceID string, err error) {
	r.Errors = append(r.Errors, ItemError{SourceType: sourceType, SourceID: sourceID, Err: err})
}

// FailAdapter records a failed or partial adapter fetch.
func (r *SyncReport) FailAdapter(adapter string, err error) {
	r.Errors = append(r.Errors, ItemError{Adapter: adapter, Err: err})
}

// Merge adds o's counts and errors to r.
func (r *SyncReport) Merge(o SyncReport) {
	r.Created += o.Created
	r.Updated += o.Updated
	r.Skipped += o.Skipped
	r.Pending += o.Pending
	r.Orphaned += o.Orphaned
	r.Errors = append(r.Errors, o.Errors...)
}

// Ingest persists one observation, resolves it and records its interaction.
func (s *Service) Ingest(ctx context.Context, obs Observation) (*IngestResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.ingestAtomically(ctx, obs)
}

// IngestAll ingests observations in order under one writer lock, writing the
// person snapshot once at the end. Each observation commits on its own, so a
// cancelled context keeps the ones already processed and stops before the
// next. Per-item failures are collected in the report; only cancellation or
// a failed snapshot write returns an error.
func (s *Service) IngestAll(ctx context.Context, observations []Observation) (SyncReport, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var report SyncReport
	err := s.people.Batch(context.WithoutCancel(ctx), func(context.Context) error {
		for _, obs := range observations {
			if ctx.Err() != nil {
				break
			}
			res, err := s.ingestAtomically(ctx, obs)
			if err != nil {
				report.Fail(obs.SourceType, obs.SourceID, err)
				continue
			}
			report.Record(res)
		}
		return nil
	})
	if err != nil {
		return report, fmt.Errorf("ingesting observations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return report, fmt.Errorf("ingesting observations: %w", err)
	}
	return report, nil
}

func (s *Service) ingestAtomically(ctx context.Context, obs Observation) (*IngestResult, error) {
	var res *IngestResult
	err := s.atomically(ctx, func(ctx context.Context) error {
		var err error
		res, err = s.ingestLocked(ctx, obs)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.metrics.ObservationIngested(obs.SourceType, res.Action)
	return res, nil
}

func (s *Service) ingestLocked(ctx context.Context, obs Observation) (*IngestResult, error) {
	if err := checkObservation(obs); err != nil {
		s.logger.Warn("observation rejected", "source_type", obs.SourceType, "source_id", obs.SourceID, "error", err)
		return nil, err
	}

	existing, err := s.database.FindSourceEntity(ctx, obs.SourceType, obs.SourceID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := s.healInteraction(ctx, existing); err != nil {
			return nil, err
		}
		return &IngestResult{Action: ActionSkipped, SourceEntity: existing}, nil
	}

	res, err := s.resolver.Resolve(ctx, RequestFromObservation(obs))
	if err != nil {
		return nil, fmt.Errorf("resolving %s/%s: %w", obs.SourceType, obs.SourceID, err)
	}
	s.metrics.ResolutionDecided(res.Outcome, res.Reason)

	now := s.clock.Now()
	entity := &SourceEntity{
		ID:            s.idgen.New(),
		SourceType:    obs.SourceType,
		SourceID:      obs.SourceID,
		ObservedName:  obs.ObservedName,
		ObservedEmail: obs.ObservedEmail,
		ObservedPhone: obs.ObservedPhone,
		ContextPath:   obs.ContextPath,
		ObservedAt:    obs.ObservedAt,
		Metadata:      obs.Metadata,
		LinkStatus:    LinkUnlinked,
		CreatedAt:     now,
	}
	result := &IngestResult{SourceEntity: entity, Resolution: res}

	var pending *PendingLink
	switch res.Outcome {
	case OutcomeMatched, OutcomeCreated:
		entity.CanonicalPersonID = res.Person.ID
		entity.LinkConfidence = res.Confidence
		entity.LinkStatus = LinkAuto
		entity.LinkedAt = &now
		result.Action = ActionUpdated
		if res.Outcome == OutcomeCreated {
			result.Action = ActionCreated
		}
		switch {
		case res.Competitor != nil:
			pending = s.newPendingLink(entity, res.Competitor.ID, res.Person.ID, PendingNewEntity, res.Confidence)
		case res.Confidence < s.settings.AutoAcceptConfidence:
			pending = s.newPendingLink(entity, "", res.Person.ID, res.Reason.PendingReason(), res.Confidence)
		}
	case OutcomeAmbiguous:
		// Held unlinked until someone picks a candidate.
		entity.LinkConfidence = res.Confidence
		result.Action = ActionPending
		pending = s.newPendingLink(entity, "", res.Candidates[0].Person.ID, PendingNameMatch, res.Confidence)
	default:
		result.Action = ActionOrphaned
		s.logger.Warn("observation orphaned: no usable identity signals",
			"source_type", obs.SourceType, "source_id", obs.SourceID)
	}

	if err := s.database.CreateSourceEntity(ctx, entity); err != nil {
		return nil, err
	}
	if pending != nil {
		if err := s.database.CreatePendingLink(ctx, pending); err != nil {
			return nil, err
		}
		result.PendingLink = pending
		s.logger.Info("pending link raised", "pending_id", pending.ID, "source_type", obs.SourceType,
			"source_id", obs.SourceID, "person_id", pending.ProposedCanonicalID, "reason", pending.Reason,
			"confidence", pending.Confidence)
	}

	if entity.Linked() {
		if _, err := s.database.AddInteractionIfNotExists(ctx, s.interactionFor(entity)); err != nil {
			return nil, err
		}
		if _, err := s.refreshPersonLocked(ctx, entity.CanonicalPersonID); err != nil {
			return nil, err
		}
	}

	s.logger.Debug("observation ingested", "source_type", obs.SourceType, "source_id", obs.SourceID,
		"action", result.Action, "person_id", entity.CanonicalPersonID)
	return result, nil
}

// healInteraction makes sure a linked observation from an interrupted run
// has its interaction. A re-run of unchanged data inserts nothing here.
func (s *Service) healInteraction(ctx context.Context, e *SourceEntity) error {
	if !e.Linked() {
		return nil
	}
	inserted, err := s.database.AddInteractionIfNotExists(ctx, s.interactionFor(e))
	if err != nil {
		return err
	}
	if inserted {
		s.logger.Info("restored missing interaction", "source_type", e.SourceType, "source_id", e.SourceID)
		if _, err := s.refreshPersonLocked(ctx, e.CanonicalPersonID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

func (s *Service) newPendingLink(e *SourceEntity, previous, proposed string, reason PendingReason, confidence float64) *PendingLink {
	return &PendingLink{
		ID:                  s.idgen.New(),
		SourceEntityID:      e.ID,
		PreviousCanonicalID: previous,
		ProposedCanonicalID: proposed,
		Reason:              reason,
		Confidence:          confidence,
		Status:              PendingOpen,
		CreatedAt:           s.clock.Now(),
	}
}

// interactionFor builds the touchpoint for a linked observation: metadata
// and a link back, never the content.
func (s *Service) interactionFor(e *SourceEntity) *Interaction {
	title := e.Metadata[MetaTitle]
	if title == "" {
		who := e.ObservedName
		if who == "" {
			who = firstNonEmpty(e.ObservedEmail, e.ObservedPhone)
		}
		title = fmt.Sprintf("%s with %s", e.SourceType, who)
	}
	return &Interaction{
		ID:         s.idgen.New(),
		PersonID:   e.CanonicalPersonID,
		Timestamp:  e.ObservedAt,
		SourceType: e.SourceType,
		Title:      title,
		Snippet:    truncateRunes(strings.TrimSpace(e.Metadata[MetaSnippet]), maxSnippetRunes),
		SourceLink: e.Metadata[MetaLink],
		SourceID:   e.SourceID,
	}
}

func checkObservation(obs Observation) error {
	switch {
	case obs.SourceType == "":
		return &InputError{Field: "source_type", Reason: "missing"}
	case !obs.SourceType.IsKnown():
		return &InputError{Field: "source_type", Value: string(obs.SourceType), Reason: "unknown source type"}
	case strings.TrimSpace(obs.SourceID) == "":
		return &InputError{Field: "source_id", Reason: "missing"}
	case obs.ObservedAt.IsZero():
		return &InputError{Field: "observed_at", Reason: "missing"}
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
