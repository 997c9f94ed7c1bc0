package kin

import (
	"context"
	"errors"
	"fmt"
)

// PendingDetail is a pending link with the records it points at, for review.
type PendingDetail struct {
	Link         *PendingLink  `json:"link"`
	SourceEntity *SourceEntity `json:"source_entity"`
	Proposed     *PersonEntity `json:"proposed,omitempty"`
	Previous     *PersonEntity `json:"previous,omitempty"`
}

// PendingOutcome is the state after a confirm or reject. Person is nil when
// the observation was orphaned.
type PendingOutcome struct {
	Link         *PendingLink  `json:"link"`
	SourceEntity *SourceEntity `json:"source_entity"`
	Person       *PersonEntity `json:"person,omitempty"`
}

// ListPending returns pending links with their source entity and persons.
func (s *Service) ListPending(ctx context.Context, q PendingQuery) ([]*PendingDetail, error) {
	links, err := s.database.ListPendingLinks(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]*PendingDetail, 0, len(links))
	for _, l := range links {
		d := &PendingDetail{Link: l}
		if d.SourceEntity, err = s.database.GetSourceEntity(ctx, l.SourceEntityID); err != nil {
			return nil, err
		}
		if d.Proposed, err = s.people.GetByID(ctx, l.ProposedCanonicalID); err != nil {
			return nil, err
		}
		if l.PreviousCanonicalID != "" {
			if d.Previous, err = s.people.GetByID(ctx, l.PreviousCanonicalID); err != nil {
				return nil, err
			}
		}
		out = append(out, d)
	}
	return out, nil
}

// Confirm accepts a pending link: the observation is linked to the proposed
// person at full confidence and folded into it.
func (s *Service) Confirm(ctx context.Context, id, resolvedBy string) (*PendingOutcome, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	l, e, err := s.openPending(ctx, id)
	if err != nil {
		return nil, err
	}
	from := e.CanonicalPersonID
	to := l.ProposedCanonicalID

	var out *PendingOutcome
	err = s.atomically(ctx, func(ctx context.Context) error {
		if _, err := s.resolver.Absorb(ctx, to, requestForEntity(e)); err != nil {
			return fmt.Errorf("absorbing into %s: %w", to, err)
		}
		now := s.clock.Now()
		link := SourceLink{PersonID: to, Confidence: 1, Status: LinkConfirmed, LinkedAt: &now}
		if err := s.relink(ctx, e, link, from); err != nil {
			return err
		}
		if err := s.database.ResolvePendingLink(ctx, id, PendingConfirmed, resolvedBy, now); err != nil {
			return err
		}
		p, err := s.refreshMoved(ctx, from, to)
		if err != nil {
			return err
		}
		out, err = s.outcome(ctx, id, e.ID, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("confirming pending link %s: %w", id, err)
	}

	s.metrics.PendingResolved(PendingConfirmed)
	s.logger.Info("pending link confirmed", "pending_id", id, "source_type", e.SourceType,
		"source_id", e.SourceID, "person_id", to, "resolved_by", resolvedBy)
	return out, nil
}

// Reject refuses a pending link. With createNew the observation seeds a new
// person. Otherwise it returns to the person it was split from, or, when
// there is none, is orphaned: unlinked, its interaction removed, and logged.
// A split person left with no other observation hands the observation's
// email and phone on, so whoever the observation ends up with can own them.
func (s *Service) Reject(ctx context.Context, id string, createNew bool, resolvedBy string) (*PendingOutcome, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	l, e, err := s.openPending(ctx, id)
	if err != nil {
		return nil, err
	}
	from := e.CanonicalPersonID
	req := requestForEntity(e)

	var out *PendingOutcome
	err = s.atomically(ctx, func(ctx context.Context) error {
		if l.PreviousCanonicalID != "" && from != "" && from == l.ProposedCanonicalID {
			if err := s.releaseSplit(ctx, from, e); err != nil {
				return err
			}
		}

		now := s.clock.Now()
		link := SourceLink{Status: LinkRejected}
		switch {
		case createNew:
			p, err := s.resolver.CreatePerson(ctx, req)
			if err != nil {
				return fmt.Errorf("creating person: %w", err)
			}
			link.PersonID, link.Confidence, link.LinkedAt = p.ID, 1, &now
		case l.PreviousCanonicalID != "":
			if _, err := s.resolver.Absorb(ctx, l.PreviousCanonicalID, req); err != nil {
				return fmt.Errorf("absorbing into %s: %w", l.PreviousCanonicalID, err)
			}
			link.PersonID, link.Confidence, link.LinkedAt = l.PreviousCanonicalID, e.LinkConfidence, &now
		}

		if err := s.relink(ctx, e, link, from); err != nil {
			return err
		}
		if err := s.database.ResolvePendingLink(ctx, id, PendingRejected, resolvedBy, now); err != nil {
			return err
		}
		p, err := s.refreshMoved(ctx, from, link.PersonID)
		if err != nil {
			return err
		}
		out, err = s.outcome(ctx, id, e.ID, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("rejecting pending link %s: %w", id, err)
	}

	s.metrics.PendingResolved(PendingRejected)
	if out.Person == nil {
		s.logger.Warn("observation orphaned after rejection", "pending_id", id,
			"source_type", e.SourceType, "source_id", e.SourceID, "person_id", from, "resolved_by", resolvedBy)
	} else {
		s.logger.Info("pending link rejected", "pending_id", id, "source_type", e.SourceType,
			"source_id", e.SourceID, "person_id", out.Person.ID, "create_new", createNew, "resolved_by", resolvedBy)
	}
	return out, nil
}

// releaseSplit strips e's identifiers from the person split off for it,
// unless another observation still ties them to that person.
func (s *Service) releaseSplit(ctx context.Context, personID string, e *SourceEntity) error {
	linked, err := s.database.ListSourceEntitiesForPerson(ctx, personID)
	if err != nil {
		return err
	}
	for _, other := range linked {
		if other.ID != e.ID {
			return nil
		}
	}
	if _, err := s.resolver.Release(ctx, personID, requestForEntity(e)); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("releasing identifiers of %s: %w", personID, err)
	}
	return nil
}

// openPending loads a link that is still pending and its source entity.
func (s *Service) openPending(ctx context.Context, id string) (*PendingLink, *SourceEntity, error) {
	l, err := s.database.GetPendingLink(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if l == nil {
		return nil, nil, fmt.Errorf("pending link %s: %w", id, ErrNotFound)
	}
	if l.Status != PendingOpen {
		return nil, nil, fmt.Errorf("pending link %s is already %s: %w", id, l.Status, ErrConflict)
	}
	e, err := s.database.GetSourceEntity(ctx, l.SourceEntityID)
	if err != nil {
		return nil, nil, err
	}
	if e == nil {
		return nil, nil, fmt.Errorf("source entity %s: %w", l.SourceEntityID, ErrNotFound)
	}
	return l, e, nil
}

// relink rewrites the entity's link and moves its interaction from the
// previous owner to the new one. An empty link.PersonID drops the interaction.
func (s *Service) relink(ctx context.Context, e *SourceEntity, link SourceLink, from string) error {
	if err := s.database.UpdateSourceLink(ctx, e.ID, link); err != nil {
		return err
	}
	to := link.PersonID
	if to == "" {
		if from == "" {
			return nil
		}
		return s.database.DeleteInteraction(ctx, e.SourceType, e.SourceID)
	}
	if from != "" && from != to {
		err := s.database.ReassignInteraction(ctx, e.SourceType, e.SourceID, to)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	moved := *e
	moved.CanonicalPersonID = to
	_, err := s.database.AddInteractionIfNotExists(ctx, s.interactionFor(&moved))
	return err
}

// refreshMoved recomputes both ends of a move and returns the new owner.
func (s *Service) refreshMoved(ctx context.Context, from, to string) (*PersonEntity, error) {
	if from != "" && from != to {
		if _, err := s.refreshPersonLocked(ctx, from); err != nil && !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	if to == "" {
		return nil, nil
	}
	return s.refreshPersonLocked(ctx, to)
}

func (s *Service) outcome(ctx context.Context, linkID, entityID string, p *PersonEntity) (*PendingOutcome, error) {
	l, err := s.database.GetPendingLink(ctx, linkID)
	if err != nil {
		return nil, err
	}
	e, err := s.database.GetSourceEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}
	return &PendingOutcome{Link: l, SourceEntity: e, Person: p}, nil
}

// requestForEntity rebuilds a resolve request from a stored observation.
func requestForEntity(e *SourceEntity) ResolveRequest {
	req := RequestFromObservation(e.Observation())
	req.CreateIfMissing = false
	return req
}
