// Package resolver decides which canonical person an observation belongs to.
//
// Resolution runs in three passes: exact email/phone lookup, name candidate
// scoring with hard disqualifiers, then acceptance or disambiguation of the
// retained candidates.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"

	"kin-go/internal/kin"
	"kin-go/internal/normalize"
)

// Resolver implements kin.Resolver over a PersonStore.
type Resolver struct {
	people kin.PersonStore
	opts   Options
	logger kin.Logger
	clock  kin.Clock
	idgen  kin.IDGenerator
}

// New creates a Resolver. Zero option fields take their defaults.
func New(people kin.PersonStore, opts Options, logger kin.Logger, clock kin.Clock, idgen kin.IDGenerator) *Resolver {
	return &Resolver{
		people: people,
		opts:   opts.WithDefaults(),
		logger: logger,
		clock:  clock,
		idgen:  idgen,
	}
}

// signals holds the normalized identifiers of a request.
type signals struct {
	email string
	phone string
	name  Name
}

// normalizeSignals normalizes the request's identifiers. Malformed values
// are logged and dropped.
func (r *Resolver) normalizeSignals(req kin.ResolveRequest) signals {
	var s signals
	email, err := normalize.Email(req.Email)
	if err != nil {
		r.logger.Warn("dropping malformed email", "error", &kin.InputError{Field: "email", Value: req.Email, Reason: err.Error()})
	}
	s.email = email

	phone, err := normalize.Phone(req.Phone, r.opts.DefaultRegion)
	if err != nil {
		r.logger.Warn("dropping malformed phone", "error", &kin.InputError{Field: "phone", Value: req.Phone, Reason: err.Error()})
	}
	s.phone = phone

	s.name = ParseName(req.Name)
	return s
}

// Resolve runs the three passes for one request.
func (r *Resolver) Resolve(ctx context.Context, req kin.ResolveRequest) (*kin.Resolution, error) {
	if req.DryRun {
		req.CreateIfMissing = false
	}
	sig := r.normalizeSignals(req)

	// Pass 1: exact identifiers are authoritative.
	if sig.email != "" {
		p, err := r.people.GetByEmail(ctx, sig.email)
		if err != nil {
			return nil, fmt.Errorf("looking up email: %w", err)
		}
		if p != nil {
			return r.accept(ctx, p, req, sig, 1.0, kin.ReasonEmailExact, nil)
		}
	}
	if sig.phone != "" {
		p, err := r.people.GetByPhone(ctx, sig.phone)
		if err != nil {
			return nil, fmt.Errorf("looking up phone: %w", err)
		}
		if p != nil {
			return r.accept(ctx, p, req, sig, 1.0, kin.ReasonPhoneExact, nil)
		}
	}

	if sig.name.IsZero() {
		if sig.email == "" && sig.phone == "" {
			r.logger.Debug("no identity signals", "source_type", req.SourceType)
			return &kin.Resolution{Outcome: kin.OutcomeNone}, nil
		}
		return r.createOrNone(ctx, req, sig, nil, nil)
	}

	// Pass 2: structured name candidates.
	all, err := r.people.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading candidates: %w", err)
	}
	cands := r.candidates(sig.name, all, req, r.clock.Now())

	// Pass 3: acceptance and disambiguation.
	if sig.name.FirstOnly() {
		return r.decideFirstName(ctx, req, sig, cands)
	}
	return r.decide(ctx, req, sig, cands)
}

func (r *Resolver) qualifying(cands []kin.ScoredCandidate) []kin.ScoredCandidate {
	var out []kin.ScoredCandidate
	for _, c := range cands {
		if c.Score >= r.opts.MinMatchScore {
			out = append(out, c)
		}
	}
	return out
}

// decide applies the generic acceptance rule.
func (r *Resolver) decide(ctx context.Context, req kin.ResolveRequest, sig signals, cands []kin.ScoredCandidate) (*kin.Resolution, error) {
	qualified := r.qualifying(cands)
	switch len(qualified) {
	case 0:
		return r.createOrNone(ctx, req, sig, nil, cands)
	case 1:
		return r.acceptName(ctx, qualified[0], req, sig, 1, cands)
	}

	top, second := qualified[0], qualified[1]
	if top.Score-second.Score >= r.opts.DisambiguationThreshold {
		return r.acceptName(ctx, top, req, sig, 1, cands)
	}

	// Too close to call.
	if req.CreateIfMissing {
		return r.createOrNone(ctx, req, sig, top.Person, cands)
	}
	return r.acceptName(ctx, top, req, sig, r.opts.ReducedConfidenceFactor, cands)
}

// decideFirstName applies the tie-breaking rules for a bare first name.
// It refuses to guess: close candidates yield an ambiguous result.
func (r *Resolver) decideFirstName(ctx context.Context, req kin.ResolveRequest, sig signals, cands []kin.ScoredCandidate) (*kin.Resolution, error) {
	if len(cands) == 1 {
		only := cands[0]
		only.Score += r.opts.UniquenessBonus
		if only.Score >= r.opts.MinMatchScore {
			return r.acceptName(ctx, only, req, sig, 1, []kin.ScoredCandidate{only})
		}
		return r.createOrNone(ctx, req, sig, nil, cands)
	}
	if len(cands) == 0 || cands[0].Score < r.opts.MinMatchScore {
		return r.createOrNone(ctx, req, sig, nil, cands)
	}

	top, second := cands[0], cands[1]
	if top.Score-second.Score >= r.opts.FirstNameLead {
		return r.acceptName(ctx, top, req, sig, 1, cands)
	}

	var strong []kin.ScoredCandidate
	for _, c := range cands {
		if top.Score-c.Score >= r.opts.FirstNameLead {
			break
		}
		if c.Person.RelationshipStrength >= r.opts.StrongRelationship {
			strong = append(strong, c)
		}
	}
	if len(strong) == 1 && strong[0].Score >= r.opts.MinMatchScore {
		return r.acceptName(ctx, strong[0], req, sig, 1, cands)
	}

	r.logger.Info("ambiguous first-name match", "name", req.Name, "candidates", len(cands))
	return &kin.Resolution{
		Outcome:    kin.OutcomeAmbiguous,
		Confidence: nameConfidence(top.Score) * r.opts.ReducedConfidenceFactor,
		Reason:     kin.ReasonNameMatch,
		Candidates: cands,
	}, nil
}

// nameConfidence maps a candidate score to a confidence below exact-match certainty.
func nameConfidence(score float64) float64 {
	return math.Min(0.99, score/100)
}

func (r *Resolver) acceptName(ctx context.Context, c kin.ScoredCandidate, req kin.ResolveRequest, sig signals, factor float64, cands []kin.ScoredCandidate) (*kin.Resolution, error) {
	return r.accept(ctx, c.Person, req, sig, nameConfidence(c.Score)*factor, kin.ReasonNameMatch, cands)
}

// accept returns a match. The request is folded into the matched person
// only when the match is strong enough to stand without review.
func (r *Resolver) accept(ctx context.Context, p *kin.PersonEntity, req kin.ResolveRequest, sig signals, confidence float64, reason kin.MatchReason, cands []kin.ScoredCandidate) (*kin.Resolution, error) {
	res := &kin.Resolution{
		Outcome:    kin.OutcomeMatched,
		Person:     p,
		Confidence: confidence,
		Reason:     reason,
		Candidates: cands,
	}
	if req.DryRun || confidence < r.opts.AutoAcceptConfidence {
		return res, nil
	}
	updated, err := r.absorb(ctx, p, req, sig)
	if err != nil {
		return nil, err
	}
	res.Person = updated
	return res, nil
}

// createOrNone creates a new person when allowed, otherwise reports no match.
// A non-nil competitor means the new person is split from a close existing match.
func (r *Resolver) createOrNone(ctx context.Context, req kin.ResolveRequest, sig signals, competitor *kin.PersonEntity, cands []kin.ScoredCandidate) (*kin.Resolution, error) {
	if !req.CreateIfMissing {
		return &kin.Resolution{Outcome: kin.OutcomeNone, Candidates: cands}, nil
	}
	p, err := r.create(ctx, req, sig, competitor)
	if err != nil {
		return nil, err
	}
	confidence := 1.0
	if competitor != nil {
		confidence = nameConfidence(cands[0].Score) * r.opts.ReducedConfidenceFactor
	}
	return &kin.Resolution{
		Outcome:    kin.OutcomeCreated,
		Person:     p,
		Confidence: confidence,
		Reason:     kin.ReasonNewEntity,
		Competitor: competitor,
		Candidates: cands,
	}, nil
}

// Absorb folds a request into an existing person.
func (r *Resolver) Absorb(ctx context.Context, personID string, req kin.ResolveRequest) (*kin.PersonEntity, error) {
	p, err := r.people.GetByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("loading person: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("person %s: %w", personID, kin.ErrNotFound)
	}
	return r.absorb(ctx, p, req, r.normalizeSignals(req))
}

// Release removes the request's email and phone from a person so another
// person can take them.
func (r *Resolver) Release(ctx context.Context, personID string, req kin.ResolveRequest) (*kin.PersonEntity, error) {
	p, err := r.people.GetByID(ctx, personID)
	if err != nil {
		return nil, fmt.Errorf("loading person: %w", err)
	}
	if p == nil {
		return nil, fmt.Errorf("person %s: %w", personID, kin.ErrNotFound)
	}
	sig := r.normalizeSignals(req)
	up := p.Clone()
	up.Emails = slices.DeleteFunc(up.Emails, func(e string) bool { return sig.email != "" && e == sig.email })
	up.PhoneNumbers = slices.DeleteFunc(up.PhoneNumbers, func(ph string) bool { return sig.phone != "" && ph == sig.phone })
	if len(up.Emails) == len(p.Emails) && len(up.PhoneNumbers) == len(p.PhoneNumbers) {
		return p, nil
	}
	up.UpdatedAt = r.clock.Now()
	if err := r.people.Upsert(ctx, up); err != nil {
		return nil, fmt.Errorf("saving person: %w", err)
	}
	r.logger.Info("identifiers released", "person_id", up.ID, "email", sig.email, "phone", sig.phone)
	return up, nil
}

// CreatePerson makes a person from the request's observed fields.
func (r *Resolver) CreatePerson(ctx context.Context, req kin.ResolveRequest) (*kin.PersonEntity, error) {
	return r.create(ctx, req, r.normalizeSignals(req), nil)
}

// ownedElsewhere reports whether an identifier already belongs to a person other than selfID.
func (r *Resolver) ownedElsewhere(ctx context.Context, field, value, selfID string) (bool, error) {
	var owner *kin.PersonEntity
	var err error
	if field == "email" {
		owner, err = r.people.GetByEmail(ctx, value)
	} else {
		owner, err = r.people.GetByPhone(ctx, value)
	}
	if err != nil {
		return false, fmt.Errorf("looking up %s owner: %w", field, err)
	}
	if owner == nil || owner.ID == selfID {
		return false, nil
	}
	r.logger.Warn("identifier already owned, skipping",
		"error", &kin.ConflictError{Field: field, Value: value, ExistingID: owner.ID}, "person_id", selfID)
	return true, nil
}

// upsert writes a person. A conflict detected by the store is logged and
// the previous state returned, so one bad identifier never fails a resolution.
func (r *Resolver) upsert(ctx context.Context, p, previous *kin.PersonEntity) (*kin.PersonEntity, error) {
	err := r.people.Upsert(ctx, p)
	var conflict *kin.ConflictError
	if errors.As(err, &conflict) && previous != nil {
		r.logger.Warn("person update rejected", "person_id", p.ID, "error", err)
		return previous, nil
	}
	if err != nil {
		return nil, fmt.Errorf("saving person: %w", err)
	}
	return p, nil
}
