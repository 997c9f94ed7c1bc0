package kin

import (
	"context"
	"time"
)

// Outcome is the result class of a resolution.
type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeCreated   Outcome = "created"
	OutcomeAmbiguous Outcome = "ambiguous"
	OutcomeNone      Outcome = "none"
)

// MatchReason says which signal decided a resolution.
type MatchReason string

const (
	ReasonEmailExact MatchReason = "email_exact"
	ReasonPhoneExact MatchReason = "phone_exact"
	ReasonNameMatch  MatchReason = "name_match"
	ReasonNewEntity  MatchReason = "new_entity"
)

// PendingReason maps a match reason onto the pending-link vocabulary.
func (r MatchReason) PendingReason() PendingReason {
	switch r {
	case ReasonEmailExact:
		return PendingEmailMatch
	case ReasonPhoneExact:
		return PendingPhoneMatch
	case ReasonNewEntity:
		return PendingNewEntity
	}
	return PendingNameMatch
}

// ResolveRequest is the input to a resolution. Any identity field may be empty.
type ResolveRequest struct {
	Name        string
	Email       string
	Phone       string
	ContextPath string
	SourceType  SourceType
	ObservedAt  time.Time
	Metadata    map[string]string

	CreateIfMissing bool
	// DryRun reports what would happen without touching the person store.
	DryRun bool
}

// RequestFromObservation builds a create-if-missing request for an observation.
func RequestFromObservation(o Observation) ResolveRequest {
	return ResolveRequest{
		Name:            o.ObservedName,
		Email:           o.ObservedEmail,
		Phone:           o.ObservedPhone,
		ContextPath:     o.ContextPath,
		SourceType:      o.SourceType,
		ObservedAt:      o.ObservedAt,
		Metadata:        o.Metadata,
		CreateIfMissing: true,
	}
}

// ScoredCandidate is a person retained by name scoring.
type ScoredCandidate struct {
	Person *PersonEntity `json:"person"`
	Score  float64       `json:"score"`
}

// Resolution is the resolver's decision for one request.
type Resolution struct {
	Outcome    Outcome       `json:"outcome"`
	Person     *PersonEntity `json:"person,omitempty"`
	Confidence float64       `json:"confidence"`
	Reason     MatchReason   `json:"reason,omitempty"`
	// Competitor is the close existing match a disambiguated person was split from.
	Competitor *PersonEntity `json:"competitor,omitempty"`
	// Candidates holds the retained name candidates, best first.
	Candidates []ScoredCandidate `json:"candidates,omitempty"`
}

// Resolver maps identity signals onto canonical persons. It owns person
// creation and the accretive updates applied when a match is accepted.
// Matches below the auto-accept bar leave the person untouched.
type Resolver interface {
	Resolve(ctx context.Context, req ResolveRequest) (*Resolution, error)

	// Absorb folds the request's identifiers, alias, context and sighting
	// time into an existing person. Identifiers owned by someone else are skipped.
	Absorb(ctx context.Context, personID string, req ResolveRequest) (*PersonEntity, error)

	// Release removes the request's email and phone from a person.
	Release(ctx context.Context, personID string, req ResolveRequest) (*PersonEntity, error)

	// CreatePerson makes a new person from the request's observed fields.
	CreatePerson(ctx context.Context, req ResolveRequest) (*PersonEntity, error)
}
