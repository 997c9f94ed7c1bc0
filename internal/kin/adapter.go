package kin

import (
	"context"
	"time"
)

// Adapter pulls observations from one upstream channel.
//
// Fetch returns observations seen since the given time. When ctx expires
// mid-fetch it returns what it has collected so far together with the
// context error, so the orchestrator can keep partial results.
type Adapter interface {
	Name() string
	// Phase orders adapters: lower phases run first. Adapters sharing a
	// phase fetch in parallel.
	Phase() int
	Fetch(ctx context.Context, since time.Time) ([]Observation, error)
}

// PersonFetcher is implemented by adapters that can re-fetch observations
// for a single person on demand.
type PersonFetcher interface {
	FetchForPerson(ctx context.Context, p *PersonEntity) ([]Observation, error)
}

// Metrics records registry activity. NopMetrics is used when metrics are off.
type Metrics interface {
	ObservationIngested(sourceType SourceType, action IngestAction)
	ResolutionDecided(outcome Outcome, reason MatchReason)
	PendingResolved(status PendingStatus)
	AdapterFetched(adapter, status string, observations int, elapsed time.Duration)
}

// NopMetrics discards all measurements.
type NopMetrics struct{}

func (NopMetrics) ObservationIngested(SourceType, IngestAction)      {}
func (NopMetrics) ResolutionDecided(Outcome, MatchReason)            {}
func (NopMetrics) PendingResolved(PendingStatus)                     {}
func (NopMetrics) AdapterFetched(string, string, int, time.Duration) {}
