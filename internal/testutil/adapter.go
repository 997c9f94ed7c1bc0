package testutil

import (
	"context"
	"sync"
	"time"

	"kin-go/internal/kin"
)

// FakeAdapter is a scripted kin.Adapter and kin.PersonFetcher.
//
// Each Fetch call consumes the next entry of Errs (nil once exhausted) and
// returns Observations alongside it. When Block is set, Fetch waits for ctx
// to expire and returns Observations with the context error.
type FakeAdapter struct {
	AdapterName  string
	AdapterPhase int
	Observations []kin.Observation
	Errs         []error
	Block        bool
	// PersonObservations is returned from FetchForPerson, keyed by person ID.
	PersonObservations map[string][]kin.Observation

	mu          sync.Mutex
	calls       int
	personCalls int
	sinces      []time.Time
}

var (
	_ kin.Adapter       = (*FakeAdapter)(nil)
	_ kin.PersonFetcher = (*FakeAdapter)(nil)
)

// NewFakeAdapter creates a FakeAdapter returning obs on every call.
func NewFakeAdapter(name string, phase int, obs ...kin.Observation) *FakeAdapter {
	return &FakeAdapter{AdapterName: name, AdapterPhase: phase, Observations: obs}
}

func (a *FakeAdapter) Name() string { return a.AdapterName }
func (a *FakeAdapter) Phase() int   { return a.AdapterPhase }

func (a *FakeAdapter) Fetch(ctx context.Context, since time.Time) ([]kin.Observation, error) {
	a.mu.Lock()
	var err error
	if a.calls < len(a.Errs) {
		err = a.Errs[a.calls]
	}
	a.calls++
	a.sinces = append(a.sinces, since)
	a.mu.Unlock()

	if a.Block {
		<-ctx.Done()
		return a.Observations, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return a.Observations, nil
}

func (a *FakeAdapter) FetchForPerson(_ context.Context, p *kin.PersonEntity) ([]kin.Observation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.personCalls++
	return a.PersonObservations[p.ID], nil
}

// Calls returns the number of Fetch calls.
func (a *FakeAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// PersonCalls returns the number of FetchForPerson calls.
func (a *FakeAdapter) PersonCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.personCalls
}

// Sinces returns the since argument of every Fetch call.
func (a *FakeAdapter) Sinces() []time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]time.Time(nil), a.sinces...)
}

// RecordingMetrics counts kin.Metrics calls.
type RecordingMetrics struct {
	mu          sync.Mutex
	Ingested    map[kin.IngestAction]int
	Resolutions map[kin.Outcome]int
	Resolved    map[kin.PendingStatus]int
	Fetches     map[string]string
}

var _ kin.Metrics = (*RecordingMetrics)(nil)

func NewRecordingMetrics() *RecordingMetrics {
	return &RecordingMetrics{
		Ingested:    make(map[kin.IngestAction]int),
		Resolutions: make(map[kin.Outcome]int),
		Resolved:    make(map[kin.PendingStatus]int),
		Fetches:     make(map[string]string),
	}
}

func (m *RecordingMetrics) ObservationIngested(_ kin.SourceType, action kin.IngestAction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Ingested[action]++
}

func (m *RecordingMetrics) ResolutionDecided(outcome kin.Outcome, _ kin.MatchReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resolutions[outcome]++
}

func (m *RecordingMetrics) PendingResolved(status kin.PendingStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Resolved[status]++
}

// AdapterFetched keeps the last status seen per adapter.
func (m *RecordingMetrics) AdapterFetched(adapter, status string, _ int, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Fetches[adapter] = status
}

// FetchStatus returns the last recorded fetch status of adapter.
func (m *RecordingMetrics) FetchStatus(adapter string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Fetches[adapter]
}
