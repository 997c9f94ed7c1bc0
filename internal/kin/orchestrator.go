package kin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// Orchestrator operation names recorded in the sync run history.
const (
	OpSync          = "sync"
	OpRelationships = "sync relationships"
	OpStrengths     = "sync strengths"
	OpIngest        = "ingest"
	OpRefresh       = "refresh"
	OpConfirm       = "pending confirm"
	OpReject        = "pending reject"
)

// OrchestratorConfig bounds adapter calls.
type OrchestratorConfig struct {
	AdapterTimeout   time.Duration
	MaxAttempts      int
	BaseBackoff      time.Duration
	Parallelism      int
	RefreshTTL       time.Duration
	RefreshCacheSize int
}

func (c OrchestratorConfig) withDefaults() OrchestratorConfig {
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = time.Minute
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 500 * time.Millisecond
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = 30 * time.Minute
	}
	if c.RefreshCacheSize <= 0 {
		c.RefreshCacheSize = 256
	}
	return c
}

// RefreshResult is the outcome of a single-person refresh.
type RefreshResult struct {
	Person      *PersonEntity `json:"person"`
	Report      SyncReport    `json:"report"`
	RefreshedAt time.Time     `json:"refreshed_at"`
	// Cached is true when the result was served from the refresh cache.
	Cached bool `json:"cached"`
}

// Orchestrator runs adapters phase by phase and feeds their observations
// through the service's single writer path. A failing adapter never stops
// later adapters or phases.
type Orchestrator struct {
	service  *Service
	database Database
	adapters []Adapter
	cfg      OrchestratorConfig
	metrics  Metrics
	logger   Logger
	clock    Clock

	refreshCache *expirable.LRU[string, *RefreshResult]
	refreshGroup singleflight.Group
	syncMu       sync.Mutex
}

// NewOrchestrator creates an Orchestrator. Adapter names must be unique.
func NewOrchestrator(service *Service, database Database, adapters []Adapter, cfg OrchestratorConfig, metrics Metrics, logger Logger, clock Clock) *Orchestrator {
	cfg = cfg.withDefaults()
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Orchestrator{
		service:      service,
		database:     database,
		adapters:     adapters,
		cfg:          cfg,
		metrics:      metrics,
		logger:       logger,
		clock:        clock,
		refreshCache: expirable.NewLRU[string, *RefreshResult](cfg.RefreshCacheSize, nil, cfg.RefreshTTL),
	}
}

// Service returns the service the orchestrator writes through.
func (o *Orchestrator) Service() *Service {
	return o.service
}

// AdapterNames lists the configured adapters in phase order.
func (o *Orchestrator) AdapterNames() []string {
	var names []string
	for _, phase := range phases(o.adapters) {
		for _, a := range phase {
			names = append(names, a.Name())
		}
	}
	return names
}

// Track records fn as a sync run. The run is finished even when ctx is
// cancelled, so the history never holds a run stuck in "running".
func (o *Orchestrator) Track(ctx context.Context, operation, parameters string, fn func(ctx context.Context) (SyncReport, error)) (SyncReport, error) {
	run, err := o.database.CreateSyncRun(ctx, operation, parameters, o.clock.Now())
	if err != nil {
		return SyncReport{}, err
	}

	report, runErr := fn(ctx)

	finished := o.clock.Now()
	run.FinishedAt = &finished
	run.Status = RunSuccess
	if runErr != nil {
		run.Status = RunError
	}
	run.Created, run.Updated, run.Skipped = report.Created, report.Updated, report.Skipped
	run.Pending, run.Errors = report.Pending, len(report.Errors)
	if err := o.database.FinishSyncRun(context.WithoutCancel(ctx), run); err != nil {
		o.logger.Error("failed to finish sync run", "run_id", run.ID, "error", err)
		if runErr == nil {
			runErr = err
		}
	}
	return report, runErr
}

// Sync runs the named adapters, or every adapter when names is empty.
// Phases run in ascending order; adapters in one phase fetch in parallel.
func (o *Orchestrator) Sync(ctx context.Context, names ...string) (SyncReport, error) {
	selected, err := o.selectAdapters(names)
	if err != nil {
		return SyncReport{}, err
	}
	return o.Track(ctx, OpSync, strings.Join(names, ","), func(ctx context.Context) (SyncReport, error) {
		o.syncMu.Lock()
		defer o.syncMu.Unlock()

		var report SyncReport
		for _, phase := range phases(selected) {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			phaseReport, err := o.runPhase(ctx, phase)
			report.Merge(phaseReport)
			if err != nil {
				return report, err
			}
		}
		o.logger.Info("sync complete", "created", report.Created, "updated", report.Updated,
			"skipped", report.Skipped, "pending", report.Pending, "errors", len(report.Errors))
		return report, nil
	})
}

type fetchResult struct {
	adapter      Adapter
	observations []Observation
	startedAt    time.Time
	err          error
}

func (o *Orchestrator) runPhase(ctx context.Context, adapters []Adapter) (SyncReport, error) {
	results := make([]fetchResult, len(adapters))

	// Fetch errors are carried in results, never returned, so one adapter
	// cannot cancel its siblings.
	var g errgroup.Group
	g.SetLimit(o.cfg.Parallelism)
	for i, a := range adapters {
		g.Go(func() error {
			results[i] = o.fetch(ctx, a)
			return nil
		})
	}
	g.Wait()

	var report SyncReport
	for _, r := range results {
		name := r.adapter.Name()
		if r.err != nil {
			report.FailAdapter(name, r.err)
			o.logger.Error("adapter failed", "adapter", name, "phase", r.adapter.Phase(),
				"observations", len(r.observations), "error", r.err)
		}
		if len(r.observations) > 0 {
			ingested, err := o.service.IngestAll(ctx, r.observations)
			report.Merge(ingested)
			if err != nil {
				return report, err
			}
		}
		if r.err == nil {
			if err := o.database.SetSyncCursor(ctx, name, r.startedAt); err != nil {
				report.FailAdapter(name, err)
			}
		}
	}
	return report, nil
}

// fetch calls one adapter with a per-call timeout, retrying failures with
// exponential backoff. A timed-out call keeps the observations it returned
// and is not retried.
func (o *Orchestrator) fetch(ctx context.Context, a Adapter) fetchResult {
	res := fetchResult{adapter: a, startedAt: o.clock.Now()}
	since, err := o.database.GetSyncCursor(ctx, a.Name())
	if err != nil {
		res.err = err
		return res
	}

	start := time.Now()
	res.observations, res.err = o.call(ctx, a.Name(), func(ctx context.Context) ([]Observation, error) {
		return a.Fetch(ctx, since)
	})

	status := "ok"
	var aerr *AdapterError
	if errors.As(res.err, &aerr) {
		status = "error"
		if aerr.Partial {
			status = "partial"
		}
	}
	o.metrics.AdapterFetched(a.Name(), status, len(res.observations), time.Since(start))
	o.logger.Debug("adapter fetched", "adapter", a.Name(), "since", since, "observations", len(res.observations), "status", status)
	return res
}

// call runs one bounded, retried adapter call. Errors are *AdapterError.
func (o *Orchestrator) call(ctx context.Context, adapter string, fn func(ctx context.Context) ([]Observation, error)) ([]Observation, error) {
	var (
		attempts int
		partial  []Observation
	)
	op := func() ([]Observation, error) {
		attempts++
		callCtx, cancel := context.WithTimeout(ctx, o.cfg.AdapterTimeout)
		defer cancel()

		got, err := fn(callCtx)
		if err == nil {
			return got, nil
		}
		if ctx.Err() != nil {
			partial = got
			return nil, backoff.Permanent(ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			partial = got
			return nil, backoff.Permanent(err)
		}
		o.logger.Warn("adapter call failed", "adapter", adapter, "attempt", attempts, "error", err)
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.BaseBackoff
	got, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(o.cfg.MaxAttempts)),
	)
	if err == nil {
		return got, nil
	}
	return partial, &AdapterError{Adapter: adapter, Attempts: attempts, Partial: len(partial) > 0, Err: err}
}

// DiscoverRelationships rebuilds the relationship graph as a tracked run.
func (o *Orchestrator) DiscoverRelationships(ctx context.Context) (SyncReport, error) {
	return o.Track(ctx, OpRelationships, "", o.service.DiscoverRelationships)
}

// RefreshStrengths recomputes every cached strength as a tracked run.
func (o *Orchestrator) RefreshStrengths(ctx context.Context) (SyncReport, error) {
	return o.Track(ctx, OpStrengths, "", o.service.RefreshStrengths)
}

// Ingest feeds externally supplied observations through the writer path as a
// tracked run.
func (o *Orchestrator) Ingest(ctx context.Context, source string, observations []Observation) (SyncReport, error) {
	return o.Track(ctx, OpIngest, source, func(ctx context.Context) (SyncReport, error) {
		return o.service.IngestAll(ctx, observations)
	})
}

// Confirm resolves a pending link as a tracked run.
func (o *Orchestrator) Confirm(ctx context.Context, id, resolvedBy string) (*PendingOutcome, error) {
	var out *PendingOutcome
	_, err := o.Track(ctx, OpConfirm, id, func(ctx context.Context) (SyncReport, error) {
		var err error
		out, err = o.service.Confirm(ctx, id, resolvedBy)
		if err != nil {
			return SyncReport{}, err
		}
		return SyncReport{Updated: 1}, nil
	})
	if err == nil && out.Person != nil {
		o.refreshCache.Remove(out.Person.ID)
	}
	return out, err
}

// Reject resolves a pending link as a tracked run.
func (o *Orchestrator) Reject(ctx context.Context, id string, createNew bool, resolvedBy string) (*PendingOutcome, error) {
	var out *PendingOutcome
	params := id
	if createNew {
		params += " create_new"
	}
	_, err := o.Track(ctx, OpReject, params, func(ctx context.Context) (SyncReport, error) {
		var err error
		out, err = o.service.Reject(ctx, id, createNew, resolvedBy)
		if err != nil {
			return SyncReport{}, err
		}
		switch {
		case out.Person == nil:
			return SyncReport{Orphaned: 1}, nil
		case createNew:
			return SyncReport{Created: 1}, nil
		}
		return SyncReport{Updated: 1}, nil
	})
	if err == nil && out.Person != nil {
		o.refreshCache.Remove(out.Person.ID)
	}
	return out, err
}

// RefreshPerson re-fetches one person from every adapter that supports it,
// ingests the results and recomputes the person's counters and strength.
// Results are cached for the refresh TTL; concurrent refreshes of the same
// person share one run. The shared run is detached from any single caller
// and bounded by the adapter timeouts instead; a caller whose context ends
// returns early while the run continues for the others. It may overlap a
// batch sync: both converge on the same derived counters.
func (o *Orchestrator) RefreshPerson(ctx context.Context, personID string) (*RefreshResult, error) {
	if hit, ok := o.cachedRefresh(personID); ok {
		return hit, nil
	}

	ch := o.refreshGroup.DoChan(personID, func() (any, error) {
		// A flight that finished since the first lookup has filled the cache.
		if hit, ok := o.cachedRefresh(personID); ok {
			return hit, nil
		}
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.refreshBudget())
		defer cancel()
		return o.refresh(flightCtx, personID)
	})
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("refreshing %s: %w", personID, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return nil, fmt.Errorf("refreshing %s: %w", personID, r.Err)
		}
		return r.Val.(*RefreshResult), nil
	}
}

// refreshBudget bounds a shared refresh: every attempt of every person
// fetcher may use the full adapter timeout, plus one more for the ingest.
func (o *Orchestrator) refreshBudget() time.Duration {
	fetchers := 0
	for _, a := range o.adapters {
		if _, ok := a.(PersonFetcher); ok {
			fetchers++
		}
	}
	return time.Duration(fetchers*o.cfg.MaxAttempts+1) * o.cfg.AdapterTimeout
}

func (o *Orchestrator) refresh(ctx context.Context, personID string) (*RefreshResult, error) {
	p, err := o.service.GetPerson(ctx, personID)
	if err != nil {
		return nil, err
	}
	var result *RefreshResult
	_, err = o.Track(ctx, OpRefresh, personID, func(ctx context.Context) (SyncReport, error) {
		var report SyncReport
		for _, a := range o.adapters {
			pf, ok := a.(PersonFetcher)
			if !ok {
				continue
			}
			obs, err := o.call(ctx, a.Name(), func(ctx context.Context) ([]Observation, error) {
				return pf.FetchForPerson(ctx, p)
			})
			if err != nil {
				report.FailAdapter(a.Name(), err)
			}
			if len(obs) > 0 {
				ingested, err := o.service.IngestAll(ctx, obs)
				report.Merge(ingested)
				if err != nil {
					return report, err
				}
			}
		}
		refreshed, err := o.service.RefreshDerived(ctx, personID)
		if err != nil {
			return report, err
		}
		result = &RefreshResult{Person: refreshed, Report: report, RefreshedAt: o.clock.Now()}
		return report, nil
	})
	if err != nil {
		return nil, err
	}
	o.refreshCache.Add(personID, result)
	return result, nil
}

func (o *Orchestrator) cachedRefresh(personID string) (*RefreshResult, bool) {
	cached, ok := o.refreshCache.Get(personID)
	if !ok {
		return nil, false
	}
	hit := *cached
	hit.Cached = true
	return &hit, true
}

func (o *Orchestrator) selectAdapters(names []string) ([]Adapter, error) {
	if len(names) == 0 {
		return o.adapters, nil
	}
	byName := make(map[string]Adapter, len(o.adapters))
	for _, a := range o.adapters {
		byName[a.Name()] = a
	}
	var out []Adapter
	for _, n := range names {
		a, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("adapter %q: %w", n, ErrNotFound)
		}
		out = append(out, a)
	}
	return out, nil
}

// phases groups adapters by phase, lowest first, keeping configured order
// within a phase.
func phases(adapters []Adapter) [][]Adapter {
	byPhase := make(map[int][]Adapter)
	var order []int
	for _, a := range adapters {
		if _, ok := byPhase[a.Phase()]; !ok {
			order = append(order, a.Phase())
		}
		byPhase[a.Phase()] = append(byPhase[a.Phase()], a)
	}
	sort.Ints(order)
	out := make([][]Adapter, len(order))
	for i, p := range order {
		out[i] = byPhase[p]
	}
	return out
}
