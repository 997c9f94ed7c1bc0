package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"kin-go/internal/adapters"
	"kin-go/internal/config"
	"kin-go/internal/database"
	"kin-go/internal/kin"
	"kin-go/internal/metrics"
	"kin-go/internal/people"
	"kin-go/internal/resolver"
	"kin-go/internal/server"
)

// Options controls how an App is opened.
type Options struct {
	// Operation names the CLI command; it tags every log line.
	Operation string
	Verbose   bool
	// Console mirrors log output; nil logs to the file only.
	Console io.Writer
}

// App is the application layer between the CLI and the kin service. It
// builds every dependency from config, holds the data directory lock, and
// pushes the archive on Close when the registry changed.
type App struct {
	cfg         *config.Config
	db          *database.SQLiteDatabase
	people      *people.Store
	orch        *kin.Orchestrator
	metrics     *metrics.Recorder
	archive     *Archive
	logger      *slog.Logger
	logFile     *os.File
	lock        *flock.Flock
	openVersion int64
}

// New creates a fully wired App from cfg. The caller must call Close.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			a.release()
		}
	}()

	lock, err := lockDataDir(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	a.lock = lock

	if err := a.openLogger(opts); err != nil {
		return nil, err
	}

	a.db, err = database.NewDatabaseFromConfig(cfg.Database, cfg.HostID, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}
	a.openVersion, err = a.db.MaxSyncRunID(ctx)
	if err != nil {
		return nil, fmt.Errorf("checking local version: %w", err)
	}

	if cfg.Archive.Enabled {
		a.archive, err = NewArchive(ctx, cfg, a.logger)
		if err != nil {
			return nil, err
		}
		if err := a.archive.CheckVersion(ctx, a.openVersion); err != nil {
			return nil, err
		}
	}

	a.people, err = people.NewPersonStoreFromConfig(cfg.People, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating person store: %w", err)
	}

	sources, err := adapters.NewAdaptersFromConfig(cfg.Adapters, cfg.DefaultRegion, a.logger)
	if err != nil {
		return nil, fmt.Errorf("creating adapters: %w", err)
	}

	clock := kin.RealClock{}
	ids := kin.UUIDGenerator{}
	resOpts := cfg.Resolver
	resOpts.AutoAcceptConfidence = cfg.Sync.AutoAcceptConfidence()
	res := resolver.New(a.people, resOpts, a.logger, clock, ids)
	a.metrics = metrics.NewRecorder(true)
	settings := kin.Settings{
		AutoAcceptConfidence: cfg.Sync.AutoAcceptConfidence(),
		Scoring:              cfg.Scoring,
	}
	svc := kin.NewService(a.db, a.people, res, settings, a.metrics, a.logger, clock, ids)
	a.orch = kin.NewOrchestrator(svc, a.db, sources, kin.OrchestratorConfig{
		AdapterTimeout:   cfg.Sync.AdapterTimeout(),
		MaxAttempts:      cfg.Sync.MaxAttempts,
		BaseBackoff:      cfg.Sync.BaseBackoff(),
		Parallelism:      cfg.Sync.Parallelism,
		RefreshTTL:       cfg.Sync.RefreshTTL(),
		RefreshCacheSize: cfg.Sync.RefreshCacheSize,
	}, a.metrics, a.logger, clock)

	ok = true
	return a, nil
}

func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "kin.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking data directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("another kin process is using %s: %w", dir, kin.ErrConflict)
	}
	return lock, nil
}

func (a *App) openLogger(opts Options) error {
	level := slog.LevelInfo
	if opts.Verbose {
		level = slog.LevelDebug
	}
	opID := time.Now().UTC().Format("20060102T150405Z")
	if opts.Operation != "" {
		opID = opts.Operation + "@" + opID
	}
	logDir := a.cfg.LogDir
	if logDir == "" {
		logDir = filepath.Join(a.cfg.DataDir, "log")
	}
	logger, f, err := newLogger(logDir, opID, level, opts.Console)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	a.logger, a.logFile = logger, f
	return nil
}

func (a *App) Config() *config.Config          { return a.cfg }
func (a *App) Orchestrator() *kin.Orchestrator { return a.orch }
func (a *App) Service() *kin.Service           { return a.orch.Service() }
func (a *App) Metrics() *metrics.Recorder      { return a.metrics }
func (a *App) Logger() kin.Logger              { return a.logger }

// IngestFile reads a JSONL observation file and ingests every record.
// sourceType applies to records that do not name one.
func (a *App) IngestFile(ctx context.Context, path string, sourceType kin.SourceType) (kin.SyncReport, error) {
	src := adapters.NewJSONLAdapter("file", 0, path, sourceType, nil, a.cfg.DefaultRegion, a.logger)
	if _, err := os.Stat(path); err != nil {
		return kin.SyncReport{}, fmt.Errorf("opening %s: %w", path, err)
	}
	obs, err := src.Fetch(ctx, time.Time{})
	if err != nil {
		return kin.SyncReport{}, err
	}
	return a.orch.Ingest(ctx, path, obs)
}

// SyncHistory returns the most recent sync runs, newest first.
func (a *App) SyncHistory(ctx context.Context, limit int) ([]*kin.SyncRun, error) {
	return a.db.ListSyncRuns(ctx, limit)
}

// Serve runs the HTTP API until ctx is cancelled, then shuts it down.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(a.orch, a.metrics, a.logger, a.cfg.Server.Addr)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	a.logger.Info("serving", "addr", a.cfg.Server.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return <-errCh
}

// PushArchive uploads the current registry regardless of whether it changed.
func (a *App) PushArchive(ctx context.Context) (int64, error) {
	if a.archive == nil {
		return 0, fmt.Errorf("archive is not enabled: %w", kin.ErrInput)
	}
	version, err := a.db.MaxSyncRunID(ctx)
	if err != nil {
		return 0, err
	}
	if err := a.archive.Push(ctx, a.db, a.people.Path(), version); err != nil {
		return 0, err
	}
	a.openVersion = version
	return version, nil
}

// Close pushes the archive when a sync run was recorded since New, then
// releases every resource. The first error wins.
func (a *App) Close(ctx context.Context) error {
	var firstErr error
	if a.archive != nil && a.db != nil {
		version, err := a.db.MaxSyncRunID(ctx)
		switch {
		case err != nil:
			firstErr = fmt.Errorf("checking local version: %w", err)
		case version > a.openVersion:
			if err := a.archive.Push(ctx, a.db, a.people.Path(), version); err != nil {
				firstErr = fmt.Errorf("pushing archive: %w", err)
			}
		}
	}
	if err := a.release(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (a *App) release() error {
	var errs []error
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing database: %w", err))
		}
		a.db = nil
	}
	if a.logFile != nil {
		a.logFile.Close()
		a.logFile = nil
	}
	if a.lock != nil {
		if err := a.lock.Unlock(); err != nil {
			errs = append(errs, fmt.Errorf("unlocking data directory: %w", err))
		}
		a.lock = nil
	}
	return errors.Join(errs...)
}

// InitKeys generates the archive key pair and uploads it.
func InitKeys(ctx context.Context, cfg *config.Config, passphrase string, console io.Writer) error {
	return withArchive(ctx, cfg, "keys-init", console, func(ar *Archive) error {
		return ar.InitKeys(ctx, passphrase)
	})
}

// Restore replaces the local registry with the archived one. It refuses to
// overwrite an existing database unless force is set.
func Restore(ctx context.Context, cfg *config.Config, passphrase string, force bool, console io.Writer) (*RestoreResult, error) {
	if cfg.Database.Type != "sqlite" {
		return nil, fmt.Errorf("restore needs a sqlite database, got %q: %w", cfg.Database.Type, kin.ErrInput)
	}
	dbPath := filepath.Join(cfg.Database.DataDir, cfg.HostID+".db")
	if _, err := os.Stat(dbPath); err == nil && !force {
		return nil, fmt.Errorf("database %s already exists, use --force to replace it: %w", dbPath, kin.ErrConflict)
	}
	peoplePath := ""
	if cfg.People.Type == "file" {
		peoplePath = cfg.People.Path
	}

	var res *RestoreResult
	err := withArchive(ctx, cfg, "archive-restore", console, func(ar *Archive) error {
		var err error
		res, err = ar.Restore(ctx, passphrase, dbPath, peoplePath)
		return err
	})
	return res, err
}

// withArchive runs fn with the data directory locked and the archive built,
// without opening the registry.
func withArchive(ctx context.Context, cfg *config.Config, operation string, console io.Writer, fn func(*Archive) error) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	a := &App{cfg: cfg}
	defer a.release()

	lock, err := lockDataDir(cfg.DataDir)
	if err != nil {
		return err
	}
	a.lock = lock
	if err := a.openLogger(Options{Operation: operation, Console: console}); err != nil {
		return err
	}
	ar, err := NewArchive(ctx, cfg, a.logger)
	if err != nil {
		return err
	}
	return fn(ar)
}
