// Package daemon composes the background services and enforces
// single-instance execution through a file lock.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"relato/internal/blobstore"
	"relato/internal/config"
	"relato/internal/ingest"
	"relato/internal/logging"
	"relato/internal/pipeline"
	"relato/internal/retention"
	"relato/internal/services/scriptgen"
	"relato/internal/services/stylizer"
	"relato/internal/services/transcriber"
	"relato/internal/store"
)

// Daemon owns the store, the pipeline manager, the ingest service, and the
// retention sweeper for one instance.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	blobs   blobstore.Store
	manager *pipeline.Manager
	ingest  *ingest.Service
	sweeper *retention.Sweeper

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New builds a daemon with fully initialized dependencies.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	st, err := store.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	blobs, err := blobstore.New(cfg)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("open blobstore: %w", err)
	}

	clients := pipeline.Clients{
		Scripts:     scriptgen.NewClient(cfg.LLM),
		Transcriber: transcriber.NewClient(cfg.Transcriber),
		Stylizer:    stylizer.NewClient(cfg.Stylizer),
	}
	manager := pipeline.NewManager(st, blobs, clients, cfg.Pipeline, logger)
	ingestSvc := ingest.New(st, blobs, manager.Queue(), cfg, logger)
	sweeper := retention.New(st, blobs, cfg.Retention, logger)

	lockPath := filepath.Join(cfg.Paths.DataDir, "relatod.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    st,
		blobs:    blobs,
		manager:  manager,
		ingest:   ingestSvc,
		sweeper:  sweeper,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Ingest exposes the ingest service.
func (d *Daemon) Ingest() *ingest.Service {
	return d.ingest
}

// Store exposes the underlying store.
func (d *Daemon) Store() *store.Store {
	return d.store
}

// Manager exposes the pipeline manager.
func (d *Daemon) Manager() *pipeline.Manager {
	return d.manager
}

// Sweeper exposes the retention sweeper.
func (d *Daemon) Sweeper() *retention.Sweeper {
	return d.sweeper
}

// Start acquires the instance lock and launches the background services.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another relato daemon instance is already running")
	}

	reset, err := d.store.ResetStuckJobs(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		d.logger.Warn("requeued jobs left running by a previous instance",
			logging.Int64("jobs", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.manager.Start(runCtx)
	d.sweeper.Start(runCtx)

	d.running.Store(true)
	d.logger.Info("relato daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop halts background processing and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.sweeper.Stop()
	d.manager.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("relato daemon stopped")
}

// Close stops the daemon and closes the store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}
