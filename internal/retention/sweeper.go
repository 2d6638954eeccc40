// Package retention expires old projects and trims the audit trail on a
// fixed interval.
package retention

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"relato/internal/blobstore"
	"relato/internal/config"
	"relato/internal/logging"
	"relato/internal/store"
)

// Sweeper runs the background expiry loop.
type Sweeper struct {
	store  *store.Store
	blobs  blobstore.Store
	cfg    config.Retention
	logger *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds a sweeper over the store and blob storage.
func New(st *store.Store, blobs blobstore.Store, cfg config.Retention, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  st,
		blobs:  blobs,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "retention"),
	}
}

// Start launches the interval loop. Each tick runs both passes; a failing
// pass is logged and the loop keeps going.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	interval := time.Duration(s.cfg.SweepIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = time.Hour
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				s.runGuarded(runCtx)
			}
		}
	}()
	s.logger.Info("retention sweeper started", logging.Duration("interval", interval))
}

// Stop cancels the loop and waits for an in-flight sweep.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("retention sweeper stopped")
}

func (s *Sweeper) runGuarded(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panicked", logging.Any("panic", r))
		}
	}()
	s.RunOnce(ctx)
}

// RunOnce executes one sweep: expired projects first, then the audit
// horizon. Returns the number of projects deleted and audit rows purged.
func (s *Sweeper) RunOnce(ctx context.Context) (deleted int, purged int64) {
	now := time.Now().UTC()

	// Projects with an in-flight pipeline are skipped; a later pass
	// collects them once they reach a terminal status.
	expired, err := s.store.ListExpired(ctx, now, store.StatusQueued, store.StatusProcessing)
	if err != nil {
		s.logger.ErrorContext(ctx, "list expired projects", logging.Error(err))
	} else {
		for _, project := range expired {
			if err := s.deleteExpired(ctx, project); err != nil {
				s.logger.ErrorContext(ctx, "delete expired project",
					logging.String(logging.FieldProjectID, project.ID),
					logging.Error(err))
				continue
			}
			deleted++
		}
		if deleted > 0 {
			s.logger.InfoContext(ctx, "expired projects removed", logging.Int("count", deleted))
		}
	}

	horizonDays := s.cfg.AuditRetentionDays
	if horizonDays <= 0 {
		horizonDays = 90
	}
	cutoff := now.AddDate(0, 0, -horizonDays)
	purged, err = s.store.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		s.logger.ErrorContext(ctx, "purge audit events", logging.Error(err))
	} else if purged > 0 {
		s.logger.InfoContext(ctx, "audit events purged", logging.Int64("count", purged))
	}

	return deleted, purged
}

// deleteExpired removes one project: the audit record lands before anything
// is destroyed so a partial failure still leaves a trace.
func (s *Sweeper) deleteExpired(ctx context.Context, project *store.Project) error {
	details, _ := json.Marshal(map[string]any{
		"status":     string(project.Status),
		"expires_at": project.ExpiresAt.Format(time.RFC3339),
	})
	if err := s.store.RecordAudit(ctx, store.AuditEvent{
		Actor:   "retention",
		Action:  "project.expire",
		Target:  project.ID,
		Details: string(details),
	}); err != nil {
		return err
	}

	if err := s.blobs.DeleteProject(ctx, project.ID); err != nil {
		return err
	}
	return s.store.DeleteProject(ctx, project.ID)
}
