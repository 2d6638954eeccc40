package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"relato/internal/blobstore"
	"relato/internal/config"
	"relato/internal/logging"
	"relato/internal/services"
	"relato/internal/store"
)

// Clients bundles the external model collaborators the stages need.
type Clients struct {
	Scripts     ScriptGenerator
	Transcriber Transcriber
	Stylizer    Stylizer
}

// Manager claims runnable jobs and executes them on a small worker pool.
// Every execution runs under the job's stage timeout so a hung external call
// cannot hold a worker past its budget.
type Manager struct {
	store    *store.Store
	queue    *Queue
	cfg      config.Pipeline
	handlers map[Stage]Handler
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires the stage handlers into their fixed allow-list.
func NewManager(st *store.Store, blobs blobstore.Store, clients Clients, cfg config.Pipeline, logger *slog.Logger) *Manager {
	queue := NewQueue(st, cfg, logger)
	handlers := map[Stage]Handler{
		StagePrepare:    newPrepareHandler(st, queue, logger),
		StageTranscribe: newTranscribeHandler(st, blobs, clients.Transcriber, queue, logger),
		StageStylize:    newStylizeHandler(st, blobs, clients.Stylizer, queue, logger),
		StageFinalize:   newFinalizeHandler(st, blobs, clients.Scripts, queue, logger),
	}
	return &Manager{
		store:    st,
		queue:    queue,
		cfg:      cfg,
		handlers: handlers,
		logger:   logging.NewComponentLogger(logger, "manager"),
	}
}

// Queue exposes the enqueue surface for the ingest service and the CLI.
func (m *Manager) Queue() *Queue {
	return m.queue
}

// Start launches the worker pool. It returns immediately.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	workers := m.cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runWorker(runCtx)
		}()
	}
	m.logger.Info("pipeline manager started", logging.Int("workers", workers))
}

// Stop cancels the workers and waits for in-flight jobs to settle.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info("pipeline manager stopped")
}

func (m *Manager) pollInterval() time.Duration {
	if m.cfg.PollIntervalSeconds > 0 {
		return time.Duration(m.cfg.PollIntervalSeconds) * time.Second
	}
	return 5 * time.Second
}

// errorRetryInterval is the pause after a failed claim, so a sick database
// does not get hammered at the poll cadence.
func (m *Manager) errorRetryInterval() time.Duration {
	if m.cfg.ErrorRetrySeconds > 0 {
		return time.Duration(m.cfg.ErrorRetrySeconds) * time.Second
	}
	return m.pollInterval()
}

func (m *Manager) runWorker(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		wait := m.pollInterval()
		job, err := m.store.ClaimNextJob(ctx, time.Now().UTC())
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.logger.ErrorContext(ctx, "claim job", logging.Error(err))
			wait = m.errorRetryInterval()
		} else if job != nil {
			m.process(ctx, job)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// RunPending drains runnable jobs synchronously. Used by tests and one-shot
// tooling rather than the daemon loop.
func (m *Manager) RunPending(ctx context.Context) error {
	for {
		job, err := m.store.ClaimNextJob(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if job == nil {
			return nil
		}
		m.process(ctx, job)
	}
}

func (m *Manager) process(ctx context.Context, job *store.Job) {
	stage, err := ParseStage(job.Stage)
	if err != nil {
		m.logger.ErrorContext(ctx, "job rejected by stage allow-list",
			logging.String(logging.FieldJobID, job.ID),
			logging.String(logging.FieldStage, job.Stage))
		if failErr := m.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			m.logger.ErrorContext(ctx, "fail rejected job", logging.Error(failErr))
		}
		return
	}
	handler := m.handlers[stage]

	jobCtx := services.WithProjectID(ctx, job.ProjectID)
	jobCtx = services.WithStage(jobCtx, string(stage))
	runCtx, cancel := context.WithTimeout(jobCtx, time.Duration(job.TimeoutSeconds)*time.Second)
	execErr := handler.Execute(runCtx, job)
	cancel()

	if execErr == nil {
		if err := m.store.CompleteJob(ctx, job.ID); err != nil {
			m.logger.ErrorContext(ctx, "complete job",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
		return
	}

	if ctx.Err() != nil && errors.Is(execErr, context.Canceled) {
		// Shutdown interrupted the job. Hand the work back untouched so the
		// next daemon run picks it up.
		requeueCtx, requeueCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer requeueCancel()
		if err := m.store.RescheduleJob(requeueCtx, job.ID, time.Now().UTC(), "interrupted by shutdown"); err != nil {
			m.logger.Error("requeue interrupted job",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
		return
	}

	if m.shouldRetry(stage, job, execErr) {
		delay := m.queue.retryDelay(job.Attempts)
		m.logger.WarnContext(jobCtx, "job failed, rescheduling",
			logging.String(logging.FieldJobID, job.ID),
			logging.Int("attempt", job.Attempts),
			logging.Duration("delay", delay),
			logging.Error(execErr))
		runAt := time.Now().UTC().Add(delay)
		if err := m.store.RescheduleJob(ctx, job.ID, runAt, services.Message(execErr)); err != nil {
			m.logger.ErrorContext(ctx, "reschedule job",
				logging.String(logging.FieldJobID, job.ID), logging.Error(err))
		}
		return
	}

	if err := m.store.FailJob(ctx, job.ID, services.Message(execErr)); err != nil {
		m.logger.ErrorContext(ctx, "fail job",
			logging.String(logging.FieldJobID, job.ID), logging.Error(err))
	}
	handler.OnExhausted(jobCtx, job, execErr)
}

// shouldRetry applies the stage retry policy: transient failures reschedule
// until the attempt budget runs out. Finalize never retries automatically,
// and contract violations are permanent everywhere.
func (m *Manager) shouldRetry(stage Stage, job *store.Job, err error) bool {
	if stage == StageFinalize {
		return false
	}
	if job.Attempts >= job.MaxAttempts {
		return false
	}
	if services.Retryable(err) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
