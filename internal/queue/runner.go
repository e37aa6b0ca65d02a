// Package queue drives the project queue: a single poll loop that claims the
// oldest queued project, hands it to the worker, and absorbs failures so one
// bad project never stalls the queue.
package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"partfinder/internal/metrics"
	"partfinder/internal/store"
	"partfinder/internal/types"
)

// ProjectProcessor runs a claimed project to completion. Satisfied by
// *pipeline.Worker.
type ProjectProcessor interface {
	ProcessProject(ctx context.Context, projectID string) error
}

// Runner polls the store for queued projects and processes them one at a
// time, oldest first.
type Runner struct {
	store        *store.Store
	worker       ProjectProcessor
	pollInterval time.Duration
	errorBackoff time.Duration
	logger       *zap.Logger
	metrics      *metrics.Metrics

	// tickMu ensures a slow project never stacks overlapping drains.
	tickMu sync.Mutex

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewRunner builds a queue runner. pollInterval defaults to 1s and
// errorBackoff to 60s when non-positive.
func NewRunner(s *store.Store, worker ProjectProcessor, pollInterval, errorBackoff time.Duration, logger *zap.Logger, m *metrics.Metrics) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	if errorBackoff <= 0 {
		errorBackoff = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		store:        s,
		worker:       worker,
		pollInterval: pollInterval,
		errorBackoff: errorBackoff,
		logger:       logger,
		metrics:      m,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start launches the poll loop. It returns immediately; the loop runs until
// ctx is cancelled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	go r.loop(ctx)
}

// Stop terminates the poll loop and waits for any in-flight project to
// finish.
func (r *Runner) Stop() {
	r.stopOnce.Do(func() { close(r.stop) })
	<-r.done
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)

	r.logger.Info("queue runner started",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Duration("error_backoff", r.errorBackoff))

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// Drain once at startup so a restart picks up a backlog without waiting
	// out the first tick.
	r.drain(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("queue runner stopping", zap.Error(ctx.Err()))
			return
		case <-r.stop:
			r.logger.Info("queue runner stopped")
			return
		case <-ticker.C:
			r.drain(ctx)
		}
	}
}

// drain claims and processes queued projects until the queue is empty or the
// runner is told to stop. Overlapping calls are skipped, not queued.
func (r *Runner) drain(ctx context.Context) {
	if !r.tickMu.TryLock() {
		return
	}
	defer r.tickMu.Unlock()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		default:
		}

		if depth, err := r.store.CountQueued(ctx); err == nil {
			r.metrics.SetQueueDepth(depth)
		}

		project, err := r.store.FindNextQueued(ctx)
		if errors.Is(err, store.ErrNotFound) {
			return
		}
		if err != nil {
			r.logger.Error("failed to poll queue", zap.Error(err))
			r.backoff(ctx)
			continue
		}

		if err := r.runOne(ctx, project.ProjectID); err != nil {
			r.backoff(ctx)
		}
	}
}

// runOne claims a single project and processes it. The claim is the
// queued->processing transition; losing the claim race is not an error.
func (r *Runner) runOne(ctx context.Context, projectID string) error {
	start := time.Now().UTC()
	if err := r.store.UpdateProjectStatus(ctx, projectID, types.StatusProcessing, &start, nil); err != nil {
		if errors.Is(err, store.ErrIllegalTransition) || errors.Is(err, store.ErrNotFound) {
			r.logger.Debug("project claimed elsewhere",
				zap.String("project_id", projectID))
			return nil
		}
		r.logger.Error("failed to claim project",
			zap.String("project_id", projectID),
			zap.Error(err))
		return err
	}

	r.logger.Info("claimed project", zap.String("project_id", projectID))

	if err := r.worker.ProcessProject(ctx, projectID); err != nil {
		r.logger.Error("project processing failed",
			zap.String("project_id", projectID),
			zap.Error(err))
		end := time.Now().UTC()
		if uerr := r.store.UpdateProjectStatus(ctx, projectID, types.StatusError, nil, &end); uerr != nil {
			r.logger.Error("failed to mark project errored",
				zap.String("project_id", projectID),
				zap.Error(uerr))
		}
		r.metrics.RecordProjectProcessed(string(types.StatusError))
		return err
	}
	return nil
}

// backoff sleeps for the error backoff, abandoning the wait on shutdown.
func (r *Runner) backoff(ctx context.Context) {
	timer := time.NewTimer(r.errorBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-r.stop:
	case <-timer.C:
	}
}
