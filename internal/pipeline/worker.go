package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"partfinder/internal/metrics"
	"partfinder/internal/store"
	"partfinder/internal/types"
)

// ItemMatcher is what the project worker fans out to. Satisfied by *Matcher.
type ItemMatcher interface {
	MatchItem(ctx context.Context, item types.BomItem, projectDesc string, bom []types.BomRow) types.MatchStatus
}

// Worker processes one project at a time: it loads the BOM, matches every
// item on a bounded pool, and finalizes the project row.
type Worker struct {
	store    *store.Store
	matcher  ItemMatcher
	poolSize int
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewWorker builds a project worker with the given pool width (default 5).
func NewWorker(s *store.Store, matcher ItemMatcher, poolSize int, logger *zap.Logger, m *metrics.Metrics) *Worker {
	if poolSize <= 0 {
		poolSize = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		store:    s,
		matcher:  matcher,
		poolSize: poolSize,
		logger:   logger,
		metrics:  m,
	}
}

// ProcessProject matches every BOM item of a project and sets the project to
// finished, regardless of per-item outcomes. An error is returned only for
// setup failures (project or items unloadable, finalize impossible); the
// caller promotes those to the error status.
func (w *Worker) ProcessProject(ctx context.Context, projectID string) error {
	started := time.Now()

	project, err := w.store.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load project: %w", err)
	}
	items, err := w.store.GetBomItems(ctx, projectID)
	if err != nil {
		return fmt.Errorf("failed to load bom items: %w", err)
	}

	var projectDesc string
	if project.Description != nil {
		projectDesc = *project.Description
	}

	// Immutable snapshot of the full BOM, shared as prompt context by every
	// task. Tasks never see each other's results; cross-item feedback would
	// serialize the pool.
	bom := make([]types.BomRow, len(items))
	for i, it := range items {
		bom[i] = types.RowFromItem(it)
	}

	w.logger.Info("processing project",
		zap.String("project_id", projectID),
		zap.Int("items", len(items)),
		zap.Int("pool_size", w.poolSize))

	var (
		done   atomic.Int64
		mu     sync.Mutex
		counts = make(map[types.MatchStatus]int)
	)

	g := new(errgroup.Group)
	g.SetLimit(w.poolSize)
	for _, item := range items {
		item := item
		g.Go(func() error {
			status := w.matchItemSafe(ctx, item, projectDesc, bom)

			mu.Lock()
			counts[status]++
			mu.Unlock()

			// Progress is advisory; a failed write never fails the task.
			n := int(done.Add(1))
			if err := w.store.SetCurrentComponentIndex(ctx, projectID, n); err != nil {
				w.logger.Warn("failed to record progress",
					zap.String("project_id", projectID),
					zap.Error(err))
			}
			return nil
		})
	}
	g.Wait()

	end := time.Now().UTC()
	if err := w.store.UpdateProjectStatus(ctx, projectID, types.StatusFinished, nil, &end); err != nil {
		if errors.Is(err, store.ErrIllegalTransition) {
			// The project was cancelled mid-run; the produced matches stay
			// queryable but the status is not ours to change.
			w.logger.Warn("project no longer finishable",
				zap.String("project_id", projectID),
				zap.Error(err))
			return nil
		}
		return fmt.Errorf("failed to finalize project: %w", err)
	}

	statusCounts := make([]zap.Field, 0, len(counts)+2)
	statusCounts = append(statusCounts,
		zap.String("project_id", projectID),
		zap.Duration("duration", time.Since(started)))
	for status, n := range counts {
		statusCounts = append(statusCounts, zap.Int(string(status), n))
	}
	w.logger.Info("project finished", statusCounts...)
	w.metrics.RecordProjectProcessed(string(types.StatusFinished))
	return nil
}

// matchItemSafe shields the pool from panicking tasks; a panic becomes the
// worker_uncaught_exception terminal status.
func (w *Worker) matchItemSafe(ctx context.Context, item types.BomItem, projectDesc string, bom []types.BomRow) (status types.MatchStatus) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("match task panicked",
				zap.Int64("bom_item_id", item.BomItemID),
				zap.Any("panic", r))
			status = types.MatchStatusWorkerPanic
			if _, err := w.store.ReplaceBomItemMatches(ctx, item.BomItemID, nil, status, nil); err != nil {
				w.logger.Error("failed to record panic status",
					zap.Int64("bom_item_id", item.BomItemID),
					zap.Error(err))
			}
			w.metrics.RecordItemProcessed(string(status))
		}
	}()
	return w.matcher.MatchItem(ctx, item, projectDesc, bom)
}
