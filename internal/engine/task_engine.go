// internal/engine/task_engine.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/layout-breaker/internal/config"
	"github.com/xkilldash9x/layout-breaker/internal/store"
)

const (
	defaultConcurrency = 4
	defaultTaskTimeout = 5 * time.Minute
	persistTimeout     = 30 * time.Second
)

// Summary counts what a run did.
type Summary struct {
	Tasks    int
	Failed   int
	Skipped  int
	Captures int
}

// TaskEngine manages the in-process distribution of tasks to a pool of workers.
type TaskEngine struct {
	cfg          config.EngineConfig
	executionID  string
	logger       *zap.Logger
	storeService Store
	worker       Worker
	limiter      *rate.Limiter
	now          func() time.Time

	// stateLock protects the running state of the engine.
	stateLock sync.Mutex
	isRunning bool

	tasks, failed, skipped, captures atomic.Int64
}

// New creates a new TaskEngine. Every record it saves carries executionID.
func New(
	cfg config.EngineConfig,
	executionID string,
	logger *zap.Logger,
	storeService Store,
	worker Worker,
) (*TaskEngine, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if storeService == nil {
		return nil, errors.New("store service cannot be nil")
	}
	if worker == nil {
		return nil, errors.New("worker cannot be nil")
	}
	if executionID == "" {
		return nil, errors.New("execution id cannot be empty")
	}

	e := &TaskEngine{
		cfg:          cfg,
		executionID:  executionID,
		logger:       logger.Named("task_engine"),
		storeService: storeService,
		worker:       worker,
		now:          time.Now,
	}
	if cfg.TasksPerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.TasksPerSecond), 1)
	}
	return e, nil
}

// Run starts the worker pool and blocks until the task channel is closed and
// drained, or ctx is done. With abort_on_error the first task error cancels
// the remaining work and is returned.
func (e *TaskEngine) Run(ctx context.Context, taskChan <-chan Task) (Summary, error) {
	e.stateLock.Lock()
	if e.isRunning {
		e.stateLock.Unlock()
		return Summary{}, errors.New("task engine is already running")
	}
	e.isRunning = true
	e.stateLock.Unlock()
	defer func() {
		e.stateLock.Lock()
		e.isRunning = false
		e.stateLock.Unlock()
	}()

	concurrency := e.cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	e.logger.Info("Starting task engine worker pool",
		zap.Int("concurrency", concurrency),
		zap.String("execution_id", e.executionID),
		zap.Bool("abort_on_error", e.cfg.AbortOnError))

	// The group context is cancelled with the first returned error as its cause.
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < concurrency; i++ {
		workerID := i + 1
		g.Go(func() error {
			return e.runWorker(gctx, workerID, taskChan)
		})
	}
	err := g.Wait()

	summary := e.Summary()
	e.logger.Info("Task engine stopped.",
		zap.Int("tasks", summary.Tasks),
		zap.Int("failed", summary.Failed),
		zap.Int("skipped", summary.Skipped),
		zap.Int("captures", summary.Captures))

	if err != nil {
		return summary, fmt.Errorf("run aborted: %w", err)
	}
	return summary, ctx.Err()
}

// Summary returns the counters of the current or last run.
func (e *TaskEngine) Summary() Summary {
	return Summary{
		Tasks:    int(e.tasks.Load()),
		Failed:   int(e.failed.Load()),
		Skipped:  int(e.skipped.Load()),
		Captures: int(e.captures.Load()),
	}
}

// runWorker is the main loop for a single worker goroutine.
func (e *TaskEngine) runWorker(ctx context.Context, workerID int, taskChan <-chan Task) error {
	logger := e.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker goroutine started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker shutting down.", zap.Error(context.Cause(ctx)))
			return nil
		case task, ok := <-taskChan:
			if !ok {
				logger.Debug("Task queue closed and drained, worker shutting down.")
				return nil
			}
			if err := e.process(ctx, task, logger); err != nil && e.cfg.AbortOnError {
				return err
			}
		}
	}
}

// process runs one task and persists its record. It returns the task error,
// or nil when the task succeeded or never started.
func (e *TaskEngine) process(ctx context.Context, task Task, logger *zap.Logger) error {
	logger = logger.With(
		zap.String("site", task.Site),
		zap.Stringer("viewport", task.Viewport),
		zap.Stringer("manipulation", task.Manipulation))

	if ctx.Err() != nil {
		e.skipped.Add(1)
		logger.Debug("Context cancelled before task processing started")
		return nil
	}
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			e.skipped.Add(1)
			logger.Debug("Task pacing interrupted", zap.Error(err))
			return nil
		}
	}

	logger.Info("Processing task")
	e.tasks.Add(1)

	taskTimeout := e.cfg.TaskTimeout
	if taskTimeout <= 0 {
		taskTimeout = defaultTaskTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, taskTimeout)
	defer cancel()

	started := e.now()
	result, processingErr := e.worker.ProcessTask(taskCtx, task)
	finished := e.now()

	if processingErr != nil {
		e.failed.Add(1)
		switch {
		case errors.Is(processingErr, context.DeadlineExceeded):
			logger.Warn("Task processing timed out. Saving partial results.", zap.Duration("timeout", taskTimeout), zap.Error(processingErr))
		case errors.Is(processingErr, context.Canceled):
			logger.Warn("Task processing was cancelled. Saving partial results.", zap.Error(processingErr))
		default:
			logger.Error("Task processing failed.", zap.Error(processingErr))
		}
	}
	e.captures.Add(int64(len(result.Captures)))

	rec := store.Record{
		ID:           uuid.NewString(),
		ExecutionID:  e.executionID,
		Site:         task.Site,
		Viewport:     task.Viewport,
		Manipulation: task.Manipulation,
		Containers:   result.Containers,
		Captures:     result.Captures,
		StartedAt:    started.UTC(),
		FinishedAt:   finished.UTC(),
	}
	if processingErr != nil {
		rec.Error = processingErr.Error()
	}

	// Records are saved even when the run is shutting down.
	persistCtx, persistCancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer persistCancel()
	if err := e.storeService.Save(persistCtx, rec); err != nil {
		logger.Error("Failed to persist task record", zap.Error(err))
	} else {
		logger.Debug("Persisted task record.", zap.String("record_id", rec.ID))
	}

	if processingErr != nil {
		return fmt.Errorf("task %s: %w", task, processingErr)
	}
	return nil
}

var _ Store = store.Discard{}
