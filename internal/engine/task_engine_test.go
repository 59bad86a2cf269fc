// internal/engine/task_engine_test.go
package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/layout-breaker/internal/config"
	"github.com/xkilldash9x/layout-breaker/internal/mutation"
	"github.com/xkilldash9x/layout-breaker/internal/store"
)

// -- Mock Implementations --

// mockWorker lets each test decide how a task is processed.
type mockWorker struct {
	calls       atomic.Int64
	processFunc func(ctx context.Context, task Task) (Result, error)
}

func (m *mockWorker) ProcessTask(ctx context.Context, task Task) (Result, error) {
	m.calls.Add(1)
	if m.processFunc != nil {
		return m.processFunc(ctx, task)
	}
	return Result{}, nil
}

// mockStore records Save calls through testify/mock.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Save(ctx context.Context, rec store.Record) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

func buffered(tasks ...Task) <-chan Task {
	ch := make(chan Task, len(tasks))
	for _, t := range tasks {
		ch <- t
	}
	close(ch)
	return ch
}

func overflowTask(site string) Task {
	return Task{Site: site, Viewport: mutation.Viewport{Width: 1300, Height: 4000}, Manipulation: mutation.KindOverflow}
}

// -- Test Suite --

func TestNew_Validation(t *testing.T) {
	cfg := config.EngineConfig{WorkerConcurrency: 1}
	w := &mockWorker{}
	s := new(mockStore)

	_, err := New(cfg, "id", nil, s, w)
	assert.EqualError(t, err, "logger cannot be nil")
	_, err = New(cfg, "id", zap.NewNop(), nil, w)
	assert.EqualError(t, err, "store service cannot be nil")
	_, err = New(cfg, "id", zap.NewNop(), s, nil)
	assert.EqualError(t, err, "worker cannot be nil")
	_, err = New(cfg, "", zap.NewNop(), s, w)
	assert.EqualError(t, err, "execution id cannot be empty")

	e, err := New(config.EngineConfig{TasksPerSecond: 2}, "id", zap.NewNop(), s, w)
	require.NoError(t, err)
	require.NotNil(t, e.limiter)
	assert.Equal(t, 1, e.limiter.Burst())
}

// TestTaskEngine_Run verifies every task is processed and persisted under the execution id.
func TestTaskEngine_Run(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := new(mockStore)
	s.On("Save", mock.Anything, mock.MatchedBy(func(rec store.Record) bool {
		return rec.ExecutionID == "10-18-abc123" && rec.Error == "" && rec.Containers == 4 && len(rec.Captures) == 2 &&
			rec.ID != "" && !rec.FinishedAt.Before(rec.StartedAt)
	})).Return(nil).Times(3)

	w := &mockWorker{processFunc: func(ctx context.Context, task Task) (Result, error) {
		return Result{Containers: 4, Captures: []store.Capture{{Index: 0, Path: "a"}, {Index: 2, Path: "b"}}}, nil
	}}

	e, err := New(config.EngineConfig{WorkerConcurrency: 2, TaskTimeout: 5 * time.Second}, "10-18-abc123", zap.NewNop(), s, w)
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), buffered(overflowTask("https://a.test"), overflowTask("https://b.test"), overflowTask("https://c.test")))
	require.NoError(t, err)
	assert.Equal(t, Summary{Tasks: 3, Captures: 6}, summary)
	assert.EqualValues(t, 3, w.calls.Load())
	s.AssertExpectations(t)
}

// TestTaskEngine_WorkerErrorIsIsolated verifies a failing task is recorded and the others still run.
func TestTaskEngine_WorkerErrorIsIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.ErrorLevel)
	s := new(mockStore)
	s.On("Save", mock.Anything, mock.MatchedBy(func(rec store.Record) bool {
		return rec.Site == "https://broken.test" && rec.Error != ""
	})).Return(nil).Once()
	s.On("Save", mock.Anything, mock.MatchedBy(func(rec store.Record) bool {
		return rec.Site != "https://broken.test" && rec.Error == ""
	})).Return(nil).Twice()

	w := &mockWorker{processFunc: func(ctx context.Context, task Task) (Result, error) {
		if task.Site == "https://broken.test" {
			return Result{}, errors.New("surface went away")
		}
		return Result{}, nil
	}}

	e, err := New(config.EngineConfig{WorkerConcurrency: 1}, "exec", zap.New(core), s, w)
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), buffered(overflowTask("https://a.test"), overflowTask("https://broken.test"), overflowTask("https://c.test")))
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Tasks)
	assert.Equal(t, 1, summary.Failed)
	s.AssertExpectations(t)

	require.Equal(t, 1, logs.FilterMessage("Task processing failed.").Len())
}

// TestTaskEngine_AbortOnError verifies the first task error cancels the pool and is returned.
func TestTaskEngine_AbortOnError(t *testing.T) {
	defer goleak.VerifyNone(t)

	workerErr := errors.New("navigation failed")
	s := new(mockStore)
	s.On("Save", mock.Anything, mock.Anything).Return(nil).Once()

	w := &mockWorker{processFunc: func(ctx context.Context, task Task) (Result, error) {
		return Result{}, workerErr
	}}

	e, err := New(config.EngineConfig{WorkerConcurrency: 1, AbortOnError: true}, "exec", zap.NewNop(), s, w)
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), buffered(overflowTask("https://a.test"), overflowTask("https://b.test"), overflowTask("https://c.test")))
	require.Error(t, err)
	assert.ErrorIs(t, err, workerErr)
	assert.Contains(t, err.Error(), "run aborted")
	assert.EqualValues(t, 1, w.calls.Load(), "no task starts after the abort")
	assert.Equal(t, 1, summary.Failed)
	s.AssertExpectations(t)
}

// TestTaskEngine_TimeoutKeepsPartialResults verifies a timed out task still saves what it captured.
func TestTaskEngine_TimeoutKeepsPartialResults(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := new(mockStore)
	s.On("Save", mock.Anything, mock.MatchedBy(func(rec store.Record) bool {
		return len(rec.Captures) == 1 && rec.Containers == 3 && rec.Error != ""
	})).Return(nil).Once()

	w := &mockWorker{processFunc: func(ctx context.Context, task Task) (Result, error) {
		<-ctx.Done()
		return Result{Containers: 3, Captures: []store.Capture{{Index: 1, Path: "x.png"}}}, ctx.Err()
	}}

	e, err := New(config.EngineConfig{WorkerConcurrency: 1, TaskTimeout: 20 * time.Millisecond}, "exec", zap.NewNop(), s, w)
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), buffered(overflowTask("https://slow.test")))
	require.NoError(t, err)
	assert.Equal(t, Summary{Tasks: 1, Failed: 1, Captures: 1}, summary)
	s.AssertExpectations(t)
}

// TestTaskEngine_ContextCancellation ensures workers shut down when the parent context is cancelled.
func TestTaskEngine_ContextCancellation(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := new(mockStore)
	s.On("Save", mock.Anything, mock.Anything).Return(nil)

	started := make(chan struct{}, 2)
	w := &mockWorker{processFunc: func(ctx context.Context, task Task) (Result, error) {
		started <- struct{}{}
		<-ctx.Done()
		return Result{}, ctx.Err()
	}}

	e, err := New(config.EngineConfig{WorkerConcurrency: 2}, "exec", zap.NewNop(), s, w)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	taskChan := make(chan Task)
	done := make(chan error, 1)
	go func() {
		_, err := e.Run(ctx, taskChan)
		done <- err
	}()

	taskChan <- overflowTask("https://a.test")
	taskChan <- overflowTask("https://b.test")
	<-started
	<-started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Equal(t, 2, e.Summary().Failed)
	s.AssertNumberOfCalls(t, "Save", 2)
}

// TestTaskEngine_StoreFailureIsLogged verifies persistence errors never fail the task.
func TestTaskEngine_StoreFailureIsLogged(t *testing.T) {
	defer goleak.VerifyNone(t)

	core, logs := observer.New(zapcore.ErrorLevel)
	s := new(mockStore)
	s.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	e, err := New(config.EngineConfig{WorkerConcurrency: 1}, "exec", zap.New(core), s, &mockWorker{})
	require.NoError(t, err)

	summary, err := e.Run(context.Background(), buffered(overflowTask("https://a.test")))
	require.NoError(t, err)
	assert.Zero(t, summary.Failed)
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "Failed to persist task record", logs.All()[0].Message)
}

// TestTaskEngine_RejectsConcurrentRuns verifies Run is not re-entrant.
func TestTaskEngine_RejectsConcurrentRuns(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := new(mockStore)
	s.On("Save", mock.Anything, mock.Anything).Return(nil)
	release := make(chan struct{})
	entered := make(chan struct{})
	w := &mockWorker{processFunc: func(ctx context.Context, task Task) (Result, error) {
		close(entered)
		<-release
		return Result{}, nil
	}}

	e, err := New(config.EngineConfig{WorkerConcurrency: 1}, "exec", zap.NewNop(), s, w)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = e.Run(context.Background(), buffered(overflowTask("https://a.test")))
	}()
	<-entered

	_, err = e.Run(context.Background(), buffered())
	assert.EqualError(t, err, "task engine is already running")

	close(release)
	<-done
}
