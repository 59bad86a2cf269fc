// internal/engine/engine.go
package engine

import (
	"context"
	"fmt"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
	"github.com/xkilldash9x/layout-breaker/internal/store"
)

// -- Interfaces for Dependency Inversion --

// Worker processes one task. A worker may return a partial Result together
// with an error; whatever it reports is persisted.
type Worker interface {
	ProcessTask(ctx context.Context, task Task) (Result, error)
}

// Store persists the manifest record of a finished task.
type Store interface {
	Save(ctx context.Context, rec store.Record) error
}

// Task is one (site, viewport, manipulation) unit of work.
type Task struct {
	Site         string
	Viewport     mutation.Viewport
	Manipulation mutation.Kind
}

func (t Task) String() string {
	return fmt.Sprintf("%s %s %s", t.Manipulation, t.Site, t.Viewport)
}

// Result is what a worker reports for a task.
type Result struct {
	// Containers is the number of containers selected on the page.
	Containers int
	Captures   []store.Capture
}

// Plan expands the run matrix in site, viewport, manipulation order.
func Plan(sites []string, viewports []mutation.Viewport, kinds []mutation.Kind) []Task {
	tasks := make([]Task, 0, len(sites)*len(viewports)*len(kinds))
	for _, site := range sites {
		for _, vp := range viewports {
			for _, kind := range kinds {
				tasks = append(tasks, Task{Site: site, Viewport: vp, Manipulation: kind})
			}
		}
	}
	return tasks
}

// Feed sends tasks on the returned channel and closes it when all were sent
// or ctx is done.
func Feed(ctx context.Context, tasks []Task) <-chan Task {
	ch := make(chan Task)
	go func() {
		defer close(ch)
		for _, t := range tasks {
			select {
			case <-ctx.Done():
				return
			case ch <- t:
			}
		}
	}()
	return ch
}
