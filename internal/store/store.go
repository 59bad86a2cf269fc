// internal/store/store.go
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

// Capture is one screenshot written for a container.
type Capture struct {
	Index int    `json:"index"`
	Path  string `json:"path"`
}

// Record is the manifest entry of one task: a site rendered at a viewport
// under one manipulation.
type Record struct {
	ID           string            `json:"id"`
	ExecutionID  string            `json:"execution_id"`
	Site         string            `json:"site"`
	Viewport     mutation.Viewport `json:"viewport"`
	Manipulation mutation.Kind     `json:"manipulation"`
	// Containers is the number of containers selected on the page.
	Containers int       `json:"containers"`
	Captures   []Capture `json:"captures"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Indices returns the container indices that produced a capture.
func (r Record) Indices() []int {
	out := make([]int, len(r.Captures))
	for i, c := range r.Captures {
		out[i] = c.Index
	}
	return out
}

// Store persists task records.
type Store interface {
	Save(ctx context.Context, rec Record) error
	ByExecution(ctx context.Context, executionID string) ([]Record, error)
	Close() error
}

// Open selects a store from a URL: postgres:// or postgresql:// use Postgres,
// sqlite://path or a path ending in .db use SQLite, and an empty URL keeps
// nothing.
func Open(ctx context.Context, url string, logger *zap.Logger) (Store, error) {
	switch {
	case url == "":
		return Discard{}, nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		return NewPostgres(ctx, url, logger)
	case strings.HasPrefix(url, "sqlite://"), strings.HasSuffix(url, ".db"):
		path, err := homedir.Expand(strings.TrimPrefix(url, "sqlite://"))
		if err != nil {
			return nil, fmt.Errorf("invalid sqlite path: %w", err)
		}
		return OpenSQLite(ctx, path, logger)
	default:
		return nil, fmt.Errorf("unsupported store url %q", url)
	}
}

// Discard drops every record.
type Discard struct{}

func (Discard) Save(context.Context, Record) error { return nil }

func (Discard) ByExecution(context.Context, string) ([]Record, error) { return nil, nil }

func (Discard) Close() error { return nil }
