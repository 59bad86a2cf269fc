// internal/mutation/engine.go
package mutation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Kind names a manipulation.
type Kind string

const (
	KindUntouched Kind = "untouched"
	KindOverflow  Kind = "overflow"
	KindOverlap   Kind = "overlap"
)

// AllKinds lists every manipulation in the order tasks are generated.
var AllKinds = []Kind{KindUntouched, KindOverflow, KindOverlap}

// ParseKind resolves a manipulation name case-insensitively.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownManipulation, s)
}

func (k Kind) String() string { return string(k) }

// Mutator performs one mutate, capture and restore cycle on a container.
// It returns true only when a screenshot was written to path.
type Mutator interface {
	Mutate(ctx context.Context, c Container, path string) (bool, error)
}

// PathFunc names the screenshot file for a container.
type PathFunc func(c Container) string

// Options are the tunables of the mutators.
type Options struct {
	WordsPerStep   int
	MaxGrowthSteps int
}

const (
	defaultWordsPerStep   = 3
	defaultMaxGrowthSteps = 20
)

func (o Options) withDefaults() Options {
	if o.WordsPerStep <= 0 {
		o.WordsPerStep = defaultWordsPerStep
	}
	if o.MaxGrowthSteps <= 0 {
		o.MaxGrowthSteps = defaultMaxGrowthSteps
	}
	return o
}

// Engine drives the mutators over the containers of one page.
type Engine struct {
	surface  Surface
	rand     Rand
	viewport Viewport
	paths    PathFunc
	opts     Options
	logger   *zap.Logger
}

// NewEngine creates an engine bound to one page and viewport.
func NewEngine(s Surface, r Rand, vp Viewport, paths PathFunc, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		surface:  s,
		rand:     r,
		viewport: vp,
		paths:    paths,
		opts:     opts.withDefaults(),
		logger:   logger.Named("mutation"),
	}
}

// Mutator builds the mutator for kind. The overflow vocabulary is read from the
// page once per call.
func (e *Engine) Mutator(ctx context.Context, kind Kind) (Mutator, error) {
	switch kind {
	case KindUntouched:
		return NewUntouched(e.surface), nil
	case KindOverflow:
		text, err := e.surface.ExtractText(ctx)
		if err != nil {
			return nil, fmt.Errorf("could not extract page text: %w", err)
		}
		return NewOverflow(e.surface, e.rand, e.viewport, Vocabulary(text), e.opts, e.logger), nil
	case KindOverlap:
		return NewOverlap(e.surface, e.rand, e.viewport, e.logger), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownManipulation, kind)
}

// RunManipulation applies kind to each container in order, one at a time, and
// returns the indices of the containers that produced a screenshot. A surface
// error stops the run; the indices collected so far are returned with it.
// Cancellation is only observed between containers.
func (e *Engine) RunManipulation(ctx context.Context, kind Kind, containers []Container) ([]int, error) {
	m, err := e.Mutator(ctx, kind)
	if err != nil {
		return nil, err
	}

	logger := e.logger.With(zap.Stringer("manipulation", kind))
	succeeded := make([]int, 0, len(containers))
	for _, c := range containers {
		if err := ctx.Err(); err != nil {
			return succeeded, err
		}
		ok, err := m.Mutate(ctx, c, e.paths(c))
		if err != nil {
			return succeeded, fmt.Errorf("%s on container %d: %w", kind, c.Index, err)
		}
		if ok {
			succeeded = append(succeeded, c.Index)
		}
	}
	logger.Debug("Manipulation finished.",
		zap.Int("containers", len(containers)),
		zap.Int("captured", len(succeeded)))
	return succeeded, nil
}
