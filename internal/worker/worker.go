// internal/worker/worker.go
package worker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/artifacts"
	"github.com/xkilldash9x/layout-breaker/internal/browser"
	"github.com/xkilldash9x/layout-breaker/internal/config"
	"github.com/xkilldash9x/layout-breaker/internal/engine"
	"github.com/xkilldash9x/layout-breaker/internal/mutation"
	"github.com/xkilldash9x/layout-breaker/internal/store"
)

// Overlay colors of the entire-page debug screenshots.
const (
	succeededColor = "orange"
	containerColor = "red"
)

// PageOpener opens an isolated browser tab. browser.Driver satisfies it.
type PageOpener interface {
	NewPage(ctx context.Context, vp mutation.Viewport) (browser.Page, error)
}

// Surface is the page capability a task needs on top of mutation.Surface.
type Surface interface {
	mutation.Surface
	Install(ctx context.Context) error
	DismissConsent(ctx context.Context) (string, error)
	FullScreenshot(ctx context.Context, path string) error
	Outline(ctx context.Context, els []mutation.ElementID, color string) (func(context.Context) error, error)
}

// SurfaceFactory wraps an opened page.
type SurfaceFactory func(page browser.Page) Surface

// LayoutWorker runs one (site, viewport, manipulation) task on a fresh tab.
type LayoutWorker struct {
	cfg        *config.Config
	pages      PageOpener
	layout     artifacts.Layout
	logger     *zap.Logger
	newSurface SurfaceFactory
	seed       uint64
}

var _ engine.Worker = (*LayoutWorker)(nil)

// Option is a function that configures a LayoutWorker.
type Option func(*LayoutWorker)

// WithSurfaceFactory replaces the JS surface, primarily for tests.
func WithSurfaceFactory(f SurfaceFactory) Option {
	return func(w *LayoutWorker) {
		w.newSurface = f
	}
}

// NewLayoutWorker initializes a worker writing its screenshots under layout.
func NewLayoutWorker(
	cfg *config.Config,
	pages PageOpener,
	layout artifacts.Layout,
	logger *zap.Logger,
	opts ...Option,
) (*LayoutWorker, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if pages == nil {
		return nil, errors.New("page opener cannot be nil")
	}

	w := &LayoutWorker{
		cfg:    cfg,
		pages:  pages,
		layout: layout,
		logger: logger.Named("worker"),
		newSurface: func(page browser.Page) Surface {
			return browser.NewSurface(page)
		},
		seed: cfg.Run.Seed,
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.seed == 0 {
		w.seed = uint64(time.Now().UnixNano())
	}
	w.logger.Debug("Worker initialized", zap.Uint64("seed", w.seed), zap.String("folder", layout.Root))
	return w, nil
}

// rand returns the random source of a task. Each task draws from its own
// stream of the run seed, so a fixed seed reproduces a task regardless of
// scheduling.
func (w *LayoutWorker) rand(task engine.Task) *rand.Rand {
	h := fnv.New64a()
	_, _ = h.Write([]byte(task.String()))
	return rand.New(rand.NewPCG(w.seed, h.Sum64()))
}

// ProcessTask loads the site, selects containers, runs the manipulation and
// takes the entire-page screenshots. Captures taken before a failure are
// returned with the error.
func (w *LayoutWorker) ProcessTask(ctx context.Context, task engine.Task) (engine.Result, error) {
	logger := w.logger.With(
		zap.String("site", task.Site),
		zap.Stringer("viewport", task.Viewport),
		zap.Stringer("manipulation", task.Manipulation))

	var result engine.Result

	page, err := w.pages.NewPage(ctx, task.Viewport)
	if err != nil {
		return result, fmt.Errorf("could not open page: %w", err)
	}
	defer func() {
		if err := page.Close(); err != nil {
			logger.Debug("Failed to close page", zap.Error(err))
		}
	}()

	if err := w.load(ctx, page, task.Site, logger); err != nil {
		return result, err
	}

	s := w.newSurface(page)
	if err := s.Install(ctx); err != nil {
		return result, fmt.Errorf("could not install page surface: %w", err)
	}
	if label, err := s.DismissConsent(ctx); err != nil {
		logger.Debug("Consent dismissal failed", zap.Error(err))
	} else if label != "" {
		logger.Debug("Dismissed consent banner", zap.String("label", label))
	}

	vp, err := s.Viewport(ctx)
	if err != nil {
		return result, fmt.Errorf("could not read viewport: %w", err)
	}
	containers, err := mutation.SelectContainers(ctx, s, vp, mutation.SelectOptions{
		DupesAllowed: w.cfg.Mutation.DupesAllowed,
		Indices:      w.cfg.Run.ContainerIndexes,
	})
	if err != nil {
		return result, err
	}
	result.Containers = len(containers)

	names := w.layout.Task(task.Site, task.Viewport, task.Manipulation)
	eng := mutation.NewEngine(s, w.rand(task), vp, names.ContainerPath, mutation.Options{
		WordsPerStep:   w.cfg.Mutation.WordsPerStep,
		MaxGrowthSteps: w.cfg.Mutation.MaxGrowthSteps,
	}, logger)

	indices, runErr := eng.RunManipulation(ctx, task.Manipulation, containers)
	byIndex := make(map[int]mutation.Container, len(containers))
	for _, c := range containers {
		byIndex[c.Index] = c
	}
	succeeded := make([]mutation.ElementID, 0, len(indices))
	for _, idx := range indices {
		c := byIndex[idx]
		result.Captures = append(result.Captures, store.Capture{Index: idx, Path: names.ContainerPath(c)})
		succeeded = append(succeeded, c.Element)
	}

	logger.Info(fmt.Sprintf("Number of %s rects is %d (out of %d containers) for site %s in %s.",
		strings.ToUpper(string(task.Manipulation)), len(indices), len(containers), task.Site, task.Viewport))

	if runErr != nil {
		return result, runErr
	}

	all := make([]mutation.ElementID, len(containers))
	for i, c := range containers {
		all[i] = c.Element
	}
	if err := w.entirePages(ctx, s, names, succeeded, all); err != nil {
		return result, err
	}
	return result, nil
}

// load navigates to site and waits for the page to settle. An unreachable
// site is logged and the task continues on whatever rendered.
func (w *LayoutWorker) load(ctx context.Context, page browser.Page, site string, logger *zap.Logger) error {
	navCtx := ctx
	if timeout := w.cfg.Network.NavigationTimeout; timeout > 0 {
		var cancel context.CancelFunc
		navCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := page.Navigate(navCtx, site); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("navigation interrupted: %w", err)
		}
		logger.Warn("Cannot access the site. Is there a working Internet connection?", zap.Error(err))
	}

	if wait := w.cfg.Network.PostLoadWait; wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return nil
}

// entirePages writes the plain page shot and, when overlays are on, the shots
// outlining the succeeded containers and then every container.
func (w *LayoutWorker) entirePages(ctx context.Context, s Surface, names artifacts.Task, succeeded, all []mutation.ElementID) (err error) {
	if err := s.FullScreenshot(ctx, names.PagePath()); err != nil {
		return fmt.Errorf("could not capture entire page: %w", err)
	}
	if !w.cfg.Run.DebugOverlays {
		return nil
	}

	restoreCtx := context.WithoutCancel(ctx)
	restoreSucceeded, err := s.Outline(ctx, succeeded, succeededColor)
	defer func() {
		if rerr := restoreSucceeded(restoreCtx); rerr != nil {
			err = errors.Join(err, fmt.Errorf("could not restore outlines: %w", rerr))
		}
	}()
	if err != nil {
		return fmt.Errorf("could not outline succeeded containers: %w", err)
	}
	if err := s.FullScreenshot(ctx, names.SucceededPath()); err != nil {
		return fmt.Errorf("could not capture outlined page: %w", err)
	}

	restoreAll, err := s.Outline(ctx, all, containerColor)
	defer func() {
		if rerr := restoreAll(restoreCtx); rerr != nil {
			err = errors.Join(err, fmt.Errorf("could not restore outlines: %w", rerr))
		}
	}()
	if err != nil {
		return fmt.Errorf("could not outline containers: %w", err)
	}
	if err := s.FullScreenshot(ctx, names.ContainersPath()); err != nil {
		return fmt.Errorf("could not capture outlined page: %w", err)
	}
	return nil
}
