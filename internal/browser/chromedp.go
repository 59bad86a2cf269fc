// internal/browser/chromedp.go
package browser

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	cdpruntime "github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/browser/stealth"
	"github.com/xkilldash9x/layout-breaker/internal/config"
	"github.com/xkilldash9x/layout-breaker/internal/mutation"
	"github.com/xkilldash9x/layout-breaker/internal/observability"
)

// ChromedpDriver manages one Chromium process through chromedp. Every page
// lives in its own browser context.
type ChromedpDriver struct {
	logger  *zap.Logger
	cfg     config.BrowserConfig
	network config.NetworkConfig
	persona stealth.Persona

	// allocatorCtx manages the browser process. All tab contexts derive from browserCtx.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	// wg tracks open pages for a graceful shutdown.
	wg sync.WaitGroup
}

var _ Driver = (*ChromedpDriver)(nil)

// NewChromedpDriver launches the browser and waits until it answers.
func NewChromedpDriver(ctx context.Context, cfg config.BrowserConfig, network config.NetworkConfig, logger *zap.Logger) (*ChromedpDriver, error) {
	d := &ChromedpDriver{
		logger:  logger.Named("chromedp"),
		cfg:     cfg,
		network: network,
		persona: stealth.DefaultPersona,
	}

	d.logger.Info("Initializing browser allocator...", zap.Bool("headless", cfg.Headless))
	d.allocatorCtx, d.allocatorCancel = chromedp.NewExecAllocator(ctx, buildAllocatorOptions(cfg, d.persona)...)
	d.browserCtx, d.browserCancel = chromedp.NewContext(d.allocatorCtx)

	// The first Run on a context starts the browser; it must not carry a timeout
	// or the process dies with it.
	if err := chromedp.Run(d.browserCtx); err != nil {
		d.browserCancel()
		d.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start: %w", err)
	}

	d.logger.Info("Browser launched successfully and is responsive.")
	return d, nil
}

// buildAllocatorOptions assembles the flags for a configurable browser that
// does not announce automation.
func buildAllocatorOptions(cfg config.BrowserConfig, persona stealth.Persona) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)

	// Later flags override the defaults; a false flag is left off the command line.
	opts = append(opts,
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("ignore-certificate-errors", cfg.IgnoreTLSErrors),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.Flag("hide-scrollbars", true),
	)
	if cfg.Stealth {
		opts = append(opts, chromedp.UserAgent(persona.UserAgent))
	}

	// Custom arguments from config.yaml.
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		flagName := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(flagName, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(flagName, true))
		}
	}

	// Flags required inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
		)
	}
	return opts
}

// NewPage opens a tab in a new browser context and prepares it for measurement.
func (d *ChromedpDriver) NewPage(ctx context.Context, vp mutation.Viewport) (Page, error) {
	tabCtx, cancel := chromedp.NewContext(d.browserCtx, chromedp.WithNewBrowserContext())
	p := &chromedpPage{ctx: tabCtx, cancel: cancel, logger: d.logger, wg: &d.wg}

	chromedp.ListenTarget(tabCtx, p.handleEvent)

	tasks := chromedp.Tasks{
		emulation.SetDeviceMetricsOverride(int64(vp.Width), int64(vp.Height), 1, false),
	}
	if d.network.BypassCSP {
		tasks = append(tasks, page.SetBypassCSP(true))
	}
	if d.cfg.Stealth {
		tasks = append(tasks, stealth.Apply(d.persona, d.logger))
	}
	if err := p.run(ctx, tasks...); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}

	d.wg.Add(1)
	return p, nil
}

// Close waits for open pages, bounded by ctx, and terminates the browser.
func (d *ChromedpDriver) Close(ctx context.Context) error {
	d.logger.Info("Browser shutdown initiated. Waiting for open pages to close...")
	if !waitGroupDone(ctx, &d.wg) {
		d.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}
	d.browserCancel()
	d.allocatorCancel()
	<-d.allocatorCtx.Done()
	return nil
}

// waitGroupDone waits for wg and reports false when ctx ends first.
func waitGroupDone(ctx context.Context, wg *sync.WaitGroup) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

type chromedpPage struct {
	ctx       context.Context
	cancel    context.CancelFunc
	logger    *zap.Logger
	wg        *sync.WaitGroup
	closeOnce sync.Once
}

var _ Page = (*chromedpPage)(nil)

// run executes actions on the tab, bounded by both the tab and the caller context.
func (p *chromedpPage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := CombineContext(p.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// handleEvent forwards page console output and uncaught exceptions to the logger.
// It runs on the event loop and must not block.
func (p *chromedpPage) handleEvent(ev any) {
	switch e := ev.(type) {
	case *cdpruntime.EventConsoleAPICalled:
		args := make([]string, 0, len(e.Args))
		for _, arg := range e.Args {
			if len(arg.Value) > 0 {
				args = append(args, string(arg.Value))
			} else {
				args = append(args, arg.Description)
			}
		}
		if ce := p.logger.Check(observability.ConsoleLevel(string(e.Type)), "Page console message."); ce != nil {
			ce.Write(zap.String("type", string(e.Type)), zap.String("text", strings.Join(args, " ")))
		}
	case *cdpruntime.EventExceptionThrown:
		if e.ExceptionDetails == nil {
			return
		}
		text := e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			text = e.ExceptionDetails.Exception.Description
		}
		p.logger.Debug("Page error.", zap.String("text", text))
	}
}

func (p *chromedpPage) Navigate(ctx context.Context, url string) error {
	if err := p.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

func (p *chromedpPage) Eval(ctx context.Context, fn string, args ...any) (string, error) {
	expr, err := callExpression(fn, args)
	if err != nil {
		return "", err
	}
	var out string
	if err := p.run(ctx, chromedp.Evaluate(expr, &out)); err != nil {
		return "", fmt.Errorf("script evaluation failed: %w", err)
	}
	return out, nil
}

func (p *chromedpPage) Screenshot(ctx context.Context, clip *mutation.Box) ([]byte, error) {
	var buf []byte
	if clip == nil {
		// Quality 100 makes chromedp capture PNG.
		if err := p.run(ctx, chromedp.FullScreenshot(&buf, 100)); err != nil {
			return nil, fmt.Errorf("full page screenshot failed: %w", err)
		}
		return buf, nil
	}

	region := clipRegion(*clip)
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithCaptureBeyondViewport(true).
			WithClip(&page.Viewport{
				X:      region.Left,
				Y:      region.Top,
				Width:  region.Width,
				Height: region.Height,
				Scale:  1,
			}).
			Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Close cancels the tab context, which disposes its browser context.
func (p *chromedpPage) Close() error {
	p.closeOnce.Do(func() {
		p.cancel()
		p.wg.Done()
	})
	return nil
}
