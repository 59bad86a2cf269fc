// internal/browser/rod.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/config"
	"github.com/xkilldash9x/layout-breaker/internal/mutation"
	"github.com/xkilldash9x/layout-breaker/internal/observability"
)

// RodDriver drives Chromium through go-rod. It either launches a local
// browser or connects to browser.remote_url. Pages open in incognito contexts.
type RodDriver struct {
	logger   *zap.Logger
	cfg      config.BrowserConfig
	network  config.NetworkConfig
	browser  *rod.Browser
	launcher *launcher.Launcher

	// ctx scopes the event listeners of all pages.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ Driver = (*RodDriver)(nil)

// NewRodDriver launches (or connects to) the browser.
func NewRodDriver(ctx context.Context, cfg config.BrowserConfig, network config.NetworkConfig, logger *zap.Logger) (*RodDriver, error) {
	d := &RodDriver{
		logger:  logger.Named("rod"),
		cfg:     cfg,
		network: network,
	}

	controlURL := cfg.RemoteURL
	if controlURL == "" {
		d.launcher = newLauncher(cfg)
		u, err := d.launcher.Context(ctx).Launch()
		if err != nil {
			return nil, fmt.Errorf("browser launch failed: %w", err)
		}
		controlURL = u
		d.logger.Info("Launched local browser.", zap.Bool("headless", cfg.Headless))
	} else {
		d.logger.Info("Connecting to remote browser.", zap.String("url", controlURL))
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		d.killLauncher()
		return nil, fmt.Errorf("browser connect failed: %w", err)
	}
	if cfg.IgnoreTLSErrors {
		if err := b.IgnoreCertErrors(true); err != nil {
			d.logger.Warn("Could not ignore certificate errors.", zap.Error(err))
		}
	}
	d.browser = b
	d.ctx, d.cancel = context.WithCancel(context.WithoutCancel(ctx))
	return d, nil
}

// newLauncher mirrors the chromedp allocator flags.
func newLauncher(cfg config.BrowserConfig) *launcher.Launcher {
	l := launcher.New().
		Headless(cfg.Headless).
		Set("disable-blink-features", "AutomationControlled").
		Set("disable-extensions").
		Set("hide-scrollbars").
		Delete("enable-automation")
	if cfg.Headless {
		l = l.Set("disable-gpu")
	}
	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := flags.Flag(strings.TrimPrefix(parts[0], "--"))
		if len(parts) == 2 {
			l = l.Set(name, parts[1])
		} else {
			l = l.Set(name)
		}
	}
	return l.NoSandbox(true)
}

func (d *RodDriver) killLauncher() {
	if d.launcher != nil {
		d.launcher.Kill()
	}
}

// NewPage opens a page in a fresh incognito context.
func (d *RodDriver) NewPage(ctx context.Context, vp mutation.Viewport) (Page, error) {
	incognito, err := d.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}

	var pg *rod.Page
	if d.cfg.Stealth {
		pg, err = stealth.Page(incognito)
	} else {
		pg, err = incognito.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		_ = incognito.Close()
		return nil, fmt.Errorf("create page: %w", err)
	}

	pctx, cancel := context.WithCancel(d.ctx)
	p := &rodPage{page: pg, context: incognito, cancel: cancel, logger: d.logger, wg: &d.wg}

	if err := p.prepare(ctx, vp, d.network.BypassCSP); err != nil {
		cancel()
		_ = incognito.Close()
		return nil, fmt.Errorf("failed to prepare tab: %w", err)
	}
	go pg.Context(pctx).EachEvent(p.onConsole, p.onException)()

	d.wg.Add(1)
	return p, nil
}

// Close waits for open pages, bounded by ctx, and stops the browser.
func (d *RodDriver) Close(ctx context.Context) error {
	d.logger.Info("Browser shutdown initiated. Waiting for open pages to close...")
	if !waitGroupDone(ctx, &d.wg) {
		d.logger.Warn("Shutdown deadline exceeded. Forcing browser termination.", zap.Error(ctx.Err()))
	}
	d.cancel()
	var err error
	if d.launcher != nil {
		// Only a browser we launched is ours to stop.
		err = d.browser.Close()
		d.launcher.Kill()
	}
	return err
}

type rodPage struct {
	page      *rod.Page
	context   *rod.Browser
	cancel    context.CancelFunc
	logger    *zap.Logger
	wg        *sync.WaitGroup
	closeOnce sync.Once
}

var _ Page = (*rodPage)(nil)

func (p *rodPage) prepare(ctx context.Context, vp mutation.Viewport, bypassCSP bool) error {
	pg := p.page.Context(ctx)
	if err := pg.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
		Mobile:            false,
	}); err != nil {
		return fmt.Errorf("set viewport: %w", err)
	}
	if bypassCSP {
		if err := (proto.PageSetBypassCSP{Enabled: true}).Call(pg); err != nil {
			return fmt.Errorf("bypass csp: %w", err)
		}
	}
	return nil
}

func (p *rodPage) onConsole(e *proto.RuntimeConsoleAPICalled) {
	args := make([]string, 0, len(e.Args))
	for _, arg := range e.Args {
		if arg.Description != "" {
			args = append(args, arg.Description)
		} else {
			args = append(args, arg.Value.String())
		}
	}
	if ce := p.logger.Check(observability.ConsoleLevel(string(e.Type)), "Page console message."); ce != nil {
		ce.Write(zap.String("type", string(e.Type)), zap.String("text", strings.Join(args, " ")))
	}
}

func (p *rodPage) onException(e *proto.RuntimeExceptionThrown) {
	if e.ExceptionDetails == nil {
		return
	}
	text := e.ExceptionDetails.Text
	if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
		text = e.ExceptionDetails.Exception.Description
	}
	p.logger.Debug("Page error.", zap.String("text", text))
}

func (p *rodPage) Navigate(ctx context.Context, url string) error {
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("waiting for %s to load: %w", url, err)
	}
	return nil
}

func (p *rodPage) Eval(ctx context.Context, fn string, args ...any) (string, error) {
	expr, err := callExpression(fn, args)
	if err != nil {
		return "", err
	}
	res, err := p.page.Context(ctx).Eval("() => " + expr)
	if err != nil {
		return "", fmt.Errorf("script evaluation failed: %w", err)
	}
	return res.Value.Str(), nil
}

func (p *rodPage) Screenshot(ctx context.Context, clip *mutation.Box) ([]byte, error) {
	req := &proto.PageCaptureScreenshot{Format: proto.PageCaptureScreenshotFormatPng}
	if clip == nil {
		buf, err := p.page.Context(ctx).Screenshot(true, req)
		if err != nil {
			return nil, fmt.Errorf("full page screenshot failed: %w", err)
		}
		return buf, nil
	}

	region := clipRegion(*clip)
	req.CaptureBeyondViewport = true
	req.Clip = &proto.PageViewport{
		X:      region.Left,
		Y:      region.Top,
		Width:  region.Width,
		Height: region.Height,
		Scale:  1,
	}
	buf, err := p.page.Context(ctx).Screenshot(false, req)
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return buf, nil
}

// Close closes the page and disposes its incognito context.
func (p *rodPage) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.cancel()
		err = p.page.Close()
		if cerr := p.context.Close(); cerr != nil && err == nil {
			err = cerr
		}
		p.wg.Done()
	})
	return err
}
