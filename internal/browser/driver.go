// internal/browser/driver.go
package browser

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/layout-breaker/internal/config"
	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

// Page is one isolated browser tab.
type Page interface {
	// Navigate loads url and waits for the load event.
	Navigate(ctx context.Context, url string) error
	// Eval calls the JavaScript function expression fn with JSON-encodable
	// args and returns the JSON encoding of its result ("null" for undefined).
	Eval(ctx context.Context, fn string, args ...any) (string, error)
	// Screenshot captures a PNG of clip, given in document coordinates, or of
	// the entire page when clip is nil.
	Screenshot(ctx context.Context, clip *mutation.Box) ([]byte, error)
	// Close releases the tab and its browser context.
	Close() error
}

// Driver owns a browser process and hands out isolated pages.
type Driver interface {
	// NewPage opens a tab in a fresh browser context sized to vp.
	NewPage(ctx context.Context, vp mutation.Viewport) (Page, error)
	// Close waits for open pages (bounded by ctx) and stops the browser.
	Close(ctx context.Context) error
}

// NewDriver launches the driver named in the browser configuration.
func NewDriver(ctx context.Context, cfg *config.Config, logger *zap.Logger) (Driver, error) {
	switch cfg.Browser.Driver {
	case config.DriverChromedp:
		return NewChromedpDriver(ctx, cfg.Browser, cfg.Network, logger)
	case config.DriverRod:
		return NewRodDriver(ctx, cfg.Browser, cfg.Network, logger)
	default:
		return nil, fmt.Errorf("unsupported browser driver %q", cfg.Browser.Driver)
	}
}

// callExpression builds an expression that applies fn to args and serializes
// the result, so both drivers only ever move strings across the protocol.
func callExpression(fn string, args []any) (string, error) {
	if args == nil {
		args = []any{}
	}
	encoded, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(args)
	if err != nil {
		return "", fmt.Errorf("could not encode script arguments: %w", err)
	}
	return fmt.Sprintf("JSON.stringify(((%s)(...%s)) ?? null)", fn, encoded), nil
}

// clipRegion clamps a capture region to at least one pixel in each direction;
// the protocol rejects empty clips.
func clipRegion(b mutation.Box) mutation.Box {
	w, h := b.Width, b.Height
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return mutation.NewBox(b.Left, b.Top, w, h)
}
