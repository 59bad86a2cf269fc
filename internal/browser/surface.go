// internal/browser/surface.go
package browser

import (
	"context"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"

	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/layout-breaker/internal/mutation"
)

//go:embed surface.js
var surfaceScript string

//go:embed consent.js
var consentScript string

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Surface implements mutation.Surface on a live page. Elements are addressed
// through the page-side registry installed by Install.
type Surface struct {
	page Page
}

var _ mutation.Surface = (*Surface)(nil)

// NewSurface wraps page. Install must run after every navigation.
func NewSurface(page Page) *Surface {
	return &Surface{page: page}
}

// Install injects the element registry into the current document. It is a
// no-op when the registry is already present.
func (s *Surface) Install(ctx context.Context) error {
	if _, err := s.page.Eval(ctx, "() => {\n"+surfaceScript+"\n}"); err != nil {
		return fmt.Errorf("could not install layout surface: %w", err)
	}
	return nil
}

// call invokes a registry entry point and decodes its result into out (which may be nil).
func (s *Surface) call(ctx context.Context, out any, method string, args ...any) error {
	raw, err := s.page.Eval(ctx, "(...a) => window.__layoutBreaker."+method+"(...a)", args...)
	if err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	if out == nil {
		return nil
	}
	if err := json.UnmarshalFromString(raw, out); err != nil {
		return fmt.Errorf("%s: could not decode result: %w", method, err)
	}
	return nil
}

func (s *Surface) Viewport(ctx context.Context) (mutation.Viewport, error) {
	var vp mutation.Viewport
	err := s.call(ctx, &vp, "viewport")
	return vp, err
}

func (s *Surface) QueryAll(ctx context.Context, selector string) ([]mutation.ElementID, error) {
	var ids []mutation.ElementID
	err := s.call(ctx, &ids, "queryAll", selector)
	return ids, err
}

// Body returns the document body.
func (s *Surface) Body(ctx context.Context) (mutation.ElementID, error) {
	id := mutation.NoElement
	err := s.call(ctx, &id, "body")
	return id, err
}

func (s *Surface) Children(ctx context.Context, el mutation.ElementID) ([]mutation.ElementID, error) {
	var ids []mutation.ElementID
	err := s.call(ctx, &ids, "children", el)
	return ids, err
}

func (s *Surface) Parent(ctx context.Context, el mutation.ElementID) (mutation.ElementID, error) {
	id := mutation.NoElement
	err := s.call(ctx, &id, "parent", el)
	return id, err
}

func (s *Surface) Box(ctx context.Context, el mutation.ElementID) (mutation.Box, error) {
	var b mutation.Box
	if err := s.call(ctx, &b, "box", el); err != nil {
		return mutation.Box{}, err
	}
	return b, nil
}

func (s *Surface) Style(ctx context.Context, el mutation.ElementID) (mutation.Style, error) {
	var st mutation.Style
	if err := s.call(ctx, &st, "style", el); err != nil {
		return mutation.Style{}, err
	}
	return st, nil
}

func (s *Surface) InlineStyle(ctx context.Context, el mutation.ElementID, props []string) (mutation.StyleSnapshot, error) {
	snap := mutation.StyleSnapshot{}
	if props == nil {
		props = []string{}
	}
	err := s.call(ctx, &snap, "inlineStyle", el, props)
	return snap, err
}

func (s *Surface) SetStyle(ctx context.Context, el mutation.ElementID, style mutation.StyleSnapshot) error {
	if len(style) == 0 {
		return nil
	}
	return s.call(ctx, nil, "setStyle", el, style)
}

func (s *Surface) Text(ctx context.Context, el mutation.ElementID) (string, error) {
	var text string
	err := s.call(ctx, &text, "text", el)
	return text, err
}

func (s *Surface) SetText(ctx context.Context, el mutation.ElementID, text string) error {
	return s.call(ctx, nil, "setText", el, text)
}

func (s *Surface) ExtractText(ctx context.Context) (string, error) {
	var text string
	err := s.call(ctx, &text, "extractText")
	return text, err
}

// scrollOffset is the document scroll position.
type scrollOffset struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Capture screenshots box, translated from viewport to document coordinates.
func (s *Surface) Capture(ctx context.Context, box mutation.Box, path string) error {
	var off scrollOffset
	if err := s.call(ctx, &off, "scroll"); err != nil {
		return err
	}
	clip := mutation.NewBox(box.Left+off.X, box.Top+off.Y, box.Width, box.Height)
	png, err := s.page.Screenshot(ctx, &clip)
	if err != nil {
		return err
	}
	return writePNG(path, png)
}

// FullScreenshot writes a PNG of the entire page.
func (s *Surface) FullScreenshot(ctx context.Context, path string) error {
	png, err := s.page.Screenshot(ctx, nil)
	if err != nil {
		return err
	}
	return writePNG(path, png)
}

// Outline draws a colored outline around each element and returns a function
// restoring the previous outlines. Outlines do not take part in layout, so
// boxes measured afterwards are unchanged.
func (s *Surface) Outline(ctx context.Context, els []mutation.ElementID, color string) (func(context.Context) error, error) {
	props := []string{"outline", "outline-offset"}
	var snaps []mutation.StyleSnapshot
	restore := func(ctx context.Context) error {
		for i := len(snaps) - 1; i >= 0; i-- {
			if err := s.SetStyle(ctx, els[i], snaps[i]); err != nil {
				return err
			}
		}
		return nil
	}
	for _, el := range els {
		snap, err := s.InlineStyle(ctx, el, props)
		if err != nil {
			return restore, err
		}
		for _, p := range props {
			if _, ok := snap[p]; !ok {
				snap[p] = ""
			}
		}
		snaps = append(snaps, snap)
		if err := s.SetStyle(ctx, el, mutation.StyleSnapshot{"outline": "3px solid " + color, "outline-offset": "-3px"}); err != nil {
			return restore, err
		}
	}
	return restore, nil
}

// DismissConsent clicks the first approving control of a cookie or consent
// banner. It returns the clicked label, or "" when there was none.
func (s *Surface) DismissConsent(ctx context.Context) (string, error) {
	raw, err := s.page.Eval(ctx, consentScript)
	if err != nil {
		return "", fmt.Errorf("consent dismissal failed: %w", err)
	}
	var label string
	if err := json.UnmarshalFromString(raw, &label); err != nil {
		return "", fmt.Errorf("consent dismissal: could not decode result: %w", err)
	}
	return label, nil
}

func writePNG(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("could not create screenshot directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("could not write screenshot: %w", err)
	}
	return nil
}
