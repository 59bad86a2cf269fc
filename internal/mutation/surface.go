// internal/mutation/surface.go
package mutation

import (
	"context"
	"strings"
)

// ElementID is an opaque handle to a DOM element issued by a Surface.
// Handles stay valid for the lifetime of the page they came from.
type ElementID int

// NoElement is returned by Surface.Parent at the top of the tree.
const NoElement ElementID = -1

// defaultLineHeight is the multiplier browsers use for `line-height: normal`.
const defaultLineHeight = 1.2

// Surface is the rendering capability the engine mutates and measures. Layout is
// recomputed synchronously after each mutation, so a query issued after a
// mutation always observes it.
type Surface interface {
	// Viewport returns the current window size.
	Viewport(ctx context.Context) (Viewport, error)
	// QueryAll returns the elements matching a CSS selector in document order.
	QueryAll(ctx context.Context, selector string) ([]ElementID, error)
	// Children returns the element children of el in document order.
	Children(ctx context.Context, el ElementID) ([]ElementID, error)
	// Parent returns the parent element of el, or NoElement at the root.
	Parent(ctx context.Context, el ElementID) (ElementID, error)
	// Box returns the current bounding client rect of el.
	Box(ctx context.Context, el ElementID) (Box, error)
	// Style returns the computed style subset and layout metrics of el.
	Style(ctx context.Context, el ElementID) (Style, error)
	// InlineStyle snapshots the inline values of the given properties.
	InlineStyle(ctx context.Context, el ElementID, props []string) (StyleSnapshot, error)
	// SetStyle assigns inline properties; an empty value removes the property.
	SetStyle(ctx context.Context, el ElementID, style StyleSnapshot) error
	// Text returns the data of el's last non-blank direct text node.
	Text(ctx context.Context, el ElementID) (string, error)
	// SetText replaces the data of the node Text reads. Sibling elements are
	// left in place.
	SetText(ctx context.Context, el ElementID, text string) error
	// Capture writes a PNG of the given viewport-relative box to path.
	Capture(ctx context.Context, box Box, path string) error
	// ExtractText returns the visible text of the document body.
	ExtractText(ctx context.Context) (string, error)
}

// StyleSnapshot maps CSS property names (kebab-case) to inline values.
type StyleSnapshot map[string]string

// RawEdges carries four computed lengths before parsing.
type RawEdges struct {
	Top    string `json:"top"`
	Right  string `json:"right"`
	Bottom string `json:"bottom"`
	Left   string `json:"left"`
}

// Style is the subset of computed style and layout metrics the heuristics read.
type Style struct {
	TagName    string   `json:"tagName"`
	Display    string   `json:"display"`
	Visibility string   `json:"visibility"`
	Opacity    string   `json:"opacity"`
	Clip       string   `json:"clip"`
	Position   string   `json:"position"`
	ZIndex     string   `json:"zIndex"`
	WhiteSpace string   `json:"whiteSpace"`
	OverflowX  string   `json:"overflowX"`
	OverflowY  string   `json:"overflowY"`
	FontSize   string   `json:"fontSize"`
	LineHeight string   `json:"lineHeight"`
	Margin     RawEdges `json:"margin"`
	Padding    RawEdges `json:"padding"`

	OffsetWidth  float64 `json:"offsetWidth"`
	OffsetHeight float64 `json:"offsetHeight"`
	ScrollWidth  float64 `json:"scrollWidth"`
	ScrollHeight float64 `json:"scrollHeight"`

	// HasDirectText is true when el owns a non-blank text node as a direct child.
	HasDirectText bool `json:"hasDirectText"`
}

// Margins parses the computed margins.
func (s Style) Margins() (Edges, error) {
	return parseEdges(s.Margin.Top, s.Margin.Right, s.Margin.Bottom, s.Margin.Left)
}

// Paddings parses the computed paddings.
func (s Style) Paddings() (Edges, error) {
	return parseEdges(s.Padding.Top, s.Padding.Right, s.Padding.Bottom, s.Padding.Left)
}

// FontSizePx parses the computed font size.
func (s Style) FontSizePx() (float64, error) {
	return ParsePx(s.FontSize)
}

// LineHeightPx resolves the computed line height, mapping `normal` to 1.2em.
func (s Style) LineHeightPx() (float64, error) {
	if strings.TrimSpace(s.LineHeight) == "normal" || s.LineHeight == "" {
		fs, err := s.FontSizePx()
		if err != nil {
			return 0, err
		}
		return fs * defaultLineHeight, nil
	}
	return ParsePx(s.LineHeight)
}

// ClipsOverflow reports whether content past the box is hidden or scrolled away.
func (s Style) ClipsOverflow() bool {
	clips := func(v string) bool {
		switch v {
		case "hidden", "clip", "scroll", "auto":
			return true
		}
		return false
	}
	return clips(s.OverflowX) || clips(s.OverflowY)
}

// ScrollArea is the rendered content area including overflow.
func (s Style) ScrollArea() float64 {
	return s.ScrollWidth * s.ScrollHeight
}

// IsBody reports whether the element is the document body.
func (s Style) IsBody() bool {
	return strings.EqualFold(s.TagName, "body")
}

// snapshot reads the inline properties of el so they can be restored later.
func snapshot(ctx context.Context, s Surface, el ElementID, props []string) (StyleSnapshot, error) {
	snap, err := s.InlineStyle(ctx, el, props)
	if err != nil {
		return nil, err
	}
	if snap == nil {
		snap = StyleSnapshot{}
	}
	// Properties the surface did not report are treated as unset.
	for _, p := range props {
		if _, ok := snap[p]; !ok {
			snap[p] = ""
		}
	}
	return snap, nil
}
