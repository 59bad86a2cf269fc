// internal/mutation/geometry.go
package mutation

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// -- Core Structures: Boxes and Edges --

// Box is an element's border box in CSS pixels, as reported by getBoundingClientRect.
type Box struct {
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Right  float64 `json:"right"`
	Bottom float64 `json:"bottom"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// NewBox builds a Box from its origin and size.
func NewBox(left, top, width, height float64) Box {
	return Box{
		Left:   left,
		Top:    top,
		Right:  left + width,
		Bottom: top + height,
		Width:  width,
		Height: height,
	}
}

// Area returns width times height.
func (b Box) Area() float64 {
	return b.Width * b.Height
}

// Validate rejects boxes with non-finite coordinates (ErrInvalidPixelValue) or
// edges out of order (ErrInvertedInterval).
func (b Box) Validate() error {
	for _, v := range []float64{b.Left, b.Top, b.Right, b.Bottom, b.Width, b.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite coordinate in %+v", ErrInvalidPixelValue, b)
		}
	}
	if b.Left > b.Right || b.Top > b.Bottom {
		return fmt.Errorf("%w: box %+v", ErrInvertedInterval, b)
	}
	return nil
}

// Expand returns the box grown outward by the given edges. Negative edges shrink it.
func (b Box) Expand(e Edges) Box {
	return NewBox(b.Left-e.Left, b.Top-e.Top, b.Width+e.Left+e.Right, b.Height+e.Top+e.Bottom)
}

// Rounded snaps every coordinate to the nearest whole pixel.
func (b Box) Rounded() Box {
	return Box{
		Left:   math.Round(b.Left),
		Top:    math.Round(b.Top),
		Right:  math.Round(b.Right),
		Bottom: math.Round(b.Bottom),
		Width:  math.Round(b.Width),
		Height: math.Round(b.Height),
	}
}

// Edge returns the coordinate of the given side.
func (b Box) Edge(s Side) float64 {
	switch s {
	case Left:
		return b.Left
	case Right:
		return b.Right
	case Top:
		return b.Top
	default:
		return b.Bottom
	}
}

// Edges holds per-side sizes such as margins or paddings.
type Edges struct {
	Top, Right, Bottom, Left float64
}

// Get returns the size on the given side.
func (e Edges) Get(s Side) float64 {
	switch s {
	case Left:
		return e.Left
	case Right:
		return e.Right
	case Top:
		return e.Top
	default:
		return e.Bottom
	}
}

// Add sums two edge sets side by side.
func (e Edges) Add(o Edges) Edges {
	return Edges{Top: e.Top + o.Top, Right: e.Right + o.Right, Bottom: e.Bottom + o.Bottom, Left: e.Left + o.Left}
}

// Viewport is the emulated window size of a task.
type Viewport struct {
	Width  int `json:"width" mapstructure:"width" yaml:"width"`
	Height int `json:"height" mapstructure:"height" yaml:"height"`
}

// Area returns the viewport area in square pixels.
func (v Viewport) Area() float64 {
	return float64(v.Width) * float64(v.Height)
}

func (v Viewport) String() string {
	return fmt.Sprintf("%dx%d", v.Width, v.Height)
}

// -- Sides --

// Side labels one edge of a box.
type Side int

const (
	Left Side = iota
	Right
	Top
	Bottom
)

// AllSides lists sides in the order adjacency is tested.
var AllSides = []Side{Left, Right, Bottom, Top}

func (s Side) String() string {
	switch s {
	case Left:
		return "left"
	case Right:
		return "right"
	case Top:
		return "top"
	case Bottom:
		return "bottom"
	}
	return fmt.Sprintf("side(%d)", int(s))
}

// Opposite returns the mirrored side.
func (s Side) Opposite() Side {
	switch s {
	case Left:
		return Right
	case Right:
		return Left
	case Top:
		return Bottom
	default:
		return Top
	}
}

// Horizontal reports whether the side lies on the x axis (left or right).
func (s Side) Horizontal() bool {
	return s == Left || s == Right
}

// -- Intervals and Pixel Values --

// Overlaps reports whether the half-open ranges [aStart, aEnd) and [bStart, bEnd)
// share a non-empty intersection. Inverted ranges are rejected.
func Overlaps(aStart, aEnd, bStart, bEnd float64) (bool, error) {
	if aStart > aEnd || bStart > bEnd {
		return false, fmt.Errorf("%w: [%v, %v) vs [%v, %v)", ErrInvertedInterval, aStart, aEnd, bStart, bEnd)
	}
	return math.Max(aStart, bStart) < math.Min(aEnd, bEnd), nil
}

// ParsePx parses a computed CSS length such as "12px", "0" or "-3.5px".
// Keywords like "auto" or "normal" are not lengths and yield ErrInvalidPixelValue.
func ParsePx(value string) (float64, error) {
	v := strings.TrimSpace(value)
	v = strings.TrimSuffix(v, "px")
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPixelValue, value)
	}
	return f, nil
}

// parseEdges parses four computed lengths in top, right, bottom, left order.
func parseEdges(top, right, bottom, left string) (Edges, error) {
	var e Edges
	var err error
	if e.Top, err = ParsePx(top); err != nil {
		return Edges{}, err
	}
	if e.Right, err = ParsePx(right); err != nil {
		return Edges{}, err
	}
	if e.Bottom, err = ParsePx(bottom); err != nil {
		return Edges{}, err
	}
	if e.Left, err = ParsePx(left); err != nil {
		return Edges{}, err
	}
	return e, nil
}

// px formats a length for an inline style.
func px(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "px"
}
