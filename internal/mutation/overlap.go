// internal/mutation/overlap.go
package mutation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// OverlapResult is the decision made for one overlap cycle.
type OverlapResult struct {
	Pair      BoundedPair `json:"pair"`
	MinOffset int         `json:"min_offset"`
	MaxOffset int         `json:"max_offset"`
	// Offset is zero until the plan has been applied.
	Offset int `json:"offset"`
}

// Overlap pulls an element over its flush neighbour with a negative margin.
type Overlap struct {
	surface  Surface
	rand     Rand
	logger   *zap.Logger
	viewport Viewport
}

// NewOverlap creates an overlap mutator.
func NewOverlap(s Surface, r Rand, vp Viewport, logger *zap.Logger) *Overlap {
	return &Overlap{surface: s, rand: r, logger: logger.Named("overlap"), viewport: vp}
}

// pairs computes one random BoundedPair per node that touches another node.
func (o *Overlap) pairs(nodes []measured) ([]BoundedPair, error) {
	var out []BoundedPair
	for _, n := range nodes {
		sides, err := boundedSides(n, nodes)
		if err != nil {
			return nil, fmt.Errorf("element %d adjacency: %w", n.id, err)
		}
		if len(sides) == 0 {
			continue
		}
		bs := RandomElement(o.rand, sides)
		out = append(out, BoundedPair{Element: n.id, Side: bs.Side, Other: bs.Other})
	}
	return out, nil
}

// Plan selects a bounded pair inside c and computes the admissible offset range
// without touching the page. ok is false when fewer than two pairs exist. An
// empty range yields ErrGeometryAnomaly.
func (o *Overlap) Plan(ctx context.Context, c Container) (result OverlapResult, ok bool, err error) {
	nodes, err := collectDescendants(ctx, o.surface, c.Element, o.viewport)
	if err != nil {
		return OverlapResult{}, false, err
	}
	byID := make(map[ElementID]measured, len(nodes))
	ms := make([]measured, 0, len(nodes))
	for _, n := range nodes {
		margin, err := n.style.Margins()
		if err != nil {
			return OverlapResult{}, false, fmt.Errorf("element %d margins: %w", n.id, err)
		}
		padding, err := n.style.Paddings()
		if err != nil {
			return OverlapResult{}, false, fmt.Errorf("element %d paddings: %w", n.id, err)
		}
		m := measured{id: n.id, box: n.box, style: n.style, margin: margin, padding: padding}
		// Negative margins wider than the element invert its margin box; such
		// nodes cannot be flush with anything.
		if err := m.marginBox().Validate(); err != nil {
			o.logger.Debug("Ignoring element with inverted margin box.",
				zap.Int("element", int(n.id)), zap.Error(err))
			continue
		}
		byID[n.id] = m
		ms = append(ms, m)
	}

	pairs, err := o.pairs(ms)
	if err != nil {
		return OverlapResult{}, false, err
	}
	if len(pairs) < 2 {
		return OverlapResult{}, false, nil
	}
	pair := pairs[Shuffle(o.rand, indices(len(pairs)))[0]]

	el, other := byID[pair.Element], byID[pair.Other]
	containerBox, err := o.surface.Box(ctx, c.Element)
	if err != nil {
		return OverlapResult{}, false, fmt.Errorf("could not measure container %d: %w", c.Index, err)
	}

	minOffset := el.margin.Get(pair.Side) + el.padding.Get(pair.Side) +
		other.margin.Get(pair.Side.Opposite()) + other.padding.Get(pair.Side.Opposite())
	maxOffset := edgeDistance(el.box, containerBox, pair.Side)

	result = OverlapResult{
		Pair:      pair,
		MinOffset: int(math.Ceil(minOffset)),
		MaxOffset: int(math.Floor(maxOffset)),
	}
	if result.MinOffset > result.MaxOffset {
		return result, false, fmt.Errorf("%w: offset range [%d, %d] is empty for element %d on %s",
			ErrGeometryAnomaly, result.MinOffset, result.MaxOffset, pair.Element, pair.Side)
	}
	return result, true, nil
}

// edgeDistance is the gap between el's edge on side and the container's edge on the same side.
func edgeDistance(el, container Box, side Side) float64 {
	switch side {
	case Left:
		return el.Left - container.Left
	case Right:
		return container.Right - el.Right
	case Top:
		return el.Top - container.Top
	default:
		return container.Bottom - el.Bottom
	}
}

// elevatedZIndex stacks an element directly above a neighbour with the given z-index.
func elevatedZIndex(neighbour string) string {
	z, err := strconv.Atoi(strings.TrimSpace(neighbour))
	if err != nil {
		return "1"
	}
	return strconv.Itoa(z + 1)
}

// Mutate runs one overlap cycle on c and captures the container to path.
func (o *Overlap) Mutate(ctx context.Context, c Container, path string) (bool, error) {
	_, captured, err := o.MutateWithResult(ctx, c, path)
	return captured, err
}

// MutateWithResult is Mutate that also reports the applied decision.
func (o *Overlap) MutateWithResult(ctx context.Context, c Container, path string) (result OverlapResult, captured bool, err error) {
	logger := o.logger.With(zap.Int("container", c.Index))

	result, ok, err := o.Plan(ctx, c)
	if errors.Is(err, ErrGeometryAnomaly) {
		logger.Warn("Skipping container with inconsistent geometry.", zap.Error(err))
		return result, false, nil
	}
	if err != nil {
		return result, false, err
	}
	if !ok {
		logger.Debug("Fewer than two bounded pairs in container.")
		return result, false, nil
	}

	containerStyle, err := o.surface.Style(ctx, c.Element)
	if err != nil {
		return result, false, fmt.Errorf("could not read style of container %d: %w", c.Index, err)
	}
	containerBox, err := o.surface.Box(ctx, c.Element)
	if err != nil {
		return result, false, fmt.Errorf("could not measure container %d: %w", c.Index, err)
	}
	elStyle, err := o.surface.Style(ctx, result.Pair.Element)
	if err != nil {
		return result, false, fmt.Errorf("could not read style of element %d: %w", result.Pair.Element, err)
	}
	otherStyle, err := o.surface.Style(ctx, result.Pair.Other)
	if err != nil {
		return result, false, fmt.Errorf("could not read style of element %d: %w", result.Pair.Other, err)
	}

	marginProp := "margin-" + result.Pair.Side.String()
	var undo restorer
	defer func() {
		if rerr := undo.restore(ctx); rerr != nil {
			captured = false
			err = errors.Join(err, rerr)
		}
	}()
	if err := undo.track(ctx, o.surface, c.Element, freezeProps); err != nil {
		return result, false, err
	}
	if err := undo.track(ctx, o.surface, result.Pair.Element, []string{marginProp, "position", "z-index"}); err != nil {
		return result, false, err
	}

	if err := o.surface.SetStyle(ctx, c.Element, freezeStyle(containerStyle, containerBox.Width, containerBox.Height)); err != nil {
		return result, false, fmt.Errorf("could not freeze container %d: %w", c.Index, err)
	}

	result.Offset = RandomInt(o.rand, result.MinOffset, result.MaxOffset)
	shift := StyleSnapshot{
		marginProp: px(-float64(result.Offset)),
		"z-index":  elevatedZIndex(otherStyle.ZIndex),
	}
	if elStyle.Position == "static" || elStyle.Position == "" {
		shift["position"] = "relative"
	}
	if err := o.surface.SetStyle(ctx, result.Pair.Element, shift); err != nil {
		return result, false, fmt.Errorf("could not shift element %d: %w", result.Pair.Element, err)
	}

	box, err := o.surface.Box(ctx, c.Element)
	if err != nil {
		return result, false, fmt.Errorf("could not measure container %d: %w", c.Index, err)
	}
	if err := o.surface.Capture(ctx, box, path); err != nil {
		return result, false, fmt.Errorf("could not capture container %d: %w", c.Index, err)
	}
	logger.Debug("Captured overlap.",
		zap.Int("element", int(result.Pair.Element)),
		zap.Stringer("side", result.Pair.Side),
		zap.Int("offset", result.Offset),
		zap.Int("min_offset", result.MinOffset),
		zap.Int("max_offset", result.MaxOffset),
		zap.String("path", path))
	return result, true, nil
}
