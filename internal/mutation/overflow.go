// internal/mutation/overflow.go
package mutation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"unicode"

	"go.uber.org/zap"
)

// overflowProps are the candidate's inline properties touched by the overflow mutation.
var overflowProps = []string{"display", "white-space", "width", "max-width", "height", "max-height", "text-overflow"}

// growthBaseFontSize is the font size at which content must merely exceed its
// original area; smaller fonts need proportionally more growth to show.
const growthBaseFontSize = 25.0

// GrowthThreshold is the factor the rendered area must exceed, relative to the
// original area, before the overflow counts as visible.
func GrowthThreshold(fontSizePx float64) float64 {
	return growthBaseFontSize / fontSizePx
}

// Vocabulary tokenizes page text on whitespace, dropping tokens made only of dashes.
func Vocabulary(text string) []string {
	fields := strings.Fields(text)
	out := fields[:0]
	for _, f := range fields {
		if strings.TrimFunc(f, func(r rune) bool { return r == '-' || unicode.Is(unicode.Pd, r) }) == "" {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Overflow grows the text of one element inside a container until it spills
// out of its frozen box.
type Overflow struct {
	surface      Surface
	rand         Rand
	logger       *zap.Logger
	viewport     Viewport
	vocabulary   []string
	wordsPerStep int
	maxSteps     int
}

// NewOverflow creates an overflow mutator drawing words from vocabulary.
func NewOverflow(s Surface, r Rand, vp Viewport, vocabulary []string, opts Options, logger *zap.Logger) *Overflow {
	opts = opts.withDefaults()
	return &Overflow{
		surface:      s,
		rand:         r,
		logger:       logger.Named("overflow"),
		viewport:     vp,
		vocabulary:   vocabulary,
		wordsPerStep: opts.WordsPerStep,
		maxSteps:     opts.MaxGrowthSteps,
	}
}

// sentence draws wordsPerStep random words from the vocabulary.
func (o *Overflow) sentence() string {
	words := make([]string, o.wordsPerStep)
	for i := range words {
		words[i] = RandomElement(o.rand, o.vocabulary)
	}
	return strings.Join(words, " ")
}

// candidates returns the container descendants that own a direct text node.
func (o *Overflow) candidates(ctx context.Context, c Container) ([]node, error) {
	nodes, err := collectDescendants(ctx, o.surface, c.Element, o.viewport)
	if err != nil {
		return nil, err
	}
	out := nodes[:0]
	for _, n := range nodes {
		if n.style.HasDirectText {
			out = append(out, n)
		}
	}
	return out, nil
}

// Mutate runs one overflow cycle on c and captures the container to path.
// It returns true only when a screenshot was taken. Text and style are restored
// before returning on every path.
func (o *Overflow) Mutate(ctx context.Context, c Container, path string) (captured bool, err error) {
	logger := o.logger.With(zap.Int("container", c.Index))
	if len(o.vocabulary) == 0 {
		logger.Debug("Empty vocabulary, skipping container.")
		return false, nil
	}

	cands, err := o.candidates(ctx, c)
	if err != nil {
		return false, err
	}
	if len(cands) == 0 {
		logger.Debug("No overflow candidate in container.")
		return false, nil
	}
	cand := RandomElement(o.rand, cands)

	fontSize, err := cand.style.FontSizePx()
	if err != nil {
		return false, fmt.Errorf("element %d font size: %w", cand.id, err)
	}
	if fontSize <= 0 {
		logger.Debug("Candidate has no font size.", zap.Int("element", int(cand.id)))
		return false, nil
	}
	lineHeight, err := cand.style.LineHeightPx()
	if err != nil {
		return false, fmt.Errorf("element %d line height: %w", cand.id, err)
	}

	block, blockStyle, err := closestBlock(ctx, o.surface, cand.id)
	if err != nil {
		return false, err
	}
	blockBox, err := o.surface.Box(ctx, block)
	if err != nil {
		return false, fmt.Errorf("could not measure element %d: %w", block, err)
	}
	text, err := o.surface.Text(ctx, cand.id)
	if err != nil {
		return false, fmt.Errorf("could not read text of element %d: %w", cand.id, err)
	}

	// All snapshots are taken before the first mutation.
	var undo restorer
	defer func() {
		if rerr := undo.restore(ctx); rerr != nil {
			captured = false
			err = errors.Join(err, rerr)
		}
	}()
	if err := undo.track(ctx, o.surface, block, freezeProps); err != nil {
		return false, err
	}
	if err := undo.track(ctx, o.surface, cand.id, overflowProps); err != nil {
		return false, err
	}
	undo.trackText(o.surface, cand.id, text)

	oneLiner := lineHeight > 0 && math.Round(cand.box.Height/lineHeight) == 1
	whiteSpace := "normal"
	if oneLiner {
		whiteSpace = "nowrap"
	}
	if err := o.surface.SetStyle(ctx, cand.id, StyleSnapshot{"white-space": whiteSpace}); err != nil {
		return false, fmt.Errorf("could not set white-space: %w", err)
	}
	if err := o.surface.SetStyle(ctx, block, freezeStyle(blockStyle, blockBox.Width, blockBox.Height)); err != nil {
		return false, fmt.Errorf("could not freeze block ancestor %d: %w", block, err)
	}

	height := cand.box.Height
	switch {
	case cand.style.ClipsOverflow():
		// Leaves a half-cut line at the bottom edge.
		height += lineHeight / 2
	case oneLiner:
		height = 0
	}
	frozen := freezeStyle(cand.style, cand.box.Width, height)
	frozen["white-space"] = whiteSpace
	frozen["text-overflow"] = "clip"
	if err := o.surface.SetStyle(ctx, cand.id, frozen); err != nil {
		return false, fmt.Errorf("could not freeze element %d: %w", cand.id, err)
	}

	converged, steps, err := o.grow(ctx, cand, text, cand.box.Area()*GrowthThreshold(fontSize))
	if err != nil {
		return false, err
	}
	if !converged {
		logger.Debug("Overflow did not converge within the growth cap.", zap.Int("steps", steps))
		return false, nil
	}

	box, err := o.surface.Box(ctx, c.Element)
	if err != nil {
		return false, fmt.Errorf("could not measure container %d: %w", c.Index, err)
	}
	if err := o.surface.Capture(ctx, box, path); err != nil {
		return false, fmt.Errorf("could not capture container %d: %w", c.Index, err)
	}
	logger.Debug("Captured overflow.",
		zap.Int("element", int(cand.id)),
		zap.Int("steps", steps),
		zap.Bool("one_liner", oneLiner),
		zap.String("path", path))
	return true, nil
}

// grow appends sentences to the candidate until its rendered area exceeds
// target or the step cap is reached. Every append is measured before the next.
func (o *Overflow) grow(ctx context.Context, cand node, text string, target float64) (bool, int, error) {
	grown := text
	for step := 1; step <= o.maxSteps; step++ {
		grown += " " + o.sentence()
		if err := o.surface.SetText(ctx, cand.id, grown); err != nil {
			return false, step, fmt.Errorf("could not set text of element %d: %w", cand.id, err)
		}
		st, err := o.surface.Style(ctx, cand.id)
		if err != nil {
			return false, step, fmt.Errorf("could not measure element %d: %w", cand.id, err)
		}
		if st.ScrollArea() > target {
			return true, step, nil
		}
	}
	return false, o.maxSteps, nil
}
