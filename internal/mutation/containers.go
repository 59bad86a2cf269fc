// internal/mutation/containers.go
package mutation

import (
	"context"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

// ContainerSelector is the structural tag vocabulary containers are drawn from.
const ContainerSelector = "div, section, article, ul, ol, dl, aside, header, footer, button, nav"

// Container is a page region chosen as a manipulation target.
type Container struct {
	// Index is the position in the full, unfiltered selection.
	Index   int
	Element ElementID
	Box     Box
}

// SelectOptions tunes SelectContainers.
type SelectOptions struct {
	// DupesAllowed is how many elements sharing an identical box are accepted
	// before further ones are rejected. Values below 1 mean 1.
	DupesAllowed int
	// Indices, when non-empty, restricts the result to these positions of the full selection.
	Indices []int
}

// dedupe counts geometric signatures seen during one selection.
type dedupe struct {
	seen    map[string]int
	allowed int
}

func newDedupe(allowed int) *dedupe {
	if allowed < 1 {
		allowed = 1
	}
	return &dedupe{seen: make(map[string]int), allowed: allowed}
}

// duplicate records box and reports whether it had already been seen allowed times.
func (d *dedupe) duplicate(box Box) (bool, error) {
	key, err := jsoniter.ConfigCompatibleWithStandardLibrary.MarshalToString(box)
	if err != nil {
		return false, fmt.Errorf("could not serialize box: %w", err)
	}
	count := d.seen[key]
	d.seen[key] = count + 1
	return count >= d.allowed, nil
}

// isOptimalSize keeps regions that are legible and boundable: wider than a fifth
// of the viewport, taller than 50px, and smaller than half the viewport area.
func isOptimalSize(box Box, vp Viewport) bool {
	return box.Width > float64(vp.Width)*0.2 &&
		box.Height > 50 &&
		box.Area() < vp.Area()*0.5
}

// SelectContainers returns the page regions eligible for manipulation, in document order.
func SelectContainers(ctx context.Context, s Surface, vp Viewport, opts SelectOptions) ([]Container, error) {
	elements, err := s.QueryAll(ctx, ContainerSelector)
	if err != nil {
		return nil, fmt.Errorf("could not query containers: %w", err)
	}

	seen := newDedupe(opts.DupesAllowed)
	var selected []Container
	for _, el := range elements {
		box, err := s.Box(ctx, el)
		if err != nil {
			return nil, fmt.Errorf("could not measure element %d: %w", el, err)
		}
		if !IsInViewport(box, vp) || !isOptimalSize(box, vp) {
			continue
		}
		visible, err := IsVisibleInDOM(ctx, s, el, NoElement)
		if err != nil {
			return nil, err
		}
		if !visible {
			continue
		}
		dup, err := seen.duplicate(box)
		if err != nil {
			return nil, err
		}
		if dup {
			continue
		}
		selected = append(selected, Container{Index: len(selected), Element: el, Box: box})
	}

	if len(opts.Indices) == 0 {
		return selected, nil
	}

	filtered := make([]Container, 0, len(opts.Indices))
	for _, idx := range opts.Indices {
		if idx < 0 || idx >= len(selected) {
			return nil, fmt.Errorf("%w: %d (selection has %d containers)", ErrIndexOutOfRange, idx, len(selected))
		}
		filtered = append(filtered, selected[idx])
	}
	return filtered, nil
}
