// internal/mutation/dom.go
package mutation

import (
	"context"
	"errors"
	"fmt"
)

// freezeProps are the inline properties touched when pinning an element to its box.
var freezeProps = []string{"display", "width", "max-width", "height", "max-height"}

// node is a descendant visited by collectDescendants.
type node struct {
	id    ElementID
	box   Box
	style Style
}

// collectDescendants walks the subtree under root depth-first. A node that is
// not visible or not fully inside the viewport is dropped along with its
// subtree, so every returned node is visible up to root.
func collectDescendants(ctx context.Context, s Surface, root ElementID, vp Viewport) ([]node, error) {
	var out []node
	var walk func(parent ElementID) error
	walk = func(parent ElementID) error {
		children, err := s.Children(ctx, parent)
		if err != nil {
			return fmt.Errorf("could not list children of element %d: %w", parent, err)
		}
		for _, child := range children {
			st, err := s.Style(ctx, child)
			if err != nil {
				return fmt.Errorf("could not read style of element %d: %w", child, err)
			}
			if !styleVisible(st) {
				continue
			}
			box, err := s.Box(ctx, child)
			if err != nil {
				return fmt.Errorf("could not measure element %d: %w", child, err)
			}
			if !IsInViewport(box, vp) {
				continue
			}
			out = append(out, node{id: child, box: box, style: st})
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(root); err != nil {
		return nil, err
	}
	return out, nil
}

// closestBlock returns el or its nearest ancestor whose computed display is block.
// The topmost element is returned when no block ancestor exists.
func closestBlock(ctx context.Context, s Surface, el ElementID) (ElementID, Style, error) {
	cur := el
	for {
		st, err := s.Style(ctx, cur)
		if err != nil {
			return NoElement, Style{}, fmt.Errorf("could not read style of element %d: %w", cur, err)
		}
		if st.Display == "block" {
			return cur, st, nil
		}
		parent, err := s.Parent(ctx, cur)
		if err != nil {
			return NoElement, Style{}, fmt.Errorf("could not read parent of element %d: %w", cur, err)
		}
		if parent == NoElement {
			return cur, st, nil
		}
		cur = parent
	}
}

// freezeStyle pins an element to the given size. Inline elements are switched to
// inline-block because size constraints do not apply to them.
func freezeStyle(st Style, width, height float64) StyleSnapshot {
	frozen := StyleSnapshot{
		"width":      px(width),
		"max-width":  px(width),
		"height":     px(height),
		"max-height": px(height),
	}
	if st.Display == "inline" {
		frozen["display"] = "inline-block"
	}
	return frozen
}

// restorer accumulates undo steps for one mutation cycle.
type restorer struct {
	steps []func(ctx context.Context) error
}

// track snapshots props on el and registers their restoration. It must be called
// before el is mutated.
func (r *restorer) track(ctx context.Context, s Surface, el ElementID, props []string) error {
	snap, err := snapshot(ctx, s, el, props)
	if err != nil {
		return fmt.Errorf("could not snapshot style of element %d: %w", el, err)
	}
	r.steps = append(r.steps, func(ctx context.Context) error {
		return s.SetStyle(ctx, el, snap)
	})
	return nil
}

// trackText registers restoration of el's text content.
func (r *restorer) trackText(s Surface, el ElementID, text string) {
	r.steps = append(r.steps, func(ctx context.Context) error {
		return s.SetText(ctx, el, text)
	})
}

// restore runs every undo step in reverse order, even if ctx has been cancelled.
func (r *restorer) restore(ctx context.Context) error {
	ctx = context.WithoutCancel(ctx)
	var errs []error
	for i := len(r.steps) - 1; i >= 0; i-- {
		if err := r.steps[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	r.steps = nil
	if len(errs) > 0 {
		return fmt.Errorf("restore failed: %w", errors.Join(errs...))
	}
	return nil
}
