// internal/mutation/adjacency.go
package mutation

import (
	"context"
	"fmt"
)

// BoundedSide records that an element sits flush against Other on Side.
type BoundedSide struct {
	Side  Side
	Other ElementID
}

// BoundedPair is a BoundedSide together with the element it was computed for.
type BoundedPair struct {
	Element ElementID
	Side    Side
	Other   ElementID
}

// measured is an element with the geometry the adjacency and offset math need.
type measured struct {
	id      ElementID
	box     Box
	style   Style
	margin  Edges
	padding Edges
}

// marginBox is the border box grown by the margins and snapped to whole pixels.
func (m measured) marginBox() Box {
	return m.box.Expand(m.margin).Rounded()
}

func measure(ctx context.Context, s Surface, el ElementID) (measured, error) {
	box, err := s.Box(ctx, el)
	if err != nil {
		return measured{}, fmt.Errorf("could not measure element %d: %w", el, err)
	}
	st, err := s.Style(ctx, el)
	if err != nil {
		return measured{}, fmt.Errorf("could not read style of element %d: %w", el, err)
	}
	margin, err := st.Margins()
	if err != nil {
		return measured{}, fmt.Errorf("element %d margins: %w", el, err)
	}
	padding, err := st.Paddings()
	if err != nil {
		return measured{}, fmt.Errorf("element %d paddings: %w", el, err)
	}
	return measured{id: el, box: box, style: st, margin: margin, padding: padding}, nil
}

// BoundedSides returns, from el's perspective, every candidate in others whose
// margin box touches el's margin box exactly on one side with overlapping
// perpendicular extent. el is never reported against itself.
func BoundedSides(ctx context.Context, s Surface, el ElementID, others []ElementID) ([]BoundedSide, error) {
	self, err := measure(ctx, s, el)
	if err != nil {
		return nil, err
	}
	cands := make([]measured, 0, len(others))
	for _, o := range others {
		if o == el {
			continue
		}
		m, err := measure(ctx, s, o)
		if err != nil {
			return nil, err
		}
		cands = append(cands, m)
	}
	return boundedSides(self, cands)
}

func boundedSides(self measured, others []measured) ([]BoundedSide, error) {
	a := self.marginBox()
	if err := a.Validate(); err != nil {
		return nil, err
	}

	var out []BoundedSide
	for _, o := range others {
		if o.id == self.id {
			continue
		}
		b := o.marginBox()
		if err := b.Validate(); err != nil {
			return nil, err
		}
		side, ok, err := touchingSide(a, b)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, BoundedSide{Side: side, Other: o.id})
		}
	}
	return out, nil
}

// touchingSide reports the first side of a that coincides with the opposite edge of b.
func touchingSide(a, b Box) (Side, bool, error) {
	vertical, err := Overlaps(a.Top, a.Bottom, b.Top, b.Bottom)
	if err != nil {
		return 0, false, err
	}
	horizontal, err := Overlaps(a.Left, a.Right, b.Left, b.Right)
	if err != nil {
		return 0, false, err
	}
	for _, side := range AllSides {
		if a.Edge(side) != b.Edge(side.Opposite()) {
			continue
		}
		if side.Horizontal() && vertical || !side.Horizontal() && horizontal {
			return side, true, nil
		}
	}
	return 0, false, nil
}
