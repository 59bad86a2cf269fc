// internal/mutation/visibility.go
package mutation

import (
	"context"
	"fmt"
	"strings"
)

// hiddenClips are the clip rects commonly used to hide content visually while
// keeping it available to screen readers.
var hiddenClips = map[string]bool{
	"rect(1px, 1px, 1px, 1px)": true,
	"rect(0px, 0px, 0px, 0px)": true,
}

// styleVisible applies the visibility rules to an already fetched style.
func styleVisible(st Style) bool {
	takesSpace := st.OffsetWidth > 0 && st.OffsetHeight > 0
	return takesSpace &&
		st.Display != "none" &&
		st.Visibility != "hidden" &&
		strings.TrimSpace(st.Opacity) != "0" &&
		!hiddenClips[strings.TrimSpace(st.Clip)]
}

// IsVisible reports whether el is rendered: it takes space on screen and its
// computed style does not hide it.
func IsVisible(ctx context.Context, s Surface, el ElementID) (bool, error) {
	st, err := s.Style(ctx, el)
	if err != nil {
		return false, fmt.Errorf("could not read style of element %d: %w", el, err)
	}
	return styleVisible(st), nil
}

// IsInViewport reports whether box lies entirely inside the viewport. Partially
// off-screen boxes are rejected.
func IsInViewport(box Box, vp Viewport) bool {
	return box.Top >= 0 &&
		box.Left >= 0 &&
		box.Right <= float64(vp.Width) &&
		box.Bottom <= float64(vp.Height)
}

// IsVisibleInDOM walks el and its ancestors up to, but excluding, stop (or the
// body when stop is NoElement) and fails on the first node that is not visible.
func IsVisibleInDOM(ctx context.Context, s Surface, el, stop ElementID) (bool, error) {
	for cur := el; cur != NoElement && cur != stop; {
		st, err := s.Style(ctx, cur)
		if err != nil {
			return false, fmt.Errorf("could not read style of element %d: %w", cur, err)
		}
		if st.IsBody() {
			return true, nil
		}
		if !styleVisible(st) {
			return false, nil
		}
		parent, err := s.Parent(ctx, cur)
		if err != nil {
			return false, fmt.Errorf("could not read parent of element %d: %w", cur, err)
		}
		cur = parent
	}
	return true, nil
}
