// internal/mutation/untouched.go
package mutation

import (
	"context"
	"fmt"
)

// Untouched captures containers as rendered, producing the control images of a dataset.
type Untouched struct {
	surface Surface
}

// NewUntouched creates a capture-only mutator.
func NewUntouched(s Surface) *Untouched {
	return &Untouched{surface: s}
}

// Mutate captures the current container box. It never changes the page.
func (u *Untouched) Mutate(ctx context.Context, c Container, path string) (bool, error) {
	box, err := u.surface.Box(ctx, c.Element)
	if err != nil {
		return false, fmt.Errorf("could not measure container %d: %w", c.Index, err)
	}
	if err := u.surface.Capture(ctx, box, path); err != nil {
		return false, fmt.Errorf("could not capture container %d: %w", c.Index, err)
	}
	return true, nil
}
