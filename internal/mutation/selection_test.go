// internal/mutation/selection_test.go
package mutation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testViewport = Viewport{Width: 1300, Height: 4000}

// -- Visibility --

func TestIsVisible(t *testing.T) {
	tests := []struct {
		name   string
		modify func(st *Style)
		want   bool
	}{
		{"plain block", func(*Style) {}, true},
		{"display none", func(st *Style) { st.Display = "none" }, false},
		{"visibility hidden", func(st *Style) { st.Visibility = "hidden" }, false},
		{"opacity zero", func(st *Style) { st.Opacity = "0" }, false},
		{"low opacity still visible", func(st *Style) { st.Opacity = "0.1" }, true},
		{"screen reader clip 1px", func(st *Style) { st.Clip = "rect(1px, 1px, 1px, 1px)" }, false},
		{"screen reader clip 0px", func(st *Style) { st.Clip = "rect(0px, 0px, 0px, 0px)" }, false},
		{"other clip", func(st *Style) { st.Clip = "rect(0px, 10px, 10px, 0px)" }, true},
		{"zero width", func(st *Style) { st.OffsetWidth = 0 }, false},
		{"zero height", func(st *Style) { st.OffsetHeight = 0 }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFakeSurface(testViewport)
			el := f.add(f.body, "div", 0, 0, 100, 100)
			tt.modify(&f.el(el).style)

			got, err := IsVisible(context.Background(), f, el)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIsInViewport(t *testing.T) {
	vp := Viewport{Width: 800, Height: 600}
	assert.True(t, IsInViewport(NewBox(0, 0, 800, 600), vp))
	assert.True(t, IsInViewport(NewBox(10, 10, 100, 100), vp))
	assert.False(t, IsInViewport(NewBox(-1, 0, 100, 100), vp), "left of viewport")
	assert.False(t, IsInViewport(NewBox(0, -0.5, 100, 100), vp), "above viewport")
	assert.False(t, IsInViewport(NewBox(750, 0, 100, 100), vp), "partially right of viewport")
	assert.False(t, IsInViewport(NewBox(0, 550, 100, 100), vp), "partially below viewport")
}

func TestIsVisibleInDOM(t *testing.T) {
	ctx := context.Background()
	f := newFakeSurface(testViewport)
	outer := f.add(f.body, "div", 0, 0, 500, 500)
	inner := f.add(outer, "div", 0, 0, 200, 200)
	leaf := f.add(inner, "p", 0, 0, 100, 20)

	visible, err := IsVisibleInDOM(ctx, f, leaf, NoElement)
	require.NoError(t, err)
	assert.True(t, visible)

	f.el(outer).style.Opacity = "0"
	visible, err = IsVisibleInDOM(ctx, f, leaf, NoElement)
	require.NoError(t, err)
	assert.False(t, visible, "a transparent ancestor hides the leaf")

	visible, err = IsVisibleInDOM(ctx, f, leaf, outer)
	require.NoError(t, err)
	assert.True(t, visible, "the walk stops before reaching the stop element")

	f.failOn["Style"] = true
	_, err = IsVisibleInDOM(ctx, f, leaf, NoElement)
	assert.ErrorIs(t, err, errFake)
}

// -- Container selection --

// containerPage builds a page with two eligible containers and one example of
// every rejection reason.
func containerPage(t *testing.T) (*fakeSurface, []ElementID) {
	t.Helper()
	f := newFakeSurface(testViewport)
	first := f.add(f.body, "div", 0, 0, 600, 200)
	second := f.add(f.body, "section", 0, 300, 600, 200)
	f.add(f.body, "article", 0, 0, 600, 200)  // same box as first
	f.add(f.body, "div", 0, 600, 100, 100)    // too narrow
	f.add(f.body, "div", 0, 3950, 600, 200)   // crosses the viewport bottom
	f.add(f.body, "nav", 0, 1000, 1300, 2100) // too large
	hidden := f.add(f.body, "div", 0, 1200, 600, 200)
	f.el(hidden).style.Visibility = "hidden"
	f.add(hidden, "ul", 0, 1210, 600, 100) // visible, but inside a hidden parent
	f.add(f.body, "span", 0, 1500, 600, 200)
	return f, []ElementID{first, second}
}

func TestSelectContainers(t *testing.T) {
	ctx := context.Background()

	t.Run("Filters", func(t *testing.T) {
		f, want := containerPage(t)
		got, err := SelectContainers(ctx, f, testViewport, SelectOptions{DupesAllowed: 1})
		require.NoError(t, err)
		require.Len(t, got, 2)
		for i, c := range got {
			assert.Equal(t, i, c.Index)
			assert.Equal(t, want[i], c.Element)
		}
		assert.Equal(t, NewBox(0, 300, 600, 200), got[1].Box)
	})

	t.Run("DupesAllowed", func(t *testing.T) {
		f, _ := containerPage(t)
		got, err := SelectContainers(ctx, f, testViewport, SelectOptions{DupesAllowed: 2})
		require.NoError(t, err)
		assert.Len(t, got, 3, "the second element with an identical box is accepted")
	})

	t.Run("ZeroDupesAllowedKeepsFirstOfEachBox", func(t *testing.T) {
		f, want := containerPage(t)
		got, err := SelectContainers(ctx, f, testViewport, SelectOptions{})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, want[0], got[0].Element)
		assert.Equal(t, want[1], got[1].Element)
	})

	t.Run("DedupeIsPerCall", func(t *testing.T) {
		f, _ := containerPage(t)
		a, err := SelectContainers(ctx, f, testViewport, SelectOptions{DupesAllowed: 1})
		require.NoError(t, err)
		b, err := SelectContainers(ctx, f, testViewport, SelectOptions{DupesAllowed: 1})
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})

	t.Run("Indices", func(t *testing.T) {
		f, want := containerPage(t)
		got, err := SelectContainers(ctx, f, testViewport, SelectOptions{DupesAllowed: 1, Indices: []int{1}})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, 1, got[0].Index)
		assert.Equal(t, want[1], got[0].Element)
	})

	t.Run("IndexOutOfRange", func(t *testing.T) {
		f, _ := containerPage(t)
		_, err := SelectContainers(ctx, f, testViewport, SelectOptions{DupesAllowed: 1, Indices: []int{0, 5}})
		assert.ErrorIs(t, err, ErrIndexOutOfRange)
	})

	t.Run("SurfaceError", func(t *testing.T) {
		f, _ := containerPage(t)
		f.failOn["QueryAll"] = true
		_, err := SelectContainers(ctx, f, testViewport, SelectOptions{})
		assert.ErrorIs(t, err, errFake)
	})
}

// -- Adjacency --

func TestBoundedSides(t *testing.T) {
	ctx := context.Background()

	t.Run("AsymmetricFlushPair", func(t *testing.T) {
		f := newFakeSurface(testViewport)
		a := f.add(f.body, "div", 0, 0, 100, 50)
		b := f.add(f.body, "div", 100, 10, 50, 30)

		fromA, err := BoundedSides(ctx, f, a, []ElementID{b})
		require.NoError(t, err)
		assert.Equal(t, []BoundedSide{{Side: Right, Other: b}}, fromA)

		fromB, err := BoundedSides(ctx, f, b, []ElementID{a})
		require.NoError(t, err)
		assert.Equal(t, []BoundedSide{{Side: Left, Other: a}}, fromB)
	})

	t.Run("NeverBoundedToSelf", func(t *testing.T) {
		f := newFakeSurface(testViewport)
		a := f.add(f.body, "div", 0, 0, 100, 50)
		sides, err := BoundedSides(ctx, f, a, []ElementID{a})
		require.NoError(t, err)
		assert.Empty(t, sides)
	})

	t.Run("OnePixelGap", func(t *testing.T) {
		f := newFakeSurface(testViewport)
		a := f.add(f.body, "div", 0, 0, 100, 50)
		b := f.add(f.body, "div", 101, 0, 50, 50)
		sides, err := BoundedSides(ctx, f, a, []ElementID{b})
		require.NoError(t, err)
		assert.Empty(t, sides)
	})

	t.Run("MarginsCloseTheGap", func(t *testing.T) {
		f := newFakeSurface(testViewport)
		a := f.add(f.body, "div", 0, 0, 100, 50)
		b := f.add(f.body, "div", 0, 60, 100, 50)
		f.el(a).style.Margin.Bottom = "4px"
		f.el(b).style.Margin.Top = "6px"

		sides, err := BoundedSides(ctx, f, a, []ElementID{b})
		require.NoError(t, err)
		assert.Equal(t, []BoundedSide{{Side: Bottom, Other: b}}, sides)
	})

	t.Run("SubpixelEdgesAreRounded", func(t *testing.T) {
		f := newFakeSurface(testViewport)
		a := f.add(f.body, "div", 0, 0, 100.4, 50)
		b := f.add(f.body, "div", 99.6, 0, 50, 50)
		sides, err := BoundedSides(ctx, f, a, []ElementID{b})
		require.NoError(t, err)
		assert.Equal(t, []BoundedSide{{Side: Right, Other: b}}, sides)
	})

	t.Run("CornerContactIsNotBounded", func(t *testing.T) {
		f := newFakeSurface(testViewport)
		a := f.add(f.body, "div", 0, 0, 100, 50)
		b := f.add(f.body, "div", 100, 50, 50, 50)
		sides, err := BoundedSides(ctx, f, a, []ElementID{b})
		require.NoError(t, err)
		assert.Empty(t, sides)
	})

	t.Run("UnparseableMargin", func(t *testing.T) {
		f := newFakeSurface(testViewport)
		a := f.add(f.body, "div", 0, 0, 100, 50)
		b := f.add(f.body, "div", 100, 0, 50, 50)
		f.el(b).style.Margin.Left = "auto"
		_, err := BoundedSides(ctx, f, a, []ElementID{b})
		assert.ErrorIs(t, err, ErrInvalidPixelValue)
	})
}
