// internal/mutation/fake_surface_test.go
package mutation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
)

// -- Fake Render Surface --
// An in-memory element tree with a tiny layout model. Boxes are static unless a
// test changes them; text elements marked as flowing report scroll metrics that
// grow with their text, which is all the overflow loop looks at.

type fakeElement struct {
	parent   ElementID
	children []ElementID
	box      Box
	style    Style
	inline   StyleSnapshot
	text     string
	// flowing elements derive scroll metrics from text length.
	flowing bool
}

type capture struct {
	box  Box
	path string
}

type fakeSurface struct {
	vp       Viewport
	els      []*fakeElement
	body     ElementID
	pageText string
	captures []capture

	styleWrites int
	textWrites  int

	// failOn makes the named operation return errFake.
	failOn map[string]bool
	// boxHook lets a test move a box when it is queried.
	boxHook func(el ElementID, b Box) Box
	// onCapture runs before a capture is recorded; an error fails the capture.
	onCapture func(path string) error
}

var errFake = errors.New("fake surface failure")

func newFakeSurface(vp Viewport) *fakeSurface {
	f := &fakeSurface{vp: vp, failOn: map[string]bool{}}
	f.body = f.addRaw(NoElement, "body", NewBox(0, 0, float64(vp.Width), float64(vp.Height)))
	return f
}

func defaultStyle(tag string, box Box) Style {
	zero := RawEdges{Top: "0px", Right: "0px", Bottom: "0px", Left: "0px"}
	return Style{
		TagName:      strings.ToUpper(tag),
		Display:      "block",
		Visibility:   "visible",
		Opacity:      "1",
		Clip:         "auto",
		Position:     "static",
		ZIndex:       "auto",
		WhiteSpace:   "normal",
		OverflowX:    "visible",
		OverflowY:    "visible",
		FontSize:     "16px",
		LineHeight:   "normal",
		Margin:       zero,
		Padding:      zero,
		OffsetWidth:  box.Width,
		OffsetHeight: box.Height,
		ScrollWidth:  box.Width,
		ScrollHeight: box.Height,
	}
}

func (f *fakeSurface) addRaw(parent ElementID, tag string, box Box) ElementID {
	id := ElementID(len(f.els))
	f.els = append(f.els, &fakeElement{
		parent: parent,
		box:    box,
		style:  defaultStyle(tag, box),
		inline: StyleSnapshot{},
	})
	if parent != NoElement {
		f.els[parent].children = append(f.els[parent].children, id)
	}
	return id
}

// add appends a child element with a box given as left, top, width, height.
func (f *fakeSurface) add(parent ElementID, tag string, left, top, width, height float64) ElementID {
	return f.addRaw(parent, tag, NewBox(left, top, width, height))
}

// addText appends a flowing text element.
func (f *fakeSurface) addText(parent ElementID, tag string, left, top, width, height float64, text string) ElementID {
	id := f.add(parent, tag, left, top, width, height)
	el := f.els[id]
	el.text = text
	el.flowing = true
	el.style.HasDirectText = strings.TrimSpace(text) != ""
	return id
}

func (f *fakeSurface) el(id ElementID) *fakeElement { return f.els[id] }

func (f *fakeSurface) check(op string, id ElementID) error {
	if f.failOn[op] {
		return fmt.Errorf("%s: %w", op, errFake)
	}
	if id != NoElement && (int(id) < 0 || int(id) >= len(f.els)) {
		return fmt.Errorf("%s: no element %d", op, id)
	}
	return nil
}

// inlineState copies every element's inline style and text for before/after diffs.
func (f *fakeSurface) inlineState() map[ElementID]fakeState {
	out := make(map[ElementID]fakeState, len(f.els))
	for i, el := range f.els {
		inline := StyleSnapshot{}
		for k, v := range el.inline {
			inline[k] = v
		}
		out[ElementID(i)] = fakeState{Inline: inline, Text: el.text}
	}
	return out
}

type fakeState struct {
	Inline StyleSnapshot
	Text   string
}

func (f *fakeSurface) Viewport(context.Context) (Viewport, error) {
	if err := f.check("Viewport", NoElement); err != nil {
		return Viewport{}, err
	}
	return f.vp, nil
}

func (f *fakeSurface) QueryAll(_ context.Context, selector string) ([]ElementID, error) {
	if err := f.check("QueryAll", NoElement); err != nil {
		return nil, err
	}
	tags := map[string]bool{}
	for _, t := range strings.Split(selector, ",") {
		tags[strings.ToUpper(strings.TrimSpace(t))] = true
	}
	var out []ElementID
	for i, el := range f.els {
		if tags[el.style.TagName] {
			out = append(out, ElementID(i))
		}
	}
	return out, nil
}

func (f *fakeSurface) Children(_ context.Context, el ElementID) ([]ElementID, error) {
	if err := f.check("Children", el); err != nil {
		return nil, err
	}
	return append([]ElementID(nil), f.els[el].children...), nil
}

func (f *fakeSurface) Parent(_ context.Context, el ElementID) (ElementID, error) {
	if err := f.check("Parent", el); err != nil {
		return NoElement, err
	}
	return f.els[el].parent, nil
}

func (f *fakeSurface) Box(_ context.Context, el ElementID) (Box, error) {
	if err := f.check("Box", el); err != nil {
		return Box{}, err
	}
	b := f.els[el].box
	if f.boxHook != nil {
		b = f.boxHook(el, b)
	}
	return b, nil
}

func (f *fakeSurface) Style(_ context.Context, el ElementID) (Style, error) {
	if err := f.check("Style", el); err != nil {
		return Style{}, err
	}
	e := f.els[el]
	st := e.style
	if v, ok := e.inline["display"]; ok && v != "" {
		st.Display = v
	}
	if v, ok := e.inline["position"]; ok && v != "" {
		st.Position = v
	}
	if v, ok := e.inline["z-index"]; ok && v != "" {
		st.ZIndex = v
	}
	if e.flowing {
		st.ScrollWidth, st.ScrollHeight = f.flow(e, st)
	}
	return st, nil
}

// flow lays text out at half an em per character inside the element's frozen width.
func (f *fakeSurface) flow(e *fakeElement, st Style) (float64, float64) {
	width, height := e.box.Width, e.box.Height
	if v, err := ParsePx(e.inline["width"]); err == nil {
		width = v
	}
	if v, err := ParsePx(e.inline["height"]); err == nil {
		height = v
	}
	fontSize, _ := st.FontSizePx()
	lineHeight, _ := st.LineHeightPx()
	textWidth := float64(len(e.text)) * fontSize / 2

	if e.inline["white-space"] == "nowrap" {
		return math.Max(width, textWidth), math.Max(height, lineHeight)
	}
	if width <= 0 {
		return 0, height
	}
	lines := math.Ceil(textWidth / width)
	return width, math.Max(height, lines*lineHeight)
}

func (f *fakeSurface) InlineStyle(_ context.Context, el ElementID, props []string) (StyleSnapshot, error) {
	if err := f.check("InlineStyle", el); err != nil {
		return nil, err
	}
	out := StyleSnapshot{}
	for _, p := range props {
		out[p] = f.els[el].inline[p]
	}
	return out, nil
}

func (f *fakeSurface) SetStyle(_ context.Context, el ElementID, style StyleSnapshot) error {
	if err := f.check("SetStyle", el); err != nil {
		return err
	}
	f.styleWrites++
	for k, v := range style {
		if v == "" {
			delete(f.els[el].inline, k)
			continue
		}
		f.els[el].inline[k] = v
	}
	return nil
}

func (f *fakeSurface) Text(_ context.Context, el ElementID) (string, error) {
	if err := f.check("Text", el); err != nil {
		return "", err
	}
	return f.els[el].text, nil
}

func (f *fakeSurface) SetText(_ context.Context, el ElementID, text string) error {
	if err := f.check("SetText", el); err != nil {
		return err
	}
	f.textWrites++
	f.els[el].text = text
	return nil
}

func (f *fakeSurface) Capture(_ context.Context, box Box, path string) error {
	if err := f.check("Capture", NoElement); err != nil {
		return err
	}
	if f.onCapture != nil {
		if err := f.onCapture(path); err != nil {
			return err
		}
	}
	f.captures = append(f.captures, capture{box: box, path: path})
	return nil
}

func (f *fakeSurface) ExtractText(context.Context) (string, error) {
	if err := f.check("ExtractText", NoElement); err != nil {
		return "", err
	}
	return f.pageText, nil
}

// -- Deterministic randomness --

// seqRand replays a fixed sequence, reduced modulo n.
type seqRand struct {
	vals []int
	i    int
}

func (r *seqRand) IntN(n int) int {
	if n <= 0 {
		panic("invalid argument to IntN")
	}
	if len(r.vals) == 0 {
		return 0
	}
	v := r.vals[r.i%len(r.vals)]
	r.i++
	if v < 0 {
		v = -v
	}
	return v % n
}

// firstRand always picks the first option.
func firstRand() *seqRand { return &seqRand{} }

func pathFor(c Container) string { return fmt.Sprintf("container-%d.png", c.Index) }
