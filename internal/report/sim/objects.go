package sim

import (
	"fmt"
	"hash/fnv"
	"image"
	"image/color"

	"github.com/disintegration/imaging"

	"github.com/smileynet/vizcache/internal/report"
)

type base struct {
	id       string
	busy     bool
	report   *Report
	delegate report.ObjectDelegate
}

func (b *base) ID() string                          { return b.id }
func (b *base) IsBusy() bool                        { return b.busy }
func (b *base) SetDelegate(d report.ObjectDelegate) { b.delegate = d }

// Filter is a simulated filter or value list.
type Filter struct {
	base
	values   []string
	selected string
}

var _ report.Filter = (*Filter)(nil)

func (f *Filter) AccessibilityLabel() string { return "Location filter" }
func (f *Filter) SelectedValue() string      { return f.selected }
func (f *Filter) UniqueValues() []string     { return f.values }

// SetSelectedValue applies v after the fixture latency. The filter is busy
// in between.
func (f *Filter) SetSelectedValue(v string) {
	f.selected = v
	f.busy = true
	if f.delegate != nil {
		f.delegate.ObjectBusy(f)
	}
	f.report.sched.AfterFunc(f.report.fx.Latency, func() {
		f.busy = false
		if f.delegate != nil {
			f.delegate.ObjectReady(f)
		}
		if f.delegate != nil {
			f.delegate.ObjectDataChanged(f)
		}
	})
}

// Graph renders a bar chart whose data depends on the selected location
// and the report data version.
type Graph struct {
	base
	spec ObjectSpec
}

var _ report.Renderer = (*Graph)(nil)

func (g *Graph) location() string {
	if g.spec.Global {
		return ""
	}
	return g.report.selected()
}

func (g *Graph) AccessibilityLabel() string {
	if loc := g.location(); loc != "" {
		return fmt.Sprintf("%s for %s", g.spec.Title, loc)
	}
	return g.spec.Title
}

// RenderThumbnail renders after the fixture latency using the data visible
// at call time.
func (g *Graph) RenderThumbnail(size report.Size, withTitle bool, done func(report.Object, image.Image)) {
	loc := g.location()
	version := g.report.version
	g.report.sched.AfterFunc(g.report.fx.Latency, func() {
		done(g, renderBars(size, withTitle, g.spec, loc, version))
	})
}

var (
	background = color.NRGBA{R: 255, G: 255, B: 255, A: 255}
	titleBar   = color.NRGBA{R: 52, G: 58, B: 64, A: 255}
	barColor   = color.NRGBA{R: 0, G: 122, B: 204, A: 255}
)

// renderBars draws a deterministic bar chart for (object, location, version).
func renderBars(size report.Size, withTitle bool, spec ObjectSpec, loc string, version int) image.Image {
	if size.Width <= 0 || size.Height <= 0 {
		return nil
	}
	img := imaging.New(size.Width, size.Height, background)
	top := 0
	if withTitle {
		top = max(size.Height/8, 1)
		img = imaging.Paste(img, imaging.New(size.Width, top, titleBar), image.Pt(0, 0))
	}
	bars := spec.Bars
	if bars <= 0 {
		bars = 6
	}
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%s|%d", spec.ID, loc, version)
	seed := h.Sum64()

	slot := size.Width / bars
	plot := size.Height - top
	for i := 0; i < bars && slot > 1; i++ {
		seed = seed*6364136223846793005 + 1442695040888963407
		barH := int(seed>>33) % max(plot, 1)
		if barH == 0 {
			continue
		}
		bar := imaging.New(max(slot-2, 1), barH, barColor)
		img = imaging.Paste(img, bar, image.Pt(i*slot+1, size.Height-barH))
	}
	return img
}

// TextBox is a rich-text object.
type TextBox struct {
	base
	spec ObjectSpec
}

var _ report.Text = (*TextBox)(nil)

func (t *TextBox) location() string {
	if t.spec.Global {
		return ""
	}
	return t.report.selected()
}

func (t *TextBox) AccessibilityLabel() string {
	return t.spec.Title
}

// Text returns an RTF document for the selected location.
func (t *TextBox) Text() []byte {
	body := t.spec.Body
	if loc := t.location(); loc != "" {
		body = fmt.Sprintf("%s (%s)", body, loc)
	}
	return fmt.Appendf(nil, "{\\rtf1\\ansi {\\b %s}\\par %s\\par data version %d}", t.spec.Title, body, t.report.version)
}
