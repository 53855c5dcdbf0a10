package model

import (
	"github.com/google/uuid"

	"github.com/smileynet/vizcache/internal/report"
)

// GlobalLocation is the location of the page that shows report-wide
// visuals and ignores the location filter.
const GlobalLocation = "__GLOBAL__"

// Page is the set of visuals shown for one location.
type Page struct {
	ID       uuid.UUID
	Location string
	Visuals  []*Visual

	report report.Report
}

// NewPage creates a page for location from templates. The global page uses
// the global templates and an empty filter value.
func NewPage(location string, templates Templates, width int) *Page {
	p := &Page{ID: uuid.New(), Location: location}
	specs := templates.Location
	if p.IsGlobal() {
		specs = templates.Global
	}
	for _, t := range specs {
		p.Visuals = append(p.Visuals, NewVisual(t, width, p.FilterValue()))
	}
	return p
}

// IsGlobal reports whether p is the global page.
func (p *Page) IsGlobal() bool {
	return p.Location == GlobalLocation
}

// FilterValue is the filter value applied when rendering this page.
func (p *Page) FilterValue() string {
	if p.IsGlobal() {
		return ""
	}
	return p.Location
}

// Label is the display name of the page.
func (p *Page) Label(globalLabel string) string {
	if p.IsGlobal() {
		return globalLabel
	}
	return p.Location
}

// Report returns the attached report, or nil.
func (p *Page) Report() report.Report {
	return p.report
}

// Attach associates the page with r and binds every visual to its object,
// which clears and reloads artifacts from src.
func (p *Page) Attach(r report.Report, src ArtifactSource) {
	p.report = r
	for _, v := range p.Visuals {
		v.FilterValue = p.FilterValue()
		var obj report.Object
		if r != nil {
			if o, ok := r.LoadObject(v.ObjectID); ok {
				obj = o
			}
		}
		v.Bind(obj, src)
	}
}

// Detach drops the report association and unbinds every visual.
func (p *Page) Detach() {
	p.report = nil
	for _, v := range p.Visuals {
		v.Unbind()
	}
}

// Load fills every visual from src.
func (p *Page) Load(src ArtifactSource) {
	for _, v := range p.Visuals {
		v.Load(src)
	}
}

// ClearArtifacts drops in-memory artifacts of every visual.
func (p *Page) ClearArtifacts() {
	for _, v := range p.Visuals {
		v.ClearArtifacts()
	}
}

// PercentComplete returns the share of resolved visuals in [0, 100].
// A page without visuals is complete.
func (p *Page) PercentComplete() float64 {
	if len(p.Visuals) == 0 {
		return 100
	}
	n := 0
	for _, v := range p.Visuals {
		if v.Resolved() {
			n++
		}
	}
	return float64(n) * 100 / float64(len(p.Visuals))
}

// Complete reports whether every visual is resolved.
func (p *Page) Complete() bool {
	for _, v := range p.Visuals {
		if !v.Resolved() {
			return false
		}
	}
	return true
}

// Visual returns the visual bound to objectID.
func (p *Page) Visual(objectID string) (*Visual, bool) {
	for _, v := range p.Visuals {
		if v.ObjectID == objectID {
			return v, true
		}
	}
	return nil, false
}
