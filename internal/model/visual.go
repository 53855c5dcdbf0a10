// Package model holds the page and visual models whose artifacts are
// populated from the cache and from live renders.
//
// Models are owned by the processing loop; they are not safe for
// concurrent use.
package model

import (
	"image"

	"github.com/google/uuid"

	"github.com/smileynet/vizcache/internal/report"
)

// ArtifactSource reads cached artifacts. Implemented by *cachestore.Store.
type ArtifactSource interface {
	Image(objectID, filterValue string, size report.Size) (image.Image, bool)
	Text(objectID, filterValue string) ([]byte, bool)
	Label(objectID, filterValue string) (string, bool)
}

// Visual is one renderable element of a page.
// At most one of Image and Text is set at a time.
type Visual struct {
	ID            uuid.UUID
	ObjectID      string
	Width         int
	Height        int
	Expandable    bool
	ExternalTitle bool
	ShowTooltips  bool
	FilterValue   string

	image  image.Image
	text   []byte
	label  string
	object report.Object
}

// NewVisual creates a Visual from a template.
func NewVisual(t VisualTemplate, width int, filterValue string) *Visual {
	return &Visual{
		ID:            uuid.New(),
		ObjectID:      t.ObjectID,
		Width:         width,
		Height:        t.Height,
		Expandable:    t.Expandable,
		ExternalTitle: t.ExternalTitle,
		ShowTooltips:  t.ShowTooltips,
		FilterValue:   filterValue,
	}
}

// Size is the render size requested for this visual.
func (v *Visual) Size() report.Size {
	return report.Size{Width: v.Width, Height: v.Height}
}

func (v *Visual) Image() image.Image { return v.image }
func (v *Visual) Text() []byte       { return v.text }
func (v *Visual) Label() string      { return v.label }

// Object returns the bound remote object, or nil.
func (v *Visual) Object() report.Object { return v.object }

// SetImage sets the thumbnail and clears any text.
func (v *Visual) SetImage(img image.Image) {
	v.image = img
	if img != nil {
		v.text = nil
	}
}

// SetText sets the rich-text document and clears any image.
func (v *Visual) SetText(doc []byte) {
	v.text = doc
	if doc != nil {
		v.image = nil
	}
}

// SetLabel sets the accessibility label.
func (v *Visual) SetLabel(label string) {
	v.label = label
}

// Resolved reports whether the visual has an image or text.
func (v *Visual) Resolved() bool {
	return v.image != nil || v.text != nil
}

// ClearArtifacts drops image, text and label.
func (v *Visual) ClearArtifacts() {
	v.image = nil
	v.text = nil
	v.label = ""
}

// Load fills artifacts from src. Image wins over text when both exist.
func (v *Visual) Load(src ArtifactSource) {
	if img, ok := src.Image(v.ObjectID, v.FilterValue, v.Size()); ok {
		v.SetImage(img)
	} else if doc, ok := src.Text(v.ObjectID, v.FilterValue); ok {
		v.SetText(doc)
	}
	if label, ok := src.Label(v.ObjectID, v.FilterValue); ok {
		v.label = label
	}
}

// Bind attaches the visual to obj. Rebinding always clears resolved
// artifacts and re-reads them from src.
func (v *Visual) Bind(obj report.Object, src ArtifactSource) {
	v.object = obj
	v.ClearArtifacts()
	if src != nil {
		v.Load(src)
	}
}

// Unbind drops the remote object reference without touching artifacts.
func (v *Visual) Unbind() {
	v.object = nil
}
