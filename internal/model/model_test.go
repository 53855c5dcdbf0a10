package model

import (
	"image"
	"image/color"
	"testing"
	"testing/fstest"

	"github.com/smileynet/vizcache/internal/report"
)

type memSource struct {
	images map[string]image.Image
	texts  map[string][]byte
	labels map[string]string
}

func newMemSource() *memSource {
	return &memSource{images: map[string]image.Image{}, texts: map[string][]byte{}, labels: map[string]string{}}
}

func (m *memSource) Image(objectID, filter string, size report.Size) (image.Image, bool) {
	img, ok := m.images[objectID+"|"+filter+"|"+size.String()]
	return img, ok
}

func (m *memSource) Text(objectID, filter string) ([]byte, bool) {
	d, ok := m.texts[objectID+"|"+filter]
	return d, ok
}

func (m *memSource) Label(objectID, filter string) (string, bool) {
	l, ok := m.labels[objectID+"|"+filter]
	return l, ok
}

type stubObject struct{ id string }

func (o *stubObject) ID() string                        { return o.id }
func (o *stubObject) IsBusy() bool                      { return false }
func (o *stubObject) AccessibilityLabel() string        { return "" }
func (o *stubObject) SetDelegate(report.ObjectDelegate) {}

type stubReport struct {
	report.Report
	objects map[string]report.Object
}

func (r *stubReport) LoadObject(id string) (report.Object, bool) {
	o, ok := r.objects[id]
	return o, ok
}

var testTemplates = Templates{
	Global:   []VisualTemplate{{ObjectID: "kpi", Height: 100}},
	Location: []VisualTemplate{{ObjectID: "chart", Height: 200}, {ObjectID: "notes", Height: 80, ExternalTitle: true}},
}

func pixel() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.White)
	return img
}

func TestNewPage_UsesTemplatesPerKind(t *testing.T) {
	global := NewPage(GlobalLocation, testTemplates, 320)
	spain := NewPage("Spain", testTemplates, 320)

	if len(global.Visuals) != 1 || global.Visuals[0].ObjectID != "kpi" {
		t.Errorf("global visuals = %+v", global.Visuals)
	}
	if global.Visuals[0].FilterValue != "" {
		t.Errorf("global filter value = %q, want empty", global.Visuals[0].FilterValue)
	}
	if len(spain.Visuals) != 2 || spain.Visuals[1].FilterValue != "Spain" {
		t.Errorf("location visuals = %+v", spain.Visuals)
	}
	if !spain.Visuals[1].ExternalTitle {
		t.Error("template flags not copied")
	}
	if spain.Visuals[0].Size() != (report.Size{Width: 320, Height: 200}) {
		t.Errorf("Size() = %v", spain.Visuals[0].Size())
	}
	if global.ID == spain.ID || spain.Visuals[0].ID == spain.Visuals[1].ID {
		t.Error("IDs should be unique")
	}
}

func TestPage_Label(t *testing.T) {
	if got := NewPage(GlobalLocation, testTemplates, 1).Label("Worldwide"); got != "Worldwide" {
		t.Errorf("global Label() = %q", got)
	}
	if got := NewPage("Spain", testTemplates, 1).Label("Worldwide"); got != "Spain" {
		t.Errorf("location Label() = %q", got)
	}
}

func TestPage_Completeness(t *testing.T) {
	p := NewPage("Spain", testTemplates, 320)
	if p.Complete() || p.PercentComplete() != 0 {
		t.Fatalf("fresh page Complete() = %v, Percent = %v", p.Complete(), p.PercentComplete())
	}

	p.Visuals[0].SetImage(pixel())
	if p.PercentComplete() != 50 {
		t.Errorf("PercentComplete() = %v, want 50", p.PercentComplete())
	}

	p.Visuals[1].SetText([]byte("doc"))
	if !p.Complete() || p.PercentComplete() != 100 {
		t.Errorf("Complete() = %v, Percent = %v", p.Complete(), p.PercentComplete())
	}

	empty := &Page{Location: "x"}
	if !empty.Complete() || empty.PercentComplete() != 100 {
		t.Error("page without visuals should be complete")
	}
}

func TestVisual_ImageAndTextAreExclusive(t *testing.T) {
	v := NewVisual(VisualTemplate{ObjectID: "o", Height: 1}, 1, "x")
	v.SetText([]byte("doc"))
	v.SetImage(pixel())
	if v.Text() != nil {
		t.Error("SetImage should clear text")
	}
	v.SetText([]byte("doc"))
	if v.Image() != nil {
		t.Error("SetText should clear image")
	}
}

func TestVisual_BindClearsAndReloads(t *testing.T) {
	src := newMemSource()
	v := NewVisual(VisualTemplate{ObjectID: "chart", Height: 200}, 320, "Spain")

	// Given: a visual with stale artifacts and a cache holding only a label
	v.SetImage(pixel())
	v.SetLabel("stale")
	src.labels["chart|Spain"] = "Sales in Spain"

	// When: it is bound to an object
	obj := &stubObject{id: "chart"}
	v.Bind(obj, src)

	// Then: stale artifacts are gone and the cached label is loaded
	if v.Image() != nil {
		t.Error("Bind should clear the image when the cache has none")
	}
	if v.Label() != "Sales in Spain" {
		t.Errorf("Label() = %q", v.Label())
	}
	if v.Object() != obj {
		t.Error("Object() not set")
	}

	// When: the cache gains an image and the visual is rebound
	src.images["chart|Spain|320x200"] = pixel()
	v.Bind(obj, src)
	if v.Image() == nil {
		t.Error("rebind should reload the cached image")
	}
}

func TestVisual_LoadEmptyTextResolves(t *testing.T) {
	src := newMemSource()
	src.texts["notes|Spain"] = []byte{}
	v := NewVisual(VisualTemplate{ObjectID: "notes", Height: 90}, 320, "Spain")

	v.Load(src)

	if !v.Resolved() {
		t.Error("a cached empty document should resolve the visual")
	}
}

func TestPage_AttachBindsObjectsAndDetach(t *testing.T) {
	src := newMemSource()
	src.texts["notes|Spain"] = []byte("cached")
	r := &stubReport{objects: map[string]report.Object{
		"chart": &stubObject{id: "chart"},
		"notes": &stubObject{id: "notes"},
	}}
	p := NewPage("Spain", testTemplates, 320)

	p.Attach(r, src)

	if p.Report() != r {
		t.Error("Report() not set")
	}
	if p.Visuals[0].Object() == nil || p.Visuals[1].Object() == nil {
		t.Error("visuals not bound")
	}
	if string(p.Visuals[1].Text()) != "cached" {
		t.Errorf("notes text = %q, want cached", p.Visuals[1].Text())
	}

	p.Detach()
	if p.Report() != nil || p.Visuals[0].Object() != nil {
		t.Error("Detach should drop report and objects")
	}
	if p.Visuals[1].Text() == nil {
		t.Error("Detach should keep artifacts")
	}
}

func TestPage_Visual(t *testing.T) {
	p := NewPage("Spain", testTemplates, 320)
	if v, ok := p.Visual("notes"); !ok || v.ObjectID != "notes" {
		t.Errorf("Visual(notes) = %v, %v", v, ok)
	}
	if _, ok := p.Visual("missing"); ok {
		t.Error("Visual(missing) found")
	}
}

func TestLoadTemplates(t *testing.T) {
	fsys := fstest.MapFS{
		"pages.yaml": {Data: []byte("global:\n  - object_id: kpi\n    height: 120\nlocation:\n  - object_id: chart\n    height: 200\n    expandable: true\n")},
		"bad.yaml":   {Data: []byte("global:\n  - object_id: kpi\n    height: 0\n")},
		"typo.yaml":  {Data: []byte("globl: []\n")},
	}

	tpl, err := LoadTemplates(fsys, "pages.yaml")
	if err != nil {
		t.Fatalf("LoadTemplates() error = %v", err)
	}
	if len(tpl.Global) != 1 || !tpl.Location[0].Expandable {
		t.Errorf("templates = %+v", tpl)
	}

	if _, err := LoadTemplates(fsys, "bad.yaml"); err == nil {
		t.Error("zero height should be rejected")
	}
	if _, err := LoadTemplates(fsys, "typo.yaml"); err == nil {
		t.Error("unknown field should be rejected")
	}
	if _, err := LoadTemplates(fsys, "missing.yaml"); err == nil {
		t.Error("missing file should fail")
	}
}
