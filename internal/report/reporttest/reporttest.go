// Package reporttest provides hand-driven report session doubles.
// Callbacks are recorded and completed explicitly by the test, so
// ordering and timing are fully under the caller's control.
package reporttest

import (
	"image"
	"image/color"

	"github.com/smileynet/vizcache/internal/report"
)

// Verify doubles satisfy their interfaces at compile time.
var (
	_ report.Manager  = (*Manager)(nil)
	_ report.Server   = (*Server)(nil)
	_ report.Report   = (*Report)(nil)
	_ report.Filter   = (*Filter)(nil)
	_ report.Renderer = (*Chart)(nil)
	_ report.Text     = (*TextObject)(nil)
)

// Pixel returns a 1x1 opaque image.
func Pixel() image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.NRGBA{R: 10, G: 120, B: 200, A: 255})
	return img
}

// Object is a base report object.
type Object struct {
	IDVal    string
	Busy     bool
	LabelVal string
	delegate report.ObjectDelegate
}

func (o *Object) ID() string                          { return o.IDVal }
func (o *Object) IsBusy() bool                        { return o.Busy }
func (o *Object) AccessibilityLabel() string          { return o.LabelVal }
func (o *Object) SetDelegate(d report.ObjectDelegate) { o.delegate = d }

// Delegate returns the current delegate.
func (o *Object) Delegate() report.ObjectDelegate { return o.delegate }

// Ready clears the busy flag and notifies the delegate.
func (o *Object) Ready(self report.Object) {
	o.Busy = false
	if o.delegate != nil {
		o.delegate.ObjectReady(self)
	}
}

// Filter is a filter object. SetSelectedValue marks it busy until Settle.
type Filter struct {
	Object
	Selected string
	Values   []string
	SetCalls []string
}

// NewFilter creates an idle filter with unique values.
func NewFilter(id string, values ...string) *Filter {
	return &Filter{Object: Object{IDVal: id}, Values: values}
}

func (f *Filter) SelectedValue() string  { return f.Selected }
func (f *Filter) UniqueValues() []string { return f.Values }

// SetSelectedValue records the call and marks the filter busy.
func (f *Filter) SetSelectedValue(v string) {
	f.SetCalls = append(f.SetCalls, v)
	f.Selected = v
	f.Busy = true
	if f.delegate != nil {
		f.delegate.ObjectBusy(f)
	}
}

// Settle marks the filter ready and notifies the delegate.
func (f *Filter) Settle() {
	f.Ready(f)
}

// DataChanged notifies the delegate of a data change.
func (f *Filter) DataChanged() {
	if f.delegate != nil {
		f.delegate.ObjectDataChanged(f)
	}
}

// Render is one recorded RenderThumbnail call.
type Render struct {
	Size      report.Size
	WithTitle bool
	done      func(report.Object, image.Image)
}

// Chart is a renderable object that records render requests.
type Chart struct {
	Object
	Renders []*Render
}

// NewChart creates a chart object with an accessibility label.
func NewChart(id, label string) *Chart {
	return &Chart{Object: Object{IDVal: id, LabelVal: label}}
}

// RenderThumbnail records the request.
func (c *Chart) RenderThumbnail(size report.Size, withTitle bool, done func(report.Object, image.Image)) {
	c.Renders = append(c.Renders, &Render{Size: size, WithTitle: withTitle, done: done})
}

// Complete delivers img for the i-th recorded render.
func (c *Chart) Complete(i int, img image.Image) {
	c.Renders[i].done(c, img)
}

// CompleteLast delivers img for the most recent render.
func (c *Chart) CompleteLast(img image.Image) {
	c.Complete(len(c.Renders)-1, img)
}

// TextObject is a rich-text object.
type TextObject struct {
	Object
	Doc   []byte
	Reads int
}

// NewText creates a text object.
func NewText(id, label string, doc []byte) *TextObject {
	return &TextObject{Object: Object{IDVal: id, LabelVal: label}, Doc: doc}
}

// Text returns Doc.
func (t *TextObject) Text() []byte {
	t.Reads++
	return t.Doc
}

// Settle marks the object ready and notifies the delegate.
func (t *TextObject) Settle() {
	t.Ready(t)
}

// UpdateCall is one recorded Report.Update call.
type UpdateCall struct {
	done func(report.UpdateStatus, error)
}

// Send delivers a status for this update call.
func (u *UpdateCall) Send(status report.UpdateStatus, err error) {
	u.done(status, err)
}

// Report is a subscribed report holding objects by ID.
type Report struct {
	IDVal    string
	Objects  map[string]report.Object
	Loaded   []string
	Unloaded []string
	Updates  []*UpdateCall
	delegate report.Delegate
}

// NewReport creates a report containing objs.
func NewReport(id string, objs ...report.Object) *Report {
	r := &Report{IDVal: id, Objects: make(map[string]report.Object)}
	for _, o := range objs {
		r.Objects[o.ID()] = o
	}
	return r
}

func (r *Report) ID() string { return r.IDVal }

// LoadObject returns the object with id.
func (r *Report) LoadObject(id string) (report.Object, bool) {
	o, ok := r.Objects[id]
	if ok {
		r.Loaded = append(r.Loaded, id)
	}
	return o, ok
}

// UnloadObject records the call.
func (r *Report) UnloadObject(id string) {
	r.Unloaded = append(r.Unloaded, id)
}

// Update records the call for the test to answer.
func (r *Report) Update(done func(report.UpdateStatus, error)) {
	r.Updates = append(r.Updates, &UpdateCall{done: done})
}

// LastUpdate returns the most recent update call, or nil.
func (r *Report) LastUpdate() *UpdateCall {
	if len(r.Updates) == 0 {
		return nil
	}
	return r.Updates[len(r.Updates)-1]
}

func (r *Report) SetDelegate(d report.Delegate) { r.delegate = d }

// Delegate returns the current report delegate.
func (r *Report) Delegate() report.Delegate { return r.delegate }

// Server answers Connect and Subscribe synchronously.
type Server struct {
	Reports      map[string]*Report
	Subscribed   map[string]bool
	ConnectErr   error
	SubscribeErr error
	Connects     int
	Subscribes   int
}

// NewServer creates a server offering reports.
func NewServer(reports ...*Report) *Server {
	s := &Server{Reports: make(map[string]*Report), Subscribed: make(map[string]bool)}
	for _, r := range reports {
		s.Reports[r.IDVal] = r
	}
	return s
}

func (s *Server) Connect(done func(error)) {
	s.Connects++
	done(s.ConnectErr)
}

func (s *Server) Subscribe(desc report.Descriptor, done func(report.Report, error)) {
	s.Subscribes++
	if s.SubscribeErr != nil {
		done(nil, s.SubscribeErr)
		return
	}
	r, ok := s.Reports[desc.ID]
	if !ok {
		done(nil, report.ErrNotFound)
		return
	}
	s.Subscribed[desc.ID] = true
	done(r, nil)
}

func (s *Server) SubscribedReport(desc report.Descriptor) (report.Report, bool) {
	if !s.Subscribed[desc.ID] {
		return nil, false
	}
	return s.Reports[desc.ID], true
}

// Manager hands out Srv once verified.
type Manager struct {
	Srv       *Server
	Verified  bool
	VerifyErr error
	Verifies  int
}

func (m *Manager) Server(report.ServerDescriptor) (report.Server, bool) {
	if !m.Verified {
		return nil, false
	}
	return m.Srv, true
}

func (m *Manager) Verify(_ report.ServerDescriptor, done func(report.Server, error)) {
	m.Verifies++
	if m.VerifyErr != nil {
		done(nil, m.VerifyErr)
		return
	}
	m.Verified = true
	done(m.Srv, nil)
}
