// Package pipeline drives pages through filter selection and visual
// rendering, one page at a time, writing every artifact to the cache.
//
// A Queue is owned by a single loop goroutine. Report objects call back
// into it through report.ObjectDelegate on that same goroutine.
package pipeline

import (
	"image"
	"log/slog"

	"github.com/google/uuid"

	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/model"
	"github.com/smileynet/vizcache/internal/report"
)

// Cache is the artifact storage a Queue reads and writes.
// Defined here (the consumer) per Go convention; *cachestore.Store satisfies it.
type Cache interface {
	model.ArtifactSource
	HasImage(objectID, filterValue string, size report.Size) bool
	HasText(objectID, filterValue string) bool
	PutImage(objectID, filterValue string, size report.Size, img image.Image)
	PutText(objectID, filterValue string, doc []byte)
	PutLabel(objectID, filterValue, label string)
}

// Publisher receives queue notifications. *events.Bus satisfies it.
type Publisher interface {
	Publish(ev events.Event)
}

// State is the externally visible processing state.
type State string

const (
	StateIdle           State = "idle"
	StateAwaitingFilter State = "awaiting-filter"
	StateProcessing     State = "processing-visuals"
	StatePaused         State = "paused"
)

// request is one visual whose artifact has been asked for.
type request struct {
	page   *model.Page
	visual *model.Visual
	// waiting is set for text objects that were busy when requested.
	waiting bool
	// rendering is set while a thumbnail render is outstanding at the session.
	rendering bool
}

// Queue is the page processing queue and its pause controller.
type Queue struct {
	cache         Cache
	bus           Publisher
	logger        *slog.Logger
	onFilterReady func(report.Filter)

	report   report.Report
	filterID string
	filter   report.Filter

	pending  []*model.Page
	current  *model.Page
	inflight map[uuid.UUID]*request
	// gen changes whenever in-flight work is abandoned; callbacks carrying
	// an older gen are dropped.
	gen         uint64
	// abandoned counts renders of a removed page that the session has not
	// answered yet. No new page starts and no pause is safe until it is zero.
	abandoned   int
	requested   bool
	dispatching bool
	active      bool

	pauses int
	onSafe []func()
}

var _ report.ObjectDelegate = (*Queue)(nil)

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithFilterReadyHook registers fn to run whenever the location filter
// becomes ready, before the current page is processed.
func WithFilterReadyHook(fn func(report.Filter)) Option {
	return func(q *Queue) { q.onFilterReady = fn }
}

// New creates an idle Queue.
func New(cache Cache, bus Publisher, opts ...Option) *Queue {
	q := &Queue{
		cache:    cache,
		bus:      bus,
		logger:   slog.New(slog.DiscardHandler),
		inflight: make(map[uuid.UUID]*request),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Reload waits until no render is in flight, then binds the queue to r and
// its location filter, drops all queued work and enqueues the pages
// returned by pages at that moment, in order. A nil r leaves the queue
// without a session; pages then finish without requesting anything.
func (q *Queue) Reload(r report.Report, filterID string, pages func() []*model.Page) {
	q.Pause(func() {
		if q.filter != nil {
			q.filter.SetDelegate(nil)
		}
		q.report = r
		q.filterID = filterID
		q.filter = nil
		if r != nil && filterID != "" {
			if obj, ok := r.LoadObject(filterID); ok {
				if f, ok := obj.(report.Filter); ok {
					q.filter = f
					f.SetDelegate(q)
				} else {
					q.logger.Warn("location filter is not a filter object", "object", filterID)
				}
			} else {
				q.logger.Warn("location filter not found", "object", filterID)
			}
		}
		q.reset()
		list := pages()
		for _, p := range list {
			q.Enqueue(p)
		}
		q.logger.Debug("queue reloaded", "pages", len(list))
		if q.filter != nil && !q.filter.IsBusy() && q.onFilterReady != nil {
			q.onFilterReady(q.filter)
		}
		q.Resume()
	})
}

func (q *Queue) reset() {
	q.pending = nil
	q.current = nil
	q.inflight = make(map[uuid.UUID]*request)
	q.requested = false
	q.gen++
}

// Enqueue appends p unless it is already queued or being processed.
// It does not start processing; call Check.
func (q *Queue) Enqueue(p *model.Page) {
	if q.current != nil && q.current.ID == p.ID {
		return
	}
	for _, queued := range q.pending {
		if queued.ID == p.ID {
			return
		}
	}
	q.pending = append(q.pending, p)
	q.active = true
}

// Remove drops p from the queue. If p is being processed its outstanding
// renders are abandoned; the next page starts once the session has answered
// them.
func (q *Queue) Remove(p *model.Page) {
	for i, queued := range q.pending {
		if queued.ID == p.ID {
			q.pending = append(q.pending[:i:i], q.pending[i+1:]...)
			break
		}
	}
	if q.current == nil || q.current.ID != p.ID {
		return
	}
	for _, req := range q.inflight {
		if req.rendering {
			q.abandoned++
		}
	}
	q.logger.Debug("current page removed", "location", p.Location, "abandoned", q.abandoned)
	q.current = nil
	q.inflight = make(map[uuid.UUID]*request)
	q.requested = false
	q.gen++
	q.Check()
}

// Check advances the queue: it honours pending pause requests, continues
// the current page or selects the next one, and reports idleness.
func (q *Queue) Check() {
	q.firePauseCallbacks()
	if q.pauses > 0 || len(q.inflight) > 0 || q.abandoned > 0 || q.dispatching {
		return
	}
	if q.current != nil {
		q.processPage()
		return
	}
	if len(q.pending) == 0 {
		if q.active {
			q.active = false
			ev := events.New(events.ReportUpdated)
			ev.Idle = true
			q.bus.Publish(ev)
		}
		return
	}
	q.current = q.pending[0]
	q.pending = q.pending[1:]
	q.requested = false
	q.logger.Debug("page selected", "location", q.current.Location, "remaining", len(q.pending))
	q.processPage()
}

func (q *Queue) processPage() {
	p := q.current
	if p == nil || q.pauses > 0 {
		return
	}
	if p.IsGlobal() {
		q.processVisuals(p)
		return
	}
	if q.filter == nil {
		if q.report != nil {
			q.logger.Debug("no location filter, page stalled", "location", p.Location)
			return
		}
		q.processVisuals(p)
		return
	}
	if q.filter.IsBusy() {
		return
	}
	if q.filter.SelectedValue() != p.Location {
		q.filter.SetSelectedValue(p.Location)
		return
	}
	q.processVisuals(p)
}

func (q *Queue) processVisuals(p *model.Page) {
	gen := q.gen
	filter := p.FilterValue()
	q.dispatching = true
	for _, v := range p.Visuals {
		if q.report == nil {
			break
		}
		if _, ok := q.inflight[v.ID]; ok {
			continue
		}
		obj, ok := q.report.LoadObject(v.ObjectID)
		if !ok {
			q.logger.Debug("object not in report", "object", v.ObjectID)
			continue
		}
		v.FilterValue = filter
		if v.Object() != obj {
			v.Bind(obj, q.cache)
		}
		if q.cache.HasImage(v.ObjectID, filter, v.Size()) || q.cache.HasText(v.ObjectID, filter) {
			continue
		}

		switch o := obj.(type) {
		case report.Text:
			req := &request{page: p, visual: v}
			q.inflight[v.ID] = req
			q.requested = true
			if o.IsBusy() {
				req.waiting = true
				o.SetDelegate(q)
				continue
			}
			q.storeText(req, o)
		case report.Renderer:
			q.inflight[v.ID] = &request{page: p, visual: v, rendering: true}
			q.requested = true
			o.RenderThumbnail(v.Size(), !v.ExternalTitle, func(obj report.Object, img image.Image) {
				q.renderDone(gen, v, obj, img)
			})
		default:
			q.logger.Debug("object cannot be cached", "object", v.ObjectID)
		}
	}
	q.dispatching = false
	if len(q.inflight) == 0 {
		q.finishPage()
	}
}

func (q *Queue) storeText(req *request, t report.Text) {
	v := req.visual
	filter := req.page.FilterValue()
	doc := t.Text()
	label := t.AccessibilityLabel()
	q.cache.PutText(v.ObjectID, filter, doc)
	q.cache.PutLabel(v.ObjectID, filter, label)
	v.SetText(doc)
	v.SetLabel(label)
	q.complete(v)
}

func (q *Queue) renderDone(gen uint64, v *model.Visual, obj report.Object, img image.Image) {
	if gen != q.gen {
		q.logger.Debug("late render ignored", "object", v.ObjectID)
		if q.abandoned > 0 {
			q.abandoned--
			q.Check()
		}
		return
	}
	req, ok := q.inflight[v.ID]
	if !ok {
		return
	}
	filter := req.page.FilterValue()
	if img != nil {
		q.cache.PutImage(v.ObjectID, filter, v.Size(), img)
		v.SetImage(img)
	} else {
		q.logger.Debug("render returned no image", "object", v.ObjectID, "location", req.page.Location)
	}
	label := obj.AccessibilityLabel()
	q.cache.PutLabel(v.ObjectID, filter, label)
	v.SetLabel(label)
	q.complete(v)
}

// complete retires v and finishes the page when nothing else is outstanding.
func (q *Queue) complete(v *model.Visual) {
	delete(q.inflight, v.ID)
	if q.dispatching || len(q.inflight) > 0 {
		return
	}
	q.finishPage()
}

func (q *Queue) finishPage() {
	p := q.current
	q.current = nil
	if p != nil && q.requested {
		ev := events.New(events.PageThumbnailsUpdated)
		ev.PageID = p.ID
		ev.Location = p.Location
		ev.Percent = p.PercentComplete()
		q.bus.Publish(ev)
		q.logger.Debug("page processed", "location", p.Location, "percent", ev.Percent)
	}
	q.requested = false
	q.Check()
}

// ObjectBusy implements report.ObjectDelegate.
func (q *Queue) ObjectBusy(o report.Object) {}

// ObjectReady implements report.ObjectDelegate. A ready filter continues
// the current page; a ready text object resolves requests waiting on it
// even while paused.
func (q *Queue) ObjectReady(o report.Object) {
	if q.isFilter(o) {
		if q.onFilterReady != nil {
			q.onFilterReady(q.filter)
		}
		q.processPage()
		return
	}
	t, ok := o.(report.Text)
	if !ok {
		return
	}
	var ready []*request
	for _, req := range q.inflight {
		if req.waiting && req.visual.ObjectID == o.ID() {
			ready = append(ready, req)
		}
	}
	gen := q.gen
	for _, req := range ready {
		if gen != q.gen {
			return
		}
		if _, ok := q.inflight[req.visual.ID]; !ok {
			continue
		}
		req.waiting = false
		q.storeText(req, t)
	}
}

// ObjectDataChanged implements report.ObjectDelegate.
func (q *Queue) ObjectDataChanged(o report.Object) {
	if q.isFilter(o) {
		q.processPage()
	}
}

func (q *Queue) isFilter(o report.Object) bool {
	return q.filter != nil && o.ID() == q.filterID
}

// State reports the processing state.
func (q *Queue) State() State {
	switch {
	case q.pauses > 0:
		return StatePaused
	case q.abandoned > 0:
		return StateProcessing
	case q.current == nil:
		return StateIdle
	case len(q.inflight) > 0 || q.dispatching:
		return StateProcessing
	default:
		return StateAwaitingFilter
	}
}

// Current returns the page being processed, or nil.
func (q *Queue) Current() *model.Page {
	return q.current
}

// Pending returns a copy of the queued pages in processing order.
func (q *Queue) Pending() []*model.Page {
	out := make([]*model.Page, len(q.pending))
	copy(out, q.pending)
	return out
}

// InFlight returns the number of outstanding requests.
func (q *Queue) InFlight() int {
	return len(q.inflight)
}

// Abandoned returns the number of renders of removed pages still
// outstanding at the session.
func (q *Queue) Abandoned() int {
	return q.abandoned
}

// HasWork reports whether any page is queued or being processed.
func (q *Queue) HasWork() bool {
	return q.current != nil || len(q.pending) > 0 || len(q.inflight) > 0 || q.abandoned > 0
}

// Filter returns the bound location filter, or nil.
func (q *Queue) Filter() report.Filter {
	return q.filter
}
