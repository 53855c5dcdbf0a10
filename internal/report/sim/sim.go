// Package sim is an in-process report backend that simulates a remote
// analytics server from a YAML fixture. Every callback is delivered on the
// scheduler after the fixture's latency, the same way a real session
// delivers network results.
package sim

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"

	"github.com/smileynet/vizcache/internal/loop"
	"github.com/smileynet/vizcache/internal/report"
)

// Name is the registry name of the backend.
const Name = "sim"

// ErrUpdateFailed is reported by an update step scripted as "fail".
var ErrUpdateFailed = errors.New("sim: update failed")

// Register adds the backend to reg. Fixture paths are resolved in fsys.
func Register(reg *report.Registry, fsys fs.FS) {
	reg.Register(Name, func(cfg report.BackendConfig, sched loop.Scheduler) (report.Manager, error) {
		fx, err := LoadFixture(fsys, cfg.Fixture)
		if err != nil {
			return nil, err
		}
		return NewManager(fx, sched), nil
	})
}

// Manager verifies the simulated server.
type Manager struct {
	sched  loop.Scheduler
	server *Server
}

var _ report.Manager = (*Manager)(nil)

// NewManager creates a manager for fx.
func NewManager(fx Fixture, sched loop.Scheduler) *Manager {
	return &Manager{sched: sched, server: newServer(fx, sched)}
}

// Server returns the server once verified.
func (m *Manager) Server(report.ServerDescriptor) (report.Server, bool) {
	if !m.server.verified {
		return nil, false
	}
	return m.server, true
}

// Verify accepts any descriptor with a URL.
func (m *Manager) Verify(desc report.ServerDescriptor, done func(report.Server, error)) {
	m.sched.AfterFunc(m.server.fx.Latency, func() {
		if desc.URL == "" {
			done(nil, fmt.Errorf("sim: empty server URL"))
			return
		}
		m.server.verified = true
		done(m.server, nil)
	})
}

// Server is the simulated server holding a single report.
type Server struct {
	fx         Fixture
	sched      loop.Scheduler
	verified   bool
	connected  bool
	report     *Report
	subscribed bool
}

var _ report.Server = (*Server)(nil)

func newServer(fx Fixture, sched loop.Scheduler) *Server {
	return &Server{fx: fx, sched: sched, report: newReport(fx, sched)}
}

// Connect marks the server connected.
func (s *Server) Connect(done func(error)) {
	s.sched.AfterFunc(s.fx.Latency, func() {
		s.connected = true
		done(nil)
	})
}

// Subscribe subscribes to the fixture's report.
func (s *Server) Subscribe(desc report.Descriptor, done func(report.Report, error)) {
	s.sched.AfterFunc(s.fx.Latency, func() {
		switch {
		case !s.connected:
			done(nil, errors.New("sim: not connected"))
		case desc.ID != s.fx.ReportID:
			done(nil, fmt.Errorf("%w: report %q", report.ErrNotFound, desc.ID))
		default:
			s.subscribed = true
			done(s.report, nil)
		}
	})
}

// SubscribedReport returns the report once subscribed.
func (s *Server) SubscribedReport(desc report.Descriptor) (report.Report, bool) {
	if !s.subscribed || desc.ID != s.fx.ReportID {
		return nil, false
	}
	return s.report, true
}

// Report is the simulated report.
type Report struct {
	fx       Fixture
	sched    loop.Scheduler
	objects  map[string]report.Object
	filter   *Filter
	delegate report.Delegate
	updates  []string
	// version advances with every applied update and changes rendered data.
	version int
}

var _ report.Report = (*Report)(nil)

func newReport(fx Fixture, sched loop.Scheduler) *Report {
	r := &Report{
		fx:      fx,
		sched:   sched,
		objects: make(map[string]report.Object),
		updates: slices.Clone(fx.Updates),
	}
	r.filter = &Filter{base: base{id: fx.LocationsFilter, report: r}, values: fx.Locations}
	r.objects[fx.LocationsFilter] = r.filter
	if fx.TopLocationsFilter != "" {
		r.objects[fx.TopLocationsFilter] = &Filter{base: base{id: fx.TopLocationsFilter, report: r}, values: fx.TopLocations}
	}
	for _, spec := range fx.Objects {
		b := base{id: spec.ID, report: r}
		switch spec.Kind {
		case "graph":
			r.objects[spec.ID] = &Graph{base: b, spec: spec}
		case "text":
			r.objects[spec.ID] = &TextBox{base: b, spec: spec}
		}
	}
	return r
}

func (r *Report) ID() string { return r.fx.ReportID }

// LoadObject returns the object with id.
func (r *Report) LoadObject(id string) (report.Object, bool) {
	o, ok := r.objects[id]
	return o, ok
}

// UnloadObject drops the delegate of the object with id.
func (r *Report) UnloadObject(id string) {
	if o, ok := r.objects[id]; ok {
		o.SetDelegate(nil)
	}
}

func (r *Report) SetDelegate(d report.Delegate) { r.delegate = d }

// Update runs the next scripted update step.
func (r *Report) Update(done func(report.UpdateStatus, error)) {
	step := "no-update"
	if len(r.updates) > 0 {
		step = r.updates[0]
		r.updates = r.updates[1:]
	}
	r.sched.Post(func() { done(report.StatusCheckBegan, nil) })
	r.sched.AfterFunc(r.fx.Latency, func() {
		switch step {
		case "no-update":
			done(report.StatusNoUpdate, nil)
		case "fail":
			done(report.StatusFinished, ErrUpdateFailed)
		default:
			done(report.StatusDownloadBegan, nil)
			r.sched.AfterFunc(r.fx.Latency, func() {
				r.version++
				done(report.StatusFinished, nil)
			})
		}
	})
}

// PushData simulates the server announcing fresh data.
func (r *Report) PushData() {
	r.sched.Post(func() {
		if r.delegate != nil {
			r.delegate.DataUpdated(r)
		}
	})
}

// Version returns the applied data version.
func (r *Report) Version() int {
	return r.version
}

// selected returns the value the location filter currently applies.
func (r *Report) selected() string {
	return r.filter.selected
}
