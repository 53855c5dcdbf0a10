// Package viewmodel owns the user's pages and the report session. It
// connects and subscribes, seeds and persists the location list, runs
// report updates under a timeout and invalidates the cache when new report
// content arrives.
//
// Every method must be called on the loop goroutine that drives the
// Scheduler passed to New.
package viewmodel

import (
	"log/slog"
	"slices"
	"time"

	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/loop"
	"github.com/smileynet/vizcache/internal/model"
	"github.com/smileynet/vizcache/internal/pipeline"
	"github.com/smileynet/vizcache/internal/report"
	"github.com/smileynet/vizcache/internal/settings"
)

// DefaultUpdateTimeout bounds a report update call.
const DefaultUpdateTimeout = 120 * time.Second

// Cache is the artifact storage used by the store. *cachestore.Store satisfies it.
type Cache interface {
	pipeline.Cache
	Clear()
	RemoveVisual(objectID, filterValue string, size report.Size)
}

// Config describes the report and page layout.
type Config struct {
	Server               report.ServerDescriptor
	Report               report.Descriptor
	LocationsFilterID    string
	TopLocationsFilterID string
	UpdateTimeout        time.Duration
	VisualWidth          int
	Templates            model.Templates
}

// Store is the application view model.
type Store struct {
	cfg      Config
	manager  report.Manager
	cache    Cache
	settings *settings.Settings
	sched    loop.Scheduler
	bus      *events.Bus
	logger   *slog.Logger
	queue    *pipeline.Queue

	server       report.Server
	report       report.Report
	topLocations report.Filter

	pages           []*model.Page
	userLocations   []string
	currentLocation string
	deviceLocations []string

	updating      bool
	updateSeq     uint64
	cancelTimeout func()
}

var (
	_ report.Delegate       = (*Store)(nil)
	_ report.ObjectDelegate = (*Store)(nil)
)

// Option configures a Store.
type Option func(*Store)

// WithBus sets the event bus. Defaults to a new bus.
func WithBus(b *events.Bus) Option {
	return func(s *Store) { s.bus = b }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store. Call Start to read settings and open the session.
func New(cfg Config, manager report.Manager, cache Cache, st *settings.Settings, sched loop.Scheduler, opts ...Option) *Store {
	if cfg.UpdateTimeout <= 0 {
		cfg.UpdateTimeout = DefaultUpdateTimeout
	}
	s := &Store{
		cfg:      cfg,
		manager:  manager,
		cache:    cache,
		settings: st,
		sched:    sched,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	if s.bus == nil {
		s.bus = events.NewBus()
	}
	s.queue = pipeline.New(cache, s.bus,
		pipeline.WithLogger(s.logger),
		pipeline.WithFilterReadyHook(s.mergeDeviceLocations),
	)
	return s
}

// Bus returns the event bus.
func (s *Store) Bus() *events.Bus {
	return s.bus
}

// Queue returns the processing queue.
func (s *Store) Queue() *pipeline.Queue {
	return s.queue
}

// Start reads persisted settings, builds pages from the cache and opens the
// report session, reusing an already verified server when there is one.
func (s *Store) Start() {
	s.readSettings()
	s.rebuildPages(nil)
	if srv, ok := s.manager.Server(s.cfg.Server); ok {
		s.server = srv
		s.checkReport()
		return
	}
	s.connect()
}

func (s *Store) readSettings() {
	locs, _, err := s.settings.UserLocations()
	if err != nil {
		s.logger.Warn("reading user locations", "error", err)
	}
	s.userLocations = dedupe(locs)
	cur, _, err := s.settings.CurrentLocation()
	if err != nil {
		s.logger.Warn("reading current location", "error", err)
	}
	s.currentLocation = cur
}

func (s *Store) connect() {
	s.manager.Verify(s.cfg.Server, func(srv report.Server, err error) {
		if err != nil {
			s.logger.Warn("server verification failed", "server", s.cfg.Server.URL, "error", err)
			s.bus.Publish(events.New(events.ReportUpdated))
			return
		}
		s.server = srv
		srv.Connect(func(err error) {
			if err != nil {
				s.logger.Warn("server connection failed", "server", s.cfg.Server.URL, "error", err)
				s.bus.Publish(events.New(events.ReportUpdated))
				return
			}
			s.checkReport()
		})
	})
}

// checkReport reuses an existing subscription and checks it for updates,
// or subscribes for the first time.
func (s *Store) checkReport() {
	if r, ok := s.server.SubscribedReport(s.cfg.Report); ok {
		s.setReport(r)
		s.reload()
		s.bus.Publish(events.New(events.ReportCheckingUpdates))
		s.UpdateReport()
		return
	}
	s.server.Subscribe(s.cfg.Report, func(r report.Report, err error) {
		if err != nil {
			s.logger.Warn("report subscription failed", "report", s.cfg.Report.ID, "error", err)
			s.bus.Publish(events.New(events.ReportUpdated))
			return
		}
		s.setReport(r)
		s.reload()
	})
}

func (s *Store) setReport(r report.Report) {
	if s.report != nil && s.report != r {
		s.report.SetDelegate(nil)
	}
	s.report = r
	r.SetDelegate(s)
	for _, p := range s.pages {
		p.Attach(r, s.cache)
	}
}

// reload re-enqueues every page against the current report and, while the
// global page is not among the user's locations, loads the top locations
// used to seed the list.
func (s *Store) reload() {
	s.queue.Reload(s.report, s.cfg.LocationsFilterID, s.Pages)
	if !slices.Contains(s.userLocations, model.GlobalLocation) {
		s.loadTopLocations()
	}
}

// Pause stops new rendering and calls onSafe once in-flight renders finish.
// Foreground consumers use it before driving report objects directly.
func (s *Store) Pause(onSafe func()) {
	s.queue.Pause(onSafe)
}

// Resume releases a Pause.
func (s *Store) Resume() {
	s.queue.Resume()
}

// Busy reports whether an update is running or pages remain to process.
func (s *Store) Busy() bool {
	return s.updating || s.queue.HasWork()
}

// Report returns the subscribed report, or nil.
func (s *Store) Report() report.Report {
	return s.report
}

// DataUpdated implements report.Delegate.
func (s *Store) DataUpdated(report.Report) {
	s.UpdateReport()
}

// ReportUpdated implements report.Delegate. New content makes every cached
// artifact stale: once in-flight renders drain, the cache is cleared and all
// pages are processed again.
func (s *Store) ReportUpdated(r report.Report) {
	s.reportUpdated(r)
}

func (s *Store) reportUpdated(r report.Report) {
	s.finishUpdate()
	s.setReport(r)
	s.Refresh()
}

// Refresh clears every cached artifact once in-flight renders drain and
// processes all pages again.
func (s *Store) Refresh() {
	s.queue.Pause(func() {
		s.InvalidateAll()
		if s.report != nil {
			s.reload()
		}
		s.queue.Resume()
	})
}

// InvalidateAll clears the cache and every in-memory artifact.
func (s *Store) InvalidateAll() {
	s.cache.Clear()
	s.bus.Publish(events.New(events.ReportUpdating))
	for _, p := range s.pages {
		p.ClearArtifacts()
	}
	s.logger.Info("cache invalidated")
}

// InvalidateLocation deletes the cached artifacts of the page for location
// and drops that page from the page list and the queue.
func (s *Store) InvalidateLocation(location string) {
	i := slices.IndexFunc(s.pages, func(p *model.Page) bool { return p.Location == location })
	if i < 0 {
		return
	}
	p := s.pages[i]
	for _, v := range p.Visuals {
		s.cache.RemoveVisual(v.ObjectID, p.FilterValue(), v.Size())
	}
	s.queue.Remove(p)
	p.Detach()
	s.pages = slices.Delete(s.pages, i, i+1)
	s.logger.Debug("location invalidated", "location", location)
}

// ObjectBusy implements report.ObjectDelegate.
func (s *Store) ObjectBusy(report.Object) {}

// ObjectReady implements report.ObjectDelegate for the top locations list.
func (s *Store) ObjectReady(o report.Object) {
	if s.topLocations != nil && o.ID() == s.topLocations.ID() {
		s.seedLocations()
	}
}

// ObjectDataChanged implements report.ObjectDelegate.
func (s *Store) ObjectDataChanged(report.Object) {}
