package viewmodel

import (
	"errors"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/smileynet/vizcache/internal/cachestore"
	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/loop"
	"github.com/smileynet/vizcache/internal/model"
	"github.com/smileynet/vizcache/internal/report"
	"github.com/smileynet/vizcache/internal/report/reporttest"
	"github.com/smileynet/vizcache/internal/settings"
)

var (
	kpiSize   = report.Size{Width: 320, Height: 100}
	salesSize = report.Size{Width: 320, Height: 200}
)

type fixture struct {
	t      *testing.T
	sched  *loop.Manual
	cache  *cachestore.Store
	raw    *settings.FileStore
	st     *settings.Settings
	mgr    *reporttest.Manager
	srv    *reporttest.Server
	rep    *reporttest.Report
	filter *reporttest.Filter
	top    *reporttest.Filter
	kpi    *reporttest.Chart
	sales  *reporttest.Chart
	events []events.Event
	vm     *Store
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	cache, err := cachestore.New(filepath.Join(dir, "cache"),
		cachestore.WithHost("reports.example.com"), cachestore.WithReportID("sales-report"))
	if err != nil {
		t.Fatalf("cachestore.New() error = %v", err)
	}
	f := &fixture{
		t:      t,
		sched:  loop.NewManual(),
		cache:  cache,
		raw:    settings.NewFileStore(filepath.Join(dir, "settings")),
		filter: reporttest.NewFilter("location", "Spain", "France", "Italy"),
		top:    reporttest.NewFilter("top", "Spain", "France"),
		kpi:    reporttest.NewChart("kpi", "Headline KPIs"),
		sales:  reporttest.NewChart("sales", "Sales by month"),
	}
	f.st = settings.New(f.raw)
	f.rep = reporttest.NewReport("sales-report", f.filter, f.top, f.kpi, f.sales)
	f.srv = reporttest.NewServer(f.rep)
	f.mgr = &reporttest.Manager{Srv: f.srv}

	bus := events.NewBus()
	bus.Subscribe(func(ev events.Event) { f.events = append(f.events, ev) })
	f.vm = New(Config{
		Server:               report.ServerDescriptor{URL: "https://reports.example.com"},
		Report:               report.Descriptor{ID: "sales-report"},
		LocationsFilterID:    "location",
		TopLocationsFilterID: "top",
		VisualWidth:          320,
		Templates: model.Templates{
			Global:   []model.VisualTemplate{{ObjectID: "kpi", Height: 100}},
			Location: []model.VisualTemplate{{ObjectID: "sales", Height: 200}},
		},
	}, f.mgr, cache, f.st, f.sched, WithBus(bus))
	return f
}

func (f *fixture) count(kind events.Kind) int {
	n := 0
	for _, ev := range f.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// subscribedGlobalOnly prepares an existing subscription, a verified server
// and a fully cached global page, so Start goes straight to an update check.
func (f *fixture) subscribedGlobalOnly() {
	f.mgr.Verified = true
	f.srv.Subscribed["sales-report"] = true
	_ = f.st.SetUserLocations([]string{model.GlobalLocation})
	f.cache.PutImage("kpi", "", kpiSize, reporttest.Pixel())
}

func TestStart_FirstRunSeedsLocations(t *testing.T) {
	f := newFixture(t)

	// When: the app starts with no saved locations and no server
	f.vm.Start()

	// Then: the server is verified, connected and subscribed
	if f.mgr.Verifies != 1 || f.srv.Connects != 1 || f.srv.Subscribes != 1 {
		t.Fatalf("verify=%d connect=%d subscribe=%d, want 1 each", f.mgr.Verifies, f.srv.Connects, f.srv.Subscribes)
	}

	// Then: locations are seeded with the global page first
	want := []string{model.GlobalLocation, "Spain", "France"}
	if got := f.vm.UserLocations(); !slices.Equal(got, want) {
		t.Errorf("UserLocations() = %v, want %v", got, want)
	}
	saved, _, _ := f.st.UserLocations()
	if !slices.Equal(saved, want) {
		t.Errorf("persisted locations = %v, want %v", saved, want)
	}
	if f.count(events.LocationsChanged) != 1 {
		t.Errorf("LocationsChanged count = %d, want 1", f.count(events.LocationsChanged))
	}
	if len(f.vm.Pages()) != 3 {
		t.Fatalf("Pages() len = %d, want 3", len(f.vm.Pages()))
	}

	// Then: processing starts with the global page
	if len(f.kpi.Renders) != 1 {
		t.Errorf("kpi renders = %d, want 1", len(f.kpi.Renders))
	}
	if f.vm.IsUpdating() {
		t.Error("a fresh subscription should not run an update")
	}
}

func TestStart_ProcessesEveryPageUntilIdle(t *testing.T) {
	f := newFixture(t)
	f.vm.Start()

	f.kpi.CompleteLast(reporttest.Pixel())
	f.filter.Settle()
	f.sales.CompleteLast(reporttest.Pixel())
	f.filter.Settle()
	f.sales.CompleteLast(reporttest.Pixel())

	if got := f.count(events.PageThumbnailsUpdated); got != 3 {
		t.Errorf("PageThumbnailsUpdated count = %d, want 3", got)
	}
	last := f.events[len(f.events)-1]
	if last.Kind != events.ReportUpdated || !last.Idle {
		t.Errorf("last event = %v idle=%v, want idle report-updated", last.Kind, last.Idle)
	}
	if f.vm.Busy() {
		t.Error("Busy() = true after all pages processed")
	}
	for _, p := range f.vm.Pages() {
		if !p.Complete() {
			t.Errorf("page %s incomplete", p.Location)
		}
	}
	if !f.cache.HasImage("sales", "France", salesSize) {
		t.Error("France sales image not cached")
	}
}

func TestStart_ExistingSubscriptionChecksForUpdates(t *testing.T) {
	f := newFixture(t)
	f.subscribedGlobalOnly()

	f.vm.Start()

	if f.srv.Subscribes != 0 || f.mgr.Verifies != 0 {
		t.Error("existing subscription should be reused")
	}
	if f.count(events.ReportCheckingUpdates) != 1 {
		t.Errorf("ReportCheckingUpdates count = %d, want 1", f.count(events.ReportCheckingUpdates))
	}
	if len(f.rep.Updates) != 1 || !f.vm.IsUpdating() {
		t.Fatalf("updates = %d, updating = %v", len(f.rep.Updates), f.vm.IsUpdating())
	}
	p, ok := f.vm.PageForLocation(model.GlobalLocation)
	if !ok || !p.Complete() {
		t.Error("global page should be filled from the cache")
	}
	if len(f.kpi.Renders) != 0 {
		t.Error("cached visual rendered again")
	}

	// When: the server reports no update
	before := f.count(events.ReportUpdated)
	f.rep.LastUpdate().Send(report.StatusNoUpdate, nil)

	// Then: the update finishes and its timer is cancelled
	if f.vm.IsUpdating() {
		t.Error("still updating after no-update")
	}
	if got := f.count(events.ReportUpdated) - before; got != 1 {
		t.Errorf("ReportUpdated delta = %d, want 1", got)
	}
	if f.sched.Timers() != 0 {
		t.Errorf("Timers() = %d, want 0", f.sched.Timers())
	}
}

func TestUpdateReport_TimeoutThenLateCallbackIgnored(t *testing.T) {
	f := newFixture(t)
	f.subscribedGlobalOnly()
	f.vm.Start()
	before := len(f.events)

	// When: the update never answers
	f.sched.Advance(119 * time.Second)
	if !f.vm.IsUpdating() {
		t.Fatal("timed out early")
	}
	f.sched.Advance(time.Second)

	// Then: exactly one report-updated is emitted
	if f.vm.IsUpdating() {
		t.Fatal("still updating after timeout")
	}
	after := f.events[before:]
	if len(after) != 1 || after[0].Kind != events.ReportUpdated {
		t.Fatalf("events after timeout = %v, want one report-updated", after)
	}

	// When: the real callback arrives late
	f.rep.LastUpdate().Send(report.StatusDownloadBegan, nil)
	f.rep.LastUpdate().Send(report.StatusFinished, nil)

	// Then: nothing changes
	if len(f.events) != before+1 {
		t.Errorf("late callback produced events: %v", f.events[before+1:])
	}
	if !f.cache.HasImage("kpi", "", kpiSize) {
		t.Error("late callback invalidated the cache")
	}

	// Then: a new update may start
	f.vm.UpdateReport()
	if len(f.rep.Updates) != 2 {
		t.Errorf("updates = %d, want 2", len(f.rep.Updates))
	}
}

func TestUpdateReport_SingleFlight(t *testing.T) {
	f := newFixture(t)
	f.subscribedGlobalOnly()
	f.vm.Start()

	f.vm.UpdateReport()
	f.vm.UpdateReport()

	if len(f.rep.Updates) != 1 {
		t.Errorf("updates = %d, want 1", len(f.rep.Updates))
	}
}

func TestUpdateReport_NoReportIsNoop(t *testing.T) {
	f := newFixture(t)
	f.vm.UpdateReport()
	if f.vm.IsUpdating() || f.sched.Timers() != 0 {
		t.Error("update started without a report")
	}
}

func TestUpdateReport_FinishedInvalidatesAndReprocesses(t *testing.T) {
	f := newFixture(t)
	f.subscribedGlobalOnly()
	f.vm.Start()

	f.rep.LastUpdate().Send(report.StatusDownloadBegan, nil)
	if f.count(events.ReportUpdating) != 1 {
		t.Fatalf("ReportUpdating count = %d, want 1", f.count(events.ReportUpdating))
	}

	f.rep.LastUpdate().Send(report.StatusFinished, nil)

	if f.vm.IsUpdating() {
		t.Error("still updating after finish")
	}
	if f.count(events.ReportUpdating) != 2 {
		t.Errorf("ReportUpdating count = %d, want 2 (download + invalidation)", f.count(events.ReportUpdating))
	}
	if f.cache.HasImage("kpi", "", kpiSize) {
		t.Error("cache not cleared")
	}
	p, _ := f.vm.PageForLocation(model.GlobalLocation)
	if p.Complete() {
		t.Error("in-memory artifacts not cleared")
	}
	if len(f.kpi.Renders) != 1 {
		t.Errorf("kpi renders = %d, want 1 after reload", len(f.kpi.Renders))
	}
}

func TestUpdateReport_FailureIsSuccessShaped(t *testing.T) {
	f := newFixture(t)
	f.subscribedGlobalOnly()
	f.vm.Start()
	before := f.count(events.ReportUpdated)

	f.rep.LastUpdate().Send(report.StatusFinished, errors.New("network down"))

	if f.vm.IsUpdating() {
		t.Error("still updating after failure")
	}
	if f.count(events.ReportUpdated)-before != 1 {
		t.Error("failure should emit report-updated")
	}
	if !f.cache.HasImage("kpi", "", kpiSize) {
		t.Error("failure invalidated the cache")
	}
}

func TestDelegate_DataUpdatedStartsUpdate(t *testing.T) {
	f := newFixture(t)
	f.vm.Start()

	f.rep.Delegate().DataUpdated(f.rep)

	if len(f.rep.Updates) != 1 || !f.vm.IsUpdating() {
		t.Errorf("updates = %d, updating = %v", len(f.rep.Updates), f.vm.IsUpdating())
	}
}

func TestDelegate_ReportUpdatedWaitsForInFlightRenders(t *testing.T) {
	f := newFixture(t)
	f.vm.Start()
	// Global page render is in flight.

	f.rep.Delegate().ReportUpdated(f.rep)
	if f.count(events.ReportUpdating) != 0 {
		t.Fatal("invalidated while a render was in flight")
	}

	f.kpi.CompleteLast(reporttest.Pixel())

	if f.count(events.ReportUpdating) != 1 {
		t.Errorf("ReportUpdating count = %d, want 1", f.count(events.ReportUpdating))
	}
	if f.cache.HasImage("kpi", "", kpiSize) {
		t.Error("render that finished before invalidation survived it")
	}
	if len(f.kpi.Renders) != 2 {
		t.Errorf("kpi renders = %d, want 2 (re-rendered after reload)", len(f.kpi.Renders))
	}
}

func TestStart_VerifyFailureIsSuccessShaped(t *testing.T) {
	f := newFixture(t)
	f.mgr.VerifyErr = errors.New("offline")

	f.vm.Start()

	if f.srv.Connects != 0 || f.srv.Subscribes != 0 {
		t.Error("continued after verify failure")
	}
	if f.count(events.ReportUpdated) != 1 {
		t.Errorf("ReportUpdated count = %d, want 1", f.count(events.ReportUpdated))
	}
	if f.vm.Busy() {
		t.Error("Busy() after verify failure")
	}
}

func TestStart_SubscribeFailure(t *testing.T) {
	f := newFixture(t)
	f.srv.SubscribeErr = errors.New("forbidden")

	f.vm.Start()

	if f.vm.Report() != nil {
		t.Error("report set after subscribe failure")
	}
	if f.count(events.ReportUpdated) != 1 {
		t.Errorf("ReportUpdated count = %d, want 1", f.count(events.ReportUpdated))
	}
}

func TestStart_OfflinePagesComeFromCache(t *testing.T) {
	f := newFixture(t)
	f.mgr.VerifyErr = errors.New("offline")
	_ = f.st.SetUserLocations([]string{model.GlobalLocation, "Spain"})
	f.cache.PutImage("sales", "Spain", salesSize, reporttest.Pixel())

	f.vm.Start()

	p, ok := f.vm.PageForLocation("Spain")
	if !ok || !p.Complete() {
		t.Error("Spain page should be complete from the cache")
	}
	g, _ := f.vm.PageForLocation(model.GlobalLocation)
	if g.PercentComplete() != 0 {
		t.Errorf("global percent = %v, want 0", g.PercentComplete())
	}
}

func TestSetUserLocations_ReusesPagesAndPersists(t *testing.T) {
	f := newFixture(t)
	f.vm.Start()
	spain, _ := f.vm.PageForLocation("Spain")
	france, _ := f.vm.PageForLocation("France")
	changed := f.count(events.LocationsChanged)

	f.vm.SetUserLocations([]string{model.GlobalLocation, "Spain", "Italy", "Spain"})

	got, _ := f.vm.PageForLocation("Spain")
	if got.ID != spain.ID {
		t.Error("existing page was recreated")
	}
	if _, ok := f.vm.PageForLocation("France"); ok {
		t.Error("dropped location still has a page")
	}
	if france.Report() != nil {
		t.Error("dropped page still attached")
	}
	italy, ok := f.vm.PageForLocation("Italy")
	if !ok || italy.Report() == nil {
		t.Fatal("new page missing or unattached")
	}
	queued := false
	for _, p := range f.vm.Queue().Pending() {
		if p.ID == italy.ID {
			queued = true
		}
	}
	if !queued {
		t.Error("new page not queued")
	}
	saved, _, _ := f.st.UserLocations()
	if !slices.Equal(saved, []string{model.GlobalLocation, "Spain", "Italy"}) {
		t.Errorf("persisted = %v", saved)
	}
	if f.count(events.LocationsChanged) != changed+1 {
		t.Error("LocationsChanged not emitted")
	}

	// Setting the same list again is a no-op.
	f.vm.SetUserLocations([]string{model.GlobalLocation, "Spain", "Italy"})
	if f.count(events.LocationsChanged) != changed+1 {
		t.Error("unchanged list emitted LocationsChanged")
	}
}

func TestSetCurrentLocation(t *testing.T) {
	f := newFixture(t)

	f.vm.SetCurrentLocation("Spain")
	f.vm.SetCurrentLocation("Spain")

	if f.count(events.CurrentLocationChanged) != 1 {
		t.Errorf("CurrentLocationChanged count = %d, want 1", f.count(events.CurrentLocationChanged))
	}
	if cur, _, _ := f.st.CurrentLocation(); cur != "Spain" {
		t.Errorf("persisted current = %q", cur)
	}
	if f.vm.CurrentLocation() != "Spain" {
		t.Errorf("CurrentLocation() = %q", f.vm.CurrentLocation())
	}
}

func TestRemoveLocation_DeletesArtifactsAndPage(t *testing.T) {
	f := newFixture(t)
	f.mgr.VerifyErr = errors.New("offline")
	_ = f.st.SetUserLocations([]string{model.GlobalLocation, "Spain", "France"})
	f.cache.PutImage("sales", "Spain", salesSize, reporttest.Pixel())
	f.cache.PutLabel("sales", "Spain", "Sales in Spain")
	f.cache.PutImage("sales", "France", salesSize, reporttest.Pixel())
	f.vm.Start()

	f.vm.RemoveLocation("Spain")

	if f.cache.HasImage("sales", "Spain", salesSize) {
		t.Error("Spain image still cached")
	}
	if _, ok := f.cache.Label("sales", "Spain"); ok {
		t.Error("Spain label still cached")
	}
	if !f.cache.HasImage("sales", "France", salesSize) {
		t.Error("France image removed")
	}
	if _, ok := f.vm.PageForLocation("Spain"); ok {
		t.Error("Spain page still present")
	}
	if got := f.vm.UserLocations(); !slices.Equal(got, []string{model.GlobalLocation, "France"}) {
		t.Errorf("UserLocations() = %v", got)
	}
}

func TestInvalidateLocation_UnknownIsNoop(t *testing.T) {
	f := newFixture(t)
	f.vm.InvalidateLocation("Atlantis")
	if len(f.events) != 0 {
		t.Errorf("events = %v, want none", f.events)
	}
}

func TestInvalidateAll(t *testing.T) {
	f := newFixture(t)
	f.mgr.VerifyErr = errors.New("offline")
	_ = f.st.SetUserLocations([]string{"Spain"})
	f.cache.PutImage("sales", "Spain", salesSize, reporttest.Pixel())
	f.vm.Start()

	f.vm.InvalidateAll()

	if f.cache.Count() != 0 {
		t.Errorf("Count() = %d, want 0", f.cache.Count())
	}
	p, _ := f.vm.PageForLocation("Spain")
	if p.Visuals[0].Image() != nil {
		t.Error("visual image not cleared")
	}
	if f.count(events.ReportUpdating) != 1 {
		t.Error("ReportUpdating not emitted")
	}
}

func TestRefresh_ClearsAndReprocesses(t *testing.T) {
	f := newFixture(t)
	f.subscribedGlobalOnly()
	f.vm.Start()
	if len(f.kpi.Renders) != 0 {
		t.Fatalf("cached global page rendered %d times, want 0", len(f.kpi.Renders))
	}

	f.vm.Refresh()

	if f.cache.Count() != 0 {
		t.Errorf("cache entries = %d, want 0", f.cache.Count())
	}
	if len(f.kpi.Renders) != 1 {
		t.Errorf("kpi renders after refresh = %d, want 1", len(f.kpi.Renders))
	}
}

func TestRefreshLocation_ReplacesPage(t *testing.T) {
	f := newFixture(t)
	f.mgr.VerifyErr = errors.New("offline")
	_ = f.st.SetUserLocations([]string{model.GlobalLocation, "Spain"})
	f.cache.PutImage("sales", "Spain", salesSize, reporttest.Pixel())
	f.vm.Start()
	old, _ := f.vm.PageForLocation("Spain")

	f.vm.RefreshLocation("Spain")

	p, ok := f.vm.PageForLocation("Spain")
	if !ok {
		t.Fatal("Spain page missing after refresh")
	}
	if p.ID == old.ID {
		t.Error("page was not replaced")
	}
	if p.Complete() {
		t.Error("refreshed page should not be complete")
	}
	if f.cache.HasImage("sales", "Spain", salesSize) {
		t.Error("cached image survived refresh")
	}
	pages := f.vm.Pages()
	if len(pages) != 2 || pages[1].Location != "Spain" {
		t.Errorf("page order = %v, want global then Spain", pages)
	}

	// Unknown locations are ignored.
	f.vm.RefreshLocation("Atlantis")
	if len(f.vm.Pages()) != 2 {
		t.Errorf("pages = %d, want 2", len(f.vm.Pages()))
	}
}

func TestAddDeviceLocation_MergedWhenFilterReady(t *testing.T) {
	f := newFixture(t)
	_ = f.st.SetUserLocations([]string{model.GlobalLocation, "Spain"})

	f.vm.AddDeviceLocation("Italy")
	f.vm.AddDeviceLocation("Atlantis")
	f.vm.Start()

	want := []string{model.GlobalLocation, "Italy", "Spain"}
	if got := f.vm.UserLocations(); !slices.Equal(got, want) {
		t.Errorf("UserLocations() = %v, want %v", got, want)
	}
	if _, ok := f.vm.PageForLocation("Italy"); !ok {
		t.Error("Italy page missing")
	}

	// A duplicate offer changes nothing.
	f.vm.AddDeviceLocation("Spain")
	if got := f.vm.UserLocations(); !slices.Equal(got, want) {
		t.Errorf("UserLocations() after duplicate = %v", got)
	}
}

func TestAvailableLocations(t *testing.T) {
	f := newFixture(t)
	if f.vm.AvailableLocations() != nil {
		t.Error("AvailableLocations() before session should be nil")
	}
	f.vm.Start()
	if got := f.vm.AvailableLocations(); !slices.Equal(got, []string{"Spain", "France", "Italy"}) {
		t.Errorf("AvailableLocations() = %v", got)
	}
}

func TestPause_PassesThroughToQueue(t *testing.T) {
	f := newFixture(t)
	f.vm.Start()
	calls := 0

	f.vm.Pause(func() { calls++ })
	if calls != 0 {
		t.Fatal("onSafe ran with a render in flight")
	}
	f.kpi.CompleteLast(reporttest.Pixel())
	if calls != 1 {
		t.Fatalf("onSafe calls = %d, want 1", calls)
	}
	if len(f.filter.SetCalls) != 0 {
		t.Error("next page started while paused")
	}
	f.vm.Resume()
	if len(f.filter.SetCalls) != 1 {
		t.Error("processing did not resume")
	}
}

func TestMigrate(t *testing.T) {
	f := newFixture(t)
	_ = f.raw.Save(settings.KeyUserCountries, []byte(`["Spain"]`))
	f.cache.PutText("notes", "Spain", []byte("old"))

	// When: migrating from a store that never recorded a version
	if err := f.vm.Migrate(settings.Version{Major: 2}); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Then: the cache is cleared, countries become locations, version recorded
	if f.cache.Count() != 0 {
		t.Error("cache not cleared on first versioned run")
	}
	locs, _, _ := f.st.UserLocations()
	if !slices.Equal(locs, []string{"Spain"}) {
		t.Errorf("UserLocations = %v", locs)
	}
	if v, _ := f.st.LastRunVersion(); v.String() != "2.0.0" {
		t.Errorf("LastRunVersion = %v", v)
	}

	// When: running the same version again
	f.cache.PutText("notes", "Spain", []byte("new"))
	if err := f.vm.Migrate(settings.Version{Major: 2}); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}

	// Then: the cache is kept
	if !f.cache.HasText("notes", "Spain") {
		t.Error("cache cleared on a repeat run")
	}
}
