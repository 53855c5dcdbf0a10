package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"slices"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/smileynet/vizcache"
	"github.com/smileynet/vizcache/internal/config"
	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/logging"
	"github.com/smileynet/vizcache/internal/model"
	"github.com/smileynet/vizcache/internal/report"
	"github.com/smileynet/vizcache/internal/server"
	"github.com/smileynet/vizcache/internal/settings"
	"github.com/smileynet/vizcache/internal/tui"
)

var (
	version = "0.1.0"
	commit  = "unknown"
	date    = "unknown"
)

// localDir holds project config and template overrides.
const localDir = ".vizcache"

var (
	errWarmUpTimeout     = errors.New("pages still processing at timeout")
	errReportUnavailable = errors.New("report unavailable")
	errServe             = errors.New("serve failed")
)

// CLI is the top-level command structure for vizcache.
type CLI struct {
	Version    kong.VersionFlag `help:"Show version." short:"V"`
	Run        RunCmd           `cmd:"" help:"Warm the thumbnail cache for every saved location, then exit."`
	Serve      ServeCmd         `cmd:"" help:"Serve pages, artifacts and events over HTTP."`
	Invalidate InvalidateCmd    `cmd:"" help:"Delete cached artifacts for one location, or all of them."`
	Locations  LocationsCmd     `cmd:"" help:"Show or replace the saved location list."`
}

// RunCmd warms the cache and exits once every page is processed.
type RunCmd struct {
	Timeout time.Duration `help:"Give up if pages are still processing after this long." default:"5m"`
	Update  bool          `help:"Check the report for new data once pages are warm."`
	NoTUI   bool          `help:"Force plain text output even if stdout is a TTY." default:"false"`
}

// Run executes the run command.
func (r *RunCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer func() { _ = closeLog() }()

	a, err := newApp(cfg, logger, vizcache.OverlayFS(localDir, vizcache.Templates))
	if err != nil {
		return fmt.Errorf("run: %w", err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	display := tui.NewDisplay(tui.DisplayOptions{
		Writer:     os.Stdout,
		ForcePlain: r.NoTUI,
		CancelFunc: cancel,
	})
	return r.run(ctx, a, display, tui.NewBridge())
}

// run drives a until every page is processed, with display lifecycle
// management. It returns once the display has released the terminal.
func (r *RunCmd) run(ctx context.Context, a *app, display tui.Display, bridge *tui.Bridge) error {
	stopLoop := a.startLoop()
	defer stopLoop()

	displayDone := bridge.Run(ctx, display)

	w := &warmer{app: a, bridge: bridge, update: r.Update, result: make(chan error, 1)}
	err := a.loop.Do(ctx, func() {
		w.unsubscribe = a.store.Bus().Subscribe(w.handle)
		a.begin()
	})

	displayExited := false
	if err == nil {
		timer := time.NewTimer(r.Timeout)
		defer timer.Stop()
		select {
		case err = <-w.result:
		case <-timer.C:
			err = errWarmUpTimeout
		case <-ctx.Done():
			err = ctx.Err()
		case derr := <-displayDone:
			displayExited = true
			err = derr
			if err == nil {
				err = context.Canceled
			}
		}
	}

	_ = a.loop.Do(context.Background(), func() {
		if w.unsubscribe != nil {
			w.unsubscribe()
		}
	})

	// Wait for display to finish (so it releases the terminal).
	if err != nil {
		bridge.Error(err)
	} else {
		bridge.Done()
	}
	if !displayExited {
		<-displayDone
	}
	return err
}

// warmer forwards store events to the display and decides when a warm-up
// run is finished. Its methods run on the loop.
type warmer struct {
	app         *app
	bridge      *tui.Bridge
	update      bool
	updated     bool
	finished    bool
	unsubscribe func()
	result      chan error
}

func (w *warmer) handle(ev events.Event) {
	store := w.app.store
	rows := tui.Rows(store.Pages(), store.CurrentLocation(), w.app.cfg.Pages.GlobalLabel)
	for _, msg := range tui.Translate(ev, rows) {
		// A display that has quit stops draining; never block the loop on it.
		w.bridge.TrySend(msg)
	}
	if ev.Kind == events.ReportUpdated {
		// Re-check after the publishing handler chain has finished.
		w.app.loop.AfterFunc(0, w.check)
	}
}

func (w *warmer) check() {
	store := w.app.store
	if w.finished || store.Busy() {
		return
	}
	if store.Report() == nil {
		w.finish(errReportUnavailable)
		return
	}
	if w.update && !w.updated {
		w.updated = true
		store.UpdateReport()
		if store.Busy() {
			return
		}
	}
	w.finish(nil)
}

func (w *warmer) finish(err error) {
	w.finished = true
	w.result <- err
}

// ServeCmd runs the store behind the HTTP API until interrupted.
type ServeCmd struct {
	Addr string `help:"Listen address. Overrides http.addr from config."`
}

// Run executes the serve command.
func (s *ServeCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if s.Addr != "" {
		cfg.HTTP.Addr = s.Addr
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer func() { _ = closeLog() }()

	a, err := newApp(cfg, logger, vizcache.OverlayFS(localDir, vizcache.Templates))
	if err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stopLoop := a.startLoop()
	defer stopLoop()
	if err := a.loop.Do(ctx, a.begin); err != nil {
		return fmt.Errorf("serve: %w: %w", errServe, err)
	}

	srv := server.New(a.store, a.loop, server.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		GlobalLabel:    cfg.Pages.GlobalLabel,
		Logger:         logging.For(logger, logging.ChannelHTTP),
	})
	if err := srv.ListenAndServe(ctx, cfg.HTTP.Addr); err != nil {
		return fmt.Errorf("serve: %w: %w", errServe, err)
	}
	return nil
}

// InvalidateCmd removes cached artifacts without opening a report session.
type InvalidateCmd struct {
	Location string `arg:"" optional:"" help:"Location whose artifacts to delete. Deletes everything when omitted."`
}

// Run executes the invalidate command.
func (c *InvalidateCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	defer func() { _ = closeLog() }()

	cache, err := openCache(cfg, logger)
	if err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	templates, err := model.LoadTemplates(vizcache.OverlayFS(localDir, vizcache.Templates), cfg.Pages.Templates)
	if err != nil {
		return fmt.Errorf("invalidate: %w", err)
	}
	invalidate(os.Stdout, cache, templates, cfg.Pages, c.Location)
	return nil
}

// artifactRemover is the part of the cache that invalidate needs.
type artifactRemover interface {
	Clear()
	RemoveVisual(objectID, filterValue string, size report.Size)
}

// invalidate clears the whole cache, or the artifacts of the page that
// location would show. The global label names the global page.
func invalidate(w io.Writer, cache artifactRemover, templates model.Templates, pages config.Pages, location string) {
	if location == "" {
		cache.Clear()
		_, _ = fmt.Fprintln(w, "cleared all cached artifacts")
		return
	}
	location = fromLabel(location, pages.GlobalLabel)
	page := model.NewPage(location, templates, pages.VisualWidth)
	for _, v := range page.Visuals {
		cache.RemoveVisual(v.ObjectID, v.FilterValue, v.Size())
	}
	_, _ = fmt.Fprintf(w, "cleared %d visuals for %s\n", len(page.Visuals), page.Label(pages.GlobalLabel))
}

// LocationsCmd prints or replaces the persisted location list.
type LocationsCmd struct {
	Set []string `help:"Replace the saved locations, in order." sep:","`
}

// Run executes the locations command.
func (c *LocationsCmd) Run() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("locations: %w", err)
	}
	st, err := openSettings(cfg)
	if err != nil {
		return fmt.Errorf("locations: %w", err)
	}
	defer func() { _ = st.Close() }()
	return locations(os.Stdout, st, c.Set, cfg.Pages.GlobalLabel)
}

// locations overwrites the saved list when set is non-empty, then prints
// it with the current location marked.
func locations(w io.Writer, st *settings.Settings, set []string, globalLabel string) error {
	if len(set) > 0 {
		var locs []string
		for _, l := range set {
			l = fromLabel(strings.TrimSpace(l), globalLabel)
			if l != "" && !slices.Contains(locs, l) {
				locs = append(locs, l)
			}
		}
		if err := st.SetUserLocations(locs); err != nil {
			return fmt.Errorf("locations: %w", err)
		}
	}

	locs, ok, err := st.UserLocations()
	if err != nil {
		return fmt.Errorf("locations: %w", err)
	}
	if !ok || len(locs) == 0 {
		_, _ = fmt.Fprintln(w, "no saved locations")
		return nil
	}
	current, _, err := st.CurrentLocation()
	if err != nil {
		return fmt.Errorf("locations: %w", err)
	}
	for _, l := range locs {
		marker := " "
		if l == current {
			marker = "*"
		}
		label := l
		if l == model.GlobalLocation {
			label = globalLabel
		}
		_, _ = fmt.Fprintf(w, "%s %s\n", marker, label)
	}
	return nil
}

// fromLabel maps the global page's display label back to its location.
func fromLabel(location, globalLabel string) string {
	if strings.EqualFold(location, globalLabel) {
		return model.GlobalLocation
	}
	return location
}

const (
	exitSuccess = 0
	exitRuntime = 1
	exitSetup   = 2
)

// exitCode maps an error to the appropriate exit code.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	for _, target := range []error{errWarmUpTimeout, errReportUnavailable, errServe, context.Canceled, context.DeadlineExceeded} {
		if errors.Is(err, target) {
			return exitRuntime
		}
	}
	return exitSetup
}

func main() {
	// A missing .env is fine; the environment may be set directly.
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("vizcache"),
		kong.Description("Pre-render and cache report visuals for saved locations."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	err := ctx.Run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(exitCode(err))
	}
}
