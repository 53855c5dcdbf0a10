package main

import (
	"context"
	"io/fs"
	"log/slog"
	"os"

	"github.com/smileynet/vizcache/internal/cachestore"
	"github.com/smileynet/vizcache/internal/config"
	"github.com/smileynet/vizcache/internal/logging"
	"github.com/smileynet/vizcache/internal/loop"
	"github.com/smileynet/vizcache/internal/model"
	"github.com/smileynet/vizcache/internal/report"
	"github.com/smileynet/vizcache/internal/report/sim"
	"github.com/smileynet/vizcache/internal/settings"
	"github.com/smileynet/vizcache/internal/viewmodel"
)

// loadConfig loads layered config from user and project paths with env overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadLayered(
		os.ExpandEnv("$HOME/.config/vizcache/config.yaml"),
		localDir+"/config.yaml",
	)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*slog.Logger, func() error, error) {
	return logging.New(os.Stderr, logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
}

func serverDescriptor(cfg *config.Config) report.ServerDescriptor {
	return report.ServerDescriptor{URL: cfg.Report.ServerURL}
}

// openCache opens the artifact cache for the configured server and report.
func openCache(cfg *config.Config, logger *slog.Logger) (*cachestore.Store, error) {
	return cachestore.New(cfg.Cache.Dir,
		cachestore.WithHost(serverDescriptor(cfg).Host()),
		cachestore.WithReportID(cfg.Report.ReportID),
		cachestore.WithImageFormat(cachestore.ImageFormat(cfg.Cache.ImageFormat)),
		cachestore.WithLogger(logging.For(logger, logging.ChannelCache)),
	)
}

func openSettings(cfg *config.Config) (*settings.Settings, error) {
	st, err := settings.Open(cfg.Settings.Backend, cfg.Settings.Path)
	if err != nil {
		return nil, err
	}
	return settings.New(st), nil
}

// app is the wired processing stack. All store access goes through loop.
type app struct {
	cfg      *config.Config
	loop     *loop.Loop
	store    *viewmodel.Store
	settings *settings.Settings
	logger   *slog.Logger
}

// newApp wires cfg into a store whose report session comes from the
// configured backend. Templates and simulator fixtures are read from fsys.
func newApp(cfg *config.Config, logger *slog.Logger, fsys fs.FS) (*app, error) {
	templates, err := model.LoadTemplates(fsys, cfg.Pages.Templates)
	if err != nil {
		return nil, err
	}

	reg := report.NewRegistry()
	sim.Register(reg, fsys)

	lp := loop.New(64)
	server := serverDescriptor(cfg)
	mgr, err := reg.NewManager(cfg.Session.Backend, report.BackendConfig{
		Server:  server,
		Fixture: cfg.Session.Fixture,
	}, lp)
	if err != nil {
		return nil, err
	}

	cache, err := openCache(cfg, logger)
	if err != nil {
		return nil, err
	}
	st, err := openSettings(cfg)
	if err != nil {
		return nil, err
	}

	store := viewmodel.New(viewmodel.Config{
		Server:               server,
		Report:               report.Descriptor{ID: cfg.Report.ReportID},
		LocationsFilterID:    cfg.Report.LocationsFilterID,
		TopLocationsFilterID: cfg.Report.TopLocationsFilterID,
		UpdateTimeout:        cfg.Update.Timeout,
		VisualWidth:          cfg.Pages.VisualWidth,
		Templates:            templates,
	}, mgr, cache, st, lp, viewmodel.WithLogger(logging.For(logger, logging.ChannelViewModel)))

	return &app{cfg: cfg, loop: lp, store: store, settings: st, logger: logger}, nil
}

// startLoop runs the event loop until the returned stop func is called.
// The loop outlives cancellation of the command context so that cleanup
// can still reach the store.
func (a *app) startLoop() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.loop.Run(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// begin migrates persisted state written by older builds and starts the
// store. Must run on the loop.
func (a *app) begin() {
	if v, err := settings.ParseVersion(version); err == nil {
		if err := a.store.Migrate(v); err != nil {
			a.logger.Warn("migrating settings", "error", err)
		}
	}
	a.store.Start()
}

func (a *app) close() {
	if err := a.settings.Close(); err != nil {
		a.logger.Warn("closing settings", "error", err)
	}
}
