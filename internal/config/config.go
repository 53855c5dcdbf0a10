// Package config handles layered YAML configuration with environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all vizcache configuration.
type Config struct {
	Report   Report   `yaml:"report"`
	Session  Session  `yaml:"session"`
	Cache    Cache    `yaml:"cache"`
	Update   Update   `yaml:"update"`
	Settings Settings `yaml:"settings"`
	Pages    Pages    `yaml:"pages"`
	HTTP     HTTP     `yaml:"http"`
	Log      Log      `yaml:"log"`
}

// Report identifies the remote report and its well-known objects.
type Report struct {
	ServerURL            string `yaml:"server_url"`
	ReportID             string `yaml:"report_id"`
	LocationsFilterID    string `yaml:"locations_filter_id"`
	TopLocationsFilterID string `yaml:"top_locations_filter_id"`
}

// Session selects the report backend.
type Session struct {
	Backend string `yaml:"backend"` // registry name, e.g. "sim"
	Fixture string `yaml:"fixture"` // backend fixture path
}

// Cache holds artifact cache settings.
type Cache struct {
	Dir         string `yaml:"dir"`
	ImageFormat string `yaml:"image_format"` // "png" | "webp"
}

// Update holds report update settings.
type Update struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Settings holds persisted user settings storage.
type Settings struct {
	Backend string `yaml:"backend"` // "file" | "sqlite"
	Path    string `yaml:"path"`
}

// Pages holds page layout settings.
type Pages struct {
	Templates   string `yaml:"templates"`
	VisualWidth int    `yaml:"visual_width"`
	GlobalLabel string `yaml:"global_label"`
}

// HTTP holds the API server settings.
type HTTP struct {
	Addr           string   `yaml:"addr"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Log holds logging settings.
type Log struct {
	Level  string `yaml:"level"`  // "debug" | "info" | "warn" | "error"
	Format string `yaml:"format"` // "text" | "json"
	File   string `yaml:"file"`   // empty logs to stderr
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Report: Report{
			ServerURL:            "https://reports.example.com",
			ReportID:             "sales-overview",
			LocationsFilterID:    "location-filter",
			TopLocationsFilterID: "top-locations",
		},
		Session: Session{
			Backend: "sim",
			Fixture: "sim-report.yaml",
		},
		Cache: Cache{
			Dir:         ".vizcache/cache",
			ImageFormat: "png",
		},
		Update: Update{
			Timeout: 120 * time.Second,
		},
		Settings: Settings{
			Backend: "file",
			Path:    ".vizcache/settings",
		},
		Pages: Pages{
			Templates:   "pages.yaml",
			VisualWidth: 320,
			GlobalLabel: "Global",
		},
		HTTP: HTTP{
			Addr: "127.0.0.1:8080",
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a single YAML config file at path and returns a Config.
// For merging multiple config sources, use LoadLayered instead.
// If the file does not exist, defaults are returned without error.
// If the file contains invalid YAML or unknown fields, an error is returned.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return &cfg, nil
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		// Comment-only YAML files produce EOF with no decoded content.
		if errors.Is(err, io.EOF) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &cfg, nil
}

// LoadLayered loads config from multiple paths with increasing priority.
// Later paths override earlier ones. Missing files are skipped.
func LoadLayered(paths ...string) (*Config, error) {
	cfg := DefaultConfig()

	for _, path := range paths {
		layer, err := loadLayer(path)
		if err != nil {
			return nil, err
		}
		if layer == nil {
			continue
		}
		cfg.merge(layer)
	}

	return &cfg, nil
}

// Validate checks that config values are usable.
func (c *Config) Validate() error {
	if c.Report.ServerURL == "" {
		return errors.New("config: report.server_url cannot be empty")
	}
	if c.Report.ReportID == "" {
		return errors.New("config: report.report_id cannot be empty")
	}
	if c.Report.LocationsFilterID == "" {
		return errors.New("config: report.locations_filter_id cannot be empty")
	}
	if c.Session.Backend == "" {
		return errors.New("config: session.backend cannot be empty")
	}
	if c.Cache.Dir == "" {
		return errors.New("config: cache.dir cannot be empty")
	}
	switch c.Cache.ImageFormat {
	case "png", "webp":
	default:
		return fmt.Errorf("config: cache.image_format must be \"png\" or \"webp\", got %q", c.Cache.ImageFormat)
	}
	if c.Update.Timeout <= 0 {
		return fmt.Errorf("config: update.timeout must be positive, got %v", c.Update.Timeout)
	}
	switch c.Settings.Backend {
	case "file", "sqlite":
	default:
		return fmt.Errorf("config: settings.backend must be \"file\" or \"sqlite\", got %q", c.Settings.Backend)
	}
	if c.Settings.Path == "" {
		return errors.New("config: settings.path cannot be empty")
	}
	if c.Pages.Templates == "" {
		return errors.New("config: pages.templates cannot be empty")
	}
	if c.Pages.VisualWidth <= 0 {
		return fmt.Errorf("config: pages.visual_width must be positive, got %d", c.Pages.VisualWidth)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: log.format must be \"text\" or \"json\", got %q", c.Log.Format)
	}
	return nil
}

// ApplyEnv applies environment variable overrides to the config.
// Supported variables: VIZCACHE_SERVER_URL, VIZCACHE_REPORT_ID,
// VIZCACHE_CACHE_DIR, VIZCACHE_UPDATE_TIMEOUT, VIZCACHE_SETTINGS_BACKEND,
// VIZCACHE_VISUAL_WIDTH, VIZCACHE_LOG_LEVEL, VIZCACHE_HTTP_ADDR.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("VIZCACHE_SERVER_URL"); v != "" {
		c.Report.ServerURL = v
	}
	if v := os.Getenv("VIZCACHE_REPORT_ID"); v != "" {
		c.Report.ReportID = v
	}
	if v := os.Getenv("VIZCACHE_CACHE_DIR"); v != "" {
		c.Cache.Dir = v
	}
	if v := os.Getenv("VIZCACHE_UPDATE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: invalid VIZCACHE_UPDATE_TIMEOUT %q: %w", v, err)
		}
		c.Update.Timeout = d
	}
	if v := os.Getenv("VIZCACHE_SETTINGS_BACKEND"); v != "" {
		c.Settings.Backend = v
	}
	if v := os.Getenv("VIZCACHE_VISUAL_WIDTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: invalid VIZCACHE_VISUAL_WIDTH %q: %w", v, err)
		}
		c.Pages.VisualWidth = n
	}
	if v := os.Getenv("VIZCACHE_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("VIZCACHE_HTTP_ADDR"); v != "" {
		c.HTTP.Addr = v
	}
	return nil
}

// rawConfig mirrors Config but uses pointers to distinguish set vs unset fields.
type rawConfig struct {
	Report   *rawReport   `yaml:"report"`
	Session  *rawSession  `yaml:"session"`
	Cache    *rawCache    `yaml:"cache"`
	Update   *rawUpdate   `yaml:"update"`
	Settings *rawSettings `yaml:"settings"`
	Pages    *rawPages    `yaml:"pages"`
	HTTP     *rawHTTP     `yaml:"http"`
	Log      *rawLog      `yaml:"log"`
}

type rawReport struct {
	ServerURL            *string `yaml:"server_url"`
	ReportID             *string `yaml:"report_id"`
	LocationsFilterID    *string `yaml:"locations_filter_id"`
	TopLocationsFilterID *string `yaml:"top_locations_filter_id"`
}

type rawSession struct {
	Backend *string `yaml:"backend"`
	Fixture *string `yaml:"fixture"`
}

type rawCache struct {
	Dir         *string `yaml:"dir"`
	ImageFormat *string `yaml:"image_format"`
}

type rawUpdate struct {
	Timeout *time.Duration `yaml:"timeout"`
}

type rawSettings struct {
	Backend *string `yaml:"backend"`
	Path    *string `yaml:"path"`
}

type rawPages struct {
	Templates   *string `yaml:"templates"`
	VisualWidth *int    `yaml:"visual_width"`
	GlobalLabel *string `yaml:"global_label"`
}

type rawHTTP struct {
	Addr           *string   `yaml:"addr"`
	AllowedOrigins *[]string `yaml:"allowed_origins"`
}

type rawLog struct {
	Level  *string `yaml:"level"`
	Format *string `yaml:"format"`
	File   *string `yaml:"file"`
}

// loadLayer reads a single config file into a rawConfig for selective merging.
// Returns nil if the file does not exist. Rejects unknown fields.
func loadLayer(path string) (*rawConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if len(data) == 0 {
		return nil, nil
	}

	var raw rawConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	return &raw, nil
}

func set[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// merge applies non-nil fields from a rawConfig layer onto this Config.
func (c *Config) merge(layer *rawConfig) {
	if r := layer.Report; r != nil {
		set(&c.Report.ServerURL, r.ServerURL)
		set(&c.Report.ReportID, r.ReportID)
		set(&c.Report.LocationsFilterID, r.LocationsFilterID)
		set(&c.Report.TopLocationsFilterID, r.TopLocationsFilterID)
	}
	if s := layer.Session; s != nil {
		set(&c.Session.Backend, s.Backend)
		set(&c.Session.Fixture, s.Fixture)
	}
	if ca := layer.Cache; ca != nil {
		set(&c.Cache.Dir, ca.Dir)
		set(&c.Cache.ImageFormat, ca.ImageFormat)
	}
	if u := layer.Update; u != nil {
		set(&c.Update.Timeout, u.Timeout)
	}
	if s := layer.Settings; s != nil {
		set(&c.Settings.Backend, s.Backend)
		set(&c.Settings.Path, s.Path)
	}
	if p := layer.Pages; p != nil {
		set(&c.Pages.Templates, p.Templates)
		set(&c.Pages.VisualWidth, p.VisualWidth)
		set(&c.Pages.GlobalLabel, p.GlobalLabel)
	}
	if h := layer.HTTP; h != nil {
		set(&c.HTTP.Addr, h.Addr)
		set(&c.HTTP.AllowedOrigins, h.AllowedOrigins)
	}
	if l := layer.Log; l != nil {
		set(&c.Log.Level, l.Level)
		set(&c.Log.Format, l.Format)
		set(&c.Log.File, l.File)
	}
}
