// Package logging builds the process logger and its per-component channels.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Channel names a logical logging channel for one component.
type Channel string

const (
	ChannelCache     Channel = "cache"
	ChannelPipeline  Channel = "pipeline"
	ChannelSession   Channel = "session"
	ChannelViewModel Channel = "viewmodel"
	ChannelHTTP      Channel = "http"
	ChannelSettings  Channel = "settings"
)

// Options configures New.
type Options struct {
	Level  string // debug | info | warn | error
	Format string // text | json
	// File receives log output when set. The parent directory is created.
	File string
}

// ParseLevel maps a level name to a slog.Level. Names are case-insensitive.
func ParseLevel(name string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("logging: unknown level %q", name)
	}
	return lvl, nil
}

// New builds a logger writing to w, or to opts.File when set. The returned
// close function releases the file and is safe to call when no file is open.
func New(w io.Writer, opts Options) (*slog.Logger, func() error, error) {
	lvl := slog.LevelInfo
	if opts.Level != "" {
		var err error
		if lvl, err = ParseLevel(opts.Level); err != nil {
			return nil, nil, err
		}
	}

	closeFn := func() error { return nil }
	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("logging: creating log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: opening %s: %w", opts.File, err)
		}
		w = f
		closeFn = f.Close
	}

	hopts := &slog.HandlerOptions{Level: lvl}
	var h slog.Handler
	switch opts.Format {
	case "", "text":
		h = slog.NewTextHandler(w, hopts)
	case "json":
		h = slog.NewJSONHandler(w, hopts)
	default:
		_ = closeFn()
		return nil, nil, fmt.Errorf("logging: unknown format %q", opts.Format)
	}
	return slog.New(h), closeFn, nil
}

// For returns logger tagged with channel. A nil logger yields a discard logger.
func For(logger *slog.Logger, channel Channel) *slog.Logger {
	if logger == nil {
		return Discard()
	}
	return logger.With("channel", string(channel))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
