package tui

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-isatty"
)

// DisplayEvent is an event sent to a Display via the update channel.
// Implemented by PagesMsg, StatusMsg, DoneMsg, and ErrorMsg.
type DisplayEvent interface {
	isDisplayEvent()
}

func (PagesMsg) isDisplayEvent()  {}
func (StatusMsg) isDisplayEvent() {}
func (DoneMsg) isDisplayEvent()   {}
func (ErrorMsg) isDisplayEvent()  {}

// Display renders page progress.
type Display interface {
	Run(ctx context.Context, events <-chan DisplayEvent) error
}

// DisplayOptions configures display creation.
type DisplayOptions struct {
	Writer     io.Writer          // Output destination (default: os.Stdout).
	ForcePlain bool               // Force plain text even if TTY.
	CancelFunc context.CancelFunc // Called by TUI on abort keypress (ignored by PlainDisplay).
}

// NewDisplay returns a TUI display when stdout is a TTY, or a plain text
// display otherwise. ForcePlain overrides TTY detection.
func NewDisplay(opts DisplayOptions) Display {
	if opts.Writer == nil {
		opts.Writer = os.Stdout
	}

	if opts.ForcePlain || !isTTY(opts.Writer) {
		return &PlainDisplay{w: opts.Writer}
	}

	return &TUIDisplay{w: opts.Writer, cancelFunc: opts.CancelFunc}
}

// isTTY reports whether w is connected to a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PlainDisplay renders progress as timestamped text lines. Page rows are
// printed only when they change.
type PlainDisplay struct {
	w    io.Writer
	last map[string]float64
}

// Run loops over events, printing page progress and status lines.
// Returns the run error if the run failed, or context error if cancelled.
func (d *PlainDisplay) Run(ctx context.Context, events <-chan DisplayEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch msg := ev.(type) {
			case PagesMsg:
				d.renderPages(msg)
			case StatusMsg:
				_, _ = fmt.Fprintf(d.w, "[%s] %s\n", timestamp(), msg.Text)
			case DoneMsg:
				return nil
			case ErrorMsg:
				return msg.Err
			}
		}
	}
}

func (d *PlainDisplay) renderPages(msg PagesMsg) {
	if d.last == nil {
		d.last = make(map[string]float64)
	}
	seen := make(map[string]bool, len(msg.Rows))
	var names []string
	for _, r := range msg.Rows {
		seen[r.Location] = true
		names = append(names, r.Label)
		if prev, ok := d.last[r.Location]; ok && prev == r.Percent {
			continue
		}
		d.last[r.Location] = r.Percent
		_, _ = fmt.Fprintf(d.w, "[%s] %s %.0f%%\n", timestamp(), r.Label, r.Percent)
	}
	removed := false
	for loc := range d.last {
		if !seen[loc] {
			delete(d.last, loc)
			removed = true
		}
	}
	if removed {
		_, _ = fmt.Fprintf(d.w, "[%s] pages: %s\n", timestamp(), strings.Join(names, ", "))
	}
}

func timestamp() string {
	return time.Now().Format("15:04:05")
}

// TUIDisplay renders progress using a Bubble Tea terminal UI.
// Falls back to PlainDisplay if the TUI program fails to start.
type TUIDisplay struct {
	w          io.Writer
	cancelFunc context.CancelFunc
}

// Run starts the Bubble Tea program and feeds events from the channel.
// If the TUI fails to initialize, it falls back to plain text output.
func (d *TUIDisplay) Run(ctx context.Context, events <-chan DisplayEvent) error {
	var opts []ModelOption
	if d.cancelFunc != nil {
		opts = append(opts, WithCancelFunc(d.cancelFunc))
	}
	model := NewModel(nil, opts...)
	p := tea.NewProgram(model, tea.WithOutput(d.w), tea.WithContext(ctx))

	// Forward events through an intermediate channel so we can stop
	// the goroutine cleanly on TUI failure before falling back.
	fwd := make(chan DisplayEvent, 16)
	stop := make(chan struct{})

	go func() {
		defer close(fwd)
		for ev := range events {
			select {
			case fwd <- ev:
			case <-stop:
				return
			}
		}
	}()

	go func() {
		for ev := range fwd {
			p.Send(ev)
		}
	}()

	final, err := p.Run()
	if err != nil {
		close(stop)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Fall back to plain text for remaining events from the original channel.
		plain := &PlainDisplay{w: d.w}
		return plain.Run(ctx, events)
	}
	if m, ok := final.(Model); ok && m.err != nil {
		return m.err
	}
	return nil
}
