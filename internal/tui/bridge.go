package tui

import (
	"context"

	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/model"
)

// Bridge manages the channel between the event loop and a Display consumer.
type Bridge struct {
	ch     chan DisplayEvent
	exited chan struct{}
}

// NewBridge creates a Bridge with a buffered event channel.
func NewBridge() *Bridge {
	return &Bridge{
		ch:     make(chan DisplayEvent, 64),
		exited: make(chan struct{}),
	}
}

// Events returns the read-only channel for Display.Run() to consume.
func (b *Bridge) Events() <-chan DisplayEvent {
	return b.ch
}

// Run starts d on the bridge's events in its own goroutine and returns a
// channel that yields d's result. Call it at most once.
func (b *Bridge) Run(ctx context.Context, d Display) <-chan error {
	done := make(chan error, 1)
	go func() {
		err := d.Run(ctx, b.ch)
		close(b.exited)
		done <- err
	}()
	return done
}

// TrySend delivers msg unless the buffer is full. The event loop uses it so
// a slow or finished display never stalls processing.
func (b *Bridge) TrySend(msg DisplayEvent) bool {
	select {
	case b.ch <- msg:
		return true
	default:
		return false
	}
}

// Done signals successful completion and closes the channel.
// Nothing is sent once the display started by Run has returned.
func (b *Bridge) Done() {
	b.finish(DoneMsg{})
}

// Error signals failure and closes the channel.
// Nothing is sent once the display started by Run has returned.
func (b *Bridge) Error(err error) {
	b.finish(ErrorMsg{Err: err})
}

func (b *Bridge) finish(msg DisplayEvent) {
	select {
	case b.ch <- msg:
	case <-b.exited:
	}
	close(b.ch)
}

// Rows snapshots pages for display. Must run on the event loop.
func Rows(pages []*model.Page, current, globalLabel string) []PageRow {
	rows := make([]PageRow, 0, len(pages))
	for _, p := range pages {
		rows = append(rows, PageRow{
			Location: p.Location,
			Label:    p.Label(globalLabel),
			Percent:  p.PercentComplete(),
			Current:  p.Location == current,
		})
	}
	return rows
}

// Translate converts a bus event into display messages, given a row
// snapshot taken when the event was published.
func Translate(ev events.Event, rows []PageRow) []DisplayEvent {
	out := []DisplayEvent{PagesMsg{Rows: rows}}
	switch ev.Kind {
	case events.ReportCheckingUpdates:
		out = append(out, StatusMsg{Text: "checking for report updates"})
	case events.ReportUpdating:
		out = append(out, StatusMsg{Text: "refreshing thumbnails"})
	case events.ReportUpdated:
		if ev.Idle {
			out = append(out, StatusMsg{Text: "all pages up to date", Idle: true})
		} else {
			out = append(out, StatusMsg{Text: "report ready"})
		}
	}
	return out
}
