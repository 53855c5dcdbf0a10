// Package loop provides the single logical thread that owns all cache and
// pipeline state. Work is posted as closures and executed one at a time;
// nothing posted to a loop may block.
package loop

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrStopped is returned by Do when the loop is no longer running.
var ErrStopped = errors.New("loop: stopped")

// Scheduler runs closures serially on the owning goroutine.
// Every callback delivered by a report session and every timer expiry
// goes through a Scheduler so that state is only touched from one place.
type Scheduler interface {
	// Post queues fn to run after the currently executing work.
	Post(fn func())
	// AfterFunc queues fn once d has elapsed. The returned cancel func
	// is idempotent and suppresses fn if it has not yet run.
	AfterFunc(d time.Duration, fn func()) (cancel func())
}

// Loop is a goroutine-backed Scheduler.
type Loop struct {
	work chan func()
	done chan struct{}
	once sync.Once
}

var _ Scheduler = (*Loop)(nil)

// New creates a Loop whose work queue holds up to buf pending closures.
func New(buf int) *Loop {
	if buf <= 0 {
		buf = 64
	}
	return &Loop{
		work: make(chan func(), buf),
		done: make(chan struct{}),
	}
}

// Run executes posted closures until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.work:
			fn()
		}
	}
}

// Post queues fn. Posting to a stopped loop drops fn.
func (l *Loop) Post(fn func()) {
	select {
	case l.work <- fn:
	case <-l.done:
	}
}

// AfterFunc posts fn to the loop once d has elapsed.
func (l *Loop) AfterFunc(d time.Duration, fn func()) func() {
	var cancelled atomic.Bool
	t := time.AfterFunc(d, func() {
		l.Post(func() {
			if cancelled.Load() {
				return
			}
			fn()
		})
	})
	return func() {
		cancelled.Store(true)
		t.Stop()
	}
}

// Do runs fn on the loop and waits for it to return.
// It is the only safe way for other goroutines to read or mutate loop-owned state.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case l.work <- func() { defer close(finished); fn() }:
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}
