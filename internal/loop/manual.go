package loop

import (
	"sort"
	"time"
)

// Manual is a Scheduler driven explicitly by the caller with a virtual clock.
// It is not safe for concurrent use; confine it to a single goroutine.
type Manual struct {
	queue  []func()
	timers []*manualTimer
	now    time.Duration
	seq    int
}

type manualTimer struct {
	at        time.Duration
	seq       int
	fn        func()
	cancelled bool
}

var _ Scheduler = (*Manual)(nil)

// NewManual creates a Manual scheduler at virtual time zero.
func NewManual() *Manual {
	return &Manual{}
}

// Post queues fn until the next Drain.
func (m *Manual) Post(fn func()) {
	m.queue = append(m.queue, fn)
}

// AfterFunc registers fn to be queued once the virtual clock passes d from now.
func (m *Manual) AfterFunc(d time.Duration, fn func()) func() {
	m.seq++
	t := &manualTimer{at: m.now + d, seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)
	return func() { t.cancelled = true }
}

// Drain runs queued closures, including ones they post, until none remain.
// It returns the number of closures executed.
func (m *Manual) Drain() int {
	n := 0
	for len(m.queue) > 0 {
		fn := m.queue[0]
		m.queue = m.queue[1:]
		fn()
		n++
	}
	return n
}

// Pending reports the number of queued closures.
func (m *Manual) Pending() int {
	return len(m.queue)
}

// Timers reports the number of live timers.
func (m *Manual) Timers() int {
	n := 0
	for _, t := range m.timers {
		if !t.cancelled {
			n++
		}
	}
	return n
}

// Now returns the elapsed virtual time.
func (m *Manual) Now() time.Duration {
	return m.now
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and draining after each one.
func (m *Manual) Advance(d time.Duration) {
	target := m.now + d
	m.Drain()
	for {
		sort.SliceStable(m.timers, func(i, j int) bool {
			if m.timers[i].at == m.timers[j].at {
				return m.timers[i].seq < m.timers[j].seq
			}
			return m.timers[i].at < m.timers[j].at
		})
		if len(m.timers) == 0 || m.timers[0].at > target {
			break
		}
		t := m.timers[0]
		m.timers = m.timers[1:]
		m.now = t.at
		if t.cancelled {
			continue
		}
		m.Post(t.fn)
		m.Drain()
	}
	m.now = target
}
