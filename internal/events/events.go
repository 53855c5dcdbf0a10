// Package events is the typed notification bus between the processing
// loop and its observers (TUI, HTTP event stream, tests).
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Kind identifies an event.
type Kind int

const (
	LocationsChanged Kind = iota + 1
	CurrentLocationChanged
	ReportUpdated
	PageThumbnailsUpdated
	ReportCheckingUpdates
	ReportUpdating
)

var kindNames = map[Kind]string{
	LocationsChanged:       "locations-changed",
	CurrentLocationChanged: "current-location-changed",
	ReportUpdated:          "report-updated",
	PageThumbnailsUpdated:  "page-thumbnails-updated",
	ReportCheckingUpdates:  "report-checking-updates",
	ReportUpdating:         "report-updating",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// MarshalText encodes the wire name.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Event is one notification.
type Event struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Time      time.Time `json:"time"`
	PageID    uuid.UUID `json:"page_id,omitzero"`
	Location  string    `json:"location,omitempty"`
	Percent   float64   `json:"percent,omitempty"`
	Locations []string  `json:"locations,omitempty"`
	// Idle is set on ReportUpdated when the processing queue has drained.
	Idle bool `json:"idle,omitempty"`
}

// New stamps an event of kind with a fresh ULID and the current time.
func New(kind Kind) Event {
	return Event{ID: ulid.Make().String(), Kind: kind, Time: time.Now()}
}

// Handler receives events.
type Handler func(Event)

type subscription struct {
	id    int
	fn    Handler
	kinds map[Kind]bool
}

func (s subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// Bus fans events out to subscribers. Handlers run synchronously on the
// publishing goroutine, in subscription order.
type Bus struct {
	mu   sync.Mutex
	subs []subscription
	next int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn for kinds, or for every kind when none are given.
// The returned func removes the subscription.
func (b *Bus) Subscribe(fn Handler, kinds ...Kind) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	set := make(map[Kind]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	b.subs = append(b.subs, subscription{id: id, fn: fn, kinds: set})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every interested subscriber. A zero ID or Time is
// filled in.
func (b *Bus) Publish(ev Event) {
	if ev.ID == "" {
		ev.ID = ulid.Make().String()
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		if s.wants(ev.Kind) {
			s.fn(ev)
		}
	}
}

// Channel subscribes a buffered channel for consumers on other goroutines.
// Events that do not fit in the buffer are dropped so publishers never block.
// The returned func unsubscribes; the channel is never closed.
func (b *Bus) Channel(buf int, kinds ...Kind) (<-chan Event, func()) {
	ch := make(chan Event, buf)
	unsub := b.Subscribe(func(ev Event) {
		select {
		case ch <- ev:
		default:
		}
	}, kinds...)
	return ch, unsub
}
