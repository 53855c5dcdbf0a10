package events

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	bus := NewBus()
	var all, pages []Kind
	bus.Subscribe(func(ev Event) { all = append(all, ev.Kind) })
	bus.Subscribe(func(ev Event) { pages = append(pages, ev.Kind) }, PageThumbnailsUpdated)

	bus.Publish(New(ReportUpdated))
	bus.Publish(New(PageThumbnailsUpdated))

	if len(all) != 2 {
		t.Errorf("unfiltered subscriber got %v, want 2 events", all)
	}
	if len(pages) != 1 || pages[0] != PageThumbnailsUpdated {
		t.Errorf("filtered subscriber got %v", pages)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	n := 0
	unsub := bus.Subscribe(func(Event) { n++ })
	bus.Publish(New(ReportUpdated))
	unsub()
	unsub()
	bus.Publish(New(ReportUpdated))

	if n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestBus_PublishFillsIDAndTime(t *testing.T) {
	bus := NewBus()
	var got []Event
	bus.Subscribe(func(ev Event) { got = append(got, ev) })

	bus.Publish(Event{Kind: ReportUpdating})
	bus.Publish(Event{Kind: ReportUpdating})

	if got[0].ID == "" || got[0].Time.IsZero() {
		t.Errorf("event = %+v, want ID and Time set", got[0])
	}
	if got[0].ID >= got[1].ID {
		t.Errorf("IDs %s, %s not increasing", got[0].ID, got[1].ID)
	}
}

func TestBus_ChannelDropsWhenFull(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Channel(1, ReportUpdated)
	defer unsub()

	bus.Publish(New(ReportUpdated))
	bus.Publish(New(ReportUpdated))
	bus.Publish(New(LocationsChanged))

	if len(ch) != 1 {
		t.Errorf("channel holds %d events, want 1", len(ch))
	}
}

func TestEvent_JSONUsesWireNames(t *testing.T) {
	ev := New(PageThumbnailsUpdated)
	ev.Location = "Spain"

	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if !strings.Contains(string(data), `"kind":"page-thumbnails-updated"`) {
		t.Errorf("json = %s", data)
	}
	if strings.Contains(string(data), "page_id") {
		t.Errorf("zero page id should be omitted: %s", data)
	}
}

func TestKind_String(t *testing.T) {
	if ReportCheckingUpdates.String() != "report-checking-updates" {
		t.Errorf("String() = %q", ReportCheckingUpdates.String())
	}
	if Kind(99).String() != "Kind(99)" {
		t.Errorf("unknown String() = %q", Kind(99).String())
	}
}
