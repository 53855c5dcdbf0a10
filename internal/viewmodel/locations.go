package viewmodel

import (
	"slices"

	"github.com/smileynet/vizcache/internal/events"
	"github.com/smileynet/vizcache/internal/model"
	"github.com/smileynet/vizcache/internal/report"
)

// Pages returns the pages in user order.
func (s *Store) Pages() []*model.Page {
	return slices.Clone(s.pages)
}

// PageForLocation returns the page for location.
func (s *Store) PageForLocation(location string) (*model.Page, bool) {
	for _, p := range s.pages {
		if p.Location == location {
			return p, true
		}
	}
	return nil, false
}

// UserLocations returns the user's locations in order.
func (s *Store) UserLocations() []string {
	return slices.Clone(s.userLocations)
}

// CurrentLocation returns the location on screen.
func (s *Store) CurrentLocation() string {
	return s.currentLocation
}

// AvailableLocations returns every value of the location filter, or nil
// before the filter is loaded.
func (s *Store) AvailableLocations() []string {
	f := s.queue.Filter()
	if f == nil {
		return nil
	}
	return slices.Clone(f.UniqueValues())
}

// SetUserLocations replaces the location list. Pages of kept locations are
// reused, new ones are created and queued, dropped ones leave the queue.
// The list is persisted and observers are notified.
func (s *Store) SetUserLocations(locations []string) {
	locations = dedupe(locations)
	if slices.Equal(locations, s.userLocations) {
		return
	}
	s.userLocations = locations
	s.rebuildPages(func(p *model.Page) { s.queue.Enqueue(p) })
	if err := s.settings.SetUserLocations(locations); err != nil {
		s.logger.Warn("persisting user locations", "error", err)
	}
	ev := events.New(events.LocationsChanged)
	ev.Locations = slices.Clone(locations)
	s.bus.Publish(ev)
	s.queue.Check()
}

// RemoveLocation invalidates the page for location and removes it from the
// user's list.
func (s *Store) RemoveLocation(location string) {
	s.InvalidateLocation(location)
	s.SetUserLocations(slices.DeleteFunc(s.UserLocations(), func(l string) bool { return l == location }))
}

// RefreshLocation invalidates the page for location and queues a fresh
// page in its place.
func (s *Store) RefreshLocation(location string) {
	if _, ok := s.PageForLocation(location); !ok {
		return
	}
	s.InvalidateLocation(location)
	s.rebuildPages(func(p *model.Page) { s.queue.Enqueue(p) })
	s.queue.Check()
}

// SetCurrentLocation records the location on screen.
func (s *Store) SetCurrentLocation(location string) {
	if location == s.currentLocation {
		return
	}
	s.currentLocation = location
	if err := s.settings.SetCurrentLocation(location); err != nil {
		s.logger.Warn("persisting current location", "error", err)
	}
	ev := events.New(events.CurrentLocationChanged)
	ev.Location = location
	s.bus.Publish(ev)
}

// AddDeviceLocation offers a location detected for the device. It is added
// after the first user location once the location filter confirms the
// report knows it.
func (s *Store) AddDeviceLocation(location string) {
	if location == "" || slices.Contains(s.deviceLocations, location) {
		return
	}
	s.deviceLocations = append(s.deviceLocations, location)
	if f := s.queue.Filter(); f != nil && !f.IsBusy() {
		s.mergeDeviceLocations(f)
	}
}

func (s *Store) mergeDeviceLocations(f report.Filter) {
	if len(s.deviceLocations) == 0 {
		return
	}
	available := f.UniqueValues()
	locs := s.UserLocations()
	var unknown []string
	changed := false
	for _, d := range s.deviceLocations {
		switch {
		case !slices.Contains(available, d):
			unknown = append(unknown, d)
		case slices.Contains(locs, d):
		default:
			locs = slices.Insert(locs, min(1, len(locs)), d)
			changed = true
		}
	}
	s.deviceLocations = unknown
	if changed {
		s.SetUserLocations(locs)
	}
}

func (s *Store) loadTopLocations() {
	if s.report == nil || s.cfg.TopLocationsFilterID == "" {
		return
	}
	obj, ok := s.report.LoadObject(s.cfg.TopLocationsFilterID)
	if !ok {
		s.logger.Warn("top locations list not found", "object", s.cfg.TopLocationsFilterID)
		return
	}
	f, ok := obj.(report.Filter)
	if !ok {
		s.logger.Warn("top locations list is not a filter", "object", s.cfg.TopLocationsFilterID)
		return
	}
	if s.topLocations != nil && s.topLocations != f {
		s.topLocations.SetDelegate(nil)
	}
	s.topLocations = f
	f.SetDelegate(s)
	if !f.IsBusy() {
		s.seedLocations()
	}
}

// seedLocations builds the initial list: the global page, the user's
// existing locations, then the report's top locations.
func (s *Store) seedLocations() {
	if s.topLocations == nil || slices.Contains(s.userLocations, model.GlobalLocation) {
		return
	}
	seeded := append([]string{model.GlobalLocation}, s.userLocations...)
	seeded = append(seeded, s.topLocations.UniqueValues()...)
	s.logger.Info("seeding locations", "count", len(dedupe(seeded)))
	s.SetUserLocations(seeded)
}

// rebuildPages aligns pages with userLocations. Pages created while a
// report is attached are bound to it and passed to added.
func (s *Store) rebuildPages(added func(*model.Page)) {
	existing := make(map[string]*model.Page, len(s.pages))
	for _, p := range s.pages {
		existing[p.Location] = p
	}
	pages := make([]*model.Page, 0, len(s.userLocations))
	for _, loc := range s.userLocations {
		if p, ok := existing[loc]; ok {
			pages = append(pages, p)
			delete(existing, loc)
			continue
		}
		p := model.NewPage(loc, s.cfg.Templates, s.cfg.VisualWidth)
		if s.report != nil {
			p.Attach(s.report, s.cache)
			if added != nil {
				added(p)
			}
		} else {
			p.Load(s.cache)
		}
		pages = append(pages, p)
	}
	s.pages = pages
	for _, p := range existing {
		s.queue.Remove(p)
		p.Detach()
	}
}

func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != "" && !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
