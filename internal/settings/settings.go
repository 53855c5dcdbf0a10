package settings

import (
	"encoding/json"
	"fmt"
)

// Settings is a typed view over a Store.
type Settings struct {
	store Store
}

// New wraps store.
func New(store Store) *Settings {
	return &Settings{store: store}
}

// Close closes the underlying store.
func (s *Settings) Close() error {
	return s.store.Close()
}

func (s *Settings) get(key string, v any) (bool, error) {
	data, ok, err := s.store.Load(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("settings: decoding %q: %w", key, err)
	}
	return true, nil
}

func (s *Settings) set(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("settings: encoding %q: %w", key, err)
	}
	return s.store.Save(key, data)
}

// UserLocations returns the persisted location list.
func (s *Settings) UserLocations() ([]string, bool, error) {
	var locs []string
	ok, err := s.get(KeyUserLocations, &locs)
	return locs, ok, err
}

// SetUserLocations persists the location list.
func (s *Settings) SetUserLocations(locs []string) error {
	if locs == nil {
		locs = []string{}
	}
	return s.set(KeyUserLocations, locs)
}

// CurrentLocation returns the persisted current location.
func (s *Settings) CurrentLocation() (string, bool, error) {
	var loc string
	ok, err := s.get(KeyCurrentLocation, &loc)
	return loc, ok, err
}

// SetCurrentLocation persists the current location.
func (s *Settings) SetCurrentLocation(loc string) error {
	return s.set(KeyCurrentLocation, loc)
}

// LastRunVersion returns the version recorded by the previous run, or the
// zero Version if none was recorded.
func (s *Settings) LastRunVersion() (Version, error) {
	var raw string
	ok, err := s.get(KeyLastRunVersion, &raw)
	if err != nil || !ok {
		return Version{}, err
	}
	v, err := ParseVersion(raw)
	if err != nil {
		return Version{}, nil
	}
	return v, nil
}

// SetLastRunVersion records v.
func (s *Settings) SetLastRunVersion(v Version) error {
	return s.set(KeyLastRunVersion, v.String())
}

// MigrateUserCountries moves a legacy country list to the location list
// when no location list exists yet. It reports whether anything moved.
func (s *Settings) MigrateUserCountries() (bool, error) {
	if _, ok, err := s.UserLocations(); err != nil || ok {
		return false, err
	}
	var countries []string
	ok, err := s.get(KeyUserCountries, &countries)
	if err != nil || !ok {
		return false, err
	}
	if err := s.SetUserLocations(countries); err != nil {
		return false, err
	}
	if err := s.store.Remove(KeyUserCountries); err != nil {
		return false, err
	}
	return true, nil
}
