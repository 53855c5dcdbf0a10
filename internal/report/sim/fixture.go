package sim

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixture describes a simulated report server.
type Fixture struct {
	ReportID           string        `yaml:"report_id"`
	Latency            time.Duration `yaml:"latency"`
	LocationsFilter    string        `yaml:"locations_filter"`
	TopLocationsFilter string        `yaml:"top_locations_filter"`
	Locations          []string      `yaml:"locations"`
	TopLocations       []string      `yaml:"top_locations"`
	Objects            []ObjectSpec  `yaml:"objects"`
	// Updates is consumed one entry per Report.Update call:
	// "no-update", "update" or "fail". Once exhausted, every call
	// reports no update.
	Updates []string `yaml:"updates"`
}

// ObjectSpec describes one object of the simulated report.
type ObjectSpec struct {
	ID    string `yaml:"id"`
	Kind  string `yaml:"kind"` // "graph" | "text"
	Title string `yaml:"title"`
	Bars  int    `yaml:"bars"`
	// Global objects ignore the location filter.
	Global bool   `yaml:"global"`
	Body   string `yaml:"body"`
}

// LoadFixture reads a fixture from name in fsys.
func LoadFixture(fsys fs.FS, name string) (Fixture, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Fixture{}, fmt.Errorf("sim: reading fixture %s: %w", name, err)
	}
	return ParseFixture(data)
}

// ParseFixture decodes and validates a fixture. Unknown fields are rejected.
func ParseFixture(data []byte) (Fixture, error) {
	var fx Fixture
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fx); err != nil && !errors.Is(err, io.EOF) {
		return Fixture{}, fmt.Errorf("sim: parsing fixture: %w", err)
	}
	if err := fx.Validate(); err != nil {
		return Fixture{}, err
	}
	return fx, nil
}

// Validate checks that the fixture is usable.
func (fx Fixture) Validate() error {
	if fx.ReportID == "" {
		return errors.New("sim: report_id cannot be empty")
	}
	if fx.LocationsFilter == "" {
		return errors.New("sim: locations_filter cannot be empty")
	}
	if fx.Latency < 0 {
		return fmt.Errorf("sim: latency must be non-negative, got %v", fx.Latency)
	}
	seen := map[string]bool{fx.LocationsFilter: true, fx.TopLocationsFilter: true}
	for _, o := range fx.Objects {
		if o.ID == "" {
			return errors.New("sim: object id cannot be empty")
		}
		if seen[o.ID] {
			return fmt.Errorf("sim: duplicate object id %q", o.ID)
		}
		seen[o.ID] = true
		switch o.Kind {
		case "graph", "text":
		default:
			return fmt.Errorf("sim: object %q has unknown kind %q", o.ID, o.Kind)
		}
	}
	for _, u := range fx.Updates {
		switch u {
		case "no-update", "update", "fail":
		default:
			return fmt.Errorf("sim: unknown update step %q", u)
		}
	}
	return nil
}
