package settings

import (
	"testing"
)

func TestSettings_TypedAccessors(t *testing.T) {
	s := New(NewFileStore(t.TempDir()))

	if _, ok, err := s.UserLocations(); ok || err != nil {
		t.Fatalf("UserLocations() on empty = %v, %v", ok, err)
	}
	if err := s.SetUserLocations([]string{"__GLOBAL__", "Spain"}); err != nil {
		t.Fatalf("SetUserLocations() error = %v", err)
	}
	locs, ok, err := s.UserLocations()
	if err != nil || !ok || len(locs) != 2 || locs[1] != "Spain" {
		t.Errorf("UserLocations() = %v, %v, %v", locs, ok, err)
	}

	if err := s.SetCurrentLocation("Spain"); err != nil {
		t.Fatalf("SetCurrentLocation() error = %v", err)
	}
	if cur, ok, _ := s.CurrentLocation(); !ok || cur != "Spain" {
		t.Errorf("CurrentLocation() = %q, %v", cur, ok)
	}
}

func TestSettings_EmptyLocationsStoredAsEmptyList(t *testing.T) {
	s := New(NewFileStore(t.TempDir()))
	if err := s.SetUserLocations(nil); err != nil {
		t.Fatal(err)
	}
	locs, ok, err := s.UserLocations()
	if err != nil || !ok || locs == nil || len(locs) != 0 {
		t.Errorf("UserLocations() = %#v, %v, %v; want empty non-nil", locs, ok, err)
	}
}

func TestSettings_LastRunVersion(t *testing.T) {
	store := NewFileStore(t.TempDir())
	s := New(store)

	v, err := s.LastRunVersion()
	if err != nil || !v.IsZero() {
		t.Fatalf("LastRunVersion() on empty = %v, %v", v, err)
	}

	if err := s.SetLastRunVersion(Version{Major: 1, Minor: 4}); err != nil {
		t.Fatal(err)
	}
	v, _ = s.LastRunVersion()
	if v.String() != "1.4.0" {
		t.Errorf("LastRunVersion() = %v, want 1.4.0", v)
	}

	// Garbage in the store reads as never run.
	_ = store.Save(KeyLastRunVersion, []byte(`"banana"`))
	if v, err := s.LastRunVersion(); err != nil || !v.IsZero() {
		t.Errorf("LastRunVersion() with garbage = %v, %v", v, err)
	}
}

func TestSettings_MigrateUserCountries(t *testing.T) {
	store := NewFileStore(t.TempDir())
	s := New(store)
	_ = store.Save(KeyUserCountries, []byte(`["Spain","Italy"]`))

	moved, err := s.MigrateUserCountries()
	if err != nil || !moved {
		t.Fatalf("MigrateUserCountries() = %v, %v", moved, err)
	}
	locs, _, _ := s.UserLocations()
	if len(locs) != 2 || locs[0] != "Spain" {
		t.Errorf("UserLocations() = %v", locs)
	}
	if _, ok, _ := store.Load(KeyUserCountries); ok {
		t.Error("legacy key not removed")
	}

	// A second run finds nothing to move.
	if moved, _ := s.MigrateUserCountries(); moved {
		t.Error("second migration moved data")
	}
}

func TestSettings_MigrateKeepsExistingLocations(t *testing.T) {
	store := NewFileStore(t.TempDir())
	s := New(store)
	_ = s.SetUserLocations([]string{"France"})
	_ = store.Save(KeyUserCountries, []byte(`["Spain"]`))

	if moved, _ := s.MigrateUserCountries(); moved {
		t.Error("migration overwrote existing locations")
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{"1.2.3", Version{1, 2, 3}, false},
		{"v2.0", Version{2, 0, 0}, false},
		{"3", Version{3, 0, 0}, false},
		{"", Version{}, true},
		{"1.x", Version{}, true},
		{"1.2.3.4", Version{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseVersion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseVersion(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseVersion(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestVersion_Compare(t *testing.T) {
	tests := []struct {
		a, b Version
		want int
	}{
		{Version{1, 2, 3}, Version{1, 2, 3}, 0},
		{Version{1, 10, 0}, Version{1, 9, 9}, 1},
		{Version{0, 9, 0}, Version{1, 0, 0}, -1},
		{Version{1, 0, 1}, Version{1, 0, 2}, -1},
	}
	for _, tt := range tests {
		if got := tt.a.Compare(tt.b); got != tt.want {
			t.Errorf("%v.Compare(%v) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}
