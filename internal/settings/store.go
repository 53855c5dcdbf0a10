// Package settings persists user settings: the chosen locations, the
// current location and the last run version used for migrations.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Keys of persisted settings.
const (
	KeyLastRunVersion  = "lastRunVersion"
	KeyUserLocations   = "userLocations"
	KeyCurrentLocation = "currentPage"
	// KeyUserCountries is the pre-locations name of KeyUserLocations.
	KeyUserCountries = "userCountries"
)

// ErrInvalidKey indicates a settings key is empty or contains path components.
var ErrInvalidKey = errors.New("settings: invalid key")

// Store holds raw JSON values by key.
type Store interface {
	// Load returns (value, true, nil) if found, (nil, false, nil) if not.
	Load(key string) ([]byte, bool, error)
	Save(key string, value []byte) error
	Remove(key string) error
	Close() error
}

// Open returns the store for backend ("file" or "sqlite") rooted at path.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "file":
		return NewFileStore(path), nil
	case "sqlite":
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("settings: unknown backend %q", backend)
	}
}

// FileStore persists each setting as a JSON file under a base directory.
type FileStore struct {
	baseDir string
}

var _ Store = (*FileStore)(nil)

// NewFileStore creates a FileStore that saves settings under baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

// Save writes value to the file named by key.
func (s *FileStore) Save(key string, value []byte) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if !json.Valid(value) {
		return fmt.Errorf("settings: value for %q is not JSON", key)
	}
	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return fmt.Errorf("settings: creating directory: %w", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, value, 0o644); err != nil {
		return fmt.Errorf("settings: writing %s: %w", p, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("settings: writing %s: %w", p, err)
	}
	return nil
}

// Load reads the value stored under key.
func (s *FileStore) Load(key string) ([]byte, bool, error) {
	p, err := s.path(key)
	if err != nil {
		return nil, false, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("settings: reading %s: %w", p, err)
	}
	return data, true, nil
}

// Remove deletes the value stored under key.
func (s *FileStore) Remove(key string) error {
	p, err := s.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("settings: removing %s: %w", p, err)
	}
	return nil
}

// Close is a no-op.
func (s *FileStore) Close() error { return nil }

// path rejects keys that are empty, dot-segments, or contain path separators.
func (s *FileStore) path(key string) (string, error) {
	if key == "" || key == "." || key == ".." || key != filepath.Base(key) {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return filepath.Join(s.baseDir, key+".json"), nil
}
