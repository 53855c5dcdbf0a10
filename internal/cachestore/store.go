// Package cachestore persists rendered report artifacts on disk, keyed by
// server, report, object, filter value and render size.
//
// Every runtime failure is absorbed: a write that fails leaves the entry
// missing and a read of a missing or undecodable entry reports a miss.
// Callers never see cache I/O errors.
package cachestore

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"

	"github.com/smileynet/vizcache/internal/report"
)

// ImageFormat selects the on-disk encoding of thumbnails.
type ImageFormat string

const (
	FormatPNG  ImageFormat = "png"
	FormatWebP ImageFormat = "webp"
)

// Store is an on-disk artifact store rooted at a single directory.
// Writes replace whole files atomically, so concurrent readers observe
// either the old or the new artifact.
type Store struct {
	dir      string
	host     string
	reportID string
	format   ImageFormat
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithHost sets the server host mixed into every key.
func WithHost(host string) Option {
	return func(s *Store) { s.host = host }
}

// WithReportID sets the report ID mixed into every key.
func WithReportID(id string) Option {
	return func(s *Store) { s.reportID = id }
}

// WithImageFormat sets the thumbnail encoding. Defaults to PNG.
func WithImageFormat(f ImageFormat) Option {
	return func(s *Store) { s.format = f }
}

// WithLogger sets the logger for swallowed I/O errors.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a Store rooted at dir, creating the directory if needed.
func New(dir string, opts ...Option) (*Store, error) {
	s := &Store{
		dir:    dir,
		format: FormatPNG,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(s)
	}
	switch s.format {
	case FormatPNG, FormatWebP:
	default:
		return nil, fmt.Errorf("cachestore: unsupported image format %q", s.format)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cachestore: creating %s: %w", dir, err)
	}
	return s, nil
}

// Dir returns the root directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) ext(kind Kind) string {
	switch kind {
	case KindImage:
		return "." + string(s.format)
	case KindText:
		return ".rtf"
	default:
		return ".label"
	}
}

// Path returns the file path of the artifact addressed by kind and key.
func (s *Store) Path(kind Kind, key Key) string {
	return filepath.Join(s.dir, key.encode(s.host, s.reportID)+s.ext(kind))
}

// Put stores data under kind and key. A nil data deletes the entry.
func (s *Store) Put(kind Kind, key Key, data []byte) {
	p := s.Path(kind, key)
	if data == nil {
		s.remove(p)
		return
	}
	if err := writeFileAtomic(p, data); err != nil {
		s.logger.Debug("cache write failed", "kind", kind, "object", key.ObjectID, "filter", key.FilterValue, "error", err)
	}
}

// Get returns the raw bytes stored under kind and key.
func (s *Store) Get(kind Kind, key Key) ([]byte, bool) {
	data, err := os.ReadFile(s.Path(kind, key))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Debug("cache read failed", "kind", kind, "object", key.ObjectID, "error", err)
		}
		return nil, false
	}
	return data, true
}

// Exists reports whether an entry is stored under kind and key.
func (s *Store) Exists(kind Kind, key Key) bool {
	_, err := os.Stat(s.Path(kind, key))
	return err == nil
}

// Remove deletes the entry under kind and key, if any.
func (s *Store) Remove(kind Kind, key Key) {
	s.remove(s.Path(kind, key))
}

// Clear deletes every stored artifact and recreates the root directory.
func (s *Store) Clear() {
	if err := os.RemoveAll(s.dir); err != nil {
		s.logger.Warn("cache clear failed", "dir", s.dir, "error", err)
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("cache recreate failed", "dir", s.dir, "error", err)
	}
}

// Count returns the number of stored artifacts.
func (s *Store) Count() int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !e.IsDir() && !strings.HasPrefix(e.Name(), ".tmp-") {
			n++
		}
	}
	return n
}

// PutImage stores a rendered thumbnail. A nil img deletes the entry.
func (s *Store) PutImage(objectID, filterValue string, size report.Size, img image.Image) {
	key := ImageKey(objectID, filterValue, size)
	if img == nil {
		s.Put(KindImage, key, nil)
		return
	}
	var buf bytes.Buffer
	if err := s.encodeImage(&buf, img); err != nil {
		s.logger.Debug("cache image encode failed", "object", objectID, "error", err)
		return
	}
	s.Put(KindImage, key, buf.Bytes())
}

// Image returns a stored thumbnail.
func (s *Store) Image(objectID, filterValue string, size report.Size) (image.Image, bool) {
	data, ok := s.Get(KindImage, ImageKey(objectID, filterValue, size))
	if !ok {
		return nil, false
	}
	img, err := s.decodeImage(bytes.NewReader(data))
	if err != nil {
		s.logger.Debug("cache image decode failed", "object", objectID, "error", err)
		return nil, false
	}
	return img, true
}

// HasImage reports whether a thumbnail is stored.
func (s *Store) HasImage(objectID, filterValue string, size report.Size) bool {
	return s.Exists(KindImage, ImageKey(objectID, filterValue, size))
}

func (s *Store) encodeImage(w io.Writer, img image.Image) error {
	if s.format == FormatWebP {
		return webp.Encode(w, img, &webp.Options{Lossless: true})
	}
	return imaging.Encode(w, img, imaging.PNG)
}

func (s *Store) decodeImage(r io.Reader) (image.Image, error) {
	if s.format == FormatWebP {
		return webp.Decode(r)
	}
	return imaging.Decode(r)
}

// textEntry is the on-disk envelope of text and label artifacts. Doc is
// always written so an empty document stays distinct from a missing one.
type textEntry struct {
	Doc   []byte `json:"doc"`
	Label string `json:"label,omitempty"`
}

// PutText stores a rich-text document. A nil doc deletes the entry.
func (s *Store) PutText(objectID, filterValue string, doc []byte) {
	key := TextKey(objectID, filterValue)
	if doc == nil {
		s.Put(KindText, key, nil)
		return
	}
	s.putEntry(KindText, key, textEntry{Doc: doc})
}

// Text returns a stored rich-text document. A stored empty document is a
// hit with a non-nil, zero-length result.
func (s *Store) Text(objectID, filterValue string) ([]byte, bool) {
	e, ok := s.getEntry(KindText, TextKey(objectID, filterValue))
	if !ok {
		return nil, false
	}
	if e.Doc == nil {
		e.Doc = []byte{}
	}
	return e.Doc, true
}

// HasText reports whether a readable rich-text document is stored. An
// unreadable entry counts as missing so it gets requested again.
func (s *Store) HasText(objectID, filterValue string) bool {
	_, ok := s.Text(objectID, filterValue)
	return ok
}

// PutLabel stores an accessibility label. An empty label deletes the entry.
func (s *Store) PutLabel(objectID, filterValue, label string) {
	key := LabelKey(objectID, filterValue)
	if label == "" {
		s.Put(KindLabel, key, nil)
		return
	}
	s.putEntry(KindLabel, key, textEntry{Label: label})
}

// Label returns a stored accessibility label.
func (s *Store) Label(objectID, filterValue string) (string, bool) {
	e, ok := s.getEntry(KindLabel, LabelKey(objectID, filterValue))
	if !ok || e.Label == "" {
		return "", false
	}
	return e.Label, true
}

// RemoveVisual deletes every artifact of one visual for one filter value.
func (s *Store) RemoveVisual(objectID, filterValue string, size report.Size) {
	s.Remove(KindImage, ImageKey(objectID, filterValue, size))
	s.Remove(KindText, TextKey(objectID, filterValue))
	s.Remove(KindLabel, LabelKey(objectID, filterValue))
}

func (s *Store) putEntry(kind Kind, key Key, e textEntry) {
	data, err := json.Marshal(e)
	if err != nil {
		s.logger.Debug("cache marshal failed", "kind", kind, "object", key.ObjectID, "error", err)
		return
	}
	s.Put(kind, key, data)
}

func (s *Store) getEntry(kind Kind, key Key) (textEntry, bool) {
	data, ok := s.Get(kind, key)
	if !ok {
		return textEntry{}, false
	}
	var e textEntry
	if err := json.Unmarshal(data, &e); err != nil {
		s.logger.Debug("cache entry decode failed", "kind", kind, "object", key.ObjectID, "error", err)
		return textEntry{}, false
	}
	return e, true
}

func (s *Store) remove(p string) {
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Debug("cache remove failed", "path", p, "error", err)
	}
}

// writeFileAtomic writes data to a temp file in the same directory and
// renames it over path.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
