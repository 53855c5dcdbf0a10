package model

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"gopkg.in/yaml.v3"
)

// VisualTemplate describes one visual of a page layout.
type VisualTemplate struct {
	ObjectID      string `yaml:"object_id"`
	Height        int    `yaml:"height"`
	Expandable    bool   `yaml:"expandable"`
	ExternalTitle bool   `yaml:"external_title"`
	ShowTooltips  bool   `yaml:"show_tooltips"`
}

// Templates are the visual layouts of the global page and of location pages.
type Templates struct {
	Global   []VisualTemplate `yaml:"global"`
	Location []VisualTemplate `yaml:"location"`
}

// LoadTemplates reads page templates from name in fsys.
func LoadTemplates(fsys fs.FS, name string) (Templates, error) {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Templates{}, fmt.Errorf("model: reading templates %s: %w", name, err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes page templates from YAML. Unknown fields are rejected.
func ParseTemplates(data []byte) (Templates, error) {
	var t Templates
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Templates{}, fmt.Errorf("model: parsing templates: %w", err)
	}
	if err := t.Validate(); err != nil {
		return Templates{}, err
	}
	return t, nil
}

// Validate checks that every template names an object and has a height.
func (t Templates) Validate() error {
	for _, group := range [][]VisualTemplate{t.Global, t.Location} {
		for i, v := range group {
			if v.ObjectID == "" {
				return fmt.Errorf("model: template %d has empty object_id", i)
			}
			if v.Height <= 0 {
				return fmt.Errorf("model: template %q height must be positive, got %d", v.ObjectID, v.Height)
			}
		}
	}
	return nil
}
