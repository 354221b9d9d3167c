// Package schema reads and writes the per-dataset sidecar that records the
// value column and field separator of a delimited dataset.
package schema

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-json"
)

// Sidecar defaults, used when a dataset has no sidecar.
const (
	DefaultValueColumn = "value"
	DefaultSeparator   = ","
)

// Schema describes how a dataset's rows are laid out.
type Schema struct {
	ValueColumn string `json:"value_column"`
	Separator   string `json:"separator"`
	path        string
}

// Default returns the schema assumed for datasets without a sidecar.
func Default(csvPath string) *Schema {
	return &Schema{
		ValueColumn: DefaultValueColumn,
		Separator:   DefaultSeparator,
		path:        SidecarPath(csvPath),
	}
}

// Load reads the sidecar of csvPath. A missing sidecar yields the defaults.
func Load(csvPath string) (*Schema, error) {
	s := Default(csvPath)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	if s.ValueColumn == "" {
		s.ValueColumn = DefaultValueColumn
	}
	if s.Separator == "" {
		s.Separator = DefaultSeparator
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", s.path, err)
	}
	return s, nil
}

// Validate checks the separator is a single byte and not a line break.
func (s *Schema) Validate() error {
	if len(s.Separator) != 1 {
		return fmt.Errorf("separator must be a single byte, got %q", s.Separator)
	}
	if s.Separator == "\n" || s.Separator == "\r" {
		return fmt.Errorf("separator cannot be a line break")
	}
	if strings.TrimSpace(s.ValueColumn) != s.ValueColumn {
		return fmt.Errorf("value column %q has surrounding whitespace", s.ValueColumn)
	}
	return nil
}

// Sep returns the separator byte.
func (s *Schema) Sep() byte {
	return s.Separator[0]
}

// Path returns the sidecar location.
func (s *Schema) Path() string {
	return s.path
}

// Save writes the sidecar next to the dataset.
func (s *Schema) Save() error {
	if err := s.Validate(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, append(data, '\n'), 0644)
}

// SidecarPath returns <dataset>_schema.json beside csvPath.
func SidecarPath(csvPath string) string {
	dir := filepath.Dir(csvPath)
	base := filepath.Base(csvPath)
	return filepath.Join(dir, base+"_schema.json")
}
