// Package generator writes synthetic datasets with five random integer key
// columns and an integer value column.
package generator

import (
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"strconv"

	"github.com/csvquery/matchcache/internal/schema"
	"github.com/csvquery/matchcache/internal/writer"
)

// DefaultKeys are the key columns used when Config.Keys is empty.
var DefaultKeys = []string{"a", "b", "c", "d", "e"}

// ValueColumn is always the last column of a generated dataset.
const ValueColumn = "value"

// Value ranges, inclusive.
const (
	KeyMin   = 1
	KeyMax   = 999999
	ValueMin = 100000
	ValueMax = 999999
)

const progressEvery = 100_000

// Config controls dataset generation.
type Config struct {
	Path      string
	Rows      int
	Keys      []string // key column names, DefaultKeys when empty
	Seed      uint64
	Separator string
	Progress  io.Writer // nil disables progress output
}

// Result summarizes a generated dataset.
type Result struct {
	Path string
	Rows int
}

// Generate writes cfg.Rows random rows to cfg.Path, compressed by extension,
// and saves a schema sidecar next to it. The same seed always produces the
// same dataset.
func Generate(cfg Config) (Result, error) {
	if cfg.Rows < 0 {
		return Result{}, fmt.Errorf("rows must be >= 0, got %d", cfg.Rows)
	}
	if cfg.Separator == "" {
		cfg.Separator = schema.DefaultSeparator
	}
	keys := cfg.Keys
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	columns := append(slices.Clone(keys), ValueColumn)

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	row := make([]string, len(columns))

	i := 0
	next := func() ([]string, bool) {
		if i == cfg.Rows {
			return nil, false
		}
		for c := range keys {
			row[c] = strconv.Itoa(KeyMin + rng.IntN(KeyMax-KeyMin+1))
		}
		row[len(keys)] = strconv.Itoa(ValueMin + rng.IntN(ValueMax-ValueMin+1))
		i++
		if cfg.Progress != nil && i%progressEvery == 0 {
			fmt.Fprintf(cfg.Progress, "\rGenerated %d rows...", i)
		}
		return row, true
	}

	w := writer.NewCsvWriter(writer.WriterConfig{CsvPath: cfg.Path, Separator: cfg.Separator})
	n, err := w.Stream(columns, next)
	if err != nil {
		return Result{}, err
	}
	if cfg.Progress != nil && n >= progressEvery {
		fmt.Fprintln(cfg.Progress)
	}

	s := schema.Default(cfg.Path)
	s.ValueColumn = ValueColumn
	s.Separator = cfg.Separator
	if err := s.Save(); err != nil {
		return Result{}, fmt.Errorf("save schema: %w", err)
	}

	return Result{Path: cfg.Path, Rows: n}, nil
}
