// Package server exposes a lookup engine over a Unix socket and over HTTP,
// backed by a reloadable dataset snapshot.
package server

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/csvquery/matchcache/internal/common"
	"github.com/csvquery/matchcache/internal/query"
	"github.com/csvquery/matchcache/internal/schema"
)

// ErrNoDataset is returned by lookups on a store without a dataset.
var ErrNoDataset = errors.New("no dataset loaded")

// Store pairs one engine with the current snapshot of a dataset file.
// Lookups hold the read lock for the length of the engine call; Reload takes
// the write lock to swap snapshots, so a snapshot is never released while a
// lookup is reading it.
type Store struct {
	mu      sync.RWMutex
	path    string
	engine  *query.Engine
	dataset *common.Dataset
	schema  *schema.Schema
	reloads uint64
	lastErr error
}

// Status describes the store for status endpoints.
type Status struct {
	Csv         string    `json:"csv"`
	Compression string    `json:"compression"`
	Bytes       int       `json:"bytes"`
	Rows        int       `json:"rows"`
	ValueColumn string    `json:"valueColumn"`
	Separator   string    `json:"separator"`
	Fingerprint string    `json:"fingerprint"`
	Identity    string    `json:"identity,omitempty"`
	LoadedAt    time.Time `json:"loadedAt"`
	Reloads     uint64    `json:"reloads"`
	LastError   string    `json:"lastError,omitempty"`
}

// OpenStore loads path and builds an engine for it. The value column and
// separator come from the dataset's schema sidecar unless cfg sets them.
func OpenStore(path string, cfg query.EngineConfig) (*Store, error) {
	sc, err := schema.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load schema: %w", err)
	}
	if cfg.ValueColumn == "" {
		cfg.ValueColumn = sc.ValueColumn
	}
	if cfg.Separator == 0 {
		cfg.Separator = sc.Sep()
	}

	s := &Store{
		path:   path,
		engine: query.NewEngine(cfg),
		schema: sc,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload reads the dataset file again, swaps it in and resets the engine.
// The snapshot is a private copy, so writers replacing the file in place
// cannot change bytes under a running scan. The reset matters in prefix
// fingerprint mode, where an append past the prefix keeps the identity.
func (s *Store) Reload() error {
	ds, err := common.LoadDataset(s.path, common.LoadOptions{Copy: true})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.lastErr = err
		return fmt.Errorf("failed to load dataset: %w", err)
	}
	old := s.dataset
	s.dataset = ds
	s.engine.Reset()
	s.reloads++
	s.lastErr = nil
	if old != nil {
		_ = old.Close()
	}
	return nil
}

// Lookup runs a point lookup against the current snapshot.
func (s *Store) Lookup(q query.Query) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataset == nil {
		return "", ErrNoDataset
	}
	return s.engine.Lookup(q, s.dataset.Data)
}

// Average runs a weighted average against the current snapshot.
func (s *Store) Average(qs []query.Query) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dataset == nil {
		return "", ErrNoDataset
	}
	return s.engine.WeightedAverage(qs, s.dataset.Data)
}

// Stats returns the engine counters.
func (s *Store) Stats() query.Stats {
	return s.engine.Stats()
}

// Status returns a description of the current snapshot.
func (s *Store) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg := s.engine.Config()
	st := Status{
		Csv:         s.path,
		ValueColumn: cfg.ValueColumn,
		Separator:   string(cfg.Separator),
		Fingerprint: cfg.Fingerprint.String(),
		Reloads:     s.reloads,
	}
	if id, ok := s.engine.Identity(); ok {
		st.Identity = fmt.Sprintf("%016x", id)
	}
	if s.dataset != nil {
		st.Compression = s.dataset.Compression.String()
		st.Bytes = s.dataset.Size()
		st.Rows = s.dataset.CountRows()
		st.LoadedAt = s.dataset.LoadedAt
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st
}

// Path returns the dataset file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the current snapshot.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dataset == nil {
		return nil
	}
	err := s.dataset.Close()
	s.dataset = nil
	return err
}

// Watch reloads the store whenever the dataset file changes, until stop is
// closed.
func (s *Store) Watch(stop <-chan struct{}) error {
	w, err := NewWatcher(s.path)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.path, err)
	}
	go func() {
		defer w.Stop()
		for {
			select {
			case <-stop:
				return
			case _, ok := <-w.Events():
				if !ok {
					return
				}
				if err := s.Reload(); err != nil {
					log.Printf("reload %s: %v", s.path, err)
					continue
				}
				log.Printf("reloaded %s", s.path)
			}
		}
	}()
	return nil
}
