package query

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/csvquery/matchcache/internal/common"
)

// Engine defaults.
const (
	DefaultCapacity    = 1000
	DefaultPrefixBytes = 200
	DefaultValueColumn = "value"
	DefaultSeparator   = ','
)

// FingerprintMode selects how much of a dataset feeds its identity hash.
type FingerprintMode int

const (
	// FingerprintPrefix hashes only the first PrefixBytes bytes. Datasets
	// that differ only past the prefix share an identity and therefore
	// share cached results.
	FingerprintPrefix FingerprintMode = iota
	// FingerprintFull hashes the whole dataset on every call.
	FingerprintFull
)

func (m FingerprintMode) String() string {
	if m == FingerprintFull {
		return "full"
	}
	return "prefix"
}

// ParseFingerprintMode accepts "prefix" or "full".
func ParseFingerprintMode(s string) (FingerprintMode, error) {
	switch s {
	case "", "prefix":
		return FingerprintPrefix, nil
	case "full":
		return FingerprintFull, nil
	default:
		return 0, fmt.Errorf("unknown fingerprint mode %q (want prefix or full)", s)
	}
}

// EngineConfig holds engine parameters. Zero values select the defaults.
type EngineConfig struct {
	Capacity    int             // Max cached results (LRU)
	ValueColumn string          // Column returned on match
	Separator   byte            // Field delimiter
	Fingerprint FingerprintMode // Dataset identity strategy
	PrefixBytes int             // Bytes hashed in prefix mode
	Verbose     bool            // Log invalidations and scans
	Log         io.Writer       // Verbose output (defaults to stderr)
}

// Stats is a point-in-time snapshot of engine counters.
type Stats struct {
	Lookups       uint64 `json:"lookups"`
	Hits          uint64 `json:"hits"`
	Scans         uint64 `json:"scans"`
	RowsScanned   uint64 `json:"rowsScanned"`
	Evictions     uint64 `json:"evictions"`
	Invalidations uint64 `json:"invalidations"`
	Entries       int    `json:"entries"`
	Capacity      int    `json:"capacity"`
}

// HitRatio returns hits / (hits + scans), or 0 before any cached lookup.
func (s Stats) HitRatio() float64 {
	total := s.Hits + s.Scans
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Engine answers point lookups and weighted averages against dataset
// snapshots, caching results per dataset identity.
//
// An Engine is safe for concurrent use: one mutex serializes every cache
// mutation, including the wholesale clear on identity change. Create one per
// process (or per dataset family) and share it by pointer.
type Engine struct {
	mu      sync.Mutex
	config  EngineConfig
	results *common.LRU[string, string]

	identity    uint64
	hasIdentity bool
	header      *HeaderIndex

	stats Stats
	seps  []int
}

// NewEngine creates an engine with an empty cache.
func NewEngine(config EngineConfig) *Engine {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.ValueColumn == "" {
		config.ValueColumn = DefaultValueColumn
	}
	if config.Separator == 0 {
		config.Separator = DefaultSeparator
	}
	if config.PrefixBytes <= 0 {
		config.PrefixBytes = DefaultPrefixBytes
	}
	if config.Log == nil {
		config.Log = os.Stderr
	}

	return &Engine{
		config:  config,
		results: common.NewLRU[string, string](config.Capacity),
		seps:    make([]int, 0, 16),
	}
}

// Config returns the effective configuration.
func (e *Engine) Config() EngineConfig {
	return e.config
}

// Lookup returns the value-column field of the first row matching q, or
// NotFound. A *SchemaError is returned when the header lacks the value
// column or q's keys differ from the key columns.
func (e *Engine) Lookup(q Query, data []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lookupLocked(q, data)
}

// WeightedAverage resolves every query in order and averages the found
// values, weighting odd values 10 and even values 20. Queries resolving to
// NotFound are skipped. The whole batch runs under one lock acquisition so
// it observes a single cache generation.
func (e *Engine) WeightedAverage(queries []Query, data []byte) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var sum weightedSum
	for i, q := range queries {
		res, err := e.lookupLocked(q, data)
		if err != nil {
			return "", fmt.Errorf("query %d: %w", i, err)
		}
		if res == NotFound {
			continue
		}
		v, err := strconv.ParseInt(res, 10, 64)
		if err != nil {
			return "", fmt.Errorf("query %d: value %q is not an integer: %w", i, res, err)
		}
		sum.add(v)
	}

	if e.config.Verbose {
		fmt.Fprintf(e.config.Log, "DEBUG: averaged %d of %d queries\n", sum.count, len(queries))
	}
	return sum.String(), nil
}

// Stats returns a snapshot of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := e.stats
	s.Evictions = e.results.Evictions()
	s.Entries = e.results.Len()
	s.Capacity = e.results.Cap()
	return s
}

// Identity returns the fingerprint of the last dataset seen.
func (e *Engine) Identity() (uint64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.identity, e.hasIdentity
}

// Reset forgets the cached results, header and dataset identity. Resetting
// an engine that has seen a dataset counts as one invalidation; the other
// counters are kept.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hasIdentity {
		e.stats.Invalidations++
	}
	e.invalidateLocked()
	e.hasIdentity = false
}

// Fingerprint computes the dataset identity used by the engine.
func (e *Engine) Fingerprint(data []byte) uint64 {
	if e.config.Fingerprint == FingerprintFull {
		return xxhash.Sum64(data)
	}
	n := min(len(data), e.config.PrefixBytes)
	return xxhash.Sum64(data[:n])
}

func (e *Engine) lookupLocked(q Query, data []byte) (string, error) {
	e.observeIdentityLocked(data)
	e.stats.Lookups++

	h, err := e.resolveHeaderLocked(data)
	if err != nil {
		return "", err
	}
	if h == nil {
		// Empty dataset: nothing to match, nothing worth caching.
		return NotFound, nil
	}
	if err := h.Validate(q); err != nil {
		return "", err
	}

	terms := q.terms()
	key := canonicalKey(terms)
	if res, ok := e.results.Get(key); ok {
		e.stats.Hits++
		return res, nil
	}

	h.bind(terms)
	var sr scanResult
	sr, e.seps = scanRows(data, e.config.Separator, h, terms, e.seps)
	e.stats.Scans++
	e.stats.RowsScanned += uint64(sr.rows)

	if e.config.Verbose {
		fmt.Fprintf(e.config.Log, "DEBUG: scan %s -> %s (%d rows)\n", key, sr.value, sr.rows)
	}

	e.results.Put(key, sr.value)
	return sr.value, nil
}

// observeIdentityLocked clears all per-dataset state when the fingerprint
// of data differs from the last one seen.
func (e *Engine) observeIdentityLocked(data []byte) {
	id := e.Fingerprint(data)
	if e.hasIdentity && id == e.identity {
		return
	}
	if e.hasIdentity {
		e.stats.Invalidations++
		if e.config.Verbose {
			fmt.Fprintf(e.config.Log, "DEBUG: dataset identity %016x -> %016x, dropping %d cached results\n",
				e.identity, id, e.results.Len())
		}
	}
	e.invalidateLocked()
	e.identity = id
	e.hasIdentity = true
}

func (e *Engine) invalidateLocked() {
	e.results.Clear()
	e.header = nil
}

// resolveHeaderLocked returns the memoized header for the current identity,
// parsing the first line of data on first use. A nil header with nil error
// means the dataset is empty.
func (e *Engine) resolveHeaderLocked(data []byte) (*HeaderIndex, error) {
	if e.header != nil {
		return e.header, nil
	}
	if len(data) == 0 {
		return nil, nil
	}

	line := data
	if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
		line = data[:nl]
	}
	h, err := parseHeader(line, e.config.Separator, e.config.ValueColumn)
	if err != nil {
		return nil, err
	}

	if e.config.Verbose {
		fmt.Fprintf(e.config.Log, "DEBUG: header [%s], value column %q at %d\n", h, h.ValueColumn, h.valuePos)
	}
	e.header = h
	return h, nil
}
