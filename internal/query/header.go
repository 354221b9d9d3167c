package query

import (
	"bytes"
	"sort"
	"strings"
)

// HeaderIndex maps column names to zero-based positions for one dataset.
type HeaderIndex struct {
	Columns     []string
	ValueColumn string
	positions   map[string]int
	valuePos    int
}

// parseHeader builds the index from the first line of a dataset.
// A UTF-8 BOM and a trailing CR are stripped and names are trimmed.
func parseHeader(line []byte, sep byte, valueColumn string) (*HeaderIndex, error) {
	line = bytes.TrimPrefix(line, []byte("\xEF\xBB\xBF"))
	line = bytes.TrimSuffix(line, []byte{'\r'})

	parts := bytes.Split(line, []byte{sep})
	h := &HeaderIndex{
		Columns:     make([]string, len(parts)),
		ValueColumn: valueColumn,
		positions:   make(map[string]int, len(parts)),
		valuePos:    -1,
	}

	for i, part := range parts {
		name := string(bytes.TrimSpace(part))
		if _, dup := h.positions[name]; dup {
			return nil, &SchemaError{Reason: ReasonDuplicateColumn, Column: name}
		}
		h.Columns[i] = name
		h.positions[name] = i
		if name == valueColumn {
			h.valuePos = i
		}
	}

	if h.valuePos < 0 {
		return nil, &SchemaError{Reason: ReasonNoValueColumn, Column: valueColumn}
	}
	return h, nil
}

// Position returns the index of the named column.
func (h *HeaderIndex) Position(name string) (int, bool) {
	pos, ok := h.positions[name]
	return pos, ok
}

// ValuePosition returns the index of the value column.
func (h *HeaderIndex) ValuePosition() int {
	return h.valuePos
}

// KeyColumns returns every column except the value column, in header order.
func (h *HeaderIndex) KeyColumns() []string {
	keys := make([]string, 0, len(h.Columns)-1)
	for i, c := range h.Columns {
		if i != h.valuePos {
			keys = append(keys, c)
		}
	}
	return keys
}

// Validate checks that q names exactly the key columns: no more, no fewer.
func (h *HeaderIndex) Validate(q Query) error {
	var missing, extra []string
	for i, c := range h.Columns {
		if i == h.valuePos {
			continue
		}
		if _, ok := q[c]; !ok {
			missing = append(missing, c)
		}
	}
	for k := range q {
		if pos, ok := h.positions[k]; !ok || pos == h.valuePos {
			extra = append(extra, k)
		}
	}
	if len(missing) == 0 && len(extra) == 0 {
		return nil
	}
	sort.Strings(missing)
	sort.Strings(extra)
	return &SchemaError{Reason: ReasonKeyMismatch, Missing: missing, Extra: extra}
}

// bind resolves each term's column position. Terms must already be
// validated against h.
func (h *HeaderIndex) bind(terms []term) {
	for i := range terms {
		terms[i].pos = h.positions[terms[i].column]
	}
}

func (h *HeaderIndex) String() string {
	return strings.Join(h.Columns, ",")
}
