package query

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// NotFound is the result of a lookup that matched no row. It is cached like
// any other result.
const NotFound = "-1"

// Query maps key-column names to target values. Values of any scalar type
// are compared by their text form.
type Query map[string]any

// term is one resolved key/value pair of a query.
type term struct {
	column string
	value  string
	pos    int // column position, filled in against a header
}

// terms returns the query's pairs stringified and sorted by column name.
func (q Query) terms() []term {
	out := make([]term, 0, len(q))
	for k, v := range q {
		out = append(out, term{column: k, value: Stringify(v), pos: -1})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].column < out[j].column })
	return out
}

// Key returns the canonical cache key: pairs sorted by column name, each
// part length-prefixed so that no choice of names or values can collide.
// Queries with the same pairs in any construction order share a key.
func (q Query) Key() string {
	return canonicalKey(q.terms())
}

func canonicalKey(terms []term) string {
	var b strings.Builder
	for _, t := range terms {
		b.WriteString(strconv.Itoa(len(t.column)))
		b.WriteByte(':')
		b.WriteString(t.column)
		b.WriteString(strconv.Itoa(len(t.value)))
		b.WriteByte(':')
		b.WriteString(t.value)
	}
	return b.String()
}

// Stringify renders a query value as the text compared against row fields.
// Floats use the shortest exact decimal form without an exponent, so 5.0
// becomes "5" and 1e6 becomes "1000000". Booleans are capitalized ("True",
// "False") to match datasets exported with that spelling.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case bool:
		if t {
			return "True"
		}
		return "False"
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
