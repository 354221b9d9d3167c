package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrSchema matches every *SchemaError with errors.Is.
var ErrSchema = errors.New("schema mismatch")

// Schema error reasons.
const (
	ReasonNoValueColumn   = "value column not found in header"
	ReasonDuplicateColumn = "duplicate column in header"
	ReasonKeyMismatch     = "query keys do not match key columns"
)

// SchemaError reports a header without the value column, or a query whose
// key set differs from the dataset's key columns. It is never downgraded to
// a partial match.
type SchemaError struct {
	Reason  string
	Column  string   // offending column, when one applies
	Missing []string // key columns absent from the query
	Extra   []string // query keys that are not key columns
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("schema error: ")
	b.WriteString(e.Reason)
	if e.Column != "" {
		fmt.Fprintf(&b, " (%q)", e.Column)
	}
	if len(e.Missing) > 0 {
		fmt.Fprintf(&b, "; missing %v", e.Missing)
	}
	if len(e.Extra) > 0 {
		fmt.Fprintf(&b, "; unexpected %v", e.Extra)
	}
	return b.String()
}

// Is lets errors.Is(err, ErrSchema) match any SchemaError.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchema
}
