package query

import (
	"bytes"

	"github.com/csvquery/matchcache/internal/simd"
)

// scanResult is the outcome of one linear scan.
type scanResult struct {
	value string
	rows  int // non-blank data rows inspected
}

// scanRows walks the data rows of a dataset in file order and returns the
// value-column field of the first row whose key fields equal every term
// exactly. Blank lines are skipped and rows too short to hold a required
// field never match. seps is a reusable separator buffer; the grown buffer
// is returned for the next scan.
func scanRows(data []byte, sep byte, h *HeaderIndex, terms []term, seps []int) (scanResult, []int) {
	// Highest field position a row must have.
	need := h.valuePos
	for _, t := range terms {
		if t.pos > need {
			need = t.pos
		}
	}

	var res scanResult

	nl := bytes.IndexByte(data, '\n')
	if nl < 0 {
		res.value = NotFound
		return res, seps
	}
	pos := nl + 1

	for pos < len(data) {
		end := bytes.IndexByte(data[pos:], '\n')
		var line []byte
		if end < 0 {
			line = data[pos:]
			pos = len(data)
		} else {
			line = data[pos : pos+end]
			pos += end + 1
		}

		line = bytes.TrimSuffix(line, []byte{'\r'})
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		res.rows++

		seps = simd.Separators(line, sep, seps)
		if len(seps) < need {
			continue
		}

		matched := true
		for _, t := range terms {
			field, _ := simd.Field(line, seps, t.pos)
			if string(field) != t.value {
				matched = false
				break
			}
		}
		if matched {
			field, _ := simd.Field(line, seps, h.valuePos)
			res.value = string(field)
			return res, seps
		}
	}

	res.value = NotFound
	return res, seps
}
