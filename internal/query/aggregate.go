package query

import (
	"github.com/shopspring/decimal"
)

// Parity weights for the weighted average.
const (
	OddWeight  = 10
	EvenWeight = 20
)

// weightOf returns 10 for odd values and 20 for even ones (zero included).
func weightOf(v int64) int64 {
	if v%2 != 0 {
		return OddWeight
	}
	return EvenWeight
}

// weightedSum folds resolved values into Σ(v·w) and Σw. Decimal arithmetic
// keeps the sum exact for any int64 input.
type weightedSum struct {
	total  decimal.Decimal
	weight int64
	count  int
}

func (s *weightedSum) add(v int64) {
	w := weightOf(v)
	s.total = s.total.Add(decimal.NewFromInt(v).Mul(decimal.NewFromInt(w)))
	s.weight += w
	s.count++
}

// String renders the average with exactly one decimal digit, rounding half
// away from zero on the exact quotient (5.75 -> "5.8", -2.25 -> "-2.3").
// With no weight it is "0.0".
func (s *weightedSum) String() string {
	if s.weight == 0 {
		return "0.0"
	}
	return s.total.DivRound(decimal.NewFromInt(s.weight), 1).StringFixed(1)
}
