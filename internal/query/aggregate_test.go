package query

import (
	"testing"
)

func TestWeightOf(t *testing.T) {
	tests := []struct {
		v    int64
		want int64
	}{
		{0, EvenWeight},
		{1, OddWeight},
		{2, EvenWeight},
		{-1, OddWeight},
		{-4, EvenWeight},
		{999999, OddWeight},
	}
	for _, tt := range tests {
		if got := weightOf(tt.v); got != tt.want {
			t.Errorf("weightOf(%d) = %d, want %d", tt.v, got, tt.want)
		}
	}
}

// Rounding is half away from zero on the exact quotient.
func TestWeightedSumRounding(t *testing.T) {
	tests := []struct {
		name   string
		values []int64
		want   string
	}{
		{"empty", nil, "0.0"},
		{"single", []int64{7}, "7.0"},
		{"even and odd", []int64{4, 7}, "5.0"},
		{"thirds round up", []int64{1, 2}, "1.7"},
		{"exact quarter 5.75", []int64{1, 1, 6, 8, 8}, "5.8"},
		{"exact quarter 2.25", []int64{1, 1, 2, 2, 4}, "2.3"},
		{"exact quarter 1.75", []int64{1, 1, 2, 2, 2}, "1.8"},
		{"negative 5.75", []int64{-1, -1, -6, -8, -8}, "-5.8"},
		{"negative 2.25", []int64{-1, -1, -2, -2, -4}, "-2.3"},
		{"cancel to zero", []int64{-2, 2}, "0.0"},
		{"large", []int64{999999, 999998}, "999998.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var s weightedSum
			for _, v := range tt.values {
				s.add(v)
			}
			if got := s.String(); got != tt.want {
				t.Errorf("average(%v) = %s, want %s", tt.values, got, tt.want)
			}
			if s.count != len(tt.values) {
				t.Errorf("count = %d, want %d", s.count, len(tt.values))
			}
		})
	}
}
