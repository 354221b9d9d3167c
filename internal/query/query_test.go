package query

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestStringify(t *testing.T) {
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"string", "42", "42"},
		{"bytes", []byte("abc"), "abc"},
		{"int", 42, "42"},
		{"int64", int64(-7), "-7"},
		{"whole float", 5.0, "5"},
		{"fraction", 2.5, "2.5"},
		{"large float", 1e6, "1000000"},
		{"json number", json.Number("123456"), "123456"},
		{"true", true, "True"},
		{"false", false, "False"},
		{"nil", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.in); got != tt.want {
				t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestQueryKeyCanonical(t *testing.T) {
	a := Query{"a": 1, "b": "2", "c": 3.0}
	b := Query{}
	b["c"] = "3"
	b["b"] = 2
	b["a"] = "1"

	if a.Key() != b.Key() {
		t.Errorf("equivalent queries have different keys: %q vs %q", a.Key(), b.Key())
	}
}

func TestQueryKeyDistinct(t *testing.T) {
	tests := []struct {
		name string
		x, y Query
	}{
		{"different value", Query{"a": "1"}, Query{"a": "2"}},
		{"different column", Query{"a": "1"}, Query{"b": "1"}},
		{"value spills into column", Query{"a": "1:b1:2"}, Query{"a": "1", "b": "2"}},
		{"separator in name", Query{"a,b": "1"}, Query{"a": ",b1"}},
		{"empty value", Query{"a": ""}, Query{"a": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.x.Key() == tt.y.Key() {
				t.Errorf("keys collide: %q", tt.x.Key())
			}
		})
	}
}

func TestQueryTermsSorted(t *testing.T) {
	q := Query{"e": 5, "a": 1, "c": 3, "b": 2, "d": 4}
	terms := q.terms()

	var cols []string
	for _, tm := range terms {
		cols = append(cols, tm.column)
	}
	if got := strings.Join(cols, ""); got != "abcde" {
		t.Errorf("terms order = %q, want abcde", got)
	}
}
