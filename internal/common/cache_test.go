package common

import (
	"fmt"
	"slices"
	"testing"
)

func TestLRUEvictsLeastRecent(t *testing.T) {
	c := NewLRU[string, int](3)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)

	// Touch "a" so "b" becomes the eviction victim.
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %v, %v; want 1, true", v, ok)
	}

	if evicted := c.Put("d", 4); !evicted {
		t.Fatal("expected eviction when exceeding capacity")
	}
	if c.Contains("b") {
		t.Error("b should have been evicted")
	}
	for _, k := range []string{"a", "c", "d"} {
		if !c.Contains(k) {
			t.Errorf("%s should still be cached", k)
		}
	}
	if c.Len() != 3 {
		t.Errorf("Len() = %d, want 3", c.Len())
	}
	if c.Evictions() != 1 {
		t.Errorf("Evictions() = %d, want 1", c.Evictions())
	}
}

func TestLRUKeysOrder(t *testing.T) {
	c := NewLRU[int, string](4)
	for i := 0; i < 4; i++ {
		c.Put(i, fmt.Sprint(i))
	}
	c.Get(1)
	c.Put(2, "two")

	want := []int{2, 1, 3, 0}
	if got := c.Keys(); !slices.Equal(got, want) {
		t.Errorf("Keys() = %v, want %v", got, want)
	}
	if v, _ := c.Peek(2); v != "two" {
		t.Errorf("Peek(2) = %q, want updated value", v)
	}
}

func TestLRUPeekDoesNotPromote(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Put("old", 1)
	c.Put("new", 2)

	if _, ok := c.Peek("old"); !ok {
		t.Fatal("Peek(old) missed")
	}
	c.Put("newest", 3)
	if c.Contains("old") {
		t.Error("Peek must not refresh recency")
	}
}

func TestLRUClear(t *testing.T) {
	c := NewLRU[string, int](2)
	c.Put("a", 1)
	c.Put("b", 2)
	c.Put("c", 3)
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Len() after Clear = %d", c.Len())
	}
	if len(c.Keys()) != 0 {
		t.Errorf("Keys() after Clear = %v", c.Keys())
	}
	if c.Evictions() != 1 {
		t.Errorf("Clear must keep eviction count, got %d", c.Evictions())
	}

	c.Put("x", 9)
	if v, ok := c.Get("x"); !ok || v != 9 {
		t.Errorf("cache unusable after Clear: %v %v", v, ok)
	}
}

func TestLRUCapacityClamp(t *testing.T) {
	c := NewLRU[string, int](0)
	if c.Cap() != 1 {
		t.Fatalf("Cap() = %d, want 1", c.Cap())
	}
	c.Put("a", 1)
	c.Put("b", 2)
	if c.Contains("a") || !c.Contains("b") {
		t.Error("single-slot cache should keep only the latest entry")
	}
}

func BenchmarkLRUGetHit(b *testing.B) {
	c := NewLRU[string, string](1000)
	for i := 0; i < 1000; i++ {
		c.Put(fmt.Sprintf("key-%d", i), "v")
	}

	b.ReportAllocs()
	b.ResetTimer()

	for i := 0; i < b.N; i++ {
		c.Get("key-500")
	}
}
