package common

// lruEntry is a node in the LRU's intrusive doubly-linked list.
type lruEntry[K comparable, V any] struct {
	key   K
	value V
	prev  *lruEntry[K, V]
	next  *lruEntry[K, V]
}

// LRU is a count-bounded least-recently-used cache.
//
// LRU is NOT safe for concurrent use. Owners serialize access with their
// own lock so that eviction, promotion and wholesale clears happen under a
// single mutual-exclusion discipline.
type LRU[K comparable, V any] struct {
	items     map[K]*lruEntry[K, V]
	head      *lruEntry[K, V] // most recent
	tail      *lruEntry[K, V] // least recent
	capacity  int
	evictions uint64
}

// NewLRU creates an LRU holding at most capacity entries.
// A non-positive capacity is clamped to 1.
func NewLRU[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity < 1 {
		capacity = 1
	}
	return &LRU[K, V]{
		items:    make(map[K]*lruEntry[K, V]),
		capacity: capacity,
	}
}

// Get returns the value stored under key and promotes it to most recent.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	entry, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.moveToHead(entry)
	return entry.value, true
}

// Peek returns the value stored under key without touching recency.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	entry, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return entry.value, true
}

// Contains reports whether key is cached, without touching recency.
func (c *LRU[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Put stores value under key as the most recent entry.
// Returns true if the least recent entry was evicted to make room.
func (c *LRU[K, V]) Put(key K, value V) bool {
	if entry, ok := c.items[key]; ok {
		entry.value = value
		c.moveToHead(entry)
		return false
	}

	entry := &lruEntry[K, V]{key: key, value: value}
	c.items[key] = entry
	c.addToHead(entry)

	if len(c.items) > c.capacity {
		c.evict()
		return true
	}
	return false
}

// Clear drops every entry. Eviction counters are kept.
func (c *LRU[K, V]) Clear() {
	clear(c.items)
	c.head = nil
	c.tail = nil
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	return len(c.items)
}

// Cap returns the fixed capacity.
func (c *LRU[K, V]) Cap() int {
	return c.capacity
}

// Evictions returns how many entries were dropped for capacity.
func (c *LRU[K, V]) Evictions() uint64 {
	return c.evictions
}

// Keys returns cached keys from most to least recent.
func (c *LRU[K, V]) Keys() []K {
	keys := make([]K, 0, len(c.items))
	for e := c.head; e != nil; e = e.next {
		keys = append(keys, e.key)
	}
	return keys
}

// --- internal linked list operations ---

func (c *LRU[K, V]) addToHead(entry *lruEntry[K, V]) {
	entry.prev = nil
	entry.next = c.head
	if c.head != nil {
		c.head.prev = entry
	}
	c.head = entry
	if c.tail == nil {
		c.tail = entry
	}
}

func (c *LRU[K, V]) moveToHead(entry *lruEntry[K, V]) {
	if entry == c.head {
		return
	}
	c.removeFromList(entry)
	c.addToHead(entry)
}

func (c *LRU[K, V]) removeFromList(entry *lruEntry[K, V]) {
	if entry.prev != nil {
		entry.prev.next = entry.next
	} else {
		c.head = entry.next
	}
	if entry.next != nil {
		entry.next.prev = entry.prev
	} else {
		c.tail = entry.prev
	}
	entry.prev = nil
	entry.next = nil
}

func (c *LRU[K, V]) evict() {
	if c.tail == nil {
		return
	}
	victim := c.tail
	c.removeFromList(victim)
	delete(c.items, victim.key)
	c.evictions++
}
