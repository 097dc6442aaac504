package cache

import (
	"container/list"
	"sync"

	"github.com/pictureloader/pictureloader/pkg/types"
)

// Weigher reports the weight of a value in the cache's capacity unit.
type Weigher[V any] func(V) int64

// MemoryCache is a thread-safe LRU cache bounded by the summed weight of its
// values. Inserting a key that is already present leaves the existing value
// in place.
type MemoryCache[V any] struct {
	mu          sync.Mutex
	capacity    int64
	currentSize int64
	items       map[string]*memoryItem[V]
	evictList   *list.List
	weigh       Weigher[V]

	// Statistics
	stats types.CacheStats
}

// memoryItem represents an item in the cache
type memoryItem[V any] struct {
	key     string
	value   V
	weight  int64
	element *list.Element
}

// NewMemoryCache creates a cache holding at most capacity units of weight.
// A nil weigher counts every value as one unit.
func NewMemoryCache[V any](capacity int64, weigh Weigher[V]) *MemoryCache[V] {
	if capacity < 1 {
		capacity = 1
	}
	if weigh == nil {
		weigh = func(V) int64 { return 1 }
	}
	return &MemoryCache[V]{
		capacity:  capacity,
		items:     make(map[string]*memoryItem[V]),
		evictList: list.New(),
		weigh:     weigh,
		stats: types.CacheStats{
			Capacity: capacity,
		},
	}
}

// Get returns the value stored under key and marks it most recently used.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		var zero V
		return zero, false
	}

	c.evictList.MoveToFront(item.element)
	c.stats.Hits++
	return item.value, true
}

// Contains reports whether key is cached without touching recency.
func (c *MemoryCache[V]) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, exists := c.items[key]
	return exists
}

// Put stores value under key unless the key is already present. It reports
// whether the value was inserted. Least recently used entries are evicted
// until the total weight fits the capacity, which can include the new entry
// itself when it alone exceeds the capacity.
func (c *MemoryCache[V]) Put(key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; exists {
		return false
	}

	weight := c.weigh(value)
	if weight < 0 {
		weight = 0
	}

	item := &memoryItem[V]{
		key:    key,
		value:  value,
		weight: weight,
	}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item
	c.currentSize += weight

	c.evictIfNeeded()
	return true
}

// Remove deletes key and reports whether it was present.
func (c *MemoryCache[V]) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		return false
	}
	c.unlink(item)
	return true
}

// Len returns the number of cached entries.
func (c *MemoryCache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Size returns the summed weight of all entries.
func (c *MemoryCache[V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Capacity returns the weight bound.
func (c *MemoryCache[V]) Capacity() int64 {
	return c.capacity
}

// Stats returns cache statistics
func (c *MemoryCache[V]) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.currentSize
	stats.Entries = len(c.items)
	stats.UpdateRatios()
	return stats
}

// Clear drops every entry.
func (c *MemoryCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.Evictions += uint64(len(c.items))
	c.items = make(map[string]*memoryItem[V])
	c.evictList.Init()
	c.currentSize = 0
}

// Keys returns cached keys from most to least recently used.
func (c *MemoryCache[V]) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for e := c.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*memoryItem[V]).key)
	}
	return keys
}

func (c *MemoryCache[V]) unlink(item *memoryItem[V]) {
	c.evictList.Remove(item.element)
	delete(c.items, item.key)
	c.currentSize -= item.weight
}

func (c *MemoryCache[V]) evictIfNeeded() {
	for c.currentSize > c.capacity && c.evictList.Len() > 0 {
		c.evictOldest()
	}
}

func (c *MemoryCache[V]) evictOldest() {
	element := c.evictList.Back()
	if element == nil {
		return
	}
	c.unlink(element.Value.(*memoryItem[V]))
	c.stats.Evictions++
}
