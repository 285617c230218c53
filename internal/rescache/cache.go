// Package rescache implements the NS's bounded LRU path-resolution cache
// (spec.md §4.2): a hash map from full path string to server handle,
// fronted by a doubly linked list ordered by recency, same O(1) shape as a
// textbook LRU (grounded on the retrieved lrucache example: map + doubly
// linked list with dummy head/tail sentinels).
//
// spec.md §9 flags two bugs in the original as things a reimplementation
// must fix, not reproduce: the cache has no mutex (concurrent client
// handlers race), and RENAME does not invalidate stale entries. This
// package adds the mutex itself and exposes Invalidate so nsserver can
// evict both the old and new path on a successful rename.
package rescache

import (
	"sync"

	"github.com/distfs/distfs/internal/registry"
)

type entry struct {
	key   string
	value *registry.ServerHandle
	prev  *entry
	next  *entry
}

// Cache is a fixed-capacity LRU from path to server handle.
type Cache struct {
	mu       sync.Mutex
	capacity int
	index    map[string]*entry
	head     *entry // dummy, head.next is most recently used
	tail     *entry // dummy, tail.prev is least recently used
}

func New(capacity int) *Cache {
	head := &entry{}
	tail := &entry{}
	head.next = tail
	tail.prev = head

	return &Cache{
		capacity: capacity,
		index:    make(map[string]*entry),
		head:     head,
		tail:     tail,
	}
}

func (c *Cache) unlink(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (c *Cache) pushFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

// Get returns the cached handle for path, promoting it to most-recently
// used on a hit.
func (c *Cache) Get(path string) (*registry.ServerHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[path]
	if !ok {
		return nil, false
	}
	c.unlink(e)
	c.pushFront(e)
	return e.value, true
}

// Put inserts or updates path, evicting the least-recently-used entry if
// the cache is now over capacity.
func (c *Cache) Put(path string, value *registry.ServerHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.index[path]; ok {
		e.value = value
		c.unlink(e)
		c.pushFront(e)
		return
	}

	e := &entry{key: path, value: value}
	c.index[path] = e
	c.pushFront(e)

	if len(c.index) > c.capacity {
		lru := c.tail.prev
		c.unlink(lru)
		delete(c.index, lru.key)
	}
}

// Invalidate removes path from the cache, if present. A no-op on a miss.
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.index[path]
	if !ok {
		return
	}
	c.unlink(e)
	delete(c.index, path)
}

// Flush discards all entries.
func (c *Cache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.index = make(map[string]*entry)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// Len returns the number of cached entries (test/introspection helper).
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.index)
}
