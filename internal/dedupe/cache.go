// ABOUTME: Thread-safe TTL cache for deduplicating frontend events
// ABOUTME: Used by the Matrix frontend to drop replayed sync events

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// entry holds a key's sighting time plus its position in the eviction order.
type entry struct {
	at      time.Time
	element *list.Element
}

// Cache tracks recently seen event keys for a bounded window so a sync
// replay never triggers a second session operation. Capacity is bounded:
// at maxSize the oldest key is evicted, keeping memory flat between
// cleanup ticks no matter how fast events arrive.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // keys in insertion order, oldest at front
	ttl     time.Duration
	maxSize int
	done    chan struct{}
	closed  bool
}

// New creates a cache with the specified TTL and maximum size. A background
// goroutine periodically drops expired entries.
func New(ttl time.Duration, maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// CheckAndMark atomically checks whether key was already seen within the
// TTL and marks it if not. Returns true for duplicates.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.seen[key]; ok && time.Since(e.at) < c.ttl {
		return true
	}
	c.mark(key)
	return false
}

// mark records a sighting of key, evicting the oldest entry at capacity.
// Must be called with mu held.
func (c *Cache) mark(key string) {
	now := time.Now()

	if e, ok := c.seen[key]; ok {
		e.at = now
		c.order.MoveToBack(e.element)
		return
	}

	if len(c.seen) >= c.maxSize {
		if front := c.order.Front(); front != nil {
			oldest, _ := front.Value.(string)
			c.order.Remove(front)
			delete(c.seen, oldest)
		}
	}

	c.seen[key] = &entry{at: now, element: c.order.PushBack(key)}
}

// cleanup runs in a background goroutine, periodically removing expired entries.
func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, e := range c.seen {
				if now.Sub(e.at) > c.ttl {
					c.order.Remove(e.element)
					delete(c.seen, key)
				}
			}
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the background cleanup goroutine. Safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}
