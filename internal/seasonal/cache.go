package seasonal

import (
	"sync"

	"github.com/openairlab/airq-analytics/internal/domain"
)

// ProfileSource is anything that can produce a seasonal profile for a series.
type ProfileSource interface {
	Decompose(series domain.Series) (*domain.SeasonalProfile, error)
}

// CachedDecomposer wraps a ProfileSource with an in-memory LRU cache keyed by
// (city, pollutant, series end date, valid-day count), so a profile is reused
// until the underlying series changes and regenerated afterwards.
type CachedDecomposer struct {
	inner ProfileSource
	cache *lruCache
}

// NewCached creates a cache decorator around a decomposer.
func NewCached(inner ProfileSource, maxEntries int) *CachedDecomposer {
	return &CachedDecomposer{
		inner: inner,
		cache: newLRUCache(maxEntries),
	}
}

func (c *CachedDecomposer) Decompose(series domain.Series) (*domain.SeasonalProfile, error) {
	key := profileVersion(series)
	if profile, ok := c.cache.get(key); ok {
		return profile, nil
	}
	profile, err := c.inner.Decompose(series)
	if err != nil {
		return nil, err
	}
	c.cache.put(key, profile)
	return profile, nil
}

// lruCache is a simple thread-safe LRU cache for seasonal profiles.
type lruCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value *domain.SeasonalProfile
	prev  *entry
	next  *entry
}

func newLRUCache(maxEntries int) *lruCache {
	return &lruCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

func (c *lruCache) get(key string) (*domain.SeasonalProfile, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.moveToFront(e)
	return e.value, true
}

func (c *lruCache) put(key string, value *domain.SeasonalProfile) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value}
	c.entries[key] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
}

func (c *lruCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *lruCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *lruCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *lruCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
