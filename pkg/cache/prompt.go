package cache

import (
	"sync"
)

// PromptConfig configures a PromptCache.
type PromptConfig struct {
	// Capacity is the maximum number of entries. Default: 128.
	Capacity int `json:"capacity" yaml:"capacity"`

	// Tolerance is the largest memory or knowledge count change that keeps
	// an entry valid. Default: 3. Negative means default.
	Tolerance int `json:"tolerance" yaml:"tolerance"`

	// ExpiryTicks is the age at which an entry becomes invalid.
	// Default: 2500 (one simulated hour).
	ExpiryTicks int64 `json:"expiry_ticks" yaml:"expiry_ticks"`
}

// DefaultPromptConfig returns the default configuration.
func DefaultPromptConfig() PromptConfig {
	return PromptConfig{Capacity: 128, Tolerance: 3, ExpiryTicks: 2500}
}

// PromptKey identifies one agent's prompt for one context.
type PromptKey struct {
	AgentID string
	Context uint64
}

func (k PromptKey) less(o PromptKey) bool {
	if k.AgentID != o.AgentID {
		return k.AgentID < o.AgentID
	}
	return k.Context < o.Context
}

// Counts are the corpus sizes an injection text was assembled from.
type Counts struct {
	Memories  int
	Knowledge int
}

type promptEntry struct {
	text     string
	counts   Counts
	created  int64
	lastUsed int64
	uses     int
}

// PromptCache caches assembled injection text. An entry is served only
// while both counts stay within Tolerance of the counts it was stored with
// and it is younger than ExpiryTicks; otherwise it is dropped and the lookup
// misses. When full, the entry with the fewest uses is evicted, then the
// least recently used, then the smallest key.
type PromptCache struct {
	mu       sync.Mutex
	cfg      PromptConfig
	name     string
	observer Observer
	items    map[PromptKey]*promptEntry
}

// NewPromptCache creates an empty prompt cache.
func NewPromptCache(cfg PromptConfig, obs Observer) *PromptCache {
	d := DefaultPromptConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = d.Capacity
	}
	if cfg.Tolerance < 0 {
		cfg.Tolerance = d.Tolerance
	}
	if cfg.ExpiryTicks <= 0 {
		cfg.ExpiryTicks = d.ExpiryTicks
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &PromptCache{
		cfg:      cfg,
		name:     "prompt",
		observer: obs,
		items:    make(map[PromptKey]*promptEntry, cfg.Capacity),
	}
}

// Config returns the effective configuration.
func (c *PromptCache) Config() PromptConfig {
	return c.cfg
}

// Get returns the cached text for key if it is still valid for the current
// counts at tick now.
func (c *PromptCache) Get(key PromptKey, current Counts, now int64) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		c.observer.CacheMiss(c.name)
		return "", false
	}
	if !c.valid(e, current, now) {
		delete(c.items, key)
		c.observer.CacheEvict(c.name, EvictStale)
		c.observer.CacheMiss(c.name)
		return "", false
	}
	e.uses++
	e.lastUsed = now
	c.observer.CacheHit(c.name)
	return e.text, true
}

// Put stores text for key with the counts it was assembled from.
func (c *PromptCache) Put(key PromptKey, text string, counts Counts, now int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.items[key]; ok {
		e.text = text
		e.counts = counts
		e.created = now
		e.lastUsed = now
		return
	}
	if len(c.items) >= c.cfg.Capacity {
		c.evictLocked()
	}
	c.items[key] = &promptEntry{text: text, counts: counts, created: now, lastUsed: now}
}

// InvalidateAgent drops every entry of agentID.
func (c *PromptCache) InvalidateAgent(agentID string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k := range c.items {
		if k.AgentID == agentID {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Len returns the number of entries.
func (c *PromptCache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Clear drops every entry.
func (c *PromptCache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.items = make(map[PromptKey]*promptEntry, c.cfg.Capacity)
	c.mu.Unlock()
}

func (c *PromptCache) valid(e *promptEntry, current Counts, now int64) bool {
	if abs(current.Memories-e.counts.Memories) > c.cfg.Tolerance {
		return false
	}
	if abs(current.Knowledge-e.counts.Knowledge) > c.cfg.Tolerance {
		return false
	}
	return now-e.created < c.cfg.ExpiryTicks
}

func (c *PromptCache) evictLocked() {
	var (
		victimKey PromptKey
		victim    *promptEntry
	)
	for k, e := range c.items {
		if victim == nil || e.uses < victim.uses ||
			(e.uses == victim.uses && (e.lastUsed < victim.lastUsed ||
				(e.lastUsed == victim.lastUsed && k.less(victimKey)))) {
			victimKey, victim = k, e
		}
	}
	if victim != nil {
		delete(c.items, victimKey)
		c.observer.CacheEvict(c.name, EvictCapacity)
	}
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
