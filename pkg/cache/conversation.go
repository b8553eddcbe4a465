package cache

import (
	"math/rand"
	"sync"
)

// Observer receives cache events. metrics.Collector implements it.
type Observer interface {
	CacheHit(cache string)
	CacheMiss(cache string)
	CacheEvict(cache, reason string)
}

// Eviction reasons reported to an Observer.
const (
	EvictCapacity = "capacity"
	EvictExpired  = "expired"
	EvictStale    = "stale"
)

type nopObserver struct{}

func (nopObserver) CacheHit(string)           {}
func (nopObserver) CacheMiss(string)          {}
func (nopObserver) CacheEvict(string, string) {}

// ConversationConfig configures a ConversationCache.
type ConversationConfig struct {
	// Capacity is the maximum number of entries. Default: 256.
	Capacity int `json:"capacity" yaml:"capacity"`

	// MaxAgeTicks is the age after which an entry expires regardless of
	// use. Default: 15000 (six simulated hours).
	MaxAgeTicks int64 `json:"max_age_ticks" yaml:"max_age_ticks"`

	// CleanupProbability is the chance that a call first sweeps expired
	// entries from the tail. Default: 0.05.
	CleanupProbability float64 `json:"cleanup_probability" yaml:"cleanup_probability"`
}

// DefaultConversationConfig returns the default configuration.
func DefaultConversationConfig() ConversationConfig {
	return ConversationConfig{
		Capacity:           256,
		MaxAgeTicks:        15000,
		CleanupProbability: 0.05,
	}
}

// ConversationOption configures a ConversationCache.
type ConversationOption func(*conversationOptions)

type conversationOptions struct {
	name     string
	rand     func() float64
	observer Observer
}

// WithRand replaces the cleanup coin flip. fn returns values in [0,1).
func WithRand(fn func() float64) ConversationOption {
	return func(o *conversationOptions) {
		if fn != nil {
			o.rand = fn
		}
	}
}

// WithObserver reports hits, misses and evictions to obs.
func WithObserver(obs Observer) ConversationOption {
	return func(o *conversationOptions) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithName sets the cache name reported to the observer.
func WithName(name string) ConversationOption {
	return func(o *conversationOptions) { o.name = name }
}

type lruNode[V any] struct {
	key      Fingerprint
	value    V
	created  int64
	lastUsed int64
	uses     int
	prev     *lruNode[V]
	next     *lruNode[V]
}

// ConversationCache is a fixed-capacity LRU keyed by Fingerprint. Get, Put
// and eviction are O(1); the expiry sweep stops at the first entry that has
// not expired, so it is amortized O(1) as well.
type ConversationCache[V any] struct {
	mu    sync.Mutex
	cfg   ConversationConfig
	opts  conversationOptions
	items map[Fingerprint]*lruNode[V]
	head  *lruNode[V] // most recently used
	tail  *lruNode[V] // least recently used
}

// NewConversationCache creates an empty cache. Zero config fields take
// defaults; a negative CleanupProbability disables the sweep.
func NewConversationCache[V any](cfg ConversationConfig, opts ...ConversationOption) *ConversationCache[V] {
	d := DefaultConversationConfig()
	if cfg.Capacity <= 0 {
		cfg.Capacity = d.Capacity
	}
	if cfg.MaxAgeTicks <= 0 {
		cfg.MaxAgeTicks = d.MaxAgeTicks
	}
	if cfg.CleanupProbability == 0 {
		cfg.CleanupProbability = d.CleanupProbability
	}
	o := conversationOptions{name: "conversation", rand: rand.Float64, observer: nopObserver{}}
	for _, opt := range opts {
		opt(&o)
	}
	return &ConversationCache[V]{
		cfg:   cfg,
		opts:  o,
		items: make(map[Fingerprint]*lruNode[V], cfg.Capacity),
	}
}

// Get returns the value for key and marks it most recently used. Expired
// entries are removed and reported as misses.
func (c *ConversationCache[V]) Get(key Fingerprint, now int64) (V, bool) {
	var zero V
	if c == nil {
		return zero, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeCleanup(now)

	node, ok := c.items[key]
	if !ok {
		c.opts.observer.CacheMiss(c.opts.name)
		return zero, false
	}
	if c.expired(node, now) {
		c.unlink(node)
		c.opts.observer.CacheEvict(c.opts.name, EvictExpired)
		c.opts.observer.CacheMiss(c.opts.name)
		return zero, false
	}
	c.moveToHead(node)
	node.lastUsed = now
	node.uses++
	c.opts.observer.CacheHit(c.opts.name)
	return node.value, true
}

// Put stores value under key as the most recently used entry, evicting the
// least recently used entry when the cache is full.
func (c *ConversationCache[V]) Put(key Fingerprint, value V, now int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeCleanup(now)

	if node, ok := c.items[key]; ok {
		node.value = value
		node.created = now
		node.lastUsed = now
		c.moveToHead(node)
		return
	}
	if len(c.items) >= c.cfg.Capacity && c.tail != nil {
		c.unlink(c.tail)
		c.opts.observer.CacheEvict(c.opts.name, EvictCapacity)
	}
	node := &lruNode[V]{key: key, value: value, created: now, lastUsed: now}
	c.items[key] = node
	c.addToHead(node)
}

// Remove deletes key.
func (c *ConversationCache[V]) Remove(key Fingerprint) bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	node, ok := c.items[key]
	if ok {
		c.unlink(node)
	}
	return ok
}

// RemoveAgent deletes every entry in which agentID speaks or listens.
func (c *ConversationCache[V]) RemoveAgent(agentID string) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for key, node := range c.items {
		if key.Speaker == agentID || key.Listener == agentID {
			c.unlink(node)
			n++
		}
	}
	return n
}

// Cleanup sweeps expired entries from the tail, stopping at the first entry
// that has not expired, and returns how many were removed.
func (c *ConversationCache[V]) Cleanup(now int64) int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleanupLocked(now)
}

// Len returns the number of entries, expired ones included.
func (c *ConversationCache[V]) Len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns the keys from most to least recently used.
func (c *ConversationCache[V]) Keys() []Fingerprint {
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Fingerprint, 0, len(c.items))
	for n := c.head; n != nil; n = n.next {
		out = append(out, n.key)
	}
	return out
}

// Clear drops every entry.
func (c *ConversationCache[V]) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[Fingerprint]*lruNode[V], c.cfg.Capacity)
	c.head, c.tail = nil, nil
}

func (c *ConversationCache[V]) expired(n *lruNode[V], now int64) bool {
	return now-n.created >= c.cfg.MaxAgeTicks
}

func (c *ConversationCache[V]) maybeCleanup(now int64) {
	if c.cfg.CleanupProbability > 0 && c.opts.rand() < c.cfg.CleanupProbability {
		c.cleanupLocked(now)
	}
}

// cleanupLocked relies on stale entries clustering at the tail. An expired
// entry behind a fresh one is left for Get to drop.
func (c *ConversationCache[V]) cleanupLocked(now int64) int {
	n := 0
	for c.tail != nil && c.expired(c.tail, now) {
		c.unlink(c.tail)
		c.opts.observer.CacheEvict(c.opts.name, EvictExpired)
		n++
	}
	return n
}

func (c *ConversationCache[V]) addToHead(n *lruNode[V]) {
	n.prev = nil
	n.next = c.head
	if c.head != nil {
		c.head.prev = n
	}
	c.head = n
	if c.tail == nil {
		c.tail = n
	}
}

func (c *ConversationCache[V]) removeNode(n *lruNode[V]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nil, nil
}

func (c *ConversationCache[V]) moveToHead(n *lruNode[V]) {
	if n == c.head {
		return
	}
	c.removeNode(n)
	c.addToHead(n)
}

func (c *ConversationCache[V]) unlink(n *lruNode[V]) {
	c.removeNode(n)
	delete(c.items, n.key)
}
