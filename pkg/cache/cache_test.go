package cache_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/oceanbase/colonymem/pkg/cache"
	"github.com/oceanbase/colonymem/pkg/host"
)

type countingObserver struct {
	hits, misses int
	evictions    map[string]int
}

func newCountingObserver() *countingObserver {
	return &countingObserver{evictions: map[string]int{}}
}

func (o *countingObserver) CacheHit(string)              { o.hits++ }
func (o *countingObserver) CacheMiss(string)             { o.misses++ }
func (o *countingObserver) CacheEvict(_, reason string) { o.evictions[reason]++ }

func fp(speaker string) cache.Fingerprint {
	return cache.Fingerprint{Speaker: speaker, Listener: "bob"}
}

func noSweep() cache.ConversationConfig {
	return cache.ConversationConfig{Capacity: 2, MaxAgeTicks: 1 << 40, CleanupProbability: -1}
}

func TestConversationEvictsLeastRecentlyUsed(t *testing.T) {
	obs := newCountingObserver()
	c := cache.NewConversationCache[string](noSweep(), cache.WithObserver(obs))

	c.Put(fp("a"), "A", 1)
	c.Put(fp("b"), "B", 2)
	_, ok := c.Get(fp("a"), 3)
	require.True(t, ok)

	c.Put(fp("c"), "C", 4)
	_, ok = c.Get(fp("b"), 5)
	assert.False(t, ok)
	v, ok := c.Get(fp("a"), 6)
	assert.True(t, ok)
	assert.Equal(t, "A", v)
	assert.Equal(t, []cache.Fingerprint{fp("a"), fp("c")}, c.Keys())

	assert.Equal(t, 2, obs.hits)
	assert.Equal(t, 1, obs.misses)
	assert.Equal(t, 1, obs.evictions[cache.EvictCapacity])
}

func TestConversationExpiry(t *testing.T) {
	cfg := cache.ConversationConfig{Capacity: 10, MaxAgeTicks: 100, CleanupProbability: -1}
	c := cache.NewConversationCache[int](cfg)

	c.Put(fp("a"), 1, 0)
	c.Put(fp("b"), 2, 50)
	c.Put(fp("c"), 3, 120)

	_, ok := c.Get(fp("a"), 100)
	assert.False(t, ok, "expired entries miss")
	assert.Equal(t, 2, c.Len())

	assert.Equal(t, 1, c.Cleanup(160))
	assert.Equal(t, []cache.Fingerprint{fp("c")}, c.Keys())
}

func TestConversationCleanupStopsAtFreshEntry(t *testing.T) {
	cfg := cache.ConversationConfig{Capacity: 10, MaxAgeTicks: 100, CleanupProbability: -1}
	c := cache.NewConversationCache[int](cfg)
	c.Put(fp("old"), 1, 0)
	c.Put(fp("fresh"), 2, 90)
	c.Put(fp("older"), 3, 0)
	// Move "old" to the head; "fresh" becomes the tail.
	_, ok := c.Get(fp("old"), 10)
	require.True(t, ok)
	_, ok = c.Get(fp("older"), 10)
	require.True(t, ok)

	assert.Equal(t, 0, c.Cleanup(150))
	assert.Equal(t, 3, c.Len())
}

func TestConversationProbabilisticCleanup(t *testing.T) {
	cfg := cache.ConversationConfig{Capacity: 10, MaxAgeTicks: 10, CleanupProbability: 0.5}
	roll := 0.9
	c := cache.NewConversationCache[int](cfg, cache.WithRand(func() float64 { return roll }))
	c.Put(fp("a"), 1, 0)
	c.Put(fp("b"), 2, 0)

	c.Put(fp("c"), 3, 20)
	assert.Equal(t, 3, c.Len())

	roll = 0.1
	c.Put(fp("d"), 4, 21)
	assert.Equal(t, []cache.Fingerprint{fp("d"), fp("c")}, c.Keys())
}

func TestConversationRemoveAgent(t *testing.T) {
	c := cache.NewConversationCache[int](cache.ConversationConfig{Capacity: 10, CleanupProbability: -1})
	c.Put(cache.Fingerprint{Speaker: "a", Listener: "b"}, 1, 0)
	c.Put(cache.Fingerprint{Speaker: "b", Listener: "a"}, 2, 0)
	c.Put(cache.Fingerprint{Speaker: "c", Listener: "d"}, 3, 0)
	assert.Equal(t, 2, c.RemoveAgent("a"))
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Remove(cache.Fingerprint{Speaker: "c", Listener: "d"}))
	assert.False(t, c.Remove(cache.Fingerprint{Speaker: "c", Listener: "d"}))

	var nilCache *cache.ConversationCache[int]
	_, ok := nilCache.Get(fp("a"), 0)
	assert.False(t, ok)
	nilCache.Put(fp("a"), 1, 0)
	assert.Equal(t, 0, nilCache.Len())
}

// The cache must behave like a list ordered by recency, truncated at
// capacity.
func TestConversationLRUProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		capacity := rapid.IntRange(1, 5).Draw(t, "capacity")
		c := cache.NewConversationCache[int](cache.ConversationConfig{
			Capacity: capacity, MaxAgeTicks: 1 << 40, CleanupProbability: -1,
		})
		var model []string // most recent first
		values := map[string]int{}

		touch := func(k string) {
			for i, m := range model {
				if m == k {
					model = append(model[:i], model[i+1:]...)
					break
				}
			}
			model = append([]string{k}, model...)
		}

		steps := rapid.IntRange(1, 60).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			k := fmt.Sprintf("k%d", rapid.IntRange(0, 7).Draw(t, "key"))
			if rapid.Bool().Draw(t, "put") {
				c.Put(fp(k), i, int64(i))
				values[k] = i
				touch(k)
				if len(model) > capacity {
					delete(values, model[len(model)-1])
					model = model[:capacity]
				}
				continue
			}
			v, ok := c.Get(fp(k), int64(i))
			want, present := values[k]
			if ok != present {
				t.Fatalf("get %s: ok=%v, model present=%v", k, ok, present)
			}
			if ok {
				if v != want {
					t.Fatalf("get %s = %d, want %d", k, v, want)
				}
				touch(k)
			}
		}

		keys := c.Keys()
		if len(keys) != len(model) {
			t.Fatalf("len %d, model %d", len(keys), len(model))
		}
		for i, k := range keys {
			if k.Speaker != model[i] {
				t.Fatalf("position %d: %s, model %s", i, k.Speaker, model[i])
			}
		}
	})
}

func TestPromptCacheHitAndTolerance(t *testing.T) {
	obs := newCountingObserver()
	c := cache.NewPromptCache(cache.DefaultPromptConfig(), obs)
	key := cache.PromptKey{AgentID: "a1", Context: cache.ContextFingerprint("the raid at dawn", 0)}

	_, ok := c.Get(key, cache.Counts{Memories: 10, Knowledge: 4}, 0)
	assert.False(t, ok)
	c.Put(key, "block", cache.Counts{Memories: 10, Knowledge: 4}, 0)

	text, ok := c.Get(key, cache.Counts{Memories: 10, Knowledge: 4}, 1)
	assert.True(t, ok)
	assert.Equal(t, "block", text)

	_, ok = c.Get(key, cache.Counts{Memories: 13, Knowledge: 1}, 2)
	assert.True(t, ok, "deltas of exactly the tolerance stay valid")

	_, ok = c.Get(key, cache.Counts{Memories: 14, Knowledge: 4}, 3)
	assert.False(t, ok)
	assert.Equal(t, 0, c.Len(), "out-of-tolerance entries are dropped")
	assert.Equal(t, 1, obs.evictions[cache.EvictStale])
}

func TestPromptCacheExpiry(t *testing.T) {
	c := cache.NewPromptCache(cache.PromptConfig{ExpiryTicks: 100, Tolerance: 3}, nil)
	key := cache.PromptKey{AgentID: "a1", Context: 7}
	c.Put(key, "block", cache.Counts{}, 0)
	_, ok := c.Get(key, cache.Counts{}, 99)
	assert.True(t, ok)
	_, ok = c.Get(key, cache.Counts{}, 100)
	assert.False(t, ok)
}

func TestPromptCacheEviction(t *testing.T) {
	c := cache.NewPromptCache(cache.PromptConfig{Capacity: 3, Tolerance: 3, ExpiryTicks: 1000}, nil)
	k := func(id string) cache.PromptKey { return cache.PromptKey{AgentID: id} }
	c.Put(k("a"), "A", cache.Counts{}, 0)
	c.Put(k("b"), "B", cache.Counts{}, 0)
	c.Put(k("c"), "C", cache.Counts{}, 0)
	_, _ = c.Get(k("a"), cache.Counts{}, 5)
	_, _ = c.Get(k("c"), cache.Counts{}, 6)

	c.Put(k("d"), "D", cache.Counts{}, 7)
	_, ok := c.Get(k("b"), cache.Counts{}, 8)
	assert.False(t, ok, "least used entry goes first")

	// a and c have one use each, d has none.
	c.Put(k("e"), "E", cache.Counts{}, 9)
	_, ok = c.Get(k("d"), cache.Counts{}, 10)
	assert.False(t, ok)

	// a (used at 5) is older than c (used at 6).
	_, _ = c.Get(k("e"), cache.Counts{}, 11)
	c.Put(k("f"), "F", cache.Counts{}, 12)
	_, ok = c.Get(k("f"), cache.Counts{}, 13)
	assert.True(t, ok)
	_, ok = c.Get(k("a"), cache.Counts{}, 14)
	assert.False(t, ok)
}

func TestPromptCacheTieBreaksOnKey(t *testing.T) {
	c := cache.NewPromptCache(cache.PromptConfig{Capacity: 2, Tolerance: 3, ExpiryTicks: 1000}, nil)
	c.Put(cache.PromptKey{AgentID: "b"}, "B", cache.Counts{}, 0)
	c.Put(cache.PromptKey{AgentID: "a"}, "A", cache.Counts{}, 0)
	c.Put(cache.PromptKey{AgentID: "c"}, "C", cache.Counts{}, 0)

	_, ok := c.Get(cache.PromptKey{AgentID: "a"}, cache.Counts{}, 1)
	assert.False(t, ok)
	_, ok = c.Get(cache.PromptKey{AgentID: "b"}, cache.Counts{}, 1)
	assert.True(t, ok)
	assert.Equal(t, 1, c.InvalidateAgent("b"))
}

func TestPromptCacheMissPutHitProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := cache.NewPromptCache(cache.DefaultPromptConfig(), nil)
		key := cache.PromptKey{
			AgentID: rapid.StringMatching(`[a-z]{1,6}`).Draw(t, "agent"),
			Context: rapid.Uint64().Draw(t, "ctx"),
		}
		counts := cache.Counts{
			Memories:  rapid.IntRange(0, 500).Draw(t, "mem"),
			Knowledge: rapid.IntRange(0, 500).Draw(t, "know"),
		}
		now := rapid.Int64Range(0, 1<<40).Draw(t, "now")
		if _, ok := c.Get(key, counts, now); ok {
			t.Fatal("empty cache hit")
		}
		c.Put(key, "text", counts, now)
		if got, ok := c.Get(key, counts, now); !ok || got != "text" {
			t.Fatalf("immediate lookup missed")
		}
		drift := rapid.IntRange(4, 50).Draw(t, "drift")
		if _, ok := c.Get(key, cache.Counts{Memories: counts.Memories + drift, Knowledge: counts.Knowledge}, now); ok {
			t.Fatalf("drift %d beyond tolerance still hit", drift)
		}
	})
}

func TestFingerprints(t *testing.T) {
	assert.Equal(t, cache.ContextFingerprint("The RAID at dawn!", 0), cache.ContextFingerprint("raid dawn", 0))
	assert.NotEqual(t, cache.ContextFingerprint("raid at dawn", 0), cache.ContextFingerprint("feast at dusk", 0))

	assert.Equal(t, 0, cache.MoodBucket(-1))
	assert.Equal(t, 2, cache.MoodBucket(0.5))
	assert.Equal(t, 4, cache.MoodBucket(1))
	assert.Equal(t, -2, cache.OpinionBucket(-100))
	assert.Equal(t, 0, cache.OpinionBucket(10))
	assert.Equal(t, 2, cache.OpinionBucket(80))

	h := host.NewStatic()
	h.Moods["alice"] = 0.92
	h.SetRelationship("alice", "bob", host.Relationship{Kind: host.RelationFamily, Opinion: 45})
	got := cache.FingerprintFor(h, "alice", "bob")
	assert.Equal(t, cache.Fingerprint{Speaker: "alice", Listener: "bob", MoodBucket: 4, RelationBucket: 1}, got)

	// Small mood changes keep the key.
	h.Moods["alice"] = 0.85
	assert.Equal(t, got, cache.FingerprintFor(h, "alice", "bob"))

	assert.Equal(t, cache.Fingerprint{Speaker: "x", Listener: "y", MoodBucket: 2}, cache.FingerprintFor(nil, "x", "y"))
}
