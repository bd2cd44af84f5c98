package querycache

import (
	"fmt"
	"testing"
	"time"
)

// newTestCache returns a cache whose clock is controlled by the returned
// advance function.
func newTestCache(t *testing.T, cfg Config) (*Cache, func(d time.Duration)) {
	t.Helper()
	c := New(cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	return c, func(d time.Duration) { now = now.Add(d) }
}

func TestKey_DeterministicAndNormalized(t *testing.T) {
	a := Key("SELECT * FROM posts WHERE slug = ?", []any{"hello"})
	b := Key("select *   from posts\nwhere slug = ?", []any{"hello"})
	if a != b {
		t.Fatalf("normalized statements should share a key: %s vs %s", a, b)
	}
	c := Key("SELECT * FROM posts WHERE slug = ?", []any{"other"})
	if a == c {
		t.Fatalf("different params must not collide")
	}
	if Key("SELECT 1", nil) != Key("SELECT 1", nil) {
		t.Fatalf("key must be deterministic")
	}
}

func TestGetSet_RoundTrip(t *testing.T) {
	c, _ := newTestCache(t, Config{})

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for absent key")
	}
	c.Set("k1", "v1", time.Minute, "posts")
	got, ok := c.Get("k1")
	if !ok || got.(string) != "v1" {
		t.Fatalf("expected hit with v1, got %v ok=%v", got, ok)
	}
}

func TestGet_TTLBoundary(t *testing.T) {
	c, advance := newTestCache(t, Config{})
	c.Set("k", "v", 5000*time.Millisecond)

	advance(4999 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("entry must still be served at t=4999ms")
	}

	advance(2 * time.Millisecond) // t=5001ms
	if _, ok := c.Get("k"); ok {
		t.Fatalf("entry must be absent at t=5001ms")
	}

	// Lazy expiry: the row is still physically present.
	c.mu.Lock()
	_, present := c.entries["k"]
	c.mu.Unlock()
	if !present {
		t.Fatalf("expired entry should not be deleted eagerly")
	}
}

func TestSet_ResetsTTLOnOverwrite(t *testing.T) {
	c, advance := newTestCache(t, Config{})
	c.Set("k", "old", time.Second)
	advance(900 * time.Millisecond)
	c.Set("k", "new", time.Second)
	advance(900 * time.Millisecond)

	got, ok := c.Get("k")
	if !ok || got.(string) != "new" {
		t.Fatalf("overwrite should reset TTL and value, got %v ok=%v", got, ok)
	}
}

func TestInvalidate_ByTagAndKeySubstring(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	c.Set("posts:list:1", "a", time.Minute, "posts")
	c.Set("posts:get:hello", "b", time.Minute, "posts")
	c.Set("flights:list", "c", time.Minute, "flights")

	if n := c.Invalidate("posts"); n != 2 {
		t.Fatalf("expected 2 invalidated, got %d", n)
	}
	if _, ok := c.Get("posts:list:1"); ok {
		t.Fatalf("stale posts entry survived invalidation")
	}
	if _, ok := c.Get("flights:list"); !ok {
		t.Fatalf("unrelated entry must survive invalidation")
	}

	// Tag match also works when the key itself carries no table hint.
	c.Set("deadbeef", "d", time.Minute, "flights")
	if n := c.Invalidate("flights"); n != 2 {
		t.Fatalf("expected 2 invalidated via tag, got %d", n)
	}
}

func TestInvalidate_EmptyPatternIsNoop(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	c.Set("k", "v", time.Minute)
	if n := c.Invalidate(""); n != 0 {
		t.Fatalf("empty pattern must remove nothing, removed %d", n)
	}
}

func TestEviction_OldestInsertedFirst(t *testing.T) {
	c, _ := newTestCache(t, Config{Capacity: 3})
	for i := 1; i <= 3; i++ {
		c.Set(fmt.Sprintf("k%d", i), i, time.Minute)
	}
	// Touching k1 must not protect it: eviction is insertion-order, not LRU.
	if _, ok := c.Get("k1"); !ok {
		t.Fatalf("k1 should be present before overflow")
	}

	c.Set("k4", 4, time.Minute)
	if _, ok := c.Get("k1"); ok {
		t.Fatalf("k1 should have been evicted as the oldest insertion")
	}
	for _, k := range []string{"k2", "k3", "k4"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s should have survived eviction", k)
		}
	}

	st := c.Stats()
	if st.Size != 3 || st.Evictions != 1 {
		t.Fatalf("unexpected stats after eviction: %+v", st)
	}
}

func TestEviction_SkipsKeysRemovedByInvalidate(t *testing.T) {
	c, _ := newTestCache(t, Config{Capacity: 2})
	c.Set("a", 1, time.Minute, "posts")
	c.Set("b", 2, time.Minute, "flights")
	c.Invalidate("posts") // leaves "a" stale in the order slice

	c.Set("c", 3, time.Minute)
	c.Set("d", 4, time.Minute) // overflow: must evict "b", not the stale "a"

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	for _, k := range []string{"c", "d"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s should be present", k)
		}
	}
}

func TestInvalidate_CompactsEvictionOrder(t *testing.T) {
	c, _ := newTestCache(t, Config{Capacity: 100})

	// A steady set-then-invalidate workload never reaches capacity, so the
	// order slice must be reclaimed by Invalidate itself.
	for i := 0; i < 1000; i++ {
		c.Set(fmt.Sprintf("posts:list:%d", i), i, time.Minute, "posts")
		c.Invalidate("posts")
	}

	c.mu.Lock()
	entries, order := len(c.entries), len(c.order)
	c.mu.Unlock()
	if entries != 0 {
		t.Fatalf("every entry was invalidated, %d remain", entries)
	}
	if order > 2 {
		t.Fatalf("eviction order must shrink with the live set, %d stale keys retained", order)
	}
}

func TestInvalidate_CompactionPreservesEvictionOrder(t *testing.T) {
	c, _ := newTestCache(t, Config{Capacity: 3})
	c.Set("a", 1, time.Minute, "posts")
	c.Set("b", 2, time.Minute, "flights")
	c.Set("c", 3, time.Minute, "posts")
	c.Invalidate("posts") // compacts: only "b" survives

	c.Set("d", 4, time.Minute)
	c.Set("e", 5, time.Minute)
	c.Set("f", 6, time.Minute) // overflow: "b" is still the oldest insertion

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted first after compaction")
	}
	for _, k := range []string{"d", "e", "f"} {
		if _, ok := c.Get(k); !ok {
			t.Fatalf("%s should be present", k)
		}
	}
}

func TestClear_EmptiesButKeepsCounters(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	c.Set("k", "v", time.Minute)
	if _, ok := c.Get("k"); !ok {
		t.Fatalf("expected hit before clear")
	}
	c.Clear()
	if _, ok := c.Get("k"); ok {
		t.Fatalf("expected miss after clear")
	}
	st := c.Stats()
	if st.Size != 0 || st.Hits != 1 || st.Misses != 1 {
		t.Fatalf("unexpected stats after clear: %+v", st)
	}
}

func TestStats_HitRate(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	if got := c.Stats().HitRate; got != 0 {
		t.Fatalf("hit rate with no lookups should be 0, got %f", got)
	}
	c.Set("k", "v", time.Minute)
	c.Get("k")
	c.Get("k")
	c.Get("missing")
	st := c.Stats()
	if st.Hits != 2 || st.Misses != 1 {
		t.Fatalf("unexpected counters: %+v", st)
	}
	if st.HitRate < 0.66 || st.HitRate > 0.67 {
		t.Fatalf("expected hit rate ~0.667, got %f", st.HitRate)
	}
}

func TestTagBreakdown(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	c.Set("a", 1, time.Minute, "posts")
	c.Set("b", 2, time.Minute, "posts")
	c.Set("c", 3, time.Minute, "flights")

	bd := c.TagBreakdown()
	if bd["posts"] != 2 || bd["flights"] != 1 {
		t.Fatalf("unexpected breakdown: %v", bd)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	c := New(Config{Capacity: 64})
	done := make(chan struct{})
	for g := 0; g < 8; g++ {
		go func(g int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%32)
				c.Set(key, i, time.Minute, "posts")
				c.Get(key)
				if i%50 == 0 {
					c.Invalidate("posts")
				}
			}
		}(g)
	}
	for g := 0; g < 8; g++ {
		<-done
	}
	// No assertion beyond absence of data races; run with -race.
	_ = c.Stats()
}
