package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestGetSet(t *testing.T) {
	clock := newClock()
	c := New[string](Options{TTL: time.Second, Now: clock.Now})

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss on empty cache")
	}

	c.Set("k", "v")
	if v, ok := c.Get("k"); !ok || v != "v" {
		t.Fatalf("Get = %q, %v", v, ok)
	}
}

func TestExpiryAtBoundary(t *testing.T) {
	clock := newClock()
	c := New[int](Options{TTL: 100 * time.Millisecond, Now: clock.Now})
	c.Set("k", 1)

	clock.Advance(99 * time.Millisecond)
	if _, ok := c.Get("k"); !ok {
		t.Fatal("entry should be valid just before ttl")
	}

	clock.Advance(1 * time.Millisecond)
	if _, ok := c.Get("k"); ok {
		t.Fatal("entry should be absent at exactly ttl")
	}
}

func TestExpiredGetEvicts(t *testing.T) {
	clock := newClock()
	c := New[int](Options{TTL: time.Second, Now: clock.Now})
	c.Set("a", 1)
	c.Set("b", 2)

	clock.Advance(2 * time.Second)
	if c.Len() != 2 {
		t.Fatalf("Len before read = %d, want 2", c.Len())
	}

	for i := 0; i < 5; i++ {
		c.Get("a")
	}
	if c.Len() != 1 {
		t.Errorf("Len after expired read = %d, want 1", c.Len())
	}

	if n := c.Prune(); n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len after prune = %d, want 0", c.Len())
	}
}

func TestStaleEvictionKeepsFreshEntry(t *testing.T) {
	clock := newClock()
	c := New[int](Options{TTL: time.Second, Now: clock.Now})
	c.Set("k", 1)
	old, _ := c.entries.Peek("k")

	// a Set lands between the expired read and its eviction
	clock.Advance(2 * time.Second)
	c.Set("k", 2)

	if c.evictStale("k", old.ts) {
		t.Fatal("eviction removed an entry written after the expired read")
	}
	if v, ok := c.Get("k"); !ok || v != 2 {
		t.Errorf("Get = %d, %v, want the fresh value", v, ok)
	}

	clock.Advance(2 * time.Second)
	cur, _ := c.entries.Peek("k")
	if !c.evictStale("k", cur.ts) || c.Len() != 0 {
		t.Error("matching stale entry was not evicted")
	}
}

func TestSetOverwritesTimestamp(t *testing.T) {
	clock := newClock()
	c := New[string](Options{TTL: time.Second, Now: clock.Now})

	c.Set("k", "old")
	clock.Advance(900 * time.Millisecond)
	c.Set("k", "new")
	clock.Advance(900 * time.Millisecond)

	v, ok := c.Get("k")
	if !ok || v != "new" {
		t.Errorf("Get = %q, %v; want fresh overwritten value", v, ok)
	}
}

func TestClearAndDelete(t *testing.T) {
	c := New[int](Options{})
	c.Set("a", 1)
	c.Set("b", 2)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("deleted key still present")
	}
	c.Clear()
	if c.Len() != 0 {
		t.Errorf("Len after Clear = %d", c.Len())
	}
}

func TestMaxEntriesBound(t *testing.T) {
	c := New[int](Options{MaxEntries: 3})
	for i := 0; i < 10; i++ {
		c.Set(fmt.Sprintf("k%d", i), i)
	}
	if c.Len() != 3 {
		t.Errorf("Len = %d, want 3", c.Len())
	}
	if _, ok := c.Get("k9"); !ok {
		t.Error("most recent key should survive")
	}
}

func TestSetTTLAppliesToExisting(t *testing.T) {
	clock := newClock()
	c := New[int](Options{TTL: time.Minute, Now: clock.Now})
	c.Set("k", 1)
	clock.Advance(10 * time.Second)

	c.SetTTL(5 * time.Second)
	if _, ok := c.Get("k"); ok {
		t.Error("shorter ttl should expire the entry")
	}
	if c.TTL() != 5*time.Second {
		t.Errorf("TTL = %v", c.TTL())
	}

	c.SetTTL(0)
	if c.TTL() != 5*time.Second {
		t.Error("non-positive ttl should be ignored")
	}
}

func TestGetOrLoad(t *testing.T) {
	c := New[string](Options{})
	calls := 0
	load := func(ctx context.Context) (string, error) {
		calls++
		return "loaded", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(context.Background(), "k", load)
		if err != nil || v != "loaded" {
			t.Fatalf("GetOrLoad = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}

	boom := errors.New("boom")
	_, err := c.GetOrLoad(context.Background(), "bad", func(ctx context.Context) (string, error) {
		return "", boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("failed load should not be cached")
	}
}

func TestOnAccess(t *testing.T) {
	c := New[int](Options{})
	var hits, misses int
	c.OnAccess(func(string) { hits++ }, func(string) { misses++ })

	c.Get("k")
	c.Set("k", 1)
	c.Get("k")
	if hits != 1 || misses != 1 {
		t.Errorf("hits=%d misses=%d", hits, misses)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := New[int](Options{})
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := fmt.Sprintf("k%d", j%10)
				c.Set(key, n)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
	if c.Len() != 10 {
		t.Errorf("Len = %d, want 10", c.Len())
	}
}
