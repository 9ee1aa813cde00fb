package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)
	c.Set("a", "1")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss")
	}
	c.Delete("a")
	if c.Size() != 0 {
		t.Fatalf("Size = %d after delete", c.Size())
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache[int](2, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a")
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Fatalf("a was recently used and should remain")
	}
	if c.Size() != 2 {
		t.Fatalf("Size = %d, want 2", c.Size())
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	c := NewLRUCache[int](10, time.Hour).WithClock(clock.Now)

	c.Set("ttl", 1)
	c.SetUntil("short", 2, clock.Now().Add(time.Minute))
	c.SetUntil("long", 3, clock.Now().Add(48*time.Hour))

	clock.Advance(2 * time.Minute)
	if _, ok := c.Get("short"); ok {
		t.Fatalf("short should have expired")
	}
	if _, ok := c.Get("ttl"); !ok {
		t.Fatalf("ttl entry should still be live")
	}

	clock.Advance(time.Hour)
	if n := c.CleanExpired(); n != 2 {
		t.Fatalf("CleanExpired = %d, want 2 (expiry capped at ttl)", n)
	}
	if c.Size() != 0 {
		t.Fatalf("Size = %d, want 0", c.Size())
	}
}

func TestJanitor_Sweep(t *testing.T) {
	clock := &fakeClock{t: time.Now()}
	a := NewLRUCache[int](10, time.Second).WithClock(clock.Now)
	b := NewLRUCache[string](10, time.Second).WithClock(clock.Now)
	a.Set("x", 1)
	b.Set("y", "z")

	j := NewJanitor(nil)
	j.Register(a)
	j.Register(b)
	j.Start(time.Hour)
	defer j.Stop()

	clock.Advance(2 * time.Second)
	if n := j.Sweep(); n != 2 {
		t.Fatalf("Sweep = %d, want 2", n)
	}
}
