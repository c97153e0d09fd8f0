package cache

import (
	"testing"
	"time"
)

func TestLRUGetSet(t *testing.T) {
	c := NewLRU[int](10, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("Get on empty cache returned ok")
	}

	c.Set("a", 1)
	if v, ok := c.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = %d, %v", v, ok)
	}

	c.Set("a", 2)
	if v, _ := c.Get("a"); v != 2 {
		t.Errorf("Get(a) after overwrite = %d, want 2", v)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestLRUEvictsOldest(t *testing.T) {
	c := NewLRU[int](2, time.Minute)

	c.Set("a", 1)
	c.Set("b", 2)
	c.Get("a") // a is now most recently used
	c.Set("c", 3)

	if _, ok := c.Get("b"); ok {
		t.Error("b survived eviction, expected it to be dropped")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a was evicted despite being recently used")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c missing after insert")
	}
}

func TestLRUExpiry(t *testing.T) {
	c := NewLRU[int](10, time.Nanosecond)

	c.Set("a", 1)
	time.Sleep(time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expired entry still readable")
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d after expired read, want 0", c.Len())
	}
}

func TestLRUCleanExpired(t *testing.T) {
	c := NewLRU[int](10, time.Nanosecond)
	c.Set("a", 1)
	c.Set("b", 2)
	time.Sleep(time.Millisecond)

	if n := c.CleanExpired(); n != 2 {
		t.Errorf("CleanExpired() = %d, want 2", n)
	}
	if c.Len() != 0 {
		t.Errorf("Len() = %d, want 0", c.Len())
	}
}

func TestLRUPurge(t *testing.T) {
	c := NewLRU[int](10, time.Minute)
	c.Set("a", 1)
	c.Set("b", 2)

	c.Purge()

	if c.Len() != 0 {
		t.Errorf("Len() = %d after purge, want 0", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Error("purged entry still readable")
	}

	// cache remains usable after purge
	c.Set("c", 3)
	if v, ok := c.Get("c"); !ok || v != 3 {
		t.Errorf("Get(c) = %d, %v after purge", v, ok)
	}
}
