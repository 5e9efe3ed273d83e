package cache

import (
	"testing"
	"time"
)

func TestResultCache_GetSetPurge(t *testing.T) {
	c := New(4, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Fatalf("expected miss for unknown fingerprint")
	}

	c.Set("fp-1", []byte("payload"))
	payload, ok := c.Get("fp-1")
	if !ok || string(payload) != "payload" {
		t.Fatalf("expected cached payload, got %q ok=%v", payload, ok)
	}

	c.Purge()
	if c.Len() != 0 {
		t.Fatalf("expected empty cache after purge, got %d entries", c.Len())
	}
}

func TestResultCache_Expiry(t *testing.T) {
	c := New(4, 10*time.Millisecond)

	c.Set("fp-1", []byte("payload"))
	time.Sleep(30 * time.Millisecond)
	if _, ok := c.Get("fp-1"); ok {
		t.Fatalf("expected entry to expire")
	}
}

func TestResultCache_EvictsAtCapacity(t *testing.T) {
	c := New(2, time.Minute)

	c.Set("a", []byte("1"))
	c.Set("b", []byte("2"))
	c.Set("c", []byte("3"))
	if c.Len() != 2 {
		t.Fatalf("expected capacity bound of 2, got %d", c.Len())
	}
}
