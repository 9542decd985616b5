package cache

import (
	"testing"
	"time"
)

func TestStoreSetGet(t *testing.T) {
	s := New()

	s.Set("mx:example.com", []string{"mx1", "mx2"}, time.Minute)

	val, ok := s.Get("mx:example.com")
	if !ok {
		t.Fatal("expected a hit")
	}
	hosts := val.([]string)
	if len(hosts) != 2 || hosts[0] != "mx1" {
		t.Errorf("got %v", hosts)
	}

	if _, ok := s.Get("mx:other.com"); ok {
		t.Error("miss returned a value")
	}
}

func TestStoreExpiry(t *testing.T) {
	s := New()

	s.Set("k", "v", 10*time.Millisecond)
	if _, ok := s.Get("k"); !ok {
		t.Fatal("fresh entry missing")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := s.Get("k"); ok {
		t.Error("expired entry still served")
	}

	// Expired but unswept entries still count until Cleanup runs.
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
	if removed := s.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	if s.Len() != 0 {
		t.Errorf("Len() after sweep = %d, want 0", s.Len())
	}
}

func TestStoreOverwrite(t *testing.T) {
	s := New()

	s.Set("k", 1, time.Minute)
	s.Set("k", 2, time.Minute)

	val, ok := s.Get("k")
	if !ok || val.(int) != 2 {
		t.Errorf("got %v, %v; want 2, true", val, ok)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}
