package transport

import (
	"testing"
	"time"
)

func TestRateLimiter_FixedWindow(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	r := NewRateLimiter(3, time.Minute)
	r.now = func() time.Time { return clock }

	for i := 0; i < 3; i++ {
		if ok, _ := r.Allow("u"); !ok {
			t.Fatalf("request %d rejected", i)
		}
	}

	clock = base.Add(20 * time.Second)
	ok, retry := r.Allow("u")
	if ok {
		t.Fatal("fourth request allowed")
	}
	if retry != 40*time.Second {
		t.Errorf("retry = %v, want 40s", retry)
	}

	clock = base.Add(time.Minute)
	if ok, _ := r.Allow("u"); !ok {
		t.Error("request after window reset rejected")
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	r := NewRateLimiter(1, time.Minute)
	r.now = func() time.Time { return clock }

	r.Allow("a")
	clock = base.Add(30 * time.Second)
	r.Allow("b")

	clock = base.Add(70 * time.Second)
	if removed := r.Cleanup(); removed != 1 {
		t.Errorf("Cleanup() = %d, want 1", removed)
	}
	if r.Count() != 1 {
		t.Errorf("Count() = %d, want 1", r.Count())
	}
}

func TestRateLimiter_Disabled(t *testing.T) {
	r := NewRateLimiter(0, time.Minute)
	for i := 0; i < 100; i++ {
		if ok, _ := r.Allow("u"); !ok {
			t.Fatal("disabled limiter rejected a request")
		}
	}
	if r.Count() != 0 {
		t.Error("disabled limiter tracked keys")
	}
}
