package httpadapter

import (
	"testing"
	"time"
)

func TestClientLimiterEviction(t *testing.T) {
	cl := newClientLimiter(1, 1)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	cl.now = func() time.Time { return base }

	cl.get("198.51.100.1")
	cl.get("198.51.100.2")
	if len(cl.clients) != 2 {
		t.Fatalf("want 2 buckets, got %d", len(cl.clients))
	}

	// A bucket touched within the TTL survives the sweep.
	cl.now = func() time.Time { return base.Add(limiterIdleTTL / 2) }
	cl.get("198.51.100.2")

	cl.now = func() time.Time { return base.Add(limiterIdleTTL + time.Minute) }
	cl.get("198.51.100.3")
	if len(cl.clients) != 2 {
		t.Fatalf("idle bucket not reaped: %d buckets", len(cl.clients))
	}
	if _, ok := cl.clients["198.51.100.1"]; ok {
		t.Fatal("stale bucket survived the sweep")
	}
	if _, ok := cl.clients["198.51.100.2"]; !ok {
		t.Fatal("recently seen bucket was reaped")
	}
}

func TestClientLimiterKeepsStatePerAddress(t *testing.T) {
	cl := newClientLimiter(1, 1)
	cl.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }

	if !cl.get("198.51.100.1").Allow() {
		t.Fatal("first request should pass")
	}
	if cl.get("198.51.100.1").Allow() {
		t.Fatal("burst exhausted, second request should be limited")
	}
	// A different address gets its own bucket.
	if !cl.get("198.51.100.2").Allow() {
		t.Fatal("other clients must not share the bucket")
	}
}
