package rate

import (
	"fmt"
	"testing"
	"time"
)

func TestMemoryLimiterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if ok, _ := m.Allow("alice:post_link", 3, time.Minute); !ok {
			t.Fatalf("expected call %d allowed", i)
		}
	}
	ok, retry := m.Allow("alice:post_link", 3, time.Minute)
	if ok {
		t.Fatalf("expected fourth call limited")
	}
	if retry != time.Minute {
		t.Fatalf("expected retry after 1m, got %s", retry)
	}
	if ok, _ := m.Allow("bob:post_link", 3, time.Minute); !ok {
		t.Fatalf("expected other key unaffected")
	}

	now = now.Add(time.Minute + time.Second)
	if ok, _ := m.Allow("alice:post_link", 3, time.Minute); !ok {
		t.Fatalf("expected window reset")
	}
	if len(m.store) != 1 {
		t.Fatalf("expected expired buckets swept, %d left", len(m.store))
	}
}

func TestMemoryLimiterSweepsExpiredBuckets(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewMemory()
	m.now = func() time.Time { return now }

	for i := 0; i < 50; i++ {
		m.Allow(fmt.Sprintf("signer-%d:upvote_post", i), 5, 10*time.Second)
	}
	if len(m.store) != 50 {
		t.Fatalf("expected 50 buckets, got %d", len(m.store))
	}

	// Windows have passed but the sweep is not due yet.
	now = now.Add(30 * time.Second)
	m.Allow("late:upvote_post", 5, 10*time.Second)
	if len(m.store) != 51 {
		t.Fatalf("expected no sweep before the interval, got %d buckets", len(m.store))
	}

	now = now.Add(sweepInterval)
	m.Allow("later:upvote_post", 5, 10*time.Second)
	if len(m.store) != 1 {
		t.Fatalf("expected only the fresh bucket to survive, got %d", len(m.store))
	}
	if _, ok := m.store["later:upvote_post"]; !ok {
		t.Fatalf("expected the fresh bucket kept")
	}
}

func TestMemoryLimiterDisabled(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 100; i++ {
		if ok, _ := m.Allow("k", 0, time.Minute); !ok {
			t.Fatalf("expected zero limit to disable limiting")
		}
	}
}
