package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestMemory(opts ...MemoryOption) (*MemoryStore, *fakeClock) {
	clock := &fakeClock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	return NewMemoryStore(append([]MemoryOption{WithClock(clock.Now)}, opts...)...), clock
}

func TestMemoryStoreGetSetExpiry(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemory()

	if err := s.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := s.Get(ctx, "k")
	if err != nil || string(got) != "v" {
		t.Fatalf("get = %q, %v", got, err)
	}

	got[0] = 'x'
	again, _ := s.Get(ctx, "k")
	if string(again) != "v" {
		t.Fatalf("stored value was mutated through returned slice: %q", again)
	}

	clock.Advance(time.Minute)
	if _, err := s.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemory()

	_ = s.Set(ctx, "forever", []byte("1"), 0)
	if ttl, err := s.TTL(ctx, "forever"); err != nil || ttl != 0 {
		t.Fatalf("ttl of persistent key = %v, %v", ttl, err)
	}

	_ = s.Set(ctx, "short", []byte("1"), 10*time.Second)
	clock.Advance(4 * time.Second)
	if ttl, _ := s.TTL(ctx, "short"); ttl != 6*time.Second {
		t.Fatalf("ttl = %v, want 6s", ttl)
	}

	if err := s.Expire(ctx, "short", time.Hour); err != nil {
		t.Fatalf("expire: %v", err)
	}
	if ttl, _ := s.TTL(ctx, "short"); ttl != time.Hour {
		t.Fatalf("ttl after expire = %v, want 1h", ttl)
	}

	if err := s.Expire(ctx, "missing", time.Hour); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expire on missing key: %v", err)
	}
	if _, err := s.TTL(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ttl on missing key: %v", err)
	}
}

func TestMemoryStoreIncrementAttachesTTLOnCreate(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemory()

	c, err := s.Increment(ctx, "rate", time.Minute)
	if err != nil || c.Value != 1 || c.TTL != time.Minute {
		t.Fatalf("first increment = %+v, %v", c, err)
	}

	clock.Advance(20 * time.Second)
	c, _ = s.Increment(ctx, "rate", time.Minute)
	if c.Value != 2 || c.TTL != 40*time.Second {
		t.Fatalf("second increment = %+v, want value 2 ttl 40s", c)
	}

	clock.Advance(40 * time.Second)
	c, _ = s.Increment(ctx, "rate", time.Minute)
	if c.Value != 1 {
		t.Fatalf("counter should restart after window, got %+v", c)
	}
}

func TestMemoryStoreRankedSet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemory()

	for _, m := range []string{"leon", "gato", "leon", "perro", "leon", "gato"} {
		if _, err := s.IncrementScore(ctx, "popular", m, 1, time.Hour); err != nil {
			t.Fatalf("increment score: %v", err)
		}
	}

	top, err := s.TopScores(ctx, "popular", 2)
	if err != nil {
		t.Fatalf("top scores: %v", err)
	}
	want := []ScoredMember{{Member: "leon", Score: 3}, {Member: "gato", Score: 2}}
	if len(top) != len(want) {
		t.Fatalf("top = %+v, want %+v", top, want)
	}
	for i := range want {
		if top[i] != want[i] {
			t.Fatalf("top[%d] = %+v, want %+v", i, top[i], want[i])
		}
	}

	if empty, _ := s.TopScores(ctx, "nothing", 5); len(empty) != 0 {
		t.Fatalf("expected empty result for unknown set, got %+v", empty)
	}
}

func TestMemoryStoreCountAndSweep(t *testing.T) {
	ctx := context.Background()
	s, clock := newTestMemory()

	_ = s.Set(ctx, "cache:a", []byte("1"), time.Minute)
	_ = s.Set(ctx, "cache:b", []byte("1"), time.Hour)
	_ = s.Set(ctx, "session:a", []byte("1"), time.Hour)

	if n, _ := s.Count(ctx, "cache:"); n != 2 {
		t.Fatalf("count = %d, want 2", n)
	}

	clock.Advance(2 * time.Minute)
	if n, _ := s.Count(ctx, "cache:"); n != 1 {
		t.Fatalf("count after expiry = %d, want 1", n)
	}
	if removed := s.Sweep(); removed != 1 {
		t.Fatalf("sweep removed %d, want 1", removed)
	}
}

func TestMemoryStoreCapacity(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestMemory(WithMaxEntries(2))

	_ = s.Set(ctx, "a", []byte("1"), 0)
	_ = s.Set(ctx, "b", []byte("1"), 0)
	if err := s.Set(ctx, "c", []byte("1"), 0); !errors.Is(err, ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
	if err := s.Set(ctx, "a", []byte("2"), 0); err != nil {
		t.Fatalf("overwriting an existing key must not hit capacity: %v", err)
	}
}
