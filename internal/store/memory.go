package store

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

type memorySet struct {
	scores    map[string]float64
	expiresAt time.Time
}

// MemoryStore is the process-local fallback. Expired keys are dropped lazily on
// access and in bulk by Sweep.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	sets       map[string]*memorySet
	maxEntries int
	now        func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithMaxEntries caps the number of plain keys; zero means unbounded.
func WithMaxEntries(n int) MemoryOption {
	return func(s *MemoryStore) {
		s.maxEntries = n
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		s.now = now
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		sets:    make(map[string]*memorySet),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) Name() string { return "memory" }

func (s *MemoryStore) deadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

func expired(deadline, now time.Time) bool {
	return !deadline.IsZero() && !now.Before(deadline)
}

// lookup returns a live entry, dropping it if it has expired. Callers hold mu.
func (s *MemoryStore) lookup(key string) (memoryEntry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if expired(e.expiresAt, s.now()) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return e, true
}

func (s *MemoryStore) lookupSet(set string) (*memorySet, bool) {
	z, ok := s.sets[set]
	if !ok {
		return nil, false
	}
	if expired(z.expiresAt, s.now()) {
		delete(s.sets, set)
		return nil, false
	}
	return z, true
}

func (s *MemoryStore) checkCapacity(key string) error {
	if s.maxEntries <= 0 {
		return nil
	}
	if _, ok := s.lookup(key); ok {
		return nil
	}
	if len(s.entries) >= s.maxEntries {
		s.sweepLocked()
		if len(s.entries) >= s.maxEntries {
			return ErrCapacity
		}
	}
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(e.value))
	copy(out, e.value)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkCapacity(key); err != nil {
		return err
	}
	v := make([]byte, len(value))
	copy(v, value)
	s.entries[key] = memoryEntry{value: v, expiresAt: s.deadline(ttl)}
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, key)
	delete(s.sets, key)
	return nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lookup(key); ok {
		e.expiresAt = s.deadline(ttl)
		s.entries[key] = e
		return nil
	}
	if z, ok := s.lookupSet(key); ok {
		z.expiresAt = s.deadline(ttl)
		return nil
	}
	return ErrNotFound
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		return 0, ErrNotFound
	}
	if e.expiresAt.IsZero() {
		return 0, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (Counter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lookup(key)
	if !ok {
		if err := s.checkCapacity(key); err != nil {
			return Counter{}, err
		}
		e = memoryEntry{value: []byte("0"), expiresAt: s.deadline(ttl)}
	}
	n, err := strconv.ParseInt(string(e.value), 10, 64)
	if err != nil {
		return Counter{}, err
	}
	n++
	e.value = []byte(strconv.FormatInt(n, 10))
	s.entries[key] = e

	c := Counter{Value: n}
	if !e.expiresAt.IsZero() {
		c.TTL = e.expiresAt.Sub(s.now())
	}
	return c, nil
}

func (s *MemoryStore) IncrementScore(_ context.Context, set, member string, delta float64, ttl time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.lookupSet(set)
	if !ok {
		z = &memorySet{scores: make(map[string]float64)}
		s.sets[set] = z
	}
	z.scores[member] += delta
	z.expiresAt = s.deadline(ttl)
	return z.scores[member], nil
}

func (s *MemoryStore) TopScores(_ context.Context, set string, n int) ([]ScoredMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	z, ok := s.lookupSet(set)
	if !ok || n <= 0 {
		return []ScoredMember{}, nil
	}
	out := make([]ScoredMember, 0, len(z.scores))
	for m, sc := range z.scores {
		out = append(out, ScoredMember{Member: m, Score: sc})
	}
	// Ties break on member name, matching ZREVRANGE's reverse lexical order.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Member > out[j].Member
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, prefix string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	n := 0
	for k, e := range s.entries {
		if strings.HasPrefix(k, prefix) && !expired(e.expiresAt, now) {
			n++
		}
	}
	return n, nil
}

// Sweep removes every expired key and returns how many were dropped.
func (s *MemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked()
}

func (s *MemoryStore) sweepLocked() int {
	now := s.now()
	n := 0
	for k, e := range s.entries {
		if expired(e.expiresAt, now) {
			delete(s.entries, k)
			n++
		}
	}
	for k, z := range s.sets {
		if expired(z.expiresAt, now) {
			delete(s.sets, k)
			n++
		}
	}
	return n
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
