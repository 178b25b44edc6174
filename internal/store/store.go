// Package store provides the key-value persistence used by sessions, rate
// limits and the result cache: a Redis implementation, an in-process fallback
// and an Adapter that degrades from the first to the second.
package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned by Get and TTL when the key is absent or expired.
	ErrNotFound = errors.New("store: key not found")
	// ErrCapacity is returned when a store refuses to create another key.
	ErrCapacity = errors.New("store: capacity exceeded")
)

// Counter is the result of an atomic increment.
type Counter struct {
	Value int64
	// TTL is the remaining lifetime of the counter after the increment.
	TTL time.Duration
}

// ScoredMember is one element of a ranked set.
type ScoredMember struct {
	Member string  `json:"member"`
	Score  float64 `json:"score"`
}

// Store is the contract shared by every backend. A ttl of zero means the key
// does not expire.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Increment adds one to the counter at key. The ttl is attached only when
	// the increment creates the key, so a counter describes a fixed window.
	Increment(ctx context.Context, key string, ttl time.Duration) (Counter, error)

	// IncrementScore adds delta to member's score in the ranked set. The ttl is
	// refreshed on every call.
	IncrementScore(ctx context.Context, set, member string, delta float64, ttl time.Duration) (float64, error)
	// TopScores returns up to n members, highest score first.
	TopScores(ctx context.Context, set string, n int) ([]ScoredMember, error)
	// Count returns the number of live keys starting with prefix.
	Count(ctx context.Context, prefix string) (int, error)

	Ping(ctx context.Context) error
	Close() error
	Name() string
}
