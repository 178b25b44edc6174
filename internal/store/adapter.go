package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	logx "github.com/animal-explorer/server/pkg/logger"
	pkgredis "github.com/animal-explorer/server/pkg/redis"
)

// Adapter serves every call from the durable backend until that backend
// fails once, then switches to the in-process fallback for the rest of the
// process lifetime. Callers never see the backend failure.
type Adapter struct {
	primary  Store
	fallback *MemoryStore

	degraded atomic.Bool
	once     sync.Once
}

// NewAdapter wraps primary with fallback. A nil primary starts the adapter in
// degraded mode.
func NewAdapter(primary Store, fallback *MemoryStore) *Adapter {
	if fallback == nil {
		fallback = NewMemoryStore()
	}
	a := &Adapter{primary: primary, fallback: fallback}
	if primary == nil {
		a.degrade(pkgredis.ErrNotConfigured)
	}
	return a
}

// Connect dials Redis with cfg and returns an adapter over it. When Redis is
// unconfigured or unreachable the adapter starts on the fallback.
func Connect(ctx context.Context, cfg pkgredis.Config, fallback *MemoryStore) *Adapter {
	client, err := cfg.New(ctx)
	if err != nil {
		a := &Adapter{fallback: fallback}
		if a.fallback == nil {
			a.fallback = NewMemoryStore()
		}
		a.degrade(err)
		return a
	}
	logx.Info().Str("redis_url", cfg.Redacted()).Msg("connected to redis")
	return NewAdapter(NewRedisStore(client), fallback)
}

func (a *Adapter) degrade(cause error) {
	a.once.Do(func() {
		a.degraded.Store(true)
		logx.Warn().Err(cause).Msg("durable store unavailable, using in-memory store; data will not survive a restart")
	})
}

// Degraded reports whether the adapter has switched to the fallback.
func (a *Adapter) Degraded() bool { return a.degraded.Load() }

// Durable reports whether writes are currently reaching the durable backend.
func (a *Adapter) Durable() bool { return a.primary != nil && !a.degraded.Load() }

func (a *Adapter) Name() string {
	if a.Durable() {
		return a.primary.Name()
	}
	return a.fallback.Name()
}

// call runs fn on the primary while healthy. A primary failure degrades the
// adapter and the call is replayed on the fallback.
func call[T any](ctx context.Context, a *Adapter, fn func(Store) (T, error)) (T, error) {
	if a.Durable() {
		v, err := fn(a.primary)
		if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrCapacity) {
			return v, err
		}
		// A cancelled caller is not a backend failure.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return v, ctxErr
		}
		a.degrade(err)
	}
	return fn(a.fallback)
}

func (a *Adapter) Get(ctx context.Context, key string) ([]byte, error) {
	return call(ctx, a, func(s Store) ([]byte, error) { return s.Get(ctx, key) })
}

func (a *Adapter) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := call(ctx, a, func(s Store) (struct{}, error) { return struct{}{}, s.Set(ctx, key, value, ttl) })
	return err
}

func (a *Adapter) Delete(ctx context.Context, key string) error {
	_, err := call(ctx, a, func(s Store) (struct{}, error) { return struct{}{}, s.Delete(ctx, key) })
	return err
}

func (a *Adapter) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_, err := call(ctx, a, func(s Store) (struct{}, error) { return struct{}{}, s.Expire(ctx, key, ttl) })
	return err
}

func (a *Adapter) TTL(ctx context.Context, key string) (time.Duration, error) {
	return call(ctx, a, func(s Store) (time.Duration, error) { return s.TTL(ctx, key) })
}

func (a *Adapter) Increment(ctx context.Context, key string, ttl time.Duration) (Counter, error) {
	return call(ctx, a, func(s Store) (Counter, error) { return s.Increment(ctx, key, ttl) })
}

func (a *Adapter) IncrementScore(ctx context.Context, set, member string, delta float64, ttl time.Duration) (float64, error) {
	return call(ctx, a, func(s Store) (float64, error) { return s.IncrementScore(ctx, set, member, delta, ttl) })
}

func (a *Adapter) TopScores(ctx context.Context, set string, n int) ([]ScoredMember, error) {
	return call(ctx, a, func(s Store) ([]ScoredMember, error) { return s.TopScores(ctx, set, n) })
}

func (a *Adapter) Count(ctx context.Context, prefix string) (int, error) {
	return call(ctx, a, func(s Store) (int, error) { return s.Count(ctx, prefix) })
}

// Ping reports the health of the active backend. A failing primary degrades
// the adapter, so Ping itself only errors when the fallback does.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := call(ctx, a, func(s Store) (struct{}, error) { return struct{}{}, s.Ping(ctx) })
	return err
}

func (a *Adapter) Close() error {
	var errs []error
	if a.primary != nil {
		errs = append(errs, a.primary.Close())
	}
	errs = append(errs, a.fallback.Close())
	return errors.Join(errs...)
}

// Run sweeps expired fallback entries every interval until ctx is done.
func (a *Adapter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.fallback.Sweep(); n > 0 {
				logx.Debug().Int("removed", n).Msg("swept expired in-memory keys")
			}
		}
	}
}

var _ Store = (*Adapter)(nil)
