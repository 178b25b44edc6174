package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	errx "github.com/animal-explorer/server/internal/core/error"
	logx "github.com/animal-explorer/server/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// incrementScript bumps a counter and attaches the window TTL only when the
// counter was created by this call, in one round trip.
var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
local ttl = tonumber(ARGV[1])
if n == 1 and ttl > 0 then
	redis.call('PEXPIRE', KEYS[1], ttl)
end
return {n, redis.call('PTTL', KEYS[1])}
`)

type RedisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (r *RedisStore) Name() string { return "redis" }

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := r.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		logx.Error().Err(err).Str("key", key).Msg("failed to get key from redis")
		return nil, errx.WrapRedis(err)
	}
	return b, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to set key in redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to delete key from redis")
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	var (
		ok  bool
		err error
	)
	if ttl <= 0 {
		ok, err = r.rdb.Persist(ctx, key).Result()
	} else {
		ok, err = r.rdb.Expire(ctx, key, ttl).Result()
	}
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to set expire")
		return errx.WrapRedis(err)
	}
	if !ok {
		// PERSIST also reports false for a key that exists without a TTL.
		if ttl <= 0 {
			if n, err := r.rdb.Exists(ctx, key).Result(); err == nil && n > 0 {
				return nil
			}
		}
		return ErrNotFound
	}
	return nil
}

func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := r.rdb.PTTL(ctx, key).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to read ttl from redis")
		return 0, errx.WrapRedis(err)
	}
	return pttl(d)
}

// pttl maps PTTL's sentinel replies: -2 missing key, -1 no expiry.
func pttl(d time.Duration) (time.Duration, error) {
	switch {
	case d == -2 || d == -2*time.Millisecond:
		return 0, ErrNotFound
	case d < 0:
		return 0, nil
	default:
		return d, nil
	}
}

func (r *RedisStore) Increment(ctx context.Context, key string, ttl time.Duration) (Counter, error) {
	vals, err := incrementScript.Run(ctx, r.rdb, []string{key}, ttl.Milliseconds()).Int64Slice()
	if err != nil {
		logx.Error().Err(err).Str("key", key).Msg("failed to increment counter in redis")
		return Counter{}, errx.WrapRedis(err)
	}
	if len(vals) != 2 {
		return Counter{}, fmt.Errorf("increment %s: unexpected reply length %d", key, len(vals))
	}
	c := Counter{Value: vals[0]}
	if vals[1] > 0 {
		c.TTL = time.Duration(vals[1]) * time.Millisecond
	}
	return c, nil
}

func (r *RedisStore) IncrementScore(ctx context.Context, set, member string, delta float64, ttl time.Duration) (float64, error) {
	var score *redis.FloatCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		score = pipe.ZIncrBy(ctx, set, delta, member)
		if ttl > 0 {
			pipe.Expire(ctx, set, ttl)
		}
		return nil
	})
	if err != nil {
		logx.Error().Err(err).Str("key", set).Msg("failed to increment score in redis")
		return 0, errx.WrapRedis(err)
	}
	return score.Val(), nil
}

func (r *RedisStore) TopScores(ctx context.Context, set string, n int) ([]ScoredMember, error) {
	if n <= 0 {
		return []ScoredMember{}, nil
	}
	zs, err := r.rdb.ZRevRangeWithScores(ctx, set, 0, int64(n-1)).Result()
	if err != nil {
		logx.Error().Err(err).Str("key", set).Msg("failed to read ranked set from redis")
		return nil, errx.WrapRedis(err)
	}
	out := make([]ScoredMember, 0, len(zs))
	for _, z := range zs {
		out = append(out, ScoredMember{Member: fmt.Sprint(z.Member), Score: z.Score})
	}
	return out, nil
}

func (r *RedisStore) Count(ctx context.Context, prefix string) (int, error) {
	n := 0
	iter := r.rdb.Scan(ctx, 0, prefix+"*", 500).Iterator()
	for iter.Next(ctx) {
		n++
	}
	if err := iter.Err(); err != nil {
		logx.Error().Err(err).Str("prefix", prefix).Msg("failed to scan keys in redis")
		return 0, errx.WrapRedis(err)
	}
	return n, nil
}

func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.rdb.Ping(ctx).Err(); err != nil {
		return errx.WrapRedis(err)
	}
	return nil
}

func (r *RedisStore) Close() error {
	if c, ok := r.rdb.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

var _ Store = (*RedisStore)(nil)
