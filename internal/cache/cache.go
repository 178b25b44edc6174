// Package cache stores completed research results under a normalized query
// key and keeps hit, miss and popularity statistics.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/store"
	logx "github.com/animal-explorer/server/pkg/logger"
)

var (
	// ErrMiss is returned by Lookup when no entry exists for the query.
	ErrMiss = errors.New("cache: miss")
	// ErrPartialResult is returned by Store when info or image is missing.
	ErrPartialResult = errors.New("cache: result is incomplete")
)

const (
	searchesKey   = "cache:analytics:searches"
	hitsStatKey   = "cache:stats:hits"
	missesStatKey = "cache:stats:misses"

	dailyTTL      = 7 * 24 * time.Hour
	topKeys       = 10
	maxRankedScan = 10000
)

// Entry is one cached result.
type Entry struct {
	Key            string       `json:"key"`
	Normalized     string       `json:"normalized"`
	Animal         string       `json:"animal"`
	Result         model.Result `json:"result"`
	HitCount       int64        `json:"hit_count"`
	CreatedAt      time.Time    `json:"created_at"`
	LastAccessedAt time.Time    `json:"last_accessed_at"`
	Version        string       `json:"version"`
}

// Popularity is the search count of one normalized query.
type Popularity struct {
	Query    string `json:"query"`
	Searches int64  `json:"searches"`
}

type Stats struct {
	Hits          int64        `json:"hit_count"`
	Misses        int64        `json:"miss_count"`
	HitRatio      float64      `json:"hit_ratio"`
	Entries       int          `json:"entries"`
	TotalSearches int64        `json:"total_searches"`
	UniqueQueries int          `json:"unique_queries"`
	RepeatRatio   float64      `json:"repeat_ratio"`
	TopKeys       []Popularity `json:"top_keys"`
	Backend       string       `json:"backend"`
	Durable       bool         `json:"durable"`
}

type Cache struct {
	store store.Store
	cfg   model.CacheConfig
	now   func() time.Time
}

type Option func(*Cache)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(s store.Store, cfg model.CacheConfig, opts ...Option) *Cache {
	if cfg.Version == "" {
		cfg.Version = "v1"
	}
	c := &Cache{store: s, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entryPrefix() string {
	return fmt.Sprintf("cache:result:%s:", c.cfg.Version)
}

func (c *Cache) entryKey(hash string) string { return c.entryPrefix() + hash }

func (c *Cache) hitsKey(hash string) string {
	return fmt.Sprintf("cache:hits:%s:%s", c.cfg.Version, hash)
}

func dailyKey(t time.Time) string {
	return fmt.Sprintf("cache:analytics:daily:%d", t.Unix()/86400)
}

// Lookup returns the entry for query and counts the hit, or ErrMiss. Every
// call is recorded as a search for popularity.
func (c *Cache) Lookup(ctx context.Context, query string) (*Entry, error) {
	normalized := Normalize(query)
	if normalized == "" {
		return nil, ErrMiss
	}
	c.trackSearch(ctx, normalized)

	hash := Hash(normalized)
	raw, err := c.store.Get(ctx, c.entryKey(hash))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logx.Error().Err(err).Str("query", normalized).Msg("cache read failed, treating as miss")
		}
		c.count(ctx, missesStatKey)
		return nil, ErrMiss
	}

	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		logx.Error().Err(err).Str("key", c.entryKey(hash)).Msg("failed to unmarshal cache entry, dropping it")
		_ = c.store.Delete(ctx, c.entryKey(hash))
		c.count(ctx, missesStatKey)
		return nil, ErrMiss
	}
	if e.Normalized != normalized {
		logx.Warn().Str("query", normalized).Str("stored", e.Normalized).Msg("cache key collision, treating as miss")
		c.count(ctx, missesStatKey)
		return nil, ErrMiss
	}
	if !e.Result.Complete() {
		c.count(ctx, missesStatKey)
		return nil, ErrMiss
	}

	c.count(ctx, hitsStatKey)
	now := c.now().UTC()
	if hits, err := c.store.Increment(ctx, c.hitsKey(hash), c.cfg.TTL); err == nil {
		e.HitCount = hits.Value
	} else {
		logx.Warn().Err(err).Str("query", normalized).Msg("failed to count cache hit")
	}
	// The stored entry keeps its creation time; the returned copy reports
	// this lookup as the last access.
	e.LastAccessedAt = now

	logx.Debug().Str("query", normalized).Int64("hit_count", e.HitCount).Msg("cache hit")
	return &e, nil
}

// Store writes a complete result for query. The last write wins.
func (c *Cache) Store(ctx context.Context, query string, r model.Result) error {
	if !r.Complete() {
		return ErrPartialResult
	}
	normalized := Normalize(query)
	if normalized == "" {
		return fmt.Errorf("cache: empty query")
	}
	hash := Hash(normalized)
	now := c.now().UTC()
	e := Entry{
		Key:            c.entryKey(hash),
		Normalized:     normalized,
		Animal:         query,
		Result:         r,
		CreatedAt:      now,
		LastAccessedAt: now,
		Version:        c.cfg.Version,
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal cache entry: %w", err)
	}
	if err := c.store.Set(ctx, e.Key, b, c.cfg.TTL); err != nil {
		logx.Error().Err(err).Str("key", e.Key).Msg("failed to store cache entry")
		return err
	}
	// A new entry starts a new hit count that expires with it.
	if err := c.store.Set(ctx, c.hitsKey(hash), []byte("0"), c.cfg.TTL); err != nil {
		logx.Warn().Err(err).Str("key", e.Key).Msg("failed to reset cache hit counter")
	}
	logx.Info().Str("query", normalized).Dur("ttl", c.cfg.TTL).Msg("result cached")
	return nil
}

// Popular returns the most searched queries, most searched first.
func (c *Cache) Popular(ctx context.Context, limit int) ([]Popularity, error) {
	top, err := c.store.TopScores(ctx, searchesKey, limit)
	if err != nil {
		return nil, err
	}
	return toPopularity(top), nil
}

// Trending ranks queries searched over the last days days.
func (c *Cache) Trending(ctx context.Context, days, limit int) ([]Popularity, error) {
	if days <= 0 {
		days = 1
	}
	totals := map[string]float64{}
	now := c.now().UTC()
	for d := 0; d < days; d++ {
		top, err := c.store.TopScores(ctx, dailyKey(now.Add(-time.Duration(d)*24*time.Hour)), maxRankedScan)
		if err != nil {
			return nil, err
		}
		for _, m := range top {
			totals[m.Member] += m.Score
		}
	}
	ranked := make([]store.ScoredMember, 0, len(totals))
	for m, s := range totals {
		ranked = append(ranked, store.ScoredMember{Member: m, Score: s})
	}
	sortScored(ranked)
	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return toPopularity(ranked), nil
}

// Stats summarizes cache effectiveness.
func (c *Cache) Stats(ctx context.Context) (Stats, error) {
	st := Stats{Backend: c.store.Name(), TopKeys: []Popularity{}}
	if d, ok := c.store.(interface{ Durable() bool }); ok {
		st.Durable = d.Durable()
	}

	var err error
	if st.Hits, err = c.counter(ctx, hitsStatKey); err != nil {
		return st, err
	}
	if st.Misses, err = c.counter(ctx, missesStatKey); err != nil {
		return st, err
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRatio = round(float64(st.Hits) / float64(total))
	}
	if st.Entries, err = c.store.Count(ctx, c.entryPrefix()); err != nil {
		return st, err
	}

	all, err := c.store.TopScores(ctx, searchesKey, maxRankedScan)
	if err != nil {
		return st, err
	}
	for _, m := range all {
		st.TotalSearches += int64(m.Score)
	}
	st.UniqueQueries = len(all)
	if st.TotalSearches > 0 {
		st.RepeatRatio = round(float64(st.TotalSearches-int64(st.UniqueQueries)) / float64(st.TotalSearches))
	}
	if len(all) > topKeys {
		all = all[:topKeys]
	}
	st.TopKeys = toPopularity(all)
	return st, nil
}

func (c *Cache) trackSearch(ctx context.Context, normalized string) {
	if _, err := c.store.IncrementScore(ctx, searchesKey, normalized, 1, c.cfg.AnalyticsTTL); err != nil {
		logx.Warn().Err(err).Str("query", normalized).Msg("failed to track search")
	}
	if _, err := c.store.IncrementScore(ctx, dailyKey(c.now().UTC()), normalized, 1, dailyTTL); err != nil {
		logx.Warn().Err(err).Str("query", normalized).Msg("failed to track daily search")
	}
}

func (c *Cache) count(ctx context.Context, key string) {
	if _, err := c.store.Increment(ctx, key, 0); err != nil {
		logx.Warn().Err(err).Str("key", key).Msg("failed to update cache counter")
	}
}

func (c *Cache) counter(ctx context.Context, key string) (int64, error) {
	raw, err := c.store.Get(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func toPopularity(ms []store.ScoredMember) []Popularity {
	out := make([]Popularity, 0, len(ms))
	for _, m := range ms {
		out = append(out, Popularity{Query: m.Member, Searches: int64(m.Score)})
	}
	return out
}

func sortScored(ms []store.ScoredMember) {
	sort.Slice(ms, func(i, j int) bool {
		if ms[i].Score != ms[j].Score {
			return ms[i].Score > ms[j].Score
		}
		return ms[i].Member < ms[j].Member
	})
}

func round(v float64) float64 {
	return math.Round(v*1000) / 1000
}
