// Package ratelimit enforces per-client request caps over fixed minute, hour
// and day windows backed by atomic store counters.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/store"
	logx "github.com/animal-explorer/server/pkg/logger"
)

const (
	ScopeMinute  = "minute"
	ScopeHour    = "hour"
	ScopeDay     = "day"
	ScopeBlocked = "blocked"
)

const (
	StatusAllowed     = "allowed"
	StatusLimited     = "rate_limited"
	StatusWhitelisted = "whitelisted"
	StatusBlocked     = "blocked"
	// StatusFailOpen marks a decision taken without a working counter.
	StatusFailOpen = "error_fallback"
)

// warnRatio is the share of a cap at which a client is logged as approaching it.
const warnRatio = 0.8

// capacityRetry is reported when the store has no room for a new counter.
const capacityRetry = time.Minute

type Window struct {
	Name   string
	Length time.Duration
	Limit  int
}

// WindowUsage is the state of one window for one client.
type WindowUsage struct {
	Window    string `json:"window"`
	Current   int64  `json:"current"`
	Limit     int    `json:"limit"`
	Remaining int    `json:"remaining"`
	// ResetIn is the number of seconds until the window restarts.
	ResetIn int `json:"reset_in"`
}

// Decision is the outcome of one Check.
type Decision struct {
	Allowed    bool
	Status     string
	Scope      string
	RetryAfter time.Duration
	Limit      int
	Current    int64
	Windows    []WindowUsage
}

// Usage is the read-only view returned by Status.
type Usage struct {
	Client  string        `json:"client"`
	Status  string        `json:"status"`
	Windows []WindowUsage `json:"windows"`
}

type Limiter struct {
	store        store.Store
	windows      []Window
	whitelist    map[string]struct{}
	blockTTL     time.Duration
	blockOverage int
}

func New(s store.Store, cfg model.RateLimitConfig) *Limiter {
	l := &Limiter{
		store: s,
		windows: []Window{
			{Name: ScopeMinute, Length: time.Minute, Limit: cfg.PerMinute},
			{Name: ScopeHour, Length: time.Hour, Limit: cfg.PerHour},
			{Name: ScopeDay, Length: 24 * time.Hour, Limit: cfg.PerDay},
		},
		whitelist:    make(map[string]struct{}, len(cfg.Whitelist)),
		blockTTL:     cfg.BlockTTL,
		blockOverage: cfg.BlockOverage,
	}
	for _, ip := range cfg.Whitelist {
		if ip = strings.TrimSpace(ip); ip != "" {
			l.whitelist[ip] = struct{}{}
		}
	}
	return l
}

func counterKey(client, window string) string {
	return fmt.Sprintf("rate_limit:ip:%s:%s", client, window)
}

func blockKey(client string) string {
	return fmt.Sprintf("blacklist:ip:%s", client)
}

func (l *Limiter) whitelisted(client string) bool {
	_, ok := l.whitelist[client]
	return ok
}

// Check records an attempt by client and decides whether it may proceed.
// Denied and blocked attempts still count. When several windows are over
// their cap the smallest window is reported.
func (l *Limiter) Check(ctx context.Context, client string) (Decision, error) {
	if l.whitelisted(client) {
		return Decision{Allowed: true, Status: StatusWhitelisted}, nil
	}

	blockTTL, blocked := l.blocked(ctx, client)

	d := Decision{Allowed: true, Status: StatusAllowed, Windows: make([]WindowUsage, 0, len(l.windows))}
	for _, w := range l.windows {
		if w.Limit <= 0 {
			continue
		}
		c, err := l.store.Increment(ctx, counterKey(client, w.Name), w.Length)
		if errors.Is(err, store.ErrCapacity) {
			// An uncountable attempt is denied, never failed open.
			logx.Warn().Str("client", client).Str("window", w.Name).Msg("rate limit store full, denying request")
			if d.Allowed {
				d.Allowed = false
				d.Status = StatusLimited
				d.Scope = w.Name
				d.RetryAfter = capacityRetry
				d.Limit = w.Limit
			}
			continue
		}
		if err != nil {
			logx.Error().Err(err).Str("client", client).Str("window", w.Name).Msg("rate limit counter failed, allowing request")
			if d.Status == StatusAllowed {
				d.Status = StatusFailOpen
			}
			continue
		}
		d.Windows = append(d.Windows, usage(w, c.Value, c.TTL))

		if c.Value > int64(w.Limit) && d.Allowed {
			d.Allowed = false
			d.Status = StatusLimited
			d.Scope = w.Name
			d.RetryAfter = retryAfter(c.TTL, w.Length)
			d.Limit = w.Limit
			d.Current = c.Value
		}
		if w.Name != ScopeMinute && c.Value == warnThreshold(w.Limit) {
			logx.Warn().Str("client", client).Str("window", w.Name).Int64("current", c.Value).Int("limit", w.Limit).
				Msg("client approaching rate limit")
		}
		if w.Name == ScopeDay && !blocked {
			l.maybeBlock(ctx, client, w, c.Value)
		}
	}

	if blocked {
		logx.Warn().Str("client", client).Dur("retry_after", blockTTL).Msg("blocked client rejected")
		d.Allowed = false
		d.Status = StatusBlocked
		d.Scope = ScopeBlocked
		d.RetryAfter = blockTTL
		d.Limit = 0
		d.Current = 0
		return d, nil
	}
	if !d.Allowed {
		logx.Info().Str("client", client).Str("scope", d.Scope).Int64("current", d.Current).Int("limit", d.Limit).
			Msg("rate limit exceeded")
	}
	return d, nil
}

// Status reports per-window usage without recording an attempt.
func (l *Limiter) Status(ctx context.Context, client string) (Usage, error) {
	u := Usage{Client: client, Status: StatusAllowed, Windows: []WindowUsage{}}
	if l.whitelisted(client) {
		u.Status = StatusWhitelisted
		return u, nil
	}
	if _, blocked := l.blocked(ctx, client); blocked {
		u.Status = StatusBlocked
	}

	for _, w := range l.windows {
		if w.Limit <= 0 {
			continue
		}
		key := counterKey(client, w.Name)
		var current int64
		raw, err := l.store.Get(ctx, key)
		switch {
		case errors.Is(err, store.ErrNotFound):
		case err != nil:
			return u, fmt.Errorf("read %s counter: %w", w.Name, err)
		default:
			current, err = strconv.ParseInt(string(raw), 10, 64)
			if err != nil {
				return u, fmt.Errorf("parse %s counter: %w", w.Name, err)
			}
		}
		ttl := w.Length
		if current > 0 {
			if t, err := l.store.TTL(ctx, key); err == nil && t > 0 {
				ttl = t
			}
		}
		wu := usage(w, current, ttl)
		if current == 0 {
			wu.ResetIn = 0
		}
		if wu.Remaining == 0 && u.Status == StatusAllowed {
			u.Status = StatusLimited
		}
		u.Windows = append(u.Windows, wu)
	}
	return u, nil
}

func (l *Limiter) blocked(ctx context.Context, client string) (time.Duration, bool) {
	if l.blockTTL <= 0 {
		return 0, false
	}
	ttl, err := l.store.TTL(ctx, blockKey(client))
	switch {
	case errors.Is(err, store.ErrNotFound):
		return 0, false
	case err != nil:
		logx.Error().Err(err).Str("client", client).Msg("blocklist lookup failed, allowing request")
		return 0, false
	}
	return retryAfter(ttl, l.blockTTL), true
}

func (l *Limiter) maybeBlock(ctx context.Context, client string, w Window, current int64) {
	if l.blockTTL <= 0 || l.blockOverage <= 0 || current < int64(w.Limit+l.blockOverage) {
		return
	}
	if err := l.store.Set(ctx, blockKey(client), []byte("blocked"), l.blockTTL); err != nil {
		logx.Error().Err(err).Str("client", client).Msg("failed to block client")
		return
	}
	logx.Warn().Str("client", client).Dur("ttl", l.blockTTL).Int64("day_count", current).Msg("client blocked for excessive requests")
}

func usage(w Window, current int64, ttl time.Duration) WindowUsage {
	remaining := w.Limit - int(current)
	if remaining < 0 {
		remaining = 0
	}
	return WindowUsage{
		Window:    w.Name,
		Current:   current,
		Limit:     w.Limit,
		Remaining: remaining,
		ResetIn:   int(retryAfter(ttl, w.Length) / time.Second),
	}
}

// retryAfter rounds the remaining TTL up to whole seconds. A counter without
// a TTL is treated as a full window.
func retryAfter(ttl, window time.Duration) time.Duration {
	if ttl <= 0 {
		ttl = window
	}
	if rem := ttl % time.Second; rem != 0 {
		ttl += time.Second - rem
	}
	if ttl < time.Second {
		ttl = time.Second
	}
	return ttl
}

func warnThreshold(limit int) int64 {
	t := int64(float64(limit)*warnRatio + 0.999)
	if t < 1 {
		t = 1
	}
	return t
}
