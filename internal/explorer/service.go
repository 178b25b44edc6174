// Package explorer accepts research requests, runs the research pipeline in
// the background and serves progress snapshots.
package explorer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/animal-explorer/server/internal/cache"
	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/graph"
	"github.com/animal-explorer/server/internal/explorer/graph/nodes"
	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/ratelimit"
	"github.com/animal-explorer/server/internal/session"
	logx "github.com/animal-explorer/server/pkg/logger"
)

const (
	MaxAnimalLen    = 100
	DefaultLanguage = "es"

	defaultPipelineTimeout = 2 * time.Minute
	failureLookupTimeout   = 5 * time.Second
)

var languages = map[string]struct{}{"es": {}, "en": {}}

// ErrShuttingDown rejects submissions once Shutdown has started.
var ErrShuttingDown = errx.New(errors.New("shutting down"), http.StatusServiceUnavailable, errx.CodeUnavailable, "server is shutting down, try again later")

type SubmitRequest struct {
	ClientKey string
	Animal    string
	Language  string
}

// SubmitResult carries either a new session id or a cached snapshot.
type SubmitResult struct {
	SessionID string
	Cached    bool
	Snapshot  model.Snapshot
}

type Config struct {
	Tracker *session.Tracker
	Limiter *ratelimit.Limiter
	Cache   *cache.Cache
	Runner  graph.Runner
	// Durable reports whether sessions survive a restart. Nil means never.
	Durable  func() bool
	Pipeline model.PipelineConfig
}

type Service struct {
	tracker *session.Tracker
	limiter *ratelimit.Limiter
	cache   *cache.Cache
	runner  graph.Runner
	durable func() bool
	timeout time.Duration

	wg      sync.WaitGroup
	closing atomic.Bool
}

func NewService(cfg Config) *Service {
	s := &Service{
		tracker: cfg.Tracker,
		limiter: cfg.Limiter,
		cache:   cfg.Cache,
		runner:  cfg.Runner,
		durable: cfg.Durable,
		timeout: cfg.Pipeline.Timeout,
	}
	if s.durable == nil {
		s.durable = func() bool { return false }
	}
	if s.timeout <= 0 {
		s.timeout = defaultPipelineTimeout
	}
	return s
}

// Submit validates and rate limits a request, answers from the cache when it
// can and otherwise starts a pipeline run for a new session.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	q, err := validate(req)
	if err != nil {
		return nil, err
	}
	if s.closing.Load() {
		return nil, ErrShuttingDown
	}

	d, err := s.limiter.Check(ctx, req.ClientKey)
	if err != nil {
		return nil, fmt.Errorf("rate limit check: %w", err)
	}
	if !d.Allowed {
		return nil, &errx.RateLimitError{Scope: d.Scope, RetryAfter: d.RetryAfter, Limit: d.Limit, Current: d.Current}
	}

	entry, err := s.cache.Lookup(ctx, q.Animal)
	switch {
	case err == nil:
		logx.Info().Str("animal", q.Animal).Int64("hit_count", entry.HitCount).Msg("research served from cache")
		return &SubmitResult{Cached: true, Snapshot: model.CachedSnapshot(q.Animal, entry.Result)}, nil
	case !errors.Is(err, cache.ErrMiss):
		logx.Warn().Err(err).Str("animal", q.Animal).Msg("cache lookup failed, running pipeline")
	}

	sess, err := s.tracker.Create(ctx, q)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go s.run(sess.ID, q)

	logx.Info().Str("session_id", sess.ID).Str("animal", q.Animal).Str("language", q.Language).Msg("research started")
	return &SubmitResult{SessionID: sess.ID, Snapshot: sess.Snapshot()}, nil
}

func validate(req SubmitRequest) (model.Query, error) {
	animal := strings.TrimSpace(req.Animal)
	if animal == "" {
		return model.Query{}, &errx.ValidationError{Field: "animal", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(animal) > MaxAnimalLen {
		return model.Query{}, &errx.ValidationError{Field: "animal", Reason: fmt.Sprintf("must be at most %d characters", MaxAnimalLen)}
	}
	lang := strings.ToLower(strings.TrimSpace(req.Language))
	if lang == "" {
		lang = DefaultLanguage
	}
	if _, ok := languages[lang]; !ok {
		return model.Query{}, &errx.ValidationError{Field: "language", Reason: "must be es or en"}
	}
	return model.Query{Animal: animal, Normalized: cache.Normalize(animal), Language: lang}, nil
}

// run executes one pipeline on a context detached from the request.
func (s *Service) run(id string, q model.Query) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logx.Error().Str("session_id", id).Msgf("pipeline panic recovered: %v", r)
			s.recordFailure(ctx, id, fmt.Errorf("pipeline panic: %v", r))
		}
	}()

	start := time.Now()
	out, err := s.runner.Invoke(ctx, model.PipelineInput{SessionID: id, Query: q})
	if err != nil {
		if errors.Is(err, nodes.ErrSessionGone) {
			logx.Info().Str("session_id", id).Msg("session gone, pipeline stopped")
			return
		}
		logx.Error().Err(err).Str("session_id", id).Str("animal", q.Animal).Dur("elapsed", time.Since(start)).Msg("pipeline failed")
		s.recordFailure(ctx, id, err)
		return
	}

	logx.Info().
		Str("session_id", id).
		Str("stage", out.Stage.String()).
		Float64("cost_usd", out.CostUSD).
		Dur("elapsed", time.Since(start)).
		Msg("pipeline finished")
}

// recordFailure moves the session to error unless a node already ended it.
func (s *Service) recordFailure(ctx context.Context, id string, cause error) {
	lookupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureLookupTimeout)
	defer cancel()

	sess, err := s.tracker.Get(lookupCtx, id)
	if err != nil {
		if !errors.Is(err, errx.ErrNotFound) {
			logx.Error().Err(err).Str("session_id", id).Msg("failed to load session after pipeline failure")
		}
		return
	}
	if sess.Stage.IsTerminal() {
		return
	}
	nodes.Fail(ctx, s.tracker, id, cause)
}

// Poll returns the current snapshot of a session. A session lost together
// with a non-durable store is reported as reload_required.
func (s *Service) Poll(ctx context.Context, id string) (model.Snapshot, error) {
	sess, err := s.tracker.Get(ctx, id)
	if errors.Is(err, errx.ErrNotFound) {
		if !s.durable() {
			return model.ReloadSnapshot(id), nil
		}
		return model.Snapshot{}, err
	}
	if err != nil {
		return model.Snapshot{}, err
	}
	if err := s.tracker.Touch(ctx, id); err != nil && !errors.Is(err, errx.ErrNotFound) {
		logx.Warn().Err(err).Str("session_id", id).Msg("failed to extend session")
	}
	return sess.Snapshot(), nil
}

func (s *Service) RateLimitStatus(ctx context.Context, client string) (ratelimit.Usage, error) {
	return s.limiter.Status(ctx, client)
}

func (s *Service) CacheStats(ctx context.Context) (cache.Stats, error) {
	return s.cache.Stats(ctx)
}

// Popular ranks searches. period is "day" or "week" for a rolling window,
// anything else ranks all time.
func (s *Service) Popular(ctx context.Context, limit int, period string) ([]cache.Popularity, error) {
	switch period {
	case "day":
		return s.cache.Trending(ctx, 1, limit)
	case "week":
		return s.cache.Trending(ctx, 7, limit)
	default:
		return s.cache.Popular(ctx, limit)
	}
}

// Shutdown stops accepting submissions and waits for running pipelines.
func (s *Service) Shutdown(ctx context.Context) error {
	s.closing.Store(true)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for pipelines: %w", ctx.Err())
	}
}
