// Package session tracks the progress of research requests through the
// pipeline stages and persists each session as a JSON snapshot.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/store"
	logx "github.com/animal-explorer/server/pkg/logger"
)

const DefaultTTL = time.Hour

type Tracker struct {
	store store.Store
	ttl   time.Duration
	now   func() time.Time
	newID func() string
}

type Option func(*Tracker)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithIDGenerator replaces the uuid generator, for tests.
func WithIDGenerator(gen func() string) Option {
	return func(t *Tracker) { t.newID = gen }
}

func NewTracker(s store.Store, ttl time.Duration, opts ...Option) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	t := &Tracker{store: s, ttl: ttl, now: time.Now, newID: uuid.NewString}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

// Create persists a new session in the processing stage.
func (t *Tracker) Create(ctx context.Context, q model.Query) (*model.Session, error) {
	now := t.now().UTC()
	s := &model.Session{
		ID:            t.newID(),
		Stage:         model.StageProcessing,
		Query:         q,
		Errors:        []string{},
		Suggestions:   []string{},
		CreatedAt:     now,
		LastUpdatedAt: now,
		TTL:           t.ttl,
	}
	if err := t.save(ctx, s); err != nil {
		if errors.Is(err, store.ErrCapacity) {
			logx.Warn().Str("session_id", s.ID).Msg("store refused new session")
			return nil, errx.ErrCapacity
		}
		return nil, err
	}
	logx.Debug().Str("session_id", s.ID).Str("animal", q.Animal).Msg("session created")
	return s, nil
}

// Get returns the stored session or errx.ErrNotFound.
func (t *Tracker) Get(ctx context.Context, id string) (*model.Session, error) {
	raw, err := t.store.Get(ctx, sessionKey(id))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, errx.ErrNotFound
		}
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	var s model.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		logx.Error().Err(err).Str("session_id", id).Msg("failed to unmarshal session")
		return nil, fmt.Errorf("unmarshal session %s: %w", id, err)
	}
	if s.Errors == nil {
		s.Errors = []string{}
	}
	if s.Suggestions == nil {
		s.Suggestions = []string{}
	}
	return &s, nil
}

// Advance moves the session to stage and merges patch. It reports false,
// without error, when the session is gone, already terminal or the edge is
// not part of the pipeline.
func (t *Tracker) Advance(ctx context.Context, id string, stage model.Stage, patch model.Patch) (bool, error) {
	s, err := t.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errx.ErrNotFound) {
			logx.Warn().Str("session_id", id).Str("stage", stage.String()).Msg("advance on missing session ignored")
			return false, nil
		}
		return false, err
	}
	if s.Stage.IsTerminal() {
		logx.Warn().Str("session_id", id).Str("from", s.Stage.String()).Str("to", stage.String()).
			Msg("advance on terminal session ignored")
		return false, nil
	}
	if !model.CanAdvance(s.Stage, stage) {
		logx.Warn().Str("session_id", id).Str("from", s.Stage.String()).Str("to", stage.String()).
			Msg("illegal stage transition ignored")
		return false, nil
	}

	merge(s, patch)
	s.Stage = stage
	s.LastUpdatedAt = t.now().UTC()
	if err := t.save(ctx, s); err != nil {
		return false, err
	}
	logx.Debug().Str("session_id", id).Str("stage", stage.String()).Msg("session advanced")
	return true, nil
}

// Touch extends the lifetime of a session that is still being polled.
func (t *Tracker) Touch(ctx context.Context, id string) error {
	err := t.store.Expire(ctx, sessionKey(id), t.ttl)
	if errors.Is(err, store.ErrNotFound) {
		return errx.ErrNotFound
	}
	return err
}

func merge(s *model.Session, p model.Patch) {
	if p.Info != nil {
		if s.Info != nil && s.Info.Name != p.Info.Name {
			logx.Warn().Str("session_id", s.ID).Msg("replacing existing info on session")
		}
		s.Info = p.Info
	}
	if p.Image != nil {
		if s.Image != nil {
			logx.Warn().Str("session_id", s.ID).Msg("replacing existing image on session")
		}
		s.Image = p.Image
	}
	s.Errors = append(s.Errors, p.Errors...)
	s.Suggestions = append(s.Suggestions, p.Suggestions...)
	s.CostUSD += p.CostUSD
}

func (t *Tracker) save(ctx context.Context, s *model.Session) error {
	b, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session %s: %w", s.ID, err)
	}
	return t.store.Set(ctx, sessionKey(s.ID), b, t.ttl)
}
