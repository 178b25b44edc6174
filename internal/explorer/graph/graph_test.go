package graph

import (
	"context"
	"errors"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/animal-explorer/server/internal/cache"
	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/session"
	"github.com/animal-explorer/server/internal/store"
)

type fakeInfo struct {
	facts *model.Facts
	err   error
	calls atomic.Int32
}

func (f *fakeInfo) Fetch(_ context.Context, q model.Query) (*model.Facts, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return f.facts, nil
}

type fakeImage struct {
	img   *model.Image
	err   error
	calls atomic.Int32
}

func (f *fakeImage) Generate(_ context.Context, _ model.Query, facts *model.Facts) (*model.Image, error) {
	f.calls.Add(1)
	if facts == nil {
		return nil, errors.New("facts missing")
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.img, nil
}

type harness struct {
	tracker *session.Tracker
	cache   *cache.Cache
	info    *fakeInfo
	image   *fakeImage
	runner  Runner
}

func newHarness(t *testing.T, info *fakeInfo, image *fakeImage) *harness {
	t.Helper()
	mem := store.NewMemoryStore()
	h := &harness{
		tracker: session.NewTracker(mem, time.Hour),
		cache:   cache.New(mem, model.CacheConfig{TTL: time.Hour, Version: "v1", AnalyticsTTL: time.Hour}),
		info:    info,
		image:   image,
	}
	runner, err := BuildResearchGraph(context.Background(), Config{
		Info:     info,
		Image:    image,
		Progress: h.tracker,
		Results:  h.cache,
	})
	if err != nil {
		t.Fatalf("build graph: %v", err)
	}
	h.runner = runner
	return h
}

func lionFacts() *model.Facts {
	return &model.Facts{
		Name:        "León",
		EnglishName: "Lion",
		Class:       "Mamífero",
		Facts:       []string{"Vive en manadas"},
		Usage:       &model.Usage{Model: "info", CostUSD: 0.01},
	}
}

func lionImage() *model.Image {
	return &model.Image{MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}, Usage: &model.Usage{Model: "image", CostUSD: 0.04}}
}

func (h *harness) run(t *testing.T, animal string) (string, model.PipelineOutput, error) {
	t.Helper()
	ctx := context.Background()
	q := model.Query{Animal: animal, Normalized: cache.Normalize(animal), Language: "es"}
	s, err := h.tracker.Create(ctx, q)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	out, err := h.runner.Invoke(ctx, model.PipelineInput{SessionID: s.ID, Query: q})
	return s.ID, out, err
}

func TestPipelineCompletesAndCaches(t *testing.T) {
	h := newHarness(t, &fakeInfo{facts: lionFacts()}, &fakeImage{img: lionImage()})

	id, out, err := h.run(t, "León")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Stage != model.StageCompleted || out.SessionID != id {
		t.Fatalf("unexpected output %+v", out)
	}
	if math.Abs(out.CostUSD-0.05) > 1e-9 {
		t.Fatalf("cost = %v, want 0.05", out.CostUSD)
	}

	s, err := h.tracker.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if s.Stage != model.StageCompleted || s.Info == nil || s.Image == nil {
		t.Fatalf("session not completed: %+v", s)
	}
	if len(s.Errors) != 0 {
		t.Fatalf("unexpected errors %v", s.Errors)
	}

	entry, err := h.cache.Lookup(context.Background(), "leon")
	if err != nil {
		t.Fatalf("cache lookup: %v", err)
	}
	if !entry.Result.Complete() {
		t.Fatalf("cached result incomplete: %+v", entry.Result)
	}
}

func TestPipelineInvalidAnimal(t *testing.T) {
	info := &fakeInfo{err: &errx.InvalidAnimalError{Query: "asdfgh", Suggestions: []string{"Ardilla", "Asno"}}}
	image := &fakeImage{img: lionImage()}
	h := newHarness(t, info, image)

	id, out, err := h.run(t, "asdfgh")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out.Stage != model.StageInvalidAnimal || len(out.Suggestions) != 2 {
		t.Fatalf("unexpected output %+v", out)
	}
	if image.calls.Load() != 0 {
		t.Fatalf("image provider called for an invalid animal")
	}

	s, _ := h.tracker.Get(context.Background(), id)
	if s.Stage != model.StageInvalidAnimal || len(s.Suggestions) == 0 {
		t.Fatalf("unexpected session %+v", s)
	}
	if _, err := h.cache.Lookup(context.Background(), "asdfgh"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("invalid animal must not be cached, got %v", err)
	}
}

func TestPipelineInvalidAnimalWithoutSuggestions(t *testing.T) {
	h := newHarness(t, &fakeInfo{err: &errx.InvalidAnimalError{Query: "qwerty"}}, &fakeImage{img: lionImage()})

	id, _, err := h.run(t, "qwerty")
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	s, _ := h.tracker.Get(context.Background(), id)
	if len(s.Suggestions) == 0 {
		t.Fatalf("expected fallback suggestions")
	}
}

func TestPipelineInfoFailure(t *testing.T) {
	info := &fakeInfo{err: &errx.ProviderError{Provider: "gemini", Step: "info", Err: errors.New("503")}}
	h := newHarness(t, info, &fakeImage{img: lionImage()})

	id, _, err := h.run(t, "León")
	if err == nil {
		t.Fatalf("expected error")
	}
	s, _ := h.tracker.Get(context.Background(), id)
	if s.Stage != model.StageError || len(s.Errors) != 1 {
		t.Fatalf("unexpected session %+v", s)
	}
	if s.Errors[0] != (&errx.ProviderError{Step: "info"}).UserMessage() {
		t.Fatalf("unexpected message %q", s.Errors[0])
	}
}

func TestPipelineImageFailureKeepsInfo(t *testing.T) {
	image := &fakeImage{err: &errx.ProviderError{Provider: "gemini", Step: "image", Err: errors.New("quota")}}
	h := newHarness(t, &fakeInfo{facts: lionFacts()}, image)

	id, _, err := h.run(t, "León")
	if err == nil {
		t.Fatalf("expected error")
	}
	s, _ := h.tracker.Get(context.Background(), id)
	if s.Stage != model.StageError || s.Info == nil || s.Image != nil {
		t.Fatalf("unexpected session %+v", s)
	}
	if _, err := h.cache.Lookup(context.Background(), "leon"); !errors.Is(err, cache.ErrMiss) {
		t.Fatalf("partial result must not be cached, got %v", err)
	}
}

func TestPipelineStopsWhenSessionGone(t *testing.T) {
	info := &fakeInfo{facts: lionFacts()}
	h := newHarness(t, info, &fakeImage{img: lionImage()})

	q := model.Query{Animal: "León", Normalized: "leon", Language: "es"}
	_, err := h.runner.Invoke(context.Background(), model.PipelineInput{SessionID: "missing", Query: q})
	if err == nil {
		t.Fatalf("expected error for missing session")
	}
	if info.calls.Load() != 0 {
		t.Fatalf("provider called for a missing session")
	}
}

func TestBuildGraphRejectsMissingProviders(t *testing.T) {
	if _, err := BuildResearchGraph(context.Background(), Config{}); err == nil {
		t.Fatalf("expected error")
	}
}
