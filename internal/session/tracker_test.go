package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/store"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }

func newTestTracker(t *testing.T, opts ...store.MemoryOption) (*Tracker, *testClock) {
	t.Helper()
	clock := &testClock{t: time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)}
	seq := 0
	mem := store.NewMemoryStore(append([]store.MemoryOption{store.WithClock(clock.Now)}, opts...)...)
	tr := NewTracker(mem, time.Hour,
		WithClock(clock.Now),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("s-%d", seq) }),
	)
	return tr, clock
}

var query = model.Query{Animal: "León", Normalized: "leon", Language: "es"}

func TestCreateStartsProcessing(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)

	s, err := tr.Create(ctx, query)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := tr.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Stage != model.StageProcessing || got.Query != query {
		t.Fatalf("unexpected session %+v", got)
	}
}

func TestHappyPathReachesCompleted(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)
	s, _ := tr.Create(ctx, query)

	steps := []struct {
		stage model.Stage
		patch model.Patch
	}{
		{model.StageGettingInfo, model.Patch{}},
		{model.StageGeneratingImage, model.Patch{Info: &model.Facts{Name: "León", Facts: []string{"ruge"}}, CostUSD: 0.01}},
		{model.StageCompleted, model.Patch{Image: &model.Image{MimeType: "image/png", Data: []byte{1}}, CostUSD: 0.04}},
	}
	for _, step := range steps {
		ok, err := tr.Advance(ctx, s.ID, step.stage, step.patch)
		if err != nil || !ok {
			t.Fatalf("advance to %s = %v, %v", step.stage, ok, err)
		}
	}

	got, _ := tr.Get(ctx, s.ID)
	if got.Stage != model.StageCompleted || got.Info == nil || got.Image == nil {
		t.Fatalf("completed session incomplete: %+v", got)
	}
	if got.CostUSD < 0.049 || got.CostUSD > 0.051 {
		t.Fatalf("cost = %v, want 0.05", got.CostUSD)
	}
}

func TestTerminalStateIsFinal(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)
	s, _ := tr.Create(ctx, query)

	_, _ = tr.Advance(ctx, s.ID, model.StageGettingInfo, model.Patch{})
	ok, _ := tr.Advance(ctx, s.ID, model.StageInvalidAnimal, model.Patch{Suggestions: []string{"león", "leopardo"}})
	if !ok {
		t.Fatal("getting_info -> invalid_animal should apply")
	}

	for _, stage := range []model.Stage{model.StageGeneratingImage, model.StageCompleted, model.StageError} {
		ok, err := tr.Advance(ctx, s.ID, stage, model.Patch{Errors: []string{"late"}})
		if err != nil || ok {
			t.Fatalf("advance from terminal to %s = %v, %v; want false, nil", stage, ok, err)
		}
	}
	got, _ := tr.Get(ctx, s.ID)
	if got.Stage != model.StageInvalidAnimal || len(got.Errors) != 0 || len(got.Suggestions) != 2 {
		t.Fatalf("terminal session mutated: %+v", got)
	}
}

func TestIllegalTransitionIsIgnored(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t)
	s, _ := tr.Create(ctx, query)

	if ok, _ := tr.Advance(ctx, s.ID, model.StageCompleted, model.Patch{}); ok {
		t.Fatal("processing -> completed must be rejected")
	}
	if ok, _ := tr.Advance(ctx, s.ID, model.StageError, model.Patch{Errors: []string{"boom"}}); !ok {
		t.Fatal("processing -> error must be allowed")
	}
	got, _ := tr.Get(ctx, s.ID)
	if len(got.Errors) != 1 || got.Errors[0] != "boom" {
		t.Fatalf("errors = %v", got.Errors)
	}
}

func TestAdvanceMissingSession(t *testing.T) {
	tr, _ := newTestTracker(t)
	ok, err := tr.Advance(context.Background(), "nope", model.StageGettingInfo, model.Patch{})
	if ok || err != nil {
		t.Fatalf("advance on missing session = %v, %v; want false, nil", ok, err)
	}
}

func TestSessionExpires(t *testing.T) {
	ctx := context.Background()
	tr, clock := newTestTracker(t)
	s, _ := tr.Create(ctx, query)

	clock.t = clock.t.Add(59 * time.Minute)
	if err := tr.Touch(ctx, s.ID); err != nil {
		t.Fatalf("touch: %v", err)
	}
	clock.t = clock.t.Add(59 * time.Minute)
	if _, err := tr.Get(ctx, s.ID); err != nil {
		t.Fatalf("touched session should still exist: %v", err)
	}

	clock.t = clock.t.Add(2 * time.Minute)
	if _, err := tr.Get(ctx, s.ID); !errors.Is(err, errx.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after ttl, got %v", err)
	}
}

func TestCreateAtCapacity(t *testing.T) {
	ctx := context.Background()
	tr, _ := newTestTracker(t, store.WithMaxEntries(1))

	if _, err := tr.Create(ctx, query); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := tr.Create(ctx, query); !errors.Is(err, errx.ErrCapacity) {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestSessionSurvivesReload(t *testing.T) {
	ctx := context.Background()
	clock := &testClock{t: time.Date(2025, 5, 4, 10, 0, 0, 0, time.UTC)}
	mem := store.NewMemoryStore(store.WithClock(clock.Now))
	tr := NewTracker(mem, time.Hour, WithClock(clock.Now))

	s, err := tr.Create(ctx, query)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	info := &model.Facts{
		Name:        "León",
		EnglishName: "Lion",
		Facts:       []string{"ruge", "vive en manadas"},
		Usage:       &model.Usage{Model: "gemini-2.5-flash", PromptTokens: 120, CompletionTokens: 80, CostUSD: 0.0002},
	}
	img := &model.Image{MimeType: "image/png", Data: []byte{0x89, 0x50, 0x4e, 0x47, 0x00, 0xff}}
	steps := []struct {
		stage model.Stage
		patch model.Patch
	}{
		{model.StageGettingInfo, model.Patch{}},
		{model.StageGeneratingImage, model.Patch{Info: info, CostUSD: 0.0002}},
		{model.StageCompleted, model.Patch{Image: img, Errors: []string{"imagen generada con baja resolución"}}},
	}
	for _, step := range steps {
		clock.t = clock.t.Add(time.Second)
		if ok, err := tr.Advance(ctx, s.ID, step.stage, step.patch); err != nil || !ok {
			t.Fatalf("advance to %s = %v, %v", step.stage, ok, err)
		}
	}
	want, _ := tr.Get(ctx, s.ID)

	reloaded := NewTracker(mem, time.Hour, WithClock(clock.Now))
	got, err := reloaded.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("get after reload: %v", err)
	}

	if got.ID != s.ID || got.Stage != model.StageCompleted || got.Query != query {
		t.Fatalf("identity changed: %+v", got)
	}
	if !reflect.DeepEqual(got.Info, info) {
		t.Fatalf("info = %+v, want %+v", got.Info, info)
	}
	if got.Image == nil || got.Image.MimeType != img.MimeType || !bytes.Equal(got.Image.Data, img.Data) {
		t.Fatalf("image = %+v, want %+v", got.Image, img)
	}
	if !reflect.DeepEqual(got.Errors, []string{"imagen generada con baja resolución"}) || len(got.Suggestions) != 0 {
		t.Fatalf("errors = %v suggestions = %v", got.Errors, got.Suggestions)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) || !got.LastUpdatedAt.Equal(clock.t) || got.TTL != time.Hour || got.CostUSD != want.CostUSD {
		t.Fatalf("metadata = %+v, want %+v", got, want)
	}
}
