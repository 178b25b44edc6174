package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func TestCanAdvance(t *testing.T) {
	cases := []struct {
		from, to Stage
		want     bool
	}{
		{StageProcessing, StageGettingInfo, true},
		{StageGettingInfo, StageGeneratingImage, true},
		{StageGettingInfo, StageInvalidAnimal, true},
		{StageGeneratingImage, StageCompleted, true},
		{StageProcessing, StageError, true},
		{StageGeneratingImage, StageError, true},
		{StageProcessing, StageCompleted, false},
		{StageGeneratingImage, StageGettingInfo, false},
		{StageGeneratingImage, StageInvalidAnimal, false},
		{StageCompleted, StageError, false},
		{StageError, StageCompleted, false},
		{StageInvalidAnimal, StageGeneratingImage, false},
		{StageProcessing, StageReloadRequired, false},
	}
	for _, tc := range cases {
		if got := CanAdvance(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanAdvance(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestTerminalStages(t *testing.T) {
	for _, s := range []Stage{StageCompleted, StageInvalidAnimal, StageError, StageReloadRequired} {
		if !s.IsTerminal() {
			t.Fatalf("%s should be terminal", s)
		}
	}
	for _, s := range []Stage{StageProcessing, StageGettingInfo, StageGeneratingImage} {
		if s.IsTerminal() {
			t.Fatalf("%s should not be terminal", s)
		}
	}
}

func TestSnapshotAlwaysCarriesEveryField(t *testing.T) {
	s := &Session{ID: "abc", Stage: StageProcessing, Query: Query{Animal: "León"}}
	b, err := json.Marshal(s.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	_ = json.Unmarshal(b, &m)
	for _, k := range []string{"session_id", "stage", "animal", "info", "image", "errors", "suggestions", "from_cache"} {
		if _, ok := m[k]; !ok {
			t.Fatalf("snapshot is missing %q: %s", k, b)
		}
	}
	if string(mustJSON(t, m["errors"])) != "[]" || string(mustJSON(t, m["suggestions"])) != "[]" {
		t.Fatalf("empty collections must be [] not null: %s", b)
	}
}

func TestImageDataURL(t *testing.T) {
	img := &Image{MimeType: "image/jpeg", Data: []byte{0xff, 0xd8}}
	if got := img.DataURL(); !strings.HasPrefix(got, "data:image/jpeg;base64,") {
		t.Fatalf("data url = %q", got)
	}
	var nilImg *Image
	if nilImg.DataURL() != "" {
		t.Fatal("nil image should render empty")
	}
}

func TestResultComplete(t *testing.T) {
	if (Result{Info: &Facts{}}).Complete() {
		t.Fatal("result without image is not complete")
	}
	if !(Result{Info: &Facts{}, Image: &Image{Data: []byte{1}}}).Complete() {
		t.Fatal("result with info and image is complete")
	}
}

func TestComputeCost(t *testing.T) {
	p := ResolvePricing("gemini-2.5-flash")
	_, _, total := ComputeCost(&schema.TokenUsage{PromptTokens: 1_000_000, CompletionTokens: 1_000_000}, p)
	if math.Abs(total-2.80) > 1e-9 {
		t.Fatalf("total = %v, want 2.80", total)
	}
	if got := ResolvePricing("unknown-model"); got != (Pricing{}) {
		t.Fatalf("unknown model pricing = %+v", got)
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
