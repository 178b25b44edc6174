package providers

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/model"
)

type fakeChat struct {
	reply *schema.Message
	err   error
	got   []*schema.Message
}

func (f *fakeChat) Generate(_ context.Context, in []*schema.Message, _ ...einomodel.Option) (*schema.Message, error) {
	f.got = in
	return f.reply, f.err
}

func (f *fakeChat) Stream(context.Context, []*schema.Message, ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("streaming not supported")
}

var leon = model.Query{Animal: "León", Normalized: "leon", Language: "es"}

const lionAnswer = `**Nombre:** León
**Nombre en inglés:** Lion
**Clase:** Vertebrado
**Grupo:** Mamífero
**Cubierta:** Pelo
**Dato:** Vive en manadas.
**Dato2:** Su rugido se oye a 8 km.`

func TestInfoProviderParsesFactsAndCost(t *testing.T) {
	chat := &fakeChat{reply: &schema.Message{
		Role:    schema.Assistant,
		Content: lionAnswer,
		ResponseMeta: &schema.ResponseMeta{Usage: &schema.TokenUsage{
			PromptTokens: 1000, CompletionTokens: 200, TotalTokens: 1200,
		}},
	}}
	p := NewInfoProvider(chat, "gemini-2.5-flash")

	facts, err := p.Fetch(context.Background(), leon)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if facts.Name != "León" || facts.EnglishName != "Lion" || len(facts.Facts) != 2 {
		t.Fatalf("unexpected facts %+v", facts)
	}
	if facts.Usage == nil || math.Abs(facts.Usage.CostUSD-0.0008) > 1e-12 {
		t.Fatalf("unexpected usage %+v", facts.Usage)
	}
	if len(chat.got) != 2 || !strings.Contains(chat.got[1].Content, "León") {
		t.Fatalf("unexpected prompt %+v", chat.got)
	}
}

func TestInfoProviderNotAnAnimal(t *testing.T) {
	chat := &fakeChat{reply: schema.AssistantMessage("NOT_AN_ANIMAL\n**Sugerencias:** Ardilla, Asno", nil)}
	p := NewInfoProvider(chat, "gemini-2.5-flash")

	_, err := p.Fetch(context.Background(), model.Query{Animal: "asdfgh", Normalized: "asdfgh", Language: "es"})
	var invalid *errx.InvalidAnimalError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidAnimalError, got %v", err)
	}
	if invalid.Query != "asdfgh" || len(invalid.Suggestions) != 2 {
		t.Fatalf("unexpected error %+v", invalid)
	}
}

func TestInfoProviderFailures(t *testing.T) {
	cases := []struct {
		name string
		chat *fakeChat
	}{
		{"model error", &fakeChat{err: errors.New("503 unavailable")}},
		{"nil reply", &fakeChat{}},
		{"incomplete answer", &fakeChat{reply: schema.AssistantMessage("no sé", nil)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewInfoProvider(tc.chat, "gemini-2.5-flash").Fetch(context.Background(), leon)
			var pe *errx.ProviderError
			if !errors.As(err, &pe) || pe.Step != "info" {
				t.Fatalf("expected info ProviderError, got %v", err)
			}
		})
	}
}

type fakeModels struct {
	resp   *genai.GenerateContentResponse
	err    error
	config *genai.GenerateContentConfig
	prompt string
}

func (f *fakeModels) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.config = config
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.prompt = contents[0].Parts[0].Text
	}
	return f.resp, f.err
}

func imageResponse(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates:    []*genai.Candidate{{Content: &genai.Content{Parts: parts}}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 100},
	}
}

func TestImageProviderReturnsFirstInlineImage(t *testing.T) {
	models := &fakeModels{resp: imageResponse(
		&genai.Part{Text: "Here is your lion"},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte("png-1")}},
		&genai.Part{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte("png-2")}},
	)}
	p := newImageProvider(models, "gemini-2.5-flash-image")

	img, err := p.Generate(context.Background(), leon, &model.Facts{Name: "León", EnglishName: "Lion", Group: "Mamífero"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if string(img.Data) != "png-1" || img.MimeType != "image/png" {
		t.Fatalf("unexpected image %+v", img)
	}
	if want := 0.039 + 0.30*100/1_000_000.0; math.Abs(img.Usage.CostUSD-want) > 1e-12 {
		t.Fatalf("cost = %v, want %v", img.Usage.CostUSD, want)
	}
	if len(models.config.ResponseModalities) != 2 || models.config.ResponseModalities[0] != "IMAGE" {
		t.Fatalf("unexpected modalities %v", models.config.ResponseModalities)
	}
	if !strings.Contains(models.prompt, "Lion") {
		t.Fatalf("prompt should use the English name: %q", models.prompt)
	}
}

func TestImageProviderFailures(t *testing.T) {
	cases := []struct {
		name   string
		models *fakeModels
	}{
		{"api error", &fakeModels{err: errors.New("quota exceeded")}},
		{"text only", &fakeModels{resp: imageResponse(&genai.Part{Text: "sorry"})}},
		{"no candidates", &fakeModels{resp: &genai.GenerateContentResponse{}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := newImageProvider(tc.models, "gemini-2.5-flash-image").Generate(context.Background(), leon, &model.Facts{Name: "León"})
			var pe *errx.ProviderError
			if !errors.As(err, &pe) || pe.Step != "image" {
				t.Fatalf("expected image ProviderError, got %v", err)
			}
		})
	}
}

type gatedInfo struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gatedInfo) Fetch(context.Context, model.Query) (*model.Facts, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
	}
	<-g.release
	return &model.Facts{Name: "León", Facts: []string{"ruge"}}, nil
}

func TestSharedInfoPassesThrough(t *testing.T) {
	g := &gatedInfo{started: make(chan struct{}), release: make(chan struct{})}
	shared := ShareInfo(g)

	var wg sync.WaitGroup
	results := make([]*model.Facts, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			f, err := shared.Fetch(context.Background(), leon)
			if err != nil {
				t.Errorf("fetch: %v", err)
				return
			}
			results[i] = f
		}(i)
		if i == 0 {
			<-g.started
		}
	}
	close(g.release)
	wg.Wait()

	for _, f := range results {
		if f == nil || f.Name != "León" {
			t.Fatalf("unexpected result %+v", f)
		}
	}
	if n := g.calls.Load(); n < 1 || n > 2 {
		t.Fatalf("calls = %d", n)
	}
}

func TestSharedImagePropagatesErrors(t *testing.T) {
	shared := ShareImage(newImageProvider(&fakeModels{err: errors.New("boom")}, "gemini-2.5-flash-image"))
	if _, err := shared.Generate(context.Background(), leon, &model.Facts{Name: "León"}); err == nil {
		t.Fatalf("expected error")
	}
}
