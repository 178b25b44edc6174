package providers

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/genai"

	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/graph/prompts"
	"github.com/animal-explorer/server/internal/explorer/model"
	logx "github.com/animal-explorer/server/pkg/logger"
)

// contentGenerator is the part of genai.Models used for image generation.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// ImageProvider generates animal pictures with a Gemini image model.
type ImageProvider struct {
	models    contentGenerator
	modelName string
	pricing   model.Pricing
}

// NewImageProvider creates an ImageProvider on top of client.Models.
func NewImageProvider(client *genai.Client, cfg model.ImageModelConfig) *ImageProvider {
	return newImageProvider(client.Models, cfg.Model)
}

func newImageProvider(models contentGenerator, modelName string) *ImageProvider {
	return &ImageProvider{
		models:    models,
		modelName: modelName,
		pricing:   model.ResolvePricing(modelName),
	}
}

// Generate returns the first inline image of the model response.
func (p *ImageProvider) Generate(ctx context.Context, q model.Query, facts *model.Facts) (*model.Image, error) {
	prompt, err := prompts.RenderImagePrompt(ctx, q, facts)
	if err != nil {
		return nil, p.fail(err)
	}

	resp, err := p.models.GenerateContent(ctx, p.modelName, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	})
	if err != nil {
		return nil, p.fail(err)
	}

	blob := firstImage(resp)
	if blob == nil {
		return nil, p.fail(errors.New("response contains no image"))
	}

	promptTokens := 0
	if resp.UsageMetadata != nil {
		promptTokens = int(resp.UsageMetadata.PromptTokenCount)
	}
	img := &model.Image{
		MimeType: blob.MIMEType,
		Data:     blob.Data,
		Usage: &model.Usage{
			Model:        p.modelName,
			PromptTokens: promptTokens,
			CostUSD:      model.ComputeImageCost(promptTokens, 1, p.pricing),
		},
	}
	if img.MimeType == "" {
		img.MimeType = "image/png"
	}

	logx.Debug().
		Str("animal", q.Animal).
		Str("mime_type", img.MimeType).
		Int("bytes", len(img.Data)).
		Float64("cost_usd", img.Usage.CostUSD).
		Msg("animal image generated")
	return img, nil
}

func firstImage(resp *genai.GenerateContentResponse) *genai.Blob {
	if resp == nil {
		return nil
	}
	for _, cand := range resp.Candidates {
		if cand == nil || cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				return part.InlineData
			}
		}
	}
	return nil
}

func (p *ImageProvider) fail(err error) error {
	return &errx.ProviderError{Provider: providerName, Step: "image", Err: fmt.Errorf("%s: %w", p.modelName, err)}
}
