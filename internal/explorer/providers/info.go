package providers

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	einomodel "github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"

	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/graph/parsers"
	"github.com/animal-explorer/server/internal/explorer/graph/prompts"
	"github.com/animal-explorer/server/internal/explorer/model"
	logx "github.com/animal-explorer/server/pkg/logger"
)

// InfoProvider asks a chat model for facts about an animal.
type InfoProvider struct {
	chat      einomodel.BaseChatModel
	modelName string
	pricing   model.Pricing
}

// NewInfoProvider wraps any Eino chat model.
func NewInfoProvider(chat einomodel.BaseChatModel, modelName string) *InfoProvider {
	return &InfoProvider{
		chat:      chat,
		modelName: modelName,
		pricing:   model.ResolvePricing(modelName),
	}
}

// NewGeminiInfoProvider builds an InfoProvider over the Eino Gemini chat model.
func NewGeminiInfoProvider(ctx context.Context, client *genai.Client, cfg model.InfoModelConfig) (*InfoProvider, error) {
	chat, err := gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       cfg.Model,
		Temperature: &cfg.Temperature,
		MaxTokens:   &cfg.MaxTokens,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: false,
			ThinkingBudget:  genai.Ptr(int32(0)),
		},
	})
	if err != nil {
		logx.Error().Err(err).Msg("Error creating info model")
		return nil, fmt.Errorf("error creating info model: %w", err)
	}
	return NewInfoProvider(chat, cfg.Model), nil
}

// Fetch returns the facts about q, *errx.InvalidAnimalError when the model
// says q names no animal, or *errx.ProviderError.
func (p *InfoProvider) Fetch(ctx context.Context, q model.Query) (*model.Facts, error) {
	msgs, err := prompts.RenderInfoMessages(ctx, q)
	if err != nil {
		return nil, p.fail(err)
	}

	// The chat model runs inside a graph lambda; reuse the run's handlers so
	// model callbacks still fire.
	ctx = callbacks.ReuseHandlers(ctx, &callbacks.RunInfo{
		Name:      p.modelName,
		Type:      "Gemini",
		Component: components.ComponentOfChatModel,
	})

	msg, err := p.chat.Generate(ctx, msgs)
	if err != nil {
		return nil, p.fail(err)
	}
	if msg == nil {
		return nil, p.fail(errors.New("empty response"))
	}

	facts, err := parsers.ParseFacts(msg.Content)
	if err != nil {
		var invalid *errx.InvalidAnimalError
		if errors.As(err, &invalid) {
			invalid.Query = q.Animal
			return nil, invalid
		}
		return nil, p.fail(err)
	}

	usage := &model.Usage{Model: p.modelName}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		usage.PromptTokens = u.PromptTokens
		usage.CompletionTokens = u.CompletionTokens
		_, _, usage.CostUSD = model.ComputeCost(u, p.pricing)
	}
	facts.Usage = usage

	logx.Debug().
		Str("animal", q.Animal).
		Str("name", facts.Name).
		Int("facts", len(facts.Facts)).
		Float64("cost_usd", usage.CostUSD).
		Msg("animal facts fetched")
	return facts, nil
}

func (p *InfoProvider) fail(err error) error {
	return &errx.ProviderError{Provider: providerName, Step: "info", Err: err}
}
