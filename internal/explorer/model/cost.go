package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output, plus a flat
// per-image price for image models.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
	PerImage   float64
}

// defaultPricing provides hardcoded USD pricing (Gemini standard tier).
var defaultPricing = map[string]Pricing{
	"gemini-2.5-flash":       {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite":  {InputPerM: 0.10, OutputPerM: 0.40},
	"gemini-2.5-flash-image": {InputPerM: 0.30, PerImage: 0.039},
}

// ResolvePricing returns hardcoded pricing for a model, zero if unknown.
func ResolvePricing(model string) Pricing {
	return defaultPricing[model]
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// ComputeImageCost prices one image generation call.
func ComputeImageCost(promptTokens, images int, p Pricing) float64 {
	return p.InputPerM*float64(promptTokens)/1_000_000.0 + p.PerImage*float64(images)
}
