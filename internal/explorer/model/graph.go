package model

import (
	"context"

	errx "github.com/animal-explorer/server/internal/core/error"
)

// InfoProvider fetches facts about an animal. It returns
// *errx.InvalidAnimalError when the query names no animal and
// *errx.ProviderError on any other failure.
type InfoProvider interface {
	Fetch(ctx context.Context, q Query) (*Facts, error)
}

// ImageProvider generates a picture of an animal.
type ImageProvider interface {
	Generate(ctx context.Context, q Query, facts *Facts) (*Image, error)
}

// PipelineInput starts one pipeline run.
type PipelineInput struct {
	SessionID string
	Query     Query
}

// InfoOutcome is the result of the fetch step: facts, or the reason the
// query names no animal.
type InfoOutcome struct {
	Facts   *Facts
	Invalid *errx.InvalidAnimalError
}

// PipelineOutput is what the graph returns when it reaches END.
type PipelineOutput struct {
	SessionID   string
	Stage       Stage
	Result      Result
	Suggestions []string
	CostUSD     float64
}

// PipelineState stores per-invocation state for the Eino Graph.
// It is registered via compose.WithGenLocalState and only read or written
// inside state handlers or compose.ProcessState.
type PipelineState struct {
	SessionID string
	Query     Query
	Info      *Facts
	Image     *Image

	// Accumulated provider cost (USD) for this run
	TotalCostUSD float64
}
