package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"

	errx "github.com/animal-explorer/server/internal/core/error"
	"github.com/animal-explorer/server/internal/explorer/model"
	logx "github.com/animal-explorer/server/pkg/logger"
)

const (
	NodeValidate      = "Validate"
	NodeFetchInfo     = "FetchInfo"
	NodeInvalidAnimal = "InvalidAnimal"
	NodeGenerateImage = "GenerateImage"
	NodePersist       = "Persist"
)

// ErrSessionGone aborts a run whose session was evicted or already finished.
var ErrSessionGone = errors.New("session is no longer tracked")

// failureWriteTimeout bounds the store write that records a failed step,
// which may run after the pipeline context expired.
const failureWriteTimeout = 5 * time.Second

// Progress records stage transitions of a session.
type Progress interface {
	Advance(ctx context.Context, id string, stage model.Stage, patch model.Patch) (bool, error)
}

// ResultStore keeps completed results for later requests.
type ResultStore interface {
	Store(ctx context.Context, query string, r model.Result) error
}

var fallbackSuggestions = map[string][]string{
	"es": {"León", "Elefante", "Delfín"},
	"en": {"Lion", "Elephant", "Dolphin"},
}

// NewValidatePreHandler seeds the run state from the pipeline input.
func NewValidatePreHandler() func(context.Context, model.PipelineInput, *model.PipelineState) (model.PipelineInput, error) {
	return func(ctx context.Context, in model.PipelineInput, s *model.PipelineState) (model.PipelineInput, error) {
		s.SessionID = in.SessionID
		s.Query = in.Query
		s.TotalCostUSD = 0
		return in, nil
	}
}

// NewValidateNode checks the query once more and moves the session to getting_info.
func NewValidateNode(p Progress) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, in model.PipelineInput) (model.Query, error) {
		if strings.TrimSpace(in.Query.Animal) == "" {
			err := &errx.ValidationError{Field: "animal", Reason: "must not be empty"}
			Fail(ctx, p, in.SessionID, err)
			return model.Query{}, err
		}
		if err := advance(ctx, p, in.SessionID, model.StageGettingInfo, model.Patch{}); err != nil {
			return model.Query{}, err
		}
		return in.Query, nil
	})
}

// NewFetchInfoNode asks the information provider for facts. An unknown
// animal is not an error: it is routed to the InvalidAnimal node.
func NewFetchInfoNode(p Progress, info model.InfoProvider) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, q model.Query) (model.InfoOutcome, error) {
		id := sessionID(ctx)
		facts, err := info.Fetch(ctx, q)
		if err != nil {
			var invalid *errx.InvalidAnimalError
			if errors.As(err, &invalid) {
				return model.InfoOutcome{Invalid: invalid}, nil
			}
			Fail(ctx, p, id, err)
			return model.InfoOutcome{}, err
		}
		if facts == nil {
			err := &errx.ProviderError{Provider: "info", Step: "info", Err: fmt.Errorf("empty response")}
			Fail(ctx, p, id, err)
			return model.InfoOutcome{}, err
		}
		if err := advance(ctx, p, id, model.StageGeneratingImage, model.Patch{Info: facts, CostUSD: costOf(facts.Usage)}); err != nil {
			return model.InfoOutcome{}, err
		}
		return model.InfoOutcome{Facts: facts}, nil
	})
}

// NewFetchInfoPostHandler keeps the facts and their cost in run state.
func NewFetchInfoPostHandler() func(context.Context, model.InfoOutcome, *model.PipelineState) (model.InfoOutcome, error) {
	return func(ctx context.Context, out model.InfoOutcome, s *model.PipelineState) (model.InfoOutcome, error) {
		if out.Facts != nil {
			s.Info = out.Facts
			s.TotalCostUSD += costOf(out.Facts.Usage)
		}
		return out, nil
	}
}

// NewInvalidAnimalCondition routes unknown animals away from image generation.
func NewInvalidAnimalCondition() func(context.Context, model.InfoOutcome) (string, error) {
	return func(ctx context.Context, out model.InfoOutcome) (string, error) {
		if out.Invalid != nil {
			logx.Debug().Strs("suggestions", out.Invalid.Suggestions).Msg("Routing to InvalidAnimal - query names no animal")
			return NodeInvalidAnimal, nil
		}
		return NodeGenerateImage, nil
	}
}

// NewInvalidAnimalNode ends the session in invalid_animal with suggestions.
func NewInvalidAnimalNode(p Progress) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, out model.InfoOutcome) (model.PipelineOutput, error) {
		var s model.PipelineState
		if err := readState(ctx, &s); err != nil {
			return model.PipelineOutput{}, err
		}
		suggestions := out.Invalid.Suggestions
		if len(suggestions) == 0 {
			suggestions = fallbackSuggestions[s.Query.Language]
		}
		msg := fmt.Sprintf("\"%s\" no parece ser un animal", s.Query.Animal)
		if s.Query.Language == "en" {
			msg = fmt.Sprintf("\"%s\" does not look like an animal", s.Query.Animal)
		}
		patch := model.Patch{Errors: []string{msg}, Suggestions: suggestions}
		if err := advance(ctx, p, s.SessionID, model.StageInvalidAnimal, patch); err != nil {
			return model.PipelineOutput{}, err
		}
		return model.PipelineOutput{
			SessionID:   s.SessionID,
			Stage:       model.StageInvalidAnimal,
			Suggestions: suggestions,
			CostUSD:     s.TotalCostUSD,
		}, nil
	})
}

// NewGenerateImageNode asks the image provider for a picture.
func NewGenerateImageNode(p Progress, images model.ImageProvider) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, out model.InfoOutcome) (*model.Image, error) {
		var s model.PipelineState
		if err := readState(ctx, &s); err != nil {
			return nil, err
		}
		img, err := images.Generate(ctx, s.Query, out.Facts)
		if err == nil && (img == nil || len(img.Data) == 0) {
			err = &errx.ProviderError{Provider: "image", Step: "image", Err: fmt.Errorf("no image returned")}
		}
		if err != nil {
			Fail(ctx, p, s.SessionID, err)
			return nil, err
		}
		return img, nil
	})
}

// NewGenerateImagePostHandler keeps the image and its cost in run state.
func NewGenerateImagePostHandler() func(context.Context, *model.Image, *model.PipelineState) (*model.Image, error) {
	return func(ctx context.Context, img *model.Image, s *model.PipelineState) (*model.Image, error) {
		s.Image = img
		if img != nil {
			s.TotalCostUSD += costOf(img.Usage)
		}
		return img, nil
	}
}

// NewPersistNode caches the complete result and completes the session.
// A cache failure is logged and does not fail the session.
func NewPersistNode(p Progress, results ResultStore) *compose.Lambda {
	return compose.InvokableLambda(func(ctx context.Context, img *model.Image) (model.PipelineOutput, error) {
		var s model.PipelineState
		if err := readState(ctx, &s); err != nil {
			return model.PipelineOutput{}, err
		}
		result := model.Result{Info: s.Info, Image: img}
		if results != nil {
			if err := results.Store(ctx, s.Query.Animal, result); err != nil {
				logx.Warn().Err(err).Str("session_id", s.SessionID).Msg("failed to cache result")
			}
		}
		if err := advance(ctx, p, s.SessionID, model.StageCompleted, model.Patch{Image: img, CostUSD: costOf(img.Usage)}); err != nil {
			return model.PipelineOutput{}, err
		}
		logx.Info().
			Str("session_id", s.SessionID).
			Str("animal", s.Query.Animal).
			Float64("total_cost_usd", s.TotalCostUSD).
			Msg("research completed")
		return model.PipelineOutput{
			SessionID: s.SessionID,
			Stage:     model.StageCompleted,
			Result:    result,
			CostUSD:   s.TotalCostUSD,
		}, nil
	})
}

// Fail moves the session to error with a message fit for end users.
func Fail(ctx context.Context, p Progress, id string, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureWriteTimeout)
	defer cancel()

	if _, err := p.Advance(ctx, id, model.StageError, model.Patch{Errors: []string{UserMessage(cause)}}); err != nil {
		logx.Error().Err(err).Str("session_id", id).Msg("failed to record pipeline failure")
	}
}

// UserMessage turns a pipeline error into text shown to end users.
func UserMessage(err error) string {
	var pe *errx.ProviderError
	if errors.As(err, &pe) {
		return pe.UserMessage()
	}
	var ve *errx.ValidationError
	if errors.As(err, &ve) {
		return ve.Error()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the request took too long, please try again"
	}
	return "the request could not be completed, please try again"
}

func advance(ctx context.Context, p Progress, id string, stage model.Stage, patch model.Patch) error {
	ok, err := p.Advance(ctx, id, stage, patch)
	if err != nil {
		return fmt.Errorf("advance session to %s: %w", stage, err)
	}
	if !ok {
		return ErrSessionGone
	}
	return nil
}

func readState(ctx context.Context, out *model.PipelineState) error {
	err := compose.ProcessState(ctx, func(_ context.Context, s *model.PipelineState) error {
		*out = *s
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to access state: %w", err)
	}
	return nil
}

func sessionID(ctx context.Context) string {
	var s model.PipelineState
	if err := readState(ctx, &s); err != nil {
		return ""
	}
	return s.SessionID
}

func costOf(u *model.Usage) float64 {
	if u == nil {
		return 0
	}
	return u.CostUSD
}
