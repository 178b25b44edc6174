package handler

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	errx "github.com/animal-explorer/server/internal/core/error"
	logx "github.com/animal-explorer/server/pkg/logger"
)

// ErrorBody is the envelope of every error response.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Scope      string `json:"scope,omitempty"`
}

// ErrorResponse maps an error to its status code and envelope.
func ErrorResponse(c *app.RequestContext, err error) {
	var (
		rl *errx.RateLimitError
		ve *errx.ValidationError
		ae *errx.AppError
	)
	switch {
	case errors.As(err, &rl):
		retry := rl.RetryAfterSeconds()
		c.Response.Header.Set("Retry-After", strconv.Itoa(retry))
		c.JSON(consts.StatusTooManyRequests, ErrorBody{
			Code:       errx.CodeRateLimited,
			Message:    rateLimitMessage(rl.Scope, retry),
			RetryAfter: retry,
			Scope:      rl.Scope,
		})
	case errors.As(err, &ve):
		c.JSON(consts.StatusBadRequest, ErrorBody{Code: errx.CodeInvalidInput, Message: ve.Error()})
	case errors.As(err, &ae):
		if ae.Status >= consts.StatusInternalServerError {
			logx.Error().Err(err).Str("path", string(c.Path())).Msg("request failed")
		}
		c.JSON(ae.Status, ErrorBody{Code: ae.Code, Message: ae.Message})
	default:
		logx.Error().Err(err).Str("path", string(c.Path())).Msg("request failed")
		c.JSON(consts.StatusInternalServerError, ErrorBody{Code: errx.CodeInternal, Message: errx.SystemErrorMessage})
	}
}

// BadRequestResponse rejects malformed parameters.
func BadRequestResponse(c *app.RequestContext, message string) {
	c.JSON(consts.StatusBadRequest, ErrorBody{Code: errx.CodeInvalidInput, Message: message})
}

func rateLimitMessage(scope string, retry int) string {
	switch scope {
	case "blocked":
		return fmt.Sprintf("too many requests, this client is blocked for %d seconds", retry)
	case "minute":
		return "please wait a minute between searches"
	default:
		return fmt.Sprintf("%s search limit reached, try again in %d seconds", scope, retry)
	}
}
