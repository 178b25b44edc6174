package errx

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

const (
	// SystemErrorMessage is a user-facing fallback when internal errors occur.
	SystemErrorMessage = "internal server error"
	// RedisErrorMessage describes Redis related failures.
	RedisErrorMessage = "redis operation failed"
	// NotFoundMessage is returned for unknown or expired sessions.
	NotFoundMessage = "session not found"
	// CapacityMessage is returned when the store refuses new sessions.
	CapacityMessage = "service is at capacity, try again later"
)

// Codes used in API error envelopes.
const (
	CodeInternal     = "INTERNAL_ERROR"
	CodeNotFound     = "NOT_FOUND"
	CodeInvalidInput = "INVALID_INPUT"
	CodeRateLimited  = "RATE_LIMITED"
	CodeCapacity     = "CAPACITY"
	CodeStore        = "STORE_ERROR"
	CodeUnavailable  = "UNAVAILABLE"
)

var (
	// ErrNotFound marks an unknown or expired session.
	ErrNotFound = New(errors.New("not found"), http.StatusNotFound, CodeNotFound, NotFoundMessage)
	// ErrCapacity marks a store that refused a write.
	ErrCapacity = New(errors.New("store capacity exceeded"), http.StatusServiceUnavailable, CodeCapacity, CapacityMessage)
)

// AppError wraps an underlying error with an HTTP status and safe message.
type AppError struct {
	Err     error
	Status  int
	Code    string
	Message string
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

// Unwrap exposes the underlying error for errors.Is / errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// Is matches another AppError by code, so wrapped sentinels compare equal.
func (e *AppError) Is(target error) bool {
	var t *AppError
	if errors.As(target, &t) && t != nil {
		return t.Code != "" && t.Code == e.Code
	}
	return false
}

// New creates a new AppError with the provided information.
func New(err error, status int, code, message string) *AppError {
	return &AppError{
		Err:     err,
		Status:  status,
		Code:    code,
		Message: message,
	}
}

// WrapRedis wraps a Redis error with a consistent status code and message.
func WrapRedis(err error) error {
	if err == nil {
		return nil
	}
	return New(err, http.StatusBadGateway, CodeStore, RedisErrorMessage)
}

// StatusOf returns the HTTP status carried by err, or 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Status
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return http.StatusTooManyRequests
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// ValidationError reports a submission that cannot be processed at all.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// InvalidAnimalError is returned by an information provider when the query does
// not name a real animal.
type InvalidAnimalError struct {
	Query       string
	Suggestions []string
}

func (e *InvalidAnimalError) Error() string {
	return fmt.Sprintf("%q is not a recognised animal", e.Query)
}

// ProviderError is a transient failure of an external AI call.
type ProviderError struct {
	Provider string
	Step     string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Provider, e.Step, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// UserMessage is the text shown to end users in the session errors list.
func (e *ProviderError) UserMessage() string {
	switch e.Step {
	case "info":
		return "could not fetch information about this animal, please try again"
	case "image":
		return "could not generate an image of this animal, please try again"
	default:
		return "the request could not be completed, please try again"
	}
}

// RateLimitError is returned at submission time when a client exceeds a window.
type RateLimitError struct {
	Scope      string
	RetryAfter time.Duration
	Limit      int
	Current    int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s window, retry after %s", e.Scope, e.RetryAfter)
}

// RetryAfterSeconds rounds the wait up to whole seconds, never below one.
func (e *RateLimitError) RetryAfterSeconds() int {
	s := int((e.RetryAfter + time.Second - 1) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
