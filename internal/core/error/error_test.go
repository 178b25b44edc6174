package errx

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestAppErrorIsMatchesByCode(t *testing.T) {
	wrapped := fmt.Errorf("get session abc: %w", ErrNotFound)
	if !errors.Is(wrapped, ErrNotFound) {
		t.Fatalf("expected wrapped error to match ErrNotFound")
	}
	if errors.Is(wrapped, ErrCapacity) {
		t.Fatalf("did not expect ErrNotFound to match ErrCapacity")
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrNotFound, http.StatusNotFound},
		{fmt.Errorf("create: %w", ErrCapacity), http.StatusServiceUnavailable},
		{&RateLimitError{Scope: "hour", RetryAfter: time.Minute}, http.StatusTooManyRequests},
		{&ValidationError{Field: "animal", Reason: "required"}, http.StatusBadRequest},
		{WrapRedis(errors.New("dial tcp")), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusOf(tt.err); got != tt.want {
			t.Fatalf("StatusOf(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	cases := map[time.Duration]int{
		0:                       1,
		300 * time.Millisecond:  1,
		time.Second:             1,
		1500 * time.Millisecond: 2,
		59 * time.Second:        59,
	}
	for d, want := range cases {
		e := &RateLimitError{RetryAfter: d}
		if got := e.RetryAfterSeconds(); got != want {
			t.Fatalf("RetryAfterSeconds(%s) = %d, want %d", d, got, want)
		}
	}
}

func TestProviderErrorUnwrap(t *testing.T) {
	cause := errors.New("deadline exceeded")
	err := &ProviderError{Provider: "gemini", Step: "image", Err: cause}
	if !errors.Is(err, cause) {
		t.Fatalf("expected unwrap to reach cause")
	}
	if err.UserMessage() == "" {
		t.Fatalf("expected a user message")
	}
}
