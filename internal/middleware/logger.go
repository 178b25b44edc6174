package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	logx "github.com/animal-explorer/server/pkg/logger"
)

// RequestIDKey is the header carrying the request id.
const RequestIDKey = "X-Request-ID"

// Logger logs every request except health checks and status polls, which
// the front end issues every few seconds.
func Logger() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		path := string(c.Path())

		requestID := string(c.Request.Header.Peek(RequestIDKey))
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Response.Header.Set(RequestIDKey, requestID)

		c.Next(ctx)

		status := c.Response.StatusCode()
		quiet := path == "/health" || (c.FullPath() == "/api/status/:id" && status < 400)
		if quiet {
			return
		}

		latency := time.Since(start)
		var ev *zerolog.Event
		switch {
		case status >= 500:
			ev = logx.Error()
		case status >= 400:
			ev = logx.Warn()
		default:
			ev = logx.Info()
		}
		ev.Str("request_id", requestID).
			Str("method", string(c.Method())).
			Str("path", path).
			Str("client_ip", c.ClientIP()).
			Int("status", status).
			Int64("latency_ms", latency.Milliseconds()).
			Msg("request completed")
	}
}

// GetRequestID returns the id assigned by Logger.
func GetRequestID(c *app.RequestContext) string {
	return string(c.Response.Header.Peek(RequestIDKey))
}
