package handler

import (
	"context"
	"strconv"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"

	"github.com/animal-explorer/server/internal/cache"
	"github.com/animal-explorer/server/internal/explorer"
	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/ratelimit"
)

const (
	defaultPopularLimit = 10
	maxPopularLimit     = 50
)

// Explorer is the orchestrator surface used by the HTTP layer.
type Explorer interface {
	Submit(ctx context.Context, req explorer.SubmitRequest) (*explorer.SubmitResult, error)
	Poll(ctx context.Context, id string) (model.Snapshot, error)
	RateLimitStatus(ctx context.Context, client string) (ratelimit.Usage, error)
	CacheStats(ctx context.Context) (cache.Stats, error)
	Popular(ctx context.Context, limit int, period string) ([]cache.Popularity, error)
}

type ResearchHandler struct {
	explorer Explorer
	clientIP app.ClientIP
}

// NewResearchHandler builds the handler. A nil clientIP trusts no proxy.
func NewResearchHandler(e Explorer, clientIP app.ClientIP) *ResearchHandler {
	if clientIP == nil {
		clientIP = NewClientIP(nil)
	}
	return &ResearchHandler{explorer: e, clientIP: clientIP}
}

// ResearchRequest is the body of POST /api/research.
type ResearchRequest struct {
	Animal   string `json:"animal"`
	Language string `json:"language"`
}

// Submit starts a research or answers from the cache.
func (h *ResearchHandler) Submit(ctx context.Context, c *app.RequestContext) {
	var req ResearchRequest
	if strings.HasPrefix(string(c.ContentType()), consts.MIMEApplicationJSON) {
		if err := c.BindJSON(&req); err != nil {
			BadRequestResponse(c, "request body must be a JSON object with an animal field")
			return
		}
	} else {
		req.Animal = c.PostForm("animal")
		req.Language = c.PostForm("language")
	}

	res, err := h.explorer.Submit(ctx, explorer.SubmitRequest{
		ClientKey: h.ClientKey(c),
		Animal:    req.Animal,
		Language:  req.Language,
	})
	if err != nil {
		ErrorResponse(c, err)
		return
	}

	if res.Cached {
		c.JSON(consts.StatusOK, utils.H{
			"cached": true,
			"result": res.Snapshot,
		})
		return
	}
	c.JSON(consts.StatusAccepted, utils.H{
		"session_id": res.SessionID,
		"status_url": "/api/status/" + res.SessionID,
	})
}

// Status returns the snapshot of a session.
func (h *ResearchHandler) Status(ctx context.Context, c *app.RequestContext) {
	snap, err := h.explorer.Poll(ctx, c.Param("id"))
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	c.JSON(consts.StatusOK, snap)
}

// RateLimit reports the caller's usage of every window.
func (h *ResearchHandler) RateLimit(ctx context.Context, c *app.RequestContext) {
	usage, err := h.explorer.RateLimitStatus(ctx, h.ClientKey(c))
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	c.JSON(consts.StatusOK, usage)
}

func (h *ResearchHandler) CacheStats(ctx context.Context, c *app.RequestContext) {
	stats, err := h.explorer.CacheStats(ctx)
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	c.JSON(consts.StatusOK, stats)
}

// Popular ranks searches; ?period=day|week restricts to a rolling window.
func (h *ResearchHandler) Popular(ctx context.Context, c *app.RequestContext) {
	limit := defaultPopularLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			BadRequestResponse(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxPopularLimit)
	}
	period := c.DefaultQuery("period", "all")

	top, err := h.explorer.Popular(ctx, limit, period)
	if err != nil {
		ErrorResponse(c, err)
		return
	}
	c.JSON(consts.StatusOK, utils.H{
		"period":  period,
		"queries": top,
	})
}

// ClientKey identifies the caller for rate limiting. Forwarding headers only
// count when they come from a trusted proxy.
func (h *ResearchHandler) ClientKey(c *app.RequestContext) string {
	if ip := h.clientIP(c); ip != "" {
		return ip
	}
	return "unknown"
}
