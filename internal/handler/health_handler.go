package handler

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
)

const pingTimeout = 2 * time.Second

// Backend is the store surface reported by the health check.
type Backend interface {
	Name() string
	Durable() bool
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	backend Backend
}

func NewHealthHandler(b Backend) *HealthHandler {
	return &HealthHandler{backend: b}
}

// Health is always 200 while the process serves; a degraded store is
// reported, not fatal.
func (h *HealthHandler) Health(ctx context.Context, c *app.RequestContext) {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	status := "ok"
	if err := h.backend.Ping(ctx); err != nil {
		status = "degraded"
	}
	c.JSON(consts.StatusOK, utils.H{
		"status":  status,
		"store":   h.backend.Name(),
		"durable": h.backend.Durable(),
	})
}
