package router

import (
	"github.com/cloudwego/hertz/pkg/route"

	"github.com/animal-explorer/server/internal/handler"
	"github.com/animal-explorer/server/internal/middleware"
)

// Setup sets up all routes
func Setup(r *route.Engine, researchHandler *handler.ResearchHandler, healthHandler *handler.HealthHandler) {
	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.CORS())

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")
	{
		api.POST("/research", researchHandler.Submit)
		api.GET("/status/:id", researchHandler.Status)
		api.GET("/rate-limit", researchHandler.RateLimit)

		cache := api.Group("/cache")
		{
			cache.GET("/stats", researchHandler.CacheStats)
			cache.GET("/popular", researchHandler.Popular)
		}
	}
}
