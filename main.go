package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/animal-explorer/server/internal/cache"
	"github.com/animal-explorer/server/internal/core"
	"github.com/animal-explorer/server/internal/explorer"
	"github.com/animal-explorer/server/internal/explorer/graph"
	"github.com/animal-explorer/server/internal/explorer/model"
	"github.com/animal-explorer/server/internal/explorer/providers"
	"github.com/animal-explorer/server/internal/handler"
	"github.com/animal-explorer/server/internal/ratelimit"
	"github.com/animal-explorer/server/internal/router"
	"github.com/animal-explorer/server/internal/session"
	"github.com/animal-explorer/server/internal/store"
	logx "github.com/animal-explorer/server/pkg/logger"
	pkgredis "github.com/animal-explorer/server/pkg/redis"
)

// AppConfig defines all configurable parameters of the server, sourced from
// environment variables (loaded from .env for local runs).
type AppConfig struct {
	Environment core.Environment `envconfig:"ENVIRONMENT" default:"development"`

	// Infrastructure
	Server model.ServerConfig
	Redis  pkgredis.Config
	Store  model.StoreConfig

	// LLM provider
	Gemini providers.ClientConfig
	Info   model.InfoModelConfig
	Image  model.ImageModelConfig

	// Explorer configs
	Session   model.SessionConfig
	RateLimit model.RateLimitConfig
	Cache     model.CacheConfig
	Pipeline  model.PipelineConfig
}

func main() {
	// Load .env file
	envErr := godotenv.Load(".env")

	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logx.Init()
		logx.Fatal().Err(err).Msg("Failed to process environment config")
	}

	logx.Init(logx.LoggerOpts{Environment: cfg.Environment})
	hlog.SetLogger(logx.NewHertzLogger())
	if envErr != nil {
		logx.Warn().Err(envErr).Msg("Could not load .env file")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Durable store with in-memory fallback
	backend := store.Connect(ctx, cfg.Redis, store.NewMemoryStore(store.WithMaxEntries(cfg.Store.MaxEntries)))
	defer func() {
		if err := backend.Close(); err != nil {
			logx.Error().Err(err).Msg("Failed to close store")
		}
	}()
	go backend.Run(ctx, cfg.Store.SweepInterval)

	tracker := session.NewTracker(backend, cfg.Session.TTL)
	results := cache.New(backend, cfg.Cache)
	limiter := ratelimit.New(backend, cfg.RateLimit)

	// Providers and pipeline
	client, err := providers.NewClient(ctx, cfg.Gemini)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create Gemini client")
	}
	info, err := providers.NewGeminiInfoProvider(ctx, client, cfg.Info)
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to create info provider")
	}
	images := providers.NewImageProvider(client, cfg.Image)

	runner, err := graph.BuildResearchGraph(ctx, graph.Config{
		Info:     providers.ShareInfo(info),
		Image:    providers.ShareImage(images),
		Progress: tracker,
		Results:  results,
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("Failed to build research graph")
	}

	svc := explorer.NewService(explorer.Config{
		Tracker:  tracker,
		Limiter:  limiter,
		Cache:    results,
		Runner:   runner,
		Durable:  backend.Durable,
		Pipeline: cfg.Pipeline,
	})

	// HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	h := server.New(
		server.WithHostPorts(addr),
		server.WithReadTimeout(cfg.Server.ReadTimeout),
		server.WithWriteTimeout(cfg.Server.WriteTimeout),
		server.WithExitWaitTime(cfg.Server.ShutdownTimeout),
	)
	trusted, err := handler.ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		logx.Fatal().Err(err).Msg("Invalid SERVER_TRUSTED_PROXIES")
	}
	clientIP := handler.NewClientIP(trusted)
	h.SetClientIPFunc(clientIP)
	router.Setup(h.Engine, handler.NewResearchHandler(svc, clientIP), handler.NewHealthHandler(backend))

	go func() {
		if err := h.Run(); err != nil {
			logx.Error().Err(err).Msg("Server run failed")
			os.Exit(1)
		}
	}()
	logx.Info().
		Str("address", addr).
		Str("environment", cfg.Environment.String()).
		Str("store", backend.Name()).
		Bool("durable", backend.Durable()).
		Msg("Animal explorer server started")

	<-ctx.Done()
	logx.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := h.Shutdown(shutdownCtx); err != nil {
		logx.Error().Err(err).Msg("Server shutdown failed")
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("Pipelines still running at shutdown")
	}

	logx.Info().Msg("Server stopped gracefully")
}
