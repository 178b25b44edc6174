package model

import "time"

// ================ Config ================
type InfoModelConfig struct {
	Model       string  `envconfig:"INFO_MODEL" default:"gemini-2.5-flash"`
	MaxTokens   int     `envconfig:"INFO_MAX_TOKENS" default:"600"`
	Temperature float32 `envconfig:"INFO_TEMPERATURE" default:"0.3"`
}

type ImageModelConfig struct {
	Model string `envconfig:"IMAGE_MODEL" default:"gemini-2.5-flash-image"`
}

type SessionConfig struct {
	TTL time.Duration `envconfig:"SESSION_TTL" default:"1h"`
}

type RateLimitConfig struct {
	PerMinute    int           `envconfig:"RATE_LIMIT_MINUTE" default:"1"`
	PerHour      int           `envconfig:"RATE_LIMIT_HOUR" default:"20"`
	PerDay       int           `envconfig:"RATE_LIMIT_DAY" default:"60"`
	Whitelist    []string      `envconfig:"RATE_LIMIT_WHITELIST"`
	BlockTTL     time.Duration `envconfig:"RATE_LIMIT_BLOCK_TTL" default:"1h"`
	BlockOverage int           `envconfig:"RATE_LIMIT_BLOCK_OVERAGE" default:"20"`
}

type CacheConfig struct {
	TTL          time.Duration `envconfig:"CACHE_TTL" default:"168h"`
	Version      string        `envconfig:"CACHE_VERSION" default:"v1"`
	AnalyticsTTL time.Duration `envconfig:"CACHE_ANALYTICS_TTL" default:"720h"`
}

type StoreConfig struct {
	SweepInterval time.Duration `envconfig:"STORE_SWEEP_INTERVAL" default:"1m"`
	MaxEntries    int           `envconfig:"STORE_MAX_ENTRIES" default:"50000"`
}

type PipelineConfig struct {
	Timeout time.Duration `envconfig:"PIPELINE_TIMEOUT" default:"2m"`
}

type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8000"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"30s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"60s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
	// TrustedProxies lists the addresses or CIDRs whose forwarding headers
	// are believed. Empty means the peer address is always the client.
	TrustedProxies []string `envconfig:"SERVER_TRUSTED_PROXIES"`
}
