package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNotConfigured is returned by New when no URL is set.
var ErrNotConfigured = errors.New("redis url not configured")

type Config struct {
	URL          string `split_words:"true"`
	ReadTimeout  int    `split_words:"true" default:"5"`
	WriteTimeout int    `split_words:"true" default:"5"`
	DialTimeout  int    `split_words:"true" default:"5"`
}

// NormalizeURL accepts the URL shapes hosting providers hand out and turns them
// into something redis.ParseURL understands.
func NormalizeURL(raw string) (string, error) {
	u := strings.TrimSpace(raw)
	switch {
	case u == "":
		return "", ErrNotConfigured
	case strings.HasPrefix(u, "redis://"), strings.HasPrefix(u, "rediss://"), strings.HasPrefix(u, "unix://"):
		return u, nil
	case strings.HasPrefix(u, "http://"), strings.HasPrefix(u, "https://"):
		if strings.Contains(u, "upstash.io") {
			return "", fmt.Errorf("upstash REST url given, use the redis url instead")
		}
		u = strings.Replace(u, "https://", "rediss://", 1)
		return strings.Replace(u, "http://", "redis://", 1), nil
	case !strings.Contains(u, "://"):
		return "redis://" + u, nil
	default:
		return "", fmt.Errorf("unsupported redis url scheme in %q", redactURL(u))
	}
}

// Options builds client options without connecting.
func (r *Config) Options() (*redis.Options, error) {
	u, err := NormalizeURL(r.URL)
	if err != nil {
		return nil, err
	}
	opts, err := redis.ParseURL(u)
	if err != nil {
		return nil, err
	}

	opts.ReadTimeout = time.Duration(r.ReadTimeout) * time.Second
	opts.WriteTimeout = time.Duration(r.WriteTimeout) * time.Second
	opts.DialTimeout = time.Duration(r.DialTimeout) * time.Second
	return opts, nil
}

func (r *Config) New(ctx context.Context) (*redis.Client, error) {
	opts, err := r.Options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	cmd := client.Ping(ctx)
	if cmd.Err() != nil {
		_ = client.Close()
		return nil, cmd.Err()
	}

	return client, nil
}

func (r *Config) MustNew(ctx context.Context) *redis.Client {
	client, err := r.New(ctx)
	if err != nil {
		panic(err)
	}

	return client
}

// Redacted returns the configured URL with any password masked, for logs.
func (r *Config) Redacted() string {
	return redactURL(r.URL)
}

func redactURL(u string) string {
	at := strings.LastIndex(u, "@")
	scheme := strings.Index(u, "://")
	if at < 0 || scheme < 0 || at < scheme {
		return u
	}
	creds := u[scheme+3 : at]
	if i := strings.Index(creds, ":"); i >= 0 {
		creds = creds[:i+1] + "****"
	} else {
		creds = "****"
	}
	return u[:scheme+3] + creds + u[at:]
}
