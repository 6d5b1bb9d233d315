package main

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Rate limiter cursor backends
const (
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// Config holds server configuration loaded from environment variables
type Config struct {
	Port              int           `envconfig:"PORT" default:"8080"`
	DatabaseURL       string        `envconfig:"DATABASE_URL" required:"true"`
	RedisURL          string        `envconfig:"REDIS_URL"`
	RateLimitBackend  string        `envconfig:"RATE_LIMIT_BACKEND" default:"postgres"`
	PublicBaseURL     string        `envconfig:"BROKER_PUBLIC_BASE_URL" required:"true"`
	ClientToken       string        `envconfig:"BROKER_CLIENT_TOKEN"`
	AllowUnauthClient bool          `envconfig:"ALLOW_UNAUTHENTICATED_BROKER" default:"false"`
	ConsumerKey       string        `envconfig:"DISCOGS_CONSUMER_KEY" required:"true"`
	ConsumerSecret    string        `envconfig:"DISCOGS_CONSUMER_SECRET" required:"true"`
	UserAgent         string        `envconfig:"DISCOGS_USER_AGENT"`
	SessionTTL        time.Duration `envconfig:"DEVICE_SESSION_TTL" default:"15m"`
	SessionTokenTTL   time.Duration `envconfig:"SESSION_TOKEN_TTL" default:"720h"`
	SearchCacheTTL    time.Duration `envconfig:"SEARCH_CACHE_TTL" default:"168h"`
	MinInterval       time.Duration `envconfig:"DISCOGS_MIN_INTERVAL" default:"1100ms"`
	RetryAfter        time.Duration `envconfig:"DISCOGS_RETRY_AFTER" default:"30s"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
	SweepInterval     time.Duration `envconfig:"SWEEP_INTERVAL" default:"1h"`
	SweepGrace        time.Duration `envconfig:"SWEEP_GRACE" default:"1h"`
	LogLevel          string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat         string        `envconfig:"LOG_FORMAT" default:"json"`
	ReadHeaderTimeout time.Duration `envconfig:"READ_HEADER_TIMEOUT" default:"5s"`
	ReadTimeout       time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `envconfig:"WRITE_TIMEOUT" default:"90s"`
	IdleTimeout       time.Duration `envconfig:"IDLE_TIMEOUT" default:"60s"`
	RequestTimeout    time.Duration `envconfig:"REQUEST_TIMEOUT" default:"75s"`
}

// validate checks settings envconfig cannot express. required only asserts
// that a variable is set, so blank values are rejected here.
func (c *Config) validate() error {
	for _, v := range []struct{ name, value string }{
		{"DATABASE_URL", c.DatabaseURL},
		{"BROKER_PUBLIC_BASE_URL", c.PublicBaseURL},
		{"DISCOGS_CONSUMER_KEY", c.ConsumerKey},
		{"DISCOGS_CONSUMER_SECRET", c.ConsumerSecret},
	} {
		if strings.TrimSpace(v.value) == "" {
			return fmt.Errorf("%s must not be empty", v.name)
		}
	}

	base, err := url.Parse(strings.TrimSpace(c.PublicBaseURL))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return fmt.Errorf("BROKER_PUBLIC_BASE_URL %q must be an absolute URL", c.PublicBaseURL)
	}

	if c.RetryAfter <= 0 {
		return fmt.Errorf("DISCOGS_RETRY_AFTER must be positive")
	}

	switch strings.ToLower(c.RateLimitBackend) {
	case backendPostgres:
	case backendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("REDIS_URL is required when RATE_LIMIT_BACKEND=%s", backendRedis)
		}
	default:
		return fmt.Errorf("unknown RATE_LIMIT_BACKEND %q", c.RateLimitBackend)
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("unknown LOG_FORMAT %q", c.LogFormat)
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL %q: %w", s, err)
	}
	return level, nil
}
