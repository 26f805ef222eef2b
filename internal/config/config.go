package config

import (
	"fmt"
	"time"

	"github.com/Netflix/go-env"
)

type Config struct {
	DatabaseDSN     string `env:"DATABASE_DSN,required=true"`
	RedisURL        string `env:"REDIS_URL,required=true"`
	RabbitMQURL     string `env:"RABBITMQ_URL"`
	FaxAPIURL       string `env:"FAX_API_URL,required=true"`
	FaxAPIUser      string `env:"FAX_API_USER,required=true"`
	FaxAPIPassword  string `env:"FAX_API_PASSWORD,required=true"`
	MaxConcurrent   int    `env:"MAX_CONCURRENT,default=10"`
	ChunkSize       int    `env:"CHUNK_SIZE,default=100"`
	PollIntervalMs  int    `env:"POLL_INTERVAL_MS,default=5000"`
	MaxPollAttempts int    `env:"MAX_POLL_ATTEMPTS,default=120"`
	RateLimitPerSec int    `env:"RATE_LIMIT_PER_SEC,default=50"`
	APIPort         int    `env:"API_PORT,default=8080"`
	LogLevel        string `env:"LOG_LEVEL,default=info"`
}

func Load() (*Config, error) {
	var cfg Config
	_, err := env.UnmarshalFromEnviron(&cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("MAX_CONCURRENT must be positive (got %d)", c.MaxConcurrent)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive (got %d)", c.ChunkSize)
	}
	if c.PollIntervalMs <= 0 {
		return fmt.Errorf("POLL_INTERVAL_MS must be positive (got %d)", c.PollIntervalMs)
	}
	if c.MaxPollAttempts <= 0 {
		return fmt.Errorf("MAX_POLL_ATTEMPTS must be positive (got %d)", c.MaxPollAttempts)
	}
	return nil
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
