package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server ServerConfig `env:",prefix=SERVER_"`
	DB     DBConfig     `env:",prefix=DB_"`
	Ingest IngestConfig `env:",prefix=INGEST_"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host string `env:"HOST,default=0.0.0.0"`
	Port string `env:"PORT,default=8080"`
}

// DBConfig holds the embedded database settings.
type DBConfig struct {
	Path string `env:"PATH,default=data/deals.db"`
}

// IngestConfig holds pipeline settings.
type IngestConfig struct {
	// StoresJSON is the inline source configuration document. When empty,
	// StoresPath is tried, then the embedded default list.
	StoresJSON string `env:"STORES_JSON"`
	StoresPath string `env:"STORES_PATH"`

	Interval        time.Duration `env:"INTERVAL,default=30m"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL,default=24h"`
	Retention       time.Duration `env:"RETENTION,default=336h"` // 14 days

	FetchTimeout time.Duration `env:"FETCH_TIMEOUT,default=25s"`
	Concurrency  int           `env:"CONCURRENCY,default=4"`
	UserAgent    string        `env:"USER_AGENT,default=Mozilla/5.0 (compatible; DealFeedBot/1.0)"`
}

// Load reads configuration from environment variables.
func Load(ctx context.Context) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}
	return &cfg, nil
}

// Addr returns the listen address for the HTTP server.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%s", c.Host, c.Port)
}
