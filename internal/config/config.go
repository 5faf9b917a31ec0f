package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	TopologyFile  = "file"
	TopologyStore = "store"
)

type Config struct {
	Server   ServerConfig
	Feed     FeedConfig
	Pipeline PipelineConfig
	Ingest   IngestConfig
	DB       DatabaseConfig
	Logging  LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int `validate:"min=1,max=65535"`
	RateLimitRPS int `validate:"min=1"`
}

type FeedConfig struct {
	URL     string `validate:"omitempty,url"`
	File    string // local feed copy, used instead of URL when set
	Timeout time.Duration
}

type PipelineConfig struct {
	Topology        string `validate:"oneof=file store"`
	RefreshInterval time.Duration
	RecentN         int `validate:"min=1,max=1000"`
	StoreLimit      int `validate:"min=0"`
}

// IngestConfig drives the store writer in the store topology.
type IngestConfig struct {
	Enabled    bool
	Interval   time.Duration
	BufferSize int `validate:"min=1"`
}

type DatabaseConfig struct {
	Path         string
	SnapshotPath string
}

type LoggingConfig struct {
	Level  string `validate:"oneof=debug info warn error"`
	Format string `validate:"oneof=json text"`
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "localhost"),
			Port:         getEnvInt("SERVER_PORT", 8052),
			RateLimitRPS: getEnvInt("RATE_LIMIT_RPS", 5),
		},
		Feed: FeedConfig{
			URL:     getEnv("FEED_URL", "https://emergencias.pt/data"),
			File:    getEnv("FEED_FILE", ""),
			Timeout: getEnvDuration("FEED_TIMEOUT", 15*time.Second),
		},
		Pipeline: PipelineConfig{
			Topology:        getEnv("TOPOLOGY", TopologyFile),
			RefreshInterval: getEnvDuration("REFRESH_INTERVAL", time.Minute),
			RecentN:         getEnvInt("RECENT_N", 10),
			StoreLimit:      getEnvInt("STORE_LIMIT", 0),
		},
		Ingest: IngestConfig{
			Enabled:    getEnvBool("INGEST_ENABLED", false),
			Interval:   getEnvDuration("INGEST_INTERVAL", time.Minute),
			BufferSize: getEnvInt("WORKER_BUFFER_SIZE", 20),
		},
		DB: DatabaseConfig{
			Path:         getEnv("DB_PATH", "./data/incidents.db"),
			SnapshotPath: getEnv("SNAPSHOT_PATH", "./data/112.csv"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

var validate = validator.New()

func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if c.Feed.URL == "" && c.Feed.File == "" {
		return fmt.Errorf("one of FEED_URL or FEED_FILE is required")
	}
	if c.Feed.Timeout <= 0 {
		return fmt.Errorf("feed timeout must be positive")
	}
	if c.Pipeline.RefreshInterval < 5*time.Second {
		return fmt.Errorf("refresh interval must be at least 5 seconds")
	}

	switch c.Pipeline.Topology {
	case TopologyFile:
		if c.DB.SnapshotPath == "" {
			return fmt.Errorf("SNAPSHOT_PATH is required for the file topology")
		}
		if c.Ingest.Enabled {
			return fmt.Errorf("the ingest writer needs the store topology")
		}
	case TopologyStore:
		if c.DB.Path == "" {
			return fmt.Errorf("DB_PATH is required for the store topology")
		}
		if c.Ingest.Enabled && c.Ingest.Interval < 5*time.Second {
			return fmt.Errorf("ingest interval must be at least 5 seconds")
		}
	}

	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return fallback
}
