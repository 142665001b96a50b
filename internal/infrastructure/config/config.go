package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Consumer  ConsumerConfig  `koanf:"consumer"`
	Sampler   SamplerConfig   `koanf:"sampler"`
	Report    ReportConfig    `koanf:"report"`
	RateLimit RateLimitConfig `koanf:"rate_limit"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinConns        int           `koanf:"min_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`

	// StoreTimeout bounds every store operation. Exceeding it is a
	// processing failure, never an internal retry.
	StoreTimeout time.Duration `koanf:"store_timeout"`
}

type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

type ConsumerConfig struct {
	Group    string   `koanf:"group"`
	Name     string   `koanf:"name"`
	Streams  []string `koanf:"streams"`
	BatchMax int64    `koanf:"batch_max"`

	// Block is how long one fetch waits for new entries.
	Block time.Duration `koanf:"block"`

	// MaxConsecutiveFailures bounds head-of-line blocking: after this many
	// consecutive failures on one stream the poisoned envelope is
	// dead-lettered and committed anyway.
	MaxConsecutiveFailures int `koanf:"max_consecutive_failures"`
}

type SamplerConfig struct {
	Interval time.Duration `koanf:"interval"`
	Service  string        `koanf:"service"`
}

type ReportConfig struct {
	// Window is the rolling compliance window.
	Window time.Duration `koanf:"window"`
}

type RateLimitConfig struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

type TelemetryConfig struct {
	Enabled      bool    `koanf:"enabled"`
	OTLPEndpoint string  `koanf:"otlp_endpoint"`
	SamplingRate float64 `koanf:"sampling_rate"`
}

func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MinConns:        5,
			ConnMaxLifetime: 5 * time.Minute,
			StoreTimeout:    5 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Consumer: ConsumerConfig{
			Group:    "audit-pipeline",
			Name:     "auditd-1",
			Streams:  DefaultStreams(),
			BatchMax: 16,
			Block:    2 * time.Second,

			MaxConsecutiveFailures: 5,
		},
		Sampler: SamplerConfig{
			Interval: 60 * time.Second,
			Service:  "audit-pipeline",
		},
		Report: ReportConfig{
			Window: 30 * 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Requests: 100,
			Window:   time.Minute,
		},
		Telemetry: TelemetryConfig{
			Enabled:      false,
			OTLPEndpoint: "localhost:4317",
			SamplingRate: 1.0,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if err := k.Load(file.Provider("configs/config.yaml"), yaml.Parser()); err != nil {
		_ = err
	}

	if err := k.Load(env.Provider("RAB_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "RAB_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// DefaultStreams lists the logical topics the pipeline subscribes to.
func DefaultStreams() []string {
	return []string{
		"USER_REGISTERED",
		"USER_LOGIN",
		"USER_LOGOUT",
		"USER_ROLE_CHANGED",
		"POS_TRANSACTION",
		"STOCK_REGISTERED",
		"INVOICE_GENERATED",
		"SYSTEM_ERROR",
		"SECURITY_EVENT",
	}
}
