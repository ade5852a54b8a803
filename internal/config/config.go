// Package config loads the orchestrator's process-level configuration:
// engine tuning, state-store backend selection, the provider response
// cache, and circuit-breaker settings, read from YAML via gopkg.in/yaml.v3 and validated via
// go-playground/validator/v10, the same library pair
// pkg/workflow/types/parse.go already uses for workflow documents.
package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/globalbusinessadvisors/llm-orchestrator/internal/apperrors"
	wftypes "github.com/globalbusinessadvisors/llm-orchestrator/pkg/workflow/types"
)

var validate = validator.New()

// StateBackend selects which pkg/state implementation the process
// wires up.
type StateBackend string

const (
	StateBackendPostgres StateBackend = "postgres"
	StateBackendSQLite   StateBackend = "sqlite"
	StateBackendNone     StateBackend = "none"
)

// EngineConfig tunes the workflow engine façade.
type EngineConfig struct {
	MaxConcurrency        int                 `yaml:"max_concurrency" validate:"gte=0"`
	DefaultTimeoutSeconds uint64              `yaml:"default_timeout_seconds" validate:"gte=0"`
	CheckpointRetention   int                 `yaml:"checkpoint_retention" validate:"gte=1"`
	DefaultRetry          wftypes.RetryPolicy `yaml:"default_retry"`
}

// DefaultTimeout returns the engine's default workflow timeout as a
// time.Duration, falling back to one hour (matching
// types.Workflow.Timeout's default) when unset.
func (c EngineConfig) DefaultTimeout() time.Duration {
	if c.DefaultTimeoutSeconds == 0 {
		return time.Hour
	}
	return time.Duration(c.DefaultTimeoutSeconds) * time.Second
}

// StateStoreConfig selects and configures the persistence backend.
type StateStoreConfig struct {
	Backend StateBackend `yaml:"backend" validate:"required,oneof=postgres sqlite none"`

	// Postgres fields, required when Backend == postgres.
	DSN            string `yaml:"dsn,omitempty"`
	Driver         string `yaml:"driver,omitempty" validate:"omitempty,oneof=pgx postgres"`
	MinConnections int    `yaml:"min_connections,omitempty" validate:"gte=0"`
	MaxConnections int    `yaml:"max_connections,omitempty" validate:"gte=0"`

	// SQLite field, required when Backend == sqlite.
	SQLitePath string `yaml:"sqlite_path,omitempty"`

	RetentionDays int `yaml:"retention_days" validate:"gte=0"`
}

// CacheConfig configures the Redis-backed provider response cache.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr,omitempty"`
	TTL     time.Duration `yaml:"-"`
	TTLSec  uint64        `yaml:"ttl_seconds,omitempty"`
}

// CircuitBreakerConfig configures the sony/gobreaker wrapper around
// provider calls.
type CircuitBreakerConfig struct {
	MaxRequests      uint32  `yaml:"max_requests"`
	IntervalSeconds  uint64  `yaml:"interval_seconds"`
	TimeoutSeconds   uint64  `yaml:"timeout_seconds"`
	FailureThreshold float64 `yaml:"failure_threshold" validate:"omitempty,gte=0,lte=1"`
}

// Config is the complete process configuration.
type Config struct {
	LogLevel       string               `yaml:"log_level" validate:"omitempty,oneof=trace debug info warn error fatal panic"`
	Engine         EngineConfig         `yaml:"engine"`
	StateStore     StateStoreConfig     `yaml:"state_store"`
	Cache          CacheConfig          `yaml:"cache"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// Default returns a Config with every subsystem's documented defaults,
// the shape a fresh deployment starts from.
func Default() Config {
	return Config{
		LogLevel: "info",
		Engine: EngineConfig{
			MaxConcurrency:        10,
			DefaultTimeoutSeconds: 3600,
			CheckpointRetention:   10,
			DefaultRetry:          wftypes.DefaultRetryPolicy(),
		},
		StateStore: StateStoreConfig{
			Backend:        StateBackendSQLite,
			SQLitePath:     "orchestrator.db",
			MinConnections: 5,
			MaxConnections: 20,
			RetentionDays:  30,
		},
		Cache: CacheConfig{
			Enabled: false,
			TTLSec:  300,
		},
		CircuitBreaker: CircuitBreakerConfig{
			MaxRequests:      5,
			IntervalSeconds:  60,
			TimeoutSeconds:   30,
			FailureThreshold: 0.5,
		},
	}
}

// Load reads and validates a Config from a YAML file at path, filling
// every unset field from Default.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeIoError, "failed to read config file")
	}
	return Parse(data)
}

// Parse reads and validates a Config from raw YAML bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeParse, "failed to parse config YAML")
	}
	cfg.Cache.TTL = time.Duration(cfg.Cache.TTLSec) * time.Second
	cfg.Engine.DefaultRetry.Normalize()

	if err := validate.Struct(&cfg); err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeValidation, "invalid configuration")
	}
	if cfg.StateStore.Backend == StateBackendPostgres && cfg.StateStore.DSN == "" {
		return nil, apperrors.NewValidationError("state_store.dsn is required when backend is postgres")
	}
	if cfg.StateStore.Backend == StateBackendSQLite && cfg.StateStore.SQLitePath == "" {
		return nil, apperrors.NewValidationError("state_store.sqlite_path is required when backend is sqlite")
	}
	return &cfg, nil
}
