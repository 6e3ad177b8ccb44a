package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `json:"host" env:"SERVER_HOST"`
	Port int    `json:"port" env:"SERVER_PORT"`
}

// DatabaseConfig controls persistence.
type DatabaseConfig struct {
	Driver          string `json:"driver" env:"DATABASE_DRIVER"`
	DSN             string `json:"dsn" env:"DATABASE_DSN"`
	Host            string `json:"host" env:"DATABASE_HOST"`
	Port            int    `json:"port" env:"DATABASE_PORT"`
	User            string `json:"user" env:"DATABASE_USER"`
	Password        string `json:"password" env:"DATABASE_PASSWORD"`
	Name            string `json:"name" env:"DATABASE_NAME"`
	SSLMode         string `json:"sslmode" env:"DATABASE_SSLMODE"`
	MaxOpenConns    int    `json:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int    `json:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	StatementTimeoutMS int `json:"statement_timeout_ms" env:"DATABASE_STATEMENT_TIMEOUT_MS"`
}

// LoggingConfig controls application logging.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL"`
	Format     string `json:"format" env:"LOG_FORMAT"`
	Output     string `json:"output" env:"LOG_OUTPUT"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// AuthConfig controls HTTP API authentication and token signing.
type AuthConfig struct {
	Tokens          []string `json:"tokens"`
	JWTSecret       string   `json:"jwt_secret" env:"AUTH_JWT_SECRET"`
	EngineJWTSecret string   `json:"engine_jwt_secret" env:"AUTH_ENGINE_JWT_SECRET"`
	CapabilityTTLSec int     `json:"capability_ttl_sec" env:"AUTH_CAPABILITY_TTL_SEC"`
}

// LeaseConfig controls work-item and run-execution lease behavior (C4).
type LeaseConfig struct {
	DurationSeconds        int `json:"duration_seconds" env:"LEASE_DURATION_SECONDS"`
	HeartbeatMinIntervalSec int `json:"heartbeat_min_interval_sec" env:"HEARTBEAT_MIN_INTERVAL_SEC"`
	ExpirySweepIntervalSec int `json:"expiry_sweep_interval_sec" env:"LEASE_EXPIRY_SWEEP_INTERVAL_SEC"`
}

// ProjectorConfig controls the async catch-up worker (C3).
type ProjectorConfig struct {
	CatchUpIntervalSec int `json:"catch_up_interval_sec" env:"PROJECTOR_CATCHUP_INTERVAL_SEC"`
	MaxRetries         int `json:"max_retries" env:"PROJECTOR_MAX_RETRIES"`
}

// HealthConfig controls the /v1/system/health subsystem.
type HealthConfig struct {
	DBStatementTimeoutMS     int `json:"db_statement_timeout_ms" env:"HEALTH_DB_STATEMENT_TIMEOUT_MS"`
	CacheTTLSec              int `json:"cache_ttl_sec" env:"HEALTH_CACHE_TTL_SEC"`
	CacheMaxEntries           int `json:"cache_max_entries" env:"HEALTH_CACHE_MAX_ENTRIES"`
	DownCronFreshnessSec      int `json:"down_cron_freshness_sec" env:"HEALTH_DOWN_CRON_FRESHNESS_SEC"`
	DownProjectionLagSec      int `json:"down_projection_lag_sec" env:"HEALTH_DOWN_PROJECTION_LAG_SEC"`
	RedisAddr                 string `json:"redis_addr" env:"HEALTH_REDIS_ADDR"`
}

// RateLimitConfig controls policy-engine egress quota / flood detection.
type RateLimitConfig struct {
	FloodOffendersWarn int `json:"flood_offenders_warn" env:"RATE_LIMIT_FLOOD_OFFENDERS_WARN"`
}

// PolicyConfig controls the workspace-wide defaults the policy engine (C5)
// reads outside of a per-request body: the enforce/dry_run toggle and the
// emergency kill switch.
type PolicyConfig struct {
	EnforcementMode string `json:"enforcement_mode" env:"POLICY_ENFORCEMENT_MODE"`
	KillSwitch      bool   `json:"kill_switch" env:"POLICY_KILL_SWITCH"`
}

// PipelineConfig controls the pipeline projection stream (C10 enrichment).
type PipelineConfig struct {
	StreamPollIntervalMS int `json:"stream_poll_interval_ms" env:"PIPELINE_STREAM_POLL_INTERVAL_MS"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Database  DatabaseConfig  `json:"database"`
	Logging   LoggingConfig   `json:"logging"`
	Auth      AuthConfig      `json:"auth"`
	Lease     LeaseConfig     `json:"lease"`
	Projector ProjectorConfig `json:"projector"`
	Health    HealthConfig    `json:"health"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	Policy    PolicyConfig    `json:"policy"`
	Pipeline  PipelineConfig  `json:"pipeline"`
}

// New returns a configuration populated with defaults.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			Driver:             "postgres",
			MaxOpenConns:       10,
			MaxIdleConns:       5,
			ConnMaxLifetime:    300,
			StatementTimeoutMS: 5000,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			Output:     "stdout",
			FilePrefix: "controlplane",
		},
		Auth: AuthConfig{
			CapabilityTTLSec: 3600,
		},
		Lease: LeaseConfig{
			DurationSeconds:         300,
			HeartbeatMinIntervalSec: 10,
			ExpirySweepIntervalSec:  30,
		},
		Projector: ProjectorConfig{
			CatchUpIntervalSec: 5,
			MaxRetries:         5,
		},
		Health: HealthConfig{
			DBStatementTimeoutMS: 2000,
			CacheTTLSec:          10,
			CacheMaxEntries:      256,
			DownCronFreshnessSec: 120,
			DownProjectionLagSec: 60,
			RedisAddr:            "localhost:6379",
		},
		RateLimit: RateLimitConfig{
			FloodOffendersWarn: 5,
		},
		Policy: PolicyConfig{
			EnforcementMode: "enforce",
		},
		Pipeline: PipelineConfig{
			StreamPollIntervalMS: 1000,
		},
	}
}

// ConnectionString builds a PostgreSQL connection string using host parameters.
func (c DatabaseConfig) ConnectionString() string {
	if c.DSN != "" {
		return c.DSN
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

// Load loads configuration from file (if present) and environment variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := New()

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := loadFromFile(path, cfg); err != nil {
			return nil, err
		}
	} else {
		_ = loadFromFile("configs/config.yaml", cfg)
	}

	if err := envdecode.Decode(cfg); err != nil {
		// envdecode returns an error when no tagged fields are present in the
		// environment; treat that case as "no overrides" so local runs work
		// without exporting vars.
		if !strings.Contains(err.Error(), "none of the target fields were set") {
			return nil, fmt.Errorf("decode env: %w", err)
		}
	}

	applyDatabaseURLOverride(cfg)

	return cfg, nil
}

// LoadFile reads configuration from a YAML file.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if err := loadFromFile(path, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	expanded, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return err
	}
	return nil
}

// LoadConfig is a helper used by tests to load JSON config snippets.
func LoadConfig(path string) (*Config, error) {
	cfg := New()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	applyDatabaseURLOverride(cfg)
	return cfg, nil
}

// applyDatabaseURLOverride aligns config loading with cmd/controlplaned: DATABASE_URL
// overrides any file-based DSN to reduce setup friction.
func applyDatabaseURLOverride(cfg *Config) {
	if cfg == nil {
		return
	}
	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Database.DSN = dsn
	}
}
