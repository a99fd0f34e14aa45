// Package config defines the top-level configuration for auctiond and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by AUCTIOND_* environment
// variables.
type Config struct {
	Postgres   PostgresConfig   `toml:"postgres"`
	Redis      RedisConfig      `toml:"redis"`
	Ledger     LedgerConfig     `toml:"ledger"`
	Issuer     IssuerConfig     `toml:"issuer"`
	Delegation DelegationConfig `toml:"delegation"`
	Server     ServerConfig     `toml:"server"`
	Archive    ArchiveConfig    `toml:"archive"`
	Notify     NotifyConfig     `toml:"notify"`
	LogLevel   string           `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// LedgerConfig holds the custody service endpoint and credentials.
type LedgerConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// IssuerConfig holds the issuance service endpoint and credentials.
type IssuerConfig struct {
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// DelegationConfig holds the master seed the per-auction delegation keys are
// derived from. Either a raw hex seed or an encrypted seed file.
type DelegationConfig struct {
	MasterSeed        string `toml:"master_seed"`
	EncryptedSeedPath string `toml:"encrypted_seed_path"`
	SeedPassword      string `toml:"seed_password"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"` // if empty, authentication is disabled
}

// ArchiveConfig holds the event archiver configuration.
type ArchiveConfig struct {
	Enabled         bool   `toml:"enabled"`
	IntervalSeconds int    `toml:"interval_seconds"`
	BatchSize       int    `toml:"batch_size"`
	Endpoint        string `toml:"endpoint"`
	Region          string `toml:"region"`
	Bucket          string `toml:"bucket"`
	AccessKey       string `toml:"access_key"`
	SecretKey       string `toml:"secret_key"`
	ForcePathStyle  bool   `toml:"force_path_style"`
}

// NotifyConfig holds operator notification settings.
type NotifyConfig struct {
	// Events filters which event types are forwarded (empty = all).
	Events         []string `toml:"events"`
	TelegramToken  string   `toml:"telegram_token"`
	TelegramChatID string   `toml:"telegram_chat_id"`
	DiscordWebhook string   `toml:"discord_webhook"`
}

// Defaults returns the built-in configuration baseline.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			Port:          5432,
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
		},
		Server: ServerConfig{
			Port: 8080,
		},
		Archive: ArchiveConfig{
			IntervalSeconds: 60,
			BatchSize:       500,
			Region:          "us-east-1",
		},
		LogLevel: "info",
	}
}

// Validate checks that the configuration is complete enough to start the
// service. It returns the first problem found.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Postgres.DSN) == "" && strings.TrimSpace(c.Postgres.Host) == "" {
		return fmt.Errorf("config: postgres requires dsn or host")
	}
	if strings.TrimSpace(c.Redis.Addr) == "" {
		return fmt.Errorf("config: redis addr is required")
	}
	if strings.TrimSpace(c.Ledger.BaseURL) == "" {
		return fmt.Errorf("config: ledger base_url is required")
	}
	if strings.TrimSpace(c.Issuer.BaseURL) == "" {
		return fmt.Errorf("config: issuer base_url is required")
	}
	if strings.TrimSpace(c.Delegation.MasterSeed) == "" &&
		strings.TrimSpace(c.Delegation.EncryptedSeedPath) == "" {
		return fmt.Errorf("config: delegation requires master_seed or encrypted_seed_path")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Bucket) == "" {
		return fmt.Errorf("config: archive enabled but bucket is empty")
	}

	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}

	return nil
}
