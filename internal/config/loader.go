package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads configuration in layers: built-in defaults, then the TOML file
// at path (optional if path is empty), then a .env file if present, then
// AUCTIOND_* environment variables. Later layers win.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// .env is a developer convenience; absence is not an error.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr("AUCTIOND_POSTGRES_DSN", &cfg.Postgres.DSN)
	setStr("AUCTIOND_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("AUCTIOND_POSTGRES_PORT", &cfg.Postgres.Port)
	setStr("AUCTIOND_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setStr("AUCTIOND_POSTGRES_USER", &cfg.Postgres.User)
	setStr("AUCTIOND_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setStr("AUCTIOND_POSTGRES_SSL_MODE", &cfg.Postgres.SSLMode)
	setBool("AUCTIOND_POSTGRES_RUN_MIGRATIONS", &cfg.Postgres.RunMigrations)

	setStr("AUCTIOND_REDIS_ADDR", &cfg.Redis.Addr)
	setStr("AUCTIOND_REDIS_PASSWORD", &cfg.Redis.Password)
	setInt("AUCTIOND_REDIS_DB", &cfg.Redis.DB)
	setBool("AUCTIOND_REDIS_TLS", &cfg.Redis.TLSEnabled)

	setStr("AUCTIOND_LEDGER_BASE_URL", &cfg.Ledger.BaseURL)
	setStr("AUCTIOND_LEDGER_API_KEY", &cfg.Ledger.APIKey)
	setStr("AUCTIOND_ISSUER_BASE_URL", &cfg.Issuer.BaseURL)
	setStr("AUCTIOND_ISSUER_API_KEY", &cfg.Issuer.APIKey)

	setStr("AUCTIOND_MASTER_SEED", &cfg.Delegation.MasterSeed)
	setStr("AUCTIOND_SEED_PATH", &cfg.Delegation.EncryptedSeedPath)
	setStr("AUCTIOND_SEED_PASSWORD", &cfg.Delegation.SeedPassword)

	setInt("AUCTIOND_SERVER_PORT", &cfg.Server.Port)
	setStr("AUCTIOND_SERVER_API_KEY", &cfg.Server.APIKey)
	if v := os.Getenv("AUCTIOND_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitAndTrim(v)
	}

	setBool("AUCTIOND_ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	setStr("AUCTIOND_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	setStr("AUCTIOND_ARCHIVE_REGION", &cfg.Archive.Region)
	setStr("AUCTIOND_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	setStr("AUCTIOND_ARCHIVE_ACCESS_KEY", &cfg.Archive.AccessKey)
	setStr("AUCTIOND_ARCHIVE_SECRET_KEY", &cfg.Archive.SecretKey)

	setStr("AUCTIOND_TELEGRAM_TOKEN", &cfg.Notify.TelegramToken)
	setStr("AUCTIOND_TELEGRAM_CHAT_ID", &cfg.Notify.TelegramChatID)
	setStr("AUCTIOND_DISCORD_WEBHOOK", &cfg.Notify.DiscordWebhook)
	if v := os.Getenv("AUCTIOND_NOTIFY_EVENTS"); v != "" {
		cfg.Notify.Events = splitAndTrim(v)
	}

	setStr("AUCTIOND_LOG_LEVEL", &cfg.LogLevel)
}

func setStr(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
