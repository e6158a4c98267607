package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SMARTMON_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated; the caller should invoke Config.Validate() after
// Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SMARTMON_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Broker ──
	setBool(&cfg.Broker.LiveEnabled, "SMARTMON_BROKER_LIVE_ENABLED")
	setStr(&cfg.Broker.BridgeURL, "SMARTMON_BROKER_BRIDGE_URL")
	setStr(&cfg.Broker.Token, "SMARTMON_BROKER_TOKEN")
	setStr(&cfg.Broker.TokenFile, "SMARTMON_BROKER_TOKEN_FILE")
	setStr(&cfg.Broker.TokenPassword, "SMARTMON_BROKER_TOKEN_PASSWORD")
	setStr(&cfg.Broker.AccountID, "SMARTMON_BROKER_ACCOUNT_ID")
	setDuration(&cfg.Broker.Timeout, "SMARTMON_BROKER_TIMEOUT")
	setFloat64(&cfg.Broker.SimulatorCash, "SMARTMON_BROKER_SIMULATOR_CASH")

	// ── Oracle ──
	setStr(&cfg.Oracle.BaseURL, "SMARTMON_ORACLE_BASE_URL")
	setStr(&cfg.Oracle.APIKey, "SMARTMON_ORACLE_API_KEY")
	setStr(&cfg.Oracle.Model, "SMARTMON_ORACLE_MODEL")
	setDuration(&cfg.Oracle.Timeout, "SMARTMON_ORACLE_TIMEOUT")
	setFloat64(&cfg.Oracle.Temperature, "SMARTMON_ORACLE_TEMPERATURE")
	setInt(&cfg.Oracle.MaxTokens, "SMARTMON_ORACLE_MAX_TOKENS")
	setInt(&cfg.Oracle.RateLimit, "SMARTMON_ORACLE_RATE_LIMIT")

	// ── Market data ──
	setStr(&cfg.MarketData.BaseURL, "SMARTMON_MARKET_DATA_BASE_URL")
	setStr(&cfg.MarketData.APIKey, "SMARTMON_MARKET_DATA_API_KEY")
	setDuration(&cfg.MarketData.Timeout, "SMARTMON_MARKET_DATA_TIMEOUT")
	setDuration(&cfg.MarketData.MaxStale, "SMARTMON_MARKET_DATA_MAX_STALE")

	// ── Database ──
	setBool(&cfg.Database.Enabled, "SMARTMON_DATABASE_ENABLED")
	setStr(&cfg.Database.DSN, "SMARTMON_DATABASE_DSN")
	setStr(&cfg.Database.DSN, "DATABASE_URL") // compatibility alias
	setStr(&cfg.Database.Host, "SMARTMON_DATABASE_HOST")
	setInt(&cfg.Database.Port, "SMARTMON_DATABASE_PORT")
	setStr(&cfg.Database.Database, "SMARTMON_DATABASE_DATABASE")
	setStr(&cfg.Database.User, "SMARTMON_DATABASE_USER")
	setStr(&cfg.Database.Password, "SMARTMON_DATABASE_PASSWORD")
	setStr(&cfg.Database.SSLMode, "SMARTMON_DATABASE_SSL_MODE")
	setInt(&cfg.Database.PoolMaxConns, "SMARTMON_DATABASE_POOL_MAX_CONNS")
	setInt(&cfg.Database.PoolMinConns, "SMARTMON_DATABASE_POOL_MIN_CONNS")
	setBool(&cfg.Database.RunMigrations, "SMARTMON_DATABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "SMARTMON_REDIS_ENABLED")
	setStr(&cfg.Redis.URL, "SMARTMON_REDIS_URL")
	setStr(&cfg.Redis.Addr, "SMARTMON_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SMARTMON_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SMARTMON_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SMARTMON_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SMARTMON_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SMARTMON_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "SMARTMON_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "SMARTMON_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SMARTMON_S3_REGION")
	setStr(&cfg.S3.Bucket, "SMARTMON_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SMARTMON_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SMARTMON_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SMARTMON_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SMARTMON_S3_FORCE_PATH_STYLE")

	// ── Monitor ──
	setStr(&cfg.Monitor.Timezone, "SMARTMON_MONITOR_TIMEZONE")
	setStringSlice(&cfg.Monitor.Holidays, "SMARTMON_MONITOR_HOLIDAYS")
	setDuration(&cfg.Monitor.CallTimeout, "SMARTMON_MONITOR_CALL_TIMEOUT")
	setDuration(&cfg.Monitor.OracleTimeout, "SMARTMON_MONITOR_ORACLE_TIMEOUT")

	// ── Execution ──
	setFloat64(&cfg.Execution.ReferenceCapital, "SMARTMON_EXECUTION_REFERENCE_CAPITAL")
	setStr(&cfg.Execution.OrderType, "SMARTMON_EXECUTION_ORDER_TYPE")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "SMARTMON_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "SMARTMON_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SMARTMON_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "SMARTMON_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "SMARTMON_SERVER_RATE_LIMIT")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "SMARTMON_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SMARTMON_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SMARTMON_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookURL, "SMARTMON_NOTIFY_WEBHOOK_URL")
	setStr(&cfg.Notify.WebhookSecret, "SMARTMON_NOTIFY_WEBHOOK_SECRET")
	setStringSlice(&cfg.Notify.Events, "SMARTMON_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "SMARTMON_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "SMARTMON_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.Archive.Cron, "SMARTMON_ARCHIVE_CRON")

	// ── Top-level ──
	setStr(&cfg.Mode, "SMARTMON_MODE")
	setStr(&cfg.LogLevel, "SMARTMON_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
