// Package config defines the top-level configuration for the monitoring
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/session"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SMARTMON_* environment variables.
type Config struct {
	Broker     BrokerConfig     `toml:"broker"`
	Oracle     OracleConfig     `toml:"oracle"`
	MarketData MarketDataConfig `toml:"market_data"`
	Database   DatabaseConfig   `toml:"database"`
	Redis      RedisConfig      `toml:"redis"`
	S3         S3Config         `toml:"s3"`
	Monitor    MonitorConfig    `toml:"monitor"`
	Execution  ExecutionConfig  `toml:"execution"`
	Server     ServerConfig     `toml:"server"`
	Notify     NotifyConfig     `toml:"notify"`
	Archive    ArchiveConfig    `toml:"archive"`
	// Mode is "monitor" (loops only), "full" (loops and HTTP API) or "once"
	// (analyse every enabled task one time, then exit).
	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// BrokerConfig selects and configures the brokerage gateway.
type BrokerConfig struct {
	// LiveEnabled tries the HTTP trading bridge first; the simulator is used
	// when it is off or unreachable.
	LiveEnabled bool   `toml:"live_enabled"`
	BridgeURL   string `toml:"bridge_url"`
	Token       string `toml:"token"`
	// TokenFile holds a token sealed with "smartmonitor -seal"; it is read
	// only when Token is empty.
	TokenFile      string   `toml:"token_file"`
	TokenPassword  string   `toml:"token_password"`
	AccountID      string   `toml:"account_id"`
	Timeout        duration `toml:"timeout"`
	ConnectTimeout duration `toml:"connect_timeout"`
	SimulatorCash  float64  `toml:"simulator_cash"`
}

// OracleConfig holds the decision model endpoint.
type OracleConfig struct {
	BaseURL     string   `toml:"base_url"`
	APIKey      string   `toml:"api_key"`
	Model       string   `toml:"model"`
	Timeout     duration `toml:"timeout"`
	Temperature float64  `toml:"temperature"`
	MaxTokens   int      `toml:"max_tokens"`
	// RateLimit caps oracle calls per RateWindow across all symbols. Zero
	// disables limiting.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// MarketDataConfig holds the quote service endpoint.
type MarketDataConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
	// MaxStale lets a cached price stand in for a failed fetch when it is at
	// most this old. Zero disables the fallback.
	MaxStale duration `toml:"max_stale"`
	PriceTTL duration `toml:"price_ttl"`
}

// DatabaseConfig holds PostgreSQL connection parameters.
type DatabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
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
	Enabled      bool   `toml:"enabled"`
	URL          string `toml:"url"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// MonitorConfig tunes the per-symbol loops.
type MonitorConfig struct {
	Timezone string `toml:"timezone"`
	// Holidays are exchange closures as YYYY-MM-DD.
	Holidays       []string     `toml:"holidays"`
	CallTimeout    duration     `toml:"call_timeout"`
	OracleTimeout  duration     `toml:"oracle_timeout"`
	StopTimeout    duration     `toml:"stop_timeout"`
	JournalTimeout duration     `toml:"journal_timeout"`
	NotifyTimeout  duration     `toml:"notify_timeout"`
	Tasks          []TaskConfig `toml:"tasks"`
}

// TaskConfig seeds a monitor task at startup. Pointer fields distinguish
// "unset" from false.
type TaskConfig struct {
	Symbol               string  `toml:"symbol"`
	Name                 string  `toml:"name"`
	CheckIntervalSeconds int     `toml:"check_interval_seconds"`
	AutoTrade            bool    `toml:"auto_trade"`
	TradingHoursOnly     *bool   `toml:"trading_hours_only"`
	PositionSizePct      float64 `toml:"position_size_pct"`
	StopLossPct          float64 `toml:"stop_loss_pct"`
	TakeProfitPct        float64 `toml:"take_profit_pct"`
	Enabled              *bool   `toml:"enabled"`
	Notify               *bool   `toml:"notify"`
	PresetQuantity       int64   `toml:"preset_quantity"`
	PresetCost           float64 `toml:"preset_cost"`
	PresetDate           string  `toml:"preset_date"`
}

// ExecutionConfig tunes order sizing and submission.
type ExecutionConfig struct {
	// ReferenceCapital overrides account total value for position sizing
	// when positive.
	ReferenceCapital float64  `toml:"reference_capital"`
	OrderType        string   `toml:"order_type"`
	OrderTimeout     duration `toml:"order_timeout"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey guards every route except health when set.
	APIKey string `toml:"api_key"`
	// RateLimit is requests per minute per client IP. Zero disables it.
	RateLimit int `toml:"rate_limit"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	WebhookURL        string `toml:"webhook_url"`
	// WebhookSecret, when set, signs webhook bodies with HMAC-SHA256.
	WebhookSecret string   `toml:"webhook_secret"`
	Events        []string `toml:"events"`
}

// ArchiveConfig schedules the export of aged journal rows to S3.
type ArchiveConfig struct {
	Enabled       bool   `toml:"enabled"`
	RetentionDays int    `toml:"retention_days"`
	Cron          string `toml:"cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Broker: BrokerConfig{
			LiveEnabled:    false,
			BridgeURL:      "http://127.0.0.1:8888",
			Timeout:        duration{15 * time.Second},
			ConnectTimeout: duration{10 * time.Second},
			SimulatorCash:  100_000,
		},
		Oracle: OracleConfig{
			BaseURL:     "https://api.deepseek.com/v1",
			Model:       "deepseek-chat",
			Timeout:     duration{60 * time.Second},
			Temperature: 0.3,
			MaxTokens:   1500,
			RateLimit:   30,
			RateWindow:  duration{time.Minute},
		},
		MarketData: MarketDataConfig{
			BaseURL:  "http://127.0.0.1:8900",
			Timeout:  duration{10 * time.Second},
			PriceTTL: duration{24 * time.Hour},
		},
		Database: DatabaseConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "smartmonitor",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "smartmonitor-archive",
			ForcePathStyle: true,
		},
		Monitor: MonitorConfig{
			Timezone:       "Asia/Shanghai",
			CallTimeout:    duration{20 * time.Second},
			OracleTimeout:  duration{90 * time.Second},
			StopTimeout:    duration{5 * time.Second},
			JournalTimeout: duration{5 * time.Second},
			NotifyTimeout:  duration{10 * time.Second},
		},
		Execution: ExecutionConfig{
			OrderType:    string(domain.OrderTypeMarket),
			OrderTimeout: duration{15 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
		},
		Notify: NotifyConfig{
			Events: []string{"trade_signal"},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Cron:          "0 3 1 * *",
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"full":    true,
	"once":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, full, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Broker
	if c.Broker.LiveEnabled && c.Broker.BridgeURL == "" {
		errs = append(errs, "broker: bridge_url must be set when live_enabled")
	}
	if c.Broker.SimulatorCash < 0 {
		errs = append(errs, "broker: simulator_cash must not be negative")
	}

	// Oracle
	if c.Oracle.BaseURL == "" {
		errs = append(errs, "oracle: base_url must not be empty")
	}
	if c.Oracle.RateLimit < 0 {
		errs = append(errs, "oracle: rate_limit must be >= 0")
	}

	// Market data
	if c.MarketData.BaseURL == "" {
		errs = append(errs, "market_data: base_url must not be empty")
	}
	if c.MarketData.MaxStale.Duration > 0 && !c.Redis.Enabled {
		errs = append(errs, "market_data: max_stale requires redis.enabled")
	}

	// Database
	if c.Database.Enabled {
		if strings.TrimSpace(c.Database.DSN) == "" {
			if c.Database.Host == "" {
				errs = append(errs, "database: host must not be empty (or set database.dsn)")
			}
			if c.Database.Port <= 0 || c.Database.Port > 65535 {
				errs = append(errs, fmt.Sprintf("database: port must be 1-65535, got %d", c.Database.Port))
			}
			if c.Database.Database == "" {
				errs = append(errs, "database: database must not be empty")
			}
		}
		if c.Database.PoolMaxConns < 1 {
			errs = append(errs, "database: pool_max_conns must be >= 1")
		}
		if c.Database.PoolMinConns < 0 || c.Database.PoolMinConns > c.Database.PoolMaxConns {
			errs = append(errs, "database: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.URL == "" && c.Redis.Addr == "" {
			errs = append(errs, "redis: addr or url must be set")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 and archive
	if c.S3.Enabled && c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}
	if c.Archive.Enabled {
		if !c.S3.Enabled || !c.Database.Enabled {
			errs = append(errs, "archive: requires s3.enabled and database.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Cron == "" {
			errs = append(errs, "archive: cron must not be empty")
		}
	}

	// Monitor
	if _, err := session.New(c.Monitor.Timezone, c.Monitor.Holidays); err != nil {
		errs = append(errs, fmt.Sprintf("monitor: %v", err))
	}
	seen := make(map[string]bool, len(c.Monitor.Tasks))
	for i, tc := range c.Monitor.Tasks {
		task, err := tc.Task()
		if err == nil {
			err = task.Validate()
		}
		if err != nil {
			errs = append(errs, fmt.Sprintf("monitor.tasks[%d]: %v", i, err))
			continue
		}
		if seen[task.Symbol] {
			errs = append(errs, fmt.Sprintf("monitor.tasks[%d]: duplicate symbol %s", i, task.Symbol))
		}
		seen[task.Symbol] = true
	}

	// Execution
	if c.Execution.ReferenceCapital < 0 {
		errs = append(errs, "execution: reference_capital must not be negative")
	}
	switch domain.OrderType(strings.ToUpper(c.Execution.OrderType)) {
	case domain.OrderTypeMarket, domain.OrderTypeLimit:
	default:
		errs = append(errs, fmt.Sprintf("execution: order_type must be MARKET or LIMIT, got %q", c.Execution.OrderType))
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Task converts the seed entry into a MonitorTask with defaults applied.
func (tc TaskConfig) Task() (domain.MonitorTask, error) {
	t := domain.MonitorTask{
		Symbol:               tc.Symbol,
		Name:                 tc.Name,
		CheckIntervalSeconds: tc.CheckIntervalSeconds,
		AutoTrade:            tc.AutoTrade,
		TradingHoursOnly:     boolOr(tc.TradingHoursOnly, true),
		PositionSizePct:      tc.PositionSizePct,
		StopLossPct:          tc.StopLossPct,
		TakeProfitPct:        tc.TakeProfitPct,
		Enabled:              boolOr(tc.Enabled, true),
		Notify:               boolOr(tc.Notify, true),
	}
	if tc.PresetQuantity > 0 {
		p := &domain.PresetPosition{
			Quantity:  tc.PresetQuantity,
			CostBasis: decimal.NewFromFloat(tc.PresetCost),
		}
		if tc.PresetDate != "" {
			d, err := time.Parse(time.DateOnly, tc.PresetDate)
			if err != nil {
				return domain.MonitorTask{}, fmt.Errorf("preset_date %q is not YYYY-MM-DD", tc.PresetDate)
			}
			p.OpenDate = d
		}
		t.Preset = p
	}
	return t.WithDefaults(), nil
}

// SeedTasks converts every configured task.
func (c *Config) SeedTasks() ([]domain.MonitorTask, error) {
	tasks := make([]domain.MonitorTask, 0, len(c.Monitor.Tasks))
	for i, tc := range c.Monitor.Tasks {
		t, err := tc.Task()
		if err != nil {
			return nil, fmt.Errorf("config: monitor.tasks[%d]: %w", i, err)
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func boolOr(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}
