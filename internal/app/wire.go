package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/smartmonitor/internal/archive"
	s3blob "github.com/alanyoungcy/smartmonitor/internal/blob/s3"
	"github.com/alanyoungcy/smartmonitor/internal/broker"
	"github.com/alanyoungcy/smartmonitor/internal/cache/redis"
	"github.com/alanyoungcy/smartmonitor/internal/config"
	"github.com/alanyoungcy/smartmonitor/internal/crypto"
	"github.com/alanyoungcy/smartmonitor/internal/domain"
	"github.com/alanyoungcy/smartmonitor/internal/execution"
	"github.com/alanyoungcy/smartmonitor/internal/journal"
	"github.com/alanyoungcy/smartmonitor/internal/ledger"
	"github.com/alanyoungcy/smartmonitor/internal/marketdata"
	"github.com/alanyoungcy/smartmonitor/internal/monitor"
	"github.com/alanyoungcy/smartmonitor/internal/notify"
	"github.com/alanyoungcy/smartmonitor/internal/oracle"
	"github.com/alanyoungcy/smartmonitor/internal/server/handler"
	"github.com/alanyoungcy/smartmonitor/internal/service"
	"github.com/alanyoungcy/smartmonitor/internal/session"
	"github.com/alanyoungcy/smartmonitor/internal/store/postgres"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function. Optional backends are
// nil interfaces when not configured.
type Dependencies struct {
	Clock      *session.Clock
	Gateway    broker.Gateway
	Ledger     *ledger.Ledger
	Executor   *execution.Manager
	Journal    *journal.Journal
	Supervisor *monitor.Supervisor
	Tasks      *service.TaskService
	Seeds      []domain.MonitorTask

	// Stores (nil without PostgreSQL)
	DecisionStore     domain.DecisionStore
	TradeStore        domain.TradeStore
	PositionStore     domain.PositionStore
	NotificationStore domain.NotificationStore

	// Caches (nil without Redis)
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Archive runs only with PostgreSQL and S3.
	Archive *archive.Runner

	// HealthChecks probe every connected backend.
	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources. Loops started by the returned
// supervisor stop when ctx is cancelled.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{HealthChecks: make(map[string]handler.HealthCheck)}

	clock, err := session.New(cfg.Monitor.Timezone, cfg.Monitor.Holidays)
	if err != nil {
		return fail(fmt.Errorf("wire: clock: %w", err))
	}
	deps.Clock = clock

	seeds, err := cfg.SeedTasks()
	if err != nil {
		return fail(fmt.Errorf("wire: %w", err))
	}
	deps.Seeds = seeds

	// --- PostgreSQL ---
	var taskStore domain.TaskStore = service.NewMemoryTaskStore()
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:         cfg.Database.DSN,
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			Database:    cfg.Database.Database,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.PoolMaxConns,
			MinConns:    cfg.Database.PoolMinConns,
			MaxConnIdle: 30 * time.Minute,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.DecisionStore = postgres.NewDecisionStore(pool)
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.NotificationStore = postgres.NewNotificationStore(pool)
		taskStore = postgres.NewTaskStore(pool)
		deps.HealthChecks["postgres"] = pgClient.Health
		logger.InfoContext(ctx, "postgres connected")
	} else {
		logger.InfoContext(ctx, "postgres disabled, tasks are kept in memory and the journal only logs")
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			URL:        cfg.Redis.URL,
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.MarketData.PriceTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.HealthChecks["redis"] = redisClient.Ping
		logger.InfoContext(ctx, "redis connected")
	}

	// --- Journal ---
	deps.Journal = journal.New(journal.Stores{
		Decisions:     deps.DecisionStore,
		Trades:        deps.TradeStore,
		Positions:     deps.PositionStore,
		Notifications: deps.NotificationStore,
	}, deps.SignalBus, cfg.Monitor.JournalTimeout.Duration, logger)

	// --- Brokerage and account ledger ---
	token, err := crypto.Load(crypto.SecretSource{
		Raw:      cfg.Broker.Token,
		Path:     cfg.Broker.TokenFile,
		Password: cfg.Broker.TokenPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: broker token: %w", err))
	}
	deps.Gateway = broker.Connect(ctx, broker.Options{
		LiveEnabled:    cfg.Broker.LiveEnabled,
		BridgeURL:      cfg.Broker.BridgeURL,
		Token:          token,
		AccountID:      cfg.Broker.AccountID,
		Timeout:        cfg.Broker.Timeout.Duration,
		ConnectTimeout: cfg.Broker.ConnectTimeout.Duration,
		SimulatorCash:  decimal.NewFromFloat(cfg.Broker.SimulatorCash),
	}, clock, logger)
	deps.Ledger = seedLedger(ctx, deps.Gateway, cfg, clock, logger)

	deps.Executor = execution.NewManager(deps.Ledger, deps.Gateway, deps.Journal, execution.Options{
		ReferenceCapital: decimal.NewFromFloat(cfg.Execution.ReferenceCapital),
		OrderType:        domain.OrderType(cfg.Execution.OrderType),
		OrderTimeout:     cfg.Execution.OrderTimeout.Duration,
	}, logger)

	// --- Market data and oracle ---
	var market marketdata.Provider = marketdata.NewHTTPProvider(
		cfg.MarketData.BaseURL, cfg.MarketData.APIKey, cfg.MarketData.Timeout.Duration, logger,
	)
	if deps.PriceCache != nil {
		market = marketdata.NewCachedProvider(market, deps.PriceCache, cfg.MarketData.MaxStale.Duration, logger)
	}

	decider := oracle.NewClient(oracle.Options{
		BaseURL:     cfg.Oracle.BaseURL,
		APIKey:      cfg.Oracle.APIKey,
		Model:       cfg.Oracle.Model,
		Timeout:     cfg.Oracle.Timeout.Duration,
		Temperature: cfg.Oracle.Temperature,
		MaxTokens:   cfg.Oracle.MaxTokens,
		RateLimit:   cfg.Oracle.RateLimit,
		RateWindow:  cfg.Oracle.RateWindow.Duration,
	}, deps.RateLimiter, logger)

	// --- Notifications ---
	gate := notify.NewGate(newNotifier(cfg, logger), deps.Journal, cfg.Monitor.NotifyTimeout.Duration, logger)

	// --- Monitor loops ---
	deps.Supervisor = monitor.NewSupervisor(ctx, &monitor.Deps{
		Clock:         clock,
		Market:        market,
		Oracle:        decider,
		Positions:     deps.Gateway,
		Executor:      deps.Executor,
		Journal:       deps.Journal,
		Notifier:      gate,
		CallTimeout:   cfg.Monitor.CallTimeout.Duration,
		OracleTimeout: cfg.Monitor.OracleTimeout.Duration,
		Logger:        logger,
	}, cfg.Monitor.StopTimeout.Duration)
	deps.Tasks = service.NewTaskService(taskStore, deps.Supervisor, logger.With(slog.String("component", "task_service")))

	// --- S3 archive (needs the journal stores) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.HealthChecks["s3"] = s3Client.Health

		if cfg.Archive.Enabled && deps.DecisionStore != nil {
			archiver := s3blob.NewArchiver(
				s3blob.NewWriter(s3Client),
				s3blob.NewReader(s3Client),
				deps.DecisionStore,
				deps.TradeStore,
				logger,
			)
			deps.Archive = archive.NewRunner(archiver, deps.LockManager, cfg.Archive.RetentionDays, clock.Location(), logger)
		}
	}

	return deps, cleanup, nil
}

// seedLedger opens the account ledger with the gateway's available cash and
// adopts the gateway's holdings for every seeded symbol.
func seedLedger(ctx context.Context, gw broker.Gateway, cfg *config.Config, clock *session.Clock, logger *slog.Logger) *ledger.Ledger {
	cash := decimal.NewFromFloat(cfg.Broker.SimulatorCash)
	accountID := cfg.Broker.AccountID

	actx, cancel := context.WithTimeout(ctx, cfg.Monitor.CallTimeout.Duration)
	defer cancel()
	if snap, err := gw.AccountInfo(actx); err != nil {
		logger.WarnContext(ctx, "account info unavailable, seeding ledger from config",
			slog.String("error", err.Error()),
		)
	} else {
		cash = snap.AvailableCash
		if snap.AccountID != "" {
			accountID = snap.AccountID
		}
	}

	book := ledger.New(accountID, gw.Live(), cash, clock)
	for _, tc := range cfg.Monitor.Tasks {
		h, err := gw.Position(actx, tc.Symbol)
		if err != nil || h == nil {
			continue
		}
		if book.Adopt(*h) {
			logger.InfoContext(ctx, "adopted brokerage position",
				slog.String("symbol", h.Symbol),
				slog.Int64("quantity", h.Quantity),
			)
		}
	}
	logger.InfoContext(ctx, "account ledger ready",
		slog.String("account_id", accountID),
		slog.Bool("live", gw.Live()),
		slog.String("cash", cash.StringFixed(2)),
	)
	return book
}

// newNotifier builds the operator notifier from whichever channels are
// configured.
func newNotifier(cfg *config.Config, logger *slog.Logger) *notify.Notifier {
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if cfg.Notify.WebhookURL != "" {
		hook := notify.NewWebhookSender(cfg.Notify.WebhookURL)
		if cfg.Notify.WebhookSecret != "" {
			hook = hook.WithSigner(crypto.NewWebhookSigner(cfg.Notify.WebhookSecret))
		}
		senders = append(senders, hook)
	}
	return notify.NewNotifier(senders, cfg.Notify.Events, logger)
}
