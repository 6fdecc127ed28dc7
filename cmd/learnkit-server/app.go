package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"learnkit/adapters/jsonfile"
	mem "learnkit/adapters/memory"
	redisAdapter "learnkit/adapters/redis"
	sqlxAdapter "learnkit/adapters/sqlx"
	"learnkit/analytics"
	"learnkit/api/httpapi"
	"learnkit/config"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/integrations/email"
	"learnkit/integrations/webhook"
	"learnkit/leaderboard"
	"learnkit/progression"
	"learnkit/realtime"
	"learnkit/scheduler"
)

// App aggregates the assembled server components.
type App struct {
	Config    *config.Config
	Logger    *slog.Logger
	Hub       *realtime.Hub
	Engine    *engine.Engine
	Scheduler *scheduler.Scheduler
	Handler   http.Handler
	Server    *http.Server
}

// Stores is the persistence selected by the storage adapter.
type Stores struct {
	Storage engine.Storage
	// Stats replaces Storage for aggregates when a cache sits in front of it.
	Stats engine.StatsStore
	// Ranking serves the leaderboard; nil means an in-process board fed by events.
	Ranking httpapi.Ranking
}

// Sources supplies the badge catalog and level rules.
type Sources struct {
	Catalog  engine.CatalogSource
	Settings engine.SettingsSource
}

// Notifiers are the outbound channels for course completions and certificates.
type Notifiers struct {
	Broadcasters []engine.Broadcaster
	Mailer       engine.Mailer
}

// Board is the leaderboard and analytics wiring attached to the engine.
type Board struct {
	Ranking httpapi.Ranking
	Metrics *analytics.Metrics
}

// provideConfig loads LEARNKIT_CONFIG_FILE when set, otherwise a named profile or the defaults.
func provideConfig(ctx context.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case os.Getenv("LEARNKIT_CONFIG_FILE") != "":
		cfg, err = config.LoadFromFile(os.Getenv("LEARNKIT_CONFIG_FILE"))
	case os.Getenv("LEARNKIT_PROFILE") != "" && os.Getenv("LEARNKIT_PROFILE") != "default":
		cfg, err = config.LoadProfile(os.Getenv("LEARNKIT_PROFILE"))
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := config.LoadSecretsFromEnv(ctx, cfg, config.NewEnvironmentSecretStore()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg, os.Stdout, os.Stderr)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

// provideStores opens the configured adapter. The cleanup closes connections.
func provideStores(cfg *config.Config, logger *slog.Logger) (*Stores, func(), error) {
	switch cfg.Storage.Adapter {
	case config.AdapterMemory:
		return &Stores{Storage: mem.New()}, func() {}, nil

	case config.AdapterSQL:
		db, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, fmt.Errorf("sql storage: %w", err)
		}
		cleanup := func() {
			if err := db.Close(); err != nil {
				logger.Warn("closing database", "error", err)
			}
		}
		return &Stores{Storage: db, Ranking: db}, cleanup, nil

	case config.AdapterRedis:
		db, err := sqlxAdapter.New(cfg.Storage.SQL)
		if err != nil {
			return nil, nil, fmt.Errorf("sql storage: %w", err)
		}
		cache, err := redisAdapter.New(cfg.Storage.Redis, db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("redis cache: %w", err)
		}
		cleanup := func() {
			if err := cache.Close(); err != nil {
				logger.Warn("closing redis", "error", err)
			}
			if err := db.Close(); err != nil {
				logger.Warn("closing database", "error", err)
			}
		}
		return &Stores{Storage: db, Stats: cache, Ranking: cache}, cleanup, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage adapter: %s", cfg.Storage.Adapter)
	}
}

// provideSources reads the catalog from a file when one is configured. Level rules come
// from the first source that defines them, falling back to the configured curve.
func provideSources(cfg *config.Config, stores *Stores) (*Sources, error) {
	src := &Sources{}
	var primary engine.SettingsSource = stores.Storage
	if cfg.Catalog.Path != "" {
		file, err := jsonfile.New(cfg.Catalog.Path)
		if err != nil {
			return nil, fmt.Errorf("catalog file: %w", err)
		}
		src.Catalog = file
		primary = file
	}
	src.Settings = layeredSettings{primary: primary, fallback: cfg.Progression.Levels.Rules()}
	return src, nil
}

// layeredSettings prefers the primary source's curve and otherwise serves the fallback.
type layeredSettings struct {
	primary  engine.SettingsSource
	fallback core.LevelRules
}

func (l layeredSettings) LevelRules(ctx context.Context) (core.LevelRules, bool, error) {
	rules, ok, err := l.primary.LevelRules(ctx)
	if err != nil || ok {
		return rules, ok, err
	}
	return l.fallback, true, nil
}

func provideNotifiers(cfg *config.Config, logger *slog.Logger) (*Notifiers, error) {
	n := &Notifiers{}
	if hooks := cfg.Notifications.Webhooks; len(hooks) > 0 {
		opts := []webhook.Option{
			webhook.WithClient(&http.Client{Timeout: cfg.Notifications.WebhookTimeout}),
		}
		if secret := cfg.Notifications.WebhookSecret; secret != "" {
			opts = append(opts, webhook.WithSecret(secret))
		}
		n.Broadcasters = append(n.Broadcasters, webhook.New(hooks, opts...))
	}

	if cfg.Notifications.Email.APIKey == "" {
		n.Mailer = email.NewLog(logger)
		return n, nil
	}
	sg, err := email.NewSendGrid(cfg.Notifications.Email)
	if err != nil {
		return nil, fmt.Errorf("email: %w", err)
	}
	n.Mailer = sg
	return n, nil
}

// provideEngine builds the engine with async dispatch and bridges every event to the hub.
func provideEngine(cfg *config.Config, logger *slog.Logger, hub *realtime.Hub, stores *Stores, src *Sources, n *Notifiers) (*engine.Engine, func()) {
	xp := cfg.Progression.XP
	eng := progression.New(
		progression.WithStorage(stores.Storage),
		progression.WithDispatchMode(engine.DispatchAsync),
		progression.WithRealtime(hub),
		progression.WithEngineOptions(engine.Options{
			XP: engine.XPTable{
				LessonCompleted:  xp.LessonCompleted,
				QuizPassed:       xp.QuizPassed,
				PerfectScore:     xp.PerfectScore,
				DailyLogin:       xp.DailyLogin,
				StreakBonus:      xp.StreakBonus,
				StreakBonusEvery: xp.StreakBonusEvery,
			},
			PassingScore: cfg.Progression.PassingScore,
			Stats:        stores.Stats,
			Catalog:      src.Catalog,
			Settings:     src.Settings,
			Broadcasters: n.Broadcasters,
			Mailer:       n.Mailer,
		}),
		progression.WithLogger(logger),
	)
	return eng, eng.Close
}

// rankingSeeder is a ranking that must be rebuilt from durable storage on startup.
type rankingSeeder interface {
	Seed(ctx context.Context) (int, error)
}

// provideBoard attaches the in-process leaderboard when storage has no ranking of its
// own, and the analytics hooks when metrics are enabled.
func provideBoard(ctx context.Context, cfg *config.Config, logger *slog.Logger, stores *Stores, eng *engine.Engine) (*Board, func(), error) {
	b := &Board{Ranking: stores.Ranking}
	var detach []func()

	if seeder, ok := b.Ranking.(rankingSeeder); ok {
		n, err := seeder.Seed(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("seeding leaderboard: %w", err)
		}
		logger.Info("leaderboard seeded", "users", n)
	}

	if b.Ranking == nil {
		board := leaderboard.NewSkipList()
		n, err := leaderboard.Seed(ctx, stores.Storage, board)
		if err != nil {
			return nil, nil, fmt.Errorf("seeding leaderboard: %w", err)
		}
		logger.Info("leaderboard seeded", "users", n)
		detach = append(detach, leaderboard.Track(eng, board))
		b.Ranking = board
	}
	if cfg.Metrics.Enabled {
		b.Metrics = analytics.NewMetrics()
		detach = append(detach, analytics.Attach(eng, b.Metrics))
	}

	return b, func() {
		for _, fn := range detach {
			fn()
		}
	}, nil
}

// provideScheduler returns nil when maintenance is disabled.
func provideScheduler(cfg *config.Config, logger *slog.Logger, eng *engine.Engine) *scheduler.Scheduler {
	if !cfg.Maintenance.Enabled {
		return nil
	}
	return scheduler.New(eng, cfg.Maintenance.Schedule, cfg.Maintenance.Timeout, logger)
}

func provideHandler(cfg *config.Config, eng *engine.Engine, hub *realtime.Hub, b *Board) http.Handler {
	return httpapi.NewMux(eng, hub, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		Ranking:          b.Ranking,
		Metrics:          b.Metrics,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the default logger from the logging section.
func setupLogging(cfg *config.Config, stdout, stderr io.Writer) *slog.Logger {
	out := stdout
	if cfg.Logging.Output == "stderr" {
		out = stderr
	}
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Logging.Level)}

	var handler slog.Handler
	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// convertAttributes converts map[string]string to []slog.Attr.
func convertAttributes(attrs map[string]string) []slog.Attr {
	result := make([]slog.Attr, 0, len(attrs))
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}
