package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"

	"learnkit/core"
)

// XPTable holds the fixed experience amounts of the event catalog.
type XPTable struct {
	LessonCompleted  int64 `json:"lesson_completed"`
	QuizPassed       int64 `json:"quiz_passed"`
	PerfectScore     int64 `json:"perfect_score"`
	DailyLogin       int64 `json:"daily_login"`
	StreakBonus      int64 `json:"streak_bonus"`
	StreakBonusEvery int   `json:"streak_bonus_every"`
}

// DefaultXPTable returns the stock amounts.
func DefaultXPTable() XPTable {
	return XPTable{
		LessonCompleted:  10,
		QuizPassed:       50,
		PerfectScore:     25,
		DailyLogin:       5,
		StreakBonus:      50,
		StreakBonusEvery: 7,
	}
}

// DefaultPassingScore is the pass threshold used when a submission supplies none.
const DefaultPassingScore = 60.0

// Options tunes an Engine. Zero values fall back to defaults.
type Options struct {
	XP           XPTable
	PassingScore float64
	// Stats overrides the storage's StatsStore, e.g. with a read-through cache.
	Stats StatsStore
	// Catalog and Settings override the storage's sources, e.g. with a versioned file.
	Catalog      CatalogSource
	Settings     SettingsSource
	Broadcasters []Broadcaster
	Mailer       Mailer
	Logger       *slog.Logger
	Clock        func() time.Time
}

// Engine is the progression and achievement engine. It holds no per-user state;
// everything shared lives in Storage.
type Engine struct {
	store        Storage
	stats        StatsStore
	catalog      CatalogSource
	settings     SettingsSource
	bus          *EventBus
	broadcasters []Broadcaster
	mailer       Mailer
	log          *slog.Logger
	xp           XPTable
	passingScore float64
	now          func() time.Time
	validate     *validator.Validate
}

func NewEngine(store Storage, bus *EventBus, opts Options) *Engine {
	if store == nil || bus == nil {
		panic("NewEngine requires non-nil storage and bus")
	}
	e := &Engine{
		store:        store,
		stats:        store,
		catalog:      store,
		settings:     store,
		bus:          bus,
		broadcasters: opts.Broadcasters,
		mailer:       opts.Mailer,
		log:          opts.Logger,
		xp:           opts.XP,
		passingScore: opts.PassingScore,
		now:          opts.Clock,
		validate:     newValidator(),
	}
	if opts.Stats != nil {
		e.stats = opts.Stats
	}
	if opts.Catalog != nil {
		e.catalog = opts.Catalog
	}
	if opts.Settings != nil {
		e.settings = opts.Settings
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if e.xp == (XPTable{}) {
		e.xp = DefaultXPTable()
	}
	if e.passingScore <= 0 {
		e.passingScore = DefaultPassingScore
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	return e
}

// Subscribe convenience method.
func (e *Engine) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	return e.bus.Subscribe(typ, handler)
}

func (e *Engine) Publish(ctx context.Context, ev core.Event) {
	e.bus.Publish(ctx, ev)
}

func (e *Engine) Close() { e.bus.Close() }

// LevelRules loads the current level curve, falling back to defaults when the
// settings source is unset, unreachable, or holds an invalid curve.
func (e *Engine) LevelRules(ctx context.Context) core.LevelRules {
	rules, ok, err := e.settings.LevelRules(ctx)
	if err != nil {
		e.log.Warn("level rules unavailable, using defaults", "error", err)
		return core.DefaultLevelRules()
	}
	if !ok {
		return core.DefaultLevelRules()
	}
	rules = rules.WithDefaults()
	if err := rules.Validate(); err != nil {
		e.log.Warn("invalid level rules, using defaults", "version", rules.Version, "error", err)
		return core.DefaultLevelRules()
	}
	return rules
}

// GetStats returns the user's aggregate, or the default row when none exists yet.
func (e *Engine) GetStats(ctx context.Context, user core.UserID) (core.StatsAggregate, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return core.StatsAggregate{}, err
	}
	return e.loadStats(ctx, normalized, e.LevelRules(ctx))
}

func (e *Engine) ListExperience(ctx context.Context, user core.UserID) ([]core.ExperienceEvent, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return e.store.ListExperience(ctx, normalized)
}

func (e *Engine) ListBadges(ctx context.Context, user core.UserID) ([]core.BadgeOwnership, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return e.store.ListBadgeOwnership(ctx, normalized)
}

func (e *Engine) ListCertificates(ctx context.Context, user core.UserID) ([]core.Certificate, error) {
	normalized, err := core.NormalizeUserID(user)
	if err != nil {
		return nil, err
	}
	return e.store.ListCertificates(ctx, normalized)
}

// Ping checks that storage answers a cheap read.
func (e *Engine) Ping(ctx context.Context) error {
	_, err := e.stats.GetStats(ctx, core.UserID("healthcheck_probe"))
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return fmt.Errorf("storage check: %w", err)
	}
	return nil
}
