package progression

import (
	"context"
	"log/slog"

	mem "learnkit/adapters/memory"
	"learnkit/core"
	"learnkit/engine"
	"learnkit/realtime"
)

// Option configures the engine builder.
type Option func(*config)

type config struct {
	storage engine.Storage
	mode    engine.DispatchMode
	opts    engine.Options
	hub     *realtime.Hub
}

// WithStorage sets the persistence adapter.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithEngineOptions sets XP amounts, overrides and notification channels.
func WithEngineOptions(o engine.Options) Option { return func(c *config) { c.opts = o } }

// WithLogger sets the logger used by the bus and the engine.
func WithLogger(l *slog.Logger) Option { return func(c *config) { c.opts.Logger = l } }

// WithRealtime wires a realtime hub to receive all engine events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// New builds a configured Engine. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async
func New(opts ...Option) *engine.Engine {
	cfg := &config{mode: engine.DispatchAsync}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}
	bus := engine.NewEventBusWithLogger(cfg.mode, cfg.opts.Logger)
	eng := engine.NewEngine(cfg.storage, bus, cfg.opts)
	if cfg.hub != nil {
		for _, typ := range core.EventTypes {
			bus.Subscribe(typ, func(ctx context.Context, e core.Event) { _ = cfg.hub.Broadcast(ctx, e) })
		}
	}
	return eng
}
