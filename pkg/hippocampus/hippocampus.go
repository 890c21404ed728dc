// Package hippocampus is the embeddable entry point: it wires a
// configured store, providers, signal dynamics, the temporal service,
// and the engine into one handle.
package hippocampus

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/juspay/hippocampus/internal/config"
	"github.com/juspay/hippocampus/pkg/engine"
	"github.com/juspay/hippocampus/pkg/provider"
	"github.com/juspay/hippocampus/pkg/signal"
	"github.com/juspay/hippocampus/pkg/store"
	"github.com/juspay/hippocampus/pkg/store/memstore"
	"github.com/juspay/hippocampus/pkg/store/postgres"
	"github.com/juspay/hippocampus/pkg/store/sqlite"
	"github.com/juspay/hippocampus/pkg/temporal"
)

// Memory is one open hippocampus instance. Safe for concurrent use;
// Close drains detached work and closes the store.
type Memory struct {
	cfg      config.Config
	store    store.Store
	engine   *engine.Engine
	temporal *temporal.Service
	dynamics *signal.Dynamics
	logger   *zap.Logger

	// ownsLogger marks a logger built here, synced on Close.
	ownsLogger bool
}

// Option overrides part of the wiring.
type Option func(*options)

type options struct {
	embedder  provider.Embedder
	completer provider.Completer
	logger    *zap.Logger
	clock     func() time.Time
}

// WithEmbedder replaces the configured embedder.
func WithEmbedder(e provider.Embedder) Option {
	return func(o *options) { o.embedder = e }
}

// WithCompleter replaces the configured completer.
func WithCompleter(c provider.Completer) Option {
	return func(o *options) { o.completer = c }
}

// WithLogger injects a caller-owned logger. The caller keeps
// responsibility for syncing it.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithClock fixes the clock across the store, the temporal service, and
// the engine. Meant for tests.
func WithClock(fn func() time.Time) Option {
	return func(o *options) { o.clock = fn }
}

// Open validates the configuration, opens the backend, and wires the
// engine. The returned Memory must be Closed.
func Open(ctx context.Context, cfg config.Config, opts ...Option) (*Memory, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m := &Memory{cfg: cfg, logger: o.logger}
	if m.logger == nil {
		logger, err := cfg.BuildLogger()
		if err != nil {
			return nil, err
		}
		m.logger = logger
		m.ownsLogger = true
	}

	embedder := o.embedder
	if embedder == nil {
		var err error
		if embedder, err = provider.NewEmbedder(cfg.Provider); err != nil {
			return nil, err
		}
	}
	completer := o.completer
	if completer == nil {
		var err error
		if completer, err = provider.NewCompleter(cfg.Provider); err != nil {
			return nil, err
		}
	}

	st, err := openStore(ctx, cfg.Store, embedder, o.clock)
	if err != nil {
		return nil, err
	}
	if err := st.Init(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}
	m.store = st

	m.dynamics = signal.New(st, signalConfig(cfg.Decay), m.logger.Named("signal"))

	tmpOpts := []temporal.Option{}
	engOpts := []engine.Option{}
	if o.clock != nil {
		tmpOpts = append(tmpOpts, temporal.WithClock(o.clock))
		engOpts = append(engOpts, engine.WithClock(o.clock))
	}
	m.temporal = temporal.New(st, m.logger.Named("temporal"), tmpOpts...)
	m.engine = engine.New(st, embedder, completer, m.dynamics, m.temporal, m.logger.Named("engine"), engOpts...)

	m.logger.Info("hippocampus opened",
		zap.String("driver", cfg.Store.Driver),
		zap.String("embedder", embedder.Name()))
	return m, nil
}

func openStore(ctx context.Context, cfg config.Storage, embedder provider.Embedder, clock func() time.Time) (store.Store, error) {
	switch cfg.Driver {
	case "sqlite":
		var opts []sqlite.Option
		if clock != nil {
			opts = append(opts, sqlite.WithClock(clock))
		}
		return sqlite.New(cfg.Path, opts...)
	case "postgres":
		dims := cfg.Dimensions
		if dims == 0 {
			dims = embedder.Dimensions()
		}
		var opts []postgres.Option
		if clock != nil {
			opts = append(opts, postgres.WithClock(clock))
		}
		return postgres.New(ctx, cfg.DSN, dims, opts...)
	case "memory":
		st := memstore.New()
		if clock != nil {
			st.Clock = clock
		}
		return st, nil
	default:
		return nil, fmt.Errorf("%w: unknown store driver %q", store.ErrInvalidConfig, cfg.Driver)
	}
}

// signalConfig layers the decay overrides over the defaults. The rate
// map is copied; the package defaults stay untouched.
func signalConfig(d config.Decay) signal.Config {
	cfg := signal.DefaultConfig()
	rates := make(map[store.Strand]float64, len(cfg.Rates))
	for strand, rate := range cfg.Rates {
		rates[strand] = rate
	}
	for raw, rate := range d.Rates {
		if strand, ok := store.ParseStrand(raw); ok {
			rates[strand] = rate
		}
	}
	cfg.Rates = rates
	if d.MinSignal > 0 {
		cfg.MinSignal = d.MinSignal
	}
	return cfg
}

// Close drains detached reinforcement, closes the store, and syncs the
// logger when this instance built it.
func (m *Memory) Close() error {
	m.engine.Close()
	err := m.store.Close()
	if m.ownsLogger {
		_ = m.logger.Sync()
	}
	return err
}

// Engine exposes the underlying engine for transports that mount it
// directly.
func (m *Memory) Engine() *engine.Engine { return m.engine }

// Temporal exposes the underlying temporal service.
func (m *Memory) Temporal() *temporal.Service { return m.temporal }

// Store exposes the underlying store, mainly for health checks.
func (m *Memory) Store() store.Store { return m.store }

// Add ingests raw text.
func (m *Memory) Add(ctx context.Context, in engine.AddInput) ([]*store.Engram, error) {
	return m.engine.AddMemory(ctx, in)
}

// Search runs hybrid retrieval.
func (m *Memory) Search(ctx context.Context, in engine.SearchInput) (*engine.Result, error) {
	return m.engine.Search(ctx, in)
}

// Get fetches one engram.
func (m *Memory) Get(ctx context.Context, ownerID, id string) (*store.Engram, error) {
	return m.engine.Get(ctx, ownerID, id)
}

// List returns engrams newest-first.
func (m *Memory) List(ctx context.Context, ownerID string, limit, offset int, strand store.Strand) ([]*store.Engram, error) {
	return m.engine.List(ctx, ownerID, limit, offset, strand)
}

// Update patches an engram.
func (m *Memory) Update(ctx context.Context, ownerID, id string, in engine.UpdateInput) (*store.Engram, error) {
	return m.engine.Update(ctx, ownerID, id, in)
}

// Delete removes an engram and its synapses.
func (m *Memory) Delete(ctx context.Context, ownerID, id string) error {
	return m.engine.Delete(ctx, ownerID, id)
}

// Reinforce raises an engram's signal.
func (m *Memory) Reinforce(ctx context.Context, ownerID, id string, boost float64) (*store.Engram, error) {
	return m.engine.Reinforce(ctx, ownerID, id, boost)
}

// RunDecay runs one decay cycle for the owner.
func (m *Memory) RunDecay(ctx context.Context, ownerID string) (*signal.DecayReport, error) {
	return m.engine.RunDecay(ctx, ownerID)
}

// Stats summarizes the owner's footprint.
func (m *Memory) Stats(ctx context.Context, ownerID string) (*store.Stats, error) {
	return m.engine.Stats(ctx, ownerID)
}

// RecordFact records a bitemporal fact, superseding the current one.
func (m *Memory) RecordFact(ctx context.Context, ownerID string, in temporal.RecordInput) (*store.Chronicle, error) {
	return m.temporal.RecordFact(ctx, ownerID, in)
}

// QueryChronicles filters the owner's chronicles.
func (m *Memory) QueryChronicles(ctx context.Context, ownerID string, q store.ChronicleQuery) ([]*store.Chronicle, error) {
	return m.temporal.Query(ctx, ownerID, q)
}

// CurrentFact returns the open chronicle for (entity, attribute).
func (m *Memory) CurrentFact(ctx context.Context, ownerID, entity, attribute string) (*store.Chronicle, error) {
	return m.temporal.CurrentFact(ctx, ownerID, entity, attribute)
}

// Timeline returns an entity's full history, oldest first.
func (m *Memory) Timeline(ctx context.Context, ownerID, entity string) ([]*store.Chronicle, error) {
	return m.temporal.Timeline(ctx, ownerID, entity)
}

// Link creates a typed nexus between two chronicles.
func (m *Memory) Link(ctx context.Context, ownerID string, in temporal.LinkInput) (*store.Nexus, error) {
	return m.temporal.Link(ctx, ownerID, in)
}

// Related returns the chronicles linked to the given one.
func (m *Memory) Related(ctx context.Context, ownerID, chronicleID string) ([]*store.Chronicle, error) {
	return m.temporal.Related(ctx, ownerID, chronicleID)
}
