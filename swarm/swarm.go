package swarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentswarm/internal/metrics"
	"github.com/BaSui01/agentswarm/internal/retry"
	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/swarm/broker"
	"github.com/BaSui01/agentswarm/swarm/consensus"
	"github.com/BaSui01/agentswarm/swarm/market"
	"github.com/BaSui01/agentswarm/swarm/ontology"
	"github.com/BaSui01/agentswarm/swarm/registry"
	"github.com/BaSui01/agentswarm/swarm/snapshot"
	"github.com/BaSui01/agentswarm/swarm/stigmergy"
	"github.com/BaSui01/agentswarm/swarm/trust"
	"github.com/BaSui01/agentswarm/types"
)

// Config aggregates the component configurations.
type Config struct {
	Registry  registry.Config  `yaml:"registry" env:"REGISTRY" json:"registry"`
	Broker    broker.Config    `yaml:"broker" env:"BROKER" json:"broker"`
	Retry     retry.Policy     `yaml:"retry" env:"RETRY" json:"retry"`
	Consensus consensus.Config `yaml:"consensus" env:"CONSENSUS" json:"consensus"`
	Trust     trust.Config     `yaml:"trust" env:"TRUST" json:"trust"`
	Stigmergy stigmergy.Config `yaml:"stigmergy" env:"STIGMERGY" json:"stigmergy"`
	Market    market.Config    `yaml:"market" env:"MARKET" json:"market"`
	Snapshot  snapshot.Config  `yaml:"snapshot" env:"SNAPSHOT" json:"snapshot"`

	// GaugeInterval is how often gauges are refreshed from component state.
	GaugeInterval time.Duration `yaml:"gauge_interval" env:"GAUGE_INTERVAL" json:"gauge_interval"`
}

// DefaultConfig returns a Config with every component's defaults.
func DefaultConfig() Config {
	return Config{
		Registry:      registry.DefaultConfig(),
		Broker:        broker.DefaultConfig(),
		Retry:         retry.DefaultPolicy(),
		Consensus:     consensus.DefaultConfig(),
		Trust:         trust.DefaultConfig(),
		Stigmergy:     stigmergy.DefaultConfig(),
		Market:        market.DefaultConfig(),
		Snapshot:      snapshot.DefaultConfig(),
		GaugeInterval: 15 * time.Second,
	}
}

// Option configures a Swarm.
type Option func(*options)

type options struct {
	sinks     []audit.Sink
	collector *metrics.Collector
	ontology  ontology.Service
	store     snapshot.Store
	tracer    trace.TracerProvider
}

// WithAuditSink adds a sink that receives every component event.
func WithAuditSink(s audit.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// WithMetrics feeds component events and gauges into collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.collector = c }
}

// WithOntology makes the registry reject conflicting capability sets.
func WithOntology(s ontology.Service) Option {
	return func(o *options) { o.ontology = s }
}

// WithSnapshotStore overrides the store built from Config.Snapshot.
func WithSnapshotStore(s snapshot.Store) Option {
	return func(o *options) { o.store = s }
}

// WithTracerProvider sets the tracer provider for broker spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(o *options) { o.tracer = tp }
}

// Swarm wires the coordination components together and owns their
// background loops.
type Swarm struct {
	registry  *registry.Registry
	trust     *trust.Network
	field     *stigmergy.Field
	broker    *broker.Broker
	consensus *consensus.Engine
	market    *market.Market

	store     snapshot.Store
	collector *metrics.Collector
	config    Config
	logger    *zap.Logger
	now       func() time.Time

	mu      sync.Mutex
	running bool
	signals map[stigmergy.Signal]struct{}
}

// New builds every component from config. backend executes commands
// dispatched by the broker.
func New(ctx context.Context, config Config, backend broker.Backend, logger *zap.Logger, opts ...Option) (*Swarm, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	sinks := audit.Multi{audit.NewLogSink(logger)}
	if o.collector != nil {
		sinks = append(sinks, audit.NewMetricsSink(o.collector))
	}
	sinks = append(sinks, o.sinks...)

	regOpts := []registry.Option{registry.WithAuditSink(sinks)}
	if o.ontology != nil {
		regOpts = append(regOpts, registry.WithOntology(o.ontology))
	}
	reg := registry.New(config.Registry, logger, regOpts...)

	tn, err := trust.New(config.Trust, logger, trust.WithDirectory(reg), trust.WithAuditSink(sinks))
	if err != nil {
		return nil, fmt.Errorf("trust network: %w", err)
	}

	field, err := stigmergy.New(config.Stigmergy, logger, stigmergy.WithAuditSink(sinks))
	if err != nil {
		return nil, fmt.Errorf("stigmergic field: %w", err)
	}

	brokerOpts := []broker.Option{
		broker.WithTrust(tn),
		broker.WithRetryer(retry.NewBackoffRetryer(config.Retry, logger)),
		broker.WithAuditSink(sinks),
	}
	if o.tracer != nil {
		brokerOpts = append(brokerOpts, broker.WithTracerProvider(o.tracer))
	}
	br, err := broker.New(reg, backend, config.Broker, logger, brokerOpts...)
	if err != nil {
		return nil, fmt.Errorf("broker: %w", err)
	}

	engine, err := consensus.New(config.Consensus, logger, consensus.WithAuditSink(sinks))
	if err != nil {
		return nil, fmt.Errorf("consensus engine: %w", err)
	}

	mkt, err := market.New(config.Market, logger, market.WithAgents(reg), market.WithAuditSink(sinks))
	if err != nil {
		return nil, fmt.Errorf("task market: %w", err)
	}

	store := o.store
	if store == nil && config.Snapshot.Enabled {
		store, err = snapshot.NewStore(ctx, config.Snapshot, logger)
		if err != nil {
			return nil, fmt.Errorf("snapshot store: %w", err)
		}
	}

	if config.GaugeInterval <= 0 {
		config.GaugeInterval = DefaultConfig().GaugeInterval
	}

	s := &Swarm{
		registry:  reg,
		trust:     tn,
		field:     field,
		broker:    br,
		consensus: engine,
		market:    mkt,
		store:     store,
		collector: o.collector,
		config:    config,
		logger:    logger.With(zap.String("component", "swarm")),
		now:       time.Now,
		signals:   make(map[stigmergy.Signal]struct{}),
	}
	s.logger.Info("swarm initialized",
		zap.String("default_strategy", string(config.Broker.DefaultStrategy)),
		zap.Bool("snapshots", store != nil),
	)
	return s, nil
}

// Registry returns the agent registry.
func (s *Swarm) Registry() *registry.Registry { return s.registry }

// Trust returns the trust network.
func (s *Swarm) Trust() *trust.Network { return s.trust }

// Field returns the stigmergic field.
func (s *Swarm) Field() *stigmergy.Field { return s.field }

// Broker returns the command broker.
func (s *Swarm) Broker() *broker.Broker { return s.broker }

// Consensus returns the consensus engine.
func (s *Swarm) Consensus() *consensus.Engine { return s.consensus }

// Market returns the task market.
func (s *Swarm) Market() *market.Market { return s.market }

// Run drives the background loops until ctx is cancelled: field cycles,
// proposal sweeps, trust decay, gauge refreshes and periodic snapshots.
// A final snapshot is taken on the way out.
func (s *Swarm) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return types.Conflictf("swarm is already running")
	}
	s.running = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.logger.Info("swarm loops starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.field.Run(gctx) })
	g.Go(func() error { return s.consensus.Run(gctx) })

	if s.config.Trust.DecayInterval > 0 && s.config.Trust.DecayMaxAge > 0 {
		g.Go(func() error {
			return every(gctx, s.config.Trust.DecayInterval, func() {
				s.trust.DecayOldScores(s.config.Trust.DecayMaxAge, s.now())
			})
		})
	}

	if s.collector != nil {
		g.Go(func() error {
			return every(gctx, s.config.GaugeInterval, s.refreshGauges)
		})
	}

	if s.store != nil && s.config.Snapshot.Interval > 0 {
		g.Go(func() error {
			return every(gctx, s.config.Snapshot.Interval, func() {
				if err := s.SaveSnapshot(gctx); err != nil && gctx.Err() == nil {
					s.logger.Warn("periodic snapshot failed", zap.Error(err))
				}
			})
		})
	}

	err := g.Wait()

	if s.store != nil {
		finalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		if serr := s.SaveSnapshot(finalCtx); serr != nil {
			s.logger.Warn("final snapshot failed", zap.Error(serr))
		}
		cancel()
	}

	s.logger.Info("swarm loops stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Running reports whether Run is active.
func (s *Swarm) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func every(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fn()
		}
	}
}

// refreshGauges publishes the registered agent count and per-signal
// pheromone cell counts. Signals whose cells were all pruned drop to zero.
func (s *Swarm) refreshGauges() {
	s.collector.SetAgentsRegistered(s.registry.Count())

	counts := s.field.CellCounts()
	s.mu.Lock()
	defer s.mu.Unlock()
	for sig := range s.signals {
		if _, ok := counts[sig]; !ok {
			s.collector.SetPheromoneCells(string(sig), 0)
			delete(s.signals, sig)
		}
	}
	for sig, n := range counts {
		s.collector.SetPheromoneCells(string(sig), n)
		s.signals[sig] = struct{}{}
	}
}

// Snapshot captures the registry, trust network and field. Agents are read
// before retired IDs, so an agent deregistered in between shows up in both
// and Restore drops it.
func (s *Swarm) Snapshot() snapshot.Snapshot {
	agents := s.registry.List()
	return snapshot.Snapshot{
		Version: snapshot.Version,
		TakenAt: s.now().UTC(),
		Agents:  agents,
		Retired: s.registry.Retired(),
		Trust:   s.trust.Entries(),
		Cells:   s.field.Cells(),
	}
}

// SaveSnapshot writes a snapshot to the configured store.
func (s *Swarm) SaveSnapshot(ctx context.Context) error {
	if s.store == nil {
		return types.Validationf("no snapshot store configured")
	}
	snap := s.Snapshot()
	if err := s.store.Save(ctx, snap); err != nil {
		return err
	}
	s.logger.Debug("snapshot saved",
		zap.Int("agents", len(snap.Agents)),
		zap.Int("trust", len(snap.Trust)),
		zap.Int("cells", len(snap.Cells)),
	)
	return nil
}

// Restore loads snap into the components. In-flight load counters are
// reset: nothing survives a restart mid-execution.
func (s *Swarm) Restore(ctx context.Context, snap snapshot.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}
	agents := make([]registry.Agent, len(snap.Agents))
	for i, a := range snap.Agents {
		a.Load = 0
		agents[i] = a
	}
	if err := s.registry.Restore(ctx, agents); err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}
	if err := s.registry.RestoreRetired(ctx, snap.Retired); err != nil {
		return fmt.Errorf("restore registry: %w", err)
	}
	if err := s.trust.Restore(ctx, snap.Trust); err != nil {
		return fmt.Errorf("restore trust: %w", err)
	}
	if err := s.field.Restore(ctx, snap.Cells); err != nil {
		return fmt.Errorf("restore field: %w", err)
	}
	s.logger.Info("swarm restored", zap.Time("taken_at", snap.TakenAt))
	return nil
}

// Recover restores the newest stored snapshot. It reports false when
// there is no store or the store is empty.
func (s *Swarm) Recover(ctx context.Context) (bool, error) {
	if s.store == nil {
		return false, nil
	}
	snap, err := s.store.Load(ctx)
	if types.IsNotFound(err) {
		s.logger.Info("no snapshot to recover from")
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := s.Restore(ctx, snap); err != nil {
		return false, err
	}
	return true, nil
}

// Close releases the snapshot store.
func (s *Swarm) Close() error {
	if s.store == nil {
		return nil
	}
	return s.store.Close()
}
