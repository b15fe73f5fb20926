package broker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agentswarm/internal/retry"
	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/swarm/registry"
	"github.com/BaSui01/agentswarm/swarm/trust"
	"github.com/BaSui01/agentswarm/types"
)

const (
	component           = "broker"
	instrumentationName = "github.com/BaSui01/agentswarm/swarm/broker"
	maxAcquireAttempts  = 3
)

// Config holds broker configuration.
type Config struct {
	// DefaultStrategy is used by ExecuteDistributed.
	DefaultStrategy Strategy `yaml:"default_strategy" env:"DEFAULT_STRATEGY" json:"default_strategy"`

	Weights Weights `yaml:"weights" env:"WEIGHTS" json:"weights"`

	// MinTrust excludes agents whose conservative trust is below it.
	MinTrust float64 `yaml:"min_trust" env:"MIN_TRUST" json:"min_trust"`

	// ObserverID is the identity the broker records trust observations under.
	ObserverID string `yaml:"observer_id" env:"OBSERVER_ID" json:"observer_id"`

	// RateLimit caps backend invocations per second; zero disables the limit.
	RateLimit float64 `yaml:"rate_limit" env:"RATE_LIMIT" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" env:"RATE_BURST" json:"rate_burst"`

	// AttemptTimeout bounds a single backend invocation; zero means no bound.
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"ATTEMPT_TIMEOUT" json:"attempt_timeout"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultStrategy: BestFit,
		Weights:         DefaultWeights(),
		ObserverID:      "broker",
		RateBurst:       1,
	}
}

// Trust is the slice of the trust network the broker uses.
type Trust interface {
	ConservativeScore(subject string) float64
	Observe(ctx context.Context, obs trust.Observation) (trust.Score, error)
}

// Broker routes commands to capable agents and executes them through a Backend.
type Broker struct {
	registry *registry.Registry
	backend  Backend
	trust    Trust
	retryer  retry.Retryer
	limiter  *rate.Limiter
	tracer   trace.Tracer

	sink   audit.Sink
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Broker.
type Option func(*Broker)

// WithTrust enables trust filtering, the BestFit trust term and trust observations.
func WithTrust(t Trust) Option {
	return func(b *Broker) { b.trust = t }
}

// WithRetryer replaces the retryer.
func WithRetryer(r retry.Retryer) Option {
	return func(b *Broker) { b.retryer = r }
}

// WithTracerProvider sets the tracer provider used for execution spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(b *Broker) { b.tracer = tp.Tracer(instrumentationName) }
}

// WithAuditSink sets the audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(b *Broker) { b.sink = audit.OrNop(s) }
}

// New creates a broker over reg that executes through backend.
func New(reg *registry.Registry, backend Backend, config Config, logger *zap.Logger, opts ...Option) (*Broker, error) {
	if reg == nil || backend == nil {
		return nil, types.Validationf("broker needs a registry and a backend")
	}
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = BestFit
	}
	if !config.DefaultStrategy.Valid() {
		return nil, types.Validationf("unknown routing strategy %q", config.DefaultStrategy)
	}
	if config.ObserverID == "" {
		config.ObserverID = "broker"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Broker{
		registry: reg,
		backend:  backend,
		tracer:   otel.Tracer(instrumentationName),
		sink:     audit.Nop{},
		config:   config,
		logger:   logger.With(zap.String("component", component)),
		now:      time.Now,
	}
	if config.RateLimit > 0 {
		burst := config.RateBurst
		if burst < 1 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.retryer == nil {
		b.retryer = retry.NewBackoffRetryer(retry.DefaultPolicy(), logger)
	}
	return b, nil
}

// Route picks the best routable agent for capability under strategy. An
// unknown strategy falls back to the configured default. The result is
// deterministic for a fixed registry state; ties go to the lowest agent ID.
func (b *Broker) Route(ctx context.Context, capability string, strategy Strategy) (registry.Agent, bool) {
	if !strategy.Valid() {
		strategy = b.config.DefaultStrategy
	}
	agent, ok := b.selectAgent(b.candidates(capability), strategy)

	fields := map[string]any{
		audit.FieldCapability: capability,
		audit.FieldStrategy:   string(strategy),
		audit.FieldSelected:   ok,
	}
	if ok {
		fields[audit.FieldAgentID] = agent.ID
	}
	b.sink.Emit(ctx, audit.NewEvent(audit.EventRouteSelected, component, fields))
	return agent, ok
}

// candidates returns the routable agents with spare capacity, sorted by ID.
func (b *Broker) candidates(capability string) []registry.Agent {
	all := b.registry.FindByCapability(capability)
	out := all[:0]
	for _, a := range all {
		if !a.State.Routable() || !a.HasCapacity() {
			continue
		}
		if b.trust != nil && b.config.MinTrust > 0 && b.trust.ConservativeScore(a.ID) < b.config.MinTrust {
			continue
		}
		out = append(out, a)
	}
	return out
}

// selectAgent applies strategy to candidates, which must be sorted by ID so
// that strict comparisons keep the lowest ID on ties.
func (b *Broker) selectAgent(candidates []registry.Agent, strategy Strategy) (registry.Agent, bool) {
	if len(candidates) == 0 {
		return registry.Agent{}, false
	}

	best := 0
	switch strategy {
	case MinLatency:
		for i := 1; i < len(candidates); i++ {
			if candidates[i].Latency < candidates[best].Latency {
				best = i
			}
		}
	case MaxReliability:
		for i := 1; i < len(candidates); i++ {
			if candidates[i].Reliability > candidates[best].Reliability {
				best = i
			}
		}
	case LeastLoaded:
		for i := 1; i < len(candidates); i++ {
			if candidates[i].Load < candidates[best].Load {
				best = i
			}
		}
	default:
		scores := b.fitness(candidates)
		for i := 1; i < len(candidates); i++ {
			if scores[i] > scores[best] {
				best = i
			}
		}
	}
	return candidates[best], true
}

// fitness computes the BestFit score of each candidate. Latency is
// normalized by the largest candidate latency; load by MaxConcurrency, or by
// the largest candidate load for unbounded agents.
func (b *Broker) fitness(candidates []registry.Agent) []float64 {
	var maxLatency time.Duration
	maxLoad := 0
	for _, a := range candidates {
		if a.Latency > maxLatency {
			maxLatency = a.Latency
		}
		if a.Load > maxLoad {
			maxLoad = a.Load
		}
	}

	w := b.config.Weights
	scores := make([]float64, len(candidates))
	for i, a := range candidates {
		normLatency := 0.0
		if maxLatency > 0 {
			normLatency = float64(a.Latency) / float64(maxLatency)
		}
		normLoad := 0.0
		switch {
		case a.MaxConcurrency > 0:
			normLoad = float64(a.Load) / float64(a.MaxConcurrency)
		case maxLoad > 0:
			normLoad = float64(a.Load) / float64(maxLoad)
		}
		trustScore := 0.0
		if b.trust != nil && w.Trust != 0 {
			trustScore = b.trust.ConservativeScore(a.ID)
		}
		scores[i] = w.Health*a.Health +
			w.Latency*(1-normLatency) +
			w.Reliability*a.Reliability -
			w.Load*normLoad +
			w.Trust*trustScore
	}
	return scores
}

// ExecuteDistributed routes capability with the default strategy and invokes
// the backend on the chosen agent, retrying failures with bounded backoff.
// A receipt is always returned and audited; err is non-nil unless the
// execution succeeded.
func (b *Broker) ExecuteDistributed(ctx context.Context, sessionID, capability string, payload []byte) (Receipt, error) {
	receipt := Receipt{
		CommandID:  uuid.NewString(),
		SessionID:  sessionID,
		Capability: capability,
	}
	ctx, span := b.tracer.Start(ctx, "broker.execute",
		trace.WithAttributes(
			attribute.String("swarm.command_id", receipt.CommandID),
			attribute.String("swarm.session_id", sessionID),
			attribute.String("swarm.capability", capability),
		))
	defer span.End()

	start := b.now()
	err := b.execute(ctx, &receipt, payload)
	receipt.Duration = b.now().Sub(start)
	receipt.IssuedAt = b.now()
	if err != nil {
		receipt.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, string(receipt.Reason))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.SetAttributes(
		attribute.String("swarm.agent_id", receipt.AgentID),
		attribute.Int("swarm.attempts", receipt.Attempts),
		attribute.String("swarm.reason", string(receipt.Reason)),
	)

	b.issue(ctx, receipt)
	if err != nil {
		b.sink.Emit(ctx, audit.ErrorEvent(component, "execute", err))
	}
	return receipt, err
}

func (b *Broker) execute(ctx context.Context, receipt *Receipt, payload []byte) error {
	if err := ctx.Err(); err != nil {
		receipt.Reason = ReasonCancelled
		return types.NewError(types.ErrCancelled, "execution cancelled before routing").WithCause(err).WithComponent(component)
	}

	agent, ok := b.acquire(ctx, receipt.Capability)
	if !ok {
		receipt.Reason = ReasonNoAgent
		return types.NotFoundf("no routable agent for capability %q", receipt.Capability).WithComponent(component)
	}
	receipt.AgentID = agent.ID

	attempts, failures := 0, 0
	started := b.now()
	res, err := retry.DoWithResultTyped(b.retryer, ctx, func() (Result, error) {
		attempts++
		res, err := b.invoke(ctx, receipt, agent, payload, attempts)
		if err != nil {
			failures++
		}
		return res, err
	})
	elapsed := b.now().Sub(started)
	receipt.Attempts = attempts

	if rerr := b.registry.ReleaseLoad(ctx, agent.ID); rerr != nil {
		b.logger.Warn("release load failed", zap.String("agent_id", agent.ID), zap.Error(rerr))
	}
	if rerr := b.registry.RecordExecution(ctx, agent.ID, elapsed, err == nil); rerr != nil {
		b.logger.Warn("record execution failed", zap.String("agent_id", agent.ID), zap.Error(rerr))
	}

	cancelled := err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
	b.observe(ctx, agent.ID, outcomeFor(err, cancelled, attempts, failures))

	switch {
	case err == nil:
		receipt.Success = true
		receipt.Reason = ReasonOK
		receipt.Output = res.Output
		return nil
	case cancelled:
		receipt.Reason = ReasonCancelled
		return types.NewError(types.ErrCancelled, "execution cancelled").WithCause(err).WithComponent(component)
	default:
		receipt.Reason = ReasonFailed
		b.logger.Warn("execution failed",
			zap.String("command_id", receipt.CommandID),
			zap.String("agent_id", agent.ID),
			zap.Int("attempts", attempts),
			zap.Error(err),
		)
		return types.NewError(types.ErrExecution, "execution failed on agent "+agent.ID).WithCause(err).WithComponent(component)
	}
}

// acquire routes and reserves a slot, re-routing when a concurrent caller
// takes the last slot of the chosen agent first.
func (b *Broker) acquire(ctx context.Context, capability string) (registry.Agent, bool) {
	for i := 0; i < maxAcquireAttempts; i++ {
		agent, ok := b.Route(ctx, capability, b.config.DefaultStrategy)
		if !ok {
			return registry.Agent{}, false
		}
		err := b.registry.AcquireLoad(ctx, agent.ID)
		if err == nil {
			return agent, true
		}
		if !types.IsConflict(err) {
			b.logger.Debug("acquire load failed", zap.String("agent_id", agent.ID), zap.Error(err))
		}
	}
	return registry.Agent{}, false
}

func (b *Broker) invoke(ctx context.Context, receipt *Receipt, agent registry.Agent, payload []byte, attempt int) (Result, error) {
	if b.limiter != nil {
		if err := b.limiter.Wait(ctx); err != nil {
			return Result{}, err
		}
	}
	callCtx := ctx
	if b.config.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, b.config.AttemptTimeout)
		defer cancel()
	}
	res, err := b.backend.Invoke(callCtx, Invocation{
		CommandID:  receipt.CommandID,
		SessionID:  receipt.SessionID,
		Capability: receipt.Capability,
		Agent:      agent,
		Payload:    payload,
		Attempt:    attempt,
	})
	if err != nil && ctx.Err() == nil && callCtx.Err() != nil {
		// a per-attempt timeout is a backend failure, not a caller cancellation
		return Result{}, types.Executionf("attempt %d timed out after %s", attempt, b.config.AttemptTimeout)
	}
	return res, err
}

// outcomeFor maps an execution result onto a trust outcome.
func outcomeFor(err error, cancelled bool, attempts, failures int) trust.Outcome {
	switch {
	case err == nil && failures == 0:
		return trust.Success()
	case err == nil:
		return trust.PartialFailure(float64(failures) / float64(attempts))
	case cancelled:
		return trust.Timeout()
	default:
		return trust.CompleteFailure()
	}
}

func (b *Broker) observe(ctx context.Context, agentID string, outcome trust.Outcome) {
	if b.trust == nil {
		return
	}
	if _, err := b.trust.Observe(context.WithoutCancel(ctx), trust.Observation{
		Observer:  b.config.ObserverID,
		Subject:   agentID,
		Outcome:   outcome,
		Timestamp: b.now(),
	}); err != nil {
		b.logger.Debug("trust observation dropped", zap.String("agent_id", agentID), zap.Error(err))
	}
}

func (b *Broker) issue(ctx context.Context, r Receipt) {
	b.sink.Emit(ctx, audit.NewEvent(audit.EventReceiptIssued, component, map[string]any{
		"command_id":          r.CommandID,
		"session_id":          r.SessionID,
		audit.FieldAgentID:    r.AgentID,
		audit.FieldCapability: r.Capability,
		audit.FieldReason:     string(r.Reason),
		audit.FieldDuration:   r.Duration,
		"success":             r.Success,
		"attempts":            r.Attempts,
	}))
	b.logger.Debug("receipt issued",
		zap.String("command_id", r.CommandID),
		zap.String("agent_id", r.AgentID),
		zap.String("reason", string(r.Reason)),
		zap.Duration("duration", r.Duration),
	)
}
