package registry

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/shard"
	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/swarm/ontology"
	"github.com/BaSui01/agentswarm/types"
)

const component = "registry"

// Config holds configuration for the agent registry.
type Config struct {
	// Shards is the lock-stripe count for agent records and the capability index.
	Shards int `yaml:"shards" env:"SHARDS" json:"shards"`

	// DefaultHealth is applied when an agent registers with zero health.
	DefaultHealth float64 `yaml:"default_health" env:"DEFAULT_HEALTH" json:"default_health"`

	// DefaultReliability is applied when an agent registers with zero reliability.
	DefaultReliability float64 `yaml:"default_reliability" env:"DEFAULT_RELIABILITY" json:"default_reliability"`

	// StatsAlpha is the EWMA factor for latency and reliability updates (0-1].
	StatsAlpha float64 `yaml:"stats_alpha" env:"STATS_ALPHA" json:"stats_alpha"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Shards:             32,
		DefaultHealth:      1.0,
		DefaultReliability: 1.0,
		StatsAlpha:         0.2,
	}
}

// Registry is the authoritative, in-memory store of agent records. It is the
// single writer of agent data: other components read copies and mutate only
// through the methods below. Records and the capability index are
// lock-striped by key, so there is no registry-wide lock.
type Registry struct {
	agents  *shard.Map[Agent]
	index   *shard.Map[map[string]struct{}] // capability -> agent IDs
	retired *shard.Map[struct{}]

	ontology ontology.Service
	sink     audit.Sink
	config   Config
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Registry.
type Option func(*Registry)

// WithOntology rejects capability sets the ontology reports as conflicting.
func WithOntology(o ontology.Service) Option {
	return func(r *Registry) { r.ontology = o }
}

// WithAuditSink sets the audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(r *Registry) { r.sink = audit.OrNop(s) }
}

// New creates an empty registry.
func New(config Config, logger *zap.Logger, opts ...Option) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.StatsAlpha <= 0 || config.StatsAlpha > 1 {
		config.StatsAlpha = DefaultConfig().StatsAlpha
	}
	r := &Registry{
		agents:  shard.New[Agent](config.Shards),
		index:   shard.New[map[string]struct{}](config.Shards),
		retired: shard.New[struct{}](config.Shards),
		sink:    audit.Nop{},
		config:  config,
		logger:  logger.With(zap.String("component", component)),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds an agent and returns its ID. An empty ID is replaced by a
// generated UUID. Zero health or reliability is replaced by the configured
// defaults. The agent starts in StateRegistered.
func (r *Registry) Register(ctx context.Context, agent Agent) (string, error) {
	agent = agent.Clone()
	agent.Capabilities = normalizeCapabilities(agent.Capabilities)

	if len(agent.Capabilities) == 0 {
		return "", r.fail(ctx, "register", types.Validationf("agent %q has an empty capability set", agent.ID))
	}
	if agent.Health == 0 {
		agent.Health = r.config.DefaultHealth
	}
	if agent.Reliability == 0 {
		agent.Reliability = r.config.DefaultReliability
	}
	if err := validateAgent(agent); err != nil {
		return "", r.fail(ctx, "register", err)
	}
	if r.ontology != nil {
		conflict, err := r.ontology.HasConflict(ctx, agent.Capabilities)
		if err != nil {
			return "", r.fail(ctx, "register", types.NewError(types.ErrValidation, "ontology query failed").WithCause(err))
		}
		if conflict {
			return "", r.fail(ctx, "register", types.Validationf("agent %q declares conflicting capabilities %v", agent.ID, agent.Capabilities))
		}
	}
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}

	now := r.now()
	agent.State = StateRegistered
	agent.RegisteredAt = now
	if agent.LastSeen.IsZero() {
		agent.LastSeen = now
	}

	err := r.agents.Update(agent.ID, func(_ Agent, exists bool) (Agent, bool, error) {
		if exists {
			return Agent{}, true, types.Conflictf("agent %s already registered", agent.ID)
		}
		if _, gone := r.retired.Get(agent.ID); gone {
			return Agent{}, false, types.Conflictf("agent id %s was retired and cannot be reused", agent.ID)
		}
		return agent, true, nil
	})
	if err != nil {
		return "", r.fail(ctx, "register", err)
	}

	for _, c := range agent.Capabilities {
		r.indexAdd(c, agent.ID)
	}

	r.logger.Info("agent registered",
		zap.String("agent_id", agent.ID),
		zap.Strings("capabilities", agent.Capabilities),
	)
	r.sink.Emit(ctx, audit.NewEvent(audit.EventAgentRegistered, component, map[string]any{
		audit.FieldAgentID: agent.ID,
	}))
	return agent.ID, nil
}

// Deregister removes an agent and retires its ID.
func (r *Registry) Deregister(ctx context.Context, id string) error {
	var removed Agent
	err := r.agents.Update(id, func(cur Agent, exists bool) (Agent, bool, error) {
		if !exists {
			return Agent{}, false, types.NotFoundf("agent %s not found", id)
		}
		removed = cur
		r.retired.Store(id, struct{}{})
		return Agent{}, false, nil
	})
	if err != nil {
		return r.fail(ctx, "deregister", err)
	}

	for _, c := range removed.Capabilities {
		r.indexRemove(c, id)
	}

	r.logger.Info("agent deregistered", zap.String("agent_id", id))
	r.sink.Emit(ctx, audit.NewEvent(audit.EventAgentDeregistered, component, map[string]any{
		audit.FieldAgentID: id,
	}))
	return nil
}

// Transition moves an agent to target if the transition table allows it.
func (r *Registry) Transition(ctx context.Context, id string, target LifecycleState) error {
	if !target.Valid() {
		return r.fail(ctx, "transition", types.Validationf("unknown lifecycle state %q", target))
	}

	var from LifecycleState
	err := r.agents.Update(id, func(cur Agent, exists bool) (Agent, bool, error) {
		if !exists {
			return Agent{}, false, types.NotFoundf("agent %s not found", id)
		}
		if !CanTransition(cur.State, target) {
			return cur, true, types.NewError(types.ErrInvalidTransition,
				"illegal lifecycle transition "+string(cur.State)+" -> "+string(target))
		}
		from = cur.State
		cur.State = target
		return cur, true, nil
	})
	if err != nil {
		return r.fail(ctx, "transition", err)
	}

	r.logger.Debug("agent transitioned",
		zap.String("agent_id", id),
		zap.String("from", string(from)),
		zap.String("to", string(target)),
	)
	r.sink.Emit(ctx, audit.NewEvent(audit.EventAgentTransitioned, component, map[string]any{
		audit.FieldAgentID:   id,
		audit.FieldFromState: string(from),
		audit.FieldToState:   string(target),
	}))
	return nil
}

// Get returns a copy of the agent record.
func (r *Registry) Get(id string) (Agent, error) {
	a, ok := r.agents.Get(id)
	if !ok {
		return Agent{}, types.NotFoundf("agent %s not found", id)
	}
	return a.Clone(), nil
}

// Has reports whether id is currently registered.
func (r *Registry) Has(id string) bool {
	_, ok := r.agents.Get(id)
	return ok
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	return r.agents.Len()
}

// List returns copies of every agent, sorted by ID.
func (r *Registry) List() []Agent {
	out := make([]Agent, 0, r.agents.Len())
	r.agents.Range(func(_ string, a Agent) bool {
		out = append(out, a.Clone())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FindByCapability returns every agent advertising capability exactly once,
// sorted by ID.
func (r *Registry) FindByCapability(capability string) []Agent {
	var ids []string
	r.index.View(capability, func(set map[string]struct{}, ok bool) {
		if !ok {
			return
		}
		ids = make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
	})
	sort.Strings(ids)

	out := make([]Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents.Get(id); ok && a.HasCapability(capability) {
			out = append(out, a.Clone())
		}
	}
	return out
}

// Heartbeat refreshes an agent's last-seen time.
func (r *Registry) Heartbeat(ctx context.Context, id string, at time.Time) error {
	return r.mutate(ctx, "heartbeat", id, func(a *Agent) error {
		if at.After(a.LastSeen) {
			a.LastSeen = at
		}
		return nil
	})
}

// UpdateHealth sets an agent's health score.
func (r *Registry) UpdateHealth(ctx context.Context, id string, health float64) error {
	if !unit(health) {
		return r.fail(ctx, "update_health", types.Validationf("health %v outside [0,1]", health))
	}
	return r.mutate(ctx, "update_health", id, func(a *Agent) error {
		a.Health = health
		return nil
	})
}

// AcquireLoad reserves one execution slot on the agent.
func (r *Registry) AcquireLoad(ctx context.Context, id string) error {
	return r.mutate(ctx, "acquire_load", id, func(a *Agent) error {
		if !a.HasCapacity() {
			return types.Conflictf("agent %s is at capacity (%d/%d)", id, a.Load, a.MaxConcurrency)
		}
		a.Load++
		return nil
	})
}

// ReleaseLoad frees one execution slot on the agent.
func (r *Registry) ReleaseLoad(ctx context.Context, id string) error {
	return r.mutate(ctx, "release_load", id, func(a *Agent) error {
		if a.Load > 0 {
			a.Load--
		}
		return nil
	})
}

// RecordExecution folds an execution result into the agent's latency and
// reliability estimates.
func (r *Registry) RecordExecution(ctx context.Context, id string, duration time.Duration, success bool) error {
	alpha := r.config.StatsAlpha
	return r.mutate(ctx, "record_execution", id, func(a *Agent) error {
		if a.Latency == 0 {
			a.Latency = duration
		} else {
			a.Latency = time.Duration(alpha*float64(duration) + (1-alpha)*float64(a.Latency))
		}
		outcome := 0.0
		if success {
			outcome = 1.0
		}
		a.Reliability = clamp01(alpha*outcome + (1-alpha)*a.Reliability)
		a.LastSeen = r.now()
		return nil
	})
}

// Restore loads agent records from a snapshot. Existing records with the
// same ID are replaced; state and load are taken from the snapshot.
func (r *Registry) Restore(ctx context.Context, agents []Agent) error {
	for _, a := range agents {
		a = a.Clone()
		a.Capabilities = normalizeCapabilities(a.Capabilities)
		if a.ID == "" || len(a.Capabilities) == 0 {
			return r.fail(ctx, "restore", types.Validationf("snapshot contains an invalid agent record %q", a.ID))
		}
		if !a.State.Valid() {
			a.State = StateRegistered
		}
		var previous []string
		_ = r.agents.Update(a.ID, func(cur Agent, exists bool) (Agent, bool, error) {
			if exists {
				previous = cur.Capabilities
			}
			return a, true, nil
		})
		for _, c := range previous {
			r.indexRemove(c, a.ID)
		}
		for _, c := range a.Capabilities {
			r.indexAdd(c, a.ID)
		}
	}
	r.logger.Info("registry restored", zap.Int("agents", len(agents)))
	return nil
}

// Retired returns the retired agent IDs, sorted.
func (r *Registry) Retired() []string {
	out := make([]string, 0, r.retired.Len())
	r.retired.Range(func(id string, _ struct{}) bool {
		out = append(out, id)
		return true
	})
	sort.Strings(out)
	return out
}

// RestoreRetired marks ids as retired. Retirement is permanent, so a live
// record under a retired ID is dropped.
func (r *Registry) RestoreRetired(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if id == "" {
			return r.fail(ctx, "restore_retired", types.Validationf("snapshot contains an empty retired id"))
		}
	}
	for _, id := range ids {
		var removed Agent
		var had bool
		_ = r.agents.Update(id, func(cur Agent, exists bool) (Agent, bool, error) {
			removed, had = cur, exists
			r.retired.Store(id, struct{}{})
			return Agent{}, false, nil
		})
		if !had {
			continue
		}
		for _, c := range removed.Capabilities {
			r.indexRemove(c, id)
		}
		r.logger.Warn("dropped restored agent with a retired id", zap.String("agent_id", id))
	}
	r.logger.Info("retired ids restored", zap.Int("retired", len(ids)))
	return nil
}

func (r *Registry) mutate(ctx context.Context, op, id string, fn func(a *Agent) error) error {
	err := r.agents.Update(id, func(cur Agent, exists bool) (Agent, bool, error) {
		if !exists {
			return Agent{}, false, types.NotFoundf("agent %s not found", id)
		}
		if err := fn(&cur); err != nil {
			return cur, true, err
		}
		return cur, true, nil
	})
	if err != nil {
		return r.fail(ctx, op, err)
	}
	return nil
}

func (r *Registry) indexAdd(capability, id string) {
	_ = r.index.Update(capability, func(set map[string]struct{}, exists bool) (map[string]struct{}, bool, error) {
		if !exists {
			set = make(map[string]struct{})
		}
		set[id] = struct{}{}
		return set, true, nil
	})
}

func (r *Registry) indexRemove(capability, id string) {
	_ = r.index.Update(capability, func(set map[string]struct{}, exists bool) (map[string]struct{}, bool, error) {
		if !exists {
			return nil, false, nil
		}
		delete(set, id)
		return set, len(set) > 0, nil
	})
}

func (r *Registry) fail(ctx context.Context, op string, err error) error {
	r.logger.Debug("registry operation failed", zap.String("op", op), zap.Error(err))
	r.sink.Emit(ctx, audit.ErrorEvent(component, op, err))
	return err
}

func validateAgent(a Agent) error {
	switch {
	case !unit(a.Health):
		return types.Validationf("agent %q health %v outside [0,1]", a.ID, a.Health)
	case !unit(a.Reliability):
		return types.Validationf("agent %q reliability %v outside [0,1]", a.ID, a.Reliability)
	case a.Load < 0:
		return types.Validationf("agent %q has negative load", a.ID)
	case a.MaxConcurrency < 0:
		return types.Validationf("agent %q has negative max concurrency", a.ID)
	case a.Latency < 0:
		return types.Validationf("agent %q has negative latency", a.ID)
	}
	return nil
}

// unit reports whether v lies in [0,1]; NaN does not.
func unit(v float64) bool {
	return v >= 0 && v <= 1
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
