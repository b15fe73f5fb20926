package consensus

import (
	"context"
	"sort"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/shard"
	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/types"
)

const component = "consensus"

// Config holds consensus engine configuration.
type Config struct {
	// DefaultWindow is the voting window for proposals without a deadline.
	DefaultWindow time.Duration `yaml:"default_window" env:"DEFAULT_WINDOW" json:"default_window"`

	// DefaultStrategy applies to proposals that do not name one.
	DefaultStrategy Strategy `yaml:"default_strategy" env:"DEFAULT_STRATEGY" json:"default_strategy"`

	// SweepInterval is the Run period; zero disables background sweeping.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL" json:"sweep_interval"`

	// Retention drops resolved proposals this long after resolution; zero keeps them.
	Retention time.Duration `yaml:"retention" env:"RETENTION" json:"retention"`

	Shards int `yaml:"shards" env:"SHARDS" json:"shards"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DefaultWindow:   30 * time.Second,
		DefaultStrategy: Byzantine,
		SweepInterval:   time.Second,
		Retention:       time.Hour,
		Shards:          32,
	}
}

// entry owns one proposal. mu serializes state changes; voters is a
// thread-safe set so readers can count votes without taking mu.
type entry struct {
	mu       sync.Mutex
	proposal Proposal
	voters   mapset.Set
	done     chan struct{}
}

func (e *entry) snapshot() Proposal {
	p := e.proposal
	p.Payload = append([]byte(nil), e.proposal.Payload...)
	p.Voters = make([]string, 0, e.voters.Cardinality())
	for _, v := range e.voters.ToSlice() {
		p.Voters = append(p.Voters, v.(string))
	}
	sort.Strings(p.Voters)
	return p
}

// Engine runs the per-proposal voting state machine
// Pending -> {Committed, Rejected, TimedOut}.
type Engine struct {
	proposals *shard.Map[*entry]

	sink   audit.Sink
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithAuditSink sets the audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(e *Engine) { e.sink = audit.OrNop(s) }
}

// WithClock replaces the engine clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine.
func New(config Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if config.DefaultStrategy == "" {
		config.DefaultStrategy = Byzantine
	}
	if !config.DefaultStrategy.Valid() {
		return nil, types.Validationf("unknown consensus strategy %q", config.DefaultStrategy)
	}
	if config.DefaultWindow <= 0 {
		config.DefaultWindow = DefaultConfig().DefaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		proposals: shard.New[*entry](config.Shards),
		sink:      audit.Nop{},
		config:    config,
		logger:    logger.With(zap.String("component", component)),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Propose creates a Pending proposal and returns its ID.
func (e *Engine) Propose(ctx context.Context, p Proposal) (string, error) {
	if p.Operation == "" {
		return "", e.fail(ctx, "propose", types.Validationf("proposal operation must not be empty"))
	}
	if p.Strategy == "" {
		p.Strategy = e.config.DefaultStrategy
	}
	if !p.Strategy.Valid() {
		return "", e.fail(ctx, "propose", types.Validationf("unknown consensus strategy %q", p.Strategy))
	}
	if p.EligibleVoters < 0 {
		return "", e.fail(ctx, "propose", types.Validationf("eligible voters must not be negative"))
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = e.now()
	}
	if p.Deadline.IsZero() {
		window := p.Window
		if window <= 0 {
			window = e.config.DefaultWindow
		}
		p.Deadline = p.CreatedAt.Add(window)
	}
	if !p.Deadline.After(p.CreatedAt) {
		return "", e.fail(ctx, "propose", types.Validationf("proposal %s deadline is not after creation", p.ID))
	}
	p.Status = StatusPending
	p.Payload = append([]byte(nil), p.Payload...)
	initial := p.Voters
	p.Voters = nil
	p.Reason = ""
	p.ResolvedAt = time.Time{}

	ent := &entry{proposal: p, voters: mapset.NewSet(), done: make(chan struct{})}
	for _, v := range initial {
		if v != "" {
			ent.voters.Add(v)
		}
	}
	if p.EligibleVoters > 0 && ent.voters.Cardinality() > p.EligibleVoters {
		return "", e.fail(ctx, "propose", types.Validationf("proposal %s has %d initial voters but only %d are eligible",
			p.ID, ent.voters.Cardinality(), p.EligibleVoters))
	}

	err := e.proposals.Update(p.ID, func(_ *entry, exists bool) (*entry, bool, error) {
		if exists {
			return nil, true, types.Conflictf("proposal %s already exists", p.ID)
		}
		return ent, true, nil
	})
	if err != nil {
		return "", e.fail(ctx, "propose", err)
	}

	e.logger.Debug("proposal created",
		zap.String("proposal_id", p.ID),
		zap.String("operation", p.Operation),
		zap.Time("deadline", p.Deadline),
	)
	e.sink.Emit(ctx, audit.NewEvent(audit.EventProposalCreated, component, map[string]any{
		audit.FieldProposalID: p.ID,
		"operation":           p.Operation,
		audit.FieldStrategy:   string(p.Strategy),
	}))
	return p.ID, nil
}

// Vote records voterID's approval. A repeated vote is accepted without being
// counted again and returns false. Votes on a resolved proposal, or after its
// deadline, fail with a CONSENSUS error; a late vote also times the proposal out.
// A new voter beyond EligibleVoters fails with a VALIDATION error.
func (e *Engine) Vote(ctx context.Context, proposalID, voterID string) (bool, error) {
	if voterID == "" {
		return false, e.fail(ctx, "vote", types.Validationf("voter id must not be empty"))
	}
	ent, err := e.lookup(ctx, "vote", proposalID)
	if err != nil {
		return false, err
	}

	ent.mu.Lock()
	defer ent.mu.Unlock()

	p := &ent.proposal
	if p.Status.Terminal() {
		return false, e.fail(ctx, "vote", types.Consensusf("proposal %s is already %s", proposalID, p.Status))
	}
	now := e.now()
	if now.After(p.Deadline) {
		e.resolveLocked(ctx, ent, StatusTimedOut, "voting window elapsed", now)
		return false, e.fail(ctx, "vote", types.Consensusf("proposal %s timed out", proposalID))
	}

	if ent.voters.Contains(voterID) {
		return false, nil
	}
	// The vote count never exceeds the electorate; otherwise thresholds
	// computed over EligibleVoters stop meaning anything.
	if p.EligibleVoters > 0 && ent.voters.Cardinality() >= p.EligibleVoters {
		e.logger.Warn("vote rejected, electorate is full",
			zap.String("proposal_id", proposalID),
			zap.String("voter_id", voterID),
			zap.Int("eligible", p.EligibleVoters),
		)
		return false, e.fail(ctx, "vote", types.Validationf("proposal %s already has all %d eligible votes", proposalID, p.EligibleVoters))
	}
	ent.voters.Add(voterID)
	e.sink.Emit(ctx, audit.NewEvent(audit.EventVoteCast, component, map[string]any{
		audit.FieldProposalID: proposalID,
		audit.FieldVoterID:    voterID,
	}))

	if p.EligibleVoters > 0 {
		if ok, _ := Reached(p.Strategy, ent.voters.Cardinality(), p.EligibleVoters); ok {
			e.resolveLocked(ctx, ent, StatusCommitted, "", now)
		}
	}
	return true, nil
}

// HasConsensus evaluates the proposal's current votes against strategy over
// totalAgents voters.
func (e *Engine) HasConsensus(proposalID string, totalAgents int, strategy Strategy) (bool, error) {
	ent, err := e.lookup(context.Background(), "has_consensus", proposalID)
	if err != nil {
		return false, err
	}
	return Reached(strategy, ent.voters.Cardinality(), totalAgents)
}

// Resolve settles a pending proposal if it can be settled now: it commits
// when the automatic threshold is met and times out when the window has
// elapsed. It returns the resulting status.
func (e *Engine) Resolve(ctx context.Context, proposalID string) (Status, error) {
	ent, err := e.lookup(ctx, "resolve", proposalID)
	if err != nil {
		return "", err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	p := &ent.proposal
	if p.Status.Terminal() {
		return p.Status, nil
	}
	now := e.now()
	if p.EligibleVoters > 0 {
		if ok, _ := Reached(p.Strategy, ent.voters.Cardinality(), p.EligibleVoters); ok {
			e.resolveLocked(ctx, ent, StatusCommitted, "", now)
			return p.Status, nil
		}
	}
	if now.After(p.Deadline) {
		e.resolveLocked(ctx, ent, StatusTimedOut, "voting window elapsed", now)
	}
	return p.Status, nil
}

// Commit commits a pending proposal whose votes satisfy strategy over
// totalAgents voters. It fails with a CONSENSUS error otherwise.
func (e *Engine) Commit(ctx context.Context, proposalID string, totalAgents int, strategy Strategy) error {
	ent, err := e.lookup(ctx, "commit", proposalID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	p := &ent.proposal
	if p.Status.Terminal() {
		return e.fail(ctx, "commit", types.Consensusf("proposal %s is already %s", proposalID, p.Status))
	}
	ok, err := Reached(strategy, ent.voters.Cardinality(), totalAgents)
	if err != nil {
		return e.fail(ctx, "commit", err)
	}
	if !ok {
		return e.fail(ctx, "commit", types.Consensusf("proposal %s has %d votes, below the %s threshold for %d agents",
			proposalID, ent.voters.Cardinality(), strategy, totalAgents))
	}
	e.resolveLocked(ctx, ent, StatusCommitted, "", e.now())
	return nil
}

// Reject rejects a pending proposal.
func (e *Engine) Reject(ctx context.Context, proposalID, reason string) error {
	ent, err := e.lookup(ctx, "reject", proposalID)
	if err != nil {
		return err
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()

	if ent.proposal.Status.Terminal() {
		return e.fail(ctx, "reject", types.Consensusf("proposal %s is already %s", proposalID, ent.proposal.Status))
	}
	e.resolveLocked(ctx, ent, StatusRejected, reason, e.now())
	return nil
}

// Sweep times out every pending proposal whose deadline is before now and
// forgets resolved proposals past the retention period. It returns the
// number of proposals timed out.
func (e *Engine) Sweep(ctx context.Context, now time.Time) int {
	var entries []*entry
	e.proposals.Range(func(_ string, ent *entry) bool {
		entries = append(entries, ent)
		return true
	})

	timedOut := 0
	var expired []string
	for _, ent := range entries {
		ent.mu.Lock()
		p := &ent.proposal
		switch {
		case !p.Status.Terminal() && now.After(p.Deadline):
			e.resolveLocked(ctx, ent, StatusTimedOut, "voting window elapsed", now)
			timedOut++
		case p.Status.Terminal() && e.config.Retention > 0 && now.Sub(p.ResolvedAt) > e.config.Retention:
			expired = append(expired, p.ID)
		}
		ent.mu.Unlock()
	}
	for _, id := range expired {
		e.proposals.Delete(id)
	}
	if timedOut > 0 || len(expired) > 0 {
		e.logger.Debug("proposals swept", zap.Int("timed_out", timedOut), zap.Int("forgotten", len(expired)))
	}
	return timedOut
}

// Await blocks until the proposal is resolved or ctx is done. A committed
// proposal returns nil; rejected and timed-out proposals return a CONSENSUS
// error alongside their status.
func (e *Engine) Await(ctx context.Context, proposalID string) (Status, error) {
	ent, err := e.lookup(ctx, "await", proposalID)
	if err != nil {
		return "", err
	}

	var timer <-chan time.Time
	ent.mu.Lock()
	deadline := ent.proposal.Deadline
	ent.mu.Unlock()
	if d := deadline.Sub(e.now()); d > 0 {
		t := time.NewTimer(d)
		defer t.Stop()
		timer = t.C
	} else {
		_, _ = e.Resolve(ctx, proposalID)
	}

	for {
		select {
		case <-ent.done:
			ent.mu.Lock()
			p := ent.proposal
			ent.mu.Unlock()
			if p.Status.Rejected() {
				return p.Status, types.Consensusf("proposal %s %s: %s", proposalID, p.Status, p.Reason)
			}
			return p.Status, nil
		case <-timer:
			timer = nil
			if status, _ := e.Resolve(ctx, proposalID); status == StatusPending {
				timer = time.After(time.Millisecond)
			}
		case <-ctx.Done():
			return StatusPending, types.NewError(types.ErrCancelled, "await cancelled").WithCause(ctx.Err()).WithComponent(component)
		}
	}
}

// Get returns a copy of the proposal.
func (e *Engine) Get(proposalID string) (Proposal, error) {
	ent, ok := e.proposals.Get(proposalID)
	if !ok {
		return Proposal{}, types.NotFoundf("proposal %s not found", proposalID)
	}
	ent.mu.Lock()
	defer ent.mu.Unlock()
	return ent.snapshot(), nil
}

// Pending returns the pending proposals ordered by deadline, then ID.
func (e *Engine) Pending() []Proposal {
	var out []Proposal
	e.proposals.Range(func(_ string, ent *entry) bool {
		ent.mu.Lock()
		if !ent.proposal.Status.Terminal() {
			out = append(out, ent.snapshot())
		}
		ent.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Deadline.Equal(out[j].Deadline) {
			return out[i].Deadline.Before(out[j].Deadline)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Run sweeps every SweepInterval until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if e.config.SweepInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(e.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			e.Sweep(ctx, e.now())
		}
	}
}

// resolveLocked moves a pending proposal to a terminal status. ent.mu must be held.
func (e *Engine) resolveLocked(ctx context.Context, ent *entry, status Status, reason string, now time.Time) {
	p := &ent.proposal
	p.Status = status
	p.Reason = reason
	p.ResolvedAt = now
	close(ent.done)

	e.logger.Info("proposal resolved",
		zap.String("proposal_id", p.ID),
		zap.String("status", string(status)),
		zap.Int("votes", ent.voters.Cardinality()),
	)
	e.sink.Emit(ctx, audit.NewEvent(audit.EventConsensusResolved, component, map[string]any{
		audit.FieldProposalID: p.ID,
		audit.FieldStatus:     string(status),
		"votes":               ent.voters.Cardinality(),
	}))
}

func (e *Engine) lookup(ctx context.Context, op, id string) (*entry, error) {
	ent, ok := e.proposals.Get(id)
	if !ok {
		return nil, e.fail(ctx, op, types.NotFoundf("proposal %s not found", id))
	}
	return ent, nil
}

func (e *Engine) fail(ctx context.Context, op string, err error) error {
	e.sink.Emit(ctx, audit.ErrorEvent(component, op, err))
	return err
}
