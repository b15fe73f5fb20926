package market

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/internal/shard"
	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/swarm/registry"
	"github.com/BaSui01/agentswarm/types"
)

const component = "market"

// Config holds auction scoring parameters.
type Config struct {
	// LoadPenalty scales the load factor: 1 + LoadPenalty*load.
	LoadPenalty float64 `yaml:"load_penalty" env:"LOAD_PENALTY" json:"load_penalty"`

	// TimeScale normalizes the time factor: 1 + eta/TimeScale.
	TimeScale time.Duration `yaml:"time_scale" env:"TIME_SCALE" json:"time_scale"`

	Shards int `yaml:"shards" env:"SHARDS" json:"shards"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		LoadPenalty: 0.1,
		TimeScale:   time.Minute,
		Shards:      32,
	}
}

// Agents resolves bidders. *registry.Registry satisfies it.
type Agents interface {
	Get(id string) (registry.Agent, error)
}

type listing struct {
	task Task
	bids map[string]Bid // agent id -> latest bid
}

// Market lists tasks, collects sealed bids and assigns winners. Each task is
// updated atomically on its lock stripe, so an assignment is a
// compare-and-set and a task never has two active assignees.
type Market struct {
	tasks *shard.Map[listing]

	agents Agents
	sink   audit.Sink
	config Config
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a Market.
type Option func(*Market)

// WithAgents validates bidders against a registry and scores auctions with
// the registry's live load.
func WithAgents(a Agents) Option {
	return func(m *Market) { m.agents = a }
}

// WithAuditSink sets the audit sink.
func WithAuditSink(s audit.Sink) Option {
	return func(m *Market) { m.sink = audit.OrNop(s) }
}

// New creates an empty market.
func New(config Config, logger *zap.Logger, opts ...Option) (*Market, error) {
	if config.LoadPenalty < 0 {
		return nil, types.Validationf("load penalty must not be negative")
	}
	if config.TimeScale <= 0 {
		config.TimeScale = DefaultConfig().TimeScale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Market{
		tasks:  shard.New[listing](config.Shards),
		sink:   audit.Nop{},
		config: config,
		logger: logger.With(zap.String("component", component)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// ListTask opens a task for bidding and returns its ID.
func (m *Market) ListTask(ctx context.Context, task Task) (string, error) {
	task = task.clone()
	task.RequiredCapabilities = normalize(task.RequiredCapabilities)
	if len(task.RequiredCapabilities) == 0 {
		return "", m.fail(ctx, "list_task", types.Validationf("task %q requires no capabilities", task.ID))
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.Status = TaskOpen
	task.AssignedTo = ""
	task.ListedAt = m.now()

	err := m.tasks.Update(task.ID, func(_ listing, exists bool) (listing, bool, error) {
		if exists {
			return listing{}, true, types.Conflictf("task %s already listed", task.ID)
		}
		return listing{task: task, bids: make(map[string]Bid)}, true, nil
	})
	if err != nil {
		return "", m.fail(ctx, "list_task", err)
	}

	m.logger.Debug("task listed", zap.String("task_id", task.ID), zap.Strings("capabilities", task.RequiredCapabilities))
	m.sink.Emit(ctx, audit.NewEvent(audit.EventTaskListed, component, map[string]any{
		audit.FieldTaskID: task.ID,
		"priority":        task.Priority,
	}))
	return task.ID, nil
}

// PlaceBid records a sealed bid. A later bid from the same agent on the same
// task replaces the earlier one.
func (m *Market) PlaceBid(ctx context.Context, bid Bid) error {
	if err := bid.Validate(); err != nil {
		return m.fail(ctx, "place_bid", err)
	}
	bid.PlacedAt = m.now()

	// resolve the bidder before taking the task lock
	var agent *registry.Agent
	if m.agents != nil {
		a, err := m.agents.Get(bid.AgentID)
		if err != nil {
			return m.fail(ctx, "place_bid", types.NotFoundf("bidder %s not found", bid.AgentID))
		}
		agent = &a
	}

	err := m.tasks.Update(bid.TaskID, func(l listing, exists bool) (listing, bool, error) {
		if !exists {
			return l, false, types.NotFoundf("task %s not found", bid.TaskID)
		}
		if l.task.Status != TaskOpen {
			return l, true, types.Conflictf("task %s is %s", bid.TaskID, l.task.Status)
		}
		if agent != nil {
			for _, c := range l.task.RequiredCapabilities {
				if !agent.HasCapability(c) {
					return l, true, types.Validationf("bidder %s lacks capability %q", bid.AgentID, c)
				}
			}
		}
		l.bids[bid.AgentID] = bid
		return l, true, nil
	})
	if err != nil {
		return m.fail(ctx, "place_bid", err)
	}

	m.sink.Emit(ctx, audit.NewEvent(audit.EventBidPlaced, component, map[string]any{
		audit.FieldTaskID:  bid.TaskID,
		audit.FieldAgentID: bid.AgentID,
		"price":            bid.Price,
	}))
	return nil
}

// Score is the auction score of a bid at the given load; lower wins:
// price × (1 + LoadPenalty×load) × (1 + eta/TimeScale) / confidence.
func (m *Market) Score(bid Bid, load int) float64 {
	loadFactor := 1 + m.config.LoadPenalty*float64(load)
	timeFactor := 1 + float64(bid.ETA)/float64(m.config.TimeScale)
	return bid.Price * loadFactor * timeFactor / bid.Confidence
}

// RunAuction picks the winning bid for an open task without assigning it.
// Bids that cannot finish before the task deadline are ineligible. Ties go
// to the lowest agent ID.
func (m *Market) RunAuction(ctx context.Context, taskID string) (Bid, error) {
	task, bids, err := m.listing(taskID)
	if err != nil {
		return Bid{}, m.fail(ctx, "run_auction", err)
	}
	if task.Status != TaskOpen {
		return Bid{}, m.fail(ctx, "run_auction", types.Conflictf("task %s is %s", taskID, task.Status))
	}
	if len(bids) == 0 {
		return Bid{}, m.fail(ctx, "run_auction", types.NotFoundf("task %s has no bids", taskID))
	}

	now := m.now()
	var (
		winner    Bid
		bestScore float64
		found     bool
	)
	for _, b := range bids { // sorted by agent id
		if task.Deadline != nil && now.Add(b.ETA).After(*task.Deadline) {
			continue
		}
		score := m.Score(b, m.loadOf(b))
		if math.IsNaN(score) {
			continue
		}
		if !found || score < bestScore {
			winner, bestScore, found = b, score, true
		}
	}
	if !found {
		return Bid{}, m.fail(ctx, "run_auction", types.NotFoundf("task %s has no bid that meets its deadline", taskID))
	}

	m.logger.Debug("auction completed",
		zap.String("task_id", taskID),
		zap.String("winner", winner.AgentID),
		zap.Float64("score", bestScore),
		zap.Int("bids", len(bids)),
	)
	m.sink.Emit(ctx, audit.NewEvent(audit.EventAuctionCompleted, component, map[string]any{
		audit.FieldTaskID:  taskID,
		audit.FieldAgentID: winner.AgentID,
		"score":            bestScore,
	}))
	return winner, nil
}

// loadOf prefers the registry's live load over the self-reported one.
func (m *Market) loadOf(b Bid) int {
	if m.agents != nil {
		if a, err := m.agents.Get(b.AgentID); err == nil {
			return a.Load
		}
	}
	return b.Load
}

// AssignTask assigns an open task to agentID. Assigning again to the same
// agent succeeds without change; assigning a task held by another agent
// fails with a CONFLICT error until it is unassigned.
func (m *Market) AssignTask(ctx context.Context, taskID, agentID string) error {
	if agentID == "" {
		return m.fail(ctx, "assign_task", types.Validationf("agent id must not be empty"))
	}
	if m.agents != nil {
		if _, err := m.agents.Get(agentID); err != nil {
			return m.fail(ctx, "assign_task", types.NotFoundf("agent %s not found", agentID))
		}
	}

	changed := false
	err := m.tasks.Update(taskID, func(l listing, exists bool) (listing, bool, error) {
		if !exists {
			return l, false, types.NotFoundf("task %s not found", taskID)
		}
		switch l.task.Status {
		case TaskAssigned:
			if l.task.AssignedTo == agentID {
				return l, true, nil
			}
			return l, true, types.Conflictf("task %s is already assigned to %s", taskID, l.task.AssignedTo)
		case TaskCompleted:
			return l, true, types.Conflictf("task %s is completed", taskID)
		}
		l.task.Status = TaskAssigned
		l.task.AssignedTo = agentID
		l.task.AssignedAt = m.now()
		changed = true
		return l, true, nil
	})
	if err != nil {
		return m.fail(ctx, "assign_task", err)
	}
	if changed {
		m.logger.Info("task assigned", zap.String("task_id", taskID), zap.String("agent_id", agentID))
		m.sink.Emit(ctx, audit.NewEvent(audit.EventTaskAssigned, component, map[string]any{
			audit.FieldTaskID:  taskID,
			audit.FieldAgentID: agentID,
		}))
	}
	return nil
}

// UnassignTask returns a task held by agentID to the open pool. The
// agent's bid is withdrawn so a fresh auction picks someone else.
func (m *Market) UnassignTask(ctx context.Context, taskID, agentID string) error {
	err := m.tasks.Update(taskID, func(l listing, exists bool) (listing, bool, error) {
		if !exists {
			return l, false, types.NotFoundf("task %s not found", taskID)
		}
		if l.task.Status != TaskAssigned || l.task.AssignedTo != agentID {
			return l, true, types.Conflictf("task %s is not assigned to %s", taskID, agentID)
		}
		l.task.Status = TaskOpen
		l.task.AssignedTo = ""
		l.task.AssignedAt = time.Time{}
		delete(l.bids, agentID)
		return l, true, nil
	})
	if err != nil {
		return m.fail(ctx, "unassign_task", err)
	}
	m.sink.Emit(ctx, audit.NewEvent(audit.EventTaskUnassigned, component, map[string]any{
		audit.FieldTaskID:  taskID,
		audit.FieldAgentID: agentID,
	}))
	return nil
}

// CompleteTask marks a task held by agentID as completed.
func (m *Market) CompleteTask(ctx context.Context, taskID, agentID string) error {
	err := m.tasks.Update(taskID, func(l listing, exists bool) (listing, bool, error) {
		if !exists {
			return l, false, types.NotFoundf("task %s not found", taskID)
		}
		if l.task.Status != TaskAssigned || l.task.AssignedTo != agentID {
			return l, true, types.Conflictf("task %s is not assigned to %s", taskID, agentID)
		}
		l.task.Status = TaskCompleted
		l.task.CompletedAt = m.now()
		return l, true, nil
	})
	if err != nil {
		return m.fail(ctx, "complete_task", err)
	}
	m.sink.Emit(ctx, audit.NewEvent(audit.EventTaskCompleted, component, map[string]any{
		audit.FieldTaskID:  taskID,
		audit.FieldAgentID: agentID,
	}))
	return nil
}

// Award runs the auction and assigns the task to the winner.
func (m *Market) Award(ctx context.Context, taskID string) (Bid, error) {
	winner, err := m.RunAuction(ctx, taskID)
	if err != nil {
		return Bid{}, err
	}
	if err := m.AssignTask(ctx, taskID, winner.AgentID); err != nil {
		return Bid{}, err
	}
	return winner, nil
}

// Task returns a copy of a task.
func (m *Market) Task(taskID string) (Task, error) {
	task, _, err := m.listing(taskID)
	return task, err
}

// Bids returns the live bids on a task, sorted by agent ID.
func (m *Market) Bids(taskID string) ([]Bid, error) {
	_, bids, err := m.listing(taskID)
	return bids, err
}

// OpenTasks returns the open tasks by priority (highest first), then ID.
func (m *Market) OpenTasks() []Task {
	var out []Task
	m.tasks.Range(func(_ string, l listing) bool {
		if l.task.Status == TaskOpen {
			out = append(out, l.task.clone())
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (m *Market) listing(taskID string) (Task, []Bid, error) {
	var (
		task  Task
		bids  []Bid
		found bool
	)
	m.tasks.View(taskID, func(l listing, ok bool) {
		if !ok {
			return
		}
		found = true
		task = l.task.clone()
		bids = make([]Bid, 0, len(l.bids))
		for _, b := range l.bids {
			bids = append(bids, b)
		}
	})
	if !found {
		return Task{}, nil, types.NotFoundf("task %s not found", taskID)
	}
	sort.Slice(bids, func(i, j int) bool { return bids[i].AgentID < bids[j].AgentID })
	return task, bids, nil
}

func (m *Market) fail(ctx context.Context, op string, err error) error {
	m.sink.Emit(ctx, audit.ErrorEvent(component, op, err))
	return err
}

func normalize(caps []string) []string {
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
