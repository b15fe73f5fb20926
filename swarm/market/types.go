package market

import (
	"math"
	"time"

	"github.com/BaSui01/agentswarm/types"
)

// TaskStatus is the task lifecycle: Open -> Assigned -> Completed, with
// Assigned -> Open on explicit unassignment.
type TaskStatus string

const (
	TaskOpen      TaskStatus = "open"
	TaskAssigned  TaskStatus = "assigned"
	TaskCompleted TaskStatus = "completed"
)

// Task is a unit of work put up for auction.
type Task struct {
	ID                   string     `json:"id"`
	Type                 string     `json:"type"`
	RequiredCapabilities []string   `json:"required_capabilities"`
	Deadline             *time.Time `json:"deadline,omitempty"`
	Priority             int        `json:"priority"`

	Status      TaskStatus `json:"status"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	ListedAt    time.Time  `json:"listed_at"`
	AssignedAt  time.Time  `json:"assigned_at,omitempty"`
	CompletedAt time.Time  `json:"completed_at,omitempty"`
}

func (t Task) clone() Task {
	out := t
	out.RequiredCapabilities = append([]string(nil), t.RequiredCapabilities...)
	if t.Deadline != nil {
		d := *t.Deadline
		out.Deadline = &d
	}
	return out
}

// Bid is a sealed offer by an agent to perform a task.
type Bid struct {
	TaskID     string        `json:"task_id"`
	AgentID    string        `json:"agent_id"`
	Price      float64       `json:"price"`
	ETA        time.Duration `json:"eta"`
	Confidence float64       `json:"confidence"`
	// Load is the agent's self-reported load when bidding.
	Load     int       `json:"load"`
	PlacedAt time.Time `json:"placed_at"`
}

// Validate checks the bid's own fields.
func (b Bid) Validate() error {
	switch {
	case b.TaskID == "" || b.AgentID == "":
		return types.Validationf("bid needs a task id and an agent id")
	case !(b.Price >= 0) || math.IsInf(b.Price, 1):
		return types.Validationf("bid price %v is not a finite non-negative number", b.Price)
	case !(b.Confidence > 0 && b.Confidence <= 1):
		return types.Validationf("bid confidence %v outside (0,1]", b.Confidence)
	case b.ETA < 0:
		return types.Validationf("bid eta %v is negative", b.ETA)
	case b.Load < 0:
		return types.Validationf("bid load %d is negative", b.Load)
	}
	return nil
}
