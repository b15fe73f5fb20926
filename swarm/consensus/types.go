package consensus

import (
	"time"

	"github.com/BaSui01/agentswarm/types"
)

// Status is the proposal state: Pending, then exactly one terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCommitted Status = "committed"
	StatusRejected  Status = "rejected"
	StatusTimedOut  Status = "timed_out"
)

// Terminal reports whether no further votes are accepted.
func (s Status) Terminal() bool { return s != StatusPending }

// Rejected reports whether the proposal failed. A timed-out proposal counts
// as rejected.
func (s Status) Rejected() bool { return s == StatusRejected || s == StatusTimedOut }

// Strategy is the quorum rule.
type Strategy string

const (
	SimpleMajority Strategy = "simple_majority"
	Byzantine      Strategy = "byzantine"
	Unanimous      Strategy = "unanimous"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case SimpleMajority, Byzantine, Unanimous:
		return true
	}
	return false
}

// MaxFaulty is the number of faulty or absent voters a Byzantine quorum over
// n voters tolerates: ⌊(n-1)/3⌋.
func MaxFaulty(n int) int {
	if n <= 0 {
		return 0
	}
	return (n - 1) / 3
}

// Threshold returns the minimum number of votes strategy needs out of n.
func Threshold(strategy Strategy, n int) (int, error) {
	if n <= 0 {
		return 0, types.Validationf("total agents must be positive, got %d", n)
	}
	switch strategy {
	case SimpleMajority:
		return n/2 + 1, nil
	case Byzantine:
		return 2*MaxFaulty(n) + 1, nil
	case Unanimous:
		return n, nil
	default:
		return 0, types.Validationf("unknown consensus strategy %q", strategy)
	}
}

// Reached reports whether votes out of n satisfy strategy. More votes than
// voters is a validation error.
func Reached(strategy Strategy, votes, n int) (bool, error) {
	threshold, err := Threshold(strategy, n)
	if err != nil {
		return false, err
	}
	if votes < 0 || votes > n {
		return false, types.Validationf("vote count %d outside [0,%d]", votes, n)
	}
	return votes >= threshold, nil
}

// Proposal is an operation put to a vote.
type Proposal struct {
	ID        string `json:"id"`
	Operation string `json:"operation"`
	Proposer  string `json:"proposer,omitempty"`
	Payload   []byte `json:"payload,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	Deadline  time.Time `json:"deadline"`
	// Window sets Deadline relative to CreatedAt when Deadline is zero.
	Window time.Duration `json:"window,omitempty"`

	// Strategy and EligibleVoters enable automatic commit: once the voter set
	// reaches the strategy threshold over EligibleVoters, the proposal commits.
	// Zero EligibleVoters leaves the decision to the caller.
	Strategy       Strategy `json:"strategy"`
	EligibleVoters int      `json:"eligible_voters,omitempty"`

	Status     Status    `json:"status"`
	Voters     []string  `json:"voters,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	ResolvedAt time.Time `json:"resolved_at,omitempty"`
}

// Votes returns the number of distinct voters.
func (p Proposal) Votes() int { return len(p.Voters) }
