package registry

import (
	"sort"
	"time"
)

// LifecycleState is the lifecycle tag attached to every agent record.
type LifecycleState string

const (
	// StateUnregistered marks an agent that was escalated and released after review.
	StateUnregistered LifecycleState = "unregistered"
	// StateRegistered is the state of every freshly registered agent.
	StateRegistered LifecycleState = "registered"
	// StateVerified marks an agent whose identity and capabilities were verified.
	StateVerified LifecycleState = "verified"
	// StateTrusted marks an agent with an established track record.
	StateTrusted LifecycleState = "trusted"
	// StateEscalated marks an agent demoted for review.
	StateEscalated LifecycleState = "escalated"
)

// transitions is the allowed lifecycle transition table.
var transitions = map[LifecycleState][]LifecycleState{
	StateUnregistered: {StateRegistered},
	StateRegistered:   {StateVerified},
	StateVerified:     {StateTrusted},
	StateTrusted:      {StateEscalated},
	StateEscalated:    {StateUnregistered},
}

// AllStates lists every lifecycle state.
func AllStates() []LifecycleState {
	return []LifecycleState{StateUnregistered, StateRegistered, StateVerified, StateTrusted, StateEscalated}
}

// Valid reports whether s is a known lifecycle state.
func (s LifecycleState) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether from → to is in the transition table.
func CanTransition(from, to LifecycleState) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Routable reports whether agents in state s may receive work.
func (s LifecycleState) Routable() bool {
	return s == StateRegistered || s == StateVerified || s == StateTrusted
}

// Agent is an autonomous worker known to the registry.
type Agent struct {
	// ID is unique for the lifetime of the registry.
	ID string `json:"id"`

	// Address is the network address the execution backend dials.
	Address string `json:"address"`

	// Capabilities is the non-empty, sorted, de-duplicated capability set.
	Capabilities []string `json:"capabilities"`

	// Health is the current health score (0-1).
	Health float64 `json:"health"`

	// Latency is the smoothed execution latency estimate.
	Latency time.Duration `json:"latency"`

	// Reliability is the smoothed success ratio (0-1).
	Reliability float64 `json:"reliability"`

	// LastSeen is the last heartbeat or execution time.
	LastSeen time.Time `json:"last_seen"`

	// MaxConcurrency bounds Load; zero means unbounded.
	MaxConcurrency int `json:"max_concurrency"`

	// Load is the number of in-flight executions.
	Load int `json:"load"`

	// State is the lifecycle tag.
	State LifecycleState `json:"state"`

	// RegisteredAt is when the agent was registered.
	RegisteredAt time.Time `json:"registered_at"`

	// Metadata contains additional metadata.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// HasCapability reports whether the agent advertises capability.
func (a *Agent) HasCapability(capability string) bool {
	i := sort.SearchStrings(a.Capabilities, capability)
	return i < len(a.Capabilities) && a.Capabilities[i] == capability
}

// HasCapacity reports whether the agent can accept one more execution.
func (a *Agent) HasCapacity() bool {
	return a.MaxConcurrency <= 0 || a.Load < a.MaxConcurrency
}

// Clone returns a deep copy.
func (a Agent) Clone() Agent {
	out := a
	out.Capabilities = append([]string(nil), a.Capabilities...)
	if a.Metadata != nil {
		out.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// normalizeCapabilities trims empties, de-duplicates and sorts.
func normalizeCapabilities(caps []string) []string {
	seen := make(map[string]struct{}, len(caps))
	out := make([]string, 0, len(caps))
	for _, c := range caps {
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
