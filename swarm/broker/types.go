package broker

import (
	"context"
	"time"

	"github.com/BaSui01/agentswarm/swarm/registry"
	"github.com/BaSui01/agentswarm/types"
)

// Strategy selects one agent among the capable candidates.
type Strategy string

const (
	MinLatency     Strategy = "min_latency"
	MaxReliability Strategy = "max_reliability"
	LeastLoaded    Strategy = "least_loaded"
	BestFit        Strategy = "best_fit"
)

// Valid reports whether s is a known strategy.
func (s Strategy) Valid() bool {
	switch s {
	case MinLatency, MaxReliability, LeastLoaded, BestFit:
		return true
	}
	return false
}

// ParseStrategy converts a configuration string into a Strategy.
func ParseStrategy(s string) (Strategy, error) {
	st := Strategy(s)
	if !st.Valid() {
		return "", types.Validationf("unknown routing strategy %q", s)
	}
	return st, nil
}

// Weights are the BestFit fitness coefficients:
//
//	Health*health + Latency*(1-normLatency) + Reliability*reliability - Load*normLoad + Trust*trust
type Weights struct {
	Health      float64 `yaml:"health" env:"HEALTH" json:"health"`
	Latency     float64 `yaml:"latency" env:"LATENCY" json:"latency"`
	Reliability float64 `yaml:"reliability" env:"RELIABILITY" json:"reliability"`
	Load        float64 `yaml:"load" env:"LOAD" json:"load"`
	Trust       float64 `yaml:"trust" env:"TRUST" json:"trust"`
}

// DefaultWeights returns the default BestFit weights. Trust is off by default.
func DefaultWeights() Weights {
	return Weights{Health: 0.3, Latency: 0.3, Reliability: 0.3, Load: 0.1}
}

// Invocation is one call handed to the execution backend.
type Invocation struct {
	CommandID  string
	SessionID  string
	Capability string
	Agent      registry.Agent
	Payload    []byte
	Attempt    int
}

// Result is what the backend returns for a successful invocation.
type Result struct {
	Output   []byte
	Metadata map[string]string
}

// Backend performs the remote execution on an agent.
type Backend interface {
	Invoke(ctx context.Context, inv Invocation) (Result, error)
}

// BackendFunc adapts a function to Backend.
type BackendFunc func(ctx context.Context, inv Invocation) (Result, error)

// Invoke implements Backend.
func (f BackendFunc) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	return f(ctx, inv)
}

// Reason explains how an execution ended.
type Reason string

const (
	ReasonOK        Reason = "ok"
	ReasonNoAgent   Reason = "no_agent"
	ReasonCancelled Reason = "cancelled"
	ReasonFailed    Reason = "failed"
)

// Receipt is the audit record of one ExecuteDistributed call. One is issued
// for every call, whatever the outcome.
type Receipt struct {
	CommandID  string        `json:"command_id"`
	SessionID  string        `json:"session_id"`
	AgentID    string        `json:"agent_id,omitempty"`
	Capability string        `json:"capability"`
	Duration   time.Duration `json:"duration"`
	Success    bool          `json:"success"`
	Attempts   int           `json:"attempts"`
	Reason     Reason        `json:"reason"`
	Output     []byte        `json:"output,omitempty"`
	Error      string        `json:"error,omitempty"`
	IssuedAt   time.Time     `json:"issued_at"`
}
