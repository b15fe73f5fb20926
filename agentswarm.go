// Package agentswarm is the top-level entry point of the coordination core.
//
// Usage:
//
//	import "github.com/BaSui01/agentswarm"
//
//	s, err := agentswarm.New(ctx, backend)
//	s, err := agentswarm.New(ctx, backend, agentswarm.WithLogger(logger))
//
// This is a thin wrapper around [swarm.New] with default configuration.
package agentswarm

import (
	"context"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm"
	"github.com/BaSui01/agentswarm/swarm/broker"
)

// Option configures the swarm created by [New].
type Option func(*settings)

type settings struct {
	config swarm.Config
	logger *zap.Logger
	opts   []swarm.Option
}

// WithConfig replaces the default configuration.
func WithConfig(c swarm.Config) Option {
	return func(s *settings) { s.config = c }
}

// WithLogger sets a custom zap logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithSwarmOptions passes options through to [swarm.New].
func WithSwarmOptions(opts ...swarm.Option) Option {
	return func(s *settings) { s.opts = append(s.opts, opts...) }
}

// New creates a [swarm.Swarm] that executes commands through backend.
func New(ctx context.Context, backend broker.Backend, opts ...Option) (*swarm.Swarm, error) {
	s := &settings{config: swarm.DefaultConfig(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return swarm.New(ctx, s.config, backend, s.logger, s.opts...)
}

// Re-export the audit and snapshot options so callers never need to import swarm/.

// WithAuditSink adds an audit sink.
var WithAuditSink = swarm.WithAuditSink

// WithMetrics feeds events into a prometheus collector.
var WithMetrics = swarm.WithMetrics

// WithSnapshotStore sets the snapshot store.
var WithSnapshotStore = swarm.WithSnapshotStore
