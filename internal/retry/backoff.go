// Package retry provides bounded exponential backoff for swarm operations.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/types"
)

// Policy configures a backoff retryer.
type Policy struct {
	MaxRetries   int           `yaml:"max_retries" env:"MAX_RETRIES" json:"max_retries"`       // retries after the first attempt; 0 disables retrying
	InitialDelay time.Duration `yaml:"initial_delay" env:"INITIAL_DELAY" json:"initial_delay"` // delay before the first retry
	MaxDelay     time.Duration `yaml:"max_delay" env:"MAX_DELAY" json:"max_delay"`             // delay cap
	Multiplier   float64       `yaml:"multiplier" env:"MULTIPLIER" json:"multiplier"`          // exponential growth factor
	Jitter       bool          `yaml:"jitter" env:"JITTER" json:"jitter"`                      // ±25% random jitter

	// ShouldRetry decides whether err is worth another attempt. Nil uses ShouldRetry.
	ShouldRetry func(err error) bool `yaml:"-" json:"-"`
	// OnRetry is called before each retry.
	OnRetry func(attempt int, err error, delay time.Duration) `yaml:"-" json:"-"`
}

// DefaultPolicy returns the default backoff policy.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:   3,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer runs a function until it succeeds, fails permanently, or runs out of attempts.
type Retryer interface {
	// Do runs fn, retrying failures according to the policy.
	Do(ctx context.Context, fn func() error) error

	// DoWithResult runs fn and returns its result, retrying failures according to the policy.
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

// ErrExhausted is wrapped by the error returned once every attempt failed.
var ErrExhausted = errors.New("retries exhausted")

type backoffRetryer struct {
	policy Policy
	logger *zap.Logger
}

// NewBackoffRetryer creates an exponential backoff retryer. Out-of-range
// policy values fall back to DefaultPolicy.
func NewBackoffRetryer(policy Policy, logger *zap.Logger) Retryer {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultPolicy()
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = def.InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = def.MaxDelay
	}
	if policy.MaxDelay < policy.InitialDelay {
		policy.MaxDelay = policy.InitialDelay
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = def.Multiplier
	}
	if policy.ShouldRetry == nil {
		policy.ShouldRetry = ShouldRetry
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger.With(zap.String("component", "retry")),
	}
}

// Do implements Retryer.
func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult implements Retryer.
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)
			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)
			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return nil, fmt.Errorf("retry cancelled: %w", ctx.Err())
			case <-timer.C:
			}
		} else if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("retry cancelled: %w", err)
		}

		result, err := fn()
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}
		lastErr = err

		if !r.policy.ShouldRetry(err) {
			return nil, err
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)
	return nil, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, r.policy.MaxRetries+1, lastErr)
}

// calculateDelay returns InitialDelay × Multiplier^(attempt-1), capped at
// MaxDelay, with optional ±25% jitter, never below InitialDelay.
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		jitter := delay * 0.25
		delay += (rand.Float64()*2 - 1) * jitter
	}
	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}
	return time.Duration(delay)
}

// ShouldRetry is the default retry predicate. Context cancellation and
// structured errors explicitly marked non-retryable stop the loop; any other
// error is retried.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var e *types.Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}
