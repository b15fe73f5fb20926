package trust

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/types"
)

type fakeDirectory map[string]bool

func (d fakeDirectory) Has(id string) bool { return d[id] }

func newTestNetwork(t *testing.T, cfg Config, opts ...Option) *Network {
	t.Helper()
	n, err := New(cfg, zap.NewNop(), opts...)
	require.NoError(t, err)
	return n
}

func observe(t *testing.T, n *Network, observer, subject string, o Outcome) Score {
	t.Helper()
	s, err := n.Observe(context.Background(), Observation{Observer: observer, Subject: subject, Outcome: o})
	require.NoError(t, err)
	return s
}

func TestNetwork_OutcomeAdjustments(t *testing.T) {
	tests := []struct {
		name    string
		outcome Outcome
		want    float64
	}{
		{"success", Success(), 0.9},
		{"timeout", Timeout(), 0.2},
		{"partial failure", PartialFailure(0.8), 0.1},
		{"complete failure", CompleteFailure(), 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := newTestNetwork(t, DefaultConfig())
			s := observe(t, n, "a", "b", tt.outcome)
			assert.InDelta(t, tt.want, s.Value, 1e-9)
			assert.Equal(t, 1, s.Samples)
			assert.Equal(t, 1.0, s.Confidence)
		})
	}
}

func TestNetwork_OutcomeOrdering(t *testing.T) {
	outcomes := []Outcome{Success(), Timeout(), PartialFailure(0.8), CompleteFailure()}
	var scores []float64
	for _, o := range outcomes {
		n := newTestNetwork(t, DefaultConfig())
		scores = append(scores, observe(t, n, "a", "b", o).Value)
	}
	for i := 1; i < len(scores); i++ {
		assert.Greater(t, scores[i-1], scores[i], "%s should score above %s", outcomes[i-1], outcomes[i])
	}
}

// A partial failure costs PartialFailureFactor*rate, so it ranks below a
// timeout only once rate exceeds TimeoutPenalty/PartialFailureFactor (0.6).
func TestNetwork_PartialFailureVersusTimeout(t *testing.T) {
	cfg := DefaultConfig()
	crossover := cfg.TimeoutPenalty / cfg.PartialFailureFactor
	require.InDelta(t, 0.6, crossover, 1e-9)

	timeout := observe(t, newTestNetwork(t, cfg), "a", "b", Timeout()).Value
	tests := []struct {
		rate float64
		cmp  int
	}{
		{0.1, 1},
		{0.6, 0},
		{0.61, -1},
		{1, -1},
	}
	for _, tt := range tests {
		partial := observe(t, newTestNetwork(t, cfg), "a", "b", PartialFailure(tt.rate)).Value
		switch tt.cmp {
		case 1:
			assert.Greater(t, partial, timeout, "rate %v", tt.rate)
		case 0:
			assert.InDelta(t, timeout, partial, 1e-9, "rate %v", tt.rate)
		default:
			assert.Less(t, partial, timeout, "rate %v", tt.rate)
		}
		assert.Greater(t, partial, 0.0, "any partial failure stays above a complete failure")
	}
}

func TestNetwork_RejectsNonFiniteErrorRate(t *testing.T) {
	n := newTestNetwork(t, DefaultConfig())
	for _, rate := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := n.Observe(context.Background(), Observation{Observer: "a", Subject: "b", Outcome: PartialFailure(rate)})
		assert.True(t, types.IsValidation(err), "rate %v", rate)
	}
	assert.Zero(t, n.Score("a", "b").Samples)
	c := n.ConservativeScore("b")
	assert.True(t, c >= 0 && c <= 1, "conservative score %v", c)
}

func TestClamp01(t *testing.T) {
	assert.Zero(t, clamp01(math.NaN()))
	assert.Zero(t, clamp01(-0.2))
	assert.Equal(t, 1.0, clamp01(math.Inf(1)))
	assert.Equal(t, 0.3, clamp01(0.3))
}

func TestNetwork_ObserveValidation(t *testing.T) {
	sink := audit.NewMemory()
	n := newTestNetwork(t, DefaultConfig(), WithAuditSink(sink), WithDirectory(fakeDirectory{"b": true}))
	ctx := context.Background()

	_, err := n.Observe(ctx, Observation{Observer: "a", Subject: "a", Outcome: Success()})
	assert.True(t, types.IsValidation(err))

	_, err = n.Observe(ctx, Observation{Observer: "a", Subject: "b", Outcome: PartialFailure(0)})
	assert.True(t, types.IsValidation(err))

	_, err = n.Observe(ctx, Observation{Observer: "a", Subject: "b", Outcome: Outcome{Kind: "exploded"}})
	assert.True(t, types.IsValidation(err))

	_, err = n.Observe(ctx, Observation{Observer: "a", Subject: "ghost", Outcome: Success()})
	assert.True(t, types.IsNotFound(err))

	assert.Equal(t, 4, sink.Count(audit.EventError))
	assert.Equal(t, 0, n.Score("a", "b").Samples)
}

func TestNetwork_UnobservedPairIsInitial(t *testing.T) {
	n := newTestNetwork(t, DefaultConfig())
	s := n.Score("x", "y")
	assert.Equal(t, Neutral, s.Value)
	assert.Zero(t, s.Confidence)
	assert.Zero(t, s.Samples)
	assert.Empty(t, n.History("x", "y"))
}

func TestNetwork_ConcurrentObservationsAreNotLost(t *testing.T) {
	n := newTestNetwork(t, DefaultConfig())

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = n.Observe(context.Background(), Observation{Observer: "a", Subject: "b", Outcome: Success()})
		}()
	}
	wg.Wait()

	s := n.Score("a", "b")
	assert.Equal(t, 200, s.Samples)
	assert.Equal(t, 200.0, s.Confidence)
}

func TestNetwork_HistoryIsBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistorySize = 3
	n := newTestNetwork(t, cfg)

	for i := 0; i < 5; i++ {
		observe(t, n, "a", "b", Success())
	}
	assert.Len(t, n.History("a", "b"), 3)
	assert.Equal(t, 5, n.Score("a", "b").Samples)
}

func TestNetwork_ConservativeScore(t *testing.T) {
	n := newTestNetwork(t, DefaultConfig())

	assert.Zero(t, n.ConservativeScore("b"), "no evidence means no trust")

	observe(t, n, "a", "b", Success())
	sparse := n.ConservativeScore("b")
	assert.Less(t, sparse, n.Score("a", "b").Value)

	for i := 0; i < 20; i++ {
		observe(t, n, "c", "b", Success())
	}
	dense := n.ConservativeScore("b")
	assert.Greater(t, dense, sparse)
	assert.LessOrEqual(t, dense, 1.0)
}

func TestNetwork_TransitiveTrust(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialScore = 0
	n := newTestNetwork(t, cfg)

	observe(t, n, "a", "b", Success())
	observe(t, n, "b", "c", Success())
	observe(t, n, "c", "d", Success())

	assert.Equal(t, 1.0, n.TransitiveTrust("a", "a", 0))
	assert.InDelta(t, 0.8, n.TransitiveTrust("a", "b", 1), 1e-9)
	assert.InDelta(t, 0.512, n.TransitiveTrust("a", "d", 3), 1e-9)
	assert.Zero(t, n.TransitiveTrust("a", "d", 2))
	assert.Zero(t, n.TransitiveTrust("d", "a", 5))
}

func TestNetwork_TransitiveTrustPrefersStrongestChain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialScore = 0
	n := newTestNetwork(t, cfg)

	// weak direct link, strong two-hop link
	observe(t, n, "a", "z", PartialFailure(0.1))
	observe(t, n, "a", "m", Success())
	observe(t, n, "m", "z", Success())

	assert.InDelta(t, 0.64, n.TransitiveTrust("a", "z", 2), 1e-9)
}

func TestNetwork_TransitiveTrustCacheInvalidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialScore = 0
	n := newTestNetwork(t, cfg)

	observe(t, n, "a", "b", Success())
	assert.Zero(t, n.TransitiveTrust("a", "c", 2))

	observe(t, n, "b", "c", Success())
	assert.InDelta(t, 0.64, n.TransitiveTrust("a", "c", 2), 1e-9)
}

func TestNetwork_DecayOldScores(t *testing.T) {
	n := newTestNetwork(t, DefaultConfig())
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := n.Observe(context.Background(), Observation{Observer: "a", Subject: "b", Outcome: Success(), Timestamp: t0})
	require.NoError(t, err)

	assert.Zero(t, n.DecayOldScores(time.Hour, t0.Add(30*time.Minute)))
	assert.InDelta(t, 0.9, n.Score("a", "b").Value, 1e-9)

	assert.Equal(t, 1, n.DecayOldScores(time.Hour, t0.Add(2*time.Hour)))
	s := n.Score("a", "b")
	assert.InDelta(t, 0.7, s.Value, 1e-9)
	assert.InDelta(t, 0.5, s.Confidence, 1e-9)
	assert.Equal(t, 1, s.Samples)
	assert.Len(t, n.History("a", "b"), 1)
}

func TestNetwork_EntriesAndRestore(t *testing.T) {
	n := newTestNetwork(t, DefaultConfig())
	observe(t, n, "b", "c", Timeout())
	observe(t, n, "a", "c", Success())

	entries := n.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].Observer)
	assert.Equal(t, "b", entries[1].Observer)

	restored := newTestNetwork(t, DefaultConfig())
	require.NoError(t, restored.Restore(context.Background(), entries))
	assert.Equal(t, entries, restored.Entries())
	assert.Greater(t, restored.ConservativeScore("c"), 0.0)

	for _, bad := range []Score{{Value: 2}, {Value: math.NaN()}, {Value: 0.5, Confidence: math.Inf(1)}} {
		err := restored.Restore(context.Background(), []Entry{{Observer: "x", Subject: "y", Score: bad}})
		assert.True(t, types.IsValidation(err), "score %+v", bad)
	}
	assert.Equal(t, Neutral, restored.Score("x", "y").Value)
}

func TestNew_RejectsBadInitialScore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialScore = 1.5
	_, err := New(cfg, nil)
	assert.True(t, types.IsValidation(err))
}
