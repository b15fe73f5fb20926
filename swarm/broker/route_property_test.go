package broker_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentswarm/swarm/broker"
	"github.com/BaSui01/agentswarm/swarm/registry"
	"github.com/BaSui01/agentswarm/testutil/mocks"
)

// Route depends only on the registry contents, not on registration order,
// and repeated calls agree.
func TestProperty_RouteIsDeterministic(t *testing.T) {
	strategies := []broker.Strategy{broker.MinLatency, broker.MaxReliability, broker.LeastLoaded, broker.BestFit}

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(t, "agents")
		agents := make([]registry.Agent, n)
		for i := range agents {
			agents[i] = registry.Agent{
				ID:           fmt.Sprintf("agent-%02d", i),
				Capabilities: []string{"work"},
				Health:       rapid.SampledFrom([]float64{0.5, 0.8, 1}).Draw(t, fmt.Sprintf("health-%d", i)),
				Reliability:  rapid.SampledFrom([]float64{0.5, 0.9, 1}).Draw(t, fmt.Sprintf("rel-%d", i)),
				Latency:      time.Duration(rapid.IntRange(1, 4).Draw(t, fmt.Sprintf("lat-%d", i))) * 10 * time.Millisecond,
			}
		}
		perm := rapid.Permutation(agents).Draw(t, "order")
		strategy := rapid.SampledFrom(strategies).Draw(t, "strategy")

		build := func(list []registry.Agent) *broker.Broker {
			reg := registry.New(registry.DefaultConfig(), zap.NewNop())
			for _, a := range list {
				if _, err := reg.Register(context.Background(), a); err != nil {
					t.Fatalf("register: %v", err)
				}
			}
			b, err := broker.New(reg, mocks.NewMockBackend(), broker.DefaultConfig(), zap.NewNop())
			if err != nil {
				t.Fatalf("new broker: %v", err)
			}
			return b
		}

		sorted := build(agents)
		shuffled := build(perm)

		first, ok1 := sorted.Route(context.Background(), "work", strategy)
		again, _ := sorted.Route(context.Background(), "work", strategy)
		other, ok2 := shuffled.Route(context.Background(), "work", strategy)
		if !ok1 || !ok2 {
			t.Fatalf("expected a route")
		}
		if first.ID != again.ID || first.ID != other.ID {
			t.Fatalf("%s: routes disagree: %s, %s, %s", strategy, first.ID, again.ID, other.ID)
		}
	})
}
