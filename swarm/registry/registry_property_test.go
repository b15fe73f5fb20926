package registry

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"
	"pgregory.net/rapid"
)

// FindByCapability must return exactly the agents whose capability set
// contains the queried capability, each exactly once.
func TestProperty_FindByCapabilityIsExact(t *testing.T) {
	universe := []string{"a", "b", "c", "d", "e"}

	rapid.Check(t, func(t *rapid.T) {
		r := New(DefaultConfig(), zap.NewNop())
		ctx := context.Background()

		n := rapid.IntRange(0, 30).Draw(t, "agents")
		want := make(map[string]map[string]bool)
		for i := 0; i < n; i++ {
			caps := rapid.SliceOfN(rapid.SampledFrom(universe), 1, 4).Draw(t, fmt.Sprintf("caps-%d", i))
			id := fmt.Sprintf("agent-%d", i)
			if _, err := r.Register(ctx, Agent{ID: id, Capabilities: caps}); err != nil {
				t.Fatalf("register %s: %v", id, err)
			}
			for _, c := range caps {
				if want[c] == nil {
					want[c] = make(map[string]bool)
				}
				want[c][id] = true
			}
		}

		// deregister a random subset
		for i := 0; i < n; i++ {
			if rapid.Bool().Draw(t, fmt.Sprintf("drop-%d", i)) {
				id := fmt.Sprintf("agent-%d", i)
				if err := r.Deregister(ctx, id); err != nil {
					t.Fatalf("deregister %s: %v", id, err)
				}
				for _, set := range want {
					delete(set, id)
				}
			}
		}

		for _, c := range universe {
			got := r.FindByCapability(c)
			seen := make(map[string]bool)
			for _, a := range got {
				if seen[a.ID] {
					t.Fatalf("capability %s returned %s twice", c, a.ID)
				}
				seen[a.ID] = true
				if !want[c][a.ID] {
					t.Fatalf("capability %s returned unexpected agent %s", c, a.ID)
				}
			}
			if len(seen) != len(want[c]) {
				t.Fatalf("capability %s: got %d agents, want %d", c, len(seen), len(want[c]))
			}
		}
	})
}
