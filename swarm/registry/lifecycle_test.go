package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/types"
)

func TestCanTransition_EveryPair(t *testing.T) {
	legal := map[[2]LifecycleState]bool{
		{StateUnregistered, StateRegistered}: true,
		{StateRegistered, StateVerified}:     true,
		{StateVerified, StateTrusted}:        true,
		{StateTrusted, StateEscalated}:       true,
		{StateEscalated, StateUnregistered}:  true,
	}

	for _, from := range AllStates() {
		for _, to := range AllStates() {
			want := legal[[2]LifecycleState{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestRoutableStates(t *testing.T) {
	assert.True(t, StateRegistered.Routable())
	assert.True(t, StateVerified.Routable())
	assert.True(t, StateTrusted.Routable())
	assert.False(t, StateEscalated.Routable())
	assert.False(t, StateUnregistered.Routable())
}

// walk drives an agent from Registered to the requested state along the
// legal path.
func walk(t *testing.T, r *Registry, id string, to LifecycleState) {
	t.Helper()
	path := []LifecycleState{StateVerified, StateTrusted, StateEscalated, StateUnregistered}
	cur, _ := r.Get(id)
	for _, next := range path {
		if cur.State == to {
			return
		}
		require.NoError(t, r.Transition(context.Background(), id, next))
		cur, _ = r.Get(id)
	}
	require.Equal(t, to, cur.State)
}

func TestRegistry_TransitionEveryPair(t *testing.T) {
	ctx := context.Background()
	for _, from := range AllStates() {
		for _, to := range AllStates() {
			r := newTestRegistry(t)
			_, err := r.Register(ctx, Agent{ID: "a", Capabilities: []string{"x"}})
			require.NoError(t, err)
			walk(t, r, "a", from)

			err = r.Transition(ctx, "a", to)
			got, _ := r.Get("a")
			if CanTransition(from, to) {
				require.NoError(t, err, "%s -> %s", from, to)
				assert.Equal(t, to, got.State)
			} else {
				require.Error(t, err, "%s -> %s", from, to)
				assert.True(t, types.IsValidation(err))
				assert.Equal(t, types.ErrInvalidTransition, types.GetErrorCode(err))
				assert.Equal(t, from, got.State, "state must not change on a rejected transition")
			}
		}
	}
}

func TestRegistry_TransitionUnknownState(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()
	_, err := r.Register(ctx, Agent{ID: "a", Capabilities: []string{"x"}})
	require.NoError(t, err)

	err = r.Transition(ctx, "a", "promoted")
	assert.Equal(t, types.ErrValidation, types.GetErrorCode(err))

	err = r.Transition(ctx, "missing", StateVerified)
	assert.True(t, types.IsNotFound(err))
}

func TestRegistry_ReRegistrationAfterReview(t *testing.T) {
	sink := audit.NewMemory()
	r := newTestRegistry(t, WithAuditSink(sink))
	ctx := context.Background()
	_, err := r.Register(ctx, Agent{ID: "a", Capabilities: []string{"x"}})
	require.NoError(t, err)

	walk(t, r, "a", StateUnregistered)
	require.NoError(t, r.Transition(ctx, "a", StateRegistered))

	got, _ := r.Get("a")
	assert.Equal(t, StateRegistered, got.State)
	assert.Equal(t, 5, sink.Count(audit.EventAgentTransitioned))
}
