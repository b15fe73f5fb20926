package market

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentswarm/swarm/audit"
	"github.com/BaSui01/agentswarm/swarm/registry"
	"github.com/BaSui01/agentswarm/testutil"
	"github.com/BaSui01/agentswarm/testutil/fixtures"
	"github.com/BaSui01/agentswarm/types"
)

func newTestMarket(t *testing.T, opts ...Option) *Market {
	t.Helper()
	m, err := New(DefaultConfig(), zap.NewNop(), opts...)
	require.NoError(t, err)
	return m
}

func newRegistryMarket(t *testing.T, agents ...registry.Agent) (*Market, *registry.Registry, *audit.Memory) {
	t.Helper()
	reg := registry.New(registry.DefaultConfig(), zap.NewNop())
	testutil.MustRegister(t, reg, agents...)
	sink := audit.NewMemory()
	return newTestMarket(t, WithAgents(reg), WithAuditSink(sink)), reg, sink
}

func listTask(t *testing.T, m *Market, id string, caps ...string) string {
	t.Helper()
	got, err := m.ListTask(context.Background(), Task{ID: id, Type: "batch", RequiredCapabilities: caps})
	require.NoError(t, err)
	return got
}

func bid(t *testing.T, m *Market, b Bid) {
	t.Helper()
	require.NoError(t, m.PlaceBid(context.Background(), b))
}

func TestMarket_ListTask(t *testing.T) {
	sink := audit.NewMemory()
	m := newTestMarket(t, WithAuditSink(sink))
	ctx := context.Background()

	id := listTask(t, m, "t1", "render", "render", "")
	task, err := m.Task(id)
	require.NoError(t, err)
	assert.Equal(t, TaskOpen, task.Status)
	assert.Equal(t, []string{"render"}, task.RequiredCapabilities)
	assert.False(t, task.ListedAt.IsZero())

	_, err = m.ListTask(ctx, Task{ID: "t1", RequiredCapabilities: []string{"x"}})
	assert.True(t, types.IsConflict(err))

	_, err = m.ListTask(ctx, Task{ID: "t2"})
	assert.True(t, types.IsValidation(err))

	generated, err := m.ListTask(ctx, Task{RequiredCapabilities: []string{"x"}})
	require.NoError(t, err)
	assert.NotEmpty(t, generated)

	assert.Equal(t, 2, sink.Count(audit.EventTaskListed))
	assert.Equal(t, 2, sink.Count(audit.EventError))

	_, err = m.Task("missing")
	assert.True(t, types.IsNotFound(err))
}

func TestMarket_PlaceBidValidation(t *testing.T) {
	m, _, _ := newRegistryMarket(t,
		fixtures.Agent("renderer", "render"),
		fixtures.Agent("writer", "write"),
	)
	ctx := context.Background()
	listTask(t, m, "t1", "render")

	tests := []struct {
		name  string
		bid   Bid
		check func(error) bool
	}{
		{"negative price", Bid{TaskID: "t1", AgentID: "renderer", Price: -1, Confidence: 1}, types.IsValidation},
		{"NaN price", Bid{TaskID: "t1", AgentID: "renderer", Price: math.NaN(), Confidence: 1}, types.IsValidation},
		{"infinite price", Bid{TaskID: "t1", AgentID: "renderer", Price: math.Inf(1), Confidence: 1}, types.IsValidation},
		{"NaN confidence", Bid{TaskID: "t1", AgentID: "renderer", Price: 1, Confidence: math.NaN()}, types.IsValidation},
		{"zero confidence", Bid{TaskID: "t1", AgentID: "renderer", Price: 1}, types.IsValidation},
		{"confidence above one", Bid{TaskID: "t1", AgentID: "renderer", Price: 1, Confidence: 1.5}, types.IsValidation},
		{"negative eta", Bid{TaskID: "t1", AgentID: "renderer", Price: 1, Confidence: 1, ETA: -time.Second}, types.IsValidation},
		{"negative load", Bid{TaskID: "t1", AgentID: "renderer", Price: 1, Confidence: 1, Load: -1}, types.IsValidation},
		{"unknown task", Bid{TaskID: "nope", AgentID: "renderer", Price: 1, Confidence: 1}, types.IsNotFound},
		{"unknown bidder", Bid{TaskID: "t1", AgentID: "ghost", Price: 1, Confidence: 1}, types.IsNotFound},
		{"missing capability", Bid{TaskID: "t1", AgentID: "writer", Price: 1, Confidence: 1}, types.IsValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.PlaceBid(ctx, tt.bid)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error %v", err)
		})
	}

	bids, err := m.Bids("t1")
	require.NoError(t, err)
	assert.Empty(t, bids)
}

func TestMarket_LaterBidSupersedes(t *testing.T) {
	m, _, _ := newRegistryMarket(t, fixtures.Agent("a", "render"))
	listTask(t, m, "t1", "render")

	bid(t, m, Bid{TaskID: "t1", AgentID: "a", Price: 10, Confidence: 1})
	bid(t, m, Bid{TaskID: "t1", AgentID: "a", Price: 7, Confidence: 1})

	bids, err := m.Bids("t1")
	require.NoError(t, err)
	require.Len(t, bids, 1)
	assert.Equal(t, 7.0, bids[0].Price)
}

func TestMarket_RunAuctionScoring(t *testing.T) {
	m, reg, sink := newRegistryMarket(t,
		fixtures.Agent("a", "render"),
		fixtures.Agent("b", "render"),
		fixtures.Agent("c", "render"),
	)
	ctx := context.Background()
	listTask(t, m, "t1", "render")

	bid(t, m, Bid{TaskID: "t1", AgentID: "a", Price: 10, Confidence: 1})                 // 10
	bid(t, m, Bid{TaskID: "t1", AgentID: "b", Price: 8, ETA: time.Minute, Confidence: 1}) // 16
	bid(t, m, Bid{TaskID: "t1", AgentID: "c", Price: 9, Confidence: 0.5})                 // 18

	winner, err := m.RunAuction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a", winner.AgentID)
	assert.Equal(t, 1, sink.Count(audit.EventAuctionCompleted))

	// live registry load pushes a to 10 × 2 = 20
	for i := 0; i < 10; i++ {
		require.NoError(t, reg.AcquireLoad(ctx, "a"))
	}
	winner, err = m.RunAuction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "b", winner.AgentID)

	task, _ := m.Task("t1")
	assert.Equal(t, TaskOpen, task.Status, "auction alone does not assign")
}

func TestMarket_RunAuctionUsesReportedLoadWithoutRegistry(t *testing.T) {
	m := newTestMarket(t)
	listTask(t, m, "t1", "render")

	bid(t, m, Bid{TaskID: "t1", AgentID: "a", Price: 10, Confidence: 1, Load: 10}) // 20
	bid(t, m, Bid{TaskID: "t1", AgentID: "b", Price: 15, Confidence: 1})           // 15

	winner, err := m.RunAuction(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "b", winner.AgentID)
	assert.InDelta(t, 20.0, m.Score(Bid{Price: 10, Confidence: 1}, 10), 1e-9)
}

func TestMarket_RunAuctionTiesAndDeadline(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()

	listTask(t, m, "tie", "x")
	bid(t, m, Bid{TaskID: "tie", AgentID: "zed", Price: 5, Confidence: 1})
	bid(t, m, Bid{TaskID: "tie", AgentID: "amy", Price: 5, Confidence: 1})
	winner, err := m.RunAuction(ctx, "tie")
	require.NoError(t, err)
	assert.Equal(t, "amy", winner.AgentID)

	deadline := time.Now().Add(30 * time.Second)
	_, err = m.ListTask(ctx, Task{ID: "urgent", RequiredCapabilities: []string{"x"}, Deadline: &deadline})
	require.NoError(t, err)
	bid(t, m, Bid{TaskID: "urgent", AgentID: "cheap-but-slow", Price: 1, ETA: time.Hour, Confidence: 1})
	bid(t, m, Bid{TaskID: "urgent", AgentID: "fast", Price: 50, ETA: time.Second, Confidence: 1})
	winner, err = m.RunAuction(ctx, "urgent")
	require.NoError(t, err)
	assert.Equal(t, "fast", winner.AgentID)

	_, err = m.ListTask(ctx, Task{ID: "impossible", RequiredCapabilities: []string{"x"}, Deadline: &deadline})
	require.NoError(t, err)
	bid(t, m, Bid{TaskID: "impossible", AgentID: "slow", Price: 1, ETA: time.Hour, Confidence: 1})
	_, err = m.RunAuction(ctx, "impossible")
	assert.True(t, types.IsNotFound(err))
}

func TestMarket_NaNBidCannotWin(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	listTask(t, m, "t1", "x")

	err := m.PlaceBid(ctx, Bid{TaskID: "t1", AgentID: "aaa", Price: math.NaN(), Confidence: 1})
	require.True(t, types.IsValidation(err), "unexpected error %v", err)
	bid(t, m, Bid{TaskID: "t1", AgentID: "zzz", Price: 100, Confidence: 0.1})

	winner, err := m.RunAuction(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "zzz", winner.AgentID)
}

func TestMarket_RunAuctionIsDeterministic(t *testing.T) {
	bids := []Bid{
		{AgentID: "delta", Price: 6, ETA: time.Second, Confidence: 0.6},
		{AgentID: "alpha", Price: 12, Confidence: 1},
		{AgentID: "charlie", Price: 10, Confidence: 1},
		{AgentID: "bravo", Price: 10, Confidence: 1},
		{AgentID: "echo", Price: 3, ETA: 3 * time.Minute, Confidence: 1},
	}
	run := func(order []int) string {
		m := newTestMarket(t)
		listTask(t, m, "t1", "x")
		for _, i := range order {
			b := bids[i]
			b.TaskID = "t1"
			bid(t, m, b)
		}
		winner, err := m.RunAuction(context.Background(), "t1")
		require.NoError(t, err)
		return winner.AgentID
	}

	// bravo and charlie tie at 10; the lower id wins regardless of arrival order.
	want := run([]int{0, 1, 2, 3, 4})
	assert.Equal(t, "bravo", want)
	for _, order := range [][]int{{4, 3, 2, 1, 0}, {2, 0, 4, 1, 3}, {3, 2, 1, 0, 4}} {
		assert.Equal(t, want, run(order), "order %v", order)
	}

	m := newTestMarket(t)
	listTask(t, m, "t1", "x")
	for _, b := range bids {
		b.TaskID = "t1"
		bid(t, m, b)
	}
	for i := 0; i < 20; i++ {
		winner, err := m.RunAuction(context.Background(), "t1")
		require.NoError(t, err)
		assert.Equal(t, want, winner.AgentID)
	}
}

func TestMarket_RunAuctionWithoutBids(t *testing.T) {
	m := newTestMarket(t)
	listTask(t, m, "t1", "x")

	_, err := m.RunAuction(context.Background(), "t1")
	assert.True(t, types.IsNotFound(err))

	_, err = m.RunAuction(context.Background(), "missing")
	assert.True(t, types.IsNotFound(err))
}

func TestMarket_AssignTask(t *testing.T) {
	m, _, sink := newRegistryMarket(t, fixtures.Agent("a", "x"), fixtures.Agent("b", "x"))
	ctx := context.Background()
	listTask(t, m, "t1", "x")

	require.NoError(t, m.AssignTask(ctx, "t1", "a"))
	require.NoError(t, m.AssignTask(ctx, "t1", "a"), "same agent is idempotent")
	assert.Equal(t, 1, sink.Count(audit.EventTaskAssigned))

	err := m.AssignTask(ctx, "t1", "b")
	assert.True(t, types.IsConflict(err))

	task, _ := m.Task("t1")
	assert.Equal(t, TaskAssigned, task.Status)
	assert.Equal(t, "a", task.AssignedTo)

	err = m.PlaceBid(ctx, Bid{TaskID: "t1", AgentID: "b", Price: 1, Confidence: 1})
	assert.True(t, types.IsConflict(err), "assigned tasks take no bids")

	assert.True(t, types.IsNotFound(m.AssignTask(ctx, "t1", "ghost")))
	assert.True(t, types.IsNotFound(m.AssignTask(ctx, "missing", "a")))
	assert.True(t, types.IsValidation(m.AssignTask(ctx, "t1", "")))
}

func TestMarket_AssignTaskIsCompareAndSet(t *testing.T) {
	m := newTestMarket(t)
	listTask(t, m, "t1", "x")

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.AssignTask(context.Background(), "t1", fmt.Sprintf("agent-%d", i))
			if err == nil {
				wins.Add(1)
			} else if !types.IsConflict(err) {
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
}

func TestMarket_UnassignAndComplete(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	listTask(t, m, "t1", "x")
	bid(t, m, Bid{TaskID: "t1", AgentID: "a", Price: 1, Confidence: 1})
	bid(t, m, Bid{TaskID: "t1", AgentID: "b", Price: 2, Confidence: 1})

	winner, err := m.Award(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "a", winner.AgentID)

	assert.True(t, types.IsConflict(m.UnassignTask(ctx, "t1", "b")))
	require.NoError(t, m.UnassignTask(ctx, "t1", "a"))

	task, _ := m.Task("t1")
	assert.Equal(t, TaskOpen, task.Status)
	assert.Empty(t, task.AssignedTo)

	winner, err = m.Award(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "b", winner.AgentID, "unassigned agent's bid is withdrawn")

	assert.True(t, types.IsConflict(m.CompleteTask(ctx, "t1", "a")))
	require.NoError(t, m.CompleteTask(ctx, "t1", "b"))
	task, _ = m.Task("t1")
	assert.Equal(t, TaskCompleted, task.Status)
	assert.False(t, task.CompletedAt.IsZero())

	assert.True(t, types.IsConflict(m.AssignTask(ctx, "t1", "a")))
	_, err = m.RunAuction(ctx, "t1")
	assert.True(t, types.IsConflict(err))
}

func TestMarket_OpenTasksOrdering(t *testing.T) {
	m := newTestMarket(t)
	ctx := context.Background()
	for _, tk := range []Task{
		{ID: "low", Priority: 1},
		{ID: "high-b", Priority: 9},
		{ID: "high-a", Priority: 9},
		{ID: "taken", Priority: 5},
	} {
		tk.RequiredCapabilities = []string{"x"}
		_, err := m.ListTask(ctx, tk)
		require.NoError(t, err)
	}
	require.NoError(t, m.AssignTask(ctx, "taken", "a"))

	var ids []string
	for _, tk := range m.OpenTasks() {
		ids = append(ids, tk.ID)
	}
	assert.Equal(t, []string{"high-a", "high-b", "low"}, ids)
}
