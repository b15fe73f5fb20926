package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/agentswarm/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

var sinkNamespaceSeq uint64

func TestMemory_RecordsAndCounts(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	m.Emit(ctx, NewEvent(EventVoteCast, "consensus", nil))
	m.Emit(ctx, NewEvent(EventVoteCast, "consensus", nil))
	m.Emit(ctx, ErrorEvent("broker", "execute", errors.New("boom")))

	assert.Equal(t, 2, m.Count(EventVoteCast))
	events := m.Events()
	require.Len(t, events, 3)
	assert.Equal(t, "boom", events[2].Err)

	m.Reset()
	assert.Empty(t, m.Events())
}

func TestMemory_ConcurrentEmit(t *testing.T) {
	m := NewMemory()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Emit(context.Background(), NewEvent(EventBidPlaced, "market", nil))
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, m.Count(EventBidPlaced))
}

func TestMulti_FansOutAndSkipsNil(t *testing.T) {
	a, b := NewMemory(), NewMemory()
	var calls int
	multi := Multi{a, nil, b, SinkFunc(func(context.Context, Event) { calls++ })}

	multi.Emit(context.Background(), NewEvent(EventTaskListed, "market", nil))

	assert.Equal(t, 1, a.Count(EventTaskListed))
	assert.Equal(t, 1, b.Count(EventTaskListed))
	assert.Equal(t, 1, calls)
}

func TestOrNop(t *testing.T) {
	assert.IsType(t, Nop{}, OrNop(nil))
	m := NewMemory()
	assert.Same(t, m, OrNop(m))
}

func TestLogSink_WritesFields(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))

	sink.Emit(context.Background(), NewEvent(EventAgentRegistered, "registry", map[string]any{FieldAgentID: "a1"}))
	sink.Emit(context.Background(), ErrorEvent("market", "place_bid", errors.New("negative price")))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "a1", entries[0].ContextMap()[FieldAgentID])
	assert.Equal(t, zap.WarnLevel, entries[1].Level)
	assert.Equal(t, "negative price", entries[1].ContextMap()["error"])
}

func TestMetricsSink_NilCollectorIsSafe(t *testing.T) {
	var s *MetricsSink
	s.Emit(context.Background(), NewEvent(EventVoteCast, "consensus", nil))
	NewMetricsSink(nil).Emit(context.Background(), NewEvent(EventVoteCast, "consensus", nil))
}

func TestMetricsSink_TranslatesEvents(t *testing.T) {
	ns := fmt.Sprintf("audit_test_%d", atomic.AddUint64(&sinkNamespaceSeq, 1))
	sink := NewMetricsSink(metrics.NewCollector(ns, zap.NewNop()))
	ctx := context.Background()

	// Every event type should be accepted without panicking on missing fields.
	for _, typ := range []EventType{
		EventAgentRegistered, EventAgentDeregistered, EventAgentTransitioned,
		EventRouteSelected, EventVoteCast, EventConsensusResolved, EventTrustObserved,
		EventTaskListed, EventBidPlaced, EventAuctionCompleted, EventTaskAssigned,
		EventTaskUnassigned, EventTaskCompleted, EventError,
	} {
		sink.Emit(ctx, NewEvent(typ, "test", nil))
	}
	sink.Emit(ctx, NewEvent(EventReceiptIssued, "broker", map[string]any{
		FieldCapability: "summarize",
		FieldReason:     "ok",
		FieldDuration:   25 * time.Millisecond,
	}))
}

func TestStrHelper(t *testing.T) {
	fields := map[string]any{"a": "x", "b": time.Second, "c": 3}
	assert.Equal(t, "x", str(fields, "a"))
	assert.Equal(t, "1s", str(fields, "b"))
	assert.Equal(t, "", str(fields, "c"))
	assert.Equal(t, "", str(nil, "a"))
}
