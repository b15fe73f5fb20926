package audit

import (
	"context"
	"time"

	"github.com/BaSui01/agentswarm/internal/metrics"
)

// Field keys shared by the emitting components and the metrics translation.
const (
	FieldAgentID    = "agent_id"
	FieldFromState  = "from"
	FieldToState    = "to"
	FieldStrategy   = "strategy"
	FieldSelected   = "selected"
	FieldCapability = "capability"
	FieldReason     = "reason"
	FieldDuration   = "duration"
	FieldStatus     = "status"
	FieldOutcome    = "outcome"
	FieldProposalID = "proposal_id"
	FieldVoterID    = "voter_id"
	FieldTaskID     = "task_id"
)

// MetricsSink translates audit events into prometheus metrics.
type MetricsSink struct {
	collector *metrics.Collector
}

// NewMetricsSink creates a sink backed by collector.
func NewMetricsSink(collector *metrics.Collector) *MetricsSink {
	return &MetricsSink{collector: collector}
}

// Emit implements Sink.
func (s *MetricsSink) Emit(_ context.Context, e Event) {
	if s == nil || s.collector == nil {
		return
	}
	c := s.collector
	switch e.Type {
	case EventAgentRegistered:
		c.RecordAgentRegistered()
	case EventAgentDeregistered:
		c.RecordAgentDeregistered()
	case EventAgentTransitioned:
		c.RecordAgentStateTransition(str(e.Fields, FieldFromState), str(e.Fields, FieldToState))
	case EventRouteSelected:
		selected, _ := e.Fields[FieldSelected].(bool)
		c.RecordRoute(str(e.Fields, FieldStrategy), selected)
	case EventReceiptIssued:
		d, _ := e.Fields[FieldDuration].(time.Duration)
		c.RecordExecution(str(e.Fields, FieldCapability), str(e.Fields, FieldReason), d)
	case EventVoteCast:
		c.RecordVote()
	case EventConsensusResolved:
		c.RecordConsensusResolution(str(e.Fields, FieldStatus))
	case EventTrustObserved:
		c.RecordTrustObservation(str(e.Fields, FieldOutcome))
	case EventTaskListed:
		c.RecordAuctionEvent("listed")
	case EventBidPlaced:
		c.RecordAuctionEvent("bid")
	case EventAuctionCompleted:
		c.RecordAuctionEvent("auction")
	case EventTaskAssigned:
		c.RecordAssignment("assigned")
	case EventTaskUnassigned:
		c.RecordAssignment("unassigned")
	case EventTaskCompleted:
		c.RecordAssignment("completed")
	case EventError:
		c.RecordError(e.Component)
	}
}

func str(fields map[string]any, key string) string {
	if v, ok := fields[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
		if s, ok := v.(interface{ String() string }); ok {
			return s.String()
		}
	}
	return ""
}
