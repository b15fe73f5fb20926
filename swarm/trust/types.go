package trust

import (
	"time"

	"github.com/BaSui01/agentswarm/types"
)

// Neutral is the trust value that carries no information either way.
const Neutral = 0.5

// OutcomeKind classifies an observed interaction.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeTimeout         OutcomeKind = "timeout"
	OutcomePartialFailure  OutcomeKind = "partial_failure"
	OutcomeCompleteFailure OutcomeKind = "complete_failure"
)

// Outcome is an outcome kind plus its magnitude where one applies.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`
	// ErrorRate is set for partial failures, in (0,1].
	ErrorRate float64 `json:"error_rate,omitempty"`
}

// Success returns a successful outcome.
func Success() Outcome { return Outcome{Kind: OutcomeSuccess} }

// Timeout returns a timed-out outcome.
func Timeout() Outcome { return Outcome{Kind: OutcomeTimeout} }

// PartialFailure returns a partial failure with the given error rate.
func PartialFailure(rate float64) Outcome {
	return Outcome{Kind: OutcomePartialFailure, ErrorRate: rate}
}

// CompleteFailure returns a complete failure.
func CompleteFailure() Outcome { return Outcome{Kind: OutcomeCompleteFailure} }

// String implements fmt.Stringer.
func (o Outcome) String() string { return string(o.Kind) }

// Validate checks the outcome kind and magnitude.
func (o Outcome) Validate() error {
	switch o.Kind {
	case OutcomeSuccess, OutcomeTimeout, OutcomeCompleteFailure:
		return nil
	case OutcomePartialFailure:
		// written positively so NaN fails
		if !(o.ErrorRate > 0 && o.ErrorRate <= 1) {
			return types.Validationf("partial failure error rate %v outside (0,1]", o.ErrorRate)
		}
		return nil
	default:
		return types.Validationf("unknown outcome kind %q", o.Kind)
	}
}

// Observation is one report by observer about subject.
type Observation struct {
	Observer  string    `json:"observer"`
	Subject   string    `json:"subject"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`
}

// Score is the trust an observer places in a subject.
type Score struct {
	// Value is the trust estimate in [0,1].
	Value float64 `json:"value"`
	// Confidence is the effective sample weight; decay shrinks it.
	Confidence float64 `json:"confidence"`
	// Samples is the raw number of observations ever applied.
	Samples int `json:"samples"`
	// LastUpdated is the timestamp of the latest observation.
	LastUpdated time.Time `json:"last_updated"`
}

// Entry is a (observer, subject) score, used for snapshots.
type Entry struct {
	Observer string `json:"observer"`
	Subject  string `json:"subject"`
	Score    Score  `json:"score"`
}
