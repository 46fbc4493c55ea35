// Package quality gates drafts before release. A draft passes only when its
// worst criterion clears the threshold; averaging would let a single
// catastrophic failure hide behind otherwise good scores.
package quality

import (
	"context"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/retrieval"
)

// FailureReason names a criterion that scored below threshold.
type FailureReason string

const (
	// FailureGroundedness means claims are not traceable to the ranked context.
	FailureGroundedness FailureReason = "groundedness"
	// FailureCompleteness means the draft does not address the query intent.
	FailureCompleteness FailureReason = "completeness"
	// FailureSafety means a definitive medical directive lacks a disclaimer.
	FailureSafety FailureReason = "safety"
	// FailureCoherence means the draft does not read as connected prose.
	FailureCoherence FailureReason = "coherence"
)

// Criteria lists every scored criterion in a fixed order.
func Criteria() []FailureReason {
	return []FailureReason{
		FailureGroundedness,
		FailureCompleteness,
		FailureSafety,
		FailureCoherence,
	}
}

// Verdict is the outcome of checking one draft.
type Verdict struct {
	// Passed is true iff the minimum sub-score cleared the threshold.
	Passed bool `json:"passed"`
	// Score is the minimum sub-score across all criteria.
	Score float64 `json:"score"`
	// SubScores holds every criterion's score in [0,1].
	SubScores map[FailureReason]float64 `json:"sub_scores"`
	// FailureReasons enumerates every criterion below threshold, not just
	// the first, so one reprompt can address all of them.
	FailureReasons []FailureReason `json:"failure_reasons,omitempty"`
	// Iteration is the attempt number this verdict belongs to.
	Iteration int `json:"iteration"`
}

// HasFailure reports whether the verdict flags the given criterion.
func (v Verdict) HasFailure(r FailureReason) bool {
	for _, f := range v.FailureReasons {
		if f == r {
			return true
		}
	}
	return false
}

// Checker scores a draft against the fixed criteria set.
type Checker interface {
	Check(ctx context.Context, draft string, rc retrieval.RankedContext, routed dialog.RoutedQuery) (Verdict, error)
}

// newVerdict folds sub-scores into a Verdict under the given threshold.
func newVerdict(subScores map[FailureReason]float64, threshold float64, iteration int) Verdict {
	v := Verdict{
		SubScores: subScores,
		Score:     1,
		Iteration: iteration,
	}
	for _, criterion := range Criteria() {
		score := subScores[criterion]
		if score < v.Score {
			v.Score = score
		}
		if score < threshold {
			v.FailureReasons = append(v.FailureReasons, criterion)
		}
	}
	v.Passed = len(v.FailureReasons) == 0
	return v
}
