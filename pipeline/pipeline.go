// Package pipeline sequences one consultation end to end: history fetch,
// intent routing, retrieval and ranking, specialist reasoning, quality
// gating, and the bounded reprompt loop that sits between them.
package pipeline

import (
	"github.com/edmondsbay/consult/quality"
	"github.com/edmondsbay/consult/specialist"
)

// State is a control state of the reprompt loop.
type State string

const (
	// StateGenerating means a specialist is producing a trace.
	StateGenerating State = "generating"
	// StateChecking means the quality gate is scoring a draft.
	StateChecking State = "checking"
	// StateAccepted is terminal: a draft passed the gate.
	StateAccepted State = "accepted"
	// StateReprompting means a failed verdict is being fed back.
	StateReprompting State = "reprompting"
	// StateExhausted is terminal: the attempt budget ran out.
	StateExhausted State = "exhausted"
)

// GenerationAttempt records one pass through the loop. Attempt numbers start
// at 1 and increase strictly; the sequence never exceeds MaxAttempts.
type GenerationAttempt struct {
	Number  int
	Trace   specialist.Trace
	Draft   string
	Verdict quality.Verdict
	// Err is set when the attempt failed before a verdict (service failure,
	// malformed trace). Such attempts still consume budget.
	Err error
}

// bestAttempt returns the highest-scoring attempt that produced a draft,
// preferring the latest on ties. Nil when no attempt produced a draft.
func bestAttempt(attempts []GenerationAttempt) *GenerationAttempt {
	var best *GenerationAttempt
	for i := range attempts {
		a := &attempts[i]
		if a.Draft == "" {
			continue
		}
		if best == nil || a.Verdict.Score >= best.Verdict.Score {
			best = a
		}
	}
	return best
}
