// Package generator turns a reasoning trace into the draft text the quality
// gate scores. The default generator is a pass-through over the trace's own
// draft; it additionally verifies the draft introduces nothing the trace and
// grounding never mentioned.
package generator

import (
	"context"
	"fmt"
	"strings"

	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/retrieval"
	"github.com/edmondsbay/consult/specialist"
)

// Generator produces draft text from a reasoning trace.
type Generator interface {
	Generate(ctx context.Context, trace specialist.Trace, rc retrieval.RankedContext) (string, error)
}

// PassThrough releases the trace's draft answer unchanged after checking that
// its content is supported by the trace steps or the ranked context.
type PassThrough struct {
	// SupportFloor is the minimum share of substantive draft words that must
	// appear in the trace or context. Zero disables the check.
	SupportFloor float64
}

// NewPassThrough builds the default generator.
func NewPassThrough() *PassThrough {
	return &PassThrough{SupportFloor: 0.4}
}

// Generate validates and returns the trace's draft answer.
func (g *PassThrough) Generate(_ context.Context, trace specialist.Trace, rc retrieval.RankedContext) (string, error) {
	draft := strings.TrimSpace(trace.DraftAnswer)
	if draft == "" {
		return "", consulterrors.ErrEmptyDraft
	}
	if g.SupportFloor > 0 {
		if ratio := supportRatio(draft, trace, rc); ratio < g.SupportFloor {
			return "", fmt.Errorf("%w: draft support ratio %.2f below %.2f",
				consulterrors.ErrMalformedTrace, ratio, g.SupportFloor)
		}
	}
	return draft, nil
}

// supportRatio measures how much of the draft's vocabulary appears in the
// reasoning steps or grounding passages.
func supportRatio(draft string, trace specialist.Trace, rc retrieval.RankedContext) float64 {
	support := make(map[string]struct{})
	for _, step := range trace.Steps {
		addWords(support, step.Thought)
		addWords(support, step.Justification)
	}
	for _, text := range rc.Texts() {
		addWords(support, text)
	}
	draftWords := make(map[string]struct{})
	addWords(draftWords, draft)
	if len(draftWords) == 0 {
		return 0
	}
	matched := 0
	for w := range draftWords {
		if _, ok := support[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(draftWords))
}

func addWords(set map[string]struct{}, s string) {
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()-")
		if len(w) > 3 {
			set[w] = struct{}{}
		}
	}
}

var _ Generator = (*PassThrough)(nil)
