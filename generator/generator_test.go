package generator

import (
	"context"
	"errors"
	"testing"

	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/retrieval"
	"github.com/edmondsbay/consult/specialist"
)

func TestPassThroughReleasesSupportedDraft(t *testing.T) {
	trace := specialist.Trace{
		Steps: []specialist.Step{
			{Thought: "Cold sensitivity usually means exposed dentin", Justification: "passage about enamel erosion"},
		},
		DraftAnswer: "Cold sensitivity usually means exposed dentin from enamel erosion.",
	}
	draft, err := NewPassThrough().Generate(context.Background(), trace, retrieval.RankedContext{})
	if err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	if draft != trace.DraftAnswer {
		t.Errorf("draft mutated: %q", draft)
	}
}

func TestPassThroughRejectsEmptyDraft(t *testing.T) {
	trace := specialist.Trace{
		Steps:       []specialist.Step{{Thought: "something"}},
		DraftAnswer: "   ",
	}
	_, err := NewPassThrough().Generate(context.Background(), trace, retrieval.RankedContext{})
	if !errors.Is(err, consulterrors.ErrEmptyDraft) {
		t.Fatalf("expected ErrEmptyDraft, got %v", err)
	}
}

func TestPassThroughRejectsUnsupportedDraft(t *testing.T) {
	trace := specialist.Trace{
		Steps:       []specialist.Step{{Thought: "flossing removes plaque", Justification: "hygiene passage"}},
		DraftAnswer: "Quantum resonance crystals realign electromagnetic chakra frequencies overnight guaranteed.",
	}
	_, err := NewPassThrough().Generate(context.Background(), trace, retrieval.RankedContext{})
	if !errors.Is(err, consulterrors.ErrMalformedTrace) {
		t.Fatalf("expected ErrMalformedTrace, got %v", err)
	}
}

func TestPassThroughUsesContextForSupport(t *testing.T) {
	trace := specialist.Trace{
		Steps:       []specialist.Step{{Thought: "see passage", Justification: "passage covers whitening"}},
		DraftAnswer: "Professional whitening treatments brighten stained teeth safely.",
	}
	rc := retrieval.RankedContext{Hits: []retrieval.Hit{
		{DocID: "d1", Text: "Professional whitening treatments brighten stained teeth safely under supervision."},
	}}
	if _, err := NewPassThrough().Generate(context.Background(), trace, rc); err != nil {
		t.Fatalf("context-supported draft rejected: %v", err)
	}
}
