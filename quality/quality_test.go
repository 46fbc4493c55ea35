package quality

import (
	"context"
	"errors"
	"testing"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/inference"
	"github.com/edmondsbay/consult/message"
	"github.com/edmondsbay/consult/retrieval"
)

// stubLLM returns a canned reply or error.
type stubLLM struct {
	reply string
	err   error
}

func (s *stubLLM) Generate(_ context.Context, _ *inference.Request) (*inference.Response, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &inference.Response{Message: message.NewMessage(message.RoleAssistant, s.reply)}, nil
}

func TestVerdictMinimumNotAverage(t *testing.T) {
	sub := map[FailureReason]float64{
		FailureGroundedness: 0.95,
		FailureCompleteness: 0.9,
		FailureSafety:       0.1, // catastrophic
		FailureCoherence:    0.95,
	}
	v := newVerdict(sub, 0.6, 1)
	if v.Passed {
		t.Fatal("verdict passed despite a sub-score far below threshold")
	}
	if v.Score != 0.1 {
		t.Errorf("score should be the minimum sub-score, got %f", v.Score)
	}
	if !v.HasFailure(FailureSafety) {
		t.Error("failing criterion not enumerated")
	}
	if v.HasFailure(FailureGroundedness) {
		t.Error("passing criterion wrongly enumerated")
	}
}

func TestVerdictEnumeratesAllFailures(t *testing.T) {
	sub := map[FailureReason]float64{
		FailureGroundedness: 0.2,
		FailureCompleteness: 0.3,
		FailureSafety:       0.9,
		FailureCoherence:    0.9,
	}
	v := newVerdict(sub, 0.6, 1)
	if len(v.FailureReasons) != 2 {
		t.Fatalf("expected 2 failure reasons, got %v", v.FailureReasons)
	}
}

func TestRubricGroundedDraftPasses(t *testing.T) {
	rc := retrieval.RankedContext{Hits: []retrieval.Hit{
		{DocID: "d1", Text: "Tooth sensitivity to cold often points to enamel erosion or receding gums. A dentist can confirm the cause with an exam."},
	}}
	routed := dialog.RoutedQuery{
		Query:  dialog.Query{RawText: "Why is my tooth sensitive to cold?"},
		Intent: dialog.IntentDiagnosis,
	}
	draft := "Tooth sensitivity to cold often points to enamel erosion or receding gums. " +
		"A dentist can confirm the cause with an exam and recommend the right care for your tooth."
	v, err := NewRubricChecker().Check(context.Background(), draft, rc, routed)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !v.Passed {
		t.Fatalf("expected grounded draft to pass, verdict: %+v", v)
	}
}

func TestRubricUngroundedDraftFails(t *testing.T) {
	rc := retrieval.RankedContext{Hits: []retrieval.Hit{
		{DocID: "d1", Text: "Regular flossing removes plaque between teeth."},
	}}
	routed := dialog.RoutedQuery{
		Query:  dialog.Query{RawText: "How do I floss?"},
		Intent: dialog.IntentPrevention,
	}
	draft := "Quantum resonance therapy realigns your chakras overnight. " +
		"Crystals placed under your pillow amplify electromagnetic healing waves. " +
		"Astrological alignment determines optimal enamel regeneration windows."
	v, err := NewRubricChecker().Check(context.Background(), draft, rc, routed)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !v.HasFailure(FailureGroundedness) {
		t.Fatalf("expected groundedness failure, verdict: %+v", v)
	}
}

func TestRubricSafetyDirectiveWithoutDisclaimer(t *testing.T) {
	routed := dialog.RoutedQuery{Query: dialog.Query{RawText: "Do I need antibiotics?"}}
	draft := "You must take antibiotics twice daily and there is no need to ask anyone else about it because the outcome is always the same for every patient."
	v, err := NewRubricChecker().Check(context.Background(), draft, retrieval.RankedContext{}, routed)
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !v.HasFailure(FailureSafety) {
		t.Fatalf("expected safety failure, verdict: %+v", v)
	}
}

func TestRubricDeterministic(t *testing.T) {
	rc := retrieval.RankedContext{Hits: []retrieval.Hit{{DocID: "d1", Text: "Fluoride strengthens enamel."}}}
	routed := dialog.RoutedQuery{Query: dialog.Query{RawText: "Does fluoride help?"}}
	draft := "Fluoride strengthens enamel and helps prevent decay over time when used consistently as part of daily care."
	checker := NewRubricChecker()
	first, _ := checker.Check(context.Background(), draft, rc, routed)
	for i := 0; i < 5; i++ {
		again, _ := checker.Check(context.Background(), draft, rc, routed)
		if again.Score != first.Score || again.Passed != first.Passed {
			t.Fatalf("rubric not deterministic: %+v vs %+v", again, first)
		}
	}
}

func TestLLMCheckerParsesScores(t *testing.T) {
	stub := &stubLLM{reply: "```json\n{\"groundedness\": 0.9, \"completeness\": 0.8, \"safety\": 1.0, \"coherence\": 0.9}\n```"}
	checker := NewLLMChecker(stub)
	v, err := checker.Check(context.Background(), "draft", retrieval.RankedContext{}, dialog.RoutedQuery{})
	if err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if !v.Passed {
		t.Fatalf("expected pass, verdict: %+v", v)
	}
	if v.Score != 0.8 {
		t.Errorf("expected min score 0.8, got %f", v.Score)
	}
}

func TestLLMCheckerFallsBackOnGarbage(t *testing.T) {
	stub := &stubLLM{reply: "I think the draft is pretty good overall!"}
	checker := NewLLMChecker(stub)
	v, err := checker.Check(context.Background(), "", retrieval.RankedContext{}, dialog.RoutedQuery{})
	if err != nil {
		t.Fatalf("fallback should not error: %v", err)
	}
	if v.Passed {
		t.Error("empty draft should not pass the rubric fallback")
	}
}

func TestLLMCheckerFallsBackOnInferenceError(t *testing.T) {
	stub := &stubLLM{err: errors.New("boom")}
	checker := NewLLMChecker(stub)
	if _, err := checker.Check(context.Background(), "some draft", retrieval.RankedContext{}, dialog.RoutedQuery{}); err != nil {
		t.Fatalf("fallback should absorb inference error, got %v", err)
	}
}
