package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/edmondsbay/consult/dialog"
	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/formatter"
	"github.com/edmondsbay/consult/generator"
	"github.com/edmondsbay/consult/intent"
	"github.com/edmondsbay/consult/memory"
	"github.com/edmondsbay/consult/monitoring"
	"github.com/edmondsbay/consult/quality"
	"github.com/edmondsbay/consult/retrieval"
	"github.com/edmondsbay/consult/specialist"
	"github.com/edmondsbay/consult/tokenizer"
)

// stubIndex returns fixed hits and records the topK of every call.
type stubIndex struct {
	mu    sync.Mutex
	hits  []retrieval.Hit
	topKs []int
	err   error
}

func (s *stubIndex) Search(_ context.Context, _ string, topK int) ([]retrieval.Hit, error) {
	s.mu.Lock()
	s.topKs = append(s.topKs, topK)
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.hits, nil
}

func (s *stubIndex) calls() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.topKs...)
}

// stubSpecialist emits scripted traces in order, then repeats the last.
type stubSpecialist struct {
	mu       sync.Mutex
	traces   []specialist.Trace
	errs     []error
	call     int
	feedback [][]quality.FailureReason
}

func (s *stubSpecialist) Reason(_ context.Context, _ dialog.RoutedQuery, _ retrieval.RankedContext, feedback []quality.FailureReason) (specialist.Trace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.call
	s.call++
	s.feedback = append(s.feedback, append([]quality.FailureReason(nil), feedback...))
	if i < len(s.errs) && s.errs[i] != nil {
		return specialist.Trace{}, s.errs[i]
	}
	if i >= len(s.traces) {
		i = len(s.traces) - 1
	}
	trace := s.traces[i]
	if err := trace.Validate(); err != nil {
		return specialist.Trace{}, err
	}
	return trace, nil
}

// stubChecker replays scripted verdicts, then repeats the last.
type stubChecker struct {
	mu       sync.Mutex
	verdicts []quality.Verdict
	call     int
}

func (s *stubChecker) Check(_ context.Context, _ string, _ retrieval.RankedContext, _ dialog.RoutedQuery) (quality.Verdict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.call
	s.call++
	if i >= len(s.verdicts) {
		i = len(s.verdicts) - 1
	}
	return s.verdicts[i], nil
}

func passVerdict() quality.Verdict {
	return quality.Verdict{Passed: true, Score: 0.9}
}

func failVerdict(score float64, reasons ...quality.FailureReason) quality.Verdict {
	return quality.Verdict{Passed: false, Score: score, FailureReasons: reasons}
}

func validTrace(answer string) specialist.Trace {
	return specialist.Trace{
		Steps:       []specialist.Step{{Thought: "step one"}, {Thought: "step two"}},
		DraftAnswer: answer,
	}
}

func newOrchestrator(t *testing.T, spec specialist.Specialist, checker quality.Checker, index retrieval.Index, opts ...Option) (*Orchestrator, *memory.Manager) {
	t.Helper()
	mem := memory.NewManager(memory.NewInMemoryStore())
	reg := specialist.NewRegistry()
	for _, label := range dialog.Labels() {
		reg.Register(label, spec)
	}
	o, err := New(
		mem,
		intent.NewClassifier(),
		index,
		retrieval.NewRanker(tokenizer.NewSimpleTokenizer(), retrieval.WithSimilarityFloor(0)),
		reg,
		&generator.PassThrough{},
		checker,
		formatter.New(),
		monitoring.Nop{},
		opts...,
	)
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	return o, mem
}

func TestScenarioAFirstAttemptAccepted(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("Common symptoms include sensitivity and swelling.")}}
	checker := &stubChecker{verdicts: []quality.Verdict{passVerdict()}}
	o, _ := newOrchestrator(t, spec, checker, &stubIndex{})

	resp, err := o.Consult(context.Background(), "c1", "What are common symptoms of a cavity?")
	if err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	if resp.AttemptsUsed != 1 {
		t.Errorf("attempts_used = %d, want 1", resp.AttemptsUsed)
	}
	if resp.Degraded {
		t.Error("unexpected degraded flag")
	}
	if resp.Intent != dialog.IntentDiagnosis {
		t.Errorf("intent = %s, want diagnosis", resp.Intent)
	}
	if !strings.Contains(resp.Text, "Common symptoms include") {
		t.Errorf("draft missing from response: %q", resp.Text)
	}
}

func TestScenarioBGroundednessRepromptExpandsRetrieval(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("answer about symptoms and cavities in detail")}}
	checker := &stubChecker{verdicts: []quality.Verdict{
		failVerdict(0.3, quality.FailureGroundedness),
		failVerdict(0.4, quality.FailureGroundedness),
		passVerdict(),
	}}
	index := &stubIndex{}
	o, _ := newOrchestrator(t, spec, checker, index,
		WithMaxAttempts(3), WithTopK(5), WithTopKStep(5))

	resp, err := o.Consult(context.Background(), "c1", "What are common symptoms of a cavity?")
	if err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	if resp.AttemptsUsed != 3 || resp.Degraded {
		t.Errorf("got attempts=%d degraded=%v, want 3/false", resp.AttemptsUsed, resp.Degraded)
	}
	calls := index.calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 retrievals (1 initial + 2 expansions), got %v", calls)
	}
	if calls[1] != 10 || calls[2] != 15 {
		t.Errorf("top_k not expanded: %v", calls)
	}
	// feedback carried into reprompts
	if len(spec.feedback) != 3 || len(spec.feedback[1]) == 0 {
		t.Errorf("feedback not forwarded: %v", spec.feedback)
	}
}

func TestScenarioCExhaustedReleasesBestAttempt(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{
		validTrace("first draft"),
		validTrace("second draft"),
		validTrace("third draft"),
	}}
	checker := &stubChecker{verdicts: []quality.Verdict{
		failVerdict(0.3, quality.FailureCompleteness),
		failVerdict(0.5, quality.FailureCompleteness), // best
		failVerdict(0.4, quality.FailureCompleteness),
	}}
	o, _ := newOrchestrator(t, spec, checker, &stubIndex{}, WithMaxAttempts(3))

	resp, err := o.Consult(context.Background(), "c1", "What are common symptoms of a cavity?")
	if err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	if !resp.Degraded {
		t.Fatal("expected degraded response")
	}
	if resp.AttemptsUsed != 3 {
		t.Errorf("attempts_used = %d, want 3", resp.AttemptsUsed)
	}
	if !strings.Contains(resp.Text, "second draft") {
		t.Errorf("best-scoring draft not released: %q", resp.Text)
	}
}

func TestScenarioDUnknownConversationIsEmptyHistory(t *testing.T) {
	mem := memory.NewManager(memory.NewInMemoryStore())
	history, err := mem.Fetch(context.Background(), "never-seen")
	if err != nil {
		t.Fatalf("Fetch returned error: %v", err)
	}
	if !history.Empty() {
		t.Fatal("expected empty history for unknown conversation")
	}
}

func TestTerminationBoundWithAlwaysFailingChecker(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("a draft")}}
	checker := &stubChecker{verdicts: []quality.Verdict{failVerdict(0.2, quality.FailureCoherence)}}
	o, _ := newOrchestrator(t, spec, checker, &stubIndex{}, WithMaxAttempts(3))

	resp, err := o.Consult(context.Background(), "c1", "hello there")
	if err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	spec.mu.Lock()
	calls := spec.call
	spec.mu.Unlock()
	if calls != 3 {
		t.Errorf("specialist called %d times, want exactly MaxAttempts", calls)
	}
	if resp.AttemptsUsed != 3 || !resp.Degraded {
		t.Errorf("got attempts=%d degraded=%v", resp.AttemptsUsed, resp.Degraded)
	}
}

func TestZeroStepTraceConsumesAttempt(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{
		{Steps: nil, DraftAnswer: "no steps"}, // malformed
		validTrace("recovered draft"),
	}}
	checker := &stubChecker{verdicts: []quality.Verdict{passVerdict()}}
	o, _ := newOrchestrator(t, spec, checker, &stubIndex{}, WithMaxAttempts(3))

	resp, err := o.Consult(context.Background(), "c1", "hello there")
	if err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	if resp.AttemptsUsed != 2 {
		t.Errorf("attempts_used = %d, want 2 (malformed trace consumed one)", resp.AttemptsUsed)
	}
	checker.mu.Lock()
	checks := checker.call
	checker.mu.Unlock()
	if checks != 1 {
		t.Errorf("checker called %d times; malformed trace must not reach it", checks)
	}
}

func TestExhaustedWithNoDraftsFailsHard(t *testing.T) {
	spec := &stubSpecialist{
		traces: []specialist.Trace{{}},
		errs: []error{
			consulterrors.ErrServiceUnavailable,
			consulterrors.ErrServiceUnavailable,
			consulterrors.ErrServiceUnavailable,
		},
	}
	checker := &stubChecker{verdicts: []quality.Verdict{passVerdict()}}
	o, _ := newOrchestrator(t, spec, checker, &stubIndex{}, WithMaxAttempts(3))

	_, err := o.Consult(context.Background(), "c1", "hello there")
	if !errors.Is(err, consulterrors.ErrAttemptsExhausted) {
		t.Fatalf("expected ErrAttemptsExhausted, got %v", err)
	}
}

func TestIndexUnavailableDegradesToEmptyContext(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("ungrounded but honest answer")}}
	checker := &stubChecker{verdicts: []quality.Verdict{passVerdict()}}
	index := &stubIndex{err: consulterrors.ErrIndexUnavailable}
	o, _ := newOrchestrator(t, spec, checker, index)

	if _, err := o.Consult(context.Background(), "c1", "hello there"); err != nil {
		t.Fatalf("index outage must degrade, not fail: %v", err)
	}
}

func TestConsultAppendsHistory(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("an answer")}}
	checker := &stubChecker{verdicts: []quality.Verdict{passVerdict()}}
	o, mem := newOrchestrator(t, spec, checker, &stubIndex{})

	if _, err := o.Consult(context.Background(), "c9", "hello there"); err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	history, _ := mem.Fetch(context.Background(), "c9")
	if len(history.Turns) != 1 {
		t.Fatalf("expected 1 stored turn, got %d", len(history.Turns))
	}
}

func TestConsultCancellation(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("an answer")}}
	checker := &stubChecker{verdicts: []quality.Verdict{passVerdict()}}
	o, mem := newOrchestrator(t, spec, checker, &stubIndex{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := o.Consult(ctx, "c1", "hello there"); err == nil {
		t.Fatal("expected error from canceled context")
	}
	history, _ := mem.Fetch(context.Background(), "c1")
	if !history.Empty() {
		t.Fatal("canceled request must not append history")
	}
}

func TestConfidencePenalizedByAttempts(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("a draft")}}
	checker := &stubChecker{verdicts: []quality.Verdict{
		failVerdict(0.3, quality.FailureCoherence),
		passVerdict(),
	}}
	o, _ := newOrchestrator(t, spec, checker, &stubIndex{}, WithMaxAttempts(3))

	resp, err := o.Consult(context.Background(), "c1", "hello there")
	if err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	// verdict score 0.9 minus one attempt of penalty
	if resp.Confidence >= 0.9 {
		t.Errorf("confidence %f not penalized for extra attempt", resp.Confidence)
	}
}

func TestConfidenceFloor(t *testing.T) {
	spec := &stubSpecialist{traces: []specialist.Trace{validTrace("a draft")}}
	// every verdict fails with a rock-bottom score; the degraded release must
	// still carry the minimum confidence
	checker := &stubChecker{verdicts: []quality.Verdict{failVerdict(0.0, quality.FailureCoherence)}}
	o, _ := newOrchestrator(t, spec, checker, &stubIndex{}, WithMaxAttempts(3))

	resp, err := o.Consult(context.Background(), "c1", "hello there")
	if err != nil {
		t.Fatalf("Consult returned error: %v", err)
	}
	if resp.Confidence < 0.1 {
		t.Errorf("confidence %f below the 0.1 floor", resp.Confidence)
	}
	if resp.Confidence > 1 {
		t.Errorf("confidence %f above 1", resp.Confidence)
	}
}
