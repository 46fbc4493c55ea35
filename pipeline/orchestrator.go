package pipeline

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/edmondsbay/consult/dialog"
	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/formatter"
	"github.com/edmondsbay/consult/generator"
	"github.com/edmondsbay/consult/inference"
	"github.com/edmondsbay/consult/intent"
	"github.com/edmondsbay/consult/memory"
	"github.com/edmondsbay/consult/monitoring"
	"github.com/edmondsbay/consult/pkg/logging"
	"github.com/edmondsbay/consult/pkg/telemetry"
	"github.com/edmondsbay/consult/quality"
	"github.com/edmondsbay/consult/retrieval"
	"github.com/edmondsbay/consult/specialist"
)

// Config tunes the orchestrator.
type Config struct {
	// MaxAttempts bounds the reprompt loop. Fixed per orchestrator, never
	// adaptive: it is the termination guarantee.
	MaxAttempts int
	// TopK is the initial retrieval depth.
	TopK int
	// TopKStep is added to the retrieval depth after a groundedness failure.
	TopKStep int
	// InferenceTimeout bounds one specialist or checker call.
	InferenceTimeout time.Duration
	// RetrievalTimeout bounds one index search.
	RetrievalTimeout time.Duration
	// MaxConcurrent caps orchestrations in flight. Zero means unlimited.
	MaxConcurrent int
	// AttemptPenalty is subtracted from the confidence per extra attempt.
	AttemptPenalty float64
	Logger         *slog.Logger
}

// DefaultConfig returns the standard pipeline policy.
func DefaultConfig() *Config {
	return &Config{
		MaxAttempts:      3,
		TopK:             5,
		TopKStep:         5,
		InferenceTimeout: 60 * time.Second,
		RetrievalTimeout: 10 * time.Second,
		AttemptPenalty:   0.1,
	}
}

// Option customizes the orchestrator.
type Option func(*Config)

// WithMaxAttempts overrides the reprompt budget.
func WithMaxAttempts(n int) Option {
	return func(c *Config) {
		if n > 0 {
			c.MaxAttempts = n
		}
	}
}

// WithTopK overrides the initial retrieval depth.
func WithTopK(k int) Option {
	return func(c *Config) {
		if k > 0 {
			c.TopK = k
		}
	}
}

// WithTopKStep overrides the groundedness-failure expansion.
func WithTopKStep(k int) Option {
	return func(c *Config) {
		if k >= 0 {
			c.TopKStep = k
		}
	}
}

// WithInferenceTimeout overrides the per-call inference deadline.
func WithInferenceTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.InferenceTimeout = d
		}
	}
}

// WithRetrievalTimeout overrides the per-call retrieval deadline.
func WithRetrievalTimeout(d time.Duration) Option {
	return func(c *Config) {
		if d > 0 {
			c.RetrievalTimeout = d
		}
	}
}

// WithMaxConcurrent caps concurrent orchestrations.
func WithMaxConcurrent(n int) Option {
	return func(c *Config) {
		if n >= 0 {
			c.MaxConcurrent = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Orchestrator wires the pipeline components and owns the reprompt loop.
type Orchestrator struct {
	cfg        *Config
	memory     *memory.Manager
	classifier *intent.Classifier
	index      retrieval.Index
	ranker     *retrieval.Ranker
	registry   *specialist.Registry
	generator  generator.Generator
	checker    quality.Checker
	formatter  *formatter.Formatter
	collector  monitoring.Collector
	logger     *slog.Logger
	slots      chan struct{}
}

// New assembles an orchestrator. Every component is required except the
// collector, which defaults to Nop.
func New(
	mem *memory.Manager,
	classifier *intent.Classifier,
	index retrieval.Index,
	ranker *retrieval.Ranker,
	registry *specialist.Registry,
	gen generator.Generator,
	checker quality.Checker,
	fmtr *formatter.Formatter,
	collector monitoring.Collector,
	opts ...Option,
) (*Orchestrator, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if mem == nil || classifier == nil || index == nil || ranker == nil ||
		registry == nil || gen == nil || checker == nil || fmtr == nil {
		return nil, fmt.Errorf("%w: orchestrator requires every pipeline component", consulterrors.ErrInvalidInput)
	}
	if collector == nil {
		collector = monitoring.Nop{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("pipeline")
	}
	o := &Orchestrator{
		cfg:        cfg,
		memory:     mem,
		classifier: classifier,
		index:      index,
		ranker:     ranker,
		registry:   registry,
		generator:  gen,
		checker:    checker,
		formatter:  fmtr,
		collector:  collector,
		logger:     logger,
	}
	if cfg.MaxConcurrent > 0 {
		o.slots = make(chan struct{}, cfg.MaxConcurrent)
	}
	return o, nil
}

// Consult runs one consultation end to end. Recoverable failures are absorbed
// by the reprompt loop; the caller sees either a FinalResponse (possibly
// degraded) or a hard failure.
func (o *Orchestrator) Consult(ctx context.Context, conversationID, text string) (dialog.FinalResponse, error) {
	if o.slots != nil {
		select {
		case o.slots <- struct{}{}:
			defer func() { <-o.slots }()
		case <-ctx.Done():
			return dialog.FinalResponse{}, ctx.Err()
		}
	}

	tracer := otel.Tracer("consult/pipeline")
	ctx, span := tracer.Start(ctx, "consult")
	var retErr error
	defer func() { telemetry.End(span, retErr) }()

	started := time.Now()
	query := dialog.NewQuery(conversationID, text)
	if query.RawText == "" {
		retErr = fmt.Errorf("%w: empty query text", consulterrors.ErrInvalidInput)
		return dialog.FinalResponse{}, retErr
	}

	history, err := o.memory.Fetch(ctx, query.ConversationID)
	if err != nil {
		retErr = err
		return dialog.FinalResponse{}, retErr
	}

	routed := o.classifier.Classify(query, history)
	span.SetAttributes(
		attribute.String("consult.intent", string(routed.Intent)),
		attribute.Float64("consult.routing_confidence", routed.Confidence),
	)
	o.logger.Info("query routed",
		"query_id", query.ID, "conversation_id", conversationID,
		"intent", routed.Intent, "confidence", routed.Confidence)

	topK := o.cfg.TopK
	rc := o.retrieve(ctx, routed, history, topK)

	response, err := o.runLoop(ctx, routed, history, rc, topK, started)
	if err != nil {
		retErr = err
		return dialog.FinalResponse{}, retErr
	}

	if ctx.Err() != nil {
		retErr = ctx.Err()
		return dialog.FinalResponse{}, retErr
	}
	if err := o.memory.Append(ctx, query, response); err != nil {
		// the answer is already final; losing history must not lose it
		o.logger.Error("history append failed", "conversation_id", conversationID, "error", err)
	}
	return response, nil
}

// retrieve searches and ranks, degrading to empty grounding when the index
// stays unavailable.
func (o *Orchestrator) retrieve(ctx context.Context, routed dialog.RoutedQuery, history dialog.Context, topK int) retrieval.RankedContext {
	searchCtx, cancel := context.WithTimeout(ctx, o.cfg.RetrievalTimeout)
	defer cancel()
	hits, err := o.index.Search(searchCtx, routed.Query.RawText, topK)
	if err != nil {
		o.logger.Warn("retrieval degraded to empty context",
			"query_id", routed.Query.ID, "error", err)
		return retrieval.RankedContext{}
	}
	return o.ranker.Rank(hits, routed.Query, history)
}

// runLoop is the reprompt state machine. It is strictly sequential within a
// request and bounded by MaxAttempts regardless of checker behavior.
func (o *Orchestrator) runLoop(ctx context.Context, routed dialog.RoutedQuery, history dialog.Context, rc retrieval.RankedContext, topK int, started time.Time) (dialog.FinalResponse, error) {
	spec, err := o.registry.Lookup(routed.Intent)
	if err != nil {
		return dialog.FinalResponse{}, err
	}

	attempts := make([]GenerationAttempt, 0, o.cfg.MaxAttempts)
	var feedback []quality.FailureReason

	for number := 1; number <= o.cfg.MaxAttempts; number++ {
		if ctx.Err() != nil {
			return dialog.FinalResponse{}, ctx.Err()
		}
		o.emit(routed, monitoring.Event{
			Kind: monitoring.KindAttemptStarted, Attempt: number,
		})
		o.transition(routed, StateGenerating, number)

		attempt := o.runAttempt(ctx, spec, routed, rc, feedback, number)
		attempts = append(attempts, attempt)

		if attempt.Err != nil {
			if !o.recoverable(attempt.Err) {
				return dialog.FinalResponse{}, attempt.Err
			}
			o.logger.Warn("attempt consumed by recoverable failure",
				"query_id", routed.Query.ID, "attempt", number, "error", attempt.Err)
			if number < o.cfg.MaxAttempts {
				o.transition(routed, StateReprompting, number)
			}
			continue
		}

		o.emit(routed, monitoring.Event{
			Kind: monitoring.KindVerdict, Attempt: number,
			Passed: attempt.Verdict.Passed, Score: attempt.Verdict.Score,
		})

		if attempt.Verdict.Passed {
			o.transition(routed, StateAccepted, number)
			return o.finish(ctx, routed, attempt, len(attempts), false, started)
		}

		if number < o.cfg.MaxAttempts {
			o.transition(routed, StateReprompting, number)
			feedback = attempt.Verdict.FailureReasons
			// groundedness failure is the one cross-component feedback edge:
			// widen retrieval before reasoning again
			if attempt.Verdict.HasFailure(quality.FailureGroundedness) && o.cfg.TopKStep > 0 {
				topK += o.cfg.TopKStep
				rc = o.retrieve(ctx, routed, history, topK)
				o.logger.Debug("retrieval expanded after groundedness failure",
					"query_id", routed.Query.ID, "top_k", topK)
			}
		}
	}

	o.transition(routed, StateExhausted, len(attempts))
	best := bestAttempt(attempts)
	if best == nil {
		o.emit(routed, monitoring.Event{
			Kind: monitoring.KindOutcome, Outcome: monitoring.OutcomeFailed,
			AttemptsUsed: len(attempts), Latency: time.Since(started),
		})
		return dialog.FinalResponse{}, fmt.Errorf("%w: %d attempts, none produced a draft",
			consulterrors.ErrAttemptsExhausted, len(attempts))
	}
	return o.finish(ctx, routed, *best, len(attempts), true, started)
}

// runAttempt performs one Generating -> Checking pass.
func (o *Orchestrator) runAttempt(ctx context.Context, spec specialist.Specialist, routed dialog.RoutedQuery, rc retrieval.RankedContext, feedback []quality.FailureReason, number int) GenerationAttempt {
	attempt := GenerationAttempt{Number: number}

	reasonCtx, cancel := context.WithTimeout(ctx, o.cfg.InferenceTimeout)
	trace, err := spec.Reason(reasonCtx, routed, rc, feedback)
	cancel()
	if err != nil {
		attempt.Err = err
		return attempt
	}
	attempt.Trace = trace

	draft, err := o.generator.Generate(ctx, trace, rc)
	if err != nil {
		attempt.Err = err
		return attempt
	}
	attempt.Draft = draft

	o.transition(routed, StateChecking, number)
	checkCtx, cancel := context.WithTimeout(ctx, o.cfg.InferenceTimeout)
	verdict, err := o.checker.Check(checkCtx, draft, rc, routed)
	cancel()
	if err != nil {
		attempt.Err = err
		return attempt
	}
	verdict.Iteration = number
	attempt.Verdict = verdict
	return attempt
}

// recoverable reports whether the failure may consume an attempt instead of
// failing the request.
func (o *Orchestrator) recoverable(err error) bool {
	if inference.Recoverable(err) {
		return true
	}
	return stderrors.Is(err, consulterrors.ErrMalformedTrace) ||
		stderrors.Is(err, consulterrors.ErrEmptyDraft)
}

// finish formats the chosen draft and emits the terminal outcome.
func (o *Orchestrator) finish(ctx context.Context, routed dialog.RoutedQuery, attempt GenerationAttempt, attemptsUsed int, degraded bool, started time.Time) (dialog.FinalResponse, error) {
	text, err := o.formatter.Format(attempt.Draft, routed.Intent, degraded)
	if err != nil {
		// an accepted attempt always has a draft; reaching here is a bug
		o.logger.Error("formatter rejected accepted draft", "query_id", routed.Query.ID, "error", err)
		return dialog.FinalResponse{}, err
	}

	// clamped to [0.1, 1.0]: even a fully penalized answer keeps a nonzero
	// confidence so downstream consumers can rank it
	confidence := attempt.Verdict.Score - o.cfg.AttemptPenalty*float64(attemptsUsed-1)
	if confidence < 0.1 {
		confidence = 0.1
	}
	if confidence > 1 {
		confidence = 1
	}

	outcome := monitoring.OutcomeAccepted
	if degraded {
		outcome = monitoring.OutcomeDegraded
	}
	o.emit(routed, monitoring.Event{
		Kind: monitoring.KindOutcome, Outcome: outcome,
		AttemptsUsed: attemptsUsed, Latency: time.Since(started),
	})
	o.logger.Info("consultation finished",
		"query_id", routed.Query.ID, "outcome", outcome,
		"attempts_used", attemptsUsed, "confidence", confidence)

	return dialog.FinalResponse{
		Text:           text,
		Intent:         routed.Intent,
		AttemptsUsed:   attemptsUsed,
		Degraded:       degraded,
		Confidence:     confidence,
		ConversationID: routed.Query.ConversationID,
	}, nil
}

func (o *Orchestrator) emit(routed dialog.RoutedQuery, event monitoring.Event) {
	event.QueryID = routed.Query.ID
	event.ConversationID = routed.Query.ConversationID
	event.Intent = routed.Intent
	event.At = time.Now()
	o.collector.Record(event)
}

func (o *Orchestrator) transition(routed dialog.RoutedQuery, state State, attempt int) {
	o.emit(routed, monitoring.Event{
		Kind: monitoring.KindTransition, State: string(state), Attempt: attempt,
	})
}
