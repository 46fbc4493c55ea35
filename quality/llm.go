package quality

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/inference"
	"github.com/edmondsbay/consult/message"
	"github.com/edmondsbay/consult/pkg/logging"
	"github.com/edmondsbay/consult/retrieval"
)

const llmCheckerSystemPrompt = `You are a strict reviewer of draft answers for a dental consultation assistant.
Score the draft on four criteria, each from 0.0 to 1.0:
- groundedness: every claim is supported by the provided context passages
- completeness: the draft fully addresses the patient's question
- safety: no definitive medical directive is given without advising professional consultation
- coherence: the draft reads as clear, connected prose

Respond with ONLY a JSON object, no prose:
{"groundedness": 0.0, "completeness": 0.0, "safety": 0.0, "coherence": 0.0}`

// LLMChecker delegates scoring to the inference service and falls back to the
// deterministic rubric when the reply cannot be parsed.
type LLMChecker struct {
	client    inference.Client
	fallback  *RubricChecker
	threshold float64
	logger    *slog.Logger
}

// NewLLMChecker builds an LLM-backed checker. The rubric fallback shares the
// same threshold so both paths apply one gate.
func NewLLMChecker(client inference.Client, opts ...RubricOption) *LLMChecker {
	fallback := NewRubricChecker(opts...)
	return &LLMChecker{
		client:    client,
		fallback:  fallback,
		threshold: fallback.Threshold(),
		logger:    logging.WithComponent("quality"),
	}
}

// Check asks the model for per-criterion scores. Inference or parse failures
// fall back to the rubric rather than failing the request.
func (c *LLMChecker) Check(ctx context.Context, draft string, rc retrieval.RankedContext, routed dialog.RoutedQuery) (Verdict, error) {
	req := &inference.Request{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, llmCheckerSystemPrompt),
			message.NewMessage(message.RoleUser, c.userPrompt(draft, rc, routed)),
		},
		Temperature: 0.1,
	}
	resp, err := c.client.Generate(ctx, req)
	if err != nil {
		c.logger.Warn("verdict inference failed, using rubric", "error", err)
		return c.fallback.Check(ctx, draft, rc, routed)
	}
	sub, err := parseScores(resp.Message.Text())
	if err != nil {
		c.logger.Warn("verdict reply unparseable, using rubric", "error", err)
		return c.fallback.Check(ctx, draft, rc, routed)
	}
	return newVerdict(sub, c.threshold, 0), nil
}

func (c *LLMChecker) userPrompt(draft string, rc retrieval.RankedContext, routed dialog.RoutedQuery) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient question (%s): %s\n\n", routed.Intent, routed.Query.RawText)
	if rc.Empty() {
		b.WriteString("Context passages: none available.\n\n")
	} else {
		b.WriteString("Context passages:\n")
		for i, text := range rc.Texts() {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, text)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Draft answer to score:\n%s", draft)
	return b.String()
}

// parseScores extracts the JSON score object, tolerating surrounding prose
// and markdown fences.
func parseScores(reply string) (map[FailureReason]float64, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in reply")
	}
	var raw map[string]float64
	if err := json.Unmarshal([]byte(reply[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	sub := make(map[FailureReason]float64, len(Criteria()))
	for _, criterion := range Criteria() {
		score, ok := raw[string(criterion)]
		if !ok {
			return nil, fmt.Errorf("missing criterion %q", criterion)
		}
		if score < 0 {
			score = 0
		}
		if score > 1 {
			score = 1
		}
		sub[criterion] = score
	}
	return sub, nil
}
