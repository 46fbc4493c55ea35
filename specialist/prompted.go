package specialist

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
	"github.com/edmondsbay/consult/quality"
	"github.com/edmondsbay/consult/retrieval"
)

const tracePromptSuffix = `
Think step by step. Respond with ONLY a JSON object, no prose:
{"steps": [{"thought": "...", "justification": "..."}], "draft_answer": "..."}
Include at least two steps before the draft answer. Base every claim on the
provided context passages; when the context is empty, say what a dentist
would need to examine rather than guessing.`

// framings holds the per-variant system prompt preambles.
var framings = map[dialog.IntentLabel]string{
	dialog.IntentDiagnosis: `You are a dental diagnostic assistant. Reason about likely causes of the
patient's reported symptoms, ordered from most to least common, and note which
findings would distinguish them. Never present a possibility as a confirmed
diagnosis.`,
	dialog.IntentTreatment: `You are a dental treatment advisor. Explain the relevant procedures, what
they involve, typical recovery, and realistic alternatives, so the patient can
discuss options with their dentist.`,
	dialog.IntentPrevention: `You are a preventive dental care advisor. Give practical, evidence-based
daily-care guidance and explain why each habit matters.`,
	dialog.IntentEmergency: `You are a dental emergency triage assistant. Prioritize immediate actions
the patient can take right now, state clearly when urgent in-person care is
needed, and keep instructions short and unambiguous.`,
	dialog.IntentGeneral: `You are a friendly dental clinic assistant. Answer general questions about
oral health and dental visits in plain language.`,
}

// feedbackGuidance maps a failed criterion to the correction instruction
// injected on reprompt.
var feedbackGuidance = map[quality.FailureReason]string{
	quality.FailureGroundedness: "Your previous answer made claims not supported by the context passages. Stick strictly to the provided passages.",
	quality.FailureCompleteness: "Your previous answer did not fully address the question. Cover every part of what was asked.",
	quality.FailureSafety:       "Your previous answer gave a directive without advising professional consultation. Add the appropriate caution.",
	quality.FailureCoherence:    "Your previous answer was hard to follow. Write connected, well-ordered prose.",
}

// Prompted is the single specialist implementation: variants differ only in
// their framing prompt.
type Prompted struct {
	label  dialog.IntentLabel
	client inference.Client
	logger *slog.Logger
}

// NewPrompted builds the variant for the given label. Unknown labels get the
// general framing.
func NewPrompted(label dialog.IntentLabel, client inference.Client) *Prompted {
	return &Prompted{
		label:  label,
		client: client,
		logger: logging.WithComponent("specialist").With("variant", string(label)),
	}
}

// DefaultRegistry registers a prompted variant for every routable label.
func DefaultRegistry(client inference.Client) *Registry {
	reg := NewRegistry()
	for _, label := range dialog.Labels() {
		reg.Register(label, NewPrompted(label, client))
	}
	return reg
}

// Reason asks the inference service for a structured trace. Feedback from a
// failed attempt is folded into the prompt so one reprompt can address every
// flagged criterion.
func (p *Prompted) Reason(ctx context.Context, routed dialog.RoutedQuery, rc retrieval.RankedContext, feedback []quality.FailureReason) (Trace, error) {
	framing, ok := framings[p.label]
	if !ok {
		framing = framings[dialog.IntentGeneral]
	}
	req := &inference.Request{
		Messages: []*message.Message{
			message.NewMessage(message.RoleSystem, framing+"\n"+tracePromptSuffix),
			message.NewMessage(message.RoleUser, p.userPrompt(routed, rc, feedback)),
		},
		Temperature: 0.7,
	}
	resp, err := p.client.Generate(ctx, req)
	if err != nil {
		return Trace{}, fmt.Errorf("specialist %s: %w", p.label, err)
	}
	trace, err := parseTrace(resp.Message.Text())
	if err != nil {
		p.logger.Warn("trace parse failed", "query_id", routed.Query.ID, "error", err)
		return Trace{}, err
	}
	if err := trace.Validate(); err != nil {
		return Trace{}, err
	}
	return trace, nil
}

func (p *Prompted) userPrompt(routed dialog.RoutedQuery, rc retrieval.RankedContext, feedback []quality.FailureReason) string {
	var b strings.Builder
	if rc.Empty() {
		b.WriteString("Context passages: none available.\n\n")
	} else {
		b.WriteString("Context passages:\n")
		for i, text := range rc.Texts() {
			fmt.Fprintf(&b, "[%d] %s\n", i+1, text)
		}
		b.WriteString("\n")
	}
	if len(feedback) > 0 {
		b.WriteString("Corrections required from the previous attempt:\n")
		for _, reason := range feedback {
			if guidance, ok := feedbackGuidance[reason]; ok {
				fmt.Fprintf(&b, "- %s\n", guidance)
			} else {
				fmt.Fprintf(&b, "- Address the %s problem flagged by review.\n", reason)
			}
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Patient question: %s", routed.Query.RawText)
	return b.String()
}

// parseTrace extracts the trace JSON, tolerating markdown fences and
// surrounding prose.
func parseTrace(reply string) (Trace, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Trace{}, fmt.Errorf("no JSON object in specialist reply")
	}
	var trace Trace
	if err := json.Unmarshal([]byte(reply[start:end+1]), &trace); err != nil {
		return Trace{}, fmt.Errorf("decode trace: %w", err)
	}
	return trace, nil
}
