package quality

import (
	"context"
	"strings"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/retrieval"
)

// RubricConfig tunes the deterministic checker.
type RubricConfig struct {
	// Threshold is the pass cutoff applied to every sub-score.
	Threshold float64
	// MinWords is the shortest draft considered complete.
	MinWords int
}

// DefaultRubricConfig returns the standard gate.
func DefaultRubricConfig() *RubricConfig {
	return &RubricConfig{
		Threshold: 0.6,
		MinWords:  20,
	}
}

// RubricChecker scores drafts with deterministic heuristics. It serves as the
// default gate and as the fallback when an LLM verdict cannot be parsed.
type RubricChecker struct {
	cfg *RubricConfig
}

// RubricOption customizes the rubric checker.
type RubricOption func(*RubricConfig)

// WithThreshold overrides the pass cutoff.
func WithThreshold(t float64) RubricOption {
	return func(c *RubricConfig) {
		if t > 0 && t <= 1 {
			c.Threshold = t
		}
	}
}

// WithMinWords overrides the completeness length floor.
func WithMinWords(n int) RubricOption {
	return func(c *RubricConfig) {
		if n > 0 {
			c.MinWords = n
		}
	}
}

// NewRubricChecker builds the deterministic checker.
func NewRubricChecker(opts ...RubricOption) *RubricChecker {
	cfg := DefaultRubricConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &RubricChecker{cfg: cfg}
}

// Threshold exposes the configured cutoff.
func (r *RubricChecker) Threshold() float64 { return r.cfg.Threshold }

// Check scores the draft on groundedness, completeness, safety, and
// coherence. Deterministic for identical inputs.
func (r *RubricChecker) Check(_ context.Context, draft string, rc retrieval.RankedContext, routed dialog.RoutedQuery) (Verdict, error) {
	sub := map[FailureReason]float64{
		FailureGroundedness: r.groundedness(draft, rc),
		FailureCompleteness: r.completeness(draft, routed),
		FailureSafety:       r.safety(draft),
		FailureCoherence:    r.coherence(draft),
	}
	return newVerdict(sub, r.cfg.Threshold, 0), nil
}

// groundedness measures the share of draft sentences with word overlap in the
// ranked context. With no grounding material at all, being non-committal is
// the best the draft can do, so an empty context scores at threshold.
func (r *RubricChecker) groundedness(draft string, rc retrieval.RankedContext) float64 {
	if rc.Empty() {
		return r.cfg.Threshold
	}
	contextWords := make(map[string]struct{})
	for _, text := range rc.Texts() {
		for w := range tokenSet(text) {
			contextWords[w] = struct{}{}
		}
	}
	sentences := splitSentences(draft)
	if len(sentences) == 0 {
		return 0
	}
	grounded := 0
	for _, s := range sentences {
		words := tokenSet(s)
		if len(words) == 0 {
			continue
		}
		matched := 0
		for w := range words {
			if _, ok := contextWords[w]; ok {
				matched++
			}
		}
		if float64(matched)/float64(len(words)) >= 0.3 {
			grounded++
		}
	}
	return float64(grounded) / float64(len(sentences))
}

// completeness checks length and query-term coverage.
func (r *RubricChecker) completeness(draft string, routed dialog.RoutedQuery) float64 {
	words := strings.Fields(draft)
	if len(words) == 0 {
		return 0
	}
	score := 0.0
	if len(words) >= r.cfg.MinWords {
		score += 0.5
	} else {
		score += 0.5 * float64(len(words)) / float64(r.cfg.MinWords)
	}
	queryWords := tokenSet(routed.Query.RawText)
	if len(queryWords) == 0 {
		return score + 0.5
	}
	draftWords := tokenSet(draft)
	matched := 0
	for w := range queryWords {
		if _, ok := draftWords[w]; ok {
			matched++
		}
	}
	score += 0.5 * float64(matched) / float64(len(queryWords))
	return score
}

// safety fails drafts that issue definitive directives without a disclaimer.
func (r *RubricChecker) safety(draft string) float64 {
	lower := strings.ToLower(draft)
	directives := []string{
		"you must take", "you should take", "take this medication",
		"stop taking", "you definitely have", "this is certainly",
		"no need to see a dentist", "do not see a dentist",
	}
	hasDirective := false
	for _, d := range directives {
		if strings.Contains(lower, d) {
			hasDirective = true
			break
		}
	}
	if !hasDirective {
		return 1
	}
	disclaimers := []string{
		"consult", "see a dentist", "see your dentist", "professional",
		"not a substitute", "schedule an appointment", "medical advice",
	}
	for _, d := range disclaimers {
		if strings.Contains(lower, d) {
			return 0.8
		}
	}
	return 0
}

// coherence penalizes fragments and heavy repetition.
func (r *RubricChecker) coherence(draft string) float64 {
	sentences := splitSentences(draft)
	if len(sentences) == 0 {
		return 0
	}
	score := 1.0
	seen := make(map[string]int)
	short := 0
	for _, s := range sentences {
		norm := strings.ToLower(strings.TrimSpace(s))
		seen[norm]++
		if len(strings.Fields(s)) < 3 {
			short++
		}
	}
	for _, n := range seen {
		if n > 1 {
			score -= 0.2 * float64(n-1)
		}
	}
	if len(sentences) > 0 {
		score -= 0.3 * float64(short) / float64(len(sentences))
	}
	if score < 0 {
		score = 0
	}
	return score
}

func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := raw[:0]
	for _, s := range raw {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

func tokenSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()-")
		if len(w) > 3 {
			out[w] = struct{}{}
		}
	}
	return out
}
