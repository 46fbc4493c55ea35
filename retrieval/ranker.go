package retrieval

import (
	"sort"
	"strings"

	"github.com/edmondsbay/consult/dialog"
	"github.com/edmondsbay/consult/tokenizer"
)

// RankerConfig tunes filtering and truncation.
type RankerConfig struct {
	// SimilarityFloor drops hits below this raw similarity.
	SimilarityFloor float64
	// MaxDocuments truncates the ranked context to this many hits.
	MaxDocuments int
	// TokenBudget caps the total token count across kept hits. Zero disables
	// the budget.
	TokenBudget int
	// HistoryBoost is the maximum relevance bonus for overlap with prior
	// turns; the bonus decays for older turns.
	HistoryBoost float64
}

// DefaultRankerConfig returns the standard ranking policy.
func DefaultRankerConfig() *RankerConfig {
	return &RankerConfig{
		SimilarityFloor: 0.25,
		MaxDocuments:    5,
		TokenBudget:     2000,
		HistoryBoost:    0.15,
	}
}

// Ranker filters, deduplicates, scores, and truncates raw retrieval hits.
type Ranker struct {
	cfg *RankerConfig
	tok tokenizer.Tokenizer
}

// RankerOption customizes a Ranker.
type RankerOption func(*RankerConfig)

// WithSimilarityFloor overrides the minimum similarity.
func WithSimilarityFloor(f float64) RankerOption {
	return func(c *RankerConfig) { c.SimilarityFloor = f }
}

// WithMaxDocuments overrides the document cap.
func WithMaxDocuments(n int) RankerOption {
	return func(c *RankerConfig) {
		if n > 0 {
			c.MaxDocuments = n
		}
	}
}

// WithTokenBudget overrides the token cap.
func WithTokenBudget(n int) RankerOption {
	return func(c *RankerConfig) { c.TokenBudget = n }
}

// WithHistoryBoost overrides the conversation-overlap bonus.
func WithHistoryBoost(b float64) RankerOption {
	return func(c *RankerConfig) { c.HistoryBoost = b }
}

// NewRanker builds a Ranker. A nil tokenizer disables the token budget.
func NewRanker(tok tokenizer.Tokenizer, opts ...RankerOption) *Ranker {
	cfg := DefaultRankerConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return &Ranker{cfg: cfg, tok: tok}
}

// Rank applies the full policy: floor, doc-id dedupe, composite score with a
// recency-weighted boost for hits overlapping prior turns, descending sort,
// then truncation by document count and token budget. An empty result is
// valid and means no grounding is available.
func (r *Ranker) Rank(hits []Hit, query dialog.Query, history dialog.Context) RankedContext {
	seen := make(map[string]struct{}, len(hits))
	kept := make([]Hit, 0, len(hits))
	for _, h := range hits {
		if h.Similarity < r.cfg.SimilarityFloor {
			continue
		}
		if _, dup := seen[h.DocID]; dup {
			continue
		}
		seen[h.DocID] = struct{}{}
		h.Similarity += r.historyBoost(h.Text, history)
		kept = append(kept, h)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Similarity > kept[j].Similarity
	})

	if len(kept) > r.cfg.MaxDocuments {
		kept = kept[:r.cfg.MaxDocuments]
	}
	kept = r.applyTokenBudget(kept)

	return RankedContext{Hits: kept}
}

// historyBoost returns a bonus proportional to word overlap with prior turns,
// weighted toward the most recent turn.
func (r *Ranker) historyBoost(text string, history dialog.Context) float64 {
	if r.cfg.HistoryBoost <= 0 || history.Empty() {
		return 0
	}
	hitWords := wordSet(text)
	if len(hitWords) == 0 {
		return 0
	}
	var boost float64
	n := len(history.Turns)
	for i, turn := range history.Turns {
		// linear decay: the latest turn carries full weight
		weight := float64(i+1) / float64(n)
		overlap := overlapRatio(hitWords, wordSet(turn.Query.RawText))
		boost += weight * overlap
	}
	if boost > 1 {
		boost = 1
	}
	return boost * r.cfg.HistoryBoost
}

func (r *Ranker) applyTokenBudget(hits []Hit) []Hit {
	if r.cfg.TokenBudget <= 0 || r.tok == nil {
		return hits
	}
	total := 0
	for i, h := range hits {
		total += r.tok.CountTokens(h.Text)
		if total > r.cfg.TokenBudget {
			return hits[:i]
		}
	}
	return hits
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if len(w) > 2 {
			out[w] = struct{}{}
		}
	}
	return out
}

func overlapRatio(a, b map[string]struct{}) float64 {
	if len(b) == 0 {
		return 0
	}
	matched := 0
	for w := range b {
		if _, ok := a[w]; ok {
			matched++
		}
	}
	return float64(matched) / float64(len(b))
}
