// Package retrieval turns a query into ranked supporting material. The index
// answers similarity searches only; ordering, deduplication, and truncation
// are the ranker's job.
package retrieval

import (
	"context"
)

// Hit is one raw retrieval result. Ephemeral per request.
type Hit struct {
	DocID      string  `json:"doc_id"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
}

// RankedContext is the ordered grounding material handed to a specialist.
// Hits are relevance-descending; an empty context is valid and signals that
// no grounding is available.
type RankedContext struct {
	Hits []Hit `json:"hits"`
}

// Empty reports whether no grounding material survived ranking.
func (rc RankedContext) Empty() bool {
	return len(rc.Hits) == 0
}

// Texts returns the hit texts in ranked order.
func (rc RankedContext) Texts() []string {
	out := make([]string, len(rc.Hits))
	for i, h := range rc.Hits {
		out[i] = h.Text
	}
	return out
}

// Index answers similarity searches over the knowledge corpus. Results carry
// no ordering guarantee; callers must rank them.
type Index interface {
	Search(ctx context.Context, text string, topK int) ([]Hit, error)
}
