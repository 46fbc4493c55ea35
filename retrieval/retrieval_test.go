package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/edmondsbay/consult/dialog"
	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/tokenizer"
	"github.com/edmondsbay/consult/vector"
)

// keywordEmbedder produces deterministic vectors from character histograms.
type keywordEmbedder struct{ dim int }

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, r := range text {
		vec[int(r)%e.dim]++
	}
	return vector.Normalize(vec), nil
}

func (e *keywordEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (e *keywordEmbedder) Dimension() int { return e.dim }

// failingStore errors a fixed number of times before delegating.
type failingStore struct {
	vector.Store
	failures int
	calls    int
}

func (s *failingStore) Search(ctx context.Context, q []float32, topK int) ([]*vector.Embedding, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("connection refused")
	}
	if s.Store == nil {
		return nil, nil
	}
	return s.Store.Search(ctx, q, topK)
}

func TestRankerDescendingOrder(t *testing.T) {
	r := NewRanker(nil, WithSimilarityFloor(0), WithMaxDocuments(10))
	hits := []Hit{
		{DocID: "a", Text: "one", Similarity: 0.3},
		{DocID: "b", Text: "two", Similarity: 0.9},
		{DocID: "c", Text: "three", Similarity: 0.6},
	}
	ranked := r.Rank(hits, dialog.Query{}, dialog.Context{})
	for i := 1; i < len(ranked.Hits); i++ {
		if ranked.Hits[i].Similarity > ranked.Hits[i-1].Similarity {
			t.Fatalf("hits not descending at %d: %v", i, ranked.Hits)
		}
	}
	if ranked.Hits[0].DocID != "b" {
		t.Errorf("expected doc b first, got %s", ranked.Hits[0].DocID)
	}
}

func TestRankerFloorAndDedupe(t *testing.T) {
	r := NewRanker(nil, WithSimilarityFloor(0.5))
	hits := []Hit{
		{DocID: "a", Similarity: 0.8},
		{DocID: "a", Similarity: 0.7}, // duplicate
		{DocID: "b", Similarity: 0.2}, // below floor
	}
	ranked := r.Rank(hits, dialog.Query{}, dialog.Context{})
	if len(ranked.Hits) != 1 {
		t.Fatalf("expected 1 hit after floor+dedupe, got %d", len(ranked.Hits))
	}
	if ranked.Hits[0].DocID != "a" {
		t.Errorf("wrong survivor: %s", ranked.Hits[0].DocID)
	}
}

func TestRankerTruncation(t *testing.T) {
	r := NewRanker(nil, WithSimilarityFloor(0), WithMaxDocuments(2))
	hits := []Hit{
		{DocID: "a", Similarity: 0.9},
		{DocID: "b", Similarity: 0.8},
		{DocID: "c", Similarity: 0.7},
	}
	ranked := r.Rank(hits, dialog.Query{}, dialog.Context{})
	if len(ranked.Hits) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(ranked.Hits))
	}
}

func TestRankerTokenBudget(t *testing.T) {
	tok := tokenizer.NewSimpleTokenizer()
	r := NewRanker(tok, WithSimilarityFloor(0), WithMaxDocuments(10), WithTokenBudget(6))
	hits := []Hit{
		{DocID: "a", Text: "three little words", Similarity: 0.9},
		{DocID: "b", Text: "three more words", Similarity: 0.8},
		{DocID: "c", Text: "never kept here", Similarity: 0.7},
	}
	ranked := r.Rank(hits, dialog.Query{}, dialog.Context{})
	if len(ranked.Hits) != 2 {
		t.Fatalf("expected token budget to keep 2 hits, got %d", len(ranked.Hits))
	}
}

func TestRankerHistoryBoost(t *testing.T) {
	r := NewRanker(nil, WithSimilarityFloor(0), WithHistoryBoost(0.2))
	history := dialog.Context{
		ConversationID: "c1",
		Turns: []dialog.Turn{
			{Query: dialog.Query{RawText: "root canal recovery"}},
		},
	}
	hits := []Hit{
		{DocID: "unrelated", Text: "teeth whitening options", Similarity: 0.60},
		{DocID: "related", Text: "root canal recovery timeline", Similarity: 0.55},
	}
	ranked := r.Rank(hits, dialog.Query{}, history)
	if ranked.Hits[0].DocID != "related" {
		t.Errorf("expected history-boosted hit first, got %s", ranked.Hits[0].DocID)
	}
}

func TestRankerEmptyIsValid(t *testing.T) {
	r := NewRanker(nil)
	ranked := r.Rank(nil, dialog.Query{}, dialog.Context{})
	if !ranked.Empty() {
		t.Fatal("expected empty ranked context")
	}
}

func TestVectorIndexRetriesThenSucceeds(t *testing.T) {
	emb := &keywordEmbedder{dim: 16}
	store := &failingStore{failures: 1}
	idx := NewVectorIndex(emb, store, nil,
		WithMaxRetries(2), WithRetryBackoff(time.Millisecond))
	_, err := idx.Search(context.Background(), "toothache", 3)
	if err != nil {
		t.Fatalf("expected success after retry, got %v", err)
	}
	if store.calls != 2 {
		t.Errorf("expected 2 store calls, got %d", store.calls)
	}
}

func TestVectorIndexReportsUnavailable(t *testing.T) {
	emb := &keywordEmbedder{dim: 16}
	store := &failingStore{failures: 100}
	idx := NewVectorIndex(emb, store, nil,
		WithMaxRetries(1), WithRetryBackoff(time.Millisecond))
	_, err := idx.Search(context.Background(), "toothache", 3)
	if !errors.Is(err, consulterrors.ErrIndexUnavailable) {
		t.Fatalf("expected ErrIndexUnavailable, got %v", err)
	}
}
