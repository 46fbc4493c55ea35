package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	consulterrors "github.com/edmondsbay/consult/errors"
	"github.com/edmondsbay/consult/knowledge"
	"github.com/edmondsbay/consult/pkg/logging"
	"github.com/edmondsbay/consult/vector"
)

// IndexConfig configures the vector-backed index.
type IndexConfig struct {
	// MaxRetries bounds retries against an unavailable store.
	MaxRetries int
	// RetryBackoff is the initial backoff, doubled per retry.
	RetryBackoff time.Duration
	Logger       *slog.Logger
}

// DefaultIndexConfig returns the standard retry policy.
func DefaultIndexConfig() *IndexConfig {
	return &IndexConfig{
		MaxRetries:   2,
		RetryBackoff: 200 * time.Millisecond,
	}
}

// VectorIndex implements Index over an embedder and a vector store.
type VectorIndex struct {
	embedder vector.Embedder
	store    vector.Store
	chunker  knowledge.Chunker
	cfg      *IndexConfig
	logger   *slog.Logger
}

// IndexOption customizes a VectorIndex.
type IndexOption func(*IndexConfig)

// WithMaxRetries overrides the retry budget for store calls.
func WithMaxRetries(n int) IndexOption {
	return func(c *IndexConfig) {
		if n >= 0 {
			c.MaxRetries = n
		}
	}
}

// WithRetryBackoff overrides the initial retry backoff.
func WithRetryBackoff(d time.Duration) IndexOption {
	return func(c *IndexConfig) {
		if d > 0 {
			c.RetryBackoff = d
		}
	}
}

// WithIndexLogger sets the logger.
func WithIndexLogger(l *slog.Logger) IndexOption {
	return func(c *IndexConfig) { c.Logger = l }
}

// NewVectorIndex builds an index over the given embedder and store.
func NewVectorIndex(embedder vector.Embedder, store vector.Store, chunker knowledge.Chunker, opts ...IndexOption) *VectorIndex {
	cfg := DefaultIndexConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.WithComponent("retrieval")
	}
	if chunker == nil {
		chunker = knowledge.NewSimpleChunker()
	}
	return &VectorIndex{
		embedder: embedder,
		store:    store,
		chunker:  chunker,
		cfg:      cfg,
		logger:   logger,
	}
}

// IndexDocument chunks, embeds, and stores one document.
func (vi *VectorIndex) IndexDocument(ctx context.Context, doc knowledge.Document) (int, error) {
	chunks, err := vi.chunker.Chunk(ctx, doc)
	if err != nil {
		return 0, fmt.Errorf("chunk document %s: %w", doc.ID, err)
	}
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := vi.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("embed document %s: %w", doc.ID, err)
	}
	if len(vectors) != len(chunks) {
		return 0, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}
	for i, c := range chunks {
		emb := &vector.Embedding{
			ID:     c.ID,
			Vector: vectors[i],
			Text:   c.Content,
		}
		if err := vi.store.AddEmbedding(ctx, emb); err != nil {
			return i, fmt.Errorf("store chunk %s: %w", c.ID, err)
		}
	}
	vi.logger.Debug("document indexed", "doc_id", doc.ID, "chunks", len(chunks))
	return len(chunks), nil
}

// IndexCorpus indexes every document, logging and skipping failures.
func (vi *VectorIndex) IndexCorpus(ctx context.Context, docs []*knowledge.Document) (int, error) {
	total := 0
	for _, doc := range docs {
		if doc == nil {
			continue
		}
		n, err := vi.IndexDocument(ctx, *doc)
		if err != nil {
			vi.logger.Warn("skipping document", "doc_id", doc.ID, "error", err)
			continue
		}
		total += n
	}
	return total, nil
}

// Search embeds the query text and returns raw similarity hits. Store
// failures are retried with backoff; after the retry budget the search
// reports ErrIndexUnavailable so the caller can degrade to empty context.
func (vi *VectorIndex) Search(ctx context.Context, text string, topK int) ([]Hit, error) {
	if topK <= 0 {
		return nil, nil
	}
	qvec, err := vi.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var results []*vector.Embedding
	backoff := vi.cfg.RetryBackoff
	for attempt := 0; ; attempt++ {
		results, err = vi.store.Search(ctx, qvec, topK)
		if err == nil {
			break
		}
		if attempt >= vi.cfg.MaxRetries {
			vi.logger.Error("index unavailable after retries", "attempts", attempt+1, "error", err)
			return nil, fmt.Errorf("%w: %v", consulterrors.ErrIndexUnavailable, err)
		}
		vi.logger.Warn("index search failed, retrying", "attempt", attempt+1, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		if r == nil {
			continue
		}
		hits = append(hits, Hit{
			DocID:      r.ID,
			Text:       r.Text,
			Similarity: float64(vector.CosineSimilarity(qvec, r.Vector)),
		})
	}
	return hits, nil
}

var _ Index = (*VectorIndex)(nil)
