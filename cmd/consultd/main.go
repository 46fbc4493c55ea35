// Command consultd serves the dental consultation pipeline over HTTP.
//
// Configuration is environment-driven. The minimum for a real deployment is
// OPENAI_API_KEY (or CONSULT_PROVIDER=claude/gemini with the matching key)
// and CONSULT_CORPUS_DIR pointing at the knowledge corpus.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/edmondsbay/consult/config"
	openaiembedder "github.com/edmondsbay/consult/contrib/embedder/openai"
	claudeprovider "github.com/edmondsbay/consult/contrib/inference/claude"
	geminiprovider "github.com/edmondsbay/consult/contrib/inference/gemini"
	openaiprovider "github.com/edmondsbay/consult/contrib/inference/openai"
	"github.com/edmondsbay/consult/contrib/tokenizer/tiktoken"
	inmemvector "github.com/edmondsbay/consult/contrib/vector/inmemory"
	pgvector "github.com/edmondsbay/consult/contrib/vector/pg"
	"github.com/edmondsbay/consult/formatter"
	"github.com/edmondsbay/consult/generator"
	"github.com/edmondsbay/consult/inference"
	"github.com/edmondsbay/consult/intent"
	"github.com/edmondsbay/consult/knowledge"
	"github.com/edmondsbay/consult/memory"
	memorystore "github.com/edmondsbay/consult/memory/store"
	"github.com/edmondsbay/consult/monitoring"
	"github.com/edmondsbay/consult/pipeline"
	"github.com/edmondsbay/consult/pkg/logging"
	"github.com/edmondsbay/consult/pkg/telemetry"
	"github.com/edmondsbay/consult/quality"
	"github.com/edmondsbay/consult/retrieval"
	"github.com/edmondsbay/consult/server"
	"github.com/edmondsbay/consult/specialist"
	"github.com/edmondsbay/consult/tokenizer"
	"github.com/edmondsbay/consult/vector"
)

func main() {
	if err := run(); err != nil {
		logging.Logger().Error("consultd failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	logger := logging.Logger()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: "consult",
		Environment: config.GetEnv("CONSULT_ENV", "development"),
		Disable:     config.GetEnvBool("CONSULT_TRACING_DISABLE", false),
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	client, err := newInferenceClient(ctx)
	if err != nil {
		return err
	}

	store, err := newVectorStore()
	if err != nil {
		return err
	}
	embedder := openaiembedder.New(
		config.GetEnv("OPENAI_API_KEY", ""),
		config.GetEnv("OPENAI_BASE_URL", ""),
		openaisdk.EmbeddingModel(config.GetEnv("CONSULT_EMBEDDING_MODEL", string(openaisdk.EmbeddingModelTextEmbedding3Small))),
		config.GetEnvInt("CONSULT_EMBEDDING_DIM", 1536),
	)
	index := retrieval.NewVectorIndex(embedder, store, knowledge.NewSimpleChunker())

	if dir := config.GetEnv("CONSULT_CORPUS_DIR", ""); dir != "" {
		docs, err := knowledge.LoadDirectory(dir)
		if err != nil {
			return fmt.Errorf("load corpus: %w", err)
		}
		chunks, err := index.IndexCorpus(ctx, docs)
		if err != nil {
			return fmt.Errorf("index corpus: %w", err)
		}
		logger.Info("corpus indexed", "documents", len(docs), "chunks", chunks)
	} else {
		logger.Warn("no CONSULT_CORPUS_DIR configured, retrieval starts empty")
	}

	historyStore, err := newHistoryStore(ctx)
	if err != nil {
		return err
	}
	mem := memory.NewManager(historyStore,
		memory.WithWindowSize(config.GetEnvInt("CONSULT_HISTORY_WINDOW", 10)))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	buffered := monitoring.NewBuffered(monitoring.NewLogCollector(nil), 512)
	defer buffered.Close()
	collector := monitoring.NewFanout(
		buffered,
		monitoring.NewPrometheusCollector(registry),
	)

	orchestrator, err := pipeline.New(
		mem,
		intent.NewClassifier(),
		index,
		retrieval.NewRanker(newTokenizer(logger)),
		specialist.DefaultRegistry(client),
		generator.NewPassThrough(),
		newChecker(client),
		formatter.New(formatter.WithClinicName(config.GetEnv("CONSULT_CLINIC_NAME", "Edmonds Bay Dental"))),
		collector,
		pipeline.WithMaxAttempts(config.GetEnvInt("CONSULT_MAX_ATTEMPTS", 3)),
		pipeline.WithTopK(config.GetEnvInt("CONSULT_TOP_K", 5)),
		pipeline.WithMaxConcurrent(config.GetEnvInt("CONSULT_MAX_CONCURRENT", 32)),
	)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Addr = config.GetEnv("CONSULT_ADDR", ":8080")
	srvCfg.RequestsPerMinute = config.GetEnvInt("CONSULT_RATE_LIMIT", 60)
	srv := server.New(srvCfg, orchestrator, mem, registry)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		logger.Info("shutting down")
		return srv.Shutdown(context.Background())
	}
}

// newInferenceClient picks the provider from CONSULT_PROVIDER.
func newInferenceClient(ctx context.Context) (inference.Client, error) {
	switch provider := config.GetEnv("CONSULT_PROVIDER", "openai"); provider {
	case "openai":
		cfg := openaiprovider.DefaultConfig()
		cfg.APIKey = config.GetEnv("OPENAI_API_KEY", "")
		cfg.BaseURL = config.GetEnv("OPENAI_BASE_URL", "")
		cfg.Model = config.GetEnv("CONSULT_MODEL", cfg.Model)
		return openaiprovider.New(cfg), nil
	case "claude":
		cfg := claudeprovider.DefaultConfig(config.GetEnv("ANTHROPIC_API_KEY", ""))
		cfg.Model = config.GetEnv("CONSULT_MODEL", cfg.Model)
		return claudeprovider.New(cfg), nil
	case "gemini":
		cfg := geminiprovider.DefaultConfig(config.GetEnv("GEMINI_API_KEY", ""))
		cfg.Model = config.GetEnv("CONSULT_MODEL", cfg.Model)
		return geminiprovider.New(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown CONSULT_PROVIDER %q", provider)
	}
}

// newVectorStore picks the index backend from CONSULT_VECTOR_STORE.
func newVectorStore() (vector.Store, error) {
	switch backend := config.GetEnv("CONSULT_VECTOR_STORE", "inmemory"); backend {
	case "inmemory":
		return inmemvector.New(), nil
	case "pg":
		return pgvector.New(pgvector.ConfigFromEnv())
	default:
		return nil, fmt.Errorf("unknown CONSULT_VECTOR_STORE %q", backend)
	}
}

// newHistoryStore picks the memory backend from CONSULT_MEMORY_STORE.
func newHistoryStore(ctx context.Context) (memory.Store, error) {
	switch backend := config.GetEnv("CONSULT_MEMORY_STORE", "inmemory"); backend {
	case "inmemory":
		return memory.NewInMemoryStore(), nil
	case "redis":
		cfg := memorystore.DefaultRedisConfig()
		cfg.Addr = config.GetEnv("REDIS_ADDR", cfg.Addr)
		cfg.Password = config.GetEnv("REDIS_PASSWORD", "")
		cfg.DB = config.GetEnvInt("REDIS_DB", 0)
		return memorystore.NewRedisStore(cfg), nil
	case "postgres":
		return memorystore.NewPostgresStore(nil)
	case "mongo":
		cfg := memorystore.DefaultMongoConfig()
		cfg.URI = config.GetEnv("MONGO_URI", cfg.URI)
		return memorystore.NewMongoStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown CONSULT_MEMORY_STORE %q", backend)
	}
}

// newChecker uses LLM scoring when configured, rubric otherwise.
func newChecker(client inference.Client) quality.Checker {
	threshold := config.GetEnvFloat("CONSULT_QUALITY_THRESHOLD", 0.6)
	if config.GetEnvBool("CONSULT_LLM_CHECKER", false) {
		return quality.NewLLMChecker(client, quality.WithThreshold(threshold))
	}
	return quality.NewRubricChecker(quality.WithThreshold(threshold))
}

// newTokenizer prefers tiktoken counts, falling back to the word splitter
// when encoding data is unavailable.
func newTokenizer(logger *slog.Logger) tokenizer.Tokenizer {
	tok, err := tiktoken.New(config.GetEnv("CONSULT_TOKENIZER", "gpt-4o"))
	if err != nil {
		logger.Warn("tiktoken unavailable, using simple tokenizer", "error", err)
		return tokenizer.NewSimpleTokenizer()
	}
	return tok
}
