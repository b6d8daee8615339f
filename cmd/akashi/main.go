package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/deciolog/deciolog/api"
	"github.com/deciolog/deciolog/internal/agentctx"
	"github.com/deciolog/deciolog/internal/analyzer"
	"github.com/deciolog/deciolog/internal/auth"
	"github.com/deciolog/deciolog/internal/coderesolve"
	"github.com/deciolog/deciolog/internal/config"
	"github.com/deciolog/deciolog/internal/embedding"
	"github.com/deciolog/deciolog/internal/extractor"
	"github.com/deciolog/deciolog/internal/graph"
	"github.com/deciolog/deciolog/internal/ingest/coordinator"
	"github.com/deciolog/deciolog/internal/interview"
	"github.com/deciolog/deciolog/internal/llm"
	"github.com/deciolog/deciolog/internal/mcp"
	"github.com/deciolog/deciolog/internal/model"
	"github.com/deciolog/deciolog/internal/notify"
	"github.com/deciolog/deciolog/internal/ratelimit"
	"github.com/deciolog/deciolog/internal/resolver"
	"github.com/deciolog/deciolog/internal/retrieval"
	"github.com/deciolog/deciolog/internal/search"
	"github.com/deciolog/deciolog/internal/server"
	"github.com/deciolog/deciolog/internal/storage"
	"github.com/deciolog/deciolog/internal/telemetry"
	"github.com/deciolog/deciolog/migrations"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	level := parseLogLevel(os.Getenv("DECIOLOG_LOG_LEVEL"))
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger) error {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logger.Info("deciolog starting", "version", version, "port", cfg.Port)

	otelShutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() { _ = otelShutdown(context.Background()) }()

	// Postgres backs sessions, notifications and idempotency bookkeeping
	// only; the decision graph itself lives in Neo4j. A single DSN serves
	// both the pooled and the LISTEN/NOTIFY connection — PgBouncer fronting
	// is a deployment-time concern, not something this process decides.
	db, err := storage.New(ctx, cfg.DatabaseURL, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	defer db.Close(ctx)

	if err := db.RunMigrations(ctx, migrations.FS); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	neo4jDriver, err := neo4j.NewDriverWithContext(cfg.Neo4jURI, neo4j.BasicAuth(cfg.Neo4jUser, cfg.Neo4jPassword, ""))
	if err != nil {
		return fmt.Errorf("neo4j: %w", err)
	}
	defer func() { _ = neo4jDriver.Close(ctx) }()
	if err := neo4jDriver.VerifyConnectivity(ctx); err != nil {
		return fmt.Errorf("neo4j: verify connectivity: %w", err)
	}
	runner := resolver.NewNeo4jRunner(neo4jDriver, cfg.Neo4jDatabase)

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis: parse URL: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer func() { _ = redisClient.Close() }()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}

	// The private key path is empty, so NewJWTManager always generates an
	// ephemeral keypair here; cfg.JWTPublicKeyPath is not read by this call.
	jwtMgr, err := auth.NewJWTManager("", cfg.JWTPublicKeyPath, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	embedder := newEmbeddingProvider(cfg, logger)

	llmClient, err := llm.New(cfg.LLMProvider, cfg.LLMModel, cfg.LLMFallbackModel, cfg.LLMAPIKey)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	llmCache := llm.NewResponseCache(redisClient, logger, version, 24*time.Hour)
	extract := extractor.New(llmClient, llmCache, logger, cfg.HighConfidenceThreshold)
	codeResolver := coderesolve.New()

	resolutionCache := resolver.NewResolutionCache(redisClient, logger)
	resolverFor := graph.ResolverFactory(func(userID uuid.UUID) *resolver.Resolver {
		return resolver.New(runner, resolutionCache, embedder, userID, logger)
	})

	var vectorIndex search.Searcher
	if cfg.QdrantURL != "" {
		qdrantIndex, err := search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fmt.Errorf("qdrant: %w", err)
		}
		defer func() { _ = qdrantIndex.Close() }()
		if err := qdrantIndex.EnsureCollection(ctx); err != nil {
			return fmt.Errorf("qdrant ensure collection: %w", err)
		}
		vectorIndex = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL), relying on Neo4j's native vector index")
	}

	reranker := retrieval.NewLLMReranker(llmClient)
	retriever := retrieval.New(runner, embedder, reranker, vectorIndex, logger)

	analyticsSink := newOTELAnalyticsSink(logger)

	notifyRegistry := notify.NewRegistry(logger)
	notifySvc := notify.New(db, notifyRegistry, logger)

	// analyzerSvc needs a GraphWriter to stamp bi-temporal SUPERSEDES edges,
	// and graph.Writer's CrossUserScanner (implemented by analyzerSvc) needs
	// the Writer it is installed into — build the Writer without cross-user
	// scanning first, construct the Analyzer around it, then rebuild the
	// Writer with the Analyzer wired in to close the cycle.
	graphWriter := graph.New(runner, resolverFor, extract, codeResolver, embedder, nil, analyticsSink,
		cfg.SimilarityThreshold, cfg.HighConfidenceSimilarityThreshold, logger)
	graphReader := graph.NewReader(runner)

	analyzerSvc := analyzer.New(runner, llmClient, graphWriter, notifySvc, logger)

	graphWriter = graph.New(runner, resolverFor, extract, codeResolver, embedder, analyzerSvc, analyticsSink,
		cfg.SimilarityThreshold, cfg.HighConfidenceSimilarityThreshold, logger)

	agentCache := agentctx.NewCache(redisClient, logger)
	agentSvc := agentctx.New(runner, embedder, retriever, graphWriter, analyzerSvc, agentCache, logger)

	interviewSvc := interview.New(llmClient, extract, false, logger)

	ingestCoordinator := coordinator.New(redisClient, cfg.LogsRoot, extract, graphWriter, agentSvc, db, logger)

	mcpSrv := mcp.New(agentSvc, logger, version)

	limiter := ratelimit.New(redisClient, logger, false)

	srv := server.New(server.Config{
		DB:          db,
		JWTMgr:      jwtMgr,
		GraphWriter: graphWriter,
		GraphReader: graphReader,
		ResolverFor: resolverFor,
		Retriever:   retriever,
		AgentCtx:    agentSvc,
		Analyzer:    analyzerSvc,
		Logger:      logger,

		Interview:      interviewSvc,
		Coordinator:    ingestCoordinator,
		IngestLogsRoot: cfg.LogsRoot,
		Notify:         notifySvc,
		NotifyRegistry: notifyRegistry,
		MCP:            mcpSrv,
		RateLimiter:    limiter,

		Port:                     cfg.Port,
		ReadTimeout:              cfg.ReadTimeout,
		WriteTimeout:             cfg.WriteTimeout,
		Version:                  version,
		MaxRequestBodyBytes:      cfg.MaxRequestBodyBytes,
		CORSAllowedOrigins:       cfg.CORSAllowedOrigins,
		TrustProxy:               cfg.TrustProxy,
		IdempotencyInProgressTTL: cfg.IdempotencyInProgressTTL,
		EnableDestructiveDelete:  cfg.EnableDestructiveDelete,
		RateLimitAuthPerMinute:   cfg.RateLimitAuthenticatedPerMinute,
		WSMessagesPerMinute:      cfg.WSMessagesPerMinute,
		WSMaxMessageBytes:        cfg.WSMaxMessageBytes,
		WSHistoryCap:             cfg.WSHistoryCap,

		OpenAPISpec: api.OpenAPISpec,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("deciolog shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("deciolog stopped")
	return nil
}

func parseLogLevel(raw string) slog.Level {
	switch raw {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// newEmbeddingProvider selects an embedding backend: "ollama", "openai",
// "noop", or "auto" (default). Auto mode prefers Ollama when reachable
// (on-premises, no external API cost), falls back to OpenAI if a key is
// configured, and otherwise disables semantic search entirely.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) resolver.Embedder {
	switch cfg.EmbeddingProvider {
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			logger.Error("DECIOLOG_OPENAI_API_KEY required when DECIOLOG_EMBEDDING_PROVIDER=openai")
			return embedding.NewNoopProvider()
		}
		p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
		if err != nil {
			logger.Error("openai embedding provider init failed", "error", err)
			return embedding.NewNoopProvider()
		}
		logger.Info("embedding provider: openai", "model", cfg.EmbeddingModel, "dimensions", cfg.EmbeddingDimensions)
		return p

	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaEmbeddingModel)
		return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbeddingModel)

	case "noop":
		logger.Info("embedding provider: noop (semantic search disabled)")
		return embedding.NewNoopProvider()

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaEmbeddingModel)
			return embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaEmbeddingModel)
		}
		if cfg.OpenAIAPIKey != "" {
			p, err := embedding.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.EmbeddingModel, cfg.EmbeddingDimensions)
			if err == nil {
				logger.Info("embedding provider: openai (auto-detected)", "model", cfg.EmbeddingModel)
				return p
			}
			logger.Error("openai embedding provider init failed", "error", err)
		}
		logger.Info("embedding provider: noop (no Ollama reachable, no OpenAI key)")
		return embedding.NewNoopProvider()
	}
}

// ollamaReachable probes baseURL with a short-lived TCP dial rather than a
// full HTTP round trip: a closed port fails fast instead of waiting out an
// HTTP timeout, matching the teacher's auto-detect heuristic.
func ollamaReachable(baseURL string) bool {
	hostport := trimToHostPort(baseURL)
	conn, err := net.DialTimeout("tcp", hostport, 500*time.Millisecond)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func trimToHostPort(url string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if len(url) > len(prefix) && url[:len(prefix)] == prefix {
			url = url[len(prefix):]
			break
		}
	}
	for i := 0; i < len(url); i++ {
		if url[i] == '/' {
			url = url[:i]
			break
		}
	}
	if _, _, err := net.SplitHostPort(url); err != nil {
		url += ":11434"
	}
	return url
}

// otelAnalyticsSink implements graph.AnalyticsSink by incrementing an OTEL
// counter, the same telemetry.Meter pattern internal/server/middleware.go
// uses for http.server.request_count. A nil sink would silently disable the
// "decision saved" event spec.md §4.4 step 10 describes.
type otelAnalyticsSink struct {
	counter otelmetric.Int64Counter
}

func newOTELAnalyticsSink(logger *slog.Logger) *otelAnalyticsSink {
	meter := telemetry.Meter("deciolog")
	counter, err := meter.Int64Counter("deciolog.decisions.saved")
	if err != nil {
		logger.Warn("analytics sink: failed to create decisions-saved counter", "error", err)
	}
	return &otelAnalyticsSink{counter: counter}
}

func (s *otelAnalyticsSink) DecisionSaved(ctx context.Context, saved model.DecisionTrace) {
	if s.counter == nil {
		return
	}
	s.counter.Add(ctx, 1)
}
