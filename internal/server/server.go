package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/deciolog/deciolog/internal/agentctx"
	"github.com/deciolog/deciolog/internal/analyzer"
	"github.com/deciolog/deciolog/internal/auth"
	"github.com/deciolog/deciolog/internal/graph"
	"github.com/deciolog/deciolog/internal/ingest/coordinator"
	"github.com/deciolog/deciolog/internal/interview"
	"github.com/deciolog/deciolog/internal/mcp"
	"github.com/deciolog/deciolog/internal/notify"
	"github.com/deciolog/deciolog/internal/ratelimit"
	"github.com/deciolog/deciolog/internal/retrieval"
	"github.com/deciolog/deciolog/internal/storage"
)

// Server wraps the standard library HTTP server with Deciolog's full
// middleware chain and route table.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Config collects everything New needs to build a Server. DB, JWTMgr,
// GraphWriter, GraphReader, Retriever, AgentCtx, Analyzer, and Logger are
// required; everything else is optional and degrades gracefully when nil
// (mirroring the teacher's ServerConfig: Broker/Searcher/RateLimiter are
// all optional there too).
type Config struct {
	DB          *storage.DB
	JWTMgr      *auth.JWTManager
	GraphWriter *graph.Writer
	GraphReader *graph.Reader
	ResolverFor graph.ResolverFactory
	Retriever   *retrieval.Retriever
	AgentCtx    *agentctx.Service
	Analyzer    *analyzer.Analyzer
	Logger      *slog.Logger

	Interview      *interview.Service
	Coordinator    *coordinator.Coordinator
	IngestLogsRoot string
	Notify         *notify.Service
	NotifyRegistry *notify.Registry
	MCP            *mcp.Server
	RateLimiter    *ratelimit.Limiter

	Port                     int
	ReadTimeout              time.Duration
	WriteTimeout             time.Duration
	Version                  string
	MaxRequestBodyBytes      int64
	CORSAllowedOrigins       []string
	TrustProxy               bool
	IdempotencyInProgressTTL time.Duration
	EnableDestructiveDelete  bool
	RateLimitAuthPerMinute   int
	WSMessagesPerMinute      int
	WSMaxMessageBytes        int64
	WSHistoryCap             int

	// UIFS serves the built single-page app, if embedded; nil disables it
	// and every non-API path 404s.
	UIFS fs.FS
	// OpenAPISpec is served verbatim at GET /openapi.yaml, if set.
	OpenAPISpec []byte
}

// New builds a Server: constructs Handlers, registers every route in
// spec.md §6's external interface list on an http.ServeMux using Go 1.22's
// method-pattern syntax, then layers middleware outermost-to-innermost as
// requestID -> security headers -> CORS -> tracing -> logging -> recovery
// -> auth -> rate limit -> mux, mirroring the teacher's server.go ordering.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handlers{
		db:                       cfg.DB,
		jwtMgr:                   cfg.JWTMgr,
		graphWriter:              cfg.GraphWriter,
		graphReader:              cfg.GraphReader,
		resolverFor:              cfg.ResolverFor,
		retriever:                cfg.Retriever,
		agentCtx:                 cfg.AgentCtx,
		analyzer:                 cfg.Analyzer,
		interview:                cfg.Interview,
		coordinator:              cfg.Coordinator,
		watcher:                  newWatcherOrNil(cfg.Coordinator, logger),
		ingestLogsRoot:           cfg.IngestLogsRoot,
		notify:                   cfg.Notify,
		notifyRegistry:           cfg.NotifyRegistry,
		logger:                   logger,
		startedAt:                time.Now(),
		version:                  cfg.Version,
		maxRequestBodyBytes:      cfg.MaxRequestBodyBytes,
		idempotencyInProgressTTL: cfg.IdempotencyInProgressTTL,
		enableDestructiveDelete:  cfg.EnableDestructiveDelete,
		wsMessagesPerMinute:      cfg.WSMessagesPerMinute,
		wsMaxMessageBytes:        cfg.WSMaxMessageBytes,
		wsHistoryCap:             cfg.WSHistoryCap,
		openAPISpec:              cfg.OpenAPISpec,
	}

	mux := http.NewServeMux()
	h.registerDecisionRoutes(mux)
	h.registerEntityRoutes(mux)
	h.registerGraphRoutes(mux)
	h.registerIngestRoutes(mux)
	h.registerSessionRoutes(mux)
	h.registerAnalyticsRoutes(mux)
	h.registerAgentRoutes(mux)
	h.registerNotificationRoutes(mux)

	mux.HandleFunc("GET /config", h.handleConfig)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /openapi.yaml", h.handleOpenAPISpec)

	if cfg.MCP != nil {
		streamable := mcpserver.NewStreamableHTTPServer(cfg.MCP.MCPServer())
		mux.Handle("/mcp", streamable)
	}

	var rootHandler http.Handler = mux
	if cfg.UIFS != nil {
		rootHandler = withAPIFallback(mux, newSPAHandler(cfg.UIFS))
	}

	var rateLimitKeyFunc ratelimit.KeyFunc
	if cfg.TrustProxy {
		rateLimitKeyFunc = userOrForwardedForKeyFunc
	} else {
		rateLimitKeyFunc = userOrIPKeyFunc
	}
	rateLimitRule := ratelimit.Rule{Prefix: "http", Limit: cfg.RateLimitAuthPerMinute, Window: time.Minute}
	if rateLimitRule.Limit <= 0 {
		rateLimitRule.Limit = 60
	}

	chain := requestIDMiddleware(
		securityHeadersMiddleware(
			corsMiddleware(cfg.CORSAllowedOrigins,
				tracingMiddleware(
					loggingMiddlewareWrap(logger,
						recoveryMiddleware(logger,
							authMiddleware(cfg.JWTMgr,
								ratelimit.MiddlewareWithRequestID(cfg.RateLimiter, rateLimitRule, rateLimitKeyFunc, RequestIDFromContext)(
									rootHandler,
								),
							),
						),
					),
				),
			),
		),
	)

	s := &Server{
		handler:  chain,
		handlers: h,
		logger:   logger,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			Handler:      chain,
		},
	}
	return s
}

// loggingMiddlewareWrap adapts loggingMiddleware's signature to the plain
// func(http.Handler) http.Handler shape used in the chain above.
func loggingMiddlewareWrap(logger *slog.Logger, next http.Handler) http.Handler {
	return loggingMiddleware(logger, next)
}

// newWatcherOrNil returns a coordinator.Watcher ready to be started by
// POST /ingest/watch/start, or nil when no Coordinator is configured.
func newWatcherOrNil(c *coordinator.Coordinator, logger *slog.Logger) *coordinator.Watcher {
	if c == nil {
		return nil
	}
	return coordinator.NewWatcher(c, logger)
}

// withAPIFallback serves api on every request; requests api declines to
// handle (its ServeMux finds no matching pattern) fall through to spa. The
// standard mux has no native "not found -> fallback" hook, so this uses the
// mux's own pattern-match introspection instead of re-implementing routing:
// api.Handler(r) reports whether a registered pattern matched before
// ServeHTTP runs.
func withAPIFallback(api *http.ServeMux, spa http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, pattern := api.Handler(r); pattern != "" {
			api.ServeHTTP(w, r)
			return
		}
		spa.ServeHTTP(w, r)
	})
}

// userOrIPKeyFunc rate-limits by authenticated user id when present,
// falling back to the client IP for unauthenticated requests.
func userOrIPKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return "user:" + claims.UserID.String()
	}
	return "anon:" + ratelimit.IPKeyFunc(r)
}

// userOrForwardedForKeyFunc is userOrIPKeyFunc's TrustProxy variant: behind
// a trusted reverse proxy, X-Forwarded-For carries the real client IP.
func userOrForwardedForKeyFunc(r *http.Request) string {
	if claims := ClaimsFromContext(r.Context()); claims != nil {
		return "user:" + claims.UserID.String()
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return "anon:" + xff
	}
	return "anon:" + ratelimit.IPKeyFunc(r)
}

// Handler returns the fully wrapped HTTP handler (routes + middleware).
func (s *Server) Handler() http.Handler { return s.handler }

// Handlers returns the underlying Handlers, mainly for tests.
func (s *Server) Handlers() *Handlers { return s.handlers }

// Start begins serving and blocks until Shutdown or a fatal listener error.
func (s *Server) Start() error {
	s.logger.Info("server starting", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server, waiting for in-flight requests to
// finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server shutting down")
	return s.httpServer.Shutdown(ctx)
}
