package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/switchboard/internal/auth"
	"github.com/mattjoyce/switchboard/internal/billing"
	"github.com/mattjoyce/switchboard/internal/events"
	"github.com/mattjoyce/switchboard/internal/ledger"
	"github.com/mattjoyce/switchboard/internal/routing"
	"github.com/mattjoyce/switchboard/internal/webhook"
)

// Ledger is the billing bookkeeping the API serves.
type Ledger interface {
	CreateTransaction(ctx context.Context, req billing.TransactionRequest) (*billing.TransactionResponse, error)
	GetAccount(ctx context.Context, number string) (*ledger.Account, error)
	LoadCredits(ctx context.Context, number string, credits int64) (*ledger.Account, error)
	Transactions(ctx context.Context, number string, limit int) ([]billing.Transaction, error)
}

// RoutingStore loads and saves per-account routing tables.
type RoutingStore interface {
	GetRoutingTable(ctx context.Context, accountKey string) (*routing.Table, int64, error)
	SaveRoutingTable(ctx context.Context, accountKey string, table *routing.Table, expectedRevision int64) (int64, error)
}

// Config holds API server configuration
type Config struct {
	Listen string
	// AdminToken is a bearer token with every scope.
	AdminToken string
	// Tokens is an optional list of scoped bearer tokens.
	Tokens []auth.TokenConfig
	// Webhooks serves signed provider callbacks outside bearer auth.
	Webhooks *webhook.Server
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	ledger    Ledger
	routing   RoutingStore
	events    *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. Either of ledger and routing may be
// nil, in which case its endpoints are not mounted.
func New(config Config, l Ledger, rs RoutingStore, hub *events.Hub, logger *slog.Logger) *Server {
	if hub == nil {
		hub = events.NewHub(256)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		config:    config,
		ledger:    l,
		routing:   rs,
		events:    hub,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE streams are long-lived.
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// Handler returns the configured router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)
	if s.config.Webhooks != nil {
		s.config.Webhooks.Routes(r)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		if s.ledger != nil {
			r.With(s.requireScopes(auth.ScopeBillingRW)).Post("/transactions", s.handleCreateTransaction)
			r.With(s.requireScopes(auth.ScopeBillingRO)).Get("/accounts/{number}", s.handleGetAccount)
			r.With(s.requireScopes(auth.ScopeBillingRO)).Get("/accounts/{number}/transactions", s.handleListTransactions)
			r.With(s.requireScopes(auth.ScopeBillingRW)).Post("/accounts/{number}/credits", s.handleLoadCredits)
		}
		if s.routing != nil {
			r.With(s.requireScopes(auth.ScopeRoutingRO)).Get("/routing/{account}", s.handleGetRouting)
			r.With(s.requireScopes(auth.ScopeRoutingRW)).Put("/routing/{account}", s.handlePutRouting)
		}
		r.With(s.requireScopes(auth.ScopeEventsRO)).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
