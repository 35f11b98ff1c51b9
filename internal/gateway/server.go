// Package gateway serves the tenant-scoped collection store over HTTP and
// websockets for clients that have no direct database access.
package gateway

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/devrev/pairdb/docsync/internal/config"
	syncerrors "github.com/devrev/pairdb/docsync/internal/errors"
	"github.com/devrev/pairdb/docsync/internal/health"
	"github.com/devrev/pairdb/docsync/internal/metrics"
	"github.com/devrev/pairdb/docsync/internal/middleware"
	"github.com/devrev/pairdb/docsync/internal/remote"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// Server represents the HTTP server
type Server struct {
	router       *mux.Router
	httpServer   *http.Server
	handlers     *Handlers
	healthCheck  *health.HealthCheck
	errorHandler *syncerrors.Handler
	cancel       context.CancelFunc
	logger       *zap.Logger
	cfg          *config.Config
}

// NewServer creates a gateway in front of backend and sets up its routes
func NewServer(cfg *config.Config, backend remote.Remote, healthCheck *health.HealthCheck, m *metrics.Metrics, logger *zap.Logger) *Server {
	// UseEncodedPath keeps escaped slashes inside keys in one path segment
	router := mux.NewRouter().UseEncodedPath()
	errorHandler := syncerrors.NewHandler(logger)

	// Streams outlive their request; they end when the server shuts down
	ctx, cancel := context.WithCancel(context.Background())
	handlers := NewHandlers(ctx, backend, errorHandler, m, logger, cfg.Gateway)

	s := &Server{
		router:       router,
		handlers:     handlers,
		healthCheck:  healthCheck,
		errorHandler: errorHandler,
		cancel:       cancel,
		logger:       logger,
		cfg:          cfg,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.Gateway.Host, cfg.Gateway.Port),
			Handler:      router,
			ReadTimeout:  cfg.Gateway.ReadTimeout,
			WriteTimeout: cfg.Gateway.WriteTimeout,
			IdleTimeout:  cfg.Gateway.IdleTimeout,
		},
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	middlewareChain := []func(http.Handler) http.Handler{
		middleware.Recovery(s.logger),
		middleware.RequestID,
		middleware.Logging(s.logger),
	}

	if s.cfg.RateLimiter.Enabled {
		rateLimiter := middleware.NewRateLimiter(
			s.cfg.RateLimiter.RequestsPerSecond,
			s.cfg.RateLimiter.BurstSize,
			s.logger,
		)
		middlewareChain = append(middlewareChain, rateLimiter.Limit)
	}

	chain := middleware.Chain(middlewareChain...)
	s.router.Use(func(next http.Handler) http.Handler {
		return chain(next)
	})

	// Health check endpoints
	s.router.HandleFunc("/health/live", s.healthCheck.LivenessHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/health/ready", s.healthCheck.ReadinessHandler).Methods(http.MethodGet)

	// API v1 routes
	v1 := s.router.PathPrefix("/v1").Subrouter()
	if s.cfg.Gateway.JWTSecret != "" {
		v1.Use(middleware.TenantAuth([]byte(s.cfg.Gateway.JWTSecret), func(r *http.Request) string {
			return pathVar(r, "tenant_id")
		}, s.logger))
	} else {
		s.logger.Warn("Gateway authentication is disabled")
	}

	v1.HandleFunc("/tenants/{tenant_id}/collections", s.handlers.ListCollections).Methods(http.MethodGet)

	collection := "/tenants/{tenant_id}/collections/{key}"
	v1.HandleFunc(collection, s.handlers.GetCollection).Methods(http.MethodGet)
	v1.HandleFunc(collection, s.handlers.PutCollection).Methods(http.MethodPut)
	v1.HandleFunc(collection+"/stream", s.handlers.StreamCollection).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.errorHandler.HandleError(w, r, syncerrors.NewSyncError(syncerrors.ErrCodeNotFound, "endpoint not found", nil))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		syncerrors.WriteJSON(w, http.StatusMethodNotAllowed, syncerrors.ErrorResponse{
			Status:    "error",
			ErrorCode: syncerrors.ErrCodeInvalidArgument.String(),
			Message:   "method not allowed",
			RequestID: r.Header.Get("X-Request-ID"),
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Shutdown closes open streams and gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	s.cancel()
	return s.httpServer.Shutdown(ctx)
}

// Router returns the router for testing purposes
func (s *Server) Router() *mux.Router {
	return s.router
}

// pathVar returns the unescaped route variable name
func pathVar(r *http.Request, name string) string {
	raw := mux.Vars(r)[name]
	value, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return value
}
