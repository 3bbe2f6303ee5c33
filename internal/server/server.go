// Package server provides the HTTP API for document intake and the admin review surface.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/jonathan/onboarding-verifier/internal/intake"
	"github.com/jonathan/onboarding-verifier/internal/server/middleware"
	"github.com/jonathan/onboarding-verifier/internal/server/ratelimit"
	"github.com/jonathan/onboarding-verifier/internal/types"
	"go.uber.org/zap"
)

// DocumentSubmitter accepts uploads.
type DocumentSubmitter interface {
	Submit(ctx context.Context, u intake.Upload) (*types.Document, error)
}

// DocumentReader loads documents. GetDocument returns nil when the document does not exist.
type DocumentReader interface {
	GetDocument(ctx context.Context, id uuid.UUID) (*types.Document, error)
	ListDocumentsByOwner(ctx context.Context, ownerID uuid.UUID, limit int) ([]types.Document, error)
}

// ReviewService is the admin override surface.
type ReviewService interface {
	Override(ctx context.Context, documentID uuid.UUID, status types.Status, note string, reviewerID uuid.UUID) (*types.Document, error)
	ListPending(ctx context.Context, limit int) ([]types.Document, error)
}

// Config holds server configuration
type Config struct {
	Port            int
	MaxUploadSize   int64
	ShutdownTimeout time.Duration
}

// Deps are the services the handlers call.
type Deps struct {
	Intake    DocumentSubmitter
	Documents DocumentReader
	Reviews   ReviewService
	Tokens    middleware.TokenValidator
	Limiter   *ratelimit.Limiter              // nil disables rate limiting
	Health    func(ctx context.Context) error // optional dependency check for /health
	Logger    *zap.Logger
}

// Server represents the HTTP server
type Server struct {
	cfg        Config
	deps       Deps
	logger     *zap.Logger
	validator  *validator.Validate
	httpServer *http.Server
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	if deps.Intake == nil || deps.Documents == nil || deps.Reviews == nil || deps.Tokens == nil {
		return nil, fmt.Errorf("server requires intake, documents, reviews and a token validator")
	}
	if cfg.MaxUploadSize <= 0 {
		return nil, fmt.Errorf("max upload size must be positive")
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 15 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With(zap.String("system", "http")),
		validator: validator.New(),
	}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       2 * time.Minute, // uploads
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	auth := middleware.AuthMiddleware(s.deps.Tokens)
	admin := func(h http.HandlerFunc) http.Handler { return auth(middleware.RequireAdmin(h)) }

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.Handle("POST /documents", auth(http.HandlerFunc(s.handleSubmitDocument)))
	mux.Handle("GET /documents", auth(http.HandlerFunc(s.handleListDocuments)))
	mux.Handle("GET /documents/{id}", auth(http.HandlerFunc(s.handleGetDocument)))

	mux.Handle("GET /reviews", admin(s.handleListReviews))
	mux.Handle("POST /reviews/{id}/override", admin(s.handleOverride))

	return s.withLogging(s.withRateLimit(mux))
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if s.deps.Limiter != nil {
		s.deps.Limiter.Stop()
	}
	s.logger.Info("server stopped")
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

// withRateLimit throttles by client IP.
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.deps.Limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.deps.Limiter.Allow(clientID(r), r.URL.Path, r.Method)
		if info.Limit > 0 {
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
		}
		if !allowed {
			retryAfter := int(info.RetryAfter.Round(time.Second).Seconds())
			if retryAfter > 0 {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			}
			s.logger.Warn("rate limit exceeded", zap.String("client", clientID(r)), zap.String("path", r.URL.Path))
			s.jsonResponse(w, http.StatusTooManyRequests, map[string]any{
				"error":       "rate_limit_exceeded",
				"retry_after": retryAfter,
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// clientID uses the IP from RemoteAddr; forwarded headers are not trusted.
func clientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.deps.Health(ctx); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			s.jsonResponse(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("failed to encode response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// fail maps err onto a status; server errors are logged and hidden from the client.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.errorResponse(w, status, "internal error")
		return
	}
	s.errorResponse(w, status, err.Error())
}
