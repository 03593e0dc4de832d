package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/ibam-learn/enrollgw/internal/catalog"
	"github.com/ibam-learn/enrollgw/internal/eventlog"
)

// StatusSource serves the diagnostic snapshot for GET requests.
type StatusSource interface {
	Recent(n int) []eventlog.Event
	Total(ctx context.Context) (int, error)
}

// Server represents the webhook HTTP server.
type Server struct {
	config    Config
	pipeline  *Pipeline
	status    StatusSource
	catalog   *catalog.Catalog
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new webhook server instance.
func New(config Config, pipeline *Pipeline, status StatusSource, cat *catalog.Catalog, logger *slog.Logger) *Server {
	if config.MaxBodySize == 0 {
		config.MaxBodySize = DefaultMaxBodySize
	}
	return &Server{
		config:    config,
		pipeline:  pipeline,
		status:    status,
		catalog:   cat,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the webhook HTTP server (blocking).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("webhook server starting", "listen", s.config.Listen)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for context cancellation or server error
	select {
	case <-ctx.Done():
		s.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("webhook server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("webhook server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Post("/webhooks/systemio", s.handleWebhook)
	r.Get("/webhooks/systemio", s.handleStatus)
	r.Get("/healthz", s.handleHealthz)

	return r
}

// loggingMiddleware logs HTTP requests (excludes sensitive payloads).
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		// Log request (no body content for security)
		s.logger.Info("webhook request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// handleWebhook handles incoming webhook POST requests. Only pre-parse
// rejections use non-200 codes; once the body parses, the sender always
// gets 200 so business failures cannot trigger duplicate-delivery storms.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// Enforce body size limit
	limitedReader := io.LimitReader(r.Body, s.config.MaxBodySize+1)
	body, err := io.ReadAll(limitedReader)
	if err != nil {
		s.respondError(w, http.StatusInternalServerError, "failed to read request body")
		return
	}
	if int64(len(body)) > s.config.MaxBodySize {
		s.respondError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	outcome := s.pipeline.Process(ctx, Request{
		Body:      body,
		Signature: firstSignatureHeader(r),
		EventType: r.Header.Get(eventTypeHeader),
		ClientKey: ClientKey(r),
	})

	switch outcome.Kind {
	case OutcomeRateLimited:
		s.respondError(w, http.StatusTooManyRequests, "rate limit exceeded")
	case OutcomeMissingSecret:
		s.respondError(w, http.StatusInternalServerError, "webhook secret not configured")
	case OutcomeBadSignature:
		s.respondError(w, http.StatusUnauthorized, "invalid signature")
	case OutcomeProcessed:
		s.respondJSON(w, http.StatusOK, outcome.Response)
	}
}

// handleStatus returns a diagnostic snapshot: totals, the last few
// decisions (newest first) and the configured trigger tags. The limit
// query parameter widens the tail up to the ring size; default is 3.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	total, err := s.status.Total(r.Context())
	if err != nil {
		s.logger.Error("failed to count webhook events", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}

	limit := 3
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= eventlog.RingSize {
			limit = n
		}
	}

	s.respondJSON(w, http.StatusOK, StatusResponse{
		Status:         "ready",
		TotalProcessed: total,
		RecentEvents:   s.status.Recent(limit),
		MembershipTags: s.catalog.MembershipTags(),
		CourseTags:     s.catalog.CourseTags(),
	})
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	total, err := s.status.Total(r.Context())
	if err != nil {
		s.logger.Error("failed to count webhook events", "error", err)
		s.respondError(w, http.StatusInternalServerError, "failed to read event log")
		return
	}

	s.respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		EventsLogged:  total,
	})
}

func firstSignatureHeader(r *http.Request) string {
	for _, h := range signatureHeaders {
		if v := r.Header.Get(h); v != "" {
			return v
		}
	}
	return ""
}

// respondJSON sends a JSON response.
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends a JSON error response.
func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, ErrorResponse{Error: message})
}
