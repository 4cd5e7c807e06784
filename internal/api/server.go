package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/ycrawler/internal/crawler"
	"github.com/JakeFAU/ycrawler/internal/frontier"
	"github.com/JakeFAU/ycrawler/internal/metrics"
)

const (
	requestTimeout = 10 * time.Second
	checkTimeout   = 2 * time.Second
)

// EngineStatus reports the scheduler phase and completed passes.
type EngineStatus interface {
	State() crawler.State
	Passes() int64
}

// FrontierStats reports the size of every frontier collection.
type FrontierStats interface {
	Stats() frontier.Stats
}

// LimiterStats reports fetch slot usage.
type LimiterStats interface {
	Size() int
	Active() int
	Peak() int
}

// ReadyCheck probes a downstream dependency. A non-nil error marks the
// service unready.
type ReadyCheck func(ctx context.Context) error

// Option customizes a Server.
type Option func(*Server)

// WithLimiter adds fetch slot usage to the status payload.
func WithLimiter(l LimiterStats) Option {
	return func(s *Server) { s.limiter = l }
}

// WithReadyCheck registers a named dependency probe for /readyz.
func WithReadyCheck(name string, check ReadyCheck) Option {
	return func(s *Server) {
		if check != nil {
			s.checks[name] = check
		}
	}
}

// Server wires HTTP handlers to the running engine.
type Server struct {
	router   chi.Router
	engine   EngineStatus
	frontier FrontierStats
	limiter  LimiterStats
	checks   map[string]ReadyCheck
	logger   *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(engine EngineStatus, stats FrontierStats, logger *zap.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		engine:   engine,
		frontier: stats,
		checks:   make(map[string]ReadyCheck),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(metrics.Middleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(requestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/status", s.status)
		r.Get("/frontier", s.frontierStats)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type statusResponse struct {
	State    string          `json:"state"`
	Passes   int64           `json:"passes"`
	Frontier frontier.Stats  `json:"frontier"`
	Limiter  *limiterPayload `json:"limiter,omitempty"`
}

type limiterPayload struct {
	Size   int `json:"size"`
	Active int `json:"active"`
	Peak   int `json:"peak"`
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.engine.State() == crawler.StateStopped {
		writeError(w, http.StatusServiceUnavailable, "crawler stopped")
		return
	}

	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	failures := make(map[string]string)
	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		err := s.checks[name](ctx)
		cancel()
		if err != nil {
			s.logger.Warn("readiness check failed", zap.String("check", name), zap.Error(err))
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unready",
			"checks": failures,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) status(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		State:    s.engine.State().String(),
		Passes:   s.engine.Passes(),
		Frontier: s.frontier.Stats(),
	}
	if s.limiter != nil {
		resp.Limiter = &limiterPayload{
			Size:   s.limiter.Size(),
			Active: s.limiter.Active(),
			Peak:   s.limiter.Peak(),
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) frontierStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.frontier.Stats())
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Debug("request completed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", requestID(r.Context())),
					zap.Any("panic", rec),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
