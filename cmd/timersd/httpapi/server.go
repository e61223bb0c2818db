// Package httpapi exposes a small read-only diagnostics surface over the
// dispatch engine: GET /timers snapshots the timeline and payloads store.
// It is host tooling layered on top of the timers package, not part of the
// core library — the core has no HTTP dependency at all.
//
// Modeled on the teacher's internal/api router (mux.NewRouter, a chain of
// net/http middleware) and its per-client token-bucket rate limiter
// (internal/api/middleware/rate_limit.go), trimmed to the one route this
// binary actually serves.
package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"github.com/vitaliisemenov/redis-timers/pkg/logger"
	"github.com/vitaliisemenov/redis-timers/timers"
)

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware assigns or forwards a request ID, matching the
// teacher's internal/api/middleware/request_id.go.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.New().String()
			r.Header.Set(requestIDHeader, requestID)
		}

		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))
		w.Header().Set(requestIDHeader, requestID)
		next.ServeHTTP(w, r)
	})
}

// rateLimiter is a per-client token bucket limiter, one bucket per remote
// address, matching the teacher's RateLimiter shape.
type rateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rate     rate.Limit
	burst    int
}

func newRateLimiter(requestsPerMinute, burst int) *rateLimiter {
	return &rateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
	}
}

func (rl *rateLimiter) allow(clientID string) bool {
	rl.mu.Lock()
	limiter, ok := rl.limiters[clientID]
	if !ok {
		limiter = rate.NewLimiter(rl.rate, rl.burst)
		rl.limiters[clientID] = limiter
	}
	rl.mu.Unlock()
	return limiter.Allow()
}

// Server serves the diagnostics API.
type Server struct {
	engine *timers.Engine
	logger *slog.Logger
	router *mux.Router
	limit  *rateLimiter
}

// NewServer builds a Server backed by engine. requestsPerMinute/burst tune
// the per-client rate limit on GET /timers.
func NewServer(engine *timers.Engine, log *slog.Logger, requestsPerMinute, burst int) *Server {
	if log == nil {
		log = slog.Default()
	}

	s := &Server{
		engine: engine,
		logger: log,
		router: mux.NewRouter(),
		limit:  newRateLimiter(requestsPerMinute, burst),
	}

	s.router.Use(requestIDMiddleware)
	s.router.Use(logger.LoggingMiddleware(log))
	s.router.Use(s.rateLimitMiddleware)
	s.router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/timers", s.handleListTimers).Methods(http.MethodGet)

	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := clientID(r)
		if !s.limit.allow(clientID) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, `{"error":"rate limit exceeded"}`, http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientID(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		return ip
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	return r.RemoteAddr
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	logger.FromContext(r.Context(), s.logger).Debug("healthz")
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

type timerSnapshot struct {
	Key     string          `json:"key"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (s *Server) handleListTimers(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), s.logger)

	keys, payloads, err := s.engine.FetchAllTimers(r.Context())
	if err != nil {
		log.Error("fetch all timers failed", "error", err)
		http.Error(w, fmt.Sprintf(`{"error":%q}`, err.Error()), http.StatusInternalServerError)
		return
	}

	snapshots := make([]timerSnapshot, 0, len(keys))
	for _, key := range keys {
		snapshots = append(snapshots, timerSnapshot{Key: key, Payload: payloads[key]})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(snapshots)
}
