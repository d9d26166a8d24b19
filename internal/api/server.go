// Package api exposes the HTTP control surface for the monitor service.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/litigio/casefile-monitor/internal/browser"
	"github.com/litigio/casefile-monitor/internal/jobstore"
	"github.com/litigio/casefile-monitor/internal/metrics"
	"github.com/litigio/casefile-monitor/internal/monitor"
)

// PoolStatus is the slice of the browser pool the API reads.
type PoolStatus interface {
	Ping(ctx context.Context) error
	Stats() browser.Stats
}

// Server wires HTTP handlers to the job store and collaborators.
type Server struct {
	router  chi.Router
	store   monitor.JobStore
	repo    monitor.Repository
	pool    PoolStatus
	clock   monitor.Clock
	secret  string
	started time.Time
	logger  *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	store monitor.JobStore,
	repo monitor.Repository,
	pool PoolStatus,
	clk monitor.Clock,
	secret string,
	logger *zap.Logger,
) *Server {
	s := &Server{
		store:   store,
		repo:    repo,
		pool:    pool,
		clock:   clk,
		secret:  secret,
		started: clk.Now(),
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(timeoutMiddleware(30 * time.Second))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(s.bearerAuth)
		r.Post("/jobs/initial", s.submitJob(monitor.LaneInitial))
		r.Post("/jobs/priority", s.submitJob(monitor.LanePriority))
		r.Get("/status", s.status)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

type jobRequest struct {
	CaseFileID int64  `json:"caseFileId"`
	CaseNumber string `json:"caseNumber"`
	TenantID   int64  `json:"tenantId"`
}

// submitJob enqueues a user-requested scrape. Initial jobs dedup per
// calendar day; priority jobs never dedup, each request is explicit user
// intent.
func (s *Server) submitJob(lane monitor.Lane) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req jobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
		if req.CaseFileID == 0 || req.TenantID == 0 || strings.TrimSpace(req.CaseNumber) == "" {
			writeError(w, http.StatusBadRequest, "caseFileId, caseNumber and tenantId are required")
			return
		}

		now := s.clock.Now()
		var dedupKey string
		switch lane {
		case monitor.LaneInitial:
			dedupKey = jobstore.InitialKey(req.CaseFileID, jobstore.Day(now))
		default:
			dedupKey = jobstore.PriorityKey(req.CaseFileID, now)
		}

		payload := monitor.JobPayload{
			CaseFileID: req.CaseFileID,
			TenantID:   req.TenantID,
			CaseNumber: req.CaseNumber,
		}
		job, created, err := s.store.Enqueue(r.Context(), lane, payload, monitor.PriorityCritical, dedupKey)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"jobId":   job.ID,
			"created": created,
		})
	}
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{
		"database":    checkResult(s.repo.Ping(ctx)),
		"queueStore":  checkResult(s.store.Ping(ctx)),
		"browserPool": checkResult(s.pool.Ping(ctx)),
	}
	status := http.StatusOK
	overall := "ok"
	for _, result := range checks {
		if result != "ok" {
			status = http.StatusServiceUnavailable
			overall = "degraded"
			break
		}
	}
	writeJSON(w, status, map[string]any{
		"status": overall,
		"uptime": s.clock.Now().Sub(s.started).String(),
		"checks": checks,
	})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"lanes":       stats,
		"browserPool": s.pool.Stats(),
	})
}

func checkResult(err error) string {
	if err != nil {
		return err.Error()
	}
	return "ok"
}

// bearerAuth requires "Authorization: Bearer <serviceSecret>".
func (s *Server) bearerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token != s.secret {
			writeError(w, http.StatusForbidden, "invalid bearer token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
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

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
