// Package server exposes published metrics, on-demand timelines, and org
// rollups over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/maypok86/otter/v2"

	"github.com/worklens/worklens/pkg/aggregate"
	"github.com/worklens/worklens/pkg/batch"
	"github.com/worklens/worklens/pkg/config"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/store"
)

type rateLimiter struct {
	requests map[string][]time.Time
	limit    int
	mu       sync.Mutex
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
	}
}

// allow admits up to limit requests per IP over a sliding minute.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-time.Minute)

	var valid []time.Time
	for _, t := range rl.requests[ip] {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}

	if len(valid) >= rl.limit {
		rl.requests[ip] = valid
		return false
	}

	rl.requests[ip] = append(valid, now)
	return true
}

// Server serves the read API. Metrics and org rollups come straight from the
// sink tables; timelines are recomputed per request and memoized in an
// in-process cache.
type Server struct {
	analyzer *batch.Analyzer
	store    *store.Store
	rt       *config.Runtime
	cache    otter.Cache[string, []byte]
	limiter  *rateLimiter
	logger   *slog.Logger
}

// New assembles a server over an analyzer and its store.
func New(analyzer *batch.Analyzer, st *store.Store, rt *config.Runtime, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cache := otter.Must(&otter.Options[string, []byte]{
		MaximumSize:      10_000,
		InitialCapacity:  1_000,
		ExpiryCalculator: otter.ExpiryWriting[string, []byte](rt.Config.Server.CacheTTL.Std()),
	})
	return &Server{
		analyzer: analyzer,
		store:    st,
		rt:       rt,
		cache:    *cache,
		limiter:  newRateLimiter(rt.Config.Server.RateLimit),
		logger:   logger,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(s.rateLimit)
	api.HandleFunc("/metrics/{employee}/{date}", s.handleMetrics).Methods(http.MethodGet)
	api.HandleFunc("/timeline/{employee}/{date}", s.handleTimeline).Methods(http.MethodGet)
	api.HandleFunc("/org/{scope}/{org}/{date}", s.handleOrg).Methods(http.MethodGet)
	api.HandleFunc("/runs", s.handleRuns).Methods(http.MethodGet)

	return s.wrap(r)
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.rt.Config.Server.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

// wrap adds the request ID, panic recovery, and response headers around
// every route.
func (s *Server) wrap(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := fmt.Sprintf("%d-%d", time.Now().Unix(), time.Now().Nanosecond())
		w.Header().Set("X-Request-ID", requestID)

		defer func() {
			if err := recover(); err != nil {
				const size = 64 << 10
				buf := make([]byte, size)
				buf = buf[:runtime.Stack(buf, false)]
				s.logger.Error("request handler crashed",
					"error", err,
					"path", r.URL.Path,
					"method", r.Method,
					"request_id", requestID,
					"client_ip", clientIP(r),
					"stack", string(buf))
				http.Error(w, "Internal server error", http.StatusInternalServerError)
			}
		}()

		w.Header().Set("X-Content-Type-Options", "nosniff")
		if strings.HasPrefix(r.URL.Path, "/api/") {
			w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, private")
		}

		handler.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.limiter.allow(ip) {
			s.logger.Warn("rate limit exceeded", "client_ip", ip, "path", r.URL.Path)
			s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	return strings.Split(r.RemoteAddr, ":")[0]
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// pathDay pulls and parses the {date} route variable.
func pathDay(r *http.Request) (events.Day, error) {
	return events.ParseDay(mux.Vars(r)["date"])
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	employee := mux.Vars(r)["employee"]
	day, err := pathDay(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := "metrics:" + employee + ":" + day.String()
	if data, ok := s.cache.GetIfPresent(key); ok {
		w.Header().Set("X-Cache", "hit")
		s.writeRaw(w, data)
		return
	}

	row, err := s.store.DailyMetricsFor(r.Context(), employee, day)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "no metrics for "+employee+" on "+day.String())
		return
	case err != nil:
		s.logger.Error("metrics read failed", "employee_id", employee, "date", day, "error", err)
		s.writeError(w, http.StatusInternalServerError, "metrics read failed")
		return
	}

	s.respondCached(w, key, row)
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	employee := mux.Vars(r)["employee"]
	day, err := pathDay(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := "timeline:" + employee + ":" + day.String()
	if data, ok := s.cache.GetIfPresent(key); ok {
		w.Header().Set("X-Cache", "hit")
		s.writeRaw(w, data)
		return
	}

	res, err := s.analyzer.AnalyzeOne(r.Context(), employee, day)
	if err != nil {
		s.logger.Error("timeline analysis failed", "employee_id", employee, "date", day, "error", err)
		s.writeError(w, http.StatusInternalServerError, "timeline analysis failed")
		return
	}

	s.respondCached(w, key, res)
}

func (s *Server) handleOrg(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	scope, err := aggregate.ParseScope(vars["scope"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	day, err := pathDay(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	row, err := s.store.OrgAggregateFor(r.Context(), scope, vars["org"], day)
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "no rollup for "+scope.String()+"/"+vars["org"]+" on "+day.String())
		return
	case err != nil:
		s.logger.Error("rollup read failed", "scope", scope, "org_id", vars["org"], "error", err)
		s.writeError(w, http.StatusInternalServerError, "rollup read failed")
		return
	}

	s.writeJSON(w, http.StatusOK, row)
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentBatchRuns(r.Context(), 20)
	if err != nil {
		s.logger.Error("run log read failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "run log read failed")
		return
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// respondCached serializes v once, stores it under key, and writes it out.
func (s *Server) respondCached(w http.ResponseWriter, key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("response marshal failed", "cache_key", key, "error", err)
		s.writeError(w, http.StatusInternalServerError, "response marshal failed")
		return
	}
	s.cache.Set(key, data)
	w.Header().Set("X-Cache", "miss")
	s.writeRaw(w, data)
}

func (s *Server) writeRaw(w http.ResponseWriter, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(data); err != nil {
		s.logger.Error("response write failed", "error", err)
	}
}
