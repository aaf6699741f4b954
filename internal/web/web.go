package web

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bookcal/internal/config"
	appLog "bookcal/internal/log"
	"bookcal/internal/metrics"
	"bookcal/internal/model"
	"bookcal/internal/refresh"
)

// responseCacheTTL bounds how long a computed availability response is
// reused. A finished refresh clears the cache right away.
const responseCacheTTL = 30 * time.Second

// BusySource is the view of the refresher the HTTP layer needs.
type BusySource interface {
	Snapshot() refresh.Snapshot
	RunOnce(ctx context.Context) (refresh.Snapshot, error)
	Subscribe(fn func(refresh.Snapshot))
}

// Server provides the availability API of the booking widget.
type Server struct {
	cfg     *config.Config
	hours   model.BusinessHours
	loc     *time.Location
	busy    BusySource
	metrics *metrics.Metrics
	gather  prometheus.Gatherer
	now     func() time.Time
	mux     *http.ServeMux

	// In-memory cache of availability responses keyed by route and parsed
	// parameters.
	cacheMu sync.RWMutex
	cache   map[string]cachedResponse
}

type cachedResponse struct {
	body      any
	updatedAt time.Time
}

// NewServer constructs a new Server. It fails when the configured business
// hours are invalid, since no availability query could succeed.
func NewServer(cfg *config.Config, busy BusySource, m *metrics.Metrics) (*Server, error) {
	hours, err := cfg.Hours()
	if err != nil {
		return nil, err
	}
	s := &Server{
		cfg:     cfg,
		hours:   hours,
		loc:     cfg.Location(),
		busy:    busy,
		metrics: m,
		gather:  prometheus.DefaultGatherer,
		now:     time.Now,
		mux:     http.NewServeMux(),
		cache:   make(map[string]cachedResponse),
	}
	busy.Subscribe(func(refresh.Snapshot) { s.invalidate() })
	s.registerRoutes()
	return s, nil
}

// SetClock replaces the wall clock used for "today" and past filtering.
func (s *Server) SetClock(now func() time.Time) {
	s.now = now
	s.invalidate()
}

// SetGatherer selects the registry served at /metrics.
func (s *Server) SetGatherer(g prometheus.Gatherer) {
	s.gather = g
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("HTTP basic auth enabled", "listen", "http://"+s.cfg.Listen)
		h = s.basicAuthMiddleware(h)
	}
	return s.requestIDMiddleware(s.instrument(h))
}

// basicAuthEnabled reports whether HTTP Basic Auth is configured.
func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	// Empty username or password disables auth.
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware wraps all handlers except /health with HTTP Basic Auth.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="bookcal", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

const requestIDHeader = "X-Request-ID"

// requestIDMiddleware echoes a caller-supplied request ID or assigns one.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(requestIDHeader, id)
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records per-route request counts and latency. The route is the
// matched ServeMux pattern, so query strings never become label values.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(started).Seconds()
		s.metrics.ObserveRequest(route, rec.status, elapsed)
		appLog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"seconds", elapsed,
			"request_id", r.Header.Get(requestIDHeader),
		)
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/availability/day", s.handleDay)
	s.mux.HandleFunc("GET /api/availability/month", s.handleMonth)
	s.mux.HandleFunc("GET /api/availability/next", s.handleNext)
	s.mux.HandleFunc("GET /api/busy", s.handleBusy)
	s.mux.HandleFunc("GET /api/connections", s.handleConnections)
	s.mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}).ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// cached serves key from the response cache or computes it with build.
// Expired entries are dropped whenever a new one is stored.
func (s *Server) cached(w http.ResponseWriter, key string, build func() (any, error)) {
	now := time.Now()

	s.cacheMu.RLock()
	c, ok := s.cache[key]
	s.cacheMu.RUnlock()
	if ok && now.Sub(c.updatedAt) < responseCacheTTL {
		writeJSON(w, http.StatusOK, c.body)
		return
	}

	body, err := build()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	s.cacheMu.Lock()
	for k, c := range s.cache {
		if now.Sub(c.updatedAt) >= responseCacheTTL {
			delete(s.cache, k)
		}
	}
	s.cache[key] = cachedResponse{body: body, updatedAt: now}
	s.cacheMu.Unlock()

	writeJSON(w, http.StatusOK, body)
}

func (s *Server) invalidate() {
	s.cacheMu.Lock()
	clear(s.cache)
	s.cacheMu.Unlock()
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("failed to write JSON response", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}

// writeEngineError maps engine errors to HTTP status codes: bad caller input
// is a 400, everything else including broken configuration is a 500.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrConfiguration):
		appLog.Error("availability query hit a configuration error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	default:
		appLog.Error("availability query failed", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
