// Package httpapi exposes the Sieve engine over HTTP: compiling, dumping
// and evaluating scripts, plus health and Prometheus endpoints.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/migadu/sora-sieve/cache"
	"github.com/migadu/sora-sieve/consts"
	"github.com/migadu/sora-sieve/logger"
	"github.com/migadu/sora-sieve/pkg/health"
	"github.com/migadu/sora-sieve/pkg/metrics"
	"github.com/migadu/sora-sieve/server/sieveengine"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxRequestBody bounds request bodies; evaluate requests carry a whole
// message.
const maxRequestBody = 32 << 20

// Server represents the HTTP API server
type Server struct {
	addr         string
	apiKey       string
	allowedHosts []string
	engine       *sieveengine.Engine
	store        *cache.BinaryStore
	health       *health.HealthMonitor
	metricsPath  string
	server       *http.Server
	tls          bool
	tlsCertFile  string
	tlsKeyFile   string
}

// ServerOptions holds configuration options for the HTTP API server
type ServerOptions struct {
	Addr         string
	APIKey       string
	AllowedHosts []string
	// Store is reported by the cache statistics route when set.
	Store *cache.BinaryStore
	// Health adds component statuses to /health when set.
	Health *health.HealthMonitor
	// MetricsPath serves Prometheus metrics; empty disables it.
	MetricsPath string
	TLS         bool
	TLSCertFile string
	TLSKeyFile  string
}

// New creates a new HTTP API server
func New(engine *sieveengine.Engine, options ServerOptions) (*Server, error) {
	if engine == nil {
		return nil, fmt.Errorf("sieve engine is required for HTTP API server")
	}
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for HTTP API server")
	}
	if options.TLS {
		if options.TLSCertFile == "" || options.TLSKeyFile == "" {
			return nil, fmt.Errorf("TLS certificate and key files are required when TLS is enabled")
		}
	}

	return &Server{
		addr:         options.Addr,
		apiKey:       options.APIKey,
		allowedHosts: options.AllowedHosts,
		engine:       engine,
		store:        options.Store,
		health:       options.Health,
		metricsPath:  options.MetricsPath,
		tls:          options.TLS,
		tlsCertFile:  options.TLSCertFile,
		tlsKeyFile:   options.TLSKeyFile,
	}, nil
}

// Start runs the HTTP API server until ctx is done. Failures are sent to
// errChan.
func Start(ctx context.Context, engine *sieveengine.Engine, options ServerOptions, errChan chan error) {
	server, err := New(engine, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create HTTP API server: %w", err)
		return
	}

	protocol := "HTTP"
	if options.TLS {
		protocol = "HTTPS"
	}
	logger.Info("Starting API server", "protocol", protocol, "addr", options.Addr)
	if err := server.start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) && ctx.Err() == nil {
		errChan <- fmt.Errorf("HTTP API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down HTTP API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error shutting down HTTP API server", "error", err)
		}
	}()

	if s.tls {
		return s.server.ListenAndServeTLS(s.tlsCertFile, s.tlsKeyFile)
	}
	return s.server.ListenAndServe()
}

// Handler returns the router with all routes and middleware.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metricsPath != "" {
		router.Handle(s.metricsPath, promhttp.Handler()).Methods("GET")
	}

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.allowedHostsMiddleware)
	v1.Use(s.authMiddleware)

	v1.HandleFunc("/capabilities", s.handleCapabilities).Methods("GET")
	v1.HandleFunc("/compile", s.handleCompile).Methods("POST")
	v1.HandleFunc("/dump", s.handleDump).Methods("POST")
	v1.HandleFunc("/evaluate", s.handleEvaluate).Methods("POST")
	v1.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")

	return router
}

// Middleware functions

// statusRecorder remembers the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		logger.Debug("HTTP API request", "method", r.Method, "path", r.URL.Path,
			"remote", r.RemoteAddr, "status", rec.status, "duration", time.Since(start))
	})
}

func (s *Server) allowedHostsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.allowedHosts) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		if !hostAllowed(s.allowedHosts, getClientIP(r)) {
			s.writeError(w, http.StatusForbidden, "Host not allowed")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// hostAllowed matches clientIP against addresses and CIDR blocks.
func hostAllowed(allowedHosts []string, clientIP string) bool {
	ip := net.ParseIP(clientIP)
	for _, allowedHost := range allowedHosts {
		if allowedHost == clientIP {
			return true
		}
		if !strings.Contains(allowedHost, "/") || ip == nil {
			continue
		}
		if _, cidr, err := net.ParseCIDR(allowedHost); err == nil && cidr.Contains(ip) {
			return true
		}
	}
	return false
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header required")
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			s.writeError(w, http.StatusUnauthorized, "Authorization header must be 'Bearer <token>'")
			return
		}

		if subtle.ConstantTimeCompare([]byte(parts[1]), []byte(s.apiKey)) != 1 {
			s.writeError(w, http.StatusForbidden, "Invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Utility functions

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("HTTP API: error encoding JSON response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// writeScriptError maps compile failures to status codes.
func (s *Server) writeScriptError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, consts.ErrScriptTooLarge):
		s.writeError(w, http.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, consts.ErrInvalidScript):
		s.writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		logger.Error("HTTP API: script handling failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "Internal error")
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	defer r.Body.Close()
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// Request/Response types

type CompileRequest struct {
	Script string `json:"script"`
}

type CompileResponse struct {
	Key        string   `json:"key"`
	Size       int      `json:"size"`
	Extensions []string `json:"extensions"`
	Binary     []byte   `json:"binary"`
}

type DumpRequest struct {
	Script string `json:"script,omitempty"`
	Binary []byte `json:"binary,omitempty"`
}

type DumpResponse struct {
	Dump string `json:"dump"`
}

type EvaluateRequest struct {
	Script       string `json:"script"`
	Message      string `json:"message"`
	EnvelopeFrom string `json:"envelope_from,omitempty"`
	EnvelopeTo   string `json:"envelope_to,omitempty"`
	AuthUser     string `json:"auth_user,omitempty"`
	Username     string `json:"username,omitempty"`
}

type EvaluateResponse struct {
	ExecutionID string              `json:"execution_id"`
	Summary     sieveengine.Summary `json:"summary"`
	Error       string              `json:"error,omitempty"`
}

// Handler functions

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":     "ok",
		"extensions": s.engine.Library().Enabled(),
	}
	status := http.StatusOK
	if s.health != nil {
		overall := s.health.GetOverallStatus()
		resp["status"] = overall
		resp["components"] = s.health.Report()
		if overall == health.StatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"capabilities": s.engine.Library().Capabilities(),
	})
}

func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	var req CompileRequest
	if !s.decode(w, r, &req) {
		return
	}
	raw, err := s.engine.Compile(req.Script)
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	exts := s.engine.Library().Enabled()
	s.writeJSON(w, http.StatusOK, CompileResponse{
		Key:        cache.Key(req.Script, exts),
		Size:       len(raw),
		Extensions: exts,
		Binary:     raw,
	})
}

func (s *Server) handleDump(w http.ResponseWriter, r *http.Request) {
	var req DumpRequest
	if !s.decode(w, r, &req) {
		return
	}
	raw := req.Binary
	if len(raw) == 0 {
		if req.Script == "" {
			s.writeError(w, http.StatusBadRequest, "Either script or binary is required")
			return
		}
		var err error
		if raw, err = s.engine.Compile(req.Script); err != nil {
			s.writeScriptError(w, err)
			return
		}
	}
	dump, err := s.engine.Dump(raw)
	if err != nil {
		s.writeError(w, http.StatusUnprocessableEntity, fmt.Sprintf("Invalid binary: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, DumpResponse{Dump: dump})
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req EvaluateRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	id := uuid.NewString()
	ctx := context.WithValue(r.Context(), consts.ExecutionIDKey, id)

	exec, err := s.engine.NewExecutor(ctx, req.Script)
	if err != nil {
		s.writeScriptError(w, err)
		return
	}
	summary, err := exec.Evaluate(ctx, sieveengine.Context{
		EnvelopeFrom: req.EnvelopeFrom,
		EnvelopeTo:   req.EnvelopeTo,
		AuthUser:     req.AuthUser,
		Username:     req.Username,
		Message:      []byte(req.Message),
	})
	if errors.Is(err, consts.ErrMalformedMessage) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp := EvaluateResponse{ExecutionID: id, Summary: summary}
	if err != nil {
		// The summary is the implicit keep; report why.
		resp.Error = err.Error()
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{}
	if programs := s.engine.Programs(); programs != nil {
		hits, misses := programs.Stats()
		resp["memory"] = map[string]any{
			"entries": programs.Len(),
			"hits":    hits,
			"misses":  misses,
		}
	}
	if s.store != nil {
		count, size, err := s.store.GetStats(r.Context())
		if err != nil {
			logger.Error("HTTP API: failed to read binary store statistics", "error", err)
			s.writeError(w, http.StatusInternalServerError, "Failed to read binary store statistics")
			return
		}
		resp["store"] = map[string]any{
			"binaries":   count,
			"size_bytes": size,
			"metrics":    s.store.GetMetrics(),
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
