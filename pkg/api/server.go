// Package api provides the HTTP API for predictions, model management and
// health monitoring
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/scttfrdmn/modelserve/internal/cache"
	"github.com/scttfrdmn/modelserve/pkg/errors"
	"github.com/scttfrdmn/modelserve/pkg/health"
)

// ModelCache is the part of the model cache the API serves.
type ModelCache interface {
	Load(ctx context.Context, id string) (bool, error)
	Get(id string) (cache.Record, error)
	Unload(id string) bool
	List() []string
	Available(ctx context.Context) ([]string, error)
	Ready() bool
	Stats() cache.Stats
}

// Recorder receives request and prediction metrics.
type Recorder interface {
	RecordPredictionRequest(endpoint string)
	RecordPrediction(model string, duration time.Duration)
	RecordPredictionError(err error)
	RecordRequest(method, route string, status int, duration time.Duration)
}

// Server provides the HTTP API
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	models     ModelCache
	health     *health.Tracker
	recorder   Recorder
	metrics    http.Handler
	logger     *zap.Logger
	config     ServerConfig

	started time.Time
	now     func() time.Time
	lastID  *atomic.Int64
}

// ServerConfig configures the API server
type ServerConfig struct {
	// Address to bind the server to (e.g., "0.0.0.0:8000")
	Address string `yaml:"address" json:"address"`

	// ReadTimeout is the maximum duration for reading the entire request
	ReadTimeout time.Duration `yaml:"read_timeout" json:"read_timeout"`

	// WriteTimeout is the maximum duration for writing the response
	WriteTimeout time.Duration `yaml:"write_timeout" json:"write_timeout"`

	// IdleTimeout is the maximum duration to wait for the next request
	IdleTimeout time.Duration `yaml:"idle_timeout" json:"idle_timeout"`

	// EnableCORS enables Cross-Origin Resource Sharing
	EnableCORS bool `yaml:"enable_cors" json:"enable_cors"`

	// CORSOrigins lists allowed origins; "*" allows any
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// APIKey, when set, is required on every model and prediction route
	APIKey string `yaml:"api_key" json:"-"`

	// MaxBatchSize caps the number of items in a batch prediction
	MaxBatchSize int `yaml:"max_batch_size" json:"max_batch_size"`

	// DefaultModel is used when a prediction names no model
	DefaultModel string `yaml:"default_model" json:"default_model"`

	// Version is reported by the health endpoint
	Version string `yaml:"version" json:"version"`

	// MetricsPath is where the metrics handler is mounted
	MetricsPath string `yaml:"metrics_path" json:"metrics_path"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Address:      "0.0.0.0:8000",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		EnableCORS:   true,
		CORSOrigins:  []string{"*"},
		MaxBatchSize: 100,
		DefaultModel: "default",
		Version:      "1.0.0",
		MetricsPath:  "/metrics",
	}
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger.Named("api")
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Server) {
		if r != nil {
			s.recorder = r
		}
	}
}

// WithMetricsHandler mounts h at the configured metrics path.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		if now != nil {
			s.now = now
		}
	}
}

// NewServer creates a new API server. tracker may be nil.
func NewServer(config ServerConfig, models ModelCache, tracker *health.Tracker, opts ...Option) *Server {
	if config.DefaultModel == "" {
		config.DefaultModel = "default"
	}
	if config.MetricsPath == "" {
		config.MetricsPath = "/metrics"
	}

	s := &Server{
		models:   models,
		health:   tracker,
		recorder: nopRecorder{},
		logger:   zap.NewNop(),
		config:   config,
		now:      time.Now,
		lastID:   atomic.NewInt64(0),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.started = s.now()

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/live", s.handleLiveness)
	mux.HandleFunc("GET /ready", s.handleReadiness)

	if s.metrics != nil {
		mux.Handle("GET "+config.MetricsPath, s.metrics)
	}

	// Model management endpoints
	mux.HandleFunc("GET /models", s.handleListModels)
	mux.HandleFunc("GET /models/stats", s.handleStats)
	mux.HandleFunc("POST /models/{id}/load", s.handleLoadModel)
	mux.HandleFunc("DELETE /models/{id}", s.handleUnloadModel)
	mux.HandleFunc("GET /models/{id}/info", s.handleModelInfo)

	// Prediction endpoints
	mux.HandleFunc("POST /predict", s.handlePredict)
	mux.HandleFunc("POST /predict/batch", s.handlePredictBatch)

	// Apply middleware
	var handler http.Handler = mux
	if config.APIKey != "" {
		handler = s.authMiddleware(handler)
	}
	if config.EnableCORS {
		handler = s.corsMiddleware(handler)
	}
	handler = s.loggingMiddleware(handler)
	s.handler = handler

	s.httpServer = &http.Server{
		Addr:         config.Address,
		Handler:      handler,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}

	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler { return s.handler }

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", zap.String("address", s.config.Address))
	return s.httpServer.ListenAndServe()
}

// StartBackground starts the server in a background goroutine. Errors
// other than a clean shutdown are sent on the returned channel.
func (s *Server) StartBackground() <-chan error {
	errc := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("API server error", zap.Error(err))
			errc <- err
		}
		close(errc)
	}()
	return errc
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

type requestIDKey struct{}

// RequestID returns the id assigned to the request carrying ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	if w.status == 0 {
		w.status = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.now()
		id := s.nextRequestID()
		r = r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id))
		w.Header().Set("X-Request-ID", id)

		sw := &statusWriter{ResponseWriter: w}
		next.ServeHTTP(sw, r)
		if sw.status == 0 {
			sw.status = http.StatusOK
		}

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		} else if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}
		elapsed := s.now().Sub(start)
		s.recorder.RecordRequest(r.Method, route, sw.status, elapsed)
		s.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", sw.status),
			zap.Duration("duration", elapsed))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	wildcard := slices.Contains(s.config.CORSOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.config.CORSOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	open := map[string]bool{"/health": true, "/health/live": true, "/ready": true}
	open[s.config.MetricsPath] = true
	want := []byte(s.config.APIKey)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if open[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}
		key := r.Header.Get("X-API-Key")
		if key == "" {
			key, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(key), want) != 1 {
			s.respondError(w, errors.New(errors.ErrCodeUnauthorized, "missing or invalid API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// nextRequestID returns req_<unix micros>, bumped so ids stay unique
// within the process.
func (s *Server) nextRequestID() string {
	now := s.now().UnixMicro()
	for {
		last := s.lastID.Load()
		if now <= last {
			now = last + 1
		}
		if s.lastID.CompareAndSwap(last, now) {
			return fmt.Sprintf("req_%d", now)
		}
	}
}

// Helper methods

func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", zap.Error(err))
	}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error     string    `json:"error"`
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	s.respondJSON(w, errors.HTTPStatusOf(err), s.errorBody(err))
}

func (s *Server) errorBody(err error) ErrorResponse {
	msg := err.Error()
	var e *errors.Error
	if errors.As(err, &e) && e.Message != "" {
		msg = e.Message
		if e.Cause != nil {
			msg += ": " + e.Cause.Error()
		}
	}
	return ErrorResponse{
		Error:     msg,
		Code:      string(errors.CodeOf(err)),
		Timestamp: s.now().UTC(),
	}
}

// track feeds request outcomes into the health tracker. Storage failures
// count against the store; timeouts against the cache.
func (s *Server) track(err error) {
	if s.health == nil {
		return
	}
	if err == nil {
		s.health.RecordSuccess(health.ComponentStore)
		return
	}
	switch errors.CodeOf(err) {
	case errors.ErrCodeStorageRead, errors.ErrCodeServiceUnavailable:
		s.health.RecordError(health.ComponentStore, err)
	case errors.ErrCodeOperationTimeout:
		s.health.RecordError(health.ComponentCache, err)
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordPredictionRequest(string)                   {}
func (nopRecorder) RecordPrediction(string, time.Duration)           {}
func (nopRecorder) RecordPredictionError(error)                      {}
func (nopRecorder) RecordRequest(string, string, int, time.Duration) {}
