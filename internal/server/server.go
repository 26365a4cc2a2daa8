package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/web2pdf/internal/config"
	"github.com/jonathan/web2pdf/internal/db"
	"github.com/jonathan/web2pdf/internal/observability"
	"github.com/jonathan/web2pdf/internal/pipeline"
	"github.com/jonathan/web2pdf/internal/server/middleware"
	"github.com/jonathan/web2pdf/internal/server/ratelimit"
	"github.com/jonathan/web2pdf/internal/storage"
	"github.com/jonathan/web2pdf/internal/types"
)

// Converter runs conversions. *pipeline.Orchestrator satisfies it.
type Converter interface {
	ConvertWithProgress(ctx context.Context, req types.ConversionRequest, onProgress pipeline.ProgressCallback) (*types.FinalArtifact, error)
}

// MetadataWriter rewrites a stored document's descriptive fields. *pdfdoc.Annotator satisfies it.
type MetadataWriter interface {
	Annotate(path string, meta types.DocumentMetadata) error
}

// HistoryStore is the conversion history. *db.DB satisfies it.
type HistoryStore interface {
	ListConversions(ctx context.Context, userID uuid.UUID, limit int) ([]db.Conversion, error)
	GetConversion(ctx context.Context, id uuid.UUID) (*db.Conversion, error)
	UpdateConversionTitle(ctx context.Context, id uuid.UUID, title string, fileSize int64) error
	DeleteConversion(ctx context.Context, userID, id uuid.UUID) (*db.Conversion, error)
	ClearConversions(ctx context.Context, userID uuid.UUID) ([]string, error)
	Ping(ctx context.Context) error
}

// Deps are the collaborators of a Server. History, RateLimiter, Janitor and Metrics are optional.
type Deps struct {
	Config      config.ServerConfig
	Converter   Converter
	Store       *storage.Store
	Annotator   MetadataWriter
	History     HistoryStore
	Auth        middleware.TokenValidator
	RateLimiter ratelimit.RateLimiter
	Janitor     *storage.Janitor
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Server represents the HTTP server
type Server struct {
	httpServer  *http.Server
	cfg         config.ServerConfig
	converter   Converter
	store       *storage.Store
	annotator   MetadataWriter
	history     HistoryStore
	rateLimiter ratelimit.RateLimiter
	janitor     *storage.Janitor
	metrics     *observability.Metrics
	logger      *slog.Logger
}

// New wires the routes and middleware.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Converter == nil:
		return nil, errors.New("server requires a converter")
	case deps.Store == nil:
		return nil, errors.New("server requires an artifact store")
	case deps.Annotator == nil:
		return nil, errors.New("server requires a metadata writer")
	case deps.Auth == nil:
		return nil, errors.New("server requires a token validator")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg := deps.Config
	if cfg.ShutdownTimeout.Duration <= 0 {
		cfg.ShutdownTimeout = config.DurationFrom(30 * time.Second)
	}

	s := &Server{
		cfg:         cfg,
		converter:   deps.Converter,
		store:       deps.Store,
		annotator:   deps.Annotator,
		history:     deps.History,
		rateLimiter: deps.RateLimiter,
		janitor:     deps.Janitor,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
	}

	auth := middleware.AuthMiddleware(deps.Auth)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Conversions
	mux.Handle("POST /convert", auth(http.HandlerFunc(s.handleConvert)))
	mux.Handle("POST /api/convert", auth(http.HandlerFunc(s.handleConvert)))
	mux.Handle("POST /api/convert/stream", auth(http.HandlerFunc(s.handleConvertStream)))
	mux.Handle("POST /update-metadata", auth(http.HandlerFunc(s.handleUpdateMetadata)))

	// Artifacts are public to anyone holding the link
	mux.HandleFunc("GET "+storage.OutputRoute+"{filename}", s.handleOutput)

	// History
	mux.Handle("GET /api/history", auth(http.HandlerFunc(s.handleHistory)))
	mux.Handle("DELETE /api/history/delete/{id}", auth(http.HandlerFunc(s.handleHistoryDelete)))
	mux.Handle("DELETE /api/history/clear/{userId}", auth(http.HandlerFunc(s.handleHistoryClear)))

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withLogging(s.withMetrics(s.withRateLimit(s.withCORS(s.withBodyLimit(mux))))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Minute, // conversions with subpages run for minutes
		IdleTimeout:       60 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves until ctx is done, then shuts down gracefully. The janitor, when configured,
// runs for the same lifetime.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if s.janitor != nil {
		go s.janitor.Run(ctx)
	}

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server", "timeout", s.cfg.ShutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout.Duration)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	s.logger.Info("server stopped")
	return nil
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Flush keeps event streams working through the middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

// withLogging logs one line per request.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		if rec.code() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(r.Context(), level, "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.code(),
			"client", s.extractClientID(r),
			"latency_ms", time.Since(start).Milliseconds(),
		)
	})
}

// withMetrics records request counts and latencies by route pattern.
func (s *Server) withMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)

		// The mux sets Pattern on the request it matched.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveHTTP(r.Method, route, strconv.Itoa(rec.code()), time.Since(start).Seconds())
	})
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withBodyLimit caps request bodies at server.max_body_bytes.
func (s *Server) withBodyLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.MaxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	if s.rateLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, info := s.rateLimiter.Allow(s.extractClientID(r), r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// extractClientID uses the IP address from RemoteAddr.
// TODO: honor X-Forwarded-For once trusted proxy ranges are configurable.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	details := "Rate limit exceeded. Please try again later."
	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Round(time.Second).Seconds())
		seconds = max(seconds, 1)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
		details = fmt.Sprintf("Rate limit exceeded. Retry in %d seconds.", seconds)
	}

	s.logger.Warn("rate limit exceeded",
		"client", s.extractClientID(r),
		"path", r.URL.Path,
		"limit", info.Limit,
		"reset", info.ResetTime.Format(time.RFC3339),
	)
	s.jsonResponse(w, http.StatusTooManyRequests, errorBody{Error: "Too Many Requests", Details: details})
}

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Success bool   `json:"success"`
	Status  int    `json:"status,omitempty"`
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// writeError maps err to a status code. Server errors use fallback as the message; the others
// use the status text. The error text goes into details.
func (s *Server) writeError(w http.ResponseWriter, err error, fallback string) {
	status := HTTPStatus(err)
	message := http.StatusText(status)
	if status == http.StatusInternalServerError {
		message = fallback
	}
	s.jsonResponse(w, status, errorBody{Error: message, Details: err.Error()})
}
