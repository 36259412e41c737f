package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"draftsync/internal/config"
	"draftsync/internal/metrics"
	"draftsync/internal/service"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const requestIDHeader = "X-Request-Id"

// HTTPServer exposes sessions, the retry queue and connectivity over HTTP.
type HTTPServer struct {
	cfg      config.APIConfig
	sessions *service.Manager
	server   *http.Server
	auth     *HTTPAuth
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, sessions *service.Manager, logger *zerolog.Logger) *HTTPServer {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "http").Logger()

	srv := &HTTPServer{cfg: cfg, sessions: sessions, auth: NewHTTPAuth(cfg), logger: &l}
	mux := http.NewServeMux()

	srv.handle(mux, "GET /healthz", srv.handleHealth)
	srv.handle(mux, "GET /api/v1/catalog", srv.handleCatalog)
	srv.handle(mux, "GET /api/v1/notices", srv.handleNotices)
	srv.handle(mux, "GET /api/v1/connectivity", srv.handleConnectivity)
	srv.handle(mux, "POST /api/v1/connectivity", srv.handleSetOnline)

	srv.handle(mux, "GET /api/v1/queue", srv.handleQueue)
	srv.handle(mux, "POST /api/v1/queue/drain", srv.handleQueueDrain)
	srv.handle(mux, "POST /api/v1/queue/dead-letter/{id}/retry", srv.handleRetryDeadLetter)

	srv.handle(mux, "GET /api/v1/sessions/{entity}", srv.handleSession)
	srv.handle(mux, "DELETE /api/v1/sessions/{entity}", srv.handleCloseSession)
	srv.handle(mux, "POST /api/v1/sessions/{entity}/sync", srv.handleSync)
	srv.handle(mux, "POST /api/v1/sessions/{entity}/navigate", srv.handleNavigate)
	srv.handle(mux, "GET /api/v1/sessions/{entity}/conflicts", srv.handleConflicts)
	srv.handle(mux, "POST /api/v1/sessions/{entity}/conflicts/dismiss", srv.handleDismissConflicts)
	srv.handle(mux, "POST /api/v1/sessions/{entity}/conflicts/refresh", srv.handleRefreshConflicts)

	for _, suffix := range []string{"{kind}", "{kind}/{subkind}"} {
		base := "/api/v1/sessions/{entity}/surfaces/" + suffix
		srv.handle(mux, "GET "+base, srv.handleGetSurface)
		srv.handle(mux, "PUT "+base, srv.handlePutSurface)
		srv.handle(mux, "DELETE "+base, srv.handleUnmountSurface)
		srv.handle(mux, "POST "+base+"/save", srv.handleSaveSurface)
		srv.handle(mux, "POST "+base+"/submit", srv.handleSubmitSurface)
	}

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           srv.requestLogger(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		metrics.IncHTTP(pattern)
		h(w, r)
	})
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)

		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		s.logger.Info().
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
