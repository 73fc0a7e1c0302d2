// Package server exposes sessions, dashboards and stock reports over HTTP
// and pushes dashboard updates to websocket clients.
package server

import (
	"bufio"
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"market-insight-lab/internal/domain"
	"market-insight-lab/internal/observability"
	"market-insight-lab/internal/reporting"
	"market-insight-lab/internal/session"
	"market-insight-lab/internal/stocks"
)

// StockSource provides daily bars. Implemented by *stocks.Client.
type StockSource interface {
	Recent(ctx context.Context, ticker string, days int) ([]domain.PriceBar, error)
}

// Options contains configuration for creating a Server.
type Options struct {
	Sessions *session.Manager    // required
	Stocks   StockSource         // stock routes answer 503 when nil
	Gatherer prometheus.Gatherer // serves /metrics when set
	Lexicon  *stocks.Lexicon     // stocks.DefaultLexicon when nil
	Metrics  *observability.Metrics
	Logger   *zerolog.Logger
}

// Server routes HTTP requests to sessions.
type Server struct {
	router   *mux.Router
	sessions *session.Manager
	stocks   StockSource
	lexicon  stocks.Lexicon
	hub      *Hub
	reports  *reporting.Generator
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

var _ http.Handler = (*Server)(nil)

// New creates a Server with all routes registered.
func New(opts Options) *Server {
	s := &Server{
		router:   mux.NewRouter(),
		sessions: opts.Sessions,
		stocks:   opts.Stocks,
		lexicon:  stocks.DefaultLexicon,
		reports:  reporting.NewGenerator(),
		logger:   zerolog.Nop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
	if opts.Logger != nil {
		s.logger = *opts.Logger
	}
	if opts.Lexicon != nil {
		s.lexicon = *opts.Lexicon
	}
	s.hub = NewHub(opts.Metrics, s.logger)
	// idle eviction skips watched sessions and drops clients of evicted ones
	s.sessions.WithEvictHooks(s.hub.CloseSession, func(id string) bool { return s.hub.Len(id) > 0 })
	s.routes(opts.Gatherer)
	return s
}

// WithClock sets the clock stamped on generated reports.
func (s *Server) WithClock(now func() time.Time) *Server {
	s.reports.WithClock(now)
	return s
}

// Hub returns the websocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(gatherer prometheus.Gatherer) {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.loggingMiddleware)

	s.router.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	if gatherer != nil {
		s.router.Handle("/metrics", observability.Handler(gatherer)).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete)
	api.HandleFunc("/sessions/{id}/refresh", s.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}/dashboard", s.handleDashboard).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/selection", s.handleSelect).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/target", s.handleTarget).Methods(http.MethodPut)
	api.HandleFunc("/sessions/{id}/predict", s.handlePredict).Methods(http.MethodGet)
	api.HandleFunc("/stocks/{ticker}", s.handleStock).Methods(http.MethodGet)

	s.router.HandleFunc("/ws/sessions/{id}", s.handleWebSocket).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, kindNotFound, errors.New("no route for "+r.URL.Path))
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, kindBadRequest, errors.New(r.Method+" not allowed on "+r.URL.Path))
	})
}

// ListenAndServe serves on addr until ctx is canceled, then shuts down
// gracefully within shutdownTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	s.logger.Info().Msg("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type requestIDKey struct{}

func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		id, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug().
			Str("request_id", id).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("request")
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

// Hijack lets the websocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}
