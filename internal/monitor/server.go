// Package monitor serves the operational endpoints: a JSON health
// snapshot and Prometheus metrics.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/pumpwatch/internal/config"
	"github.com/sawpanic/pumpwatch/internal/metrics"
)

const (
	readTimeout     = 10 * time.Second
	writeTimeout    = 10 * time.Second
	idleTimeout     = 60 * time.Second
	handlerTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// VenueStatus reports one venue's connection state. Satisfied by the
// exchange adapters.
type VenueStatus interface {
	Venue() string
	Connected() bool
}

// Server is the read-only HTTP server exposing /health and /metrics.
type Server struct {
	server  *http.Server
	env     string
	venues  []VenueStatus
	started time.Time
}

// NewServer builds the server on addr. venues feed the health
// snapshot; pass the running adapters.
func NewServer(addr, environment string, m *metrics.Registry, venues []VenueStatus) *Server {
	s := &Server{
		env:     environment,
		venues:  venues,
		started: time.Now(),
	}

	router := mux.NewRouter()
	router.Use(requestIDMiddleware)
	router.Use(loggingMiddleware)
	router.Use(timeoutMiddleware)

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.Handle("/metrics", m.Handler()).Methods(http.MethodGet)
	router.NotFoundHandler = http.HandlerFunc(handleNotFound)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	return s
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.server.Addr).Msg("monitor server started")
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("monitor server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("monitor shutdown: %w", err)
	}
	return ctx.Err()
}

// Handler exposes the router. Used by tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

type healthResponse struct {
	Status      string          `json:"status"`
	Version     string          `json:"version"`
	Environment string          `json:"environment"`
	UptimeSec   float64         `json:"uptime_sec"`
	Exchanges   map[string]bool `json:"exchanges"`
	Timestamp   int64           `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	exchanges := make(map[string]bool, len(s.venues))
	for _, v := range s.venues {
		exchanges[v.Venue()] = v.Connected()
	}

	resp := healthResponse{
		Status:      "ok",
		Version:     config.Version,
		Environment: s.env,
		UptimeSec:   time.Since(s.started).Seconds(),
		Exchanges:   exchanges,
		Timestamp:   time.Now().Unix(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error().Err(err).Msg("failed to write health response")
	}
}

func handleNotFound(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotFound)
	fmt.Fprint(w, `{"error":"not found"}`)
}

// requestIDMiddleware tags each request and its response with a short
// request id.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()[:8]
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(withRequestID(r.Context(), requestID)))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", requestIDFrom(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.status).
			Dur("took", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("monitor request")
	})
}

func timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), handlerTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// statusRecorder captures the response status for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
