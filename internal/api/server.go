// Package api serves the admin HTTP endpoints: health, Prometheus
// metrics, version and backup status. It never exposes household data.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/memu-digital/memu-bot/internal/backup"
	"github.com/memu-digital/memu-bot/internal/buildinfo"
	"github.com/memu-digital/memu-bot/internal/connwatch"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// HealthSource reports dependency reachability.
type HealthSource interface {
	Status() map[string]connwatch.ServiceStatus
}

// BackupSource reports backup health.
type BackupSource interface {
	Status(ctx context.Context) (backup.Status, error)
}

// Server is the admin HTTP server.
type Server struct {
	address string
	port    int
	health  HealthSource
	backups BackupSource
	// critical services make /health answer 503 while down.
	critical []string
	logger   *slog.Logger
	server   *http.Server
}

// NewServer creates an admin server. health and backups may be nil.
func NewServer(address string, port int, health HealthSource, backups BackupSource, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		address: address,
		port:    port,
		health:  health,
		backups: backups,
		logger:  logger,
	}
}

// SetCritical names the services whose outage makes the process
// unhealthy. Others only degrade it.
func (s *Server) SetCritical(names ...string) {
	s.critical = names
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.withRequestID, s.withLogging)

	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)
	v1.HandleFunc("/backup/status", s.handleBackupStatus).Methods(http.MethodGet)
	return r
}

// Start serves until Shutdown. It returns http.ErrServerClosed after a
// clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.address, s.port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	addr := s.address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting admin server", "address", addr, "port", s.port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

type ctxKey struct{}

// RequestID returns the id assigned to the request, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"name":    "Memu",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildinfo.Info(), s.logger)
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status   string                             `json:"status"`
	Services map[string]connwatch.ServiceStatus `json:"services,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{Status: "healthy"}
	code := http.StatusOK
	if s.health != nil {
		resp.Services = s.health.Status()
		for _, st := range resp.Services {
			if !st.Ready {
				resp.Status = "degraded"
			}
		}
		for _, name := range s.critical {
			if st, ok := resp.Services[name]; ok && !st.Ready {
				resp.Status = "unhealthy"
				code = http.StatusServiceUnavailable
			}
		}
	}
	writeJSON(w, code, resp, s.logger)
}

func (s *Server) handleBackupStatus(w http.ResponseWriter, r *http.Request) {
	if s.backups == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "backup monitoring disabled"}, s.logger)
		return
	}
	st, err := s.backups.Status(r.Context())
	if err != nil {
		s.logger.Error("backup status failed", "error", err, "request_id", RequestID(r.Context()))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "backup status unavailable"}, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, st, s.logger)
}
