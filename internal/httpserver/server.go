// Package httpserver exposes the operational HTTP endpoint: liveness,
// readiness, build info, migration status and Prometheus metrics.
package httpserver

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"bankanalysis/ratio-server/internal/migrations"
)

const (
	serviceName = "ratio-server"
	version     = "0.1.0"
)

type Pinger interface {
	PingContext(ctx context.Context) error
}

type MigrationStatus interface {
	Status(ctx context.Context) ([]migrations.Status, error)
}

type SessionCounter interface {
	Count(ctx context.Context) (int, error)
}

type ConnectionCounter interface {
	ActiveConnections() int
}

// Deps are all optional; a nil dependency turns its check or field off.
type Deps struct {
	DB          Pinger
	Migrations  MigrationStatus
	Sessions    SessionCounter
	Connections ConnectionCounter
	// Ready reports whether the protocol listener is accepting.
	Ready   func() bool
	Metrics http.Handler
	Logger  *slog.Logger
}

type Server struct {
	httpServer *http.Server
}

func New(addr string, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Server{
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           loggingMiddleware(deps.Logger, NewHandler(deps)),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       10 * time.Second,
			WriteTimeout:      15 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

func NewHandler(deps Deps) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Ready != nil && !deps.Ready() {
			writeError(w, http.StatusServiceUnavailable, "protocol listener not ready")
			return
		}
		if deps.DB != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := deps.DB.PingContext(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "database unavailable")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
	mux.HandleFunc("/v1/info", func(w http.ResponseWriter, r *http.Request) {
		info := map[string]any{
			"service": serviceName,
			"version": version,
		}
		if deps.Connections != nil {
			info["activeConnections"] = deps.Connections.ActiveConnections()
		}
		if deps.Sessions != nil {
			if n, err := deps.Sessions.Count(r.Context()); err == nil {
				info["activeSessions"] = n
			}
		}
		writeJSON(w, http.StatusOK, info)
	})
	mux.HandleFunc("/v1/system/migrations/status", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if deps.Migrations == nil {
			writeError(w, http.StatusServiceUnavailable, "migration service unavailable")
			return
		}
		status, err := deps.Migrations.Status(r.Context())
		if err != nil {
			deps.Logger.Error("migration status failed", "err", err)
			writeError(w, http.StatusInternalServerError, "migration status failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": status})
	})
	if deps.Metrics != nil {
		mux.Handle("/metrics", deps.Metrics)
	}
	return mux
}

func (s *Server) Addr() string { return s.httpServer.Addr }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.status = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

func loggingMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if reqID == "" {
			reqID = newRequestID()
		}
		w.Header().Set("X-Request-Id", reqID)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("ops request",
			"rid", reqID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"elapsed", time.Since(start),
		)
	})
}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(b)
}
