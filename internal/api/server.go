// Package api serves the foreground alarm surface over HTTP: the ringing
// alarm and its actions, the test alarm, the notification permission
// prompt, and the health and metrics endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/hray3182/MedAlarm/internal/alarm"
	"github.com/hray3182/MedAlarm/internal/dispatcher"
	"github.com/hray3182/MedAlarm/internal/log"
	"github.com/hray3182/MedAlarm/internal/metrics"
	"github.com/rs/zerolog"
)

// SnoozeChoices are the snooze lengths the alarm surface offers
var SnoozeChoices = []int{5, 10, 15}

// Foreground is the running foreground scheduler, see alarm.Host
type Foreground interface {
	Do(ctx context.Context, action alarm.Action) (alarm.State, error)
	Start(takenID string) error
	Stop()
	Running() bool
}

// Pinger checks the record store connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the HTTP endpoints
type Server struct {
	foreground Foreground
	permission dispatcher.PermissionProvider
	db         Pinger
	version    string
	mux        *http.ServeMux
	server     *http.Server
	logger     zerolog.Logger
}

// NewServer creates the HTTP server. db may be nil.
func NewServer(fg Foreground, permission dispatcher.PermissionProvider, db Pinger, version string) *Server {
	mux := http.NewServeMux()
	s := &Server{
		foreground: fg,
		permission: permission,
		db:         db,
		version:    version,
		mux:        mux,
		logger:     log.WithComponent("api"),
	}

	// Register endpoints
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/ready", s.readyHandler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/alarm", s.alarmHandler)
	mux.HandleFunc("/alarm/taken", s.actionHandler(alarm.ActionTake))
	mux.HandleFunc("/alarm/snooze", s.actionHandler(alarm.ActionSnooze))
	mux.HandleFunc("/alarm/dismiss", s.actionHandler(alarm.ActionDismiss))
	mux.HandleFunc("/alarm/test", s.actionHandler(alarm.ActionTest))
	mux.HandleFunc("/permission", s.permissionHandler)
	mux.HandleFunc("/foreground", s.foregroundHandler)

	return s
}

// Start serves on addr until Shutdown
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Handler returns the HTTP handler for embedding in other servers
func (s *Server) Handler() http.Handler {
	return s.mux
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// AlarmResponse is the alarm surface state
type AlarmResponse struct {
	alarm.State
	SnoozeChoices []int `json:"snooze_choices,omitempty"`
}

// PermissionResponse reports the notification permission
type PermissionResponse struct {
	Permission dispatcher.Permission `json:"permission"`
}

// ErrorResponse is returned with every non-2xx status
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// healthHandler is a liveness check
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   s.version,
	})
}

// readyHandler reports whether alarms can ring: the store is reachable and
// a foreground is running. Notification permission is informational only.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if s.db != nil {
		if err := s.db.Ping(r.Context()); err != nil {
			checks["storage"] = fmt.Sprintf("error: %v", err)
			ready = false
			message = "Storage not accessible"
		} else {
			checks["storage"] = "ok"
		}
	} else {
		checks["storage"] = "not initialized"
		ready = false
		message = "Storage not initialized"
	}

	if s.foreground != nil && s.foreground.Running() {
		checks["foreground"] = "running"
	} else {
		checks["foreground"] = "stopped"
		ready = false
		if message == "" {
			message = "No foreground running"
		}
	}

	if s.permission != nil {
		checks["notifications"] = string(s.permission.CurrentPermission())
	}

	status := "ready"
	statusCode := http.StatusOK
	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	})
}

func (s *Server) alarmHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.do(w, r, alarm.Action{Kind: alarm.ActionStatus})
}

func (s *Server) actionHandler(kind alarm.ActionKind) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		action := alarm.Action{Kind: kind}
		if kind == alarm.ActionSnooze {
			minutes, err := parseSnoozeMinutes(r.URL.Query().Get("minutes"))
			if err != nil {
				writeError(w, http.StatusBadRequest, err)
				return
			}
			action.Minutes = minutes
		}
		s.do(w, r, action)
	}
}

// parseSnoozeMinutes accepts one of SnoozeChoices; empty means the
// configured default
func parseSnoozeMinutes(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	minutes, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid minutes %q", raw)
	}
	for _, choice := range SnoozeChoices {
		if minutes == choice {
			return minutes, nil
		}
	}
	return 0, fmt.Errorf("minutes must be one of %v", SnoozeChoices)
}

func (s *Server) do(w http.ResponseWriter, r *http.Request, action alarm.Action) {
	state, err := s.foreground.Do(r.Context(), action)
	switch {
	case errors.Is(err, alarm.ErrNotRinging):
		writeError(w, http.StatusConflict, err)
		return
	case errors.Is(err, alarm.ErrNoForeground), errors.Is(err, alarm.ErrStopped):
		writeError(w, http.StatusServiceUnavailable, err)
		return
	case err != nil:
		s.logger.Error().Err(err).Str("action", string(action.Kind)).Msg("Alarm action failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	resp := AlarmResponse{State: state}
	if state.Ringing {
		resp.SnoozeChoices = SnoozeChoices
	}
	writeJSON(w, http.StatusOK, resp)
}

// permissionHandler reports the permission on GET and requests it on POST.
// A failed request never affects alarms.
func (s *Server) permissionHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, PermissionResponse{Permission: s.permission.CurrentPermission()})
	case http.MethodPost:
		perm, err := s.permission.RequestPermission(r.Context())
		if err != nil {
			s.logger.Warn().Err(err).Msg("Permission request failed")
		}
		writeJSON(w, http.StatusOK, PermissionResponse{Permission: perm})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// foregroundHandler opens (POST) or closes (DELETE) the foreground
func (s *Server) foregroundHandler(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		if err := s.foreground.Start(""); err != nil {
			writeError(w, http.StatusServiceUnavailable, err)
			return
		}
	case http.MethodDelete:
		s.foreground.Stop()
	case http.MethodGet:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.foreground.Running()})
}
