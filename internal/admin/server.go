package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mmarchjr/MLtune/internal/domain/model"
	"github.com/mmarchjr/MLtune/internal/tuner"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

const (
	defaultEventLimit = 50
	maxEventLimit     = 1000
)

// allowedCommands defines the valid command types for admin API input
// validation.
var allowedCommands = map[model.CommandType]bool{
	model.CommandPause:        true,
	model.CommandResume:       true,
	model.CommandStop:         true,
	model.CommandSkip:         true,
	model.CommandBacktrack:    true,
	model.CommandOptimizeNow:  true,
	model.CommandSetEnabled:   true,
	model.CommandSetThreshold: true,
}

// StatusProvider returns the coordinator snapshot shown on the admin
// surface. In production this is satisfied by *tuner.Coordinator, but
// tests can provide a simple mock.
type StatusProvider interface {
	Status() tuner.Status
}

// CommandSink accepts operator commands for the coordinator to pick up
// on its next tick. The admin server never mutates tuner state directly.
type CommandSink interface {
	Enqueue(cmd model.Command)
}

// EventSource exposes the trailing tuning history for the current session.
type EventSource interface {
	SessionID() string
	Tail(n int) []model.Event
}

// Server provides an HTTP-based admin API for operational management.
type Server struct {
	status   StatusProvider
	commands CommandSink
	events   EventSource
	logger   *slog.Logger
}

// NewServer creates a new admin API server.
func NewServer(
	status StatusProvider,
	commands CommandSink,
	logger *slog.Logger,
	opts ...ServerOption,
) *Server {
	s := &Server{
		status:   status,
		commands: commands,
		logger:   logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// WithEventSource sets the tuning history source on the admin server.
func WithEventSource(es EventSource) ServerOption {
	return func(s *Server) { s.events = es }
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/status", s.handleGetStatus)
	mux.HandleFunc("GET /admin/v1/events", s.handleGetEvents)
	mux.HandleFunc("POST /admin/v1/command", s.handlePostCommand)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status.Status())
}

type eventResponse struct {
	Time        string  `json:"time"`
	Type        string  `json:"type"`
	Coefficient string  `json:"coefficient,omitempty"`
	Value       float64 `json:"value"`
	Score       float64 `json:"score"`
	Mode        string  `json:"mode"`
	Detail      string  `json:"detail,omitempty"`
}

type eventsResponse struct {
	SessionID string          `json:"session_id"`
	Events    []eventResponse `json:"events"`
	Count     int             `json:"count"`
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, `{"error":"event history not available"}`, http.StatusServiceUnavailable)
		return
	}

	limit := defaultEventLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, `{"error":"limit must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		if n > maxEventLimit {
			n = maxEventLimit
		}
		limit = n
	}

	tail := s.events.Tail(limit)
	events := make([]eventResponse, 0, len(tail))
	for _, ev := range tail {
		events = append(events, eventResponse{
			Time:        ev.Time.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			Type:        string(ev.Type),
			Coefficient: ev.Coefficient,
			Value:       ev.Value,
			Score:       ev.Score,
			Mode:        string(ev.Mode),
			Detail:      ev.Detail,
		})
	}

	writeJSON(w, http.StatusOK, eventsResponse{
		SessionID: s.events.SessionID(),
		Events:    events,
		Count:     len(events),
	})
}

type commandRequest struct {
	Type        string `json:"type"`
	Coefficient string `json:"coefficient,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	Threshold   int    `json:"threshold,omitempty"`
}

type commandResponse struct {
	Accepted bool   `json:"accepted"`
	Type     string `json:"type"`
}

func (s *Server) handlePostCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}

	cmdType := model.CommandType(req.Type)
	if !allowedCommands[cmdType] {
		http.Error(w, `{"error":"unknown command type"}`, http.StatusBadRequest)
		return
	}

	cmd := model.Command{Type: cmdType, Coefficient: req.Coefficient}
	switch cmdType {
	case model.CommandSetEnabled:
		if req.Enabled == nil {
			http.Error(w, `{"error":"enabled field required for SET_ENABLED"}`, http.StatusBadRequest)
			return
		}
		cmd.Enabled = *req.Enabled
	case model.CommandSetThreshold:
		if req.Threshold <= 0 {
			http.Error(w, `{"error":"threshold must be a positive integer"}`, http.StatusBadRequest)
			return
		}
		cmd.Threshold = req.Threshold
	}

	s.commands.Enqueue(cmd)
	s.logger.Info("admin command accepted",
		"type", cmd.Type,
		"coefficient", cmd.Coefficient,
		"remote_addr", r.RemoteAddr,
	)

	writeJSON(w, http.StatusAccepted, commandResponse{Accepted: true, Type: string(cmd.Type)})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.status.Status()
	ok := !st.Mode.Terminal()
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"ok":   ok,
		"mode": st.Mode,
	})
}
