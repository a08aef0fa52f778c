package admin

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmarchjr/MLtune/internal/domain/model"
	"github.com/mmarchjr/MLtune/internal/tuner"
)

type stubStatusProvider struct {
	status tuner.Status
}

func (s *stubStatusProvider) Status() tuner.Status { return s.status }

type stubCommandSink struct {
	commands []model.Command
}

func (s *stubCommandSink) Enqueue(cmd model.Command) {
	s.commands = append(s.commands, cmd)
}

type stubEventSource struct {
	sessionID string
	events    []model.Event
	lastN     int
}

func (s *stubEventSource) SessionID() string { return s.sessionID }

func (s *stubEventSource) Tail(n int) []model.Event {
	s.lastN = n
	if n > len(s.events) {
		n = len(s.events)
	}
	return s.events[len(s.events)-n:]
}

func newTestServer(t *testing.T, status tuner.Status, opts ...ServerOption) (*Server, *stubCommandSink) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	sink := &stubCommandSink{}
	return NewServer(&stubStatusProvider{status: status}, sink, logger, opts...), sink
}

func TestServer_GetStatus(t *testing.T) {
	srv, _ := newTestServer(t, tuner.Status{
		Mode:              model.ModeTuning,
		ActiveCoefficient: "flywheel_k1",
		ActiveValue:       0.42,
		CoefficientIndex:  1,
		CoefficientCount:  3,
		PendingSamples:    4,
		OperatorEnabled:   true,
		ShotThreshold:     10,
	})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var got tuner.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, model.ModeTuning, got.Mode)
	assert.Equal(t, "flywheel_k1", got.ActiveCoefficient)
	assert.Equal(t, 4, got.PendingSamples)
	assert.Equal(t, 10, got.ShotThreshold)
}

func TestServer_GetEvents(t *testing.T) {
	events := &stubEventSource{
		sessionID: "session-test-1234",
		events: []model.Event{
			{Time: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC), Type: model.EventSessionStart, Mode: model.ModeTuning},
			{Time: time.Date(2026, 3, 14, 9, 0, 1, 0, time.UTC), Type: model.EventWrite, Coefficient: "flywheel_k1", Value: 0.61, Mode: model.ModeTuning},
		},
	}
	srv, _ := newTestServer(t, tuner.Status{Mode: model.ModeTuning}, WithEventSource(events))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/events", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, defaultEventLimit, events.lastN)

	var resp eventsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "session-test-1234", resp.SessionID)
	require.Len(t, resp.Events, 2)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "SESSION_START", resp.Events[0].Type)
	assert.Equal(t, "flywheel_k1", resp.Events[1].Coefficient)
	assert.InDelta(t, 0.61, resp.Events[1].Value, 1e-12)
}

func TestServer_GetEvents_LimitParam(t *testing.T) {
	events := &stubEventSource{sessionID: "s"}
	srv, _ := newTestServer(t, tuner.Status{Mode: model.ModeTuning}, WithEventSource(events))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/events?limit=7", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, events.lastN)

	// Oversized limits are clamped, not rejected.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/events?limit=99999", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxEventLimit, events.lastN)
}

func TestServer_GetEvents_InvalidLimit(t *testing.T) {
	srv, _ := newTestServer(t, tuner.Status{}, WithEventSource(&stubEventSource{}))

	for _, limit := range []string{"0", "-3", "abc"} {
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/events?limit="+limit, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestServer_GetEvents_NoSource(t *testing.T) {
	srv, _ := newTestServer(t, tuner.Status{})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/v1/events", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_PostCommand(t *testing.T) {
	srv, sink := newTestServer(t, tuner.Status{Mode: model.ModeTuning})

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/v1/command", strings.NewReader(`{"type":"PAUSE"}`))
	srv.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.commands, 1)
	assert.Equal(t, model.CommandPause, sink.commands[0].Type)

	var resp commandResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Accepted)
	assert.Equal(t, "PAUSE", resp.Type)
}

func TestServer_PostCommand_Backtrack(t *testing.T) {
	srv, sink := newTestServer(t, tuner.Status{Mode: model.ModeTuning})

	rec := httptest.NewRecorder()
	body := `{"type":"BACKTRACK","coefficient":"hood_angle_offset"}`
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/command", strings.NewReader(body)))

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.commands, 1)
	assert.Equal(t, model.CommandBacktrack, sink.commands[0].Type)
	assert.Equal(t, "hood_angle_offset", sink.commands[0].Coefficient)
}

func TestServer_PostCommand_SetEnabled(t *testing.T) {
	srv, sink := newTestServer(t, tuner.Status{Mode: model.ModeTuning})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/command",
		strings.NewReader(`{"type":"SET_ENABLED","enabled":false}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.commands, 1)
	assert.Equal(t, model.CommandSetEnabled, sink.commands[0].Type)
	assert.False(t, sink.commands[0].Enabled)

	// Missing the enabled field is rejected, not defaulted.
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/command",
		strings.NewReader(`{"type":"SET_ENABLED"}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, sink.commands, 1)
}

func TestServer_PostCommand_SetThreshold(t *testing.T) {
	srv, sink := newTestServer(t, tuner.Status{Mode: model.ModeTuning})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/command",
		strings.NewReader(`{"type":"SET_THRESHOLD","threshold":15}`)))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, sink.commands, 1)
	assert.Equal(t, 15, sink.commands[0].Threshold)

	for _, body := range []string{
		`{"type":"SET_THRESHOLD"}`,
		`{"type":"SET_THRESHOLD","threshold":0}`,
		`{"type":"SET_THRESHOLD","threshold":-5}`,
	} {
		rec = httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/command", strings.NewReader(body)))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body=%s", body)
	}
	assert.Len(t, sink.commands, 1)
}

func TestServer_PostCommand_UnknownType(t *testing.T) {
	srv, sink := newTestServer(t, tuner.Status{Mode: model.ModeTuning})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/command",
		strings.NewReader(`{"type":"SELF_DESTRUCT"}`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "unknown command type")
	assert.Empty(t, sink.commands)
}

func TestServer_PostCommand_InvalidJSON(t *testing.T) {
	srv, sink := newTestServer(t, tuner.Status{Mode: model.ModeTuning})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/v1/command",
		strings.NewReader(`{not json`)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, sink.commands)
}

func TestServer_Healthz(t *testing.T) {
	srv, _ := newTestServer(t, tuner.Status{Mode: model.ModePaused})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok":true`)

	srv, _ = newTestServer(t, tuner.Status{Mode: model.ModeShutdown})
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_MethodNotAllowed(t *testing.T) {
	srv, _ := newTestServer(t, tuner.Status{Mode: model.ModeTuning})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/admin/v1/command", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
