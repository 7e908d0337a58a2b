package dispatch_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/deskflow/pkg/dispatch"
	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newDispatcher(t *testing.T, url string) *dispatch.HTTPDispatcher {
	t.Helper()

	d, err := dispatch.NewHTTPDispatcher(dispatch.HTTPConfig{
		BaseURL:         url,
		Token:           "secret",
		Timeout:         time.Second,
		MaxTries:        3,
		InitialInterval: time.Millisecond,
	}, testLogger())
	require.NoError(t, err)

	return d
}

func TestNewHTTPDispatcher_InvalidEndpoint(t *testing.T) {
	t.Parallel()

	for _, url := range []string{"", "not a url", "/relative/path"} {
		_, err := dispatch.NewHTTPDispatcher(dispatch.HTTPConfig{BaseURL: url}, testLogger())
		require.ErrorIs(t, err, dispatch.ErrInvalidEndpoint, url)
	}
}

func TestHTTPDispatcher_Dispatch(t *testing.T) {
	t.Parallel()

	var received engine.ActionIntent

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/actions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"sent","reference":"msg-42","data":{"channel":"sms"}}`))
	}))
	defer server.Close()

	d := newDispatcher(t, server.URL+"/api/")

	outcome, err := d.Dispatch(context.Background(), engine.ActionIntent{
		RunID:      "run-1",
		NodeID:     "notify",
		ActionType: "send-notification",
		Target:     "oncall",
		Ticket:     models.Ticket{ID: "T-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, "sent", outcome.Status)
	assert.Equal(t, "msg-42", outcome.Reference)
	assert.Equal(t, map[string]any{"channel": "sms"}, outcome.Data)
	assert.Equal(t, "oncall", received.Target)
	assert.Equal(t, "T-1", received.Ticket.ID)
}

func TestHTTPDispatcher_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := newDispatcher(t, server.URL)

	outcome, err := d.Dispatch(context.Background(), engine.ActionIntent{ActionType: "create-task", Target: "backlog"})
	require.NoError(t, err)
	assert.Equal(t, "accepted", outcome.Status)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDispatcher_GivesUpAfterMaxTries(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	d := newDispatcher(t, server.URL)

	_, err := d.Assign(context.Background(), engine.AgentTask{PresetKey: "billing-agent"})
	require.ErrorIs(t, err, dispatch.ErrRemoteUnavailable)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPDispatcher_ClientErrorsAreNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown room participant", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	d := newDispatcher(t, server.URL)

	_, err := d.CreateRoom(context.Background(), engine.RoomRequest{Name: "ticket-T-1"})
	require.ErrorIs(t, err, dispatch.ErrRemoteRejected)
	assert.Contains(t, err.Error(), "unknown room participant")
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTPDispatcher_CreateRoomAndVerify(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /rooms", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"room-7"}`))
	})
	mux.HandleFunc("POST /verifications", func(w http.ResponseWriter, r *http.Request) {
		var req engine.VerificationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		_ = json.NewEncoder(w).Encode(map[string]bool{"passed": req.DocumentPath == "kb/sla.md"})
	})

	server := httptest.NewServer(mux)
	defer server.Close()

	d := newDispatcher(t, server.URL)

	room, err := d.CreateRoom(context.Background(), engine.RoomRequest{Name: "war-room"})
	require.NoError(t, err)
	assert.Equal(t, engine.Room{ID: "room-7", Name: "war-room"}, room)

	passed, err := d.Verify(context.Background(), engine.VerificationRequest{DocumentPath: "kb/sla.md"})
	require.NoError(t, err)
	assert.True(t, passed)

	passed, err = d.Verify(context.Background(), engine.VerificationRequest{DocumentPath: "kb/other.md"})
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestHTTPDispatcher_DrivesEngine(t *testing.T) {
	t.Parallel()

	var actions atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		actions.Add(1)
		_, _ = w.Write([]byte(`{"status":"updated"}`))
	}))
	defer server.Close()

	recorder := dispatch.NewRecorder()
	eng := engine.New(engine.Config{}, newDispatcher(t, server.URL).Collaborators(recorder))

	g := &models.Graph{Nodes: []*models.Node{
		{ID: "start", Type: models.NodeTypeStart},
		{ID: "tag", Type: models.NodeTypeAction, Params: map[string]any{"actionType": "update-ticket", "target": "status"}},
		{ID: "escalate", Type: models.NodeTypeEscalation, Params: map[string]any{"escalationLevel": "level-2", "timeout": "30"}},
		{ID: "end", Type: models.NodeTypeEnd},
	}}

	res, err := eng.Execute(context.Background(), g, models.Ticket{ID: "T-9"})
	require.NoError(t, err)
	assert.Equal(t, models.RunStateCompleted, res.State)
	assert.Equal(t, "updated", res.Trace[1].Detail["status"])
	assert.Equal(t, int32(1), actions.Load())
	require.Len(t, recorder.Escalations(), 1)
	assert.Equal(t, 30*time.Minute, recorder.Escalations()[0].Timeout)
}
