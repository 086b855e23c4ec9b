package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/ipprism/internal/analysis"
)

func TestManagerLifecycle(t *testing.T) {
	runner := newFakeRunner()
	m := NewManager(runner, testLogger())

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2"}, SourceName: "test"})
	require.NoError(t, err)
	assert.Equal(t, RunRunning, view.State)
	assert.Equal(t, 2, view.Addresses)

	require.True(t, waitDone(m, view.ID))

	final, ok := m.Get(view.ID)
	require.True(t, ok)
	assert.Equal(t, RunCompleted, final.State)
	assert.Equal(t, 2, final.Events)
	require.NotNil(t, final.Outcome)
	assert.Equal(t, int64(7), final.Outcome.BatchID)
	assert.NotNil(t, final.FinishedAt)

	_, ok = m.Get("missing")
	assert.False(t, ok)
}

func TestManagerRunFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.err = fmt.Errorf("failed to create batch: boom")
	m := NewManager(runner, testLogger())

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1"}})
	require.NoError(t, err)
	require.True(t, waitDone(m, view.ID))

	final, _ := m.Get(view.ID)
	assert.Equal(t, RunFailed, final.State)
	assert.Contains(t, final.Error, "boom")
	assert.Nil(t, final.Outcome)
}

func TestManagerHaltedRunIsFailed(t *testing.T) {
	runner := newFakeRunner()
	runner.haltReason = "[DATABASE_CONNECTION] Failed to connect to database"
	m := NewManager(runner, testLogger())

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1"}})
	require.NoError(t, err)
	require.True(t, waitDone(m, view.ID))

	final, _ := m.Get(view.ID)
	assert.Equal(t, RunFailed, final.State)
	assert.Contains(t, final.Error, "Failed to connect to database")
	require.NotNil(t, final.Outcome)
	assert.Equal(t, analysis.StatusHalted, final.Outcome.Status)
}

func TestManagerForgetsOldestFinishedRuns(t *testing.T) {
	runner := newFakeRunner()
	m := NewManager(runner, testLogger(), WithRetainedRuns(2))

	var ids []string
	for i := 0; i < 4; i++ {
		view, err := m.Start(analysis.Request{Addresses: []string{fmt.Sprintf("10.0.0.%d", i+1)}})
		require.NoError(t, err)
		require.True(t, waitDone(m, view.ID))
		ids = append(ids, view.ID)
		time.Sleep(2 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(m.List()) == 2 }, 5*time.Second, 10*time.Millisecond)
	_, ok := m.Get(ids[0])
	assert.False(t, ok)
	_, ok = m.Get(ids[1])
	assert.False(t, ok)
	_, ok = m.Get(ids[3])
	assert.True(t, ok)
}

func TestManagerKeepsRunningRunsPastRetention(t *testing.T) {
	runner := newFakeRunner()
	runner.hold = true
	m := NewManager(runner, testLogger(), WithRetainedRuns(1))

	first, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2"}})
	require.NoError(t, err)
	second, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.3", "10.0.0.4"}})
	require.NoError(t, err)
	<-runner.started
	<-runner.started

	assert.Len(t, m.List(), 2)
	close(runner.release)
	require.True(t, waitDone(m, second.ID))

	require.Eventually(t, func() bool { return len(m.List()) == 1 }, 5*time.Second, 10*time.Millisecond)
	_, ok := m.Get(first.ID)
	assert.False(t, ok)
	_, ok = m.Get(second.ID)
	assert.True(t, ok)
}

func TestManagerCancel(t *testing.T) {
	runner := newFakeRunner()
	runner.hold = true
	m := NewManager(runner, testLogger())

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}})
	require.NoError(t, err)
	<-runner.started

	_, ok := m.Cancel(view.ID)
	require.True(t, ok)
	require.True(t, waitDone(m, view.ID))

	final, _ := m.Get(view.ID)
	assert.Equal(t, RunCancelled, final.State)
	assert.Equal(t, 2, final.Outcome.Abandoned)

	_, ok = m.Cancel("missing")
	assert.False(t, ok)
}

func TestManagerSubscribeReplaysAndStreams(t *testing.T) {
	runner := newFakeRunner()
	runner.hold = true
	m := NewManager(runner, testLogger())

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}})
	require.NoError(t, err)
	<-runner.started

	// The first event is published by the sink's drain goroutine.
	require.Eventually(t, func() bool {
		v, _ := m.Get(view.ID)
		return v.Events == 1
	}, 5*time.Second, 10*time.Millisecond)

	sub, ok := m.Subscribe(view.ID)
	require.True(t, ok)
	defer sub.Close()
	require.Len(t, sub.Replay, 1)
	assert.Equal(t, "10.0.0.1", sub.Replay[0].Address)

	close(runner.release)

	var streamed []string
	for ev := range sub.Events {
		streamed = append(streamed, ev.Address)
	}
	assert.Equal(t, []string{"10.0.0.2", "10.0.0.3"}, streamed)

	// Subscribing after the run finished replays everything and closes at once.
	late, ok := m.Subscribe(view.ID)
	require.True(t, ok)
	assert.Len(t, late.Replay, 3)
	_, open := <-late.Events
	assert.False(t, open)
	late.Close()
}

func TestManagerDropsSlowSubscriber(t *testing.T) {
	run := &analysisRun{subscribers: make(map[chan analysis.Event]struct{}), done: make(chan struct{})}
	ch := make(chan analysis.Event, 1)
	run.subscribers[ch] = struct{}{}

	run.publish(analysis.Event{Address: "10.0.0.1"})
	run.publish(analysis.Event{Address: "10.0.0.2"})

	assert.Empty(t, run.subscribers)
	assert.Len(t, run.events, 2)
	ev, open := <-ch
	assert.True(t, open)
	assert.Equal(t, "10.0.0.1", ev.Address)
	_, open = <-ch
	assert.False(t, open)
}

func TestManagerShutdown(t *testing.T) {
	runner := newFakeRunner()
	runner.hold = true
	m := NewManager(runner, testLogger())

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2"}})
	require.NoError(t, err)
	<-runner.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	final, _ := m.Get(view.ID)
	assert.Equal(t, RunCancelled, final.State)

	_, err = m.Start(analysis.Request{Addresses: []string{"10.0.0.1"}})
	assert.Error(t, err)
}

func TestManagerListNewestFirst(t *testing.T) {
	m := NewManager(newFakeRunner(), testLogger())
	first, _ := m.Start(analysis.Request{Addresses: []string{"10.0.0.1"}})
	time.Sleep(2 * time.Millisecond)
	second, _ := m.Start(analysis.Request{Addresses: []string{"10.0.0.2"}})

	views := m.List()
	require.Len(t, views, 2)
	assert.Equal(t, second.ID, views[0].ID)
	assert.Equal(t, first.ID, views[1].ID)
}

func TestAnalysisHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantAddrs  []string
		wantSource string
	}{
		{
			name:       "text is scanned",
			body:       `{"text": "hits from 10.0.0.2 and 10.0.0.1, again 10.0.0.2", "source_name": "fw.log"}`,
			wantStatus: http.StatusAccepted,
			wantAddrs:  []string{"10.0.0.1", "10.0.0.2"},
			wantSource: "fw.log",
		},
		{
			name:       "addresses and text are merged",
			body:       `{"text": "10.0.0.9", "addresses": ["10.0.0.1", "not-an-ip", " 10.0.0.9 "]}`,
			wantStatus: http.StatusAccepted,
			wantAddrs:  []string{"10.0.0.1", "10.0.0.9"},
			wantSource: DefaultSourceName,
		},
		{
			name:       "no addresses",
			body:       `{"text": "nothing to see"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "neither text nor addresses",
			body:       `{"source_name": "x"}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown field",
			body:       `{"text": "10.0.0.1", "bogus": true}`,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "empty body",
			body:       ``,
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := newFakeRunner()
			m := NewManager(runner, testLogger())
			h := NewAnalysisHandler(m, testLogger())

			rec := httptest.NewRecorder()
			h.Create(rec, jsonRequest(http.MethodPost, "/api/v1/analyses", tt.body))
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusAccepted {
				var resp ErrorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, "Bad Request", resp.Error)
				return
			}

			var view RunView
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
			assert.Equal(t, "/api/v1/analyses/"+view.ID, rec.Header().Get("Location"))
			require.True(t, waitDone(m, view.ID))

			req := runner.lastRequest()
			assert.Equal(t, tt.wantAddrs, req.Addresses)
			assert.Equal(t, tt.wantSource, req.SourceName)
		})
	}
}

func TestAnalysisHandler_GetAndCancel(t *testing.T) {
	runner := newFakeRunner()
	runner.hold = true
	m := NewManager(runner, testLogger())
	h := NewAnalysisHandler(m, testLogger())

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2"}})
	require.NoError(t, err)
	<-runner.started

	rec := serve("/api/v1/analyses/{id}", http.MethodGet, h.Get,
		httptest.NewRequest(http.MethodGet, "/api/v1/analyses/"+view.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var got RunView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, RunRunning, got.State)

	rec = serve("/api/v1/analyses/{id}", http.MethodDelete, h.Cancel,
		httptest.NewRequest(http.MethodDelete, "/api/v1/analyses/"+view.ID, nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.True(t, waitDone(m, view.ID))

	final, _ := m.Get(view.ID)
	assert.Equal(t, RunCancelled, final.State)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		handler := h.Get
		if method == http.MethodDelete {
			handler = h.Cancel
		}
		rec = serve("/api/v1/analyses/{id}", method, handler,
			httptest.NewRequest(method, "/api/v1/analyses/nope", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestAnalysisHandler_List(t *testing.T) {
	m := NewManager(newFakeRunner(), testLogger())
	h := NewAnalysisHandler(m, testLogger())
	view, _ := m.Start(analysis.Request{Addresses: []string{"10.0.0.1"}})
	require.True(t, waitDone(m, view.ID))

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/analyses", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var views []RunView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	require.Len(t, views, 1)
	assert.Equal(t, view.ID, views[0].ID)
}

func dialEvents(t *testing.T, server *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/analyses/" + id + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) WebSocketMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg WebSocketMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func eventsServer(m *Manager) *httptest.Server {
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/analyses/{id}/events", NewWebSocketHandler(m, testLogger()).Events)
	return httptest.NewServer(router)
}

func TestWebSocketHandler_ReplayThenStream(t *testing.T) {
	runner := newFakeRunner()
	runner.hold = true
	m := NewManager(runner, testLogger())
	server := eventsServer(m)
	defer server.Close()

	view, err := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2"}})
	require.NoError(t, err)
	<-runner.started
	require.Eventually(t, func() bool {
		v, _ := m.Get(view.ID)
		return v.Events == 1
	}, 5*time.Second, 10*time.Millisecond)

	conn := dialEvents(t, server, view.ID)

	replayed := readMessage(t, conn)
	assert.Equal(t, MessageEvent, replayed.Type)
	data := replayed.Data.(map[string]interface{})
	assert.Equal(t, "10.0.0.1", data["address"])

	close(runner.release)

	streamed := readMessage(t, conn)
	assert.Equal(t, MessageEvent, streamed.Type)
	assert.Equal(t, "10.0.0.2", streamed.Data.(map[string]interface{})["address"])

	final := readMessage(t, conn)
	assert.Equal(t, MessageOutcome, final.Type)
	assert.Equal(t, string(RunCompleted), final.Data.(map[string]interface{})["state"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err = conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
}

func TestWebSocketHandler_FinishedRun(t *testing.T) {
	m := NewManager(newFakeRunner(), testLogger())
	server := eventsServer(m)
	defer server.Close()

	view, _ := m.Start(analysis.Request{Addresses: []string{"10.0.0.1", "10.0.0.2", "10.0.0.3"}})
	require.True(t, waitDone(m, view.ID))

	conn := dialEvents(t, server, view.ID)
	for i := 0; i < 3; i++ {
		assert.Equal(t, MessageEvent, readMessage(t, conn).Type)
	}
	assert.Equal(t, MessageOutcome, readMessage(t, conn).Type)
}

func TestWebSocketHandler_UnknownRun(t *testing.T) {
	m := NewManager(newFakeRunner(), testLogger())
	server := eventsServer(m)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/v1/analyses/nope/events"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
