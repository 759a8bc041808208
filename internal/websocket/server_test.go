package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lerian-entity-resolver/internal/engine"
	"lerian-entity-resolver/internal/logging"
)

func startServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv := NewServer(nil, logging.NewNoOpLogger())
	require.NoError(t, srv.Start())
	ts := httptest.NewServer(srv)
	t.Cleanup(func() {
		srv.Stop()
		ts.Close()
	})
	return srv, ts
}

func dial(t *testing.T, ts *httptest.Server, userID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?user_id=" + userID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) engine.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var ev engine.Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestServer_StreamsEventsOfOneUser(t *testing.T) {
	srv, ts := startServer(t)
	conn := dial(t, ts, "u1")

	welcome := readEvent(t, conn)
	assert.Equal(t, EventConnected, welcome.Type)
	assert.Equal(t, 1, srv.ClientCount())

	srv.Publish(engine.Event{Type: engine.EventContextCleared, UserID: "u2"})
	srv.Publish(engine.Event{Type: engine.EventBatchCompleted, UserID: "u1", BatchID: "b1"})

	ev := readEvent(t, conn)
	assert.Equal(t, engine.EventBatchCompleted, ev.Type)
	assert.Equal(t, "b1", ev.BatchID)
}

func TestServer_Ping(t *testing.T) {
	_, ts := startServer(t)
	conn := dial(t, ts, "u1")
	readEvent(t, conn)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "ping"}))
	assert.Equal(t, EventPong, readEvent(t, conn).Type)
}

func TestServer_RequiresUser(t *testing.T) {
	_, ts := startServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_StopDisconnectsClients(t *testing.T) {
	srv, ts := startServer(t)
	conn := dial(t, ts, "u1")
	readEvent(t, conn)

	srv.Stop()
	assert.Equal(t, 0, srv.ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	assert.Error(t, srv.Start())
}

func TestCheckOrigin(t *testing.T) {
	tests := []struct {
		name    string
		origin  string
		allowed []string
		want    bool
	}{
		{"no origin", "", nil, true},
		{"same host", "http://example.com", nil, true},
		{"other host", "http://evil.test", nil, false},
		{"listed", "https://app.example.com", []string{"https://app.example.com"}, true},
		{"wildcard", "https://anything.test", []string{"*"}, true},
		{"not listed", "https://evil.test", []string{"https://app.example.com"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example.com/events", http.NoBody)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checkOrigin(r, tt.allowed))
		})
	}
}
