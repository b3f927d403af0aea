package broadcast

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Serve(ctx)

	srv := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForViewers(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return hub.Viewers() == n }, 2*time.Second, 10*time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_PublishReachesViewer(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitForViewers(t, hub, 1)

	require.NoError(t, hub.Publish(TopicSamples, map[string]string{"tag_mac": "aa"}))

	msg := readMessage(t, conn)
	assert.Equal(t, TopicSamples, msg.Type)
	assert.JSONEq(t, `{"tag_mac":"aa"}`, string(msg.Data))
}

func TestHub_TopicFilter(t *testing.T) {
	hub, srv := startHub(t)
	alarmsOnly := dial(t, srv, "?topic=alarms")
	waitForViewers(t, hub, 1)

	require.NoError(t, hub.Publish(TopicSamples, "sample"))
	require.NoError(t, hub.Publish(TopicAlarms, "alarm"))

	msg := readMessage(t, alarmsOnly)
	assert.Equal(t, TopicAlarms, msg.Type, "samples topic is filtered out")
}

func TestHub_ViewerDisconnect(t *testing.T) {
	hub, srv := startHub(t)
	conn := dial(t, srv, "")
	waitForViewers(t, hub, 1)

	conn.Close()
	waitForViewers(t, hub, 0)
}

func TestHub_PublishWithoutViewers(t *testing.T) {
	hub := NewHub()
	for i := 0; i < 1000; i++ {
		assert.NoError(t, hub.Publish(TopicSamples, i), "publish never blocks")
	}
}
