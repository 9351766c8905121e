package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/docsync/pkg/adapters/ws"
	"github.com/aretw0/docsync/pkg/core"
	"github.com/aretw0/docsync/pkg/hub"
)

func setup(t *testing.T) (*hub.Hub, string) {
	t.Helper()

	h := hub.New()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()

	srv := httptest.NewServer(ws.NewServer(h, nil, nil))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return h, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func waitSessions(t *testing.T, h *hub.Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return h.State().(hub.HubState).Sessions == n
	}, 2*time.Second, 10*time.Millisecond)
}

func TestServer_StreamsChanges(t *testing.T) {
	h, url := setup(t)
	a := dial(t, url)
	b := dial(t, url)
	waitSessions(t, h, 2)

	h.Publish(core.ChangeEvent{
		Kind:      core.EventUpdated,
		Namespace: "demo",
		Name:      "a.yaml",
		Payload:   map[string]any{"title": "Hello"},
		Timestamp: time.Now(),
	})

	for _, conn := range []*websocket.Conn{a, b} {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		messageType, frame, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, websocket.TextMessage, messageType)

		var msg hub.Message
		require.NoError(t, json.Unmarshal(frame, &msg))
		assert.Equal(t, hub.TypeFileUpdate, msg.Type)
		assert.Equal(t, "a.yaml", msg.Filename)
		assert.Equal(t, map[string]any{"title": "Hello"}, msg.Data)
	}
}

func TestServer_LeavesOnDisconnect(t *testing.T) {
	h, url := setup(t)
	conn := dial(t, url)
	waitSessions(t, h, 1)

	require.NoError(t, conn.WriteJSON(hub.Command{Type: hub.CommandSubscribe, Keys: []string{"demo/a.yaml"}}))
	require.NoError(t, conn.Close())

	waitSessions(t, h, 0)
}

func TestServer_ClosesWhenHubCloses(t *testing.T) {
	h, url := setup(t)
	conn := dial(t, url)
	waitSessions(t, h, 1)

	h.Close()

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "unexpected error: %v", err)
}
