package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T, hub *Hub) string {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		client := NewClient(hub, conn)
		client.Register()
		go client.ReadPump()
		go client.WritePump()
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHubSendsInitData(t *testing.T) {
	hub := NewHub(zap.NewNop())
	hub.SetInitDataProvider(func() *InitData {
		return &InitData{Devices: []string{"dev1"}, Snapshots: []string{}}
	})
	go hub.Run()
	t.Cleanup(hub.Close)

	conn := dial(t, newTestServer(t, hub))

	msg := readMessage(t, conn)
	assert.Equal(t, MsgTypeInit, msg.Type)
	data := msg.Data.(map[string]any)
	assert.Equal(t, []any{"dev1"}, data["devices"])
	assert.Equal(t, 1, hub.ClientCount())
}

func TestHubDeviceSubscription(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Close)

	url := newTestServer(t, hub)
	all := dial(t, url)
	only := dial(t, url)

	payload, err := json.Marshal(command{Action: ActionSubscribe, DeviceID: "dev2"})
	require.NoError(t, err)
	require.NoError(t, only.WriteMessage(websocket.TextMessage, payload))
	time.Sleep(100 * time.Millisecond)

	hub.BroadcastSnapshot("dev1", map[string]string{"device_id": "dev1"})
	hub.BroadcastSnapshot("dev2", map[string]string{"device_id": "dev2"})

	first := readMessage(t, all)
	assert.Equal(t, MsgTypeSnapshotUpdate, first.Type)
	assert.Equal(t, "dev1", first.DeviceID)
	assert.Equal(t, "dev2", readMessage(t, all).DeviceID)

	// 只订阅了 dev2 的客户端收不到 dev1
	got := readMessage(t, only)
	assert.Equal(t, "dev2", got.DeviceID)
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	hub := NewHub(zap.NewNop())
	go hub.Run()

	conn := dial(t, newTestServer(t, hub))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	hub.Close()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)

	// Close 之后广播不会阻塞
	hub.BroadcastMessage(MsgTypeError, "", "ignored")
}
