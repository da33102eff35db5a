package notify

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

	"github.com/apexsec/apex/internal/config"
	"github.com/apexsec/apex/internal/logger"
	"github.com/apexsec/apex/pkg/types"
)

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	log, err := logger.New(config.LoggerConfig{
		Level:       "error",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	})
	require.NoError(t, err)
	return NewHub(log)
}

func dialHub(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("hub never reached %d clients", want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_DeliversScanUpdate(t *testing.T) {
	hub := newTestHub(t)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.ScanUpdate(42)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "scan-update", event.Type)

	data, ok := event.Data.(map[string]interface{})
	require.True(t, ok)
	assert.EqualValues(t, 42, data["asset_id"])
}

func TestHub_DeliversImportProgress(t *testing.T) {
	hub := newTestHub(t)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	hub.ImportProgress(&types.ImportResult{ImportID: "imp-9", Successful: 7})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var event Event
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, "import-progress", event.Type)
}

func TestHub_BroadcastWithoutClientsIsHarmless(t *testing.T) {
	hub := newTestHub(t)
	hub.ScanUpdate(1)
	hub.ImportProgress(&types.ImportResult{ImportID: "x"})
	assert.Equal(t, 0, hub.ClientCount())
}

func TestHub_DisconnectedClientIsDropped(t *testing.T) {
	hub := newTestHub(t)
	conn := dialHub(t, hub)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}
