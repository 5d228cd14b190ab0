package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTestHub(t *testing.T, snapshot SnapshotFunc) (*Hub, string) {
	t.Helper()

	h := NewHub(zerolog.Nop(), snapshot)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go h.Run(ctx)

	server := httptest.NewServer(http.HandlerFunc(h.ServeWS))
	t.Cleanup(server.Close)

	return h, "ws" + strings.TrimPrefix(server.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var env Envelope
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	return env
}

func TestHub_SnapshotPrecedesLiveEvents(t *testing.T) {
	h, url := startTestHub(t, func(context.Context) interface{} {
		return map[string]string{"state": "initial"}
	})

	conn := dial(t, url)

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	h.Publish("heartbeat", map[string]string{"device_id": "DEV1"})

	first := readEnvelope(t, conn)
	assert.Equal(t, "snapshot", first.Event)

	second := readEnvelope(t, conn)
	assert.Equal(t, "heartbeat", second.Event)
}

func TestHub_DeliversInPublishOrder(t *testing.T) {
	h, url := startTestHub(t, nil)
	conn := dial(t, url)

	// Wait until the subscriber is registered before publishing.
	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	const n = 20
	for i := 0; i < n; i++ {
		h.Publish("access", map[string]int{"seq": i})
	}

	for i := 0; i < n; i++ {
		env := readEnvelope(t, conn)
		require.Equal(t, "access", env.Event)
		payload, ok := env.Payload.(map[string]interface{})
		require.True(t, ok)
		assert.Equal(t, float64(i), payload["seq"], "events must arrive in publish order")
	}
}

func TestHub_FanOutToAllSubscribers(t *testing.T) {
	h, url := startTestHub(t, nil)
	connA := dial(t, url)
	connB := dial(t, url)

	require.Eventually(t, func() bool { return h.SubscriberCount() == 2 },
		2*time.Second, 10*time.Millisecond)

	h.Publish("device-event", map[string]string{"device_id": "DEV1"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		env := readEnvelope(t, conn)
		assert.Equal(t, "device-event", env.Event)
	}
}

func TestHub_PublishNeverBlocksWithoutSubscribers(t *testing.T) {
	h, _ := startTestHub(t, nil)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < broadcastQueueSize*2; i++ {
			h.Publish("heartbeat", map[string]int{"seq": i})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Publish blocked the ingestion path")
	}
}

func TestHub_UnregisterOnDisconnect(t *testing.T) {
	h, url := startTestHub(t, nil)
	conn := dial(t, url)

	require.Eventually(t, func() bool { return h.SubscriberCount() == 1 },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second)))
	conn.Close()

	require.Eventually(t, func() bool { return h.SubscriberCount() == 0 },
		2*time.Second, 10*time.Millisecond)

	// Publishing with nobody connected is still fine.
	h.Publish("status", fmt.Sprintf("roster for %s", "DEV1"))
}
