package httpapi

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"treeguard/internal/fanout"
	"treeguard/internal/models"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func dialStream(t *testing.T, bus *fanout.Bus) (*websocket.Conn, func()) {
	handler := NewStreamHandler(bus, zap.NewNop())
	server := httptest.NewServer(handlerFunc(handler))

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ingest/api/v1/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	return conn, func() {
		conn.Close()
		server.Close()
	}
}

func handlerFunc(h *StreamHandler) *Router {
	router := NewRouter(zap.NewNop())
	router.Handle("/ingest/api/v1/stream", h.Stream)
	return router
}

func TestStream_ReceivesPublishedEvents(t *testing.T) {
	bus := fanout.NewBus(4, zap.NewNop())
	conn, cleanup := dialStream(t, bus)
	defer cleanup()

	// 等订阅者注册完成再发布
	require.Eventually(t, func() bool { return bus.Len() == 1 }, time.Second, 10*time.Millisecond)

	bus.Publish(fanout.Envelope{
		Type: fanout.EventTypeAlert,
		Payload: models.AlertEvent{
			AlertID:  "a-1",
			DeviceID: 1,
			Kind:     models.HazardSmoke,
			Level:    models.SeverityHigh,
		},
	})

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	var env struct {
		Type    string            `json:"type"`
		Payload models.AlertEvent `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&env))
	assert.Equal(t, fanout.EventTypeAlert, env.Type)
	assert.Equal(t, "a-1", env.Payload.AlertID)
	assert.Equal(t, models.HazardSmoke, env.Payload.Kind)
}

func TestStream_DisconnectUnregistersSubscriber(t *testing.T) {
	bus := fanout.NewBus(4, zap.NewNop())
	conn, cleanup := dialStream(t, bus)
	defer cleanup()

	require.Eventually(t, func() bool { return bus.Len() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()

	// 连接断开后订阅者被注销，注册表不泄漏
	require.Eventually(t, func() bool { return bus.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
