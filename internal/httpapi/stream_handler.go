package httpapi

import (
	"net/http"
	"time"

	"treeguard/internal/fanout"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// StreamHandler WebSocket 事件流 Handler
// 每个连接在总线上注册一个订阅者，事件以 JSON 信封逐条推送。
// 连接断开（任意方向）都会注销订阅者，不泄漏注册表条目。
type StreamHandler struct {
	bus      *fanout.Bus
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler 创建事件流 Handler
func NewStreamHandler(bus *fanout.Bus, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		bus: bus,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger: logger,
	}
}

// Stream 建立 WebSocket 连接并推送事件
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket connection", zap.Error(err))
		return
	}

	sub := h.bus.Subscribe()

	h.logger.Info("Stream client connected",
		zap.String("remote_addr", r.RemoteAddr),
	)

	done := make(chan struct{})

	// 读循环：只为发现对端关闭和响应 pong
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	h.writePump(conn, sub, done)

	h.bus.Unsubscribe(sub)
	_ = conn.Close()

	h.logger.Info("Stream client disconnected",
		zap.String("remote_addr", r.RemoteAddr),
	)
}

// writePump 推送事件并定期 ping，直到通道关闭或连接出错
func (h *StreamHandler) writePump(conn *websocket.Conn, sub *fanout.Subscription, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
