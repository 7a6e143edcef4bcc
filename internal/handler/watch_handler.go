package handler

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/okbozin/okboz-crm-sub003/internal/kv"
	"github.com/okbozin/okboz-crm-sub003/pkg/logger"
	"github.com/okbozin/okboz-crm-sub003/pkg/middleware"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ChangeEvent is one message of the watch stream.
type ChangeEvent struct {
	Key     string    `json:"key"`
	Value   string    `json:"value,omitempty"`
	Deleted bool      `json:"deleted,omitempty"`
	Origin  string    `json:"origin,omitempty"`
	At      time.Time `json:"at"`
}

// Watch streams changes of the caller's key over a websocket. Changes made by the
// watching client itself (same client id) are not sent back. Browsers cannot set
// headers on websocket requests, so the client id may also come as ?clientId=.
func (h *CollectionHandler[T]) Watch(c echo.Context) error {
	log := logger.FromEcho(c)
	key := h.coll.Key(middleware.TenantFromEcho(c))

	clientID := c.Request().Header.Get(middleware.ClientIDHeader)
	if clientID == "" {
		clientID = c.QueryParam("clientId")
	}

	events := make(chan kv.Change, 32)
	quit := make(chan struct{})
	defer close(quit)

	// subscribe before the handshake completes so no change after it is missed
	sub := h.broker.Subscribe(key, func(change kv.Change) {
		if clientID != "" && change.Origin == clientID {
			return
		}
		select {
		case events <- change:
		case <-quit:
		}
	})
	defer sub.Close()

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Warn("Websocket upgrade failed", zap.Error(err))
		return nil
	}
	defer ws.Close()

	done := make(chan struct{})
	log.Info("Watch started", zap.String("key", key))
	go readPump(ws, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			log.Info("Watch closed by client", zap.String("key", key))
			return nil
		case change := <-events:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteJSON(ChangeEvent{
				Key:     change.Key,
				Value:   change.NewValue,
				Deleted: change.Deleted,
				Origin:  change.Origin,
				At:      change.At,
			}); err != nil {
				log.Warn("Watch write failed", zap.Error(err))
				return nil
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return nil
			}
		}
	}
}

// readPump drains client frames so control messages are processed, and closes done when the client goes away.
func readPump(ws *websocket.Conn, done chan struct{}) {
	defer close(done)
	ws.SetReadLimit(512)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}
