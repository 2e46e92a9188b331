package essession

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/store"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	authWait   = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true }, // CORS origin policy is out of scope
}

// authMessage is the handshake payload a client must send as its first
// message after upgrade (the protocol: "handshake auth = {systemName,
// apiKey}").
type authMessage struct {
	SystemName string `json:"systemName"`
	APIKey     string `json:"apiKey"`
}

// Handler upgrades incoming HTTP requests to the subscriber WebSocket,
// authenticates the handshake against external_systems, and installs the
// connection in the Manager.
type Handler struct {
	mgr     *Manager
	systems *store.ExternalSystemStore
	logger  *zap.Logger
}

// NewHandler constructs a Handler.
func NewHandler(mgr *Manager, systems *store.ExternalSystemStore, logger *zap.Logger) *Handler {
	return &Handler{mgr: mgr, systems: systems, logger: logger}
}

// Upgrade is the echo handler for the WS endpoint.
func (h *Handler) Upgrade(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return nil
	}

	conn.SetReadDeadline(time.Now().Add(authWait))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		conn.Close()
		return nil
	}

	var auth authMessage
	if err := json.Unmarshal(raw, &auth); err != nil {
		writeUnauthorized(conn, "malformed auth handshake")
		conn.Close()
		return nil
	}

	system, err := h.systems.GetByCredentials(c.Request().Context(), auth.SystemName, auth.APIKey)
	if err != nil {
		writeUnauthorized(conn, "invalid systemName/apiKey")
		conn.Close()
		return nil
	}

	subscriberID := store.UUIDString(system.ID)
	ws := h.mgr.Connect(c.Request().Context(), subscriberID, conn)

	go h.readPump(ws, subscriberID)
	return nil
}

// writeUnauthorized sends a standard WS close with a 401-coded payload, per
// the "WebSocket clients see a standard disconnect with a
// 401-coded error payload on auth failure".
func writeUnauthorized(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, `{"status":401,"error":"`+reason+`"}`)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}

// readPump is the sole reader for one subscriber connection: it dispatches
// inbound "disaster_ack" messages to the Manager's pending-ack table and
// acknowledges "heartbeat" pings, until the connection errors or closes. The
// keepalive ping lives in Manager.writePump, not here — ws.conn is never
// written to from this goroutine.
func (h *Handler) readPump(ws *wsConn, subscriberID string) {
	defer h.mgr.Disconnect(context.Background(), subscriberID, ws)
	defer ws.conn.Close()

	ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		ws.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := ws.conn.ReadMessage()
		if err != nil {
			if !errors.Is(err, websocket.ErrCloseSent) {
				h.logger.Debug("ws read loop ending", zap.String("subscriber_id", subscriberID), zap.Error(err))
			}
			return
		}

		var env wsEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			continue
		}

		switch env.Event {
		case "disaster_ack":
			var ack ackMessage
			if err := json.Unmarshal(env.Data, &ack); err == nil {
				h.mgr.deliverAck(ack)
			}
		case "heartbeat":
			h.replyHeartbeat(ws)
		}
	}
}

func (h *Handler) replyHeartbeat(ws *wsConn) {
	data, _ := json.Marshal(map[string]string{"status": "ok"})
	body, err := json.Marshal(wsEnvelope{Event: "heartbeat_ack", Data: data})
	if err != nil {
		return
	}
	ws.enqueue(body)
}
