// Package essession manages per-subscriber WebSocket connections for the
// External Service: a map of subscriberId -> *wsConn, each owning a single
// writer goroutine draining a buffered send channel, guarded by a single
// mutex enforcing the "at most one active socket per subscriber" invariant,
// plus a reliable "disaster" emit whose ACK arrives asynchronously as an
// inbound WS message and races against a T_xmit deadline. The hub/client
// shape is simplified from N-client broadcast fan-out down to
// exactly-one-socket-per-subscriber addressed send.
package essession

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jackc/pgx/v5/pgtype"
	"go.uber.org/zap"

	"github.com/bonghwa-relay/gateway/internal/store"
)

var (
	// ErrSubscriberOffline means the subscriber has no active socket right now.
	ErrSubscriberOffline = errors.New("essession: subscriber has no active socket")
	// ErrAckTimeout means T_xmit elapsed with no callback from the subscriber.
	ErrAckTimeout = errors.New("essession: ack timeout")
)

// AckStatus is the subscriber's reported outcome for one emitted disaster.
type AckStatus string

const (
	AckStatusAck  AckStatus = "ack"
	AckStatusNack AckStatus = "nack"
)

// DisasterPayload is the event body sent to a subscriber for one
// disaster_transmit_log row (the protocol step 4).
type DisasterPayload struct {
	LogID      string `json:"logId"`
	Identifier string `json:"identifier"`
	RawMessage string `json:"rawMessage"`
}

// wsEnvelope is the wire shape for every message exchanged over the
// subscriber WebSocket, in both directions.
type wsEnvelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ackMessage is the client callback body for a "disaster_ack" event.
type ackMessage struct {
	Status  AckStatus `json:"status"`
	LogID   string    `json:"logId"`
	Message string    `json:"message,omitempty"`
}

type pendingAck struct {
	logID string
	ch    chan ackMessage
}

// sendBufSize bounds how many outbound frames a writePump will queue before
// EmitDisaster/heartbeat replies start failing fast instead of blocking the
// single writer goroutine.
const sendBufSize = 16

// ErrSendBufferFull means the subscriber's writePump is backed up — the
// socket is treated as unusable for this send rather than blocking the
// caller until it drains.
var ErrSendBufferFull = errors.New("essession: send buffer full")

// wsConn is one subscriber's socket plus the single channel every writer
// (EmitDisaster, heartbeat replies, the keepalive ping) must funnel through:
// gorilla/websocket permits only one concurrent writer per *websocket.Conn,
// so writePump is the sole goroutine ever allowed to call conn.WriteMessage.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte
	stop chan struct{}
}

// enqueue hands body to writePump. It never blocks: a full buffer means the
// subscriber isn't draining fast enough, and the caller should treat the
// send as failed rather than stall.
func (ws *wsConn) enqueue(body []byte) error {
	select {
	case ws.send <- body:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Manager owns the subscriberId -> socket map and the in-flight ack
// correlation table. A single mutex guards both; readers hold it only for
// the duration of the lookup.
type Manager struct {
	mu      sync.Mutex
	sockets map[string]*wsConn
	pending map[string]*pendingAck

	connLogs *store.ConnectionLogStore
	logger   *zap.Logger
}

// New constructs a Manager. connLogs may be nil in tests that don't care
// about connection-lifecycle observability.
func New(connLogs *store.ConnectionLogStore, logger *zap.Logger) *Manager {
	return &Manager{
		sockets:  make(map[string]*wsConn),
		pending:  make(map[string]*pendingAck),
		connLogs: connLogs,
		logger:   logger,
	}
}

// Connect installs conn as subscriberID's active socket: any prior socket
// for the same subscriber is logged, forcibly closed, and dropped before the
// new one is installed. It starts conn's writePump and returns the handle
// the caller's readPump must use for any reply writes (heartbeat acks).
func (m *Manager) Connect(ctx context.Context, subscriberID string, conn *websocket.Conn) *wsConn {
	ws := &wsConn{conn: conn, send: make(chan []byte, sendBufSize), stop: make(chan struct{})}

	m.mu.Lock()
	old, had := m.sockets[subscriberID]
	m.sockets[subscriberID] = ws
	m.mu.Unlock()

	if had {
		m.logConnEvent(ctx, "DISCONNECTED", subscriberID, "superseded by new connection")
		close(old.stop)
		old.conn.Close()
	}
	m.logConnEvent(ctx, "CONNECTED", subscriberID, "")
	m.logger.Info("ws subscriber connected", zap.String("subscriber_id", subscriberID))

	go m.writePump(ws, subscriberID)
	return ws
}

// writePump is the only goroutine that ever calls ws.conn.WriteMessage: it
// drains ws.send for text frames and interleaves the keepalive ping on its
// own ticker, so EmitDisaster, heartbeat replies, and the pinger never race
// on the same connection.
func (m *Manager) writePump(ws *wsConn, subscriberID string) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ws.stop:
			return
		case body := <-ws.send:
			ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.TextMessage, body); err != nil {
				m.logger.Debug("ws writePump exiting (write error)", zap.String("subscriber_id", subscriberID), zap.Error(err))
				return
			}
		case <-ticker.C:
			ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.logger.Debug("ws writePump exiting (ping error)", zap.String("subscriber_id", subscriberID), zap.Error(err))
				return
			}
		}
	}
}

// Disconnect removes subscriberID's socket only if the currently-mapped
// socket is the one that disconnected — protecting against the race where a
// newer connection has already replaced it.
func (m *Manager) Disconnect(ctx context.Context, subscriberID string, ws *wsConn) {
	m.mu.Lock()
	current, ok := m.sockets[subscriberID]
	removed := ok && current == ws
	if removed {
		delete(m.sockets, subscriberID)
	}
	m.mu.Unlock()

	if removed {
		close(ws.stop)
		m.logConnEvent(ctx, "DISCONNECTED", subscriberID, "")
		m.logger.Info("ws subscriber disconnected", zap.String("subscriber_id", subscriberID))
	}
}

// IsOnline reports whether subscriberID currently has an active socket.
func (m *Manager) IsOnline(subscriberID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sockets[subscriberID]
	return ok
}

// EmitDisaster sends a "disaster" event to subscriberID and waits up to
// timeout for the matching ack, implementing the protocol step 4-5 as a
// cancellable result: the timer and the inbound ack message both race to
// complete it, first writer wins, and the loser's resources are cleaned up
// unconditionally.
func (m *Manager) EmitDisaster(ctx context.Context, subscriberID string, payload DisasterPayload, timeout time.Duration) (AckStatus, error) {
	m.mu.Lock()
	ws, ok := m.sockets[subscriberID]
	if !ok {
		m.mu.Unlock()
		return "", ErrSubscriberOffline
	}
	ch := make(chan ackMessage, 1)
	m.pending[payload.LogID] = &pendingAck{logID: payload.LogID, ch: ch}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, payload.LogID)
		m.mu.Unlock()
	}()

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(wsEnvelope{Event: "disaster", Data: data})
	if err != nil {
		return "", err
	}

	if err := ws.enqueue(body); err != nil {
		return "", err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ack := <-ch:
		if ack.LogID != payload.LogID {
			return "", errors.New("essession: ack logId mismatch")
		}
		return ack.Status, nil
	case <-timer.C:
		return "", ErrAckTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// deliverAck routes an inbound "disaster_ack" message to its waiting
// EmitDisaster call, if one is still outstanding. A stale or unmatched ack
// (no pending send for that logId) is dropped.
func (m *Manager) deliverAck(ack ackMessage) {
	m.mu.Lock()
	p, ok := m.pending[ack.LogID]
	m.mu.Unlock()
	if !ok {
		return
	}
	select {
	case p.ch <- ack:
	default:
	}
}

func (m *Manager) logConnEvent(ctx context.Context, event, subscriberID, detail string) {
	if m.connLogs == nil {
		return
	}
	text := "subscriber=" + subscriberID
	if detail != "" {
		text += " " + detail
	}
	if err := m.connLogs.Insert(ctx, "ES", event, pgtype.Text{String: text, Valid: true}); err != nil {
		m.logger.Warn("failed to record connection_log", zap.Error(err))
	}
}
