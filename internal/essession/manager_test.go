package essession

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// newTestSocketPair spins up a real WebSocket server/client pair over an
// httptest server and installs the server-side conn into mgr under
// subscriberID, returning the client-side conn for the test to drive.
func newTestSocketPair(t *testing.T, mgr *Manager, subscriberID string) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		mgr.Connect(context.Background(), subscriberID, conn)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	// Give the server-side Connect a moment to run before the test proceeds.
	time.Sleep(20 * time.Millisecond)
	return client
}

func TestManager_EmitDisaster_Ack(t *testing.T) {
	mgr := New(nil, zaptest.NewLogger(t))
	client := newTestSocketPair(t, mgr, "sub-1")

	go func() {
		_, raw, err := client.ReadMessage()
		if err != nil {
			return
		}
		var env wsEnvelope
		require.NoError(t, json.Unmarshal(raw, &env))
		assert.Equal(t, "disaster", env.Event)

		var payload DisasterPayload
		require.NoError(t, json.Unmarshal(env.Data, &payload))

		ackData, _ := json.Marshal(ackMessage{Status: AckStatusAck, LogID: payload.LogID})
		ackBody, _ := json.Marshal(wsEnvelope{Event: "disaster_ack", Data: ackData})
		client.WriteMessage(websocket.TextMessage, ackBody)
	}()

	// Drive the manager's ack correlation directly, as the readPump would.
	mgr.mu.Lock()
	serverWS := mgr.sockets["sub-1"]
	mgr.mu.Unlock()
	require.NotNil(t, serverWS)
	go func() {
		for {
			_, raw, err := serverWS.conn.ReadMessage()
			if err != nil {
				return
			}
			var env wsEnvelope
			if json.Unmarshal(raw, &env) != nil || env.Event != "disaster_ack" {
				continue
			}
			var ack ackMessage
			if json.Unmarshal(env.Data, &ack) == nil {
				mgr.deliverAck(ack)
			}
		}
	}()

	status, err := mgr.EmitDisaster(context.Background(), "sub-1", DisasterPayload{
		LogID: "log-1", Identifier: "2.0:IDEN:KR::1234", RawMessage: "<alert/>",
	}, time.Second)

	require.NoError(t, err)
	assert.Equal(t, AckStatusAck, status)
}

func TestManager_EmitDisaster_Timeout(t *testing.T) {
	mgr := New(nil, zaptest.NewLogger(t))
	client := newTestSocketPair(t, mgr, "sub-2")
	go func() {
		for {
			if _, _, err := client.ReadMessage(); err != nil {
				return
			}
		}
	}()

	status, err := mgr.EmitDisaster(context.Background(), "sub-2", DisasterPayload{
		LogID: "log-2",
	}, 50*time.Millisecond)

	assert.ErrorIs(t, err, ErrAckTimeout)
	assert.Empty(t, status)
}

func TestManager_EmitDisaster_SubscriberOffline(t *testing.T) {
	mgr := New(nil, zaptest.NewLogger(t))

	_, err := mgr.EmitDisaster(context.Background(), "nobody", DisasterPayload{LogID: "log-3"}, time.Second)
	assert.ErrorIs(t, err, ErrSubscriberOffline)
}

func TestManager_ConnectReplacesPriorSocket(t *testing.T) {
	mgr := New(nil, zaptest.NewLogger(t))
	first := newTestSocketPair(t, mgr, "sub-4")
	assert.True(t, mgr.IsOnline("sub-4"))

	second := newTestSocketPair(t, mgr, "sub-4")
	assert.True(t, mgr.IsOnline("sub-4"))

	// The first connection should now be closed by the server side.
	first.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err := first.ReadMessage()
	assert.Error(t, err)

	second.Close()
}

// TestManager_ConcurrentWritesDoNotPanic exercises the writePump refactor:
// EmitDisaster and a heartbeat reply both try to write to the same
// connection at roughly the same time. Before the writePump fix this raced
// two goroutines on conn.WriteMessage; now both funnel through ws.send.
func TestManager_ConcurrentWritesDoNotPanic(t *testing.T) {
	mgr := New(nil, zaptest.NewLogger(t))
	client := newTestSocketPair(t, mgr, "sub-6")

	mgr.mu.Lock()
	ws := mgr.sockets["sub-6"]
	mgr.mu.Unlock()
	require.NotNil(t, ws)

	go func() {
		for {
			_, _, err := client.ReadMessage()
			if err != nil {
				return
			}
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			data, _ := json.Marshal(map[string]string{"status": "ok"})
			body, _ := json.Marshal(wsEnvelope{Event: "heartbeat_ack", Data: data})
			ws.enqueue(body)
		}
	}()

	_, err := mgr.EmitDisaster(context.Background(), "sub-6", DisasterPayload{LogID: "log-6"}, 100*time.Millisecond)
	<-done

	assert.ErrorIs(t, err, ErrAckTimeout)
}

func TestManager_DisconnectIgnoresSupersededSocket(t *testing.T) {
	mgr := New(nil, zaptest.NewLogger(t))
	mgr.Connect(context.Background(), "sub-5", nil)

	mgr.Disconnect(context.Background(), "sub-5", &wsConn{stop: make(chan struct{})})
	assert.True(t, mgr.IsOnline("sub-5"))
}
