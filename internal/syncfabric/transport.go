package syncfabric

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	syncdomain "memcore/internal/domain/sync"
)

// Wire timing constants, identical to the teacher's
// interfaces/websocket/client.go (pongWait/writeWait/pingPeriod):
// generic connection-liveness knobs that don't depend on payload shape.
const (
	writeWait = 10 * time.Second
	pongWait = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024 * 1024
)

// frameType distinguishes the one-time identify handshake from the
// steady-state envelope frames that follow it: on open, the core sends
// an identify frame carrying its own service id and declared
// capabilities, and every subsequent message is a sync envelope.
type frameType string

const (
	frameIdentify frameType = "identify"
	frameEnvelope frameType = "envelope"
)

type wireFrame struct {
	Type frameType `json:"type"`
	ServiceID string `json:"service_id,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Envelope *syncdomain.Envelope `json:"envelope,omitempty"`
}

// wsConn adapts a *websocket.Conn to the Conn interface, grounded
// directly on the teacher's Client read/write pump pair (interfaces/
// websocket/client.go) but exposing blocking Send/Receive calls instead
// of a hub-owned channel, since the fabric's sender loop already
// serializes writes per peer and needs a synchronous result to decide
// queue removal.
type wsConn struct {
	conn *websocket.Conn
	logger *zap.Logger
}

func newWSConn(conn *websocket.Conn, logger *zap.Logger) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	return &wsConn{conn: conn, logger: logger}
}

func (c *wsConn) SendIdentify(ctx context.Context, serviceID string) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(wireFrame{Type: frameIdentify, ServiceID: serviceID})
}

func (c *wsConn) Send(ctx context.Context, env *syncdomain.Envelope) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(wireFrame{Type: frameEnvelope, Envelope: env})
}

func (c *wsConn) Receive(ctx context.Context) (*syncdomain.Envelope, error) {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var frame wireFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			if c.logger != nil {
				c.logger.Warn("sync fabric: malformed wire frame", zap.Error(err))
			}
			continue
		}
		switch frame.Type {
		case frameIdentify:
			continue // peer (re)identifying mid-stream; last_seen bump happens in the caller
		case frameEnvelope:
			if frame.Envelope == nil {
				continue
			}
			return frame.Envelope, nil
		}
	}
}

func (c *wsConn) Close() error { return c.conn.Close() }

// wsTransport dials peers as a websocket client, the outbound half of
// "bidirectional streaming socket (message-oriented)".
type wsTransport struct {
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWSTransport builds a Transport backed by gorilla/websocket.
func NewWSTransport(logger *zap.Logger) Transport {
	return &wsTransport{dialer: websocket.DefaultDialer, logger: logger}
}

func (t *wsTransport) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("syncfabric: dialing %s: %w", endpoint, err)
	}
	return newWSConn(conn, t.logger), nil
}

// upgrader accepts inbound peer connections at the fabric's own
// websocket route, the server-side complement to wsTransport.Dial.
var upgrader = websocket.Upgrader{
	ReadBufferSize: 4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades an inbound HTTP request to a websocket connection,
// reads its identify frame to learn the remote service id, and runs the
// same receive/dispatch loop a dialed connection gets — mounted by the
// edge API at a dedicated peer route, not behind the principal-auth
// middleware the rest of the query API requires, since peers
// authenticate via the identify frame and a shared peer table rather
// than a user principal.
func (f *Fabric) ServeWS(w http.ResponseWriter, r *http.Request) {
	raw, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: websocket upgrade failed", zap.Error(err))
		}
		return
	}
	conn := newWSConn(raw, f.logger)

	raw.SetReadDeadline(time.Now().Add(pongWait))
	_, data, err := raw.ReadMessage()
	if err != nil {
		conn.Close()
		return
	}
	var frame wireFrame
	if err := json.Unmarshal(data, &frame); err != nil || frame.Type != frameIdentify || frame.ServiceID == "" {
		conn.Close()
		return
	}

	rt, err := f.peerRuntimeFor(frame.ServiceID)
	if err != nil {
		if f.logger != nil {
			f.logger.Warn("sync fabric: inbound identify from unregistered peer", zap.String("peer", frame.ServiceID))
		}
		conn.Close()
		return
	}

	rt.mu.Lock()
	rt.conn = conn
	rt.mu.Unlock()
	rt.forceState(syncdomain.StateConnected)

	ctx := r.Context()
	f.receiveLoop(ctx, rt, conn)

	rt.mu.Lock()
	rt.conn = nil
	rt.mu.Unlock()
	rt.transition(syncdomain.StateDisconnected, f.logger)
}
