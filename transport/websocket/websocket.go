// Package websocket carries protocol messages as binary WebSocket messages.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/risa-org/sclclient/transport"
	"nhooyr.io/websocket"
)

// ReadLimit bounds a single inbound message, same as the TCP frame limit.
const ReadLimit = 16 << 20

// ErrUnauthorized marks a handshake the server rejected with 401.
var ErrUnauthorized = errors.New("websocket handshake unauthorized")

// Adapter implements transport.Adapter over a WebSocket connection.
// WebSocket already has message boundaries, so there's no framing of our own.
type Adapter struct {
	*transport.Stream

	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// New wraps an established *websocket.Conn and starts reading from it.
func New(conn *websocket.Conn) *Adapter {
	ctx, cancel := context.WithCancel(context.Background())
	conn.SetReadLimit(ReadLimit)
	a := &Adapter{
		Stream: transport.NewStream(),
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}
	go a.readLoop()
	return a
}

// Send writes one binary message. nhooyr's Conn serialises concurrent writers.
func (a *Adapter) Send(msg transport.Message) error {
	if err := a.conn.Write(a.ctx, websocket.MessageBinary, msg.Payload); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

// Close performs the closing handshake. Safe to call more than once.
func (a *Adapter) Close() error {
	return a.Shutdown(func() error {
		a.cancel()
		return a.conn.Close(websocket.StatusNormalClosure, "closed")
	})
}

func (a *Adapter) readLoop() {
	for {
		// text messages are accepted too; the codec decides what the bytes mean
		_, data, err := a.conn.Read(a.ctx)
		if err != nil {
			a.Finish(disconnectEvent(err))
			a.Close()
			return
		}
		if !a.Deliver(data) {
			a.Finish(transport.DisconnectEvent{Reason: transport.ReasonClosedClean})
			return
		}
	}
}

// disconnectEvent classifies a read error. Peers close with either 1000 or
// 1001 depending on implementation and shutdown timing; both are clean.
func disconnectEvent(err error) transport.DisconnectEvent {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return transport.DisconnectEvent{Reason: transport.ReasonClosedClean}
	default:
		return transport.DisconnectEvent{Reason: transport.ReasonNetworkError, Err: err}
	}
}

// Dialer opens WebSocket transports to ws:// or wss:// endpoints.
type Dialer struct {
	// Header is sent with the opening handshake, e.g. a signed bearer token.
	Header http.Header
	// HTTPClient overrides the client used for the handshake (TLS config, proxies).
	HTTPClient *http.Client
	// Subprotocols are offered during the handshake.
	Subprotocols []string
}

// Dial performs the opening handshake, bounded only by ctx.
func (d Dialer) Dial(ctx context.Context, endpoint string) (transport.Adapter, error) {
	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPHeader:   d.Header,
		HTTPClient:   d.HTTPClient,
		Subprotocols: d.Subprotocols,
	})
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", endpoint, errors.Join(ErrUnauthorized, err))
		}
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return New(conn), nil
}
