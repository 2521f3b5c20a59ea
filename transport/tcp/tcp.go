// Package tcp carries protocol messages over a raw TCP stream using a
// 4-byte length prefix per message.
package tcp

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/risa-org/sclclient/transport"
)

// MaxFrameSize bounds a single inbound payload. A length prefix above it
// is treated as a corrupt stream and the connection is dropped.
const MaxFrameSize = 16 << 20

const headerSize = 4

var ErrFrameTooLarge = errors.New("frame exceeds maximum size")

// Adapter implements transport.Adapter over a TCP connection.
//
// Wire format for each message:
//
//	[4 bytes: payload length uint32 big-endian][N bytes: payload]
type Adapter struct {
	*transport.Stream

	conn    net.Conn
	writeMu sync.Mutex // frames from concurrent senders must not interleave
}

// New wraps an established connection and starts reading from it.
func New(conn net.Conn) *Adapter {
	a := &Adapter{
		Stream: transport.NewStream(),
		conn:   conn,
	}
	go a.readLoop()
	return a
}

// Send writes one frame. Header and payload go out in a single write so a
// failed write never leaves half a frame behind a complete one.
func (a *Adapter) Send(msg transport.Message) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	if err := writeFrame(a.conn, msg.Payload); err != nil {
		return transport.ErrTransportClosed
	}
	return nil
}

// Close shuts the connection. Safe to call more than once.
func (a *Adapter) Close() error {
	return a.Shutdown(a.conn.Close)
}

func (a *Adapter) readLoop() {
	for {
		payload, err := readFrame(a.conn)
		if err != nil {
			a.Finish(disconnectEvent(err))
			a.Close()
			return
		}
		if !a.Deliver(payload) {
			a.Finish(transport.DisconnectEvent{Reason: transport.ReasonClosedClean})
			return
		}
	}
}

// disconnectEvent classifies a read error. EOF is the peer hanging up.
func disconnectEvent(err error) transport.DisconnectEvent {
	if errors.Is(err, io.EOF) {
		return transport.DisconnectEvent{Reason: transport.ReasonClosedClean}
	}
	return transport.DisconnectEvent{Reason: transport.ReasonNetworkError, Err: err}
}

func writeFrame(w io.Writer, payload []byte) error {
	frame := make([]byte, headerSize+len(payload))
	binary.BigEndian.PutUint32(frame[:headerSize], uint32(len(payload)))
	copy(frame[headerSize:], payload)
	_, err := w.Write(frame)
	return err
}

func readFrame(r io.Reader) ([]byte, error) {
	var header [headerSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(header[:])
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		// a peer vanishing mid-frame is a broken stream, not a clean close
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}
	return payload, nil
}

// Dialer opens TCP transports. Endpoints may be written as "tcp://host:port"
// or plain "host:port".
type Dialer struct {
	// KeepAlive is passed to net.Dialer; zero uses the net package default.
	KeepAlive time.Duration
}

// Dial connects to endpoint. The client's watchdog owns the attempt
// deadline, so the only bound here is ctx.
func (d Dialer) Dial(ctx context.Context, endpoint string) (transport.Adapter, error) {
	addr := strings.TrimPrefix(endpoint, "tcp://")

	nd := net.Dialer{KeepAlive: d.KeepAlive}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	return New(conn), nil
}
