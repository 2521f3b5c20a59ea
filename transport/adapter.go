package transport

import (
	"context"
	"errors"
	"fmt"
	"net/url"
)

// ErrTransportClosed is returned when you try to send on a closed transport.
// Named errors like this let callers check the exact cause with errors.Is()
// instead of comparing raw strings.
var ErrTransportClosed = errors.New("transport closed")

// ErrUnsupportedScheme is returned by SchemeDialer for an endpoint it has no dialer for.
var ErrUnsupportedScheme = errors.New("unsupported endpoint scheme")

// Message is what flows through a transport.
// It carries the raw bytes of one encoded protocol message. The transport
// doesn't interpret them, and it doesn't number them: ordering is assigned
// by the receiver at the moment the bytes arrive.
type Message struct {
	Payload []byte
}

// DisconnectReason tells the client why a transport closed.
// A clean close and a network error drive different state machine events.
type DisconnectReason int

const (
	ReasonUnknown      DisconnectReason = iota // catch-all, should be rare
	ReasonNetworkError                         // underlying connection failed
	ReasonTimeout                              // no activity within deadline
	ReasonClosedClean                          // graceful shutdown by either side
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNetworkError:
		return "network_error"
	case ReasonTimeout:
		return "timeout"
	case ReasonClosedClean:
		return "closed_clean"
	default:
		return "unknown"
	}
}

// DisconnectEvent is sent on the channel returned by Disconnected().
// It bundles the reason with an optional error for debugging.
type DisconnectEvent struct {
	Reason DisconnectReason
	Err    error // nil on clean close, populated on errors
}

// Adapter is the contract every transport must satisfy.
// The client only ever talks to this interface;
// it never imports tcp or websocket directly.
type Adapter interface {
	// Send delivers a message to the remote side.
	// Returns ErrTransportClosed if the transport is no longer active.
	// Must be safe to call from multiple goroutines.
	Send(msg Message) error

	// Receive returns a channel that emits incoming messages in wire order.
	// The channel is closed when the transport closes.
	Receive() <-chan Message

	// Disconnected returns a channel that emits exactly one DisconnectEvent
	// when the transport closes, for any reason.
	Disconnected() <-chan DisconnectEvent

	// Close shuts down the transport cleanly.
	// Safe to call multiple times; subsequent calls are no-ops.
	Close() error
}

// Dialer opens a transport to one endpoint.
// Dial blocks until the transport is open or fails; cancelling ctx abandons it.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Adapter, error)
}

// DialerFunc adapts a plain function to the Dialer interface.
type DialerFunc func(ctx context.Context, endpoint string) (Adapter, error)

func (f DialerFunc) Dial(ctx context.Context, endpoint string) (Adapter, error) {
	return f(ctx, endpoint)
}

// SchemeDialer routes each endpoint to a dialer by its URL scheme,
// so one endpoint list can mix, say, tcp:// and ws:// addresses.
type SchemeDialer map[string]Dialer

func (d SchemeDialer) Dial(ctx context.Context, endpoint string) (Adapter, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint %q: %w", endpoint, err)
	}
	dialer, ok := d[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	return dialer.Dial(ctx, endpoint)
}
