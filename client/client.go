// Package client keeps one full-duplex session alive against an ordered list
// of endpoints. It fails over between them, retries under a policy, and
// hands inbound messages to the application in arrival order even though
// they decode concurrently.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/risa-org/sclclient/codec"
	"github.com/risa-org/sclclient/metrics"
	"github.com/risa-org/sclclient/session"
	"github.com/risa-org/sclclient/transport"
	"github.com/risa-org/sclclient/transport/sender"
)

var (
	// ErrNoEndpoints is returned by New when Config.Endpoints is empty.
	ErrNoEndpoints = session.ErrNoEndpoints
	// ErrNoDialer is returned by New when Config.Dialer is nil.
	ErrNoDialer = errors.New("no dialer configured")
	// ErrNoCodec is returned by New when Config.Codec is nil.
	ErrNoCodec = errors.New("no codec configured")
	// ErrNotConnected is returned by Send when no transport is live.
	// Nothing was transmitted and no state changed; callers may ignore it.
	ErrNotConnected = errors.New("not connected")
)

// Config is what the embedding application must supply.
type Config struct {
	// Endpoints are tried in order, wrapping around on failure.
	Endpoints []string
	// Local marks the endpoints as local: retries never run out.
	Local bool
	// Dialer opens a transport to one endpoint.
	Dialer transport.Dialer
	// Codec turns command objects into bytes and inbound bytes into messages.
	Codec codec.Codec
	// OnState is called on every state change, from the client's event loop.
	// It must not block, and must not call Static or Close.
	OnState func(state session.ConnectionState, message string)
	// OnMessage receives every decoded inbound message in arrival order,
	// from the client's event loop.
	OnMessage func(msg any)
}

// Client drives the connection state machine. All mutable state below the
// loop-owned marker is touched only by the event loop goroutine; everything
// else reaches it by posting an event.
type Client struct {
	cfg     Config
	opts    options
	log     *slog.Logger
	metrics *metrics.Metrics
	decoder *codec.Decoder

	events chan loopEvent
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once

	snapshot atomic.Int32                  // current state, for State()
	out      atomic.Pointer[sender.Sender] // outbound path of the open transport, nil otherwise

	// loop-owned
	state     session.ConnectionState
	policy    *session.Policy
	reasm     *session.Reassembler
	live      *attempt
	watchdog  watchdog
	wait      timer
	waitToken uint64
}

// New validates cfg, builds the client and starts connecting to the first
// endpoint. OnState sees Initial -> InitialConnecting before New returns.
func New(cfg Config, opts ...Option) (*Client, error) {
	c, err := newClient(cfg, opts...)
	if err != nil {
		return nil, err
	}
	if err := c.start(); err != nil {
		c.shutdown()
		c.fail(err)
		return nil, err
	}
	c.wg.Add(1)
	go c.run()
	return c, nil
}

// newClient builds a client without starting its loop, so tests can drive
// it one event at a time.
func newClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.Dialer == nil {
		return nil, ErrNoDialer
	}
	if cfg.Codec == nil {
		return nil, ErrNoCodec
	}

	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := session.NewPolicy(cfg.Endpoints, cfg.Local, o.maxAttempts)
	if err != nil {
		return nil, err
	}
	if cfg.OnState == nil {
		cfg.OnState = func(session.ConnectionState, string) {}
	}
	if cfg.OnMessage == nil {
		cfg.OnMessage = func(any) {}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:     cfg,
		opts:    o,
		log:     o.logger.With("component", "sclclient"),
		metrics: o.metrics,
		decoder: codec.NewDecoder(cfg.Codec, o.maxConcurrentDecodes),
		events:  make(chan loopEvent, 256),
		ctx:     ctx,
		cancel:  cancel,
		state:   session.StateInitial,
		policy:  policy,
		reasm:   session.NewReassemblerWithLimit(o.maxPending),
	}
	c.watchdog = watchdog{clock: o.clock, timeout: o.attemptTimeout, post: c.post}
	c.snapshot.Store(int32(session.StateInitial))
	return c, nil
}

// start feeds the kick-off event that moves the client out of Initial.
func (c *Client) start() error {
	c.log.Info("Starting client",
		"endpoints", c.policy.Endpoints(),
		"local", c.policy.Local(),
		"max_attempts", c.policy.MaxAttempts())
	return c.handleEvent(session.EventStart)
}

// State returns the current connection state. Safe from any goroutine.
func (c *Client) State() session.ConnectionState {
	return session.ConnectionState(c.snapshot.Load())
}

// Send encodes cmd and writes it over the open transport. With no open
// transport nothing is encoded or sent and ErrNotConnected is returned.
func (c *Client) Send(cmd any) error {
	s := c.out.Load()
	if s == nil {
		c.metrics.Send("not_connected")
		return ErrNotConnected
	}
	if err := s.Send(cmd); err != nil {
		if errors.Is(err, transport.ErrTransportClosed) {
			c.metrics.Send("transport_error")
		} else {
			c.metrics.Send("encode_error")
		}
		return err
	}
	c.metrics.Send("ok")
	return nil
}

// Static switches the client into the application's fallback mode. The live
// transport is dropped and no further attempts are made. It returns without
// waiting for the loop to apply the change.
func (c *Client) Static() {
	c.post(staticRequested{})
}

// Close stops the event loop, closes the live transport and waits for every
// goroutine the client started. Safe to call more than once.
func (c *Client) Close() error {
	c.closed.Do(func() {
		c.cancel()
		c.wg.Wait()
	})
	return nil
}

// post hands an event to the loop. It gives up once the client is closed.
func (c *Client) post(ev loopEvent) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// attemptStatus tracks one attempt from dial to teardown.
type attemptStatus int

const (
	attemptEstablishing attemptStatus = iota
	attemptOpen
	attemptFailed
)

func (s attemptStatus) String() string {
	switch s {
	case attemptEstablishing:
		return "establishing"
	case attemptOpen:
		return "open"
	default:
		return "failed"
	}
}

// attempt is the live transport handle. Everything the transport side posts
// carries the attempt's ID, and only the live attempt's ID is acted on.
type attempt struct {
	id       uuid.UUID
	endpoint string
	status   attemptStatus
	adapter  transport.Adapter
	cancel   context.CancelFunc
}
