package integration

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	nws "nhooyr.io/websocket"

	"github.com/risa-org/sclclient/auth"
	"github.com/risa-org/sclclient/client"
	"github.com/risa-org/sclclient/codec"
	"github.com/risa-org/sclclient/session"
	"github.com/risa-org/sclclient/transport"
	tcpadapter "github.com/risa-org/sclclient/transport/tcp"
	wsadapter "github.com/risa-org/sclclient/transport/websocket"
)

// signer is shared across all integration tests.
var signer = auth.NewSigner([]byte("integration-test-secret"))

type event struct {
	Seq  int    `json:"seq"`
	Body string `json:"body"`
}

// ------------------------------------------------------------
// Helpers
// ------------------------------------------------------------

// tcpServer listens on loopback and hands every accepted connection to the
// returned channel.
func tcpServer(t *testing.T) (string, <-chan *tcpadapter.Adapter) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	accepted := make(chan *tcpadapter.Adapter, 8)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			accepted <- tcpadapter.New(conn)
		}
	}()
	return "tcp://" + ln.Addr().String(), accepted
}

// wsServer upgrades requests carrying a valid bearer token.
func wsServer(t *testing.T) (string, <-chan *wsadapter.Adapter) {
	t.Helper()
	accepted := make(chan *wsadapter.Adapter, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := signer.VerifyRequest(r); err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		conn, err := nws.Accept(w, r, nil)
		if err != nil {
			return
		}
		accepted <- wsadapter.New(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/session", accepted
}

func deadEndpoint(t *testing.T, scheme string) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return scheme + "://" + addr
}

func dialer(clientID string) transport.Dialer {
	ws := wsadapter.Dialer{Header: signer.Header(clientID)}
	return transport.SchemeDialer{
		"tcp": tcpadapter.Dialer{},
		"ws":  ws,
	}
}

// observer collects what the client reports.
type observer struct {
	states   chan session.ConnectionState
	messages chan string
	events   chan event
}

func newObserver() *observer {
	return &observer{
		states:   make(chan session.ConnectionState, 64),
		messages: make(chan string, 64),
		events:   make(chan event, 256),
	}
}

func (o *observer) onState(s session.ConnectionState, msg string) {
	o.states <- s
	if msg != "" {
		o.messages <- msg
	}
}

func (o *observer) onMessage(msg any) {
	o.events <- msg.(event)
}

func (o *observer) waitFor(t *testing.T, want session.ConnectionState) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case s := <-o.states:
			if s == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
}

func (o *observer) nextEvent(t *testing.T) event {
	t.Helper()
	select {
	case e := <-o.events:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return event{}
	}
}

func newClient(t *testing.T, o *observer, endpoints []string, local bool, opts ...client.Option) *client.Client {
	t.Helper()
	opts = append([]client.Option{
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		client.WithAttemptTimeout(2 * time.Second),
		client.WithRetryDelay(20 * time.Millisecond),
	}, opts...)

	c, err := client.New(client.Config{
		Endpoints: endpoints,
		Local:     local,
		Dialer:    dialer("integration"),
		Codec:     codec.JSON[event]{},
		OnState:   o.onState,
		OnMessage: o.onMessage,
	}, opts...)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func sendEvent(t *testing.T, a transport.Adapter, e event) {
	t.Helper()
	payload, err := codec.JSON[event]{}.Encode(e)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := a.Send(transport.Message{Payload: payload}); err != nil {
		t.Fatalf("server send failed: %v", err)
	}
}

func acceptOne[A any](t *testing.T, ch <-chan A) A {
	t.Helper()
	select {
	case a := <-ch:
		return a
	case <-time.After(5 * time.Second):
		t.Fatal("server never accepted a connection")
		var zero A
		return zero
	}
}

// ------------------------------------------------------------
// Tests
// ------------------------------------------------------------

func TestFailoverToSecondEndpoint(t *testing.T) {
	live, accepted := tcpServer(t)
	o := newObserver()
	c := newClient(t, o, []string{deadEndpoint(t, "tcp"), live}, false)

	server := acceptOne(t, accepted)
	o.waitFor(t, session.StateConnected)

	// many messages, decoded concurrently, must come out in wire order
	for i := 0; i < 100; i++ {
		sendEvent(t, server, event{Seq: i, Body: fmt.Sprintf("event %d", i)})
	}
	for i := 0; i < 100; i++ {
		if e := o.nextEvent(t); e.Seq != i {
			t.Fatalf("message %d arrived out of order: got seq %d", i, e.Seq)
		}
	}

	if err := c.Send(event{Seq: 1, Body: "ack"}); err != nil {
		t.Fatalf("client send failed: %v", err)
	}
	select {
	case msg := <-server.Receive():
		if !strings.Contains(string(msg.Payload), `"ack"`) {
			t.Errorf("unexpected payload %s", msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the client's message")
	}
}

func TestReconnectAfterServerDrop(t *testing.T) {
	endpoint, accepted := wsServer(t)
	o := newObserver()
	c := newClient(t, o, []string{endpoint}, true)

	first := acceptOne(t, accepted)
	o.waitFor(t, session.StateConnected)
	sendEvent(t, first, event{Seq: 0, Body: "before drop"})
	if e := o.nextEvent(t); e.Body != "before drop" {
		t.Fatalf("unexpected first message %+v", e)
	}

	first.Close()
	o.waitFor(t, session.StateDisconnected)
	o.waitFor(t, session.StateReconnecting)

	second := acceptOne(t, accepted)
	o.waitFor(t, session.StateConnected)
	sendEvent(t, second, event{Seq: 1, Body: "after drop"})
	if e := o.nextEvent(t); e.Body != "after drop" {
		t.Fatalf("unexpected second message %+v", e)
	}

	if c.State() != session.StateConnected {
		t.Errorf("expected Connected, got %v", c.State())
	}
}

func TestMixedSchemes(t *testing.T) {
	live, accepted := tcpServer(t)
	o := newObserver()
	newClient(t, o, []string{deadEndpoint(t, "ws"), live}, false)

	server := acceptOne(t, accepted)
	o.waitFor(t, session.StateConnected)
	sendEvent(t, server, event{Seq: 7, Body: "over tcp"})
	if e := o.nextEvent(t); e.Seq != 7 {
		t.Errorf("unexpected message %+v", e)
	}
}

func TestUnauthorizedGivesUp(t *testing.T) {
	endpoint, _ := wsServer(t)
	o := newObserver()

	c, err := client.New(client.Config{
		Endpoints: []string{endpoint},
		Dialer:    wsadapter.Dialer{Header: auth.NewSigner([]byte("wrong-secret")).Header("intruder")},
		Codec:     codec.JSON[event]{},
		OnState:   o.onState,
		OnMessage: o.onMessage,
	},
		client.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		client.WithRetryDelay(10*time.Millisecond),
		client.WithMaxAttempts(2),
	)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer c.Close()

	o.waitFor(t, session.StateDisconnectedForever)
	select {
	case msg := <-o.messages:
		if msg != session.MessageRetriesExhausted {
			t.Errorf("expected %q, got %q", session.MessageRetriesExhausted, msg)
		}
	case <-time.After(time.Second):
		t.Error("no message accompanied DisconnectedForever")
	}
	if err := c.Send(event{}); err != client.ErrNotConnected {
		t.Errorf("expected ErrNotConnected, got %v", err)
	}
}

func TestStaticClosesTransport(t *testing.T) {
	live, accepted := tcpServer(t)
	o := newObserver()
	c := newClient(t, o, []string{live}, false)

	server := acceptOne(t, accepted)
	o.waitFor(t, session.StateConnected)

	c.Static()
	o.waitFor(t, session.StateStatic)

	select {
	case <-server.Disconnected():
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw the client hang up")
	}

	// no further attempts
	select {
	case a := <-accepted:
		t.Errorf("unexpected reconnect from static client")
		a.Close()
	case <-time.After(100 * time.Millisecond):
	}
}
