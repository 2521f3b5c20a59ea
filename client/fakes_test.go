package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/risa-org/sclclient/codec"
	"github.com/risa-org/sclclient/session"
	"github.com/risa-org/sclclient/transport"
)

const (
	testAttemptTimeout = 10 * time.Second
	testRetryDelay     = 500 * time.Millisecond
)

var errRefused = errors.New("connection refused")

// --- clock ---

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped bool
	fired   bool
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{d: d, f: f}
	c.timers = append(c.timers, t)
	return &fakeTimerHandle{clock: c, t: t}
}

type fakeTimerHandle struct {
	clock *fakeClock
	t     *fakeTimer
}

func (h *fakeTimerHandle) Stop() bool {
	h.clock.mu.Lock()
	defer h.clock.mu.Unlock()
	active := !h.t.stopped && !h.t.fired
	h.t.stopped = true
	return active
}

// latest returns the most recently scheduled timer of duration d.
func (c *fakeClock) latest(t *testing.T, d time.Duration) *fakeTimer {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.timers) - 1; i >= 0; i-- {
		if c.timers[i].d == d {
			return c.timers[i]
		}
	}
	t.Fatalf("no timer of %v was ever scheduled", d)
	return nil
}

// fire runs the latest active timer of duration d.
func (c *fakeClock) fire(t *testing.T, d time.Duration) {
	t.Helper()
	tm := c.latest(t, d)
	c.mu.Lock()
	if tm.stopped || tm.fired {
		c.mu.Unlock()
		t.Fatalf("latest %v timer is not active", d)
	}
	tm.fired = true
	c.mu.Unlock()
	tm.f()
}

// active counts timers of duration d that are neither stopped nor fired.
func (c *fakeClock) active(d time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, tm := range c.timers {
		if tm.d == d && !tm.stopped && !tm.fired {
			n++
		}
	}
	return n
}

// --- transport ---

type fakeAdapter struct {
	*transport.Stream

	feed  chan []byte
	drops chan transport.DisconnectEvent

	mu   sync.Mutex
	sent [][]byte
}

func newFakeAdapter() *fakeAdapter {
	a := &fakeAdapter{
		Stream: transport.NewStream(),
		feed:   make(chan []byte),
		drops:  make(chan transport.DisconnectEvent),
	}
	go a.readLoop()
	return a
}

// readLoop plays the part of a real adapter's reader goroutine.
func (a *fakeAdapter) readLoop() {
	for {
		select {
		case p := <-a.feed:
			if !a.Deliver(p) {
				a.Finish(transport.DisconnectEvent{Reason: transport.ReasonClosedClean})
				return
			}
		case ev := <-a.drops:
			a.Finish(ev)
			return
		case <-a.Done():
			a.Finish(transport.DisconnectEvent{Reason: transport.ReasonClosedClean})
			return
		}
	}
}

// push makes payload arrive from the remote side.
func (a *fakeAdapter) push(payload string) {
	select {
	case a.feed <- []byte(payload):
	case <-a.Done():
	}
}

// drop makes the remote side go away.
func (a *fakeAdapter) drop(reason transport.DisconnectReason) {
	ev := transport.DisconnectEvent{Reason: reason}
	if reason != transport.ReasonClosedClean {
		ev.Err = errors.New("connection reset by peer")
	}
	select {
	case a.drops <- ev:
	case <-a.Done():
	}
}

func (a *fakeAdapter) Send(msg transport.Message) error {
	if a.Closing() {
		return transport.ErrTransportClosed
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, msg.Payload)
	return nil
}

func (a *fakeAdapter) Close() error {
	return a.Shutdown(func() error { return nil })
}

func (a *fakeAdapter) isClosed() bool {
	return a.Closing()
}

func (a *fakeAdapter) sentPayloads() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.sent))
	for i, p := range a.sent {
		out[i] = string(p)
	}
	return out
}

// dialRequest is one Dial call waiting for the test to answer it.
type dialRequest struct {
	endpoint string
	reply    chan dialReply
}

type dialReply struct {
	adapter transport.Adapter
	err     error
}

func (r dialRequest) succeed() *fakeAdapter {
	a := newFakeAdapter()
	r.reply <- dialReply{adapter: a}
	return a
}

func (r dialRequest) fail() {
	r.reply <- dialReply{err: errRefused}
}

// fakeDialer hands every Dial call to the test, which answers it.
type fakeDialer struct {
	calls chan dialRequest
	done  chan struct{}
	// ignoreCancel keeps a superseded dial alive so its late answer can be
	// observed as stale.
	ignoreCancel bool
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		calls: make(chan dialRequest, 64),
		done:  make(chan struct{}),
	}
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string) (transport.Adapter, error) {
	req := dialRequest{endpoint: endpoint, reply: make(chan dialReply, 1)}
	d.calls <- req

	cancelled := ctx.Done()
	if d.ignoreCancel {
		cancelled = nil
	}
	select {
	case r := <-req.reply:
		return r.adapter, r.err
	case <-cancelled:
		return nil, ctx.Err()
	case <-d.done:
		return nil, errors.New("test finished")
	}
}

func (d *fakeDialer) next(t *testing.T) dialRequest {
	t.Helper()
	select {
	case req := <-d.calls:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("expected a dial")
		return dialRequest{}
	}
}

func (d *fakeDialer) pending() int {
	return len(d.calls)
}

// --- codec ---

// gatedCodec decodes strings, but each payload waits for the test to
// release it, so the test picks the order decodes finish in.
type gatedCodec struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedCodec(payloads ...string) *gatedCodec {
	g := &gatedCodec{gates: make(map[string]chan struct{})}
	for _, p := range payloads {
		g.gates[p] = make(chan struct{})
	}
	return g
}

func (g *gatedCodec) release(payload string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	close(g.gates[payload])
}

func (g *gatedCodec) Encode(v any) ([]byte, error) { return codec.Raw{}.Encode(v) }

func (g *gatedCodec) Decode(data []byte) (any, error) {
	g.mu.Lock()
	gate := g.gates[string(data)]
	g.mu.Unlock()
	if gate != nil {
		<-gate
	}
	return string(data), nil
}

// --- harness ---

// harness drives a client one event at a time on the test goroutine.
type harness struct {
	c      *Client
	clock  *fakeClock
	dialer *fakeDialer

	states   []session.ConnectionState
	messages []string
	fatal    []error
}

func newHarness(t *testing.T, endpoints []string, local bool, opts ...Option) *harness {
	t.Helper()
	return newHarnessWith(t, Config{Endpoints: endpoints, Local: local, Codec: codec.Raw{}}, newFakeDialer(), opts...)
}

func newHarnessWith(t *testing.T, cfg Config, dialer *fakeDialer, opts ...Option) *harness {
	t.Helper()
	h := &harness{clock: &fakeClock{}, dialer: dialer}
	cfg.Dialer = dialer
	cfg.OnState = func(s session.ConnectionState, _ string) { h.states = append(h.states, s) }
	cfg.OnMessage = func(msg any) { h.messages = append(h.messages, text(msg)) }

	opts = append([]Option{
		withClock(h.clock),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithAttemptTimeout(testAttemptTimeout),
		WithRetryDelay(testRetryDelay),
		WithFatalHandler(func(err error) { h.fatal = append(h.fatal, err) }),
	}, opts...)

	c, err := newClient(cfg, opts...)
	if err != nil {
		t.Fatalf("newClient: %v", err)
	}
	h.c = c
	t.Cleanup(func() {
		close(dialer.done)
		c.shutdown()
		c.wg.Wait()
	})

	if err := c.start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	return h
}

// step processes exactly one posted event.
func (h *harness) step(t *testing.T) error {
	t.Helper()
	select {
	case ev := <-h.c.events:
		return h.c.process(ev)
	case <-time.After(2 * time.Second):
		t.Fatal("expected an event on the loop")
		return nil
	}
}

// mustStep processes one event that must not be an invariant violation.
func (h *harness) mustStep(t *testing.T) {
	t.Helper()
	if err := h.step(t); err != nil {
		t.Fatalf("unexpected invariant violation: %v", err)
	}
}

// quiet asserts nothing is posted for a short while.
func (h *harness) quiet(t *testing.T) {
	t.Helper()
	select {
	case ev := <-h.c.events:
		t.Fatalf("expected no event, got %T", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// connect answers the pending dial with an open transport.
func (h *harness) connect(t *testing.T) (*fakeAdapter, string) {
	t.Helper()
	req := h.dialer.next(t)
	a := req.succeed()
	h.mustStep(t)
	return a, req.endpoint
}

// failAttempt refuses the pending dial, then lets the retry delay elapse
// so the client moves on to the next attempt. It returns the refused endpoint.
func (h *harness) failAttempt(t *testing.T) string {
	t.Helper()
	req := h.dialer.next(t)
	req.fail()
	h.mustStep(t)
	if h.c.state == session.StateWaiting {
		h.clock.fire(t, testRetryDelay)
		h.mustStep(t)
	}
	return req.endpoint
}

// text renders a delivered message for comparison; Raw delivers []byte.
func text(msg any) string {
	switch m := msg.(type) {
	case []byte:
		return string(m)
	case string:
		return m
	default:
		return fmt.Sprint(m)
	}
}
