package client

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/risa-org/sclclient/logger"
	"github.com/risa-org/sclclient/session"
	"github.com/risa-org/sclclient/transport"
	"github.com/risa-org/sclclient/transport/sender"
)

// loopEvent is anything posted to the event loop.
type loopEvent interface{}

type (
	// dialed reports the outcome of one dial.
	dialed struct {
		id      uuid.UUID
		adapter transport.Adapter
		err     error
	}
	// inbound carries raw bytes read from an open transport.
	inbound struct {
		id      uuid.UUID
		payload []byte
	}
	// disconnected reports that an open transport went away.
	disconnected struct {
		id    uuid.UUID
		event transport.DisconnectEvent
	}
	// attemptExpired is the watchdog firing.
	attemptExpired struct {
		id    uuid.UUID
		token uint64
	}
	// waitExpired is the inter-attempt delay elapsing.
	waitExpired struct {
		token uint64
	}
	// decoded is a finished decode of the message reserved at index.
	decoded struct {
		index uint64
		msg   any
		err   error
	}
	staticRequested struct{}
)

// run is the event loop. It owns every loop-owned field of Client.
func (c *Client) run() {
	defer c.wg.Done()
	defer c.shutdown()

	for {
		select {
		case <-c.ctx.Done():
			return
		case ev := <-c.events:
			if err := c.process(ev); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

// process applies one posted event. A non-nil error is an invariant
// violation and stops the loop.
func (c *Client) process(ev loopEvent) error {
	switch ev := ev.(type) {
	case dialed:
		return c.onDialed(ev)
	case inbound:
		c.onInbound(ev)
	case disconnected:
		return c.onDisconnected(ev)
	case attemptExpired:
		return c.onAttemptExpired(ev)
	case waitExpired:
		if ev.token != c.waitToken {
			return nil
		}
		c.wait = nil
		c.waitToken++
		return c.handleEvent(session.EventWaitTimerFired)
	case decoded:
		c.onDecoded(ev)
	case staticRequested:
		c.enterStatic()
	default:
		return fmt.Errorf("unknown loop event %T", ev)
	}
	return nil
}

// handleEvent is the only place a state machine event is applied. Entry
// actions may hand back a follow-up event, which is applied right here
// before anything else queued on the loop.
func (c *Client) handleEvent(event session.Event) error {
	for {
		c.watchdog.disarm()

		from := c.state
		to, err := session.Next(from, event)
		if err != nil {
			return err
		}
		c.setState(from, to, session.TransitionMessage(to))

		follow, ok := c.enter(to)
		if !ok {
			return nil
		}
		event = follow
	}
}

func (c *Client) setState(from, to session.ConnectionState, message string) {
	c.state = to
	c.snapshot.Store(int32(to))
	c.metrics.Transition(from.String(), to.String(), int(to))

	args := []any{"from", from.String(), "to", to.String()}
	if message != "" {
		args = append(args, "message", message)
	}
	if c.live != nil {
		args = append(args, "endpoint", c.live.endpoint)
	}
	c.log.Info("Connection state changed", args...)

	c.cfg.OnState(to, message)
}

// enter runs the entry action of state, returning a follow-up event if it
// produces one.
func (c *Client) enter(state session.ConnectionState) (session.Event, bool) {
	switch state {
	case session.StateInitialConnecting:
		c.policy.Reset()
		c.beginAttempt(c.policy.Endpoint())

	case session.StateDisconnected:
		c.clearLive()
		c.armWait()
		return session.EventWaitTimerStarted, true

	case session.StateReconnecting:
		endpoint, ok := c.policy.Advance()
		if !ok {
			c.log.Warn("Giving up on all endpoints",
				"cycles", c.policy.Attempt(),
				"max_attempts", c.policy.MaxAttempts())
			return session.EventRetriesExhausted, true
		}
		c.beginAttempt(endpoint)

	case session.StateDisconnectedForever, session.StateStatic:
		c.clearLive()
	}
	return 0, false
}

// enterStatic applies the application's fallback request. Static sits
// outside the transition table: only the application sets it.
func (c *Client) enterStatic() {
	if c.state == session.StateStatic {
		return
	}
	c.watchdog.disarm()
	c.stopWait()
	from := c.state
	c.setState(from, session.StateStatic, "")
	c.enter(session.StateStatic)
}

// armWait schedules the inter-attempt delay. Only the most recently armed
// delay can fire WaitTimerFired.
func (c *Client) armWait() {
	c.stopWait()
	c.waitToken++
	token := c.waitToken
	c.wait = c.opts.clock.AfterFunc(c.opts.retryDelay, func() {
		c.post(waitExpired{token: token})
	})
}

func (c *Client) stopWait() {
	if c.wait != nil {
		c.wait.Stop()
		c.wait = nil
	}
	c.waitToken++
}

// fail reports an invariant violation. The default handler panics.
func (c *Client) fail(err error) {
	logger.Fatal(c.log, "Client invariant violated", "state", c.state.String(), "error", err)
	c.opts.fatal(err)
}

// shutdown releases everything the loop owns. It runs on the loop goroutine
// as the loop exits, whatever the reason.
func (c *Client) shutdown() {
	c.cancel()
	c.watchdog.disarm()
	c.stopWait()
	c.clearLive()
	c.log.Info("Client stopped", "state", c.state.String())
}

// publish makes the open transport available to Send.
func (c *Client) publish(a *attempt) {
	c.out.Store(sender.New(c.cfg.Codec, a.adapter))
}
