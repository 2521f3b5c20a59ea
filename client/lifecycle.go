package client

import (
	"context"

	"github.com/google/uuid"

	"github.com/risa-org/sclclient/session"
	"github.com/risa-org/sclclient/transport"
)

// beginAttempt replaces the live attempt with a fresh one against endpoint
// and arms the watchdog for it. The dial runs on its own goroutine.
func (c *Client) beginAttempt(endpoint string) {
	c.clearLive()

	ctx, cancel := context.WithCancel(c.ctx)
	a := &attempt{
		id:       uuid.New(),
		endpoint: endpoint,
		status:   attemptEstablishing,
		cancel:   cancel,
	}
	c.live = a
	c.metrics.Attempt(endpoint)
	c.log.Debug("Dialing endpoint",
		"endpoint", endpoint,
		"attempt_id", a.id.String(),
		"cycle", c.policy.Attempt(),
		"index", c.policy.Index())

	c.wg.Add(1)
	go c.dial(ctx, a.id, endpoint)

	c.watchdog.arm(a.id)
}

func (c *Client) dial(ctx context.Context, id uuid.UUID, endpoint string) {
	defer c.wg.Done()

	adapter, err := c.cfg.Dialer.Dial(ctx, endpoint)
	if ctx.Err() != nil {
		// superseded or shutting down; nobody wants this transport
		if adapter != nil {
			adapter.Close()
		}
		return
	}
	if !c.post(dialed{id: id, adapter: adapter, err: err}) && adapter != nil {
		adapter.Close()
	}
}

// pump forwards everything an open transport produces to the loop, tagged
// with the attempt it belongs to. Messages and the final disconnect are
// posted in order.
func (c *Client) pump(id uuid.UUID, adapter transport.Adapter) {
	defer c.wg.Done()

	for msg := range adapter.Receive() {
		if !c.post(inbound{id: id, payload: msg.Payload}) {
			return
		}
	}
	select {
	case ev := <-adapter.Disconnected():
		c.post(disconnected{id: id, event: ev})
	case <-c.ctx.Done():
	}
}

// clearLive drops the live attempt: its dial is abandoned, its transport
// closed, and anything it still posts becomes stale.
func (c *Client) clearLive() {
	a := c.live
	if a == nil {
		return
	}
	c.live = nil
	c.out.Store(nil)
	a.cancel()
	if a.adapter != nil {
		if err := a.adapter.Close(); err != nil {
			c.log.Debug("Closing transport", "endpoint", a.endpoint, "error", err)
		}
	}
}

// isLive reports whether id names the live attempt.
func (c *Client) isLive(id uuid.UUID) bool {
	return c.live != nil && c.live.id == id
}

func (c *Client) onDialed(ev dialed) error {
	if !c.isLive(ev.id) {
		if ev.adapter != nil {
			ev.adapter.Close()
		}
		c.log.Debug("Discarding stale dial result", "attempt_id", ev.id.String())
		return nil
	}

	a := c.live
	if ev.err != nil {
		a.status = attemptFailed
		c.log.Warn("Connection attempt failed", "endpoint", a.endpoint, "error", ev.err)
		return c.handleEvent(session.EventConnectionError)
	}

	a.status = attemptOpen
	a.adapter = ev.adapter
	c.publish(a)
	c.wg.Add(1)
	go c.pump(a.id, a.adapter)
	return c.handleEvent(session.EventConnectionSucceeded)
}

func (c *Client) onDisconnected(ev disconnected) error {
	if !c.isLive(ev.id) {
		return nil
	}

	a := c.live
	a.status = attemptFailed
	c.out.Store(nil)
	if ev.event.Reason == transport.ReasonClosedClean {
		c.log.Info("Transport closed", "endpoint", a.endpoint)
		return c.handleEvent(session.EventConnectionClosed)
	}
	c.log.Warn("Transport failed",
		"endpoint", a.endpoint,
		"reason", ev.event.Reason.String(),
		"error", ev.event.Err)
	return c.handleEvent(session.EventConnectionError)
}
