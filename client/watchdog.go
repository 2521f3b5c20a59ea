package client

import (
	"time"

	"github.com/google/uuid"

	"github.com/risa-org/sclclient/session"
)

// watchdog bounds a single connection attempt. At most one timer is
// pending; disarming bumps the token so a timer that already fired and
// queued its event is ignored when the event is processed.
type watchdog struct {
	clock   clock
	timeout time.Duration
	post    func(loopEvent) bool

	timer timer
	armed bool
	token uint64
}

func (w *watchdog) arm(id uuid.UUID) {
	w.disarm()
	w.armed = true
	token := w.token
	w.timer = w.clock.AfterFunc(w.timeout, func() {
		w.post(attemptExpired{id: id, token: token})
	})
}

func (w *watchdog) disarm() {
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	w.armed = false
	w.token++
}

// current reports whether token belongs to the pending timer.
func (w *watchdog) current(token uint64) bool {
	return w.armed && token == w.token
}

func (c *Client) onAttemptExpired(ev attemptExpired) error {
	if !c.watchdog.current(ev.token) {
		return nil
	}
	c.watchdog.armed = false
	c.watchdog.timer = nil

	// an armed watchdog always has an attempt behind it
	if c.live == nil {
		return c.handleEvent(session.EventConnectionImpossible)
	}
	if c.live.id != ev.id {
		return nil
	}
	if c.live.status == attemptEstablishing {
		c.log.Warn("Connection attempt timed out",
			"endpoint", c.live.endpoint,
			"timeout", c.opts.attemptTimeout)
		return c.handleEvent(session.EventConnectionTimedOut)
	}
	c.log.Debug("Watchdog expired after attempt settled", "status", c.live.status.String())
	return nil
}
