package client

import "github.com/risa-org/sclclient/session"

// onInbound reserves the message's place in arrival order and starts
// decoding it. Delivery happens in onDecoded.
func (c *Client) onInbound(ev inbound) {
	if !c.isLive(ev.id) {
		return
	}

	index := c.reasm.Reserve()
	c.metrics.InFlight(c.reasm.InFlight())
	if c.reasm.OverLimit() {
		c.log.Warn("Inbound messages piling up behind a slow decode",
			"pending", c.reasm.Pending(),
			"in_flight", c.reasm.InFlight())
	}

	c.decoder.Submit(c.ctx, ev.payload, func(msg any, err error) {
		c.post(decoded{index: index, msg: msg, err: err})
	})
}

// onDecoded slots a finished decode into the reassembler and delivers
// whatever contiguous run that completes. A failed decode fills its slot
// without delivering, so later messages are not held back.
func (c *Client) onDecoded(ev decoded) {
	var (
		out     []any
		verdict session.DeliveryVerdict
	)
	if ev.err != nil {
		c.metrics.DecodeFailed()
		c.log.Warn("Dropping undecodable message", "index", ev.index, "error", ev.err)
		out, verdict = c.reasm.Skip(ev.index)
	} else {
		out, verdict = c.reasm.Complete(ev.index, ev.msg)
	}

	switch verdict {
	case session.DropDuplicate, session.DropViolation:
		c.log.Debug("Ignoring completion", "index", ev.index, "verdict", verdict.String())
	}

	for _, msg := range out {
		c.cfg.OnMessage(msg)
	}
	c.metrics.Delivered(len(out))
	c.metrics.InFlight(c.reasm.InFlight())
}
