package sender

import (
	"fmt"

	"github.com/risa-org/sclclient/codec"
	"github.com/risa-org/sclclient/transport"
)

// Sender pairs a Codec with a transport Adapter. It is the single place
// where outgoing command objects are encoded and written.
//
// Without it, callers had to do two things by hand:
//
//	data, err := codec.Encode(cmd)
//	adapter.Send(transport.Message{Payload: data})
//
// Sender collapses this to one call:
//
//	sender.Send(cmd)
//
// A value that fails to encode never reaches the transport.
type Sender struct {
	codec   codec.Codec
	adapter transport.Adapter
}

// New creates a Sender that encodes with c and delivers via adapter.
func New(c codec.Codec, adapter transport.Adapter) *Sender {
	return &Sender{codec: c, adapter: adapter}
}

// Send encodes v and writes it to the transport. Encode errors are wrapped;
// transport errors are returned as-is so errors.Is(err, transport.ErrTransportClosed) works.
func (s *Sender) Send(v any) error {
	data, err := s.codec.Encode(v)
	if err != nil {
		return fmt.Errorf("encode outgoing message: %w", err)
	}
	return s.adapter.Send(transport.Message{Payload: data})
}

// Adapter returns the underlying transport adapter.
func (s *Sender) Adapter() transport.Adapter {
	return s.adapter
}
