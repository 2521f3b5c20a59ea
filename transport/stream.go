package transport

import "sync"

// StreamBuffer is how many inbound messages an adapter queues before its
// reader blocks.
const StreamBuffer = 64

// Stream is the channel side of an Adapter: the inbound queue, the one-shot
// disconnect signal and close bookkeeping. Concrete adapters embed it and
// add only their read loop and Send.
//
// Deliver and Finish must be called from a single reader goroutine.
type Stream struct {
	incoming   chan Message
	disconnect chan DisconnectEvent
	done       chan struct{}
	closeOnce  sync.Once
	finishOnce sync.Once
}

func NewStream() *Stream {
	return &Stream{
		incoming:   make(chan Message, StreamBuffer),
		disconnect: make(chan DisconnectEvent, 1),
		done:       make(chan struct{}),
	}
}

// Receive returns the inbound queue. It is closed by Finish.
func (s *Stream) Receive() <-chan Message {
	return s.incoming
}

// Disconnected emits exactly one event, from Finish.
func (s *Stream) Disconnected() <-chan DisconnectEvent {
	return s.disconnect
}

// Deliver queues one inbound payload. It returns false once the stream has
// been shut down and nobody is reading any more.
func (s *Stream) Deliver(payload []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.incoming <- Message{Payload: payload}:
		return true
	case <-s.done:
		return false
	}
}

// Finish ends the inbound side: ev becomes the single disconnect event and
// Receive is closed. After Shutdown every ending counts as clean, whatever
// the read error said. Later calls are ignored.
func (s *Stream) Finish(ev DisconnectEvent) {
	s.finishOnce.Do(func() {
		if s.Closing() {
			ev = DisconnectEvent{Reason: ReasonClosedClean}
		}
		s.disconnect <- ev
		close(s.incoming)
	})
}

// Shutdown marks the stream closed and runs closeConn exactly once.
func (s *Stream) Shutdown(closeConn func() error) error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = closeConn()
	})
	return err
}

// Closing reports whether Shutdown has been called.
func (s *Stream) Closing() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Done is closed by Shutdown.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}
