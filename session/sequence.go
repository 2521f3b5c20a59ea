package session

// DefaultMaxPending is the soft limit on messages held while waiting for an
// earlier arrival to finish decoding. Exceeding it is reported, never enforced.
const DefaultMaxPending = 256

// Reassembler releases decoded inbound messages in the order their raw bytes
// arrived, no matter what order decoding finishes in.
// It lives inside the client's event loop and is never touched concurrently.
//
// Arrival indices are never reset across reconnects: ordering is defined
// over the lifetime of the client, not per connection attempt.
type Reassembler struct {
	next       uint64           // next arrival index to hand out
	delivered  uint64           // count delivered so far, equals lastDelivered+1
	pending    map[uint64]entry // decoded (or skipped) but blocked behind a gap
	maxPending int              // soft limit, see OverLimit
}

// entry is one decoded slot. A skipped entry fills its gap without being delivered.
type entry struct {
	msg     any
	skipped bool
}

// NewReassembler creates an empty reassembler with the default soft limit.
func NewReassembler() *Reassembler {
	return NewReassemblerWithLimit(DefaultMaxPending)
}

// NewReassemblerWithLimit creates an empty reassembler with a custom soft limit.
// A non-positive limit disables the OverLimit report.
func NewReassemblerWithLimit(maxPending int) *Reassembler {
	return &Reassembler{
		pending:    make(map[uint64]entry),
		maxPending: maxPending,
	}
}

// Reserve assigns the next arrival index. Call it the moment raw bytes are
// received, before decoding starts, so wire order is captured.
func (r *Reassembler) Reserve() uint64 {
	i := r.next
	r.next++
	return i
}

// DeliveryVerdict says what happened to a completed slot.
type DeliveryVerdict int

const (
	Deliver       DeliveryVerdict = iota // slot was next in line, run drained
	Buffered                             // slot is held until an earlier gap closes
	DropDuplicate                        // slot already delivered or already held
	DropViolation                        // slot was never reserved
)

func (v DeliveryVerdict) String() string {
	switch v {
	case Deliver:
		return "deliver"
	case Buffered:
		return "buffered"
	case DropDuplicate:
		return "drop(duplicate)"
	case DropViolation:
		return "drop(violation)"
	default:
		return "unknown"
	}
}

// Complete records the decoded message for arrival index i and returns the
// maximal contiguous run that is now deliverable, oldest first.
// Each returned message must be handed to the application exactly once, in order.
func (r *Reassembler) Complete(i uint64, msg any) ([]any, DeliveryVerdict) {
	return r.complete(i, entry{msg: msg})
}

// Skip marks arrival index i as undeliverable (decode failed) so later
// messages aren't blocked behind it forever. It returns the run that
// became deliverable as a result.
func (r *Reassembler) Skip(i uint64) ([]any, DeliveryVerdict) {
	return r.complete(i, entry{skipped: true})
}

func (r *Reassembler) complete(i uint64, e entry) ([]any, DeliveryVerdict) {
	// anything below the delivered edge already went out
	if i < r.delivered {
		return nil, DropDuplicate
	}
	// a completion for an index we never handed out is malformed
	if i >= r.next {
		return nil, DropViolation
	}
	if _, held := r.pending[i]; held {
		return nil, DropDuplicate
	}

	r.pending[i] = e
	if i != r.delivered {
		return nil, Buffered
	}
	return r.drain(), Deliver
}

// drain removes and returns the contiguous run starting at the delivered edge.
// Skipped entries advance the edge but produce nothing.
func (r *Reassembler) drain() []any {
	var out []any
	for {
		e, ok := r.pending[r.delivered]
		if !ok {
			return out
		}
		delete(r.pending, r.delivered)
		r.delivered++
		if !e.skipped {
			out = append(out, e.msg)
		}
	}
}

// LastDelivered returns the highest arrival index already released,
// or -1 when nothing has been released yet.
func (r *Reassembler) LastDelivered() int64 {
	return int64(r.delivered) - 1
}

// NextIndex returns the arrival index the next Reserve will hand out.
func (r *Reassembler) NextIndex() uint64 {
	return r.next
}

// Pending returns how many completed slots are held behind a gap.
func (r *Reassembler) Pending() int {
	return len(r.pending)
}

// InFlight returns how many reserved slots haven't been released yet,
// whether still decoding or held behind a gap.
func (r *Reassembler) InFlight() uint64 {
	return r.next - r.delivered
}

// OverLimit reports whether the in-flight count has reached the soft limit.
// Nothing is dropped; the caller decides how loudly to complain.
func (r *Reassembler) OverLimit() bool {
	return r.maxPending > 0 && r.InFlight() >= uint64(r.maxPending)
}
