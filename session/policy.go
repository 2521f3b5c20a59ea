package session

import "errors"

// DefaultMaxAttempts is how many full passes through the endpoint list a
// remote client makes before giving up.
const DefaultMaxAttempts = 5

// Unlimited disables the attempt cap. Local endpoints always use it.
const Unlimited = 0

var ErrNoEndpoints = errors.New("endpoint list is empty")

// Policy decides which endpoint to try next and when to stop trying.
// It owns the attempt cursor; nothing else reads or writes it.
type Policy struct {
	endpoints     []string
	local         bool
	maxAttempts   int // 0 means unlimited
	endpointIndex int // position in endpoints for the current cycle
	attemptNumber int // completed full cycles through endpoints
}

// NewPolicy builds a policy over an ordered, non-empty endpoint list.
// For local endpoints maxAttempts is ignored and retries never run out.
// A non-positive maxAttempts for remote endpoints means DefaultMaxAttempts.
func NewPolicy(endpoints []string, local bool, maxAttempts int) (*Policy, error) {
	if len(endpoints) == 0 {
		return nil, ErrNoEndpoints
	}
	switch {
	case local:
		maxAttempts = Unlimited
	case maxAttempts <= 0:
		maxAttempts = DefaultMaxAttempts
	}
	// copy so later mutation of the caller's slice can't reorder our cycle
	eps := make([]string, len(endpoints))
	copy(eps, endpoints)
	return &Policy{
		endpoints:   eps,
		local:       local,
		maxAttempts: maxAttempts,
	}, nil
}

// Reset moves the cursor back to the first endpoint of the current cycle.
// The attempt count is untouched; it only starts at zero on construction.
func (p *Policy) Reset() {
	p.endpointIndex = 0
}

// Advance moves to the next endpoint. When the list wraps it counts a
// completed cycle, and returns ok=false once the cap is reached.
func (p *Policy) Advance() (string, bool) {
	p.endpointIndex++
	if p.endpointIndex >= len(p.endpoints) {
		p.attemptNumber++
		if p.maxAttempts != Unlimited && p.attemptNumber >= p.maxAttempts {
			p.endpointIndex = len(p.endpoints) - 1
			return "", false
		}
		p.endpointIndex = 0
	}
	return p.endpoints[p.endpointIndex], true
}

// Endpoint returns the endpoint under the cursor.
func (p *Policy) Endpoint() string {
	return p.endpoints[p.endpointIndex]
}

// Index returns the cursor position within the endpoint list.
func (p *Policy) Index() int { return p.endpointIndex }

// Attempt returns how many full cycles have completed.
func (p *Policy) Attempt() int { return p.attemptNumber }

// MaxAttempts returns the cycle cap, or Unlimited.
func (p *Policy) MaxAttempts() int { return p.maxAttempts }

// Local reports whether the endpoints are on this machine.
func (p *Policy) Local() bool { return p.local }

// Endpoints returns a copy of the ordered endpoint list.
func (p *Policy) Endpoints() []string {
	return append([]string(nil), p.endpoints...)
}
