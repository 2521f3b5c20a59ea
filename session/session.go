package session

import (
	"errors"
	"fmt"
)

// ConnectionState represents where the client currently is in its connection lifecycle.
// Exactly one state is current at any time.
type ConnectionState int

const (
	StateInitial             ConnectionState = iota // 0 - constructed, nothing attempted yet
	StateInitialConnecting                          // 1 - first attempt against the endpoint list
	StateConnected                                  // 2 - transport open, messages flowing
	StateDisconnected                               // 3 - attempt failed or connection dropped
	StateWaiting                                    // 4 - inter-attempt delay armed
	StateReconnecting                               // 5 - retry attempt in flight
	StateDisconnectedForever                        // 6 - retries exhausted, terminal
	StateStatic                                     // 7 - application fell back to a non-live transport, terminal
)

var stateNames = [...]string{
	"Initial",
	"InitialConnecting",
	"Connected",
	"Disconnected",
	"Waiting",
	"Reconnecting",
	"DisconnectedForever",
	"Static",
}

func (s ConnectionState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("ConnectionState(%d)", int(s))
	}
	return stateNames[s]
}

// IsTerminal reports whether no further transitions can leave this state.
func (s ConnectionState) IsTerminal() bool {
	return s == StateDisconnectedForever || s == StateStatic
}

// Event is a transient input to the state machine. Events are never stored.
type Event int

const (
	EventStart               Event = iota // kick-off fed once by the constructor
	EventConnectionSucceeded              // transport reported open
	EventConnectionError                  // dial failed or the transport errored
	EventConnectionClosed                 // transport closed cleanly
	EventConnectionTimedOut               // watchdog expired while still establishing
	EventConnectionImpossible             // watchdog fired with no live transport, never legal
	EventRetriesExhausted                 // policy ran out of attempts
	EventWaitTimerFired                   // inter-attempt delay elapsed
	EventWaitTimerStarted                 // inter-attempt delay began
)

var eventNames = [...]string{
	"Start",
	"ConnectionSucceeded",
	"ConnectionError",
	"ConnectionClosed",
	"ConnectionTimedOut",
	"ConnectionImpossible",
	"RetriesExhausted",
	"WaitTimerFired",
	"WaitTimerStarted",
}

func (e Event) String() string {
	if e < 0 || int(e) >= len(eventNames) {
		return fmt.Sprintf("Event(%d)", int(e))
	}
	return eventNames[e]
}

// MessageRetriesExhausted accompanies the transition into StateDisconnectedForever.
const MessageRetriesExhausted = "Retries exhausted"

// ErrIllegalTransition is wrapped by every TransitionError so callers can
// check the class with errors.Is without caring about the pair.
var ErrIllegalTransition = errors.New("illegal state transition")

// TransitionError reports an event that is not legal in the current state.
// It signals a programming-invariant violation, not an operational failure.
type TransitionError struct {
	From  ConnectionState
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%v: event %v in state %v", ErrIllegalTransition, e.Event, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}

// transitions is the complete table of legal (state, event) pairs.
// StateInitial is handled separately because it accepts any event.
// Terminal states have no entries, so every event from them is illegal.
var transitions = map[ConnectionState]map[Event]ConnectionState{
	StateInitialConnecting: attemptTransitions,
	StateReconnecting:      attemptTransitions,
	StateConnected: {
		EventConnectionClosed: StateDisconnected,
		EventConnectionError:  StateDisconnected,
	},
	StateDisconnected: {
		EventWaitTimerStarted: StateWaiting,
	},
	StateWaiting: {
		EventWaitTimerFired: StateReconnecting,
	},
	StateDisconnectedForever: {},
	StateStatic:              {},
}

// attemptTransitions is shared by both connecting states: an attempt in flight
// either succeeds, fails one of three ways, or the policy gives up.
var attemptTransitions = map[Event]ConnectionState{
	EventConnectionSucceeded: StateConnected,
	EventConnectionTimedOut:  StateDisconnected,
	EventConnectionError:     StateDisconnected,
	EventConnectionClosed:    StateDisconnected,
	EventRetriesExhausted:    StateDisconnectedForever,
}

// Next returns the state that event leads to from the given state.
// An illegal pair returns a *TransitionError and the unchanged state.
func Next(from ConnectionState, event Event) (ConnectionState, error) {
	if from == StateInitial {
		return StateInitialConnecting, nil
	}
	next, ok := transitions[from][event]
	if !ok {
		return from, &TransitionError{From: from, Event: event}
	}
	return next, nil
}

// TransitionMessage is the human-readable note that accompanies entering a state, if any.
func TransitionMessage(to ConnectionState) string {
	if to == StateDisconnectedForever {
		return MessageRetriesExhausted
	}
	return ""
}
