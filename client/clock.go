package client

import "time"

// clock schedules the watchdog and the inter-attempt delay. Tests swap in a
// fake so timer expiry happens exactly when the test says it does.
type clock interface {
	AfterFunc(d time.Duration, f func()) timer
}

type timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}
