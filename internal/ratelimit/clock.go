// Package ratelimit holds the per-connection message budget and the global
// connection quota of the signaling relay.
package ratelimit

import "time"

type Clock interface {
	Now() time.Time
}

type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
