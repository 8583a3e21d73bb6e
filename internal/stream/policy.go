package stream

import "time"

const (
	// MaxReconnectAttempts is the hard ceiling on consecutive reconnect
	// attempts. The policy itself does not enforce it; the connection
	// manager stops retrying and surfaces a terminal error once the
	// ceiling is reached.
	MaxReconnectAttempts = 8

	// DefaultReconnectBase is the base unit for the linear backoff.
	DefaultReconnectBase = 2 * time.Second
)

// ReconnectPolicy computes the wait before a reconnect attempt. It is a pure
// function of the attempt number and performs no I/O.
type ReconnectPolicy struct {
	Base time.Duration
}

// NewReconnectPolicy returns a policy with the given base unit, falling back
// to DefaultReconnectBase when base is not positive.
func NewReconnectPolicy(base time.Duration) ReconnectPolicy {
	if base <= 0 {
		base = DefaultReconnectBase
	}
	return ReconnectPolicy{Base: base}
}

// DelayFor returns the wait duration before reconnect attempt number
// `attempt` (zero-based). Linear in the attempt number: base, 2*base, ...
func (p ReconnectPolicy) DelayFor(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return p.Base * time.Duration(attempt+1)
}
