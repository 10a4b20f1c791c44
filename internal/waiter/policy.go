package waiter

import (
	"time"

	"github.com/juju/clock"
)

const (
	DefaultInterval    = 15 * time.Second
	DefaultMaxAttempts = 40
	DefaultTimeout     = 10 * time.Minute
)

// Policy bounds a wait. Polling stops after MaxAttempts polls or once
// Timeout has elapsed, whichever comes first. A zero MaxAttempts or
// Timeout disables that bound, but not both.
type Policy struct {
	Interval    time.Duration
	MaxAttempts int
	Timeout     time.Duration
	Clock       clock.Clock
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		Interval:    DefaultInterval,
		MaxAttempts: DefaultMaxAttempts,
		Timeout:     DefaultTimeout,
		Clock:       clock.WallClock,
	}
}

func (p Policy) withDefaults() Policy {
	if p.Interval <= 0 {
		p.Interval = DefaultInterval
	}
	if p.MaxAttempts <= 0 && p.Timeout <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
		p.Timeout = DefaultTimeout
	}
	if p.Clock == nil {
		p.Clock = clock.WallClock
	}
	return p
}
