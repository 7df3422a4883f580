package outbox

import (
	"time"

	"github.com/matheus3301/feedsync/internal/config"
)

// Policy decides when a failed action is retried and when it gives up.
type Policy struct {
	BackoffMin time.Duration
	BackoffMax time.Duration
	MaxRetries int
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		BackoffMin: config.DefaultBackoffMin,
		BackoffMax: config.DefaultBackoffMax,
		MaxRetries: config.DefaultMaxRetries,
	}
}

// PolicyFrom builds a policy from parsed sync settings.
func PolicyFrom(s config.Settings) Policy {
	return Policy{BackoffMin: s.BackoffMin, BackoffMax: s.BackoffMax, MaxRetries: s.MaxRetries}
}

// Backoff returns the delay before the next attempt after retries failed
// attempts: BackoffMin doubled per failure, capped at BackoffMax.
func (p Policy) Backoff(retries int) time.Duration {
	d := p.BackoffMin
	if d <= 0 {
		d = config.DefaultBackoffMin
	}
	for i := 1; i < retries; i++ {
		d *= 2
		if p.BackoffMax > 0 && d >= p.BackoffMax {
			return p.BackoffMax
		}
	}
	if p.BackoffMax > 0 && d > p.BackoffMax {
		return p.BackoffMax
	}
	return d
}

// Exhausted reports whether an action that has failed retries times must
// be marked permanently failed.
func (p Policy) Exhausted(retries int) bool {
	return p.MaxRetries > 0 && retries >= p.MaxRetries
}
