package outbox

import (
	"time"

	"github.com/sethvargo/go-retry"
)

// Config holds the tunables of the reconciler.
type Config struct {
	// GracePeriod how long a synced operation stays visible before removal
	GracePeriod time.Duration
	// MaxAttempts upper bound of submissions per cycle before automatic retry gives up
	MaxAttempts int
	// BackoffBase first automatic retry delay, doubled on each failure
	BackoffBase time.Duration
	// BackoffMax cap for a single retry delay
	BackoffMax time.Duration
	// BackoffJitterPercent +/- jitter applied to each delay, 0 disables it
	BackoffJitterPercent uint64
	// SubmitTimeout bound for one remote submission; exceeding it is a transient failure
	SubmitTimeout time.Duration
	// Concurrency maximum submissions in flight during Flush
	Concurrency int
}

// DefaultConfig returns the defaults used when a value is not configured.
func DefaultConfig() Config {
	return Config{
		GracePeriod:          3 * time.Second,
		MaxAttempts:          5,
		BackoffBase:          500 * time.Millisecond,
		BackoffMax:           30 * time.Second,
		BackoffJitterPercent: 10,
		SubmitTimeout:        15 * time.Second,
		Concurrency:          4,
	}
}

// withDefaults fills zero values from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.GracePeriod <= 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = d.BackoffMax
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = c.BackoffBase
	}
	if c.BackoffJitterPercent > 100 {
		c.BackoffJitterPercent = 100
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = d.SubmitTimeout
	}
	if c.Concurrency <= 0 {
		c.Concurrency = d.Concurrency
	}
	return c
}

// newBackoff builds the delay sequence for one operation's automatic retries.
// The attempt bound is enforced by the reconciler through PendingOperation.Attempt,
// which survives restarts; the backoff only shapes the delays.
func (c Config) newBackoff() retry.Backoff {
	b := retry.NewExponential(c.BackoffBase)
	b = retry.WithCappedDuration(c.BackoffMax, b)
	if c.BackoffJitterPercent > 0 {
		b = retry.WithJitterPercent(c.BackoffJitterPercent, b)
	}
	return b
}
