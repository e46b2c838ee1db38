package bootstrap

import (
	"errors"
	"fmt"
	"time"
)

// Default intervals between attempts in each phase.
const (
	DefaultAgentPollInterval    time.Duration = 5 * time.Second
	DefaultResolveRetryInterval time.Duration = 5 * time.Second
	DefaultJoinBackoff          time.Duration = 2 * time.Second
)

// Decision is the answer of a Policy: retry after a pause, or give up.
type Decision struct {
	Retry bool
	After time.Duration
}

// Policy decides what to do after a failed attempt.
// attempt is 1-indexed and counts the attempt that just failed; elapsed is the time spent in the current phase.
type Policy func(attempt int, elapsed time.Duration, lastErr error) Decision

// policyConfig holds the ceilings applied by Fixed.
type policyConfig struct {
	maxAttempts int
	maxElapsed  time.Duration
}

// PolicyOption is a functional option for Fixed.
type PolicyOption func(*policyConfig)

// WithMaxAttempts gives up once n attempts have failed. 0 retries forever.
func WithMaxAttempts(n int) PolicyOption {
	return func(c *policyConfig) { c.maxAttempts = n }
}

// WithMaxDuration gives up when another wait would push the phase past d. 0 retries forever.
func WithMaxDuration(d time.Duration) PolicyOption {
	return func(c *policyConfig) { c.maxElapsed = d }
}

// Fixed retries after the same interval every time.
// Without options it retries forever.
func Fixed(interval time.Duration, opts ...PolicyOption) Policy {
	cfg := &policyConfig{}
	for _, opt := range opts {
		opt(cfg)
	}
	return func(attempt int, elapsed time.Duration, _ error) Decision {
		if cfg.maxAttempts > 0 && attempt >= cfg.maxAttempts {
			return Decision{}
		}
		if cfg.maxElapsed > 0 && elapsed+interval > cfg.maxElapsed {
			return Decision{}
		}
		return Decision{Retry: true, After: interval}
	}
}

// ErrExhausted indicates that a full pass over the peer list failed to join any of them.
var ErrExhausted = errors.New("could not join any of the given peers")

// GaveUpError is returned when a Policy stops retrying a phase.
type GaveUpError struct {
	State    State
	Attempts int
	Elapsed  time.Duration
	Err      error // last error observed
}

func (e *GaveUpError) Error() string {
	return fmt.Sprintf("gave up in state %v after %d attempts (%v): %v", e.State, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *GaveUpError) Unwrap() error {
	return e.Err
}
