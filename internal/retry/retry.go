// Package retry consolidates the handful of retry budgets that appear
// across the bus and shard-runner publish paths into one helper
// parameterised by max attempts and max elapsed time. Every caller names
// its budget inline rather than re-deriving a backoff.ExponentialBackOff
// by hand.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Budget names a retry policy. Either MaxAttempts or MaxElapsed (or both)
// bound the retry; a zero value leaves that dimension unbounded.
type Budget struct {
	MaxAttempts uint64
	MaxElapsed  time.Duration
}

// RunnerPublish is the shard runner's publish budget (spec: 5 attempts).
func RunnerPublish() Budget { return Budget{MaxAttempts: 5} }

// StreamCreate is the bus's stream-creation/connect budget (spec: 5
// minute ceiling, 10 attempts).
func StreamCreate() Budget { return Budget{MaxAttempts: 10, MaxElapsed: 5 * time.Minute} }

// Unbounded retries forever with exponential backoff until ctx is
// cancelled (spec: "unlimited-with-exponential").
func Unbounded() Budget { return Budget{} }

// Do runs fn under exponential backoff until it succeeds, the budget is
// exhausted, or ctx is cancelled. The last error is returned on
// exhaustion.
func Do(ctx context.Context, budget Budget, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = budget.MaxElapsed

	var policy backoff.BackOff = backoff.WithContext(b, ctx)
	if budget.MaxAttempts > 0 {
		policy = backoff.WithMaxRetries(policy, budget.MaxAttempts-1)
	}

	return backoff.Retry(fn, policy)
}
