package respool

import (
	"context"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/f5qa/respool/pkg/cache"
)

// RetryPolicy bounds the compare-and-swap loop. The context deadline, if
// any, bounds it as well.
type RetryPolicy struct {
	// Maximum number of attempts
	Steps    int
	Duration time.Duration
	Factor   float64
	Jitter   float64
	// Maximum delay between two attempts, reaching it ends the retries
	Cap time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Steps:    20,
		Duration: 10 * time.Millisecond,
		Factor:   1.5,
		Jitter:   1.0,
		Cap:      time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	d := DefaultRetryPolicy()
	if p.Steps <= 0 {
		p.Steps = d.Steps
	}
	if p.Duration <= 0 {
		p.Duration = d.Duration
	}
	if p.Factor <= 0 {
		p.Factor = d.Factor
	}
	if p.Cap <= 0 {
		p.Cap = d.Cap
	}
	return p
}

func (p RetryPolicy) backoff() wait.Backoff {
	p = p.withDefaults()
	return wait.Backoff{
		Steps:    p.Steps,
		Duration: p.Duration,
		Factor:   p.Factor,
		Jitter:   p.Jitter,
		Cap:      p.Cap,
	}
}

// casUpdate is the outcome of one attempt: the new value of the key, and
// the writes to perform once it has been accepted
type casUpdate struct {
	value  []byte
	commit func(ctx context.Context) error
}

// casAttempt computes the update to apply to the current value of the
// key, nil meaning there is nothing to write
type casAttempt func(ctx context.Context, current []byte) (*casUpdate, error)

// withCASRetry runs attempt against the current value of key until its
// result is accepted by CompareAndSwap. Every attempt starts over from a
// fresh read, so attempt must not keep state between calls.
func withCASRetry(ctx context.Context, c cache.Cache, key string, policy RetryPolicy, logger logr.Logger, attempt casAttempt) error {
	attempts := 0

	err := wait.ExponentialBackoffWithContext(ctx, policy.backoff(), func(ctx context.Context) (bool, error) {
		attempts++

		current, token, err := c.Gets(ctx, key)
		if err != nil {
			return false, err
		}

		update, err := attempt(ctx, current)
		if err != nil {
			return false, err
		}
		if update == nil {
			return true, nil
		}

		swapped, err := c.CompareAndSwap(ctx, key, update.value, token, 0)
		if err != nil {
			return false, err
		}
		if !swapped {
			casConflictsCount.WithLabelValues(key).Inc()
			logger.Info("Collision. Retrying...", "key", key, "attempt", attempts)
			return false, nil
		}

		if update.commit != nil {
			if err := update.commit(ctx); err != nil {
				return false, fmt.Errorf("%s updated but its items could not be written: %w", key, err)
			}
		}
		return true, nil
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return fmt.Errorf("updating %s interrupted after %d attempts: %w", key, attempts, ctx.Err())
	case wait.Interrupted(err):
		casRetriesExhaustedCount.WithLabelValues(key).Inc()
		return &CASRetriesExhaustedError{Key: key, Attempts: attempts}
	default:
		return err
	}
}
