package stream

import (
	"context"
	"errors"
	"time"

	"github.com/lthibault/jitterbug/v2"
)

// RetryPolicy bounds how often a failed attach is retried.
type RetryPolicy struct {
	Attempts int
	Interval time.Duration
}

var DefaultRetryPolicy = RetryPolicy{Attempts: 3, Interval: 2 * time.Second}

// AttachWithRetry attaches, retrying transport failures up to policy.Attempts
// times in total, paced by a jittered ticker. Any other error is returned at
// once.
func (c *Connector) AttachWithRetry(ctx context.Context, fileID string, policy RetryPolicy) (*Subscription, error) {
	if policy.Attempts < 1 {
		policy.Attempts = 1
	}
	if policy.Interval <= 0 {
		policy.Interval = DefaultRetryPolicy.Interval
	}

	sub, err := c.Attach(ctx, fileID)
	if err == nil || !errors.Is(err, ErrDisconnected) || policy.Attempts == 1 {
		return sub, err
	}

	ticker := jitterbug.New(policy.Interval, &jitterbug.Norm{Stdev: policy.Interval / 10, Mean: 0})
	defer ticker.Stop()

	for attempt := 2; attempt <= policy.Attempts; attempt++ {
		c.log.Infow("re-attaching", "file_id", fileID, "attempt", attempt, "of", policy.Attempts, "error", err)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		sub, err = c.Attach(ctx, fileID)
		if err == nil || !errors.Is(err, ErrDisconnected) {
			return sub, err
		}
	}
	return nil, err
}
