package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
)

// ErrTimeout is wrapped by every bounded wait that expires.
var ErrTimeout = errors.New("timed out")

const minPollInterval = 10 * time.Millisecond

// waitUntil polls cond every interval until it reports true, returns an
// error, the timeout elapses, or ctx is done. cond is always evaluated at
// least once.
func waitUntil(ctx context.Context, timeout, interval time.Duration, what string, cond func(context.Context) (bool, error)) error {
	if interval <= 0 {
		interval = minPollInterval
	}
	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, cond)
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case wait.Interrupted(err):
		return fmt.Errorf("waiting %s for %s: %w", timeout, what, ErrTimeout)
	default:
		return err
	}
}

// sleepCtx sleeps for d unless ctx is done first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
