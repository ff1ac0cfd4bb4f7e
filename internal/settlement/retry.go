package settlement

import (
	"context"
	"time"
)

// Retry runs fn up to attempts times with a fixed delay before each call.
// It stops early when fn reports done or returns an error, and aborts with
// ctx.Err() if the context ends while sleeping. The attempts are strictly
// sequential. It reports whether fn ever signalled done.
func Retry(ctx context.Context, attempts int, delay time.Duration, fn func(attempt int) (done bool, err error)) (bool, error) {
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := sleep(ctx, delay); err != nil {
			return false, err
		}
		done, err := fn(attempt)
		if err != nil {
			return false, err
		}
		if done {
			return true, nil
		}
	}
	return false, nil
}

func sleep(ctx context.Context, d time.Duration) error {
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
