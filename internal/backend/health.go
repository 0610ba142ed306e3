package backend

import (
	"context"
	"fmt"
	"time"
)

// WaitHealthy polls Health until the backend reports ready. timeout 0 waits
// until ctx is done.
func WaitHealthy(ctx context.Context, d Dispatcher, interval, timeout time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var lastErr error
	for {
		hs, err := d.Health(ctx)
		if err == nil && hs.Healthy() {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("backend status %q", hs.Status)
		}
		if err := sleepWithContext(ctx, interval); err != nil {
			return fmt.Errorf("backend not ready: %w (last: %v)", err, lastErr)
		}
	}
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
