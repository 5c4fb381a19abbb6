package sensor

import (
	"context"
	"time"
)

// waitFor polls cond every interval until it returns true or ctx ends.
func waitFor(ctx context.Context, cond func() bool, interval time.Duration) error {
	for !cond() {
		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}
