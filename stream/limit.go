package stream

import (
	"context"

	"golang.org/x/time/rate"
)

// waitQuota blocks until the limiter grants n bytes, splitting requests
// larger than the bucket into burst-sized waits. Unthrottled limiters
// report a zero burst and grant everything at once.
func waitQuota(ctx context.Context, lim *rate.Limiter, n int) error {
	for n > 0 {
		chunk := n
		if b := lim.Burst(); b > 0 && chunk > b {
			chunk = b
		}
		if err := lim.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
