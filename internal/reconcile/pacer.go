package reconcile

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// pacer spaces successive remote calls by a fixed delay. The first call
// is not delayed.
type pacer struct {
	limiter *rate.Limiter
}

func newPacer(delay time.Duration) *pacer {
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &pacer{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next call may be made or ctx is done.
func (p *pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
