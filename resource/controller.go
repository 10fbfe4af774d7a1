// Package resource bounds the process-wide cost of index refreshes:
// how many may rebuild concurrently and how fast artifact bytes may be
// pulled from the store.
package resource

import (
	"context"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// Config holds resource limits.
type Config struct {
	// MaxConcurrentRefreshes is the maximum number of index refreshes that
	// may run at once across all index names. If 0, defaults to 1.
	MaxConcurrentRefreshes int64

	// DownloadBytesPerSec is the maximum artifact download throughput.
	// If 0, unlimited.
	DownloadBytesPerSec int64
}

// Controller manages global refresh resources.
type Controller struct {
	cfg Config

	refreshSem *semaphore.Weighted
	dlLimiter  *rate.Limiter // nil if unlimited
}

// NewController creates a new resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxConcurrentRefreshes <= 0 {
		cfg.MaxConcurrentRefreshes = 1
	}

	c := &Controller{
		cfg:        cfg,
		refreshSem: semaphore.NewWeighted(cfg.MaxConcurrentRefreshes),
	}

	if cfg.DownloadBytesPerSec > 0 {
		c.dlLimiter = rate.NewLimiter(rate.Limit(cfg.DownloadBytesPerSec), int(cfg.DownloadBytesPerSec))
	}

	return c
}

// AcquireRefresh reserves a refresh slot, blocking until one is available or
// ctx is canceled. A nil Controller imposes no limits.
func (c *Controller) AcquireRefresh(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.refreshSem.Acquire(ctx, 1)
}

// ReleaseRefresh returns a refresh slot.
func (c *Controller) ReleaseRefresh() {
	if c == nil {
		return
	}
	c.refreshSem.Release(1)
}

// AcquireIO waits until n download bytes are admitted by the throughput
// limiter.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.dlLimiter == nil {
		return nil
	}

	// The limiter burst bounds a single reservation; split large requests.
	burst := c.dlLimiter.Burst()
	for n > 0 {
		chunk := n
		if chunk > burst {
			chunk = burst
		}
		if err := c.dlLimiter.WaitN(ctx, chunk); err != nil {
			return err
		}
		n -= chunk
	}
	return nil
}
