package resource

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when a reservation would exceed the
// memory limit.
var ErrMemoryLimitExceeded = errors.New("memory limit exceeded")

// MemoryLimitError describes a rejected memory reservation.
type MemoryLimitError struct {
	Requested int64
	Used      int64
	Limit     int64
}

func (e *MemoryLimitError) Error() string {
	return fmt.Sprintf("resource: reserve %d bytes: %d of %d in use: %v", e.Requested, e.Used, e.Limit, ErrMemoryLimitExceeded)
}

// Is reports whether target is ErrMemoryLimitExceeded.
func (e *MemoryLimitError) Is(target error) bool { return target == ErrMemoryLimitExceeded }

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes is the hard limit for region memory (heap and direct backings).
	// If 0, no hard limit is enforced (only tracking).
	MemoryLimitBytes int64

	// MaxBackgroundWorkers is the number of background slots. If 0, defaults to 1.
	MaxBackgroundWorkers int64

	// IOLimitBytesPerSec caps the bytes per second moved by background workers.
	// If 0, unlimited.
	IOLimitBytesPerSec int64
}

// Stats is a snapshot of a Controller.
type Stats struct {
	MemoryUsed  int64
	MemoryPeak  int64
	MemoryLimit int64
	Background  int64
	IOBytes     int64
	IOWaitNanos int64
	IOThrottled int64
	Rejected    int64
}

// Controller accounts region memory and throttles background demotion.
type Controller struct {
	cfg Config

	memSem   *semaphore.Weighted // nil if unlimited
	memUsed  atomic.Int64
	memPeak  atomic.Int64
	rejected atomic.Int64

	bgSem  *semaphore.Weighted
	bgBusy atomic.Int64

	ioLimiter   *rate.Limiter
	ioBytes     atomic.Int64
	ioWait      atomic.Int64
	ioThrottled atomic.Int64
}

// NewController creates a resource controller.
func NewController(cfg Config) *Controller {
	if cfg.MaxBackgroundWorkers <= 0 {
		cfg.MaxBackgroundWorkers = 1
	}

	c := &Controller{
		cfg:   cfg,
		bgSem: semaphore.NewWeighted(cfg.MaxBackgroundWorkers),
	}
	if cfg.MemoryLimitBytes > 0 {
		c.memSem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.ioLimiter = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireMemory reserves bytes of region memory without blocking. A
// reservation beyond the limit fails with a *MemoryLimitError.
func (c *Controller) AcquireMemory(bytes int64) error {
	if c == nil || bytes <= 0 {
		return nil
	}

	if c.memSem != nil && !c.memSem.TryAcquire(bytes) {
		c.rejected.Add(1)
		return &MemoryLimitError{Requested: bytes, Used: c.memUsed.Load(), Limit: c.cfg.MemoryLimitBytes}
	}

	used := c.memUsed.Add(bytes)
	for {
		peak := c.memPeak.Load()
		if used <= peak || c.memPeak.CompareAndSwap(peak, used) {
			return nil
		}
	}
}

// ReleaseMemory returns a reservation made with AcquireMemory.
func (c *Controller) ReleaseMemory(bytes int64) {
	if c == nil || bytes <= 0 {
		return
	}
	if c.memSem != nil {
		c.memSem.Release(bytes)
	}
	c.memUsed.Add(-bytes)
}

// MemoryUsage returns the reserved bytes.
func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.memUsed.Load()
}

// MemoryLimit returns the configured memory limit in bytes (0 if unlimited).
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.cfg.MemoryLimitBytes
}

// AcquireBackground reserves a background slot, blocking until one is free
// or ctx is done.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.bgSem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.bgBusy.Add(1)
	return nil
}

// ReleaseBackground releases a background slot.
func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.bgBusy.Add(-1)
	c.bgSem.Release(1)
}

// AcquireIO waits until the IO limit admits bytes. Requests larger than the
// burst are split so they never fail outright.
func (c *Controller) AcquireIO(ctx context.Context, bytes int) error {
	if c == nil || bytes <= 0 {
		return nil
	}
	if c.ioLimiter == nil {
		c.ioBytes.Add(int64(bytes))
		return nil
	}

	start := time.Now()
	defer func() {
		if d := time.Since(start); d > time.Millisecond {
			c.ioThrottled.Add(1)
			c.ioWait.Add(int64(d))
		}
	}()

	burst := c.ioLimiter.Burst()
	for bytes > 0 {
		n := min(bytes, burst)
		if err := c.ioLimiter.WaitN(ctx, n); err != nil {
			return err
		}
		c.ioBytes.Add(int64(n))
		bytes -= n
	}
	return nil
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		MemoryUsed:  c.memUsed.Load(),
		MemoryPeak:  c.memPeak.Load(),
		MemoryLimit: c.cfg.MemoryLimitBytes,
		Background:  c.bgBusy.Load(),
		IOBytes:     c.ioBytes.Load(),
		IOWaitNanos: c.ioWait.Load(),
		IOThrottled: c.ioThrottled.Load(),
		Rejected:    c.rejected.Load(),
	}
}
