package usecase

import (
	"context"
	"time"
)

const defaultSessionDuration = 300 * time.Second

// countdown is the session clock in whole seconds.
type countdown struct {
	duration  int
	remaining int
}

func newCountdown(duration time.Duration) *countdown {
	seconds := int(duration / time.Second)
	if seconds <= 0 {
		seconds = int(defaultSessionDuration / time.Second)
	}
	return &countdown{duration: seconds, remaining: seconds}
}

// Tick removes one second and reports whether the value changed. It stops at zero.
func (c *countdown) Tick() bool {
	if c.remaining <= 0 {
		return false
	}
	c.remaining--
	return true
}

func (c *countdown) Reset() {
	c.remaining = c.duration
}

func (c *countdown) Remaining() int {
	return c.remaining
}

func (c *countdown) Duration() int {
	return c.duration
}

// runTicker publishes one timerTick per interval until the session ends.
func runTicker(ctx context.Context, gen uint64, interval time.Duration, queue chan<- inboundEvent, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !publish(ctx, queue, timerTick{gen: gen}) {
				return
			}
		}
	}
}
