package daemon

import (
	"time"

	"github.com/cenkalti/backoff/v4"

	"handsync/internal/config"
	"handsync/internal/queue"
)

// Policy decides how long a queued operation waits before its next
// attempt. The original client retried immediately; making the policy
// explicit keeps retry timing out of the drain loop and testable on its
// own.
type Policy interface {
	// Delay returns the wait applied before the attempt that follows
	// `retry` failures. Delay(0) gates a freshly enqueued item's first
	// attempt.
	Delay(retry int) time.Duration
}

// Immediate retries with no delay.
type Immediate struct{}

func (Immediate) Delay(int) time.Duration { return 0 }

// Constant retries after a fixed delay.
type Constant struct {
	D time.Duration
}

func (c Constant) Delay(int) time.Duration { return c.D }

// Exponential doubles the delay per failure up to a cap. Jitter is
// disabled so the schedule is deterministic.
type Exponential struct {
	// Initial is the delay before the first attempt. Zero means 1s.
	Initial time.Duration
	// Max caps the delay. Zero means 2m.
	Max time.Duration
}

func (e Exponential) Delay(retry int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.Initial
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = e.Max
	if b.MaxInterval <= 0 {
		b.MaxInterval = 2 * time.Minute
	}
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxElapsedTime = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 0; i < retry; i++ {
		d = b.NextBackOff()
	}
	return d
}

// PolicyFromConfig maps a config backoff name to a policy.
func PolicyFromConfig(name string) Policy {
	switch name {
	case config.BackoffImmediate:
		return Immediate{}
	case config.BackoffConstant:
		return Constant{D: 5 * time.Second}
	default:
		return Exponential{}
	}
}

// ready reports whether a queued item has waited out its backoff delay.
func ready(p Policy, item queue.Item, now time.Time) bool {
	return !now.Before(item.EnqueuedAt.Add(p.Delay(item.RetryCount)))
}
