package caller

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Sleeper waits between retry rounds. Sleep returns the context error when
// ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type timerSleeper struct{}

func (timerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// newSchedule returns base, 2*base, 4*base, ... with no jitter.
func newSchedule(base time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = base
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 24 * time.Hour
	b.Reset()
	return b
}

// Delays lists the sleeps a call makes when every round fails.
func Delays(base time.Duration, rounds int) []time.Duration {
	if rounds <= 1 {
		return nil
	}
	schedule := newSchedule(base)
	out := make([]time.Duration, 0, rounds-1)
	for i := 1; i < rounds; i++ {
		out = append(out, schedule.NextBackOff())
	}
	return out
}
