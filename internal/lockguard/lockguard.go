// Package lockguard waits, within a fixed budget, for git's index lock to clear.
//
// Contention is an expected condition: Await never returns an error. It either
// reports Ready or tells the caller to defer the work.
package lockguard

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff"
)

// Result of waiting for the index lock.
type Result int

const (
	Ready Result = iota
	Deferred
)

func (r Result) String() string {
	if r == Ready {
		return "ready"
	}
	return "deferred"
}

// Schedule describes the exponential wait between probes.
type Schedule struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultSchedule starts at 50ms, doubles, and caps each wait at 1s.
var DefaultSchedule = Schedule{
	InitialInterval: 50 * time.Millisecond,
	MaxInterval:     time.Second,
	Multiplier:      2,
}

// Delay returns the wait before probe number attempt+1. It depends only on
// attempt, so the full schedule is deterministic.
func (s Schedule) Delay(attempt int) time.Duration {
	b := s.backOff()
	d := b.NextBackOff()
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

func (s Schedule) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.InitialInterval
	b.MaxInterval = s.MaxInterval
	b.Multiplier = s.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Guard polls a contention marker with bounded exponential backoff.
type Guard struct {
	// Probe reports whether the index is currently held.
	Probe func() bool
	// Sleep waits for d or until ctx is done.
	Sleep    func(ctx context.Context, d time.Duration) error
	Schedule Schedule
	// OnWait, if set, is told about every wait before it happens.
	OnWait func(attempt int, d time.Duration)
}

// New returns a Guard watching marker (usually .git/index.lock).
func New(marker string, schedule Schedule) *Guard {
	return &Guard{
		Probe:    func() bool { return fileExists(marker) },
		Sleep:    sleepContext,
		Schedule: schedule,
	}
}

// Await returns Ready as soon as the marker is absent. If it stays present
// until the cumulative wait would pass maxWait, it returns Deferred. The
// caller is never held longer than maxWait.
func (g *Guard) Await(ctx context.Context, maxWait time.Duration) Result {
	var waited time.Duration
	for attempt := 0; ; attempt++ {
		if !g.Probe() {
			return Ready
		}

		remaining := maxWait - waited
		if remaining <= 0 {
			return Deferred
		}
		d := g.Schedule.Delay(attempt)
		if d > remaining {
			d = remaining
		}

		if g.OnWait != nil {
			g.OnWait(attempt, d)
		}
		if err := g.Sleep(ctx, d); err != nil {
			return Deferred
		}
		waited += d
	}
}

func fileExists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
