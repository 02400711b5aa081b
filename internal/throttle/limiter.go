package throttle

import (
	"context"
	"time"
)

// MaxDelay caps a single throttling pause.
const MaxDelay = 10 * time.Second

// Limits is the rate-limit configuration in effect for one observation.
type Limits struct {
	Enabled        bool
	BytesPerSecond float64
}

// Sample is the result of one observation.
type Sample struct {
	// Speed is the average transfer speed in bytes per second since the baseline.
	Speed float64

	// Delay is how long the caller should pause before reading more.
	Delay time.Duration

	// Measured is false when no time has elapsed since the baseline
	// and Speed carries no information.
	Measured bool
}

// Limiter tracks the baseline of a single transfer.
// It is not safe for concurrent use; each transfer owns its own Limiter.
type Limiter struct {
	started     bool
	start       time.Time
	startChunks int64

	enabled bool
	rate    float64
}

// Observe records that chunks blocks of chunkSize bytes have been read at now.
//
// The baseline is (re)set on the first observation, whenever limits.Enabled
// changes, and whenever the rate changes while limiting is enabled.
func (l *Limiter) Observe(chunks int64, chunkSize int, now time.Time, limits Limits) Sample {
	if !l.started ||
		limits.Enabled != l.enabled ||
		(limits.Enabled && limits.BytesPerSecond != l.rate) {
		l.started = true
		l.start = now
		l.startChunks = chunks
	}
	l.enabled = limits.Enabled
	l.rate = limits.BytesPerSecond

	elapsed := now.Sub(l.start).Seconds()
	if elapsed <= 0 {
		return Sample{}
	}

	bytes := float64(chunks-l.startChunks) * float64(chunkSize)
	sample := Sample{Speed: bytes / elapsed, Measured: true}

	if limits.Enabled && limits.BytesPerSecond > 0 && sample.Speed > limits.BytesPerSecond {
		ideal := bytes / limits.BytesPerSecond
		if ideal > elapsed {
			sample.Delay = min(MaxDelay, time.Duration((ideal-elapsed)*float64(time.Second)))
		}
	}
	return sample
}

// Reset clears the baseline; the next observation starts a new one.
func (l *Limiter) Reset() {
	*l = Limiter{}
}

// Sleep pauses for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
