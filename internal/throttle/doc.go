// Package throttle computes download speed and the delay needed to keep a
// transfer under a configured bandwidth limit.
//
// A Limiter is fed the chunk counter of a running transfer. It keeps a
// baseline (start time and chunk count) and derives the average speed
// since that baseline. When limiting is enabled and the transfer runs
// ahead of the limit, Observe returns the delay that brings it back on
// schedule, capped at MaxDelay.
//
// Observe is pure with respect to time: the caller supplies now, which
// makes the limiter easy to drive from tests with simulated clocks.
//
//	var l throttle.Limiter
//	sample := l.Observe(chunks, chunkSize, time.Now(), throttle.Limits{
//	    Enabled:        true,
//	    BytesPerSecond: 100 * 1024,
//	})
//	if err := throttle.Sleep(ctx, sample.Delay); err != nil {
//	    return err
//	}
package throttle
