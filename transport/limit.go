package transport

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

var (
	errLowSpeed        = errors.New("transport: transfer speed below low-speed limit")
	errTransferTimeout = errors.New("transport: transfer timeout")
	errAborted         = errors.New("transport: transfer aborted")
)

const maxLimitBurst = 32 * 1024

// newByteLimiter returns a token bucket sized in bytes.
func newByteLimiter(bytesPerSec int64) *rate.Limiter {
	burst := bytesPerSec
	if burst > maxLimitBurst {
		burst = maxLimitBurst
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), int(burst))
}

// limitedReader throttles reads to the limiter's rate.
type limitedReader struct {
	ctx context.Context
	r   io.Reader
	lim *rate.Limiter
}

func newLimitedReader(ctx context.Context, r io.Reader, bytesPerSec int64) io.Reader {
	if bytesPerSec <= 0 {
		return r
	}
	return &limitedReader{ctx: ctx, r: r, lim: newByteLimiter(bytesPerSec)}
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if burst := l.lim.Burst(); len(p) > burst {
		p = p[:burst]
	}
	n, err := l.r.Read(p)
	if n > 0 {
		if werr := l.lim.WaitN(l.ctx, n); werr != nil && err == nil {
			err = werr
		}
	}
	return n, err
}

// countingReader counts bytes for the low-speed watchdog and progress
// reporting.
type countingReader struct {
	r io.Reader
	n *atomic.Int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// watchSpeed cancels the transfer with errLowSpeed once the average speed has
// stayed under ls.Limit for ls.Time. The returned func stops the watchdog.
func watchSpeed(ctx context.Context, cancel context.CancelCauseFunc, ls LowSpeed, counter *atomic.Int64) func() {
	if !ls.Enabled() {
		return func() {}
	}
	tick := ls.Time / 4
	if tick > time.Second {
		tick = time.Second
	}
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		var last int64
		slowSince := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				cur := counter.Load()
				bps := float64(cur-last) / tick.Seconds()
				last = cur
				if bps >= float64(ls.Limit) {
					slowSince = now
					continue
				}
				if now.Sub(slowSince) >= ls.Time {
					cancel(errLowSpeed)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}
