// Package transporttest provides scripted transport handles for tests.
package transporttest

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/fetchkit/transport"
)

// Handle is a transport.Handle that replays a scripted outcome.
//
// Each Perform or Register consumes the next entry of Results; the last entry
// repeats once the script runs out. Header lines and body chunks are derived
// from the Result.
type Handle struct {
	// Results is the outcome script.
	Results []transport.Result
	// Delay holds the transfer before it completes. Abort cuts it short.
	Delay time.Duration
	// ConfigureErr is returned by every Configure call when set.
	ConfigureErr error
	// Before runs at the start of every transfer with the configured spec.
	Before func(spec transport.Spec)

	mu       sync.Mutex
	spec     transport.Spec
	events   []transport.Event
	abort    chan struct{}
	aborted  bool
	closed   bool
	resets   int
	specs    []transport.Spec
	performs atomic.Int32
}

var _ transport.Handle = (*Handle)(nil)

// NewHandle returns a handle replaying results.
func NewHandle(results ...transport.Result) *Handle {
	return &Handle{Results: results}
}

// Factory returns a transport.Factory that hands out h for every call.
func Factory(h *Handle) transport.Factory {
	return func() transport.Handle { return h }
}

// Transfers returns how many transfers have started.
func (h *Handle) Transfers() int { return int(h.performs.Load()) }

// Specs returns every spec that reached a transfer.
func (h *Handle) Specs() []transport.Spec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]transport.Spec(nil), h.specs...)
}

// Resets returns how many times Reset was called.
func (h *Handle) Resets() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.resets
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Configure stores spec.
func (h *Handle) Configure(spec transport.Spec) error {
	if h.ConfigureErr != nil {
		return h.ConfigureErr
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.spec = spec
	h.mu.Unlock()
	return nil
}

// Perform replays the next scripted result.
func (h *Handle) Perform(ctx context.Context) transport.Result {
	res := h.run(ctx)
	spec := h.currentSpec()
	if res.OK() {
		for _, line := range headerLines(res) {
			if spec.OnHeader != nil {
				spec.OnHeader(line)
			}
		}
		down, up := int64(len(res.Body)), int64(len(spec.Body))
		if spec.OnProgress != nil {
			spec.OnProgress(down, 0, up, up)
		}
		if len(res.Body) > 0 {
			if spec.OnData != nil {
				spec.OnData(res.Body)
			}
			if spec.OnProgress != nil {
				spec.OnProgress(down, down, up, up)
			}
		}
	}
	return res
}

// Register replays the next scripted result in the background.
func (h *Handle) Register(ctx context.Context, n transport.Notifier) error {
	h.mu.Lock()
	h.events = nil
	h.mu.Unlock()

	go func() {
		res := h.run(ctx)
		var evs []transport.Event
		if res.OK() {
			for _, line := range headerLines(res) {
				evs = append(evs, transport.Event{Kind: transport.EventHeader, Data: line})
			}
			if len(res.Body) > 0 {
				evs = append(evs, transport.Event{Kind: transport.EventData, Data: res.Body})
			}
		}
		res.Body = nil
		evs = append(evs, transport.Event{Kind: transport.EventDone, Result: &res})

		h.mu.Lock()
		h.events = append(h.events, evs...)
		h.mu.Unlock()
		n.Ready(h)
	}()
	return nil
}

// Poll drains queued events.
func (h *Handle) Poll() []transport.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.events
	h.events = nil
	return out
}

// Abort interrupts a delayed transfer.
func (h *Handle) Abort() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.aborted = true
	if h.abort != nil {
		close(h.abort)
		h.abort = nil
	}
}

// Reset clears the spec and any pending abort.
func (h *Handle) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.spec = transport.Spec{}
	h.events = nil
	h.aborted = false
	h.resets++
}

// Close marks the handle closed.
func (h *Handle) Close() error {
	h.Abort()
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (h *Handle) currentSpec() transport.Spec {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.spec
}

func (h *Handle) run(ctx context.Context) transport.Result {
	n := int(h.performs.Add(1))

	h.mu.Lock()
	spec := h.spec
	h.specs = append(h.specs, spec)
	aborted := h.aborted
	abort := make(chan struct{})
	h.abort = abort
	h.mu.Unlock()

	if h.Before != nil {
		h.Before(spec)
	}
	if aborted {
		return transport.Result{Code: transport.CodeAbortedByCallback, Err: context.Canceled}
	}

	if h.Delay > 0 {
		timer := time.NewTimer(h.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-abort:
			return transport.Result{Code: transport.CodeAbortedByCallback, Err: context.Canceled}
		case <-ctx.Done():
			return transport.Result{Code: transport.CodeAbortedByCallback, Err: ctx.Err()}
		}
	}

	var res transport.Result
	switch {
	case len(h.Results) == 0:
		res = transport.Result{Status: 200}
	case n <= len(h.Results):
		res = h.Results[n-1]
	default:
		res = h.Results[len(h.Results)-1]
	}
	if res.EffectiveURL == "" && res.OK() {
		res.EffectiveURL = spec.URL
	}
	res.Body = append([]byte(nil), res.Body...)
	return res
}

func headerLines(res transport.Result) [][]byte {
	proto := res.Proto
	if proto == "" {
		proto = "HTTP/1.1"
	}
	lines := [][]byte{[]byte(proto + " " + strconv.Itoa(res.Status) + "\r\n")}
	for _, f := range res.Header {
		lines = append(lines, []byte(f.Name+": "+f.Value+"\r\n"))
	}
	return append(lines, []byte("\r\n"))
}
