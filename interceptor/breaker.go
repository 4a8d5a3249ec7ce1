package interceptor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/transport"
)

// BreakerState is the state of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed lets requests through.
	BreakerClosed BreakerState = iota
	// BreakerOpen fails requests without sending them.
	BreakerOpen
	// BreakerHalfOpen lets a few probe requests through.
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is wrapped by the error of every short-circuited response.
var ErrCircuitOpen = errors.New("interceptor: circuit breaker is open")

// CircuitBreakerConfig configures a CircuitBreaker.
type CircuitBreakerConfig struct {
	// Name identifies the breaker in state change callbacks.
	Name string
	// MaxFailures is the number of consecutive failures that opens the circuit.
	MaxFailures int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// HalfOpenMaxCalls is the number of probes allowed while half-open.
	HalfOpenMaxCalls int
	// IsFailure classifies a response. Defaults to transfer errors and 5xx.
	IsFailure func(resp *httpclient.Response) bool
	// OnStateChange runs under the breaker lock when the state changes.
	OnStateChange func(name string, from, to BreakerState)
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns five failures and a 30s open period.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// DefaultIsFailure counts transfer errors and 5xx responses as failures.
func DefaultIsFailure(resp *httpclient.Response) bool {
	return resp.Err() != nil || httpclient.ClassifyStatus(resp.StatusCode()) == httpclient.StatusServerError
}

// CircuitBreaker is an interceptor that stops sending requests to a failing
// destination for a while.
//
// After MaxFailures consecutive failures the circuit opens and requests
// fail immediately with an ErrCodeTransport error wrapping ErrCircuitOpen.
// After Timeout it lets HalfOpenMaxCalls probes through; that many
// successes close it again and any failure reopens it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu            sync.Mutex
	state         BreakerState
	failures      int
	successes     int
	openedAt      time.Time
	halfOpenCalls int
}

var _ httpclient.Interceptor = (*CircuitBreaker)(nil)

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = DefaultIsFailure
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Intercept implements httpclient.Interceptor.
func (cb *CircuitBreaker) Intercept(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
	if !cb.allow() {
		return httpclient.ErrorResponse(req, &httpclient.Error{
			Code:    httpclient.ErrCodeTransport,
			Native:  transport.CodeAbortedByCallback,
			Message: "circuit breaker " + cb.cfg.Name + " is open",
			Err:     ErrCircuitOpen,
		})
	}
	resp := next(ctx, req)
	if resp != nil && !httpclient.IsCancelled(resp.Err()) {
		cb.record(cb.cfg.IsFailure(resp))
	} else {
		cb.forfeit()
	}
	return resp
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.current()
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Reset closes the circuit and clears the counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.toState(BreakerClosed)
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.current() {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if cb.halfOpenCalls < cb.cfg.HalfOpenMaxCalls {
			cb.halfOpenCalls++
			return true
		}
		return false
	default:
		return false
	}
}

func (cb *CircuitBreaker) record(failed bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state := cb.current()
	if failed {
		cb.failures++
		if state == BreakerHalfOpen || cb.failures >= cb.cfg.MaxFailures {
			cb.toState(BreakerOpen)
		}
		return
	}
	switch state {
	case BreakerClosed:
		cb.failures = 0
	case BreakerHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMaxCalls {
			cb.toState(BreakerClosed)
		}
	}
}

// forfeit gives back a half-open probe slot for a request that was
// cancelled by its caller.
func (cb *CircuitBreaker) forfeit() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == BreakerHalfOpen && cb.halfOpenCalls > 0 {
		cb.halfOpenCalls--
	}
}

// current moves an expired open circuit to half-open. Callers hold mu.
func (cb *CircuitBreaker) current() BreakerState {
	if cb.state == BreakerOpen && cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.toState(BreakerHalfOpen)
	}
	return cb.state
}

func (cb *CircuitBreaker) toState(to BreakerState) {
	from := cb.state
	cb.state = to
	cb.successes = 0
	cb.halfOpenCalls = 0
	switch to {
	case BreakerClosed:
		cb.failures = 0
	case BreakerOpen:
		cb.openedAt = cb.cfg.Now()
	}
	if from != to && cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, from, to)
	}
}
