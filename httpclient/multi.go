package httpclient

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbukum/fetchkit/logger"
	"github.com/kbukum/fetchkit/pool"
	"github.com/kbukum/fetchkit/transport"
)

// State is the lifecycle state of a transfer registered with MultiPerform.
type State int

const (
	StatePending State = iota
	StateComplete
	StateCancelled
	StateError
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateComplete:
		return "complete"
	case StateCancelled:
		return "cancelled"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen without Restart.
func (s State) Terminal() bool {
	return s != StatePending
}

// Token identifies a transfer registered with a MultiPerform engine.
type Token uint64

// Callbacks receive the events of one transfer, always on the goroutine
// running MultiPerform.Run.
//
// For a single transfer the order is OnHeader*, OnBodyChunk*, then exactly
// one of OnComplete, OnError or OnCancel.
type Callbacks struct {
	OnHeader    func(line []byte)
	OnBodyChunk func(chunk []byte)
	OnComplete  func(resp *Response)
	OnError     func(err *Error)
	OnCancel    func()
}

type multiTransfer struct {
	token   Token
	session *Session
	method  string
	url     string
	cb      Callbacks

	state     State
	cancelReq bool
	started   bool

	req     *Request
	pool    *pool.Pool
	factory transport.Factory
	key     string
	handle  transport.Handle
	body    []byte
	resp    *Response
}

// MultiOption configures a MultiPerform engine.
type MultiOption func(*MultiPerform)

// WithMultiplexer replaces the default transport.Mux.
func WithMultiplexer(m transport.Multiplexer) MultiOption {
	return func(mp *MultiPerform) {
		if m != nil {
			mp.mux = m
		}
	}
}

// WithMultiLogger sets the engine logger.
func WithMultiLogger(l *logger.Logger) MultiOption {
	return func(mp *MultiPerform) {
		if l != nil {
			mp.log = l
		}
	}
}

// MultiPerform drives the transfers of many sessions over one multiplexer.
//
// Session interceptors are not applied. The engine configures handles from
// each session's settings and drives them directly.
type MultiPerform struct {
	id  string
	mux transport.Multiplexer
	log *logger.Logger

	mu        sync.Mutex
	next      Token
	transfers map[Token]*multiTransfer
	order     []Token
	byHandle  map[transport.Handle]*multiTransfer
	running   bool
}

// NewMultiPerform creates an engine with no registered transfers.
func NewMultiPerform(opts ...MultiOption) *MultiPerform {
	m := &MultiPerform{
		id:        uuid.NewString(),
		mux:       transport.NewMultiplexer(),
		log:       logger.NewNop(),
		transfers: make(map[Token]*multiTransfer),
		byHandle:  make(map[transport.Handle]*multiTransfer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.WithComponent("multi").WithFields(logger.Fields(logger.FieldEngineID, m.id))
	return m
}

// ID returns the engine identifier used in log lines.
func (m *MultiPerform) ID() string { return m.id }

// Add registers a transfer for s. An empty method or url falls back to the
// session configuration. The session stays in flight until the transfer
// reaches a terminal state or is removed.
func (m *MultiPerform) Add(s *Session, method, rawURL string, cb Callbacks) (Token, error) {
	t := &multiTransfer{session: s, method: method, url: rawURL, cb: cb}
	if err := m.arm(t); err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.next++
	t.token = m.next
	m.transfers[t.token] = t
	m.order = append(m.order, t.token)
	running := m.running
	m.mu.Unlock()

	if running {
		m.mux.Wakeup()
	}
	return t.token, nil
}

// arm claims the session and prepares t for a fresh start.
func (m *MultiPerform) arm(t *multiTransfer) error {
	s := t.session
	if s.closed.Load() {
		return NewInvalidRequestError(ErrSessionClosed)
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return NewInvalidRequestError(ErrSessionInFlight)
	}
	req, perr := s.prepare(&s.cfg, t.method, t.url)
	if perr != nil {
		s.inFlight.Store(false)
		return perr
	}
	p, err := s.poolFor(&s.cfg)
	if err != nil {
		s.inFlight.Store(false)
		return NewInvalidRequestError(err)
	}

	t.state = StatePending
	t.cancelReq = false
	t.started = false
	t.req = req
	t.pool = p
	t.factory = s.cfg.factory
	t.key = ""
	t.handle = nil
	t.body = nil
	t.resp = nil
	return nil
}

// Restart re-arms a transfer that reached a terminal state. The request is
// rebuilt from the session's current configuration.
func (m *MultiPerform) Restart(token Token) error {
	m.mu.Lock()
	t, ok := m.transfers[token]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownToken
	}
	if t.state == StatePending {
		m.mu.Unlock()
		return ErrTokenPending
	}
	err := m.arm(t)
	running := m.running
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if running {
		m.mux.Wakeup()
	}
	return nil
}

// Remove forgets a transfer. It fails while Run is active.
func (m *MultiPerform) Remove(token Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrEngineRunning
	}
	t, ok := m.transfers[token]
	if !ok {
		return ErrUnknownToken
	}
	if t.state == StatePending {
		t.session.inFlight.Store(false)
	}
	delete(m.transfers, token)
	for i, tok := range m.order {
		if tok == token {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// Cancel marks a pending transfer cancelled and aborts it. It is safe to
// call from any goroutine. While Run is active the cancellation is applied
// at its next wake-up; otherwise OnCancel runs before Cancel returns.
// Cancelling a terminal transfer does nothing.
func (m *MultiPerform) Cancel(token Token) error {
	m.mu.Lock()
	t, ok := m.transfers[token]
	if !ok {
		m.mu.Unlock()
		return ErrUnknownToken
	}
	if t.state != StatePending {
		m.mu.Unlock()
		return nil
	}
	if m.running {
		t.cancelReq = true
		m.mu.Unlock()
		m.mux.Wakeup()
		return nil
	}
	m.terminateLocked(t, StateCancelled, ErrorResponse(t.req, NewCancelledError(nil)))
	m.mu.Unlock()

	m.log.Debug("transfer cancelled", logger.Fields(logger.FieldToken, uint64(token)))
	if t.cb.OnCancel != nil {
		t.cb.OnCancel()
	}
	return nil
}

// State returns the state of a transfer.
func (m *MultiPerform) State(token Token) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[token]
	if !ok {
		return StatePending, false
	}
	return t.state, true
}

// Response returns the final response of a transfer, nil while pending.
func (m *MultiPerform) Response(token Token) *Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t, ok := m.transfers[token]; ok {
		return t.resp
	}
	return nil
}

// Responses returns the final responses in registration order. Pending
// transfers have a nil entry.
func (m *MultiPerform) Responses() []*Response {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Response, 0, len(m.order))
	for _, tok := range m.order {
		out = append(out, m.transfers[tok].resp)
	}
	return out
}

// Len returns the number of registered transfers.
func (m *MultiPerform) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.order)
}

// Perform runs the engine and returns the responses in registration order.
func (m *MultiPerform) Perform(ctx context.Context) ([]*Response, error) {
	err := m.Run(ctx)
	return m.Responses(), err
}

// Run drives every pending transfer to a terminal state. It blocks on the
// multiplexer between events and returns when nothing is pending or ctx
// ends. When ctx ends, remaining transfers are aborted: a passed deadline
// reports a timeout error, any other cancellation reports Cancelled.
func (m *MultiPerform) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrEngineRunning
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	start := time.Now()
	for {
		m.applyCancels()
		m.startPending(ctx)
		if m.pending() == 0 {
			m.log.Debug("run finished", logger.DurationFields("run", time.Since(start)))
			return nil
		}

		ready, err := m.mux.Wait(ctx)
		if err != nil {
			m.abortAll(err)
			return err
		}
		for _, h := range ready {
			m.drain(h)
		}
	}
}

func (m *MultiPerform) pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.transfers {
		if t.state == StatePending {
			n++
		}
	}
	return n
}

// applyCancels settles every transfer with a cancel request.
func (m *MultiPerform) applyCancels() {
	m.mu.Lock()
	var cancelled []*multiTransfer
	for _, tok := range m.order {
		t := m.transfers[tok]
		if t.state != StatePending || !t.cancelReq {
			continue
		}
		m.detachLocked(t, true)
		m.terminateLocked(t, StateCancelled, ErrorResponse(t.req, NewCancelledError(nil)))
		cancelled = append(cancelled, t)
	}
	m.mu.Unlock()

	for _, t := range cancelled {
		m.log.Debug("transfer cancelled", logger.Fields(logger.FieldToken, uint64(t.token)))
		if t.cb.OnCancel != nil {
			t.cb.OnCancel()
		}
	}
}

// startPending registers every pending transfer that has no handle yet.
func (m *MultiPerform) startPending(ctx context.Context) {
	m.mu.Lock()
	var todo []*multiTransfer
	for _, tok := range m.order {
		if t := m.transfers[tok]; t.state == StatePending && !t.started {
			t.started = true
			todo = append(todo, t)
		}
	}
	m.mu.Unlock()

	for _, t := range todo {
		if err := m.start(ctx, t); err != nil {
			m.fail(t, ErrorResponse(t.req, NewInvalidRequestError(err)))
		}
	}
}

func (m *MultiPerform) start(ctx context.Context, t *multiTransfer) error {
	spec := t.req.spec()
	spec.OnHeader, spec.OnData, spec.OnProgress = nil, nil, nil
	key, err := pool.KeyFor(spec.URL, proxyFor(&spec))
	if err != nil {
		return err
	}

	h, reused := t.pool.Acquire(key)
	if !reused {
		h = t.factory()
	}
	h.Reset()
	if err := h.Configure(spec); err != nil {
		t.pool.Discard(h)
		return err
	}

	m.mu.Lock()
	t.key = key
	t.handle = h
	if spec.ReserveSize > 0 {
		t.body = make([]byte, 0, spec.ReserveSize)
	}
	m.byHandle[h] = t
	m.mu.Unlock()

	if err := m.mux.Add(ctx, h); err != nil {
		m.mu.Lock()
		delete(m.byHandle, h)
		t.handle = nil
		m.mu.Unlock()
		t.pool.Discard(h)
		return err
	}
	m.log.Debug("transfer started", logger.Fields(
		logger.FieldToken, uint64(t.token),
		logger.FieldMethod, t.req.Method,
		logger.FieldURL, t.req.URL,
		logger.FieldPoolKey, key,
		"reused", reused,
	))
	return nil
}

// drain delivers the queued events of h in order.
func (m *MultiPerform) drain(h transport.Handle) {
	m.mu.Lock()
	t := m.byHandle[h]
	m.mu.Unlock()
	if t == nil {
		return
	}

	for _, ev := range h.Poll() {
		m.mu.Lock()
		skip := t.cancelReq || t.state != StatePending
		m.mu.Unlock()
		if skip {
			return
		}

		switch ev.Kind {
		case transport.EventHeader:
			if t.cb.OnHeader != nil {
				t.cb.OnHeader(ev.Data)
			}
		case transport.EventData:
			t.body = append(t.body, ev.Data...)
			if t.cb.OnBodyChunk != nil {
				t.cb.OnBodyChunk(ev.Data)
			}
		case transport.EventDone:
			m.complete(t, *ev.Result)
			return
		}
	}
}

func (m *MultiPerform) complete(t *multiTransfer, res transport.Result) {
	resp := newResultResponse(t.req, res, t.body)

	m.mu.Lock()
	if t.cancelReq {
		// applyCancels reports it on the next iteration.
		m.mu.Unlock()
		return
	}
	h := t.handle
	m.detachLocked(t, !res.OK())
	m.mu.Unlock()

	switch {
	case res.OK():
		if err := t.pool.Release(t.key, h); err != nil {
			m.log.Debug("handle not returned to pool", logger.ErrorFields("release", err))
		}
		m.mu.Lock()
		m.terminateLocked(t, StateComplete, resp)
		m.mu.Unlock()
		m.log.Debug("transfer complete", logger.Fields(
			logger.FieldToken, uint64(t.token),
			logger.FieldStatus, res.Status,
			logger.FieldDuration, res.Elapsed.Milliseconds(),
		))
		if t.cb.OnComplete != nil {
			t.cb.OnComplete(resp)
		}
	case resp.Err().Code == ErrCodeCancelled:
		m.mu.Lock()
		m.terminateLocked(t, StateCancelled, resp)
		m.mu.Unlock()
		if t.cb.OnCancel != nil {
			t.cb.OnCancel()
		}
	default:
		m.fail(t, resp)
	}
}

// fail moves t to StateError and reports it.
func (m *MultiPerform) fail(t *multiTransfer, resp *Response) {
	m.mu.Lock()
	m.terminateLocked(t, StateError, resp)
	m.mu.Unlock()
	m.log.Debug("transfer failed", logger.Fields(
		logger.FieldToken, uint64(t.token),
		logger.FieldError, resp.Err().Error(),
	))
	if t.cb.OnError != nil {
		t.cb.OnError(resp.Err())
	}
}

// abortAll ends every pending transfer after the run context ended.
func (m *MultiPerform) abortAll(cause error) {
	timedOut := errors.Is(cause, context.DeadlineExceeded)

	type ended struct {
		t     *multiTransfer
		state State
		err   *Error
	}
	m.mu.Lock()
	var done []ended
	for _, tok := range m.order {
		t := m.transfers[tok]
		if t.state != StatePending {
			continue
		}
		m.detachLocked(t, true)
		if timedOut && !t.cancelReq {
			m.terminateLocked(t, StateError, ErrorResponse(t.req, &Error{
				Code:      ErrCodeTimeout,
				Phase:     TimeoutTransfer,
				Native:    transport.CodeOperationTimedOut,
				Message:   "run deadline exceeded",
				Retryable: true,
				Err:       cause,
			}))
		} else {
			m.terminateLocked(t, StateCancelled, ErrorResponse(t.req, NewCancelledError(cause)))
		}
		done = append(done, ended{t: t, state: t.state, err: t.resp.Err()})
	}
	m.mu.Unlock()

	for _, e := range done {
		if e.state == StateCancelled {
			if e.t.cb.OnCancel != nil {
				e.t.cb.OnCancel()
			}
			continue
		}
		if e.t.cb.OnError != nil {
			e.t.cb.OnError(e.err)
		}
	}
}

// detachLocked unregisters t's handle. With discard the handle is aborted
// and closed through the pool.
func (m *MultiPerform) detachLocked(t *multiTransfer, discard bool) {
	h := t.handle
	if h == nil {
		return
	}
	delete(m.byHandle, h)
	_ = m.mux.Remove(h)
	if discard {
		h.Abort()
		t.pool.Discard(h)
	}
	t.handle = nil
}

// terminateLocked records a terminal state and frees the session.
func (m *MultiPerform) terminateLocked(t *multiTransfer, state State, resp *Response) {
	t.state = state
	t.resp = resp
	t.session.inFlight.Store(false)
}
