package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/http2"
)

const (
	// DefaultMaxIdleConns is the maximum number of idle connections per handle.
	DefaultMaxIdleConns = 100
	// DefaultMaxIdleConnsPerHost is the maximum number of idle connections per host.
	DefaultMaxIdleConnsPerHost = 10
	// DefaultIdleConnTimeout is how long idle connections stay warm.
	DefaultIdleConnTimeout = 90 * time.Second

	defaultTLSHandshakeTimeout = 10 * time.Second
	readChunkSize              = 32 * 1024
)

// DialFunc dials a network connection.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// HTTPHandle is a Handle backed by net/http. Warm connections live in its
// private round tripper and survive Reset, so a pooled handle keeps them.
type HTTPHandle struct {
	spec        Spec
	configured  bool
	closed      bool
	rt          http.RoundTripper
	fingerprint string
	dial        DialFunc

	mu       sync.Mutex
	cancel   context.CancelCauseFunc
	abortReq bool
	running  bool
	events   []Event
}

var _ Handle = (*HTTPHandle)(nil)

// NewHTTPHandle creates an unconfigured handle.
func NewHTTPHandle() *HTTPHandle {
	return &HTTPHandle{}
}

// NewHTTPHandleWithDialer creates a handle whose connections come from dial.
// Connect timeouts, resolve overrides and unix sockets still apply around it.
func NewHTTPHandleWithDialer(dial DialFunc) *HTTPHandle {
	return &HTTPHandle{dial: dial}
}

// HTTPFactory returns a Factory producing HTTP handles.
func HTTPFactory() Factory {
	return func() Handle { return NewHTTPHandle() }
}

// Configure validates spec and rebuilds the round tripper when the
// connection-shaping settings changed.
func (h *HTTPHandle) Configure(spec Spec) error {
	if h.closed {
		return ErrClosed
	}
	h.mu.Lock()
	running := h.running
	h.mu.Unlock()
	if running {
		return ErrBusy
	}
	if err := spec.Validate(); err != nil {
		return err
	}

	fp := spec.connFingerprint()
	if h.rt == nil || fp != h.fingerprint {
		rt, err := h.buildRoundTripper(&spec)
		if err != nil {
			return err
		}
		h.closeIdle()
		h.rt = rt
		h.fingerprint = fp
	}
	h.spec = spec
	h.configured = true
	return nil
}

// Perform runs the transfer on the calling goroutine.
func (h *HTTPHandle) Perform(ctx context.Context) Result {
	if !h.configured {
		return Result{Code: CodeBadFunctionArgument, Err: ErrNotConfigured}
	}
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return Result{Code: CodeBadFunctionArgument, Err: ErrBusy}
	}
	h.running = true
	h.mu.Unlock()
	defer h.setRunning(false)

	spec := h.spec
	emit := func(ev Event) {
		switch ev.Kind {
		case EventHeader:
			if spec.OnHeader != nil {
				spec.OnHeader(ev.Data)
			}
		case EventData:
			if spec.OnData != nil {
				spec.OnData(ev.Data)
			}
		}
	}
	return h.transfer(ctx, spec, emit, spec.OnProgress, true)
}

// Register starts the transfer on a background goroutine and reports
// progress through Poll.
func (h *HTTPHandle) Register(ctx context.Context, n Notifier) error {
	if h.closed {
		return ErrClosed
	}
	if !h.configured {
		return ErrNotConfigured
	}
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return ErrBusy
	}
	h.running = true
	h.events = nil
	h.mu.Unlock()

	spec := h.spec
	go func() {
		emit := func(ev Event) { h.push(ev, n) }
		res := h.transfer(ctx, spec, emit, nil, false)
		h.setRunning(false)
		h.push(Event{Kind: EventDone, Result: &res}, n)
	}()
	return nil
}

// Poll drains queued events.
func (h *HTTPHandle) Poll() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := h.events
	h.events = nil
	return out
}

// Abort cancels the running transfer. An abort issued before the transfer
// starts applies to the next one.
func (h *HTTPHandle) Abort() {
	h.mu.Lock()
	cancel := h.cancel
	h.abortReq = true
	h.mu.Unlock()
	if cancel != nil {
		cancel(errAborted)
	}
}

// Reset clears the spec, queued events and any pending abort.
func (h *HTTPHandle) Reset() {
	h.mu.Lock()
	h.events = nil
	h.abortReq = false
	h.mu.Unlock()
	h.spec = Spec{}
	h.configured = false
}

// Close aborts any transfer and drops idle connections.
func (h *HTTPHandle) Close() error {
	h.Abort()
	h.closeIdle()
	h.closed = true
	return nil
}

func (h *HTTPHandle) setRunning(v bool) {
	h.mu.Lock()
	h.running = v
	h.mu.Unlock()
}

func (h *HTTPHandle) push(ev Event, n Notifier) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
	n.Ready(h)
}

func (h *HTTPHandle) closeIdle() {
	if c, ok := h.rt.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
}

// transfer is shared by the blocking and async paths. collect keeps the
// body in Result.Body.
func (h *HTTPHandle) transfer(parent context.Context, spec Spec, emit func(Event), progress func(int64, int64, int64, int64), collect bool) Result {
	start := time.Now()

	ctx, cancel := context.WithCancelCause(parent)
	defer cancel(nil)
	if spec.Timeout > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeoutCause(ctx, spec.Timeout, errTransferTimeout)
		defer stop()
	}

	h.mu.Lock()
	h.cancel = cancel
	if h.abortReq {
		cancel(errAborted)
	}
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		h.cancel = nil
		h.mu.Unlock()
	}()

	var received, sent atomic.Int64
	stopWatch := watchSpeed(ctx, cancel, spec.LowSpeed, &received)
	defer stopWatch()

	fail := func(res Result, err error, st stage) Result {
		res.Code, res.Phase = classify(ctx, err, st)
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	resp, redirects, err := h.do(ctx, &spec, &sent)
	if err != nil {
		return fail(Result{Redirects: redirects}, err, stageRequest)
	}
	defer func() { _ = resp.Body.Close() }()

	res := Result{
		Status:       resp.StatusCode,
		Proto:        resp.Proto,
		Header:       orderedHeader(resp.Header),
		EffectiveURL: resp.Request.URL.String(),
		Redirects:    redirects,
	}

	emit(Event{Kind: EventHeader, Data: []byte(fmt.Sprintf("%s %s\r\n", resp.Proto, resp.Status))})
	for _, f := range res.Header {
		emit(Event{Kind: EventHeader, Data: []byte(f.Name + ": " + f.Value + "\r\n")})
	}
	emit(Event{Kind: EventHeader, Data: []byte("\r\n")})

	downTotal := max(resp.ContentLength, 0)
	upTotal := int64(len(spec.Body))
	report := func() {
		if progress != nil {
			progress(downTotal, received.Load(), upTotal, sent.Load())
		}
	}
	report()

	var body *bytes.Buffer
	if collect {
		body = bytes.NewBuffer(make([]byte, 0, spec.ReserveSize))
	}

	var r io.Reader = &countingReader{r: resp.Body, n: &received}
	r = newLimitedReader(ctx, r, spec.LimitRate.Download)

	buf := make([]byte, readChunkSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			if body != nil {
				body.Write(chunk)
			}
			emit(Event{Kind: EventData, Data: chunk})
			report()
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			if body != nil {
				res.Body = body.Bytes()
			}
			return fail(res, rerr, stageBody)
		}
	}

	if body != nil {
		res.Body = body.Bytes()
	}
	res.Code = CodeOK
	res.Elapsed = time.Since(start)
	return res
}

// do sends the request, answering a digest challenge when configured.
func (h *HTTPHandle) do(ctx context.Context, spec *Spec, sent *atomic.Int64) (*http.Response, int, error) {
	redirects := 0
	client := &http.Client{
		Transport: h.rt,
		Jar:       spec.Jar,
		CheckRedirect: func(_ *http.Request, via []*http.Request) error {
			if !spec.Redirect.Follow {
				return http.ErrUseLastResponse
			}
			if spec.Redirect.MaxHops >= 0 && len(via) > spec.Redirect.MaxHops {
				return errTooManyRedirects
			}
			redirects = len(via)
			return nil
		},
	}

	req, err := h.newRequest(ctx, spec, "", sent)
	if err != nil {
		return nil, 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, redirects, err
	}

	if spec.Auth.Scheme != AuthDigest || resp.StatusCode != http.StatusUnauthorized {
		return resp, redirects, nil
	}
	ch, ok := parseDigestChallenge(resp.Header.Get("WWW-Authenticate"))
	if !ok {
		return resp, redirects, nil
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()

	authz, err := ch.authorization(spec.Auth.Username, spec.Auth.Password, spec.Method, resp.Request.URL.RequestURI())
	if err != nil {
		return nil, redirects, err
	}
	req, err = h.newRequest(ctx, spec, authz, sent)
	if err != nil {
		return nil, redirects, err
	}
	resp, err = client.Do(req)
	return resp, redirects, err
}

// newRequest builds the outgoing request. sent counts uploaded body bytes
// and restarts from zero whenever the body is replayed.
func (h *HTTPHandle) newRequest(ctx context.Context, spec *Spec, authorization string, sent *atomic.Int64) (*http.Request, error) {
	var body io.Reader
	if len(spec.Body) > 0 {
		sent.Store(0)
		body = &countingReader{r: newLimitedReader(ctx, bytes.NewReader(spec.Body), spec.LimitRate.Upload), n: sent}
	}
	req, err := http.NewRequestWithContext(ctx, spec.Method, spec.URL, body)
	if err != nil {
		return nil, err
	}
	if len(spec.Body) > 0 {
		req.ContentLength = int64(len(spec.Body))
		payload := spec.Body
		upload := spec.LimitRate.Upload
		req.GetBody = func() (io.ReadCloser, error) {
			sent.Store(0)
			return io.NopCloser(&countingReader{r: newLimitedReader(ctx, bytes.NewReader(payload), upload), n: sent}), nil
		}
	}

	for _, f := range spec.Header {
		if strings.EqualFold(f.Name, "Host") {
			req.Host = f.Value
			continue
		}
		req.Header.Add(f.Name, f.Value)
	}

	switch {
	case authorization != "":
		req.Header.Set("Authorization", authorization)
	case spec.Auth.Scheme == AuthBasic:
		req.SetBasicAuth(spec.Auth.Username, spec.Auth.Password)
	case spec.Auth.Scheme == AuthBearer:
		req.Header.Set("Authorization", "Bearer "+spec.Auth.Token)
	}
	return req, nil
}

// buildRoundTripper creates the connection layer for spec.
func (h *HTTPHandle) buildRoundTripper(spec *Spec) (http.RoundTripper, error) {
	tlsCfg, err := spec.TLS.Build()
	if err != nil {
		return nil, err
	}

	dialer := &net.Dialer{KeepAlive: 30 * time.Second}
	if spec.LocalAddr != "" {
		addr, err := net.ResolveTCPAddr("tcp", spec.LocalAddr)
		if err != nil {
			return nil, fmt.Errorf("transport: invalid local address: %w", err)
		}
		dialer.LocalAddr = addr
	}
	base := h.dial
	if base == nil {
		base = dialer.DialContext
	}
	dial := connectDialer(base, spec.ConnectTimeout, spec.UnixSocket, spec.Resolve)

	if spec.HTTPVersion == HTTPVersion2PriorKnowledge {
		return &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dial(ctx, network, addr)
			},
		}, nil
	}

	handshake := defaultTLSHandshakeTimeout
	if spec.ConnectTimeout > 0 {
		handshake = spec.ConnectTimeout
	}
	t := &http.Transport{
		Proxy:                 proxyFunc(spec.Proxies, spec.ProxyAuth),
		DialContext:           dial,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   handshake,
		MaxIdleConns:          DefaultMaxIdleConns,
		MaxIdleConnsPerHost:   DefaultMaxIdleConnsPerHost,
		IdleConnTimeout:       DefaultIdleConnTimeout,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     true,
	}

	switch spec.HTTPVersion {
	case HTTPVersion11:
		t.ForceAttemptHTTP2 = false
		t.TLSNextProto = map[string]func(string, *tls.Conn) http.RoundTripper{}
	case HTTPVersion2:
		if err := http2.ConfigureTransport(t); err != nil {
			return nil, fmt.Errorf("transport: configure http2: %w", err)
		}
	}
	return t, nil
}

// connectDialer applies the connect budget, unix socket and resolve
// overrides around base.
func connectDialer(base DialFunc, timeout time.Duration, unixSocket string, resolve map[string]string) DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		if unixSocket != "" {
			network, addr = "unix", unixSocket
		} else if override, ok := resolve[addr]; ok {
			addr = override
		}
		if timeout <= 0 {
			return base(ctx, network, addr)
		}

		dctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		conn, err := base(dctx, network, addr)
		if err != nil && ctx.Err() == nil && dctx.Err() != nil {
			return nil, &connectTimeoutError{err: err}
		}
		return conn, err
	}
}

func proxyFunc(proxies map[string]string, auth map[string]Credentials) func(*http.Request) (*url.URL, error) {
	if len(proxies) == 0 {
		return http.ProxyFromEnvironment
	}
	return func(req *http.Request) (*url.URL, error) {
		scheme := req.URL.Scheme
		raw, ok := proxies[scheme]
		if !ok {
			scheme = "all"
			raw, ok = proxies[scheme]
		}
		if !ok || raw == "" {
			return nil, nil
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if c, ok := auth[req.URL.Scheme]; ok {
			u.User = url.UserPassword(c.Username, c.Password)
		} else if c, ok := auth[scheme]; ok {
			u.User = url.UserPassword(c.Username, c.Password)
		}
		return u, nil
	}
}

// orderedHeader flattens h. Names are sorted; values keep their order.
func orderedHeader(h http.Header) []HeaderField {
	names := make([]string, 0, len(h))
	for k := range h {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]HeaderField, 0, len(h))
	for _, name := range names {
		for _, v := range h[name] {
			out = append(out, HeaderField{Name: name, Value: v})
		}
	}
	return out
}
