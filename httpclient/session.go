package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/net/publicsuffix"

	"github.com/kbukum/fetchkit/logger"
	"github.com/kbukum/fetchkit/pool"
	"github.com/kbukum/fetchkit/transport"
	"github.com/kbukum/fetchkit/version"
)

// Session owns request configuration, an interceptor chain and the
// transport handles used to execute requests.
//
// A Session is used by one goroutine at a time. Configure between requests
// to change what the next request sends.
type Session struct {
	cfg          settings
	interceptors []Interceptor

	poolMu  sync.Mutex
	private *pool.Pool

	inFlight atomic.Bool
	closed   atomic.Bool
}

// NewSession creates a session. Options never fail; invalid settings are
// reported by the first Execute.
func NewSession(opts ...Option) *Session {
	s := &Session{cfg: defaultSettings()}
	s.Configure(opts...)
	return s
}

// Configure applies options to the session. It never touches the network.
func (s *Session) Configure(opts ...Option) {
	for _, opt := range opts {
		if opt != nil {
			opt(&s.cfg)
		}
	}
}

// Use appends interceptors. The first interceptor ever added is outermost.
func (s *Session) Use(interceptors ...Interceptor) {
	for _, ic := range interceptors {
		if ic != nil {
			s.interceptors = append(s.interceptors, ic)
		}
	}
}

// Interceptors returns a copy of the registered interceptors.
func (s *Session) Interceptors() []Interceptor {
	return append([]Interceptor(nil), s.interceptors...)
}

// Execute runs one request through the interceptor chain and the transport.
// An empty method or url falls back to the configured one.
//
// The error result is reserved for local configuration problems detected
// before any network activity. Transfer failures are reported through
// Response.Err.
func (s *Session) Execute(ctx context.Context, method, rawURL string) (*Response, error) {
	return s.execute(ctx, &s.cfg, method, rawURL)
}

// ExecuteWith is Execute with extra options that apply to this request only.
func (s *Session) ExecuteWith(ctx context.Context, method, rawURL string, opts ...Option) (*Response, error) {
	cfg := s.cfg.clone()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	resp, err := s.execute(ctx, &cfg, method, rawURL)
	if cfg.jar != nil && cfg.cookies == nil {
		// The session's cookies now live in the jar; seeding them again
		// would overwrite values the server has since changed.
		if s.cfg.jar == nil {
			s.cfg.jar = cfg.jar
		}
		if s.cfg.jar == cfg.jar {
			s.cfg.cookies = nil
		}
	}
	return resp, err
}

// Get performs a GET request.
func (s *Session) Get(ctx context.Context, rawURL string) (*Response, error) {
	return s.Execute(ctx, http.MethodGet, rawURL)
}

// Head performs a HEAD request.
func (s *Session) Head(ctx context.Context, rawURL string) (*Response, error) {
	return s.Execute(ctx, http.MethodHead, rawURL)
}

// Post performs a POST request with the configured body.
func (s *Session) Post(ctx context.Context, rawURL string) (*Response, error) {
	return s.Execute(ctx, http.MethodPost, rawURL)
}

// Put performs a PUT request with the configured body.
func (s *Session) Put(ctx context.Context, rawURL string) (*Response, error) {
	return s.Execute(ctx, http.MethodPut, rawURL)
}

// Patch performs a PATCH request with the configured body.
func (s *Session) Patch(ctx context.Context, rawURL string) (*Response, error) {
	return s.Execute(ctx, http.MethodPatch, rawURL)
}

// Delete performs a DELETE request.
func (s *Session) Delete(ctx context.Context, rawURL string) (*Response, error) {
	return s.Execute(ctx, http.MethodDelete, rawURL)
}

// Options performs an OPTIONS request.
func (s *Session) Options(ctx context.Context, rawURL string) (*Response, error) {
	return s.Execute(ctx, http.MethodOptions, rawURL)
}

// Cookies returns the cookies the session's jar would send to rawURL.
func (s *Session) Cookies(rawURL string) []*http.Cookie {
	if s.cfg.jar == nil {
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return s.cfg.jar.Cookies(u)
}

// Pool returns the pool the session executes through. Without WithPool the
// session creates a private pool on first use. It returns nil when the pool
// configuration is invalid.
func (s *Session) Pool() *pool.Pool {
	p, err := s.poolFor(&s.cfg)
	if err != nil {
		return nil
	}
	return p
}

// Close releases the session's private pool and every idle handle in it.
// A shared pool is left open. Execute fails after Close.
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.poolMu.Lock()
	p := s.private
	s.private = nil
	s.poolMu.Unlock()
	if p != nil {
		return p.Close()
	}
	return nil
}

func (s *Session) execute(ctx context.Context, cfg *settings, method, rawURL string) (*Response, error) {
	if s.closed.Load() {
		return nil, NewInvalidRequestError(ErrSessionClosed)
	}
	if !s.inFlight.CompareAndSwap(false, true) {
		return nil, NewInvalidRequestError(ErrSessionInFlight)
	}
	defer s.inFlight.Store(false)

	req, err := s.prepare(cfg, method, rawURL)
	if err != nil {
		return nil, err
	}
	p, perr := s.poolFor(cfg)
	if perr != nil {
		return nil, NewInvalidRequestError(perr)
	}

	next := Chain(terminalStep(p, cfg.factory, cfg.log), s.Interceptors()...)
	resp := next(ctx, req)
	if resp == nil {
		resp = ErrorResponse(req, &Error{
			Code:    ErrCodeTransport,
			Native:  transport.CodeBadFunctionArgument,
			Message: "interceptor returned no response",
		})
	}
	return resp, nil
}

// prepare validates cfg and builds the outgoing request. It stores cookies
// from WithCookies in the session jar.
func (s *Session) prepare(cfg *settings, method, rawURL string) (*Request, *Error) {
	if method == "" {
		method = cfg.method
	}
	if rawURL == "" {
		rawURL = cfg.url
	}
	if rawURL == "" {
		return nil, NewInvalidRequestError(errors.New("no url configured"))
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, NewInvalidRequestError(fmt.Errorf("parse url: %w", err))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, NewInvalidRequestError(fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	if u.Host == "" {
		return nil, NewInvalidRequestError(fmt.Errorf("url %q has no host", rawURL))
	}
	if cfg.bodyErr != nil {
		return nil, NewInvalidRequestError(cfg.bodyErr)
	}

	appendQuery(u, cfg.params)
	if cfg.apiKey != nil && cfg.apiKey.inQuery {
		appendQuery(u, []Parameter{{Key: cfg.apiKey.name, Value: cfg.apiKey.value}})
	}

	h := cfg.header.Clone()
	if cfg.ctype != "" && !h.Has("Content-Type") {
		h.Set("Content-Type", cfg.ctype)
	}
	switch {
	case cfg.userAgent != "":
		h.Set("User-Agent", cfg.userAgent)
	case !h.Has("User-Agent"):
		h.Set("User-Agent", version.UserAgent())
	}
	if cfg.byteRange != "" {
		h.Set("Range", cfg.byteRange)
	}
	if cfg.apiKey != nil && !cfg.apiKey.inQuery {
		h.Set(cfg.apiKey.name, cfg.apiKey.value)
	}

	if len(cfg.cookies) > 0 {
		if cfg.jar == nil {
			jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
			if err != nil {
				return nil, NewInvalidRequestError(err)
			}
			cfg.jar = jar
		}
		cfg.jar.SetCookies(u, cfg.cookies)
		cfg.cookies = nil
	}

	req := &Request{
		Method: strings.ToUpper(method),
		URL:    u.String(),
		Header: h,
		base:   cfg.baseSpec(),
	}
	if cfg.apiKey != nil && !cfg.apiKey.inQuery {
		req.keyHeader = cfg.apiKey.name
	}
	if cfg.body != nil {
		req.Body = append([]byte(nil), cfg.body...)
	}
	spec := req.spec()
	if err := spec.Validate(); err != nil {
		return nil, NewInvalidRequestError(err)
	}
	return req, nil
}

func (s *Session) poolFor(cfg *settings) (*pool.Pool, error) {
	if cfg.pool != nil {
		return cfg.pool, nil
	}
	s.poolMu.Lock()
	defer s.poolMu.Unlock()
	if s.private == nil {
		p, err := pool.New(cfg.poolCfg, cfg.log)
		if err != nil {
			return nil, err
		}
		s.private = p
	}
	return s.private, nil
}

// terminalStep performs the transfer for the innermost link of the chain.
func terminalStep(p *pool.Pool, factory transport.Factory, log *logger.Logger) Next {
	return func(ctx context.Context, req *Request) *Response {
		spec := req.spec()
		if err := spec.Validate(); err != nil {
			return ErrorResponse(req, NewInvalidRequestError(err))
		}
		key, err := pool.KeyFor(spec.URL, proxyFor(&spec))
		if err != nil {
			return ErrorResponse(req, NewInvalidRequestError(err))
		}

		h, reused := p.Acquire(key)
		if !reused {
			h = factory()
		}
		h.Reset()
		if err := h.Configure(spec); err != nil {
			p.Discard(h)
			return ErrorResponse(req, NewInvalidRequestError(err))
		}

		res := h.Perform(ctx)
		resp := newResultResponse(req, res, nil)
		if res.OK() {
			if err := p.Release(key, h); err != nil {
				log.Debug("handle not returned to pool", logger.ErrorFields("release", err))
			}
		} else {
			p.Discard(h)
		}

		log.Debug("request finished", logger.Fields(
			logger.FieldMethod, req.Method,
			logger.FieldURL, req.URL,
			logger.FieldStatus, res.Status,
			"code", res.Code.String(),
			"reused", reused,
			logger.FieldDuration, res.Elapsed.Milliseconds(),
		))
		return resp
	}
}
