package httpclient

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/kbukum/fetchkit/logger"
	"github.com/kbukum/fetchkit/pool"
	"github.com/kbukum/fetchkit/transport"
)

// Option configures a Session. Options only change local state; errors such
// as an unencodable JSON body surface on the next Execute.
type Option func(*settings)

type apiKey struct {
	name    string
	value   string
	inQuery bool
}

// settings is everything a Session needs to build a request.
type settings struct {
	url     string
	method  string
	header  Header
	params  []Parameter
	body    []byte
	ctype   string
	bodyErr error

	timeout        time.Duration
	connectTimeout time.Duration
	auth           transport.Auth
	apiKey         *apiKey
	proxies        map[string]string
	proxyAuth      map[string]transport.Credentials
	redirect       transport.Redirect
	tls            *transport.TLSConfig
	limitRate      transport.LimitRate
	lowSpeed       transport.LowSpeed
	userAgent      string
	byteRange      string
	resolve        map[string]string
	unixSocket     string
	localAddr      string
	httpVersion    transport.HTTPVersion
	jar            http.CookieJar
	cookies        []*http.Cookie
	reserveSize    int
	onHeader       func([]byte)
	onData         func([]byte)
	onProgress     func(downTotal, downNow, upTotal, upNow int64)

	pool    *pool.Pool
	poolCfg pool.Config
	factory transport.Factory
	log     *logger.Logger
}

func defaultSettings() settings {
	return settings{
		method:   http.MethodGet,
		redirect: transport.Redirect{Follow: true, MaxHops: DefaultMaxRedirects},
		factory:  transport.HTTPFactory(),
		log:      logger.NewNop(),
	}
}

// clone copies s deeply enough that options applied to the copy never
// reach s.
func (s *settings) clone() settings {
	c := *s
	c.header = s.header.Clone()
	c.params = append([]Parameter(nil), s.params...)
	c.cookies = append([]*http.Cookie(nil), s.cookies...)
	c.proxies = cloneMap(s.proxies)
	c.proxyAuth = cloneMap(s.proxyAuth)
	c.resolve = cloneMap(s.resolve)
	if s.tls != nil {
		t := *s.tls
		c.tls = &t
	}
	if s.apiKey != nil {
		k := *s.apiKey
		c.apiKey = &k
	}
	return c
}

// baseSpec materializes everything except method, url, header and body.
func (s *settings) baseSpec() transport.Spec {
	var tlsCfg *transport.TLSConfig
	if s.tls != nil {
		t := *s.tls
		tlsCfg = &t
	}
	return transport.Spec{
		Timeout:        s.timeout,
		ConnectTimeout: s.connectTimeout,
		Auth:           s.auth,
		Proxies:        cloneMap(s.proxies),
		ProxyAuth:      cloneMap(s.proxyAuth),
		Redirect:       s.redirect,
		TLS:            tlsCfg,
		LimitRate:      s.limitRate,
		LowSpeed:       s.lowSpeed,
		HTTPVersion:    s.httpVersion,
		Resolve:        cloneMap(s.resolve),
		UnixSocket:     s.unixSocket,
		LocalAddr:      s.localAddr,
		Jar:            s.jar,
		ReserveSize:    s.reserveSize,
		OnHeader:       s.onHeader,
		OnData:         s.onData,
		OnProgress:     s.onProgress,
	}
}

func cloneMap[V any](m map[string]V) map[string]V {
	if m == nil {
		return nil
	}
	out := make(map[string]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// --- request line ---

// WithURL sets the default URL used when Execute gets an empty url.
func WithURL(url string) Option {
	return func(s *settings) { s.url = url }
}

// WithMethod sets the default method used when Execute gets an empty method.
func WithMethod(method string) Option {
	return func(s *settings) { s.method = method }
}

// --- headers ---

// WithHeader sets a header, replacing earlier values.
func WithHeader(name, value string) Option {
	return func(s *settings) { s.header.Set(name, value) }
}

// AddHeader adds a header value, keeping earlier values.
func AddHeader(name, value string) Option {
	return func(s *settings) { s.header.Add(name, value) }
}

// WithHeaders replaces the whole header set.
func WithHeaders(h Header) Option {
	return func(s *settings) { s.header = h.Clone() }
}

// WithUserAgent sets the User-Agent header. The default names this library.
func WithUserAgent(ua string) Option {
	return func(s *settings) { s.userAgent = ua }
}

// WithRange requests the bytes [start, end]. A negative end reads to the end
// of the resource.
func WithRange(start, end int64) Option {
	return func(s *settings) {
		if end < 0 {
			s.byteRange = "bytes=" + strconv.FormatInt(start, 10) + "-"
			return
		}
		s.byteRange = fmt.Sprintf("bytes=%d-%d", start, end)
	}
}

// --- body ---

// WithBody sets a raw request body.
func WithBody(body []byte) Option {
	return func(s *settings) {
		s.body = append([]byte(nil), body...)
		s.ctype = ""
		s.bodyErr = nil
	}
}

// WithPayload sets a form-encoded body.
func WithPayload(fields ...Parameter) Option {
	return func(s *settings) {
		s.body = []byte(encodeParameters(fields))
		s.ctype = "application/x-www-form-urlencoded"
		s.bodyErr = nil
	}
}

// WithJSON sets a JSON body encoded from v.
func WithJSON(v any) Option {
	return func(s *settings) {
		data, err := json.Marshal(v)
		if err != nil {
			s.bodyErr = fmt.Errorf("httpclient: encode json body: %w", err)
			return
		}
		s.body = data
		s.ctype = "application/json"
		s.bodyErr = nil
	}
}

// WithMultipart sets a multipart/form-data body.
func WithMultipart(m *MultipartBody) Option {
	return func(s *settings) {
		body, ctype, err := m.encode()
		if err != nil {
			s.bodyErr = fmt.Errorf("httpclient: encode multipart body: %w", err)
			return
		}
		s.body = body
		s.ctype = ctype
		s.bodyErr = nil
	}
}

// WithParameters replaces the query parameters appended to the URL.
func WithParameters(params ...Parameter) Option {
	return func(s *settings) { s.params = append([]Parameter(nil), params...) }
}

// AddParameter appends one query parameter.
func AddParameter(key, value string) Option {
	return func(s *settings) { s.params = append(s.params, Parameter{Key: key, Value: value}) }
}

// --- timing ---

// WithTimeout bounds the whole transfer. Zero disables the limit.
func WithTimeout(d time.Duration) Option {
	return func(s *settings) { s.timeout = d }
}

// WithConnectTimeout bounds connection setup, TLS handshake included.
func WithConnectTimeout(d time.Duration) Option {
	return func(s *settings) { s.connectTimeout = d }
}

// WithLimitRate caps download and upload bandwidth in bytes per second.
func WithLimitRate(download, upload int64) Option {
	return func(s *settings) { s.limitRate = transport.LimitRate{Download: download, Upload: upload} }
}

// WithLowSpeed aborts transfers slower than minBytesPerSec for d.
func WithLowSpeed(minBytesPerSec int64, d time.Duration) Option {
	return func(s *settings) { s.lowSpeed = transport.LowSpeed{Limit: minBytesPerSec, Time: d} }
}

// --- connection ---

// WithProxies maps URL schemes ("http", "https" or "all") to proxy URLs.
// Without proxies the environment (HTTP_PROXY and friends) is used.
func WithProxies(proxies map[string]string) Option {
	return func(s *settings) { s.proxies = cloneMap(proxies) }
}

// WithProxyAuth sets credentials for the proxy used for scheme.
func WithProxyAuth(scheme, username, password string) Option {
	return func(s *settings) {
		if s.proxyAuth == nil {
			s.proxyAuth = make(map[string]transport.Credentials)
		}
		s.proxyAuth[scheme] = transport.Credentials{Username: username, Password: password}
	}
}

// WithRedirect sets the redirect policy. A negative maxHops is unlimited.
func WithRedirect(follow bool, maxHops int) Option {
	return func(s *settings) { s.redirect = transport.Redirect{Follow: follow, MaxHops: maxHops} }
}

// WithTLS replaces the TLS settings.
func WithTLS(cfg transport.TLSConfig) Option {
	return func(s *settings) { s.tls = &cfg }
}

// WithVerifyTLS turns server certificate verification on or off.
func WithVerifyTLS(verify bool) Option {
	return func(s *settings) {
		if s.tls == nil {
			s.tls = &transport.TLSConfig{}
		}
		s.tls.SkipVerify = !verify
	}
}

// WithResolve pins "host:port" to addr, like curl's --resolve.
func WithResolve(hostPort, addr string) Option {
	return func(s *settings) {
		if s.resolve == nil {
			s.resolve = make(map[string]string)
		}
		s.resolve[hostPort] = addr
	}
}

// WithUnixSocket sends every request over the unix socket at path.
func WithUnixSocket(path string) Option {
	return func(s *settings) { s.unixSocket = path }
}

// WithLocalAddr binds outgoing connections to addr ("ip" or "ip:port").
func WithLocalAddr(addr string) Option {
	return func(s *settings) { s.localAddr = addr }
}

// WithHTTPVersion selects the protocol negotiation strategy.
func WithHTTPVersion(v transport.HTTPVersion) Option {
	return func(s *settings) { s.httpVersion = v }
}

// WithCookieJar stores and sends cookies through jar.
func WithCookieJar(jar http.CookieJar) Option {
	return func(s *settings) { s.jar = jar }
}

// WithCookies sends cookies with the next request and keeps them in the
// session's jar. A public-suffix aware jar is created when none is set.
func WithCookies(cookies ...*http.Cookie) Option {
	return func(s *settings) { s.cookies = append(s.cookies, cookies...) }
}

// WithReserveSize preallocates n bytes for the response body.
func WithReserveSize(n int) Option {
	return func(s *settings) { s.reserveSize = n }
}

// --- callbacks ---

// WithOnHeader is called for every raw response header line, status line
// included, on the goroutine running Execute.
func WithOnHeader(fn func(line []byte)) Option {
	return func(s *settings) { s.onHeader = fn }
}

// WithOnBodyChunk is called for every body chunk on the goroutine running
// Execute.
func WithOnBodyChunk(fn func(chunk []byte)) Option {
	return func(s *settings) { s.onData = fn }
}

// WithOnProgress reports download and upload byte counts on the goroutine
// running Execute: once when the response headers arrive and after every
// body chunk. downTotal is 0 when the server sent no Content-Length.
func WithOnProgress(fn func(downTotal, downNow, upTotal, upNow int64)) Option {
	return func(s *settings) { s.onProgress = fn }
}

// --- plumbing ---

// WithPool shares p with other sessions. The session never closes a shared
// pool.
func WithPool(p *pool.Pool) Option {
	return func(s *settings) { s.pool = p }
}

// WithPoolConfig configures the session's private pool.
func WithPoolConfig(cfg pool.Config) Option {
	return func(s *settings) { s.poolCfg = cfg }
}

// WithTransport replaces the handle factory.
func WithTransport(f transport.Factory) Option {
	return func(s *settings) {
		if f != nil {
			s.factory = f
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *logger.Logger) Option {
	return func(s *settings) {
		if l != nil {
			s.log = l
		}
	}
}
