package transport

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
)

// AuthScheme selects how credentials are sent.
type AuthScheme int

const (
	AuthNone AuthScheme = iota
	AuthBasic
	AuthBearer
	// AuthDigest answers a Digest challenge on 401 with one extra round trip.
	AuthDigest
)

// Auth carries request credentials.
type Auth struct {
	Scheme   AuthScheme
	Username string
	Password string
	Token    string
}

// Credentials is a username/password pair.
type Credentials struct {
	Username string
	Password string
}

// Redirect is the redirect policy. MaxHops < 0 means unlimited.
type Redirect struct {
	Follow  bool
	MaxHops int
}

// LimitRate caps bandwidth in bytes per second. Zero means unlimited.
type LimitRate struct {
	Download int64
	Upload   int64
}

// LowSpeed aborts a transfer whose speed stays below Limit bytes per second
// for at least Time.
type LowSpeed struct {
	Limit int64
	Time  time.Duration
}

// Enabled reports whether the low-speed abort is armed.
func (l LowSpeed) Enabled() bool {
	return l.Limit > 0 && l.Time > 0
}

// HTTPVersion selects the protocol negotiation strategy.
type HTTPVersion int

const (
	// HTTPVersionAuto lets TLS ALPN pick HTTP/2 or HTTP/1.1.
	HTTPVersionAuto HTTPVersion = iota
	HTTPVersion11
	HTTPVersion2
	// HTTPVersion2PriorKnowledge speaks cleartext HTTP/2 (h2c) without upgrade.
	HTTPVersion2PriorKnowledge
)

// String returns the version name.
func (v HTTPVersion) String() string {
	switch v {
	case HTTPVersionAuto:
		return "auto"
	case HTTPVersion11:
		return "1.1"
	case HTTPVersion2:
		return "2"
	case HTTPVersion2PriorKnowledge:
		return "2-prior-knowledge"
	default:
		return fmt.Sprintf("HTTPVersion(%d)", int(v))
	}
}

// ParseHTTPVersion parses the names returned by HTTPVersion.String.
func ParseHTTPVersion(s string) (HTTPVersion, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return HTTPVersionAuto, nil
	case "1.1", "http/1.1":
		return HTTPVersion11, nil
	case "2", "2.0", "http/2":
		return HTTPVersion2, nil
	case "2-prior-knowledge", "h2c":
		return HTTPVersion2PriorKnowledge, nil
	default:
		return HTTPVersionAuto, fmt.Errorf("transport: unsupported http version %q", s)
	}
}

// Spec is a fully materialized transfer description.
type Spec struct {
	Method string
	URL    string
	Header []HeaderField
	Body   []byte

	// Timeout bounds the whole transfer; ConnectTimeout bounds dial and TLS.
	Timeout        time.Duration
	ConnectTimeout time.Duration

	Auth Auth

	// Proxies maps a URL scheme (or "all") to a proxy URL.
	Proxies   map[string]string
	ProxyAuth map[string]Credentials

	Redirect  Redirect
	TLS       *TLSConfig
	LimitRate LimitRate
	LowSpeed  LowSpeed

	HTTPVersion HTTPVersion
	// Resolve overrides "host:port" with "addr:port" at dial time.
	Resolve    map[string]string
	UnixSocket string
	LocalAddr  string
	Jar        http.CookieJar
	// ReserveSize preallocates the body buffer.
	ReserveSize int

	// OnHeader, OnData and OnProgress run during Perform only.
	OnHeader func(line []byte)
	OnData   func(chunk []byte)
	// OnProgress reports byte counts once the response headers arrive and
	// after every body chunk. downTotal is 0 when the length is unknown.
	OnProgress func(downTotal, downNow, upTotal, upNow int64)
}

// Validate checks the spec without touching the network.
func (s *Spec) Validate() error {
	if s.Method == "" {
		return fmt.Errorf("transport: method is required")
	}
	if strings.ContainsAny(s.Method, " \t\r\n") {
		return fmt.Errorf("transport: invalid method %q", s.Method)
	}
	u, err := url.Parse(s.URL)
	if err != nil {
		return fmt.Errorf("transport: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("transport: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("transport: url %q has no host", s.URL)
	}
	if s.Timeout < 0 || s.ConnectTimeout < 0 {
		return fmt.Errorf("transport: timeouts must not be negative")
	}
	if s.LimitRate.Download < 0 || s.LimitRate.Upload < 0 {
		return fmt.Errorf("transport: limit rate must not be negative")
	}
	if s.LowSpeed.Limit < 0 || s.LowSpeed.Time < 0 {
		return fmt.Errorf("transport: low speed settings must not be negative")
	}
	if s.ReserveSize < 0 {
		return fmt.Errorf("transport: reserve size must not be negative")
	}
	if s.HTTPVersion == HTTPVersion2PriorKnowledge && u.Scheme != "http" {
		return fmt.Errorf("transport: http/2 prior knowledge requires a cleartext http url")
	}
	if s.HTTPVersion < HTTPVersionAuto || s.HTTPVersion > HTTPVersion2PriorKnowledge {
		return fmt.Errorf("transport: unsupported http version %d", int(s.HTTPVersion))
	}
	for scheme, raw := range s.Proxies {
		if _, err := url.Parse(raw); err != nil {
			return fmt.Errorf("transport: invalid %s proxy: %w", scheme, err)
		}
	}
	if s.Auth.Scheme == AuthDigest && s.Auth.Username == "" {
		return fmt.Errorf("transport: digest auth requires a username")
	}
	if err := s.TLS.Validate(); err != nil {
		return err
	}
	return nil
}

// connFingerprint identifies the settings that shape connections. Two specs
// with the same fingerprint can share warm connections.
func (s *Spec) connFingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "ct=%s;v=%d;unix=%s;local=%s;", s.ConnectTimeout, s.HTTPVersion, s.UnixSocket, s.LocalAddr)
	writeSorted(&b, "proxy", s.Proxies)
	for _, k := range sortedKeys(s.ProxyAuth) {
		c := s.ProxyAuth[k]
		fmt.Fprintf(&b, "pauth.%s=%s:%s;", k, c.Username, c.Password)
	}
	writeSorted(&b, "resolve", s.Resolve)
	if s.TLS != nil {
		fmt.Fprintf(&b, "tls=%+v;", *s.TLS)
	}
	return b.String()
}

func writeSorted(b *strings.Builder, prefix string, m map[string]string) {
	for _, k := range sortedKeys(m) {
		fmt.Fprintf(b, "%s.%s=%s;", prefix, k, m[k])
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
