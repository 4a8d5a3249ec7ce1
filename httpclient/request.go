package httpclient

import (
	"strings"

	"github.com/kbukum/fetchkit/transport"
)

// Request is the outgoing request seen by interceptors. Interceptors may
// change any exported field before calling next.
type Request struct {
	// Method is the HTTP method (GET, POST, PUT, PATCH, DELETE, etc).
	Method string
	// URL is the absolute request URL, query parameters included.
	URL string
	// Header holds the request headers in send order.
	Header Header
	// Body is the encoded request body.
	Body []byte

	// base carries the session settings the request was built from.
	base transport.Spec
	// keyHeader names the header holding an API key, if any.
	keyHeader string
}

// HasCredentials reports whether r authenticates as someone: configured
// Basic, Bearer or Digest credentials, an API key header or an explicit
// Authorization header.
func (r *Request) HasCredentials() bool {
	if r.base.Auth.Scheme != transport.AuthNone || r.Header.Has("Authorization") {
		return true
	}
	return r.keyHeader != "" && r.Header.Has(r.keyHeader)
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	c := *r
	c.Header = r.Header.Clone()
	if r.Body != nil {
		c.Body = append([]byte(nil), r.Body...)
	}
	return &c
}

// spec materializes the transfer description for r.
func (r *Request) spec() transport.Spec {
	s := r.base
	s.Method = r.Method
	s.URL = r.URL
	s.Header = []transport.HeaderField(r.Header.Clone())
	s.Body = r.Body
	return s
}

// proxyFor returns the proxy URL s would use, for pool keys.
func proxyFor(s *transport.Spec) string {
	if len(s.Proxies) == 0 {
		return ""
	}
	scheme := "http"
	if strings.HasPrefix(strings.ToLower(s.URL), "https:") {
		scheme = "https"
	}
	if p, ok := s.Proxies[scheme]; ok {
		return p
	}
	return s.Proxies["all"]
}
