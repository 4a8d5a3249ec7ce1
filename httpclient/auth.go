package httpclient

import "github.com/kbukum/fetchkit/transport"

// WithBasicAuth sends HTTP Basic credentials.
func WithBasicAuth(username, password string) Option {
	return func(s *settings) {
		s.auth = transport.Auth{Scheme: transport.AuthBasic, Username: username, Password: password}
	}
}

// WithBearerAuth sends a Bearer token.
func WithBearerAuth(token string) Option {
	return func(s *settings) { s.auth = transport.Auth{Scheme: transport.AuthBearer, Token: token} }
}

// WithDigestAuth answers Digest challenges with the given credentials.
func WithDigestAuth(username, password string) Option {
	return func(s *settings) {
		s.auth = transport.Auth{Scheme: transport.AuthDigest, Username: username, Password: password}
	}
}

// WithAPIKey sends key in the named header. The name defaults to X-API-Key.
func WithAPIKey(headerName, key string) Option {
	return func(s *settings) {
		if headerName == "" {
			headerName = "X-API-Key"
		}
		s.apiKey = &apiKey{name: headerName, value: key}
	}
}

// WithAPIKeyQuery sends key as a query parameter.
func WithAPIKeyQuery(paramName, key string) Option {
	return func(s *settings) { s.apiKey = &apiKey{name: paramName, value: key, inQuery: true} }
}

// WithNoAuth clears any configured authentication.
func WithNoAuth() Option {
	return func(s *settings) {
		s.auth = transport.Auth{}
		s.apiKey = nil
	}
}
