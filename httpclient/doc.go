// Package httpclient is a session-oriented HTTP request layer.
//
// A Session owns request configuration and executes one request at a time
// through an interceptor chain. The innermost step takes a transport handle
// from a connection pool, configures it and performs the transfer. A
// MultiPerform engine drives the transfers of many sessions at once over a
// single multiplexer.
//
// Transfer failures never surface as Go errors from Execute. They are
// carried by Response.Err as a structured *Error so interceptors can treat
// a refused connection and a 503 the same way. Execute returns an error only
// for problems detected before any network activity, such as a malformed URL.
//
// # Basic Usage
//
//	s := httpclient.NewSession(
//	    httpclient.WithTimeout(10*time.Second),
//	    httpclient.WithBearerAuth("my-token"),
//	)
//	defer s.Close()
//
//	resp, err := s.Get(ctx, "https://api.example.com/users/123")
//	if err != nil {
//	    return err // invalid configuration
//	}
//	if e := resp.StatusError(); e != nil {
//	    return e // transport failure or 4xx/5xx
//	}
//
// # Interceptors
//
//	s.Use(
//	    interceptor.Logging(log),
//	    interceptor.Retry(interceptor.RetryConfig{MaxAttempts: 3}),
//	)
//
// # Many transfers
//
//	mp := httpclient.NewMultiPerform()
//	for _, s := range sessions {
//	    mp.Add(s, http.MethodGet, "", httpclient.Callbacks{
//	        OnBodyChunk: func(b []byte) { ... },
//	    })
//	}
//	responses, err := mp.Perform(ctx)
package httpclient
