// Package interceptor provides httpclient interceptors for fault tolerance,
// caching and observability.
//
// Register them on a session outermost first:
//
//	s.Use(
//	    interceptor.RequestID(""),
//	    interceptor.Logging(log),
//	    interceptor.Retry(interceptor.DefaultRetryConfig()),
//	    interceptor.NewCircuitBreaker(interceptor.DefaultCircuitBreakerConfig("api")),
//	)
//
// Retry placed outside the circuit breaker sees the breaker's fast failures
// as non-retryable and stops early. Breakers, bulkheads, rate limits and
// caches are safe to share between sessions.
package interceptor
