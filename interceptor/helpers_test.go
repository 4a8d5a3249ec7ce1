package interceptor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/transport"
	"github.com/kbukum/fetchkit/transport/transporttest"
)

func newSession(t *testing.T, h *transporttest.Handle, interceptors ...httpclient.Interceptor) *httpclient.Session {
	t.Helper()
	s := httpclient.NewSession(
		httpclient.WithURL("http://example.com/resource"),
		httpclient.WithTransport(transporttest.Factory(h)),
	)
	s.Use(interceptors...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func get(t *testing.T, s *httpclient.Session) *httpclient.Response {
	t.Helper()
	resp, err := s.Get(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func status(code int) transport.Result {
	return transport.Result{Status: code}
}

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
