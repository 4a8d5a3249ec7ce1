package interceptor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/transport"
	"github.com/kbukum/fetchkit/transport/transporttest"
)

// blockingSession returns a session whose transfer holds until release is
// closed, and a channel closed once the transfer has started.
func blockingSession(t *testing.T, b *Bulkhead) (s *httpclient.Session, started, release chan struct{}) {
	started = make(chan struct{})
	release = make(chan struct{})
	h := transporttest.NewHandle()
	h.Before = func(transport.Spec) {
		close(started)
		<-release
	}
	return newSession(t, h, b), started, release
}

func TestBulkheadRejectsWhenFull(t *testing.T) {
	b := NewBulkhead(1, 0)
	busy, started, release := blockingSession(t, b)

	done := make(chan *httpclient.Response)
	go func() {
		resp, _ := busy.Get(context.Background(), "")
		done <- resp
	}()
	<-started
	if b.InUse() != 1 || b.Available() != 0 {
		t.Errorf("in use = %d, available = %d", b.InUse(), b.Available())
	}

	other := transporttest.NewHandle()
	resp := get(t, newSession(t, other, b))
	if !errors.Is(resp.Err(), ErrBulkheadFull) || !resp.Err().Retryable {
		t.Errorf("got %v", resp.Err())
	}
	if other.Transfers() != 0 {
		t.Error("rejected request reached the transport")
	}

	close(release)
	if resp := <-done; !resp.OK() {
		t.Errorf("first request failed: %v", resp.Err())
	}
	if b.InUse() != 0 {
		t.Errorf("slot not released: in use = %d", b.InUse())
	}
}

func TestBulkheadWaitsForSlot(t *testing.T) {
	b := NewBulkhead(1, 5*time.Second)
	busy, started, release := blockingSession(t, b)

	go func() { _, _ = busy.Get(context.Background(), "") }()
	<-started
	time.AfterFunc(50*time.Millisecond, func() { close(release) })

	if resp := get(t, newSession(t, transporttest.NewHandle(), b)); !resp.OK() {
		t.Errorf("waiting request failed: %v", resp.Err())
	}
}

func TestBulkheadWaitTimeout(t *testing.T) {
	b := NewBulkhead(1, 20*time.Millisecond)
	busy, started, release := blockingSession(t, b)
	defer close(release)

	go func() { _, _ = busy.Get(context.Background(), "") }()
	<-started

	resp := get(t, newSession(t, transporttest.NewHandle(), b))
	if !errors.Is(resp.Err(), ErrBulkheadTimeout) {
		t.Errorf("got %v", resp.Err())
	}
}
