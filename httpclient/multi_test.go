package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kbukum/fetchkit/transport"
	"github.com/kbukum/fetchkit/transport/transporttest"
)

func TestMultiPerformCompletesAll(t *testing.T) {
	const k = 4
	m := NewMultiPerform()
	events := make([][]string, k)
	tokens := make([]Token, k)

	for i := 0; i < k; i++ {
		h := transporttest.NewHandle(transport.Result{
			Status: 200 + i,
			Header: []transport.HeaderField{{Name: "X-N", Value: fmt.Sprint(i)}},
			Body:   []byte(fmt.Sprintf("body-%d", i)),
		})
		s := fakeSession(h)
		defer s.Close()

		tok, err := m.Add(s, "", fmt.Sprintf("http://example.com/%d", i), Callbacks{
			OnHeader:    func([]byte) { events[i] = appendOnce(events[i], "headers") },
			OnBodyChunk: func([]byte) { events[i] = append(events[i], "body") },
			OnComplete:  func(*Response) { events[i] = append(events[i], "complete") },
			OnError:     func(*Error) { events[i] = append(events[i], "error") },
		})
		if err != nil {
			t.Fatal(err)
		}
		tokens[i] = tok
	}

	responses, err := m.Perform(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(responses) != k {
		t.Fatalf("got %d responses", len(responses))
	}
	for i, resp := range responses {
		if resp.StatusCode() != 200+i || resp.Text() != fmt.Sprintf("body-%d", i) {
			t.Errorf("response %d: %d %q", i, resp.StatusCode(), resp.Text())
		}
		if resp.Header().Get("X-N") != fmt.Sprint(i) {
			t.Errorf("response %d header = %v", i, resp.Header())
		}
		if got := strings.Join(events[i], ","); got != "headers,body,complete" {
			t.Errorf("transfer %d events = %s", i, got)
		}
		if st, ok := m.State(tokens[i]); !ok || st != StateComplete {
			t.Errorf("transfer %d state = %v", i, st)
		}
	}
}

func appendOnce(events []string, ev string) []string {
	if len(events) > 0 && events[len(events)-1] == ev {
		return events
	}
	return append(events, ev)
}

func TestMultiPerformReportsErrors(t *testing.T) {
	m := NewMultiPerform()
	bad := fakeSession(transporttest.NewHandle(transport.Result{Code: transport.CodeCouldntConnect}))
	good := fakeSession(transporttest.NewHandle())
	defer bad.Close()
	defer good.Close()

	var gotErr *Error
	badTok, _ := m.Add(bad, "", "", Callbacks{
		OnError:    func(e *Error) { gotErr = e },
		OnComplete: func(*Response) { t.Error("failed transfer completed") },
	})
	goodTok, _ := m.Add(good, "", "", Callbacks{})

	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !IsConnect(gotErr) {
		t.Errorf("OnError got %v", gotErr)
	}
	if st, _ := m.State(badTok); st != StateError {
		t.Errorf("bad state = %v", st)
	}
	if st, _ := m.State(goodTok); st != StateComplete {
		t.Errorf("good state = %v", st)
	}
	if !IsConnect(m.Response(badTok).Err()) {
		t.Errorf("bad response err = %v", m.Response(badTok).Err())
	}
}

func TestMultiPerformCancelBeforeRun(t *testing.T) {
	h := transporttest.NewHandle()
	s := fakeSession(h)
	defer s.Close()

	m := NewMultiPerform()
	var cancelled int
	tok, _ := m.Add(s, "", "", Callbacks{
		OnComplete: func(*Response) { t.Error("cancelled transfer completed") },
		OnCancel:   func() { cancelled++ },
	})
	if err := m.Cancel(tok); err != nil {
		t.Fatal(err)
	}
	if cancelled != 1 {
		t.Fatalf("OnCancel ran %d times", cancelled)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st, _ := m.State(tok); st != StateCancelled {
		t.Errorf("state = %v", st)
	}
	if !IsCancelled(m.Response(tok).Err()) {
		t.Errorf("response err = %v", m.Response(tok).Err())
	}
	if h.Transfers() != 0 {
		t.Error("cancelled transfer reached the transport")
	}
	if err := m.Cancel(tok); err != nil || cancelled != 1 {
		t.Errorf("second Cancel = %v, OnCancel ran %d times", err, cancelled)
	}
}

func TestMultiPerformCancelWhileRunning(t *testing.T) {
	slow := transporttest.NewHandle()
	slow.Delay = 5 * time.Second
	fast := transporttest.NewHandle()
	ss, fs := fakeSession(slow), fakeSession(fast)
	defer ss.Close()
	defer fs.Close()

	m := NewMultiPerform()
	var cancels, completes atomic.Int32
	slowTok, _ := m.Add(ss, "", "", Callbacks{
		OnComplete: func(*Response) { t.Error("cancelled transfer completed") },
		OnCancel:   func() { cancels.Add(1) },
	})
	fastTok, _ := m.Add(fs, "", "", Callbacks{
		OnComplete: func(*Response) { completes.Add(1) },
	})

	time.AfterFunc(50*time.Millisecond, func() { _ = m.Cancel(slowTok) })

	start := time.Now()
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("Run waited for the cancelled transfer")
	}
	if cancels.Load() != 1 || completes.Load() != 1 {
		t.Errorf("cancels=%d completes=%d", cancels.Load(), completes.Load())
	}
	if st, _ := m.State(slowTok); st != StateCancelled {
		t.Errorf("slow state = %v", st)
	}
	if st, _ := m.State(fastTok); st != StateComplete {
		t.Errorf("fast state = %v", st)
	}
	if ss.inFlight.Load() {
		t.Error("session still in flight after cancel")
	}
}

func TestMultiPerformDeadline(t *testing.T) {
	h := transporttest.NewHandle()
	h.Delay = 5 * time.Second
	s := fakeSession(h)
	defer s.Close()

	m := NewMultiPerform()
	var gotErr *Error
	tok, _ := m.Add(s, "", "", Callbacks{OnError: func(e *Error) { gotErr = e }})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run = %v", err)
	}
	if !IsTimeout(gotErr) || gotErr.Phase != TimeoutTransfer {
		t.Errorf("OnError got %v", gotErr)
	}
	if st, _ := m.State(tok); st != StateError {
		t.Errorf("state = %v", st)
	}
}

func TestMultiPerformRunCancelled(t *testing.T) {
	h := transporttest.NewHandle()
	h.Delay = 5 * time.Second
	s := fakeSession(h)
	defer s.Close()

	m := NewMultiPerform()
	var cancelled bool
	tok, _ := m.Add(s, "", "", Callbacks{OnCancel: func() { cancelled = true }})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Run = %v", err)
	}
	if st, _ := m.State(tok); st != StateCancelled || !cancelled {
		t.Errorf("state = %v, OnCancel = %v", st, cancelled)
	}
}

func TestMultiPerformSessionExclusivity(t *testing.T) {
	s := fakeSession(transporttest.NewHandle())
	defer s.Close()

	m := NewMultiPerform()
	if _, err := m.Add(s, "", "", Callbacks{}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Add(s, "", "", Callbacks{}); !errors.Is(err, ErrSessionInFlight) {
		t.Errorf("second Add = %v", err)
	}
	if _, err := s.Get(context.Background(), ""); !errors.Is(err, ErrSessionInFlight) {
		t.Errorf("Execute while registered = %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(context.Background(), ""); err != nil {
		t.Errorf("Execute after completion = %v", err)
	}
}

func TestMultiPerformAddInvalid(t *testing.T) {
	s := NewSession(WithTransport(transporttest.Factory(transporttest.NewHandle())))
	defer s.Close()

	m := NewMultiPerform()
	if _, err := m.Add(s, "", "ftp://example.com", Callbacks{}); !IsInvalidRequest(err) {
		t.Errorf("Add = %v", err)
	}
	if m.Len() != 0 {
		t.Errorf("Len = %d", m.Len())
	}
	if _, err := m.Add(s, "", "http://example.com", Callbacks{}); err != nil {
		t.Errorf("session should be free after a rejected Add: %v", err)
	}
}

func TestMultiPerformRestart(t *testing.T) {
	h := transporttest.NewHandle()
	s := fakeSession(h)
	defer s.Close()

	m := NewMultiPerform()
	tok, _ := m.Add(s, "", "", Callbacks{})
	if err := m.Restart(tok); !errors.Is(err, ErrTokenPending) {
		t.Errorf("Restart pending = %v", err)
	}
	if err := m.Restart(tok + 100); !errors.Is(err, ErrUnknownToken) {
		t.Errorf("Restart unknown = %v", err)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	s.Configure(WithHeader("X-Round", "2"))
	if err := m.Restart(tok); err != nil {
		t.Fatal(err)
	}
	if st, _ := m.State(tok); st != StatePending {
		t.Errorf("state after Restart = %v", st)
	}
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	specs := h.Specs()
	if len(specs) != 2 || Header(specs[1].Header).Get("X-Round") != "2" {
		t.Errorf("specs = %+v", specs)
	}
	if s.Pool().Stats().Hits != 1 {
		t.Errorf("restart should reuse the pooled handle: %+v", s.Pool().Stats())
	}
}

func TestMultiPerformRemove(t *testing.T) {
	a := fakeSession(transporttest.NewHandle())
	b := fakeSession(transporttest.NewHandle())
	defer a.Close()
	defer b.Close()

	m := NewMultiPerform()
	var removeErr error
	tokA, _ := m.Add(a, "", "", Callbacks{})
	tokB, _ := m.Add(b, "", "", Callbacks{
		OnComplete: func(*Response) { removeErr = m.Remove(tokA) },
	})
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !errors.Is(removeErr, ErrEngineRunning) {
		t.Errorf("Remove while running = %v", removeErr)
	}

	if err := m.Remove(tokA); err != nil {
		t.Fatal(err)
	}
	if m.Len() != 1 {
		t.Errorf("Len = %d", m.Len())
	}
	if _, ok := m.State(tokA); ok {
		t.Error("removed token still known")
	}
	if _, ok := m.State(tokB); !ok {
		t.Error("other token lost")
	}

	c := fakeSession(transporttest.NewHandle())
	defer c.Close()
	tokC, _ := m.Add(c, "", "", Callbacks{})
	if err := m.Remove(tokC); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(context.Background(), ""); err != nil {
		t.Errorf("removing a pending transfer should free its session: %v", err)
	}
}

func TestMultiPerformSkipsSessionInterceptors(t *testing.T) {
	var calls int
	s := fakeSession(transporttest.NewHandle())
	defer s.Close()
	s.Use(InterceptorFunc(func(ctx context.Context, req *Request, next Next) *Response {
		calls++
		return next(ctx, req)
	}))

	m := NewMultiPerform()
	_, _ = m.Add(s, "", "", Callbacks{})
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if calls != 0 {
		t.Errorf("interceptor ran %d times", calls)
	}
}

func TestMultiPerformAddWhileRunning(t *testing.T) {
	first := fakeSession(transporttest.NewHandle())
	late := fakeSession(transporttest.NewHandle())
	defer first.Close()
	defer late.Close()

	m := NewMultiPerform()
	var lateTok Token
	var addErr error
	_, _ = m.Add(first, "", "", Callbacks{
		OnComplete: func(*Response) { lateTok, addErr = m.Add(late, "", "", Callbacks{}) },
	})
	if err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if addErr != nil {
		t.Fatal(addErr)
	}
	if st, _ := m.State(lateTok); st != StateComplete {
		t.Errorf("late transfer state = %v", st)
	}
}

func TestMultiPerformOverHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Path", r.URL.Path)
		_, _ = io.WriteString(w, strings.Repeat(r.URL.Path, 100))
	}))
	defer srv.Close()

	m := NewMultiPerform()
	var mu sync.Mutex
	chunks := map[string]int{}
	paths := []string{"/a", "/b", "/c"}
	for _, p := range paths {
		s := NewSession(WithURL(srv.URL + p))
		defer s.Close()
		if _, err := m.Add(s, "", "", Callbacks{
			OnBodyChunk: func(b []byte) {
				mu.Lock()
				chunks[p] += len(b)
				mu.Unlock()
			},
		}); err != nil {
			t.Fatal(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	responses, err := m.Perform(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for i, resp := range responses {
		p := paths[i]
		if resp.Err() != nil {
			t.Fatalf("%s: %v", p, resp.Err())
		}
		if resp.Text() != strings.Repeat(p, 100) || resp.Header().Get("X-Path") != p {
			t.Errorf("%s: body %q header %v", p, resp.Text(), resp.Header())
		}
		if chunks[p] != resp.Size() {
			t.Errorf("%s: chunks carried %d bytes, body has %d", p, chunks[p], resp.Size())
		}
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StatePending:   "pending",
		StateComplete:  "complete",
		StateCancelled: "cancelled",
		StateError:     "error",
	}
	for st, want := range tests {
		if st.String() != want {
			t.Errorf("%d.String() = %q", st, st.String())
		}
		if st.Terminal() == (st == StatePending) {
			t.Errorf("%s.Terminal() = %v", st, st.Terminal())
		}
	}
}
