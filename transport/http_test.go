package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

func getSpec(url string) Spec {
	return Spec{
		Method:   http.MethodGet,
		URL:      url,
		Redirect: Redirect{Follow: true, MaxHops: -1},
	}
}

func perform(t *testing.T, h *HTTPHandle, spec Spec) Result {
	t.Helper()
	if err := h.Configure(spec); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	return h.Perform(context.Background())
}

func TestHTTPHandle_Perform_GET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Answer", "42")
		fmt.Fprint(w, "hello")
	}))
	defer srv.Close()

	var lines []string
	var data bytes.Buffer
	spec := getSpec(srv.URL + "/path")
	spec.OnHeader = func(line []byte) { lines = append(lines, string(line)) }
	spec.OnData = func(chunk []byte) { data.Write(chunk) }

	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)

	if !res.OK() {
		t.Fatalf("expected success, got %s: %v", res.Code, res.Err)
	}
	if res.Status != http.StatusOK {
		t.Errorf("expected 200, got %d", res.Status)
	}
	if string(res.Body) != "hello" {
		t.Errorf("expected body hello, got %q", res.Body)
	}
	if data.String() != "hello" {
		t.Errorf("OnData saw %q", data.String())
	}
	if res.EffectiveURL != srv.URL+"/path" {
		t.Errorf("unexpected effective url %q", res.EffectiveURL)
	}
	if len(lines) < 2 || !strings.HasPrefix(lines[0], "HTTP/1.1 200") || lines[len(lines)-1] != "\r\n" {
		t.Errorf("unexpected header lines %q", lines)
	}
	found := false
	for _, f := range res.Header {
		if f.Name == "X-Answer" && f.Value == "42" {
			found = true
		}
	}
	if !found {
		t.Errorf("X-Answer missing from %v", res.Header)
	}
}

func TestHTTPHandle_Progress(t *testing.T) {
	payload := strings.Repeat("d", 100_000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Length", fmt.Sprint(len(payload)))
		_, _ = io.WriteString(w, payload)
	}))
	defer srv.Close()

	type tick struct{ downTotal, downNow, upTotal, upNow int64 }
	var ticks []tick
	spec := getSpec(srv.URL)
	spec.Method = http.MethodPost
	spec.Body = []byte("upload-body")
	spec.OnProgress = func(downTotal, downNow, upTotal, upNow int64) {
		ticks = append(ticks, tick{downTotal, downNow, upTotal, upNow})
	}

	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)
	if !res.OK() {
		t.Fatalf("expected success, got %s: %v", res.Code, res.Err)
	}
	if len(ticks) < 2 {
		t.Fatalf("expected several progress reports, got %v", ticks)
	}
	if ticks[0].downNow != 0 {
		t.Errorf("first report = %+v", ticks[0])
	}
	last := ticks[len(ticks)-1]
	want := tick{int64(len(payload)), int64(len(payload)), int64(len(spec.Body)), int64(len(spec.Body))}
	if last != want {
		t.Errorf("last report = %+v, want %+v", last, want)
	}
	for i := 1; i < len(ticks); i++ {
		if ticks[i].downNow < ticks[i-1].downNow {
			t.Errorf("download count went backwards: %v", ticks)
			break
		}
	}
}

func TestHTTPHandle_PostBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Trace", strings.Join(r.Header.Values("X-Trace"), ","))
		w.Header().Set("X-Host", r.Host)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	spec := getSpec(srv.URL)
	spec.Method = http.MethodPost
	spec.Body = []byte(`{"a":1}`)
	spec.Header = []HeaderField{
		{Name: "X-Trace", Value: "one"},
		{Name: "X-Trace", Value: "two"},
		{Name: "Host", Value: "api.internal"},
	}

	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)
	if !res.OK() {
		t.Fatalf("unexpected failure: %v", res.Err)
	}
	if string(res.Body) != `{"a":1}` {
		t.Errorf("body not echoed: %q", res.Body)
	}
	want := map[string]string{"X-Method": "POST", "X-Trace": "one,two", "X-Host": "api.internal"}
	for _, f := range res.Header {
		if v, ok := want[f.Name]; ok && v != f.Value {
			t.Errorf("%s: expected %q, got %q", f.Name, v, f.Value)
		}
	}
}

func TestHTTPHandle_Auth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Header.Get("Authorization"))
	}))
	defer srv.Close()

	tests := []struct {
		name string
		auth Auth
		want string
	}{
		{"basic", Auth{Scheme: AuthBasic, Username: "user", Password: "pass"}, "Basic dXNlcjpwYXNz"},
		{"bearer", Auth{Scheme: AuthBearer, Token: "tok"}, "Bearer tok"},
		{"none", Auth{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := getSpec(srv.URL)
			spec.Auth = tt.auth
			h := NewHTTPHandle()
			defer h.Close()
			res := perform(t, h, spec)
			if string(res.Body) != tt.want {
				t.Errorf("expected %q, got %q", tt.want, res.Body)
			}
		})
	}
}

func TestHTTPHandle_DigestAuth(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		authz := r.Header.Get("Authorization")
		if authz == "" {
			w.Header().Set("WWW-Authenticate", `Digest realm="test", nonce="abc123", qop="auth", opaque="xyz"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasPrefix(authz, "Digest ") || !strings.Contains(authz, `username="alice"`) ||
			!strings.Contains(authz, `opaque="xyz"`) || !strings.Contains(authz, `uri="/secret"`) {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	spec := getSpec(srv.URL + "/secret")
	spec.Auth = Auth{Scheme: AuthDigest, Username: "alice", Password: "pw"}
	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)

	if res.Status != http.StatusOK || string(res.Body) != "ok" {
		t.Fatalf("expected 200 ok, got %d %q", res.Status, res.Body)
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("expected 2 round trips, got %d", n)
	}
}

func TestHTTPHandle_Redirects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/b", http.StatusFound) })
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) { http.Redirect(w, r, "/c", http.StatusFound) })
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "done") })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	t.Run("follow", func(t *testing.T) {
		h := NewHTTPHandle()
		defer h.Close()
		res := perform(t, h, getSpec(srv.URL+"/a"))
		if !res.OK() || string(res.Body) != "done" {
			t.Fatalf("expected done, got %s %q", res.Code, res.Body)
		}
		if res.Redirects != 2 {
			t.Errorf("expected 2 redirects, got %d", res.Redirects)
		}
		if !strings.HasSuffix(res.EffectiveURL, "/c") {
			t.Errorf("unexpected effective url %q", res.EffectiveURL)
		}
	})

	t.Run("no follow", func(t *testing.T) {
		spec := getSpec(srv.URL + "/a")
		spec.Redirect = Redirect{Follow: false}
		h := NewHTTPHandle()
		defer h.Close()
		res := perform(t, h, spec)
		if !res.OK() || res.Status != http.StatusFound {
			t.Fatalf("expected 302, got %d (%s)", res.Status, res.Code)
		}
	})

	t.Run("max hops", func(t *testing.T) {
		spec := getSpec(srv.URL + "/a")
		spec.Redirect = Redirect{Follow: true, MaxHops: 1}
		h := NewHTTPHandle()
		defer h.Close()
		res := perform(t, h, spec)
		if res.Code != CodeTooManyRedirects {
			t.Fatalf("expected too many redirects, got %s: %v", res.Code, res.Err)
		}
	})
}

func TestHTTPHandle_TransferTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	spec := getSpec(srv.URL)
	spec.Timeout = 50 * time.Millisecond
	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)

	if res.Code != CodeOperationTimedOut || res.Phase != PhaseTransfer {
		t.Fatalf("expected transfer timeout, got %s/%s: %v", res.Code, res.Phase, res.Err)
	}
}

func TestHTTPHandle_ConnectTimeout(t *testing.T) {
	blocking := func(ctx context.Context, _, _ string) (net.Conn, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	h := NewHTTPHandleWithDialer(blocking)
	defer h.Close()

	spec := getSpec("http://10.255.255.1:81/")
	spec.ConnectTimeout = 50 * time.Millisecond
	spec.Proxies = map[string]string{"all": ""}
	res := perform(t, h, spec)

	if res.Code != CodeOperationTimedOut || res.Phase != PhaseConnect {
		t.Fatalf("expected connect timeout, got %s/%s: %v", res.Code, res.Phase, res.Err)
	}
	if res.Elapsed < spec.ConnectTimeout {
		t.Errorf("elapsed %s shorter than connect timeout", res.Elapsed)
	}
	if res.Elapsed > spec.ConnectTimeout+500*time.Millisecond {
		t.Errorf("elapsed %s, connect timeout not enforced", res.Elapsed)
	}
}

func TestHTTPHandle_LowSpeed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("x"))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	spec := getSpec(srv.URL)
	spec.LowSpeed = LowSpeed{Limit: 1000, Time: 100 * time.Millisecond}
	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)

	if res.Code != CodeOperationTimedOut || res.Phase != PhaseLowSpeed {
		t.Fatalf("expected low speed abort, got %s/%s: %v", res.Code, res.Phase, res.Err)
	}
	if string(res.Body) != "x" {
		t.Errorf("expected partial body, got %q", res.Body)
	}
}

func TestHTTPHandle_DownloadRateLimit(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 1500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	spec := getSpec(srv.URL)
	spec.LimitRate.Download = 1000
	h := NewHTTPHandle()
	defer h.Close()

	start := time.Now()
	res := perform(t, h, spec)
	if !res.OK() || len(res.Body) != len(payload) {
		t.Fatalf("unexpected result %s, %d bytes", res.Code, len(res.Body))
	}
	// The first 1000 bytes drain the bucket; the rest wait about 500ms.
	if elapsed := time.Since(start); elapsed < 400*time.Millisecond {
		t.Errorf("transfer was not throttled: %s", elapsed)
	}
}

func TestHTTPHandle_CouldntConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, getSpec("http://"+addr+"/"))
	if res.Code != CodeCouldntConnect {
		t.Fatalf("expected couldnt connect, got %s: %v", res.Code, res.Err)
	}
}

func TestHTTPHandle_Resolve(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Host)
	}))
	defer srv.Close()
	_, port, _ := net.SplitHostPort(srv.Listener.Addr().String())

	spec := getSpec("http://service.test:" + port + "/")
	spec.Resolve = map[string]string{"service.test:" + port: srv.Listener.Addr().String()}
	spec.Proxies = map[string]string{"all": ""}
	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)

	if !res.OK() || string(res.Body) != "service.test:"+port {
		t.Fatalf("unexpected result %s %q: %v", res.Code, res.Body, res.Err)
	}
}

func TestHTTPHandle_ReusesConnections(t *testing.T) {
	var mu sync.Mutex
	var remotes []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		remotes = append(remotes, r.RemoteAddr)
		mu.Unlock()
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	h := NewHTTPHandle()
	defer h.Close()
	for i := 0; i < 3; i++ {
		res := perform(t, h, getSpec(srv.URL))
		if !res.OK() {
			t.Fatalf("request %d failed: %v", i, res.Err)
		}
		h.Reset()
	}

	mu.Lock()
	defer mu.Unlock()
	for _, r := range remotes[1:] {
		if r != remotes[0] {
			t.Fatalf("expected one warm connection, saw %v", remotes)
		}
	}
}

func TestHTTPHandle_HTTP2PriorKnowledge(t *testing.T) {
	srv := httptest.NewServer(h2c.NewHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, r.Proto)
	}), &http2.Server{}))
	defer srv.Close()

	spec := getSpec(srv.URL)
	spec.HTTPVersion = HTTPVersion2PriorKnowledge
	h := NewHTTPHandle()
	defer h.Close()
	res := perform(t, h, spec)

	if !res.OK() || string(res.Body) != "HTTP/2.0" {
		t.Fatalf("expected HTTP/2.0, got %s %q: %v", res.Code, res.Body, res.Err)
	}
}

func TestHTTPHandle_AbortBeforePerform(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	h := NewHTTPHandle()
	defer h.Close()
	if err := h.Configure(getSpec(srv.URL)); err != nil {
		t.Fatal(err)
	}
	h.Abort()
	res := h.Perform(context.Background())
	if res.Code != CodeAbortedByCallback {
		t.Fatalf("expected aborted, got %s", res.Code)
	}

	h.Reset()
	res = perform(t, h, getSpec(srv.URL))
	if !res.OK() {
		t.Fatalf("Reset should clear the pending abort, got %s", res.Code)
	}
}

func TestHTTPHandle_ConfigureErrors(t *testing.T) {
	h := NewHTTPHandle()
	if res := h.Perform(context.Background()); !errors.Is(res.Err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", res.Err)
	}

	bad := []Spec{
		{Method: "GET", URL: "ftp://example.com"},
		{Method: "", URL: "http://example.com"},
		{Method: "GET", URL: "http://example.com", Timeout: -1},
		{Method: "GET", URL: "http://example.com", Auth: Auth{Scheme: AuthDigest}},
		{Method: "GET", URL: "http://example.com", TLS: &TLSConfig{CertFile: "a.pem"}},
	}
	for i, spec := range bad {
		err := h.Configure(spec)
		if err == nil {
			t.Errorf("case %d: expected error", i)
			continue
		}
		if code := ConfigureCode(err); code != CodeBadFunctionArgument {
			t.Errorf("case %d: expected bad argument, got %s", i, code)
		}
	}

	spec := getSpec("https://example.com")
	spec.TLS = &TLSConfig{CAFile: "/nonexistent/ca.pem"}
	err := h.Configure(spec)
	if code := ConfigureCode(err); code != CodeSSLCACertBadFile {
		t.Errorf("expected CA bad file, got %s (%v)", code, err)
	}

	_ = h.Close()
	if err := h.Configure(getSpec("http://example.com")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHTTPHandle_RegisterEmitsOrderedEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-One", "1")
		fmt.Fprint(w, "async body")
	}))
	defer srv.Close()

	h := NewHTTPHandle()
	defer h.Close()
	if err := h.Configure(getSpec(srv.URL)); err != nil {
		t.Fatal(err)
	}

	m := NewMultiplexer()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Add(ctx, h); err != nil {
		t.Fatal(err)
	}

	var events []Event
	for len(events) == 0 || events[len(events)-1].Kind != EventDone {
		ready, err := m.Wait(ctx)
		if err != nil {
			t.Fatalf("Wait: %v", err)
		}
		for _, r := range ready {
			events = append(events, r.Poll()...)
		}
	}

	var body bytes.Buffer
	seenData := false
	for i, ev := range events {
		switch ev.Kind {
		case EventHeader:
			if seenData {
				t.Errorf("header event %d after data", i)
			}
		case EventData:
			seenData = true
			body.Write(ev.Data)
		case EventDone:
			if i != len(events)-1 {
				t.Errorf("done event at %d of %d", i, len(events))
			}
		}
	}
	if !strings.HasPrefix(string(events[0].Data), "HTTP/1.1 200") {
		t.Errorf("first event should be the status line, got %q", events[0].Data)
	}
	if body.String() != "async body" {
		t.Errorf("unexpected body %q", body.String())
	}
	done := events[len(events)-1].Result
	if done == nil || !done.OK() || done.Status != 200 || done.Body != nil {
		t.Errorf("unexpected final result %+v", done)
	}
}

func TestOrderedHeaderSortsNamesKeepsValueOrder(t *testing.T) {
	h := http.Header{
		"X-Zeta":     {"1"},
		"Set-Cookie": {"b=2", "a=1"},
		"Accept":     {"*/*"},
	}
	got := orderedHeader(h)
	want := []HeaderField{
		{Name: "Accept", Value: "*/*"},
		{Name: "Set-Cookie", Value: "b=2"},
		{Name: "Set-Cookie", Value: "a=1"},
		{Name: "X-Zeta", Value: "1"},
	}
	if len(got) != len(want) {
		t.Fatalf("got %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field %d = %v, want %v", i, got[i], want[i])
		}
	}
}
