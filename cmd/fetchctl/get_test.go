package main

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Reply", "yes")
		if r.URL.Path == "/missing" {
			w.WriteHeader(http.StatusNotFound)
		}
		fmt.Fprintf(w, "%s q=%s h=%s ct=%s body=%s",
			r.Method, r.URL.Query().Get("q"), r.Header.Get("X-Test"), r.Header.Get("Content-Type"), body)
	})
}

func TestGetCmd_PrintsBody(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	out, _, err := executeCmd(t, "get", srv.URL+"/", "-H", "X-Test: one", "-p", "q=search")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "GET q=search h=one ct= body="; out != want {
		t.Errorf("out = %q, want %q", out, want)
	}
}

func TestGetCmd_Include(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	out, _, err := executeCmd(t, "get", srv.URL+"/", "-i")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "200 OK\n") {
		t.Errorf("missing status line in %q", out)
	}
	if !strings.Contains(out, "X-Reply: yes\n") {
		t.Errorf("missing header in %q", out)
	}
	if !strings.HasSuffix(out, "\n\nGET q= h= ct= body=") {
		t.Errorf("body not after blank line: %q", out)
	}
}

func TestGetCmd_DataDefaultsToPost(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	out, _, err := executeCmd(t, "get", srv.URL+"/", "--json", "-d", `{"a":1}`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := `POST q= h= ct=application/json body={"a":1}`; out != want {
		t.Errorf("out = %q, want %q", out, want)
	}
}

func TestGetCmd_DataFromFile(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	path := writeFile(t, "body.txt", "from-file")
	out, _, err := executeCmd(t, "get", srv.URL+"/", "-X", "put", "-d", "@"+path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := "PUT q= h= ct= body=from-file"; out != want {
		t.Errorf("out = %q, want %q", out, want)
	}
}

func TestGetCmd_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"header without colon", []string{"-H", "NoColon"}},
		{"param without equals", []string{"-p", "novalue"}},
		{"invalid json", []string{"--json", "-d", "{"}},
		{"missing body file", []string{"-d", "@/does/not/exist"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			args := append([]string{"get", "http://127.0.0.1:1/"}, tc.args...)
			_, _, err := executeCmd(t, args...)
			if exitCode(err) != ExitUsageError {
				t.Fatalf("exit code = %d (%v), want %d", exitCode(err), err, ExitUsageError)
			}
		})
	}
}

func TestGetCmd_InvalidURL(t *testing.T) {
	_, _, err := executeCmd(t, "get", "ftp://example.com/")
	if exitCode(err) != ExitUsageError {
		t.Fatalf("exit code = %d (%v), want %d", exitCode(err), err, ExitUsageError)
	}
}

func TestGetCmd_Fail(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	if _, _, err := executeCmd(t, "get", srv.URL+"/missing"); err != nil {
		t.Fatalf("without --fail: unexpected error %v", err)
	}
	_, _, err := executeCmd(t, "get", srv.URL+"/missing", "--fail")
	if exitCode(err) != ExitRequestFailure {
		t.Fatalf("exit code = %d (%v), want %d", exitCode(err), err, ExitRequestFailure)
	}
}

func TestGetCmd_NetworkError(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	url := srv.URL + "/"
	srv.Close()

	_, errOut, err := executeCmd(t, "get", url)
	if exitCode(err) != ExitNetworkError {
		t.Fatalf("exit code = %d (%v), want %d", exitCode(err), err, ExitNetworkError)
	}
	if !strings.Contains(errOut, "failed") {
		t.Errorf("stderr = %q", errOut)
	}
}

func TestGetCmd_ConfigHeadersAndRetry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintf(w, "h=%s", r.Header.Get("X-Test"))
	}))
	defer srv.Close()

	cfg := writeFile(t, "fetchctl.yml", `
client:
  headers:
    X-Test: from-config
retry:
  max_attempts: 3
  initial_interval: 1ms
  max_interval: 2ms
`)
	out, _, err := executeCmd(t, "get", srv.URL+"/", "--config", cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out != "h=from-config" {
		t.Errorf("out = %q", out)
	}
	if n := calls.Load(); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestGetCmd_Metrics(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	_, errOut, err := executeCmd(t, "get", srv.URL+"/", "--metrics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{
		`fetchkit_pool_misses_total{pool="fetchctl"} 1`,
		`fetchkit_pool_releases_total{pool="fetchctl"} 1`,
	} {
		if !strings.Contains(errOut, want) {
			t.Errorf("metrics output missing %q:\n%s", want, errOut)
		}
	}
}

func TestParseHeader(t *testing.T) {
	name, value, err := parseHeader("  Accept :  text/plain ")
	if err != nil || name != "Accept" || value != "text/plain" {
		t.Errorf("parseHeader = %q, %q, %v", name, value, err)
	}
	if _, _, err := parseHeader(": x"); err == nil {
		t.Error("expected error for empty name")
	}
}
