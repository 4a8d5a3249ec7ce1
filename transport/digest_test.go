package transport

import (
	"crypto/md5" //nolint:gosec // RFC 7616 test vector
	"encoding/hex"
	"strings"
	"testing"
)

func TestParseDigestChallenge(t *testing.T) {
	ch, ok := parseDigestChallenge(`Digest realm="api, v2", nonce="n1", qop="auth-int,auth", algorithm=SHA-256`)
	if !ok {
		t.Fatal("expected a digest challenge")
	}
	if ch.Realm != "api, v2" {
		t.Errorf("quoted comma not honoured: %q", ch.Realm)
	}
	if ch.Qop != "auth" {
		t.Errorf("expected qop auth, got %q", ch.Qop)
	}
	if ch.Algorithm != "SHA-256" || ch.Nonce != "n1" {
		t.Errorf("unexpected challenge %+v", ch)
	}

	if _, ok := parseDigestChallenge(`Basic realm="x"`); ok {
		t.Error("basic challenge should not parse as digest")
	}
	if _, ok := parseDigestChallenge(`Digest realm="x"`); ok {
		t.Error("challenge without nonce should be rejected")
	}
}

func TestDigestAuthorization_NoQop(t *testing.T) {
	ch := digestChallenge{Realm: "r", Nonce: "n"}
	got, err := ch.authorization("u", "p", "GET", "/x")
	if err != nil {
		t.Fatal(err)
	}

	md := func(s string) string {
		sum := md5.Sum([]byte(s)) //nolint:gosec
		return hex.EncodeToString(sum[:])
	}
	want := md(md("u:r:p") + ":n:" + md("GET:/x"))
	if !strings.Contains(got, `response="`+want+`"`) {
		t.Errorf("unexpected header %q, want response %s", got, want)
	}
	if strings.Contains(got, "qop=") {
		t.Errorf("qop should be absent: %q", got)
	}
}

func TestDigestAuthorization_UnsupportedAlgorithm(t *testing.T) {
	ch := digestChallenge{Nonce: "n", Algorithm: "SHA-512-256"}
	if _, err := ch.authorization("u", "p", "GET", "/"); err == nil {
		t.Error("expected error for unsupported algorithm")
	}
}
