package transport

import (
	"crypto/md5" //nolint:gosec // RFC 7616 MD5 digest
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"
)

// digestChallenge holds the parameters of a WWW-Authenticate: Digest header.
type digestChallenge struct {
	Realm     string
	Nonce     string
	Opaque    string
	Algorithm string
	Qop       string
}

// parseDigestChallenge parses a Digest challenge. ok is false for other schemes.
func parseDigestChallenge(header string) (digestChallenge, bool) {
	const prefix = "digest "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return digestChallenge{}, false
	}
	params := parseAuthParams(header[len(prefix):])

	ch := digestChallenge{
		Realm:     params["realm"],
		Nonce:     params["nonce"],
		Opaque:    params["opaque"],
		Algorithm: params["algorithm"],
	}
	// Prefer "auth" when the server offers several qop values.
	for _, q := range strings.Split(params["qop"], ",") {
		q = strings.TrimSpace(q)
		if q == "auth" {
			ch.Qop = q
			break
		}
		if ch.Qop == "" {
			ch.Qop = q
		}
	}
	return ch, ch.Nonce != ""
}

// parseAuthParams splits key=value pairs, honouring quoted commas.
func parseAuthParams(s string) map[string]string {
	out := make(map[string]string)
	var parts []string
	var cur strings.Builder
	quoted := false
	for _, r := range s {
		switch {
		case r == '"':
			quoted = !quoted
			cur.WriteRune(r)
		case r == ',' && !quoted:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	parts = append(parts, cur.String())

	for _, part := range parts {
		part = strings.TrimSpace(part)
		idx := strings.IndexByte(part, '=')
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(part[:idx]))
		out[key] = strings.Trim(strings.TrimSpace(part[idx+1:]), `"`)
	}
	return out
}

// authorization builds the Authorization header answering the challenge.
func (ch digestChallenge) authorization(username, password, method, uri string) (string, error) {
	newHash := md5.New
	algorithm := strings.ToUpper(ch.Algorithm)
	switch algorithm {
	case "", "MD5":
	case "SHA-256":
		newHash = sha256.New
	default:
		return "", fmt.Errorf("transport: unsupported digest algorithm %q", ch.Algorithm)
	}
	h := func(s string) string { return hashHex(newHash, s) }

	ha1 := h(username + ":" + ch.Realm + ":" + password)
	ha2 := h(method + ":" + uri)

	parts := []string{
		fmt.Sprintf(`username="%s"`, username),
		fmt.Sprintf(`realm="%s"`, ch.Realm),
		fmt.Sprintf(`nonce="%s"`, ch.Nonce),
		fmt.Sprintf(`uri="%s"`, uri),
	}

	var response string
	if ch.Qop != "" {
		cnonce, err := newCnonce()
		if err != nil {
			return "", err
		}
		const nc = "00000001"
		response = h(strings.Join([]string{ha1, ch.Nonce, nc, cnonce, ch.Qop, ha2}, ":"))
		parts = append(parts,
			fmt.Sprintf(`qop=%s`, ch.Qop),
			fmt.Sprintf(`nc=%s`, nc),
			fmt.Sprintf(`cnonce="%s"`, cnonce),
		)
	} else {
		response = h(ha1 + ":" + ch.Nonce + ":" + ha2)
	}
	parts = append(parts, fmt.Sprintf(`response="%s"`, response))

	if algorithm != "" {
		parts = append(parts, "algorithm="+algorithm)
	}
	if ch.Opaque != "" {
		parts = append(parts, fmt.Sprintf(`opaque="%s"`, ch.Opaque))
	}
	return "Digest " + strings.Join(parts, ", "), nil
}

func newCnonce() (string, error) {
	b := make([]byte, 8)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

func hashHex(newHash func() hash.Hash, s string) string {
	hh := newHash()
	hh.Write([]byte(s))
	return hex.EncodeToString(hh.Sum(nil))
}
