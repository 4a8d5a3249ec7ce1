package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"strings"

	"golang.org/x/net/http2"
)

var errTooManyRedirects = errors.New("transport: maximum redirects followed")

// connectTimeoutError marks a dial that ran out of its connect budget.
type connectTimeoutError struct{ err error }

func (e *connectTimeoutError) Error() string   { return "transport: connect timeout: " + e.err.Error() }
func (e *connectTimeoutError) Unwrap() error   { return e.err }
func (e *connectTimeoutError) Timeout() bool   { return true }
func (e *connectTimeoutError) Temporary() bool { return true }

// stage is where in the transfer a failure happened.
type stage int

const (
	stageRequest stage = iota
	stageBody
)

// classify maps a Go error into a native code. ctx is the transfer context,
// so its cause tells our own aborts apart from network failures.
func classify(ctx context.Context, err error, st stage) (Code, Phase) {
	var cte *connectTimeoutError
	if errors.As(err, &cte) {
		return CodeOperationTimedOut, PhaseConnect
	}

	if cause := context.Cause(ctx); cause != nil {
		switch {
		case errors.Is(cause, errLowSpeed):
			return CodeOperationTimedOut, PhaseLowSpeed
		case errors.Is(cause, errTransferTimeout), errors.Is(cause, context.DeadlineExceeded):
			return CodeOperationTimedOut, PhaseTransfer
		case errors.Is(cause, errAborted), errors.Is(cause, context.Canceled):
			return CodeAbortedByCallback, PhaseNone
		}
	}

	if errors.Is(err, errTooManyRedirects) {
		return CodeTooManyRedirects, PhaseNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CodeCouldntResolveHost, PhaseNone
	}

	if code, ok := classifyTLS(err); ok {
		return code, PhaseNone
	}
	if strings.Contains(err.Error(), "TLS handshake timeout") {
		return CodeOperationTimedOut, PhaseConnect
	}

	var se http2.StreamError
	var ce http2.ConnectionError
	var ge http2.GoAwayError
	if errors.As(err, &se) || errors.As(err, &ce) || errors.As(err, &ge) {
		return CodeHTTP2, PhaseNone
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "unsupported protocol scheme"):
		return CodeUnsupportedProtocol, PhaseNone
	case strings.Contains(msg, "malformed HTTP"), strings.Contains(msg, "invalid content-length"),
		strings.Contains(msg, "bad chunked"), strings.Contains(msg, "invalid byte in chunk length"):
		return CodeWeirdServerReply, PhaseNone
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch opErr.Op {
		case "dial":
			if opErr.Timeout() {
				return CodeOperationTimedOut, PhaseConnect
			}
			return CodeCouldntConnect, PhaseNone
		case "read":
			return CodeRecvError, PhaseNone
		case "write":
			return CodeSendError, PhaseNone
		case "proxyconnect":
			return CodeCouldntConnect, PhaseNone
		}
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		if st == stageRequest {
			return CodeGotNothing, PhaseNone
		}
		return CodeRecvError, PhaseNone
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeOperationTimedOut, PhaseTransfer
	}

	if st == stageBody {
		return CodeRecvError, PhaseNone
	}
	return CodeSendError, PhaseNone
}

func classifyTLS(err error) (Code, bool) {
	var unknownAuth x509.UnknownAuthorityError
	var hostErr x509.HostnameError
	var invalid x509.CertificateInvalidError
	var verifyErr *tls.CertificateVerificationError
	switch {
	case errors.As(err, &unknownAuth), errors.As(err, &hostErr), errors.As(err, &invalid), errors.As(err, &verifyErr):
		return CodePeerFailedVerification, true
	}

	var recErr tls.RecordHeaderError
	var alert tls.AlertError
	if errors.As(err, &recErr) || errors.As(err, &alert) {
		return CodeSSLConnectError, true
	}
	if strings.Contains(err.Error(), "tls: ") {
		return CodeSSLConnectError, true
	}
	return CodeOK, false
}

// ConfigureCode returns the native code for an error returned by Configure.
func ConfigureCode(err error) Code {
	var ca *caError
	var cert *certError
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &ca):
		return CodeSSLCACertBadFile
	case errors.As(err, &cert):
		return CodeSSLCertProblem
	default:
		return CodeBadFunctionArgument
	}
}
