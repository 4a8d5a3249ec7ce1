package httpclient

import (
	"errors"
	"fmt"

	"github.com/kbukum/fetchkit/transport"
)

// ErrorCode classifies request failures.
type ErrorCode int

const (
	// ErrCodeResolve indicates the host (or proxy) name could not be resolved.
	ErrCodeResolve ErrorCode = iota
	// ErrCodeConnect indicates a TCP connect or TLS handshake failure.
	ErrCodeConnect
	// ErrCodeTimeout indicates a timer fired. Phase says which one.
	ErrCodeTimeout
	// ErrCodeTransport indicates an I/O failure in the middle of a transfer.
	ErrCodeTransport
	// ErrCodeProtocol indicates a malformed response or a redirect loop.
	ErrCodeProtocol
	// ErrCodeCancelled indicates the caller cancelled the transfer.
	ErrCodeCancelled
	// ErrCodeInvalidRequest indicates a local configuration error caught
	// before any network activity.
	ErrCodeInvalidRequest
	// ErrCodeStatus indicates a completed transfer with a 4xx or 5xx status.
	ErrCodeStatus
)

// String returns the error code name.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeResolve:
		return "resolve"
	case ErrCodeConnect:
		return "connect"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeTransport:
		return "transport"
	case ErrCodeProtocol:
		return "protocol"
	case ErrCodeCancelled:
		return "cancelled"
	case ErrCodeInvalidRequest:
		return "invalid_request"
	case ErrCodeStatus:
		return "status"
	default:
		return "unknown"
	}
}

// TimeoutPhase tells which timer produced an ErrCodeTimeout.
type TimeoutPhase int

const (
	TimeoutNone TimeoutPhase = iota
	// TimeoutConnect fired before the connection was established.
	TimeoutConnect
	// TimeoutTransfer is the whole-request timeout.
	TimeoutTransfer
	// TimeoutLowSpeed is the low-speed abort.
	TimeoutLowSpeed
)

// String returns the phase name.
func (p TimeoutPhase) String() string {
	switch p {
	case TimeoutConnect:
		return "connect"
	case TimeoutTransfer:
		return "transfer"
	case TimeoutLowSpeed:
		return "low_speed"
	default:
		return "none"
	}
}

// Sentinel errors.
var (
	ErrSessionClosed   = errors.New("httpclient: session is closed")
	ErrSessionInFlight = errors.New("httpclient: session already has a transfer in flight")
	ErrTokenPending    = errors.New("httpclient: transfer is still pending")
	ErrUnknownToken    = errors.New("httpclient: unknown transfer token")
	ErrEngineRunning   = errors.New("httpclient: multi perform engine is running")
)

// Error is a structured request error.
type Error struct {
	// Code classifies the error.
	Code ErrorCode
	// Phase is set for ErrCodeTimeout.
	Phase TimeoutPhase
	// Native is the transport code the error was translated from.
	Native transport.Code
	// StatusCode is the HTTP status for ErrCodeStatus.
	StatusCode int
	// Message describes the error.
	Message string
	// Retryable indicates whether repeating the request may succeed.
	Retryable bool
	// Body is the response body for ErrCodeStatus.
	Body []byte
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.StatusCode > 0:
		return fmt.Sprintf("httpclient: %s (HTTP %d): %s", e.Code, e.StatusCode, e.Message)
	case e.Code == ErrCodeTimeout && e.Phase != TimeoutNone:
		return fmt.Sprintf("httpclient: %s (%s): %s", e.Code, e.Phase, e.Message)
	default:
		return fmt.Sprintf("httpclient: %s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewInvalidRequestError creates a local configuration error.
func NewInvalidRequestError(err error) *Error {
	return &Error{
		Code:    ErrCodeInvalidRequest,
		Native:  transport.ConfigureCode(err),
		Message: err.Error(),
		Err:     err,
	}
}

// NewCancelledError creates a cancellation error.
func NewCancelledError(err error) *Error {
	if err == nil {
		err = errors.New("transfer cancelled")
	}
	return &Error{
		Code:    ErrCodeCancelled,
		Native:  transport.CodeAbortedByCallback,
		Message: err.Error(),
		Err:     err,
	}
}

// NewStatusError creates an error for a completed transfer with a bad status.
func NewStatusError(statusCode int, body []byte) *Error {
	return &Error{
		Code:       ErrCodeStatus,
		StatusCode: statusCode,
		Message:    fmt.Sprintf("HTTP %d", statusCode),
		Retryable:  IsRetryableStatus(statusCode),
		Body:       body,
	}
}

// newTransportError translates a failed transfer result. It is the only
// place transport codes become ErrorCodes.
func newTransportError(res transport.Result) *Error {
	if res.OK() {
		return nil
	}
	code, phase, retryable := translateCode(res.Code, res.Phase)
	msg := res.Code.String()
	if res.Err != nil {
		msg = res.Err.Error()
	}
	return &Error{
		Code:      code,
		Phase:     phase,
		Native:    res.Code,
		Message:   msg,
		Retryable: retryable,
		Err:       res.Err,
	}
}

func translateCode(c transport.Code, p transport.Phase) (ErrorCode, TimeoutPhase, bool) {
	switch c {
	case transport.CodeCouldntResolveHost, transport.CodeCouldntResolveProxy:
		return ErrCodeResolve, TimeoutNone, false
	case transport.CodeCouldntConnect:
		return ErrCodeConnect, TimeoutNone, true
	case transport.CodeSSLConnectError, transport.CodePeerFailedVerification,
		transport.CodeSSLCertProblem, transport.CodeSSLCACertBadFile:
		return ErrCodeConnect, TimeoutNone, false
	case transport.CodeOperationTimedOut:
		return ErrCodeTimeout, translatePhase(p), true
	case transport.CodeSendError, transport.CodeRecvError, transport.CodeReadError,
		transport.CodeGotNothing, transport.CodeHTTP2:
		return ErrCodeTransport, TimeoutNone, true
	case transport.CodeWeirdServerReply, transport.CodeTooManyRedirects:
		return ErrCodeProtocol, TimeoutNone, false
	case transport.CodeAbortedByCallback:
		return ErrCodeCancelled, TimeoutNone, false
	case transport.CodeUnsupportedProtocol, transport.CodeURLMalformat,
		transport.CodeBadFunctionArgument, transport.CodeUnknownOption:
		return ErrCodeInvalidRequest, TimeoutNone, false
	default:
		return ErrCodeTransport, TimeoutNone, false
	}
}

func translatePhase(p transport.Phase) TimeoutPhase {
	switch p {
	case transport.PhaseConnect:
		return TimeoutConnect
	case transport.PhaseLowSpeed:
		return TimeoutLowSpeed
	default:
		return TimeoutTransfer
	}
}

// hasCode reports whether err is a non-nil *Error with code. Response.Err
// returns a nil *Error on success, which arrives here as a non-nil error.
func hasCode(err error, code ErrorCode) bool {
	var e *Error
	return errors.As(err, &e) && e != nil && e.Code == code
}

// IsResolve checks if an error is a name resolution error.
func IsResolve(err error) bool { return hasCode(err, ErrCodeResolve) }

// IsConnect checks if an error is a connect or TLS handshake error.
func IsConnect(err error) bool { return hasCode(err, ErrCodeConnect) }

// IsTimeout checks if an error is a timeout error.
func IsTimeout(err error) bool { return hasCode(err, ErrCodeTimeout) }

// IsTransport checks if an error is a mid-transfer I/O error.
func IsTransport(err error) bool { return hasCode(err, ErrCodeTransport) }

// IsProtocol checks if an error is a protocol error.
func IsProtocol(err error) bool { return hasCode(err, ErrCodeProtocol) }

// IsCancelled checks if an error is a cancellation.
func IsCancelled(err error) bool { return hasCode(err, ErrCodeCancelled) }

// IsInvalidRequest checks if an error is a local configuration error.
func IsInvalidRequest(err error) bool { return hasCode(err, ErrCodeInvalidRequest) }

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e != nil && e.Retryable
}
