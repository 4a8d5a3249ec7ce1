package transport

import "fmt"

// Code is the transport-native outcome of a transfer. Values follow libcurl's
// CURLcode numbering so logs line up with curl tooling.
type Code int

const (
	CodeOK                     Code = 0
	CodeUnsupportedProtocol    Code = 1
	CodeURLMalformat           Code = 3
	CodeCouldntResolveProxy    Code = 5
	CodeCouldntResolveHost     Code = 6
	CodeCouldntConnect         Code = 7
	CodeWeirdServerReply       Code = 8
	CodeHTTP2                  Code = 16
	CodeReadError              Code = 26
	CodeOperationTimedOut      Code = 28
	CodeSSLConnectError        Code = 35
	CodeAbortedByCallback      Code = 42
	CodeBadFunctionArgument    Code = 43
	CodeTooManyRedirects       Code = 47
	CodeUnknownOption          Code = 48
	CodeGotNothing             Code = 52
	CodeSendError              Code = 55
	CodeRecvError              Code = 56
	CodeSSLCertProblem         Code = 58
	CodePeerFailedVerification Code = 60
	CodeSSLCACertBadFile       Code = 77
)

var codeNames = map[Code]string{
	CodeOK:                     "ok",
	CodeUnsupportedProtocol:    "unsupported_protocol",
	CodeURLMalformat:           "url_malformat",
	CodeCouldntResolveProxy:    "couldnt_resolve_proxy",
	CodeCouldntResolveHost:     "couldnt_resolve_host",
	CodeCouldntConnect:         "couldnt_connect",
	CodeWeirdServerReply:       "weird_server_reply",
	CodeHTTP2:                  "http2",
	CodeReadError:              "read_error",
	CodeOperationTimedOut:      "operation_timedout",
	CodeSSLConnectError:        "ssl_connect_error",
	CodeAbortedByCallback:      "aborted_by_callback",
	CodeBadFunctionArgument:    "bad_function_argument",
	CodeTooManyRedirects:       "too_many_redirects",
	CodeUnknownOption:          "unknown_option",
	CodeGotNothing:             "got_nothing",
	CodeSendError:              "send_error",
	CodeRecvError:              "recv_error",
	CodeSSLCertProblem:         "ssl_certproblem",
	CodePeerFailedVerification: "peer_failed_verification",
	CodeSSLCACertBadFile:       "ssl_cacert_badfile",
}

// String returns the code name.
func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code_%d", int(c))
}
