package httpclient

import "net/http"

// StatusClass groups HTTP status codes by their first digit.
type StatusClass int

const (
	StatusUnknown StatusClass = iota
	StatusInformational
	StatusSuccess
	StatusRedirect
	StatusClientError
	StatusServerError
)

// String returns the class name.
func (c StatusClass) String() string {
	switch c {
	case StatusInformational:
		return "informational"
	case StatusSuccess:
		return "success"
	case StatusRedirect:
		return "redirect"
	case StatusClientError:
		return "client_error"
	case StatusServerError:
		return "server_error"
	default:
		return "unknown"
	}
}

// ClassifyStatus returns the class of an HTTP status code.
func ClassifyStatus(code int) StatusClass {
	switch {
	case code >= 100 && code < 200:
		return StatusInformational
	case code >= 200 && code < 300:
		return StatusSuccess
	case code >= 300 && code < 400:
		return StatusRedirect
	case code >= 400 && code < 500:
		return StatusClientError
	case code >= 500 && code < 600:
		return StatusServerError
	default:
		return StatusUnknown
	}
}

// IsRetryableStatus reports whether a request that got code may succeed when
// repeated: 408, 429 and every 5xx except 501.
func IsRetryableStatus(code int) bool {
	switch code {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	case http.StatusNotImplemented:
		return false
	}
	return ClassifyStatus(code) == StatusServerError
}
