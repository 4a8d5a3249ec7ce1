package main

import "strconv"

// Exit codes for fetchctl.
const (
	// ExitSuccess means every request completed.
	ExitSuccess = 0

	// ExitRequestFailure means a request got a 4xx/5xx with --fail.
	ExitRequestFailure = 1

	// ExitParseError means a batch file could not be parsed.
	ExitParseError = 2

	// ExitConfigError means the configuration could not be loaded.
	ExitConfigError = 3

	// ExitNetworkError means a transfer failed before a response arrived.
	ExitNetworkError = 4

	// ExitUsageError means invalid CLI usage.
	ExitUsageError = 64
)

// exitError carries a process exit code up to main. A nil err means the
// command already reported the problem.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string {
	if e.err == nil {
		return "exit status " + strconv.Itoa(e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func exitWith(code int, err error) error {
	return &exitError{code: code, err: err}
}
