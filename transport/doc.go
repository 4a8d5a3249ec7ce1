// Package transport is the low-level transfer layer behind httpclient.
//
// A Handle owns one reusable transfer context: a Spec describing the request,
// the warm connections it keeps between transfers, and the timers that bound
// a transfer. Handles run in two modes:
//
//   - Perform blocks the caller and returns a Result with the collected body.
//   - Register starts the transfer in the background. Progress is queued as
//     Events and announced to a Notifier, normally a Multiplexer.
//
// Failures are reported as a Code (numbered like libcurl's CURLcode) together
// with a Phase that tells connect, transfer and low-speed timeouts apart.
//
// # Basic Usage
//
//	h := transport.NewHTTPHandle()
//	defer h.Close()
//
//	if err := h.Configure(transport.Spec{Method: "GET", URL: "https://example.com"}); err != nil {
//	    return err
//	}
//	res := h.Perform(ctx)
//	if !res.OK() {
//	    log.Printf("transfer failed: %s (%v)", res.Code, res.Err)
//	}
package transport
