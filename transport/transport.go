package transport

import (
	"context"
	"errors"
	"time"
)

// Common transport errors.
var (
	ErrNotConfigured = errors.New("transport: handle is not configured")
	ErrBusy          = errors.New("transport: handle has a transfer in progress")
	ErrClosed        = errors.New("transport: handle is closed")
	ErrAlreadyAdded  = errors.New("transport: handle already added to multiplexer")
	ErrNotAdded      = errors.New("transport: handle not added to multiplexer")
)

// Handle is one stateful transfer context. Configuring it is cheap; Perform
// and Register start the expensive part.
//
// A Handle is used by one goroutine at a time. Abort is the exception and may
// be called from anywhere.
type Handle interface {
	// Configure replaces the handle's transfer description. It validates the
	// spec but never touches the network.
	Configure(spec Spec) error
	// Perform runs the configured transfer on the calling goroutine. Spec
	// callbacks are invoked on that goroutine.
	Perform(ctx context.Context) Result
	// Register starts the configured transfer asynchronously. The handle
	// queues events and calls n.Ready whenever Poll has something to return.
	// Spec callbacks are not invoked in this mode.
	Register(ctx context.Context, n Notifier) error
	// Poll drains queued events in the order they happened.
	Poll() []Event
	// Abort best-effort cancels the running transfer.
	Abort()
	// Reset clears the transfer description and queued events but keeps
	// warm connections.
	Reset()
	// Close aborts any transfer and releases pooled connections.
	Close() error
}

// Factory creates fresh handles.
type Factory func() Handle

// Notifier is told when a registered handle has events ready.
type Notifier interface {
	Ready(h Handle)
}

// Multiplexer waits on many registered handles at once.
type Multiplexer interface {
	// Add registers h and starts its transfer.
	Add(ctx context.Context, h Handle) error
	// Remove forgets h. Pending readiness for h is dropped.
	Remove(h Handle) error
	// Wait blocks until at least one handle is ready, Wakeup is called, or
	// ctx ends. It returns the ready handles without duplicates.
	Wait(ctx context.Context) ([]Handle, error)
	// Wakeup makes a blocked Wait return early with no handles.
	Wakeup()
}

// HeaderField is a single header line.
type HeaderField struct {
	Name  string
	Value string
}

// EventKind identifies an async transfer event.
type EventKind int

const (
	// EventHeader carries one raw header line, status line included.
	EventHeader EventKind = iota
	// EventData carries one body chunk.
	EventData
	// EventDone carries the final Result. It is always the last event.
	EventDone
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventHeader:
		return "header"
	case EventData:
		return "data"
	case EventDone:
		return "done"
	default:
		return "unknown"
	}
}

// Event is a single step of an async transfer.
type Event struct {
	Kind   EventKind
	Data   []byte
	Result *Result
}

// Phase says which timer fired for CodeOperationTimedOut.
type Phase int

const (
	PhaseNone Phase = iota
	PhaseConnect
	PhaseTransfer
	PhaseLowSpeed
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseConnect:
		return "connect"
	case PhaseTransfer:
		return "transfer"
	case PhaseLowSpeed:
		return "low_speed"
	default:
		return "none"
	}
}

// Result is the outcome of one transfer. Body is nil for async transfers;
// the body arrives through EventData.
type Result struct {
	Status       int
	Proto        string
	Header       []HeaderField
	Body         []byte
	EffectiveURL string
	Redirects    int
	Elapsed      time.Duration

	// Code is the native outcome code; CodeOK on success.
	Code Code
	// Phase is set when Code is CodeOperationTimedOut.
	Phase Phase
	// Err is the underlying Go error, nil on success.
	Err error
}

// OK reports whether the transfer finished without a transport failure.
func (r *Result) OK() bool {
	return r.Code == CodeOK
}
