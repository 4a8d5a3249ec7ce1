package interceptor

import (
	"context"
	"errors"
	"time"

	"github.com/kbukum/fetchkit/httpclient"
	"github.com/kbukum/fetchkit/transport"
)

// Bulkhead rejection causes, wrapped by the response error.
var (
	ErrBulkheadFull    = errors.New("interceptor: bulkhead is full")
	ErrBulkheadTimeout = errors.New("interceptor: bulkhead wait timeout")
)

// Bulkhead caps the number of requests in flight across every session it is
// registered on.
type Bulkhead struct {
	sem     chan struct{}
	maxWait time.Duration
}

var _ httpclient.Interceptor = (*Bulkhead)(nil)

// NewBulkhead allows maxConcurrent requests at once. A request that finds
// no free slot waits up to maxWait; zero fails it immediately.
func NewBulkhead(maxConcurrent int, maxWait time.Duration) *Bulkhead {
	if maxConcurrent <= 0 {
		maxConcurrent = 10
	}
	return &Bulkhead{sem: make(chan struct{}, maxConcurrent), maxWait: maxWait}
}

// Intercept implements httpclient.Interceptor.
func (b *Bulkhead) Intercept(ctx context.Context, req *httpclient.Request, next httpclient.Next) *httpclient.Response {
	if err := b.acquire(ctx); err != nil {
		if ctx.Err() != nil {
			return httpclient.ErrorResponse(req, httpclient.NewCancelledError(err))
		}
		return httpclient.ErrorResponse(req, &httpclient.Error{
			Code:      httpclient.ErrCodeTransport,
			Native:    transport.CodeAbortedByCallback,
			Message:   err.Error(),
			Retryable: true,
			Err:       err,
		})
	}
	defer func() { <-b.sem }()
	return next(ctx, req)
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}
	if b.maxWait <= 0 {
		return ErrBulkheadFull
	}

	timer := time.NewTimer(b.maxWait)
	defer timer.Stop()
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-timer.C:
		return ErrBulkheadTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Available returns the number of free slots.
func (b *Bulkhead) Available() int { return cap(b.sem) - len(b.sem) }

// InUse returns the number of requests holding a slot.
func (b *Bulkhead) InUse() int { return len(b.sem) }
