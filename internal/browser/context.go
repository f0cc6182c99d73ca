// internal/browser/context.go
package browser

import (
	"context"
	"time"
)

// CombineContext returns a context that carries the values of pageCtx (the chromedp tab) and
// is canceled when either pageCtx or opCtx ends. The operation deadline lives in opCtx.
func CombineContext(pageCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(pageCtx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// valueOnlyContext keeps the parent's values but drops its deadline and cancellation.
type valueOnlyContext struct {
	context.Context
}

func (valueOnlyContext) Deadline() (deadline time.Time, ok bool) { return }
func (valueOnlyContext) Done() <-chan struct{}                   { return nil }
func (valueOnlyContext) Err() error                              { return nil }

// Detach returns a context that inherits values from ctx but is never canceled by it.
// Cleanup that must run after the caller gave up (detaching a debugger) uses it.
func Detach(ctx context.Context) context.Context {
	return valueOnlyContext{ctx}
}
