package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// Messages CDP uses when the execution context vanished because of navigation.
var frameDestroyedMarkers = []string{
	"Execution context was destroyed",
	"Cannot find context with specified id",
	"Inspected target navigated or closed",
	"uniqueContextId not found",
}

// Messages that mean the target itself is gone.
var windowMissingMarkers = []string{
	"No target with given id",
	"target closed",
	"Target closed",
	"Session with given id not found",
	"websocket: close",
}

// ClassifyCDPError wraps an error from a chromedp evaluation with the matching sentinel.
// pageCtx is the context bound to the page; when it is done the page is considered gone.
func ClassifyCDPError(pageCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if pageCtx != nil && pageCtx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrWindowMissing, err)
	}
	if errors.Is(err, chromedp.ErrInvalidContext) || errors.Is(err, chromedp.ErrInvalidTarget) {
		return fmt.Errorf("%w: %v", ErrWindowMissing, err)
	}

	var exc *runtime.ExceptionDetails
	if errors.As(err, &exc) {
		msg := exc.Text
		if exc.Exception != nil && exc.Exception.Description != "" {
			msg = exc.Exception.Description
		}
		if containsAny(msg, frameDestroyedMarkers) {
			return fmt.Errorf("%w: %s", ErrFrameDestroyed, msg)
		}
		return fmt.Errorf("%w: %s", ErrException, msg)
	}

	msg := err.Error()
	switch {
	case containsAny(msg, frameDestroyedMarkers):
		return fmt.Errorf("%w: %v", ErrFrameDestroyed, err)
	case containsAny(msg, windowMissingMarkers):
		return fmt.Errorf("%w: %v", ErrWindowMissing, err)
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrWindowMissing, err)
	}
	return fmt.Errorf("%w: %v", ErrException, err)
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
