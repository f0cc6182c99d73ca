// internal/browser/debugger.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// Debugger is an inspection session attached to one tab.
type Debugger interface {
	IsAttached(ctx context.Context) (bool, error)
	Attach(ctx context.Context) error
	Detach(ctx context.Context) error
}

const detachTimeout = 5 * time.Second

// WithDebugger runs fn with an inspection session attached to the tab. A session is
// attached only when none exists, and only a session attached here is detached again,
// on every exit path including panics in fn.
func WithDebugger(ctx context.Context, d Debugger, logger *zap.Logger, fn func(ctx context.Context) error) (err error) {
	attached, err := d.IsAttached(ctx)
	if err != nil {
		return fmt.Errorf("debugger: failed to query attachment: %w", err)
	}
	if !attached {
		if err := d.Attach(ctx); err != nil {
			return fmt.Errorf("debugger: failed to attach: %w", err)
		}
		logger.Debug("Attached temporary inspection session.")
		defer func() {
			detachCtx, cancel := context.WithTimeout(Detach(ctx), detachTimeout)
			defer cancel()
			if derr := d.Detach(detachCtx); derr != nil {
				logger.Warn("Failed to detach temporary inspection session.", zap.Error(derr))
				if err == nil {
					err = fmt.Errorf("debugger: failed to detach: %w", derr)
				}
				return
			}
			logger.Debug("Detached temporary inspection session.")
		}()
	}
	return fn(ctx)
}

// targetDebugger attaches a flat CDP session to a tab through the browser connection.
type targetDebugger struct {
	pageCtx  context.Context
	targetID target.ID

	mu        sync.Mutex
	sessionID target.SessionID
}

func (d *targetDebugger) browserExec(ctx context.Context) (context.Context, error) {
	c := chromedp.FromContext(d.pageCtx)
	if c == nil || c.Browser == nil {
		return nil, ErrWindowMissing
	}
	return cdp.WithExecutor(ctx, c.Browser), nil
}

func (d *targetDebugger) IsAttached(ctx context.Context) (bool, error) {
	exec, err := d.browserExec(ctx)
	if err != nil {
		return false, err
	}
	info, err := target.GetTargetInfo().WithTargetID(d.targetID).Do(exec)
	if err != nil {
		return false, err
	}
	return info.Attached, nil
}

func (d *targetDebugger) Attach(ctx context.Context) error {
	exec, err := d.browserExec(ctx)
	if err != nil {
		return err
	}
	sid, err := target.AttachToTarget(d.targetID).WithFlatten(true).Do(exec)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.sessionID = sid
	d.mu.Unlock()
	return nil
}

// Detach ends the session attached by Attach. The session is claimed under the lock, so
// concurrent calls detach it once.
func (d *targetDebugger) Detach(ctx context.Context) error {
	d.mu.Lock()
	sid := d.sessionID
	d.sessionID = ""
	d.mu.Unlock()
	if sid == "" {
		return nil
	}
	exec, err := d.browserExec(ctx)
	if err != nil {
		return err
	}
	return target.DetachFromTarget().WithSessionID(sid).Do(exec)
}
