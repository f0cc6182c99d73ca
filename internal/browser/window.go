// internal/browser/window.go
package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/alert"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/stealth"
	"github.com/xkilldash9x/musinsa-manager/internal/events"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"go.uber.org/zap"
)

// Kind distinguishes the two long-lived tabs.
type Kind string

const (
	KindPrimary Kind = "primary"
	KindReview  Kind = "review"
)

var (
	// ErrWindowMissing is returned by any operation on a tab that does not exist or is gone.
	ErrWindowMissing = remote.ErrWindowMissing
	// ErrNodeNotFound means a selector matched nothing in the document.
	ErrNodeNotFound = errors.New("browser: node not found")
)

// Navigation is a committed top-level navigation.
type Navigation struct {
	URL string
	At  time.Time
}

// Cookie is the subset of a browser cookie the site client needs.
type Cookie struct {
	Name     string
	Value    string
	Domain   string
	Path     string
	Secure   bool
	HTTPOnly bool
	Expires  float64
}

// Window is one automation tab. Its methods are safe for concurrent use; ordering between
// concurrent scripts is not guaranteed.
type Window struct {
	id       string
	kind     Kind
	targetID target.ID
	logger   *zap.Logger
	metrics  *observability.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	persona     stealth.Persona
	interceptor *stealth.Interceptor
	alerts      *alert.Bridge
	debugger    Debugger
	navs        *events.Broadcaster[Navigation]

	scriptTimeout time.Duration
	navTimeout    time.Duration

	hardened  atomic.Bool
	closed    atomic.Bool
	closeOnce sync.Once
	onGone    func(*Window)
}

type windowOptions struct {
	kind          Kind
	targetID      target.ID
	logger        *zap.Logger
	metrics       *observability.Metrics
	alerts        *alert.Bridge
	persona       stealth.Persona
	interceptor   *stealth.Interceptor
	scriptTimeout time.Duration
	navTimeout    time.Duration
	onGone        func(*Window)
}

// newWindow wraps an already-created tab context.
func newWindow(ctx context.Context, cancel context.CancelFunc, o windowOptions) *Window {
	id := uuid.NewString()
	w := &Window{
		id:            id,
		kind:          o.kind,
		targetID:      o.targetID,
		logger:        o.logger.Named("window").With(zap.String("kind", string(o.kind)), zap.String("window_id", id)),
		metrics:       o.metrics,
		ctx:           ctx,
		cancel:        cancel,
		persona:       o.persona,
		interceptor:   o.interceptor,
		alerts:        o.alerts,
		navs:          events.NewBroadcaster[Navigation](),
		scriptTimeout: o.scriptTimeout,
		navTimeout:    o.navTimeout,
		onGone:        o.onGone,
	}
	w.debugger = &targetDebugger{pageCtx: ctx, targetID: o.targetID}
	return w
}

func (w *Window) ID() string          { return w.id }
func (w *Window) Kind() Kind          { return w.kind }
func (w *Window) TargetID() target.ID { return w.targetID }

// UserAgent is the user agent the tab presents; it is fixed for the tab's lifetime.
func (w *Window) UserAgent() string { return w.persona.UserAgent }

// Alive reports whether the tab still exists.
func (w *Window) Alive() bool {
	return w != nil && !w.closed.Load() && w.ctx.Err() == nil
}

// Context returns the tab context. Once the window is gone the context is already canceled.
func (w *Window) Context() context.Context { return w.ctx }

// Navigations subscribes to committed top-level navigations.
func (w *Window) Navigations() (<-chan Navigation, func()) {
	return w.navs.Subscribe(8)
}

// ListenAlerts prepares to receive the first alert raised in this tab.
func (w *Window) ListenAlerts() (func(ctx context.Context, timeout time.Duration) (string, error), func()) {
	return w.alerts.Listen(string(w.targetID))
}

// listen routes tab events. Handlers that issue CDP commands run on their own goroutine.
func (w *Window) listen() {
	chromedp.ListenTarget(w.ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventBindingCalled:
			w.alerts.HandleBinding(string(w.targetID), e)
		case *page.EventJavascriptDialogOpening:
			go w.alerts.HandleDialog(w.ctx, string(w.targetID), e)
		case *page.EventFrameNavigated:
			if e.Frame != nil && e.Frame.ParentID == "" {
				w.navs.Publish(Navigation{URL: e.Frame.URL, At: time.Now()})
			}
		case *fetch.EventRequestPaused:
			if w.interceptor != nil {
				go w.interceptor.Handle(w.ctx, e)
			}
		case *inspector.EventDetached:
			go w.markGone("detached: " + string(e.Reason))
		case *inspector.EventTargetCrashed:
			go w.markGone("crashed")
		}
	})
}

// harden applies the persona once per tab.
func (w *Window) harden(ctx context.Context) error {
	if !w.hardened.CompareAndSwap(false, true) {
		return nil
	}
	runCtx, cancel := CombineContext(w.ctx, ctx)
	defer cancel()
	if err := chromedp.Run(runCtx,
		page.Enable(),
		runtime.Enable(),
		stealth.Apply(w.persona, w.interceptor, w.logger),
	); err != nil {
		w.hardened.Store(false)
		return fmt.Errorf("browser: failed to harden %s window: %w", w.kind, err)
	}
	return nil
}

// installAlertHook installs the alert interceptor on this tab.
func (w *Window) installAlertHook(ctx context.Context) error {
	runCtx, cancel := CombineContext(w.ctx, ctx)
	defer cancel()
	return w.alerts.Install(runCtx, string(w.targetID))
}

func (w *Window) opContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc, error) {
	if !w.Alive() {
		return nil, nil, ErrWindowMissing
	}
	runCtx, cancelCombined := CombineContext(w.ctx, ctx)
	if timeout <= 0 {
		return runCtx, cancelCombined, nil
	}
	timed, cancelTimeout := context.WithTimeout(runCtx, timeout)
	return timed, func() {
		cancelTimeout()
		cancelCombined()
	}, nil
}

// Evaluate implements remote.Evaluator.
func (w *Window) Evaluate(ctx context.Context, call remote.Call) ([]byte, error) {
	runCtx, cancel, err := w.opContext(ctx, w.scriptTimeout)
	if err != nil {
		w.metrics.ScriptFailure(call.Name, string(remote.KindWindowMissing))
		return nil, err
	}
	defer cancel()

	var raw []byte
	err = chromedp.Run(runCtx, chromedp.Evaluate(call.Expression, &raw, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithAwaitPromise(true).WithUserGesture(true)
	}))
	if err != nil {
		if ctx.Err() == nil && runCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("%w: script %s timed out after %v", remote.ErrException, call.Name, w.scriptTimeout)
		} else {
			err = remote.ClassifyCDPError(w.ctx, err)
		}
		kind := remote.KindOf(err)
		w.metrics.ScriptFailure(call.Name, string(kind))
		w.logger.Debug("Script failed.", zap.String("script", call.Name), zap.String("kind", string(kind)), zap.Error(err))
		return nil, err
	}
	return raw, nil
}

// Navigate loads url and waits for the load event.
func (w *Window) Navigate(ctx context.Context, url string) error {
	runCtx, cancel, err := w.opContext(ctx, w.navTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	w.logger.Debug("Navigating.", zap.String("url", url))
	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		if !w.Alive() {
			return ErrWindowMissing
		}
		return fmt.Errorf("browser: navigation to %s failed: %w", url, err)
	}
	return nil
}

// Reload reloads the current document.
func (w *Window) Reload(ctx context.Context) error {
	runCtx, cancel, err := w.opContext(ctx, w.navTimeout)
	if err != nil {
		return err
	}
	defer cancel()
	if err := chromedp.Run(runCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("browser: reload failed: %w", err)
	}
	return nil
}

// Cookies returns every cookie visible to the browser.
func (w *Window) Cookies(ctx context.Context) ([]Cookie, error) {
	runCtx, cancel, err := w.opContext(ctx, 0)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var raw []*network.Cookie
	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		raw, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("browser: failed to read cookies: %w", err)
	}
	out := make([]Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, Cookie{
			Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path,
			Secure: c.Secure, HTTPOnly: c.HTTPOnly, Expires: c.Expires,
		})
	}
	return out, nil
}

// DeleteCookies removes every cookie whose domain ends with domain and returns the count.
func (w *Window) DeleteCookies(ctx context.Context, domain string) (int, error) {
	cookies, err := w.Cookies(ctx)
	if err != nil {
		return 0, err
	}
	runCtx, cancel, err := w.opContext(ctx, 0)
	if err != nil {
		return 0, err
	}
	defer cancel()

	removed := 0
	for _, c := range FilterCookies(cookies, domain) {
		del := network.DeleteCookies(c.Name).WithDomain(c.Domain).WithPath(c.Path)
		if err := chromedp.Run(runCtx, del); err != nil {
			w.logger.Warn("Failed to delete cookie.", zap.String("name", c.Name), zap.String("domain", c.Domain), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}

// FilterCookies keeps cookies whose domain is domain or one of its subdomains.
func FilterCookies(cookies []Cookie, domain string) []Cookie {
	domain = strings.TrimPrefix(domain, ".")
	var out []Cookie
	for _, c := range cookies {
		d := strings.TrimPrefix(c.Domain, ".")
		if d == domain || strings.HasSuffix(d, "."+domain) {
			out = append(out, c)
		}
	}
	return out
}

// SetVisible minimizes or restores the tab's OS window. Headless browsers have no window
// to manage, so failures are logged and ignored.
func (w *Window) SetVisible(ctx context.Context, visible bool) {
	runCtx, cancel, err := w.opContext(ctx, 5*time.Second)
	if err != nil {
		return
	}
	defer cancel()

	c := chromedp.FromContext(runCtx)
	if c == nil || c.Browser == nil {
		return
	}
	exec := cdp.WithExecutor(runCtx, c.Browser)
	winID, _, err := cdpbrowser.GetWindowForTarget().WithTargetID(w.targetID).Do(exec)
	if err != nil {
		w.logger.Debug("No OS window for tab.", zap.Error(err))
		return
	}
	state := cdpbrowser.WindowStateMinimized
	if visible {
		state = cdpbrowser.WindowStateNormal
	}
	if err := cdpbrowser.SetWindowBounds(winID, &cdpbrowser.Bounds{WindowState: state}).Do(exec); err != nil {
		w.logger.Debug("Failed to change window state.", zap.String("state", string(state)), zap.Error(err))
	}
}

// SetFileInputFiles assigns local files to the first input matching selector through the
// DOM domain, with an inspection session attached for the duration of the call.
func (w *Window) SetFileInputFiles(ctx context.Context, selector string, files []string) error {
	runCtx, cancel, err := w.opContext(ctx, w.scriptTimeout)
	if err != nil {
		return err
	}
	defer cancel()

	return WithDebugger(runCtx, w.debugger, w.logger, func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			doc, err := dom.GetDocument().Do(ctx)
			if err != nil {
				return fmt.Errorf("browser: failed to get document: %w", err)
			}
			nodeID, err := dom.QuerySelector(doc.NodeID, selector).Do(ctx)
			if err != nil || nodeID == 0 {
				return ErrNodeNotFound
			}
			return dom.SetFileInputFiles(files).WithNodeID(nodeID).Do(ctx)
		}))
	})
}

// markGone records that the tab disappeared without Close being called.
func (w *Window) markGone(reason string) {
	if w.closed.CompareAndSwap(false, true) {
		w.logger.Warn("Window went away.", zap.String("reason", reason))
		w.teardown()
	}
}

// Close closes the tab. It is idempotent and never fails; ctx bounds how long it waits.
func (w *Window) Close(ctx context.Context) {
	if w == nil {
		return
	}
	w.closed.Store(true)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.teardown()
	}()
	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("Timed out closing window.")
	case <-time.After(10 * time.Second):
		w.logger.Warn("Window close is taking too long; abandoning wait.")
	}
}

func (w *Window) teardown() {
	w.closeOnce.Do(func() {
		w.logger.Debug("Closing window.")
		if w.cancel != nil {
			if err := chromedp.Cancel(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Debug("Tab close reported an error.", zap.Error(err))
			}
			w.cancel()
		}
		if w.alerts != nil {
			w.alerts.Forget(string(w.targetID))
		}
		w.navs.Close()
		if w.onGone != nil {
			w.onGone(w)
		}
	})
}
