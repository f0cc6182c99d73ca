// Package alert makes native alert() calls in a tab observable without blocking the page.
//
// A hook script replaces window.alert before any site script runs and on every new document.
// Captured text is forwarded through a CDP binding; native dialogs that slip past the hook
// (for example from a frame created before the hook) are dismissed and forwarded as well.
package alert

import (
	"context"
	_ "embed"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/musinsa-manager/internal/events"
	"go.uber.org/zap"
)

// BindingName is the global function the hook calls with the alert text.
const BindingName = "__mmAlert"

//go:embed hook.js
var hookScript string

// HookScript returns the in-page hook source.
func HookScript() string { return hookScript }

// Message is one captured alert.
type Message struct {
	TargetID string
	Text     string
	At       time.Time
}

// Bridge relays captured alerts from any number of tabs to subscribers.
type Bridge struct {
	logger    *zap.Logger
	broadcast *events.Broadcaster[Message]
	window    time.Duration
	now       func() time.Time

	mu        sync.Mutex
	installed map[string]bool
	last      map[string]Message

	// run executes CDP actions; swapped in tests.
	run func(ctx context.Context, actions ...chromedp.Action) error
}

// NewBridge creates a bridge. Identical messages from one tab within a short window are
// delivered once; the hook and the dialog safety net can both report the same alert.
func NewBridge(logger *zap.Logger) *Bridge {
	return &Bridge{
		logger:    logger.Named("alert"),
		broadcast: events.NewBroadcaster[Message](),
		window:    750 * time.Millisecond,
		now:       time.Now,
		installed: make(map[string]bool),
		last:      make(map[string]Message),
		run:       chromedp.Run,
	}
}

// Install registers the binding and the hook on the tab in ctx. Calling it again for the same
// target is a no-op; the hook itself is also guarded in-page, so a stray second evaluation
// cannot double-buffer messages.
func (b *Bridge) Install(ctx context.Context, targetID string) error {
	b.mu.Lock()
	if b.installed[targetID] {
		b.mu.Unlock()
		return nil
	}
	b.installed[targetID] = true
	b.mu.Unlock()

	err := b.run(ctx,
		runtime.AddBinding(BindingName),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(hookScript).Do(ctx)
			return err
		}),
		// Covers the document that is already loaded.
		chromedp.Evaluate(hookScript, nil),
	)
	if err != nil {
		b.mu.Lock()
		delete(b.installed, targetID)
		b.mu.Unlock()
		return fmt.Errorf("alert: failed to install hook: %w", err)
	}
	b.logger.Debug("Alert hook installed", zap.String("target", targetID))
	return nil
}

// Forget drops install state for a closed target.
func (b *Bridge) Forget(targetID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.installed, targetID)
	delete(b.last, targetID)
}

// Installed reports whether Install succeeded for the target.
func (b *Bridge) Installed(targetID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.installed[targetID]
}

// HandleBinding processes a binding call event. It reports whether the event was ours.
func (b *Bridge) HandleBinding(targetID string, ev *runtime.EventBindingCalled) bool {
	if ev == nil || ev.Name != BindingName {
		return false
	}
	b.Capture(targetID, ev.Payload)
	return true
}

// HandleDialog forwards an alert dialog's message and dismisses it. Other dialog types are
// accepted so the page never stalls. Must run off the event-listener goroutine.
func (b *Bridge) HandleDialog(ctx context.Context, targetID string, ev *page.EventJavascriptDialogOpening) {
	if ev.Type == page.DialogTypeAlert {
		b.Capture(targetID, ev.Message)
	}
	if err := b.run(ctx, page.HandleJavaScriptDialog(true)); err != nil {
		b.logger.Debug("Failed to dismiss native dialog", zap.String("target", targetID), zap.Error(err))
	}
}

// Capture publishes a message unless it duplicates the previous one from the same tab.
func (b *Bridge) Capture(targetID, text string) {
	now := b.now()
	b.mu.Lock()
	prev, seen := b.last[targetID]
	if seen && prev.Text == text && now.Sub(prev.At) < b.window {
		b.mu.Unlock()
		return
	}
	msg := Message{TargetID: targetID, Text: text, At: now}
	b.last[targetID] = msg
	b.mu.Unlock()

	b.logger.Info("Captured page alert", zap.String("target", targetID), zap.String("text", text))
	b.broadcast.Publish(msg)
}

// Subscribe returns a channel of every captured message.
func (b *Bridge) Subscribe() (<-chan Message, func()) {
	return b.broadcast.Subscribe(16)
}

// Listen subscribes before an operation starts and returns a function that waits for the
// first alert from targetID. The wait returns ("", nil) when nothing arrives in time.
// Callers must invoke the returned stop function.
func (b *Bridge) Listen(targetID string) (wait func(ctx context.Context, timeout time.Duration) (string, error), stop func()) {
	ch, cancel := b.Subscribe()
	wait = func(ctx context.Context, timeout time.Duration) (string, error) {
		msg, err := events.AwaitEventOrTimeout(ctx, ch, func(m Message) bool { return m.TargetID == targetID }, timeout)
		if err == events.ErrTimeout {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		return msg.Text, nil
	}
	return wait, cancel
}

// Close releases all subscribers.
func (b *Bridge) Close() {
	b.broadcast.Close()
}
