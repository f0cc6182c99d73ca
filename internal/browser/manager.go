// internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/alert"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/stealth"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"go.uber.org/zap"
)

const shutdownGracePeriod = 15 * time.Second

// opener creates a hardened tab. The chromedp implementation is Manager.openTab.
type opener func(ctx context.Context, kind Kind) (*Window, error)

// Manager owns the Chrome process and the two automation tabs. At most one primary and one
// review window exist at a time; losing the primary also closes the review window. The
// manager never recreates a lost primary on its own.
type Manager struct {
	cfg     config.BrowserConfig
	site    config.SiteConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	alerts  *alert.Bridge

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	mu      sync.Mutex
	primary *Window
	review  *Window
	open    opener

	autoLoginClaimed atomic.Bool
}

// NewManager creates a manager. Chrome is not started until Start.
func NewManager(cfg config.BrowserConfig, site config.SiteConfig, metrics *observability.Metrics, logger *zap.Logger) *Manager {
	l := logger.Named("browser_manager")
	m := &Manager{
		cfg:     cfg,
		site:    site,
		logger:  l,
		metrics: metrics,
		alerts:  alert.NewBridge(l),
	}
	m.open = m.openTab
	return m
}

// Alerts exposes the shared alert bridge.
func (m *Manager) Alerts() *alert.Bridge { return m.alerts }

// ExecAllocatorOptions translates the browser configuration into chromedp allocator options.
func ExecAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts,
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("headless", cfg.Headless),
		chromedp.WindowSize(1280, 900),
	)
	if cfg.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.UserDataDir != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
	}

	// chromedp adds the leading dashes itself.
	for _, arg := range cfg.Args {
		arg = strings.TrimLeft(arg, "-")
		if arg == "" {
			continue
		}
		if key, value, ok := strings.Cut(arg, "="); ok {
			opts = append(opts, chromedp.Flag(key, value))
			continue
		}
		opts = append(opts, chromedp.Flag(arg, true))
	}
	return opts
}

// Start launches Chrome. The returned error means no tab can be opened.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.browserCtx != nil {
		return nil
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), ExecAllocatorOptions(m.cfg)...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(m.logger.Sugar().Debugf),
		chromedp.WithErrorf(m.logger.Sugar().Debugf),
	)

	startCtx, cancel := CombineContext(browserCtx, ctx)
	defer cancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		return fmt.Errorf("browser: failed to launch chrome: %w", err)
	}

	m.allocCtx, m.allocCancel = allocCtx, allocCancel
	m.browserCtx, m.browserCancel = browserCtx, browserCancel
	m.logger.Info("Browser started.", zap.Bool("headless", m.cfg.Headless))
	return nil
}

// openTab creates a new tab in the default browser context, so cookies are shared between
// the primary and review windows, then wires events and applies hardening and the alert hook.
func (m *Manager) openTab(ctx context.Context, kind Kind) (*Window, error) {
	m.mu.Lock()
	browserCtx := m.browserCtx
	m.mu.Unlock()
	if browserCtx == nil || browserCtx.Err() != nil {
		return nil, fmt.Errorf("browser: not started: %w", ErrWindowMissing)
	}

	tabCtx, tabCancel := chromedp.NewContext(browserCtx)
	createCtx, cancel := CombineContext(tabCtx, ctx)
	defer cancel()
	if err := chromedp.Run(createCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("browser: failed to open %s tab: %w", kind, err)
	}
	c := chromedp.FromContext(tabCtx)
	if c == nil || c.Target == nil {
		tabCancel()
		return nil, fmt.Errorf("browser: %s tab has no target: %w", kind, ErrWindowMissing)
	}

	persona := stealth.RandomPersona()
	w := newWindow(tabCtx, tabCancel, windowOptions{
		kind:          kind,
		targetID:      c.Target.TargetID,
		logger:        m.logger,
		metrics:       m.metrics,
		alerts:        m.alerts,
		persona:       persona,
		interceptor:   stealth.NewInterceptor(persona, m.site.CookieDomain, m.site.BlockedDomains, m.logger),
		scriptTimeout: m.cfg.ScriptTimeout,
		navTimeout:    m.cfg.NavigationTimeout,
		onGone:        m.windowGone,
	})
	w.listen()

	if err := w.harden(ctx); err != nil {
		w.Close(ctx)
		return nil, err
	}
	if err := w.installAlertHook(ctx); err != nil {
		w.Close(ctx)
		return nil, err
	}
	return w, nil
}

// CreatePrimary returns the live primary window, creating it when absent: a hardened tab
// with the alert hook installed, navigated to the account landing page.
func (m *Manager) CreatePrimary(ctx context.Context) (*Window, error) {
	m.mu.Lock()
	if m.primary.Alive() {
		w := m.primary
		m.mu.Unlock()
		return w, nil
	}
	m.mu.Unlock()

	w, err := m.open(ctx, KindPrimary)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.primary.Alive() {
		m.mu.Unlock()
		w.Close(ctx)
		return m.Primary()
	}
	m.primary = w
	m.mu.Unlock()

	if err := w.Navigate(ctx, m.site.LandingURL); err != nil {
		m.logger.Warn("Initial navigation of primary window failed.", zap.Error(err))
	}
	m.logger.Info("Primary window ready.", zap.String("window_id", w.ID()))
	return w, nil
}

// Primary returns the primary window or ErrWindowMissing.
func (m *Manager) Primary() (*Window, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.primary.Alive() {
		return nil, ErrWindowMissing
	}
	return m.primary, nil
}

// Review returns the review window if it exists.
func (m *Manager) Review() (*Window, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.review.Alive() {
		return nil, false
	}
	return m.review, true
}

// EnsureReviewWindow returns the pooled review window, creating it on first use. The
// window is hidden unless visible is set; visibility changes never recreate it.
func (m *Manager) EnsureReviewWindow(ctx context.Context, visible bool) (*Window, error) {
	if w, ok := m.Review(); ok {
		w.SetVisible(ctx, visible)
		return w, nil
	}

	w, err := m.open(ctx, KindReview)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	if m.review.Alive() {
		existing := m.review
		m.mu.Unlock()
		w.Close(ctx)
		existing.SetVisible(ctx, visible)
		return existing, nil
	}
	m.review = w
	m.mu.Unlock()

	if err := w.Navigate(ctx, m.site.ReviewListURL); err != nil {
		m.logger.Warn("Initial navigation of review window failed.", zap.Error(err))
	}
	w.SetVisible(ctx, visible)
	m.logger.Info("Review window ready.", zap.String("window_id", w.ID()), zap.Bool("visible", visible))
	return w, nil
}

// CloseReviewWindow closes the review window if present. It never fails.
func (m *Manager) CloseReviewWindow(ctx context.Context) {
	m.mu.Lock()
	w := m.review
	m.review = nil
	m.mu.Unlock()
	if w != nil {
		w.Close(ctx)
	}
}

// FileInputWindow picks the tab for the low-level file input fallback: the review window
// when present, otherwise the primary.
func (m *Manager) FileInputWindow() (*Window, error) {
	if w, ok := m.Review(); ok {
		return w, nil
	}
	return m.Primary()
}

// ClaimAutoLogin returns true exactly once until ResetAutoLogin is called.
func (m *Manager) ClaimAutoLogin() bool {
	return m.autoLoginClaimed.CompareAndSwap(false, true)
}

// ResetAutoLogin re-arms the automatic login click.
func (m *Manager) ResetAutoLogin() {
	m.autoLoginClaimed.Store(false)
}

// windowGone clears handles for a tab that closed, cascading primary loss to the review window.
func (m *Manager) windowGone(w *Window) {
	m.mu.Lock()
	var cascade *Window
	switch {
	case m.primary == w:
		m.primary = nil
		cascade = m.review
		m.review = nil
	case m.review == w:
		m.review = nil
	}
	m.mu.Unlock()

	if cascade != nil {
		m.logger.Info("Primary window closed; closing review window.")
		ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		cascade.Close(ctx)
	}
}

// Shutdown closes both tabs and stops Chrome.
func (m *Manager) Shutdown(ctx context.Context) {
	m.logger.Info("Shutting down browser manager.")
	m.CloseReviewWindow(ctx)

	m.mu.Lock()
	primary := m.primary
	m.primary = nil
	browserCancel, allocCancel := m.browserCancel, m.allocCancel
	m.browserCtx, m.browserCancel, m.allocCancel = nil, nil, nil
	m.mu.Unlock()

	if primary != nil {
		primary.Close(ctx)
	}
	m.alerts.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if browserCancel != nil {
			browserCancel()
		}
		if allocCancel != nil {
			allocCancel()
		}
	}()
	select {
	case <-done:
		m.logger.Info("Browser stopped.")
	case <-ctx.Done():
		m.logger.Warn("Timed out waiting for browser to stop.")
	}
}
