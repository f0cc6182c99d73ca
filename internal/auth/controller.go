// Package auth drives the site's login and logout flows inside the primary tab.
//
// A login is judged by what happens after the form is submitted: an alert dialog means the
// site rejected the attempt (bad credentials or bot detection), a top-level navigation means
// it was accepted, and silence until the deadline is also taken as success because the site
// only ever reports failure through alerts.
package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/browser"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"github.com/xkilldash9x/musinsa-manager/internal/validation"
)

// Status is the three-way outcome reported to the UI.
type Status string

const (
	StatusSuccess Status = "success"
	StatusAlert   Status = "alert"
	StatusError   Status = "error"
)

// State is where the controller is in the login lifecycle. Nothing survives a restart.
type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateSuccess        State = "success"
	StateAlertFailure   State = "alert-failure"
	StateError          State = "error"
)

// Reason codes.
const (
	ReasonWindowMissing     = "musinsa_window_missing"
	ReasonException         = "exception"
	ReasonCredentials       = "credentials_missing"
	ReasonInvalidLoginID    = "invalid_login_id"
	ReasonInProgress        = "login_in_progress"
	ReasonCanceled          = "canceled"
	reasonNavigated         = "navigated"
	reasonFrameDestroyed    = "frame_destroyed"
	reasonNoAlertBeforeTime = "no_alert_timeout"
)

// Result is returned by Login and Logout.
type Result struct {
	Status         Status `json:"status"`
	Reason         string `json:"reason,omitempty"`
	Action         string `json:"action,omitempty"`
	RobotSuspected bool   `json:"robotSuspected,omitempty"`
}

// Page is what the controller needs from a browser tab.
type Page interface {
	remote.Evaluator
	ListenAlerts() (func(ctx context.Context, timeout time.Duration) (string, error), func())
	Navigations() (<-chan browser.Navigation, func())
	Navigate(ctx context.Context, url string) error
	DeleteCookies(ctx context.Context, domain string) (int, error)
}

// PageSource returns the primary tab or an error when it is gone.
type PageSource func() (Page, error)

// AutoLoginGate is the once-per-process guard for the automatic login click.
type AutoLoginGate interface {
	ClaimAutoLogin() bool
	ResetAutoLogin()
}

// Controller runs login, logout and the automatic login click.
type Controller struct {
	cfg       config.AuthConfig
	endpoints musinsa.Endpoints
	page      PageSource
	gate      AutoLoginGate
	metrics   *observability.Metrics
	logger    *zap.Logger

	busy  atomic.Bool
	mu    sync.Mutex
	state State
}

// NewController builds a controller.
func NewController(cfg config.AuthConfig, endpoints musinsa.Endpoints, page PageSource, gate AutoLoginGate, metrics *observability.Metrics, logger *zap.Logger) *Controller {
	return &Controller{
		cfg:       cfg,
		endpoints: endpoints,
		page:      page,
		gate:      gate,
		metrics:   metrics,
		logger:    logger.Named("auth"),
		state:     StateIdle,
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// IsRobotAlert reports alert text that talks about automated access rather than credentials.
func IsRobotAlert(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(text, "로봇") || strings.Contains(lower, "robot") || strings.Contains(text, "자동입력")
}

// Login fills and submits the login form, then waits for the first of an alert, a
// navigation or the login deadline.
func (c *Controller) Login(ctx context.Context, loginID, password string) Result {
	logger, _ := observability.WithOperation(c.logger, "login")
	res := c.login(ctx, logger, loginID, password)

	switch res.Status {
	case StatusSuccess:
		c.setState(StateSuccess)
	case StatusAlert:
		c.setState(StateAlertFailure)
	default:
		if res.Reason != ReasonInProgress {
			c.setState(StateError)
		}
	}
	c.metrics.LoginOutcome(string(res.Status))
	logger.Info("Login finished.", zap.String("status", string(res.Status)), zap.String("reason", res.Reason))
	return res
}

func (c *Controller) login(ctx context.Context, logger *zap.Logger, loginID, password string) Result {
	loginID = strings.TrimSpace(loginID)
	if loginID == "" || password == "" {
		return Result{Status: StatusError, Reason: ReasonCredentials}
	}
	if !strings.Contains(loginID, "@") && !validation.ValidLoginID(loginID) {
		return Result{Status: StatusError, Reason: ReasonInvalidLoginID}
	}
	if c.cfg.NormalizePasswords {
		password = validation.NormalizePassword(password)
	}
	if !c.busy.CompareAndSwap(false, true) {
		return Result{Status: StatusError, Reason: ReasonInProgress}
	}
	defer c.busy.Store(false)
	c.setState(StateAuthenticating)

	page, err := c.page()
	if err != nil {
		return Result{Status: StatusError, Reason: ReasonWindowMissing}
	}

	raceCtx, cancel := context.WithTimeout(ctx, c.cfg.LoginTimeout)
	defer cancel()

	// Subscribe before submitting so nothing raised by the submission is missed.
	waitAlert, stopAlerts := page.ListenAlerts()
	defer stopAlerts()
	navs, stopNavs := page.Navigations()
	defer stopNavs()

	alerts := make(chan string, 1)
	go func() {
		msg, _ := waitAlert(raceCtx, c.cfg.LoginTimeout)
		alerts <- msg
	}()

	out, err := loginFill.Run(raceCtx, page, loginArgs{
		LoginID:        loginID,
		Password:       password,
		IDSelector:     idInputSelector,
		PWSelector:     pwInputSelector,
		Buttons:        submitButtonSelectors,
		Forms:          loginFormSelectors,
		FieldTimeoutMs: c.cfg.FieldWaitTimeout.Milliseconds(),
		TypingDelayMs:  c.cfg.TypingDelay.Milliseconds(),
	})
	switch {
	case err == nil:
		if !out.OK {
			reason := out.Reason
			if reason == "" {
				reason = "unknown"
			}
			return Result{Status: StatusError, Reason: reason}
		}
		logger.Debug("Login form submitted.", zap.String("via", out.SubmittedBy))
	case remote.IsFrameDestroyed(err):
		// The submission navigated away before the script returned.
		return c.settle(logger, alerts, reasonFrameDestroyed)
	case remote.KindOf(err) == remote.KindWindowMissing:
		return Result{Status: StatusError, Reason: ReasonWindowMissing}
	case ctx.Err() != nil:
		return Result{Status: StatusError, Reason: ReasonCanceled}
	case errors.Is(raceCtx.Err(), context.DeadlineExceeded):
		return c.settle(logger, alerts, reasonNoAlertBeforeTime)
	default:
		logger.Warn("Login script failed.", zap.Error(err))
		return Result{Status: StatusError, Reason: ReasonException}
	}

	select {
	case msg := <-alerts:
		if msg != "" {
			return alertResult(msg)
		}
		if ctx.Err() != nil {
			return Result{Status: StatusError, Reason: ReasonCanceled}
		}
		logger.Debug("No alert before the login deadline.")
		return Result{Status: StatusSuccess}
	case nav, ok := <-navs:
		if !ok {
			return Result{Status: StatusError, Reason: ReasonWindowMissing}
		}
		logger.Debug("Navigation after login submit.", zap.String("url", nav.URL))
		return c.settle(logger, alerts, reasonNavigated)
	}
}

// settle resolves a login that is already known to have gone through, unless an alert was
// captured in the meantime.
func (c *Controller) settle(logger *zap.Logger, alerts <-chan string, why string) Result {
	select {
	case msg := <-alerts:
		if msg != "" {
			return alertResult(msg)
		}
	default:
	}
	logger.Debug("Login accepted.", zap.String("signal", why))
	return Result{Status: StatusSuccess}
}

func alertResult(msg string) Result {
	return Result{Status: StatusAlert, Reason: msg, RobotSuspected: IsRobotAlert(msg)}
}

// AutoLogin clicks the header login link once per process. It reports whether the click was
// attempted and the script's outcome.
func (c *Controller) AutoLogin(ctx context.Context) (string, bool) {
	if !c.gate.ClaimAutoLogin() {
		return "", false
	}
	page, err := c.page()
	if err != nil {
		return "", false
	}
	res, err := clickLogin.Run(ctx, page, clickArgs{
		Selector:       gnbLoginSelector,
		TimeoutMs:      c.cfg.AutoLoginTimeout.Milliseconds(),
		DetectLoggedIn: true,
		ScrollOnMiss:   true,
	})
	if err != nil && !remote.IsFrameDestroyed(err) {
		c.logger.Warn("Automatic login click failed.", zap.Error(err))
		return "", true
	}
	if remote.IsFrameDestroyed(err) {
		res = ClickClicked
	}
	c.logger.Info("Automatic login click.", zap.String("result", res))
	return res, true
}

// Logout clicks the logout link, fires the logout request, clears site cookies, reloads the
// landing page and re-arms the automatic login click.
func (c *Controller) Logout(ctx context.Context) Result {
	logger, _ := observability.WithOperation(c.logger, "logout")
	page, err := c.page()
	if err != nil {
		return Result{Status: StatusError, Reason: ReasonWindowMissing}
	}

	action, err := clickLogout.Run(ctx, page, logoutLinkSelector)
	switch {
	case err == nil:
	case remote.IsFrameDestroyed(err):
		action = ClickClicked
	default:
		logger.Warn("Logout click failed.", zap.Error(err))
		return Result{Status: StatusError, Reason: ReasonException}
	}

	if _, err := fireLogout.Run(ctx, page, c.endpoints.Logout()); err != nil {
		logger.Debug("Logout request failed.", zap.Error(err))
	}
	removed, err := page.DeleteCookies(ctx, c.endpoints.CookieDomain())
	if err != nil {
		logger.Warn("Failed to clear site cookies.", zap.Error(err))
	}
	if err := page.Navigate(ctx, c.endpoints.Landing()); err != nil {
		logger.Warn("Reload after logout failed.", zap.Error(err))
		return Result{Status: StatusError, Reason: ReasonException}
	}
	c.setState(StateIdle)

	c.gate.ResetAutoLogin()
	if c.gate.ClaimAutoLogin() {
		res, err := clickLogin.Run(ctx, page, clickArgs{
			Selector:  gnbLoginSelector,
			TimeoutMs: c.cfg.ReloginTimeout.Milliseconds(),
		})
		logger.Debug("Login link after logout.", zap.String("result", res), zap.Error(err))
	}

	logger.Info("Logged out.", zap.String("action", action), zap.Int("cookies_removed", removed))
	return Result{Status: StatusSuccess, Action: action}
}
