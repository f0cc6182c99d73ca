// Package service is the command surface of the application. It owns every long-lived
// component and turns boundary commands into calls on them, publishing the resulting
// events on a single broadcaster.
package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xkilldash9x/musinsa-manager/internal/auth"
	"github.com/xkilldash9x/musinsa-manager/internal/browser"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/confirm"
	"github.com/xkilldash9x/musinsa-manager/internal/events"
	"github.com/xkilldash9x/musinsa-manager/internal/health"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"github.com/xkilldash9x/musinsa-manager/internal/review"
	"github.com/xkilldash9x/musinsa-manager/internal/scraper"
	"github.com/xkilldash9x/musinsa-manager/internal/store"
	"github.com/xkilldash9x/musinsa-manager/internal/validation"
)

// Reason codes produced by the controller itself.
const (
	ReasonWindowMissing       = "musinsa_window_missing"
	ReasonReviewWindowMissing = "review_window_missing"
	ReasonReviewFetchFailed   = "review_window_fetch_failed"
	ReasonClientFailed        = "http_client_failed"
	ReasonEmptyFiles          = "empty_files"
	ReasonNodeNotFound        = "node_not_found"
	ReasonFileWindowMissing   = "window_missing"
	ReasonException           = "exception"
	ReasonStoreUnavailable    = "store_unavailable"
	ReasonStoreFailed         = "store_failed"
	ReasonTemplateNotFound    = "template_not_found"
	ReasonCanceled            = "canceled"
)

// Page is one browser tab as the controller uses it.
type Page interface {
	remote.Evaluator
	musinsa.CookieSource
	Navigate(ctx context.Context, url string) error
	SetFileInputFiles(ctx context.Context, selector string, files []string) error
}

// Session hands out the tabs. Every accessor fails with an error instead of returning a
// dead tab.
type Session interface {
	Primary() (Page, error)
	EnsureReview(ctx context.Context, visible bool) (Page, error)
	CloseReviewWindow(ctx context.Context)
	FileInputPage() (Page, error)
}

// Authenticator runs the login flows.
type Authenticator interface {
	Login(ctx context.Context, loginID, password string) auth.Result
	Logout(ctx context.Context) auth.Result
	AutoLogin(ctx context.Context) (string, bool)
}

// HealthMonitor probes the session.
type HealthMonitor interface {
	Refresh(ctx context.Context) health.Status
	Start(ctx context.Context)
	Stop()
	Running() bool
}

// OrderScraper reads listings and orders.
type OrderScraper interface {
	FetchTargets(ctx context.Context, doer musinsa.Doer) scraper.TargetsResult
	SyncRange(ctx context.Context, doer musinsa.Doer, start, end string, progress func(scraper.Progress)) scraper.RangeResult
}

// Confirmer confirms purchases.
type Confirmer interface {
	Confirm(ctx context.Context, doer musinsa.Doer, items []confirm.Item) confirm.Result
}

// APIReviewWriter submits reviews through the site API.
type APIReviewWriter interface {
	Write(ctx context.Context, client review.Client, items []musinsa.WriteItem) review.Result
}

// DOMReviewWriter submits reviews by driving the review tab.
type DOMReviewWriter interface {
	Write(ctx context.Context, page review.Page, targets []musinsa.ListingRecord, items []musinsa.WriteItem, trace review.Trace) review.Result
}

// TemplateStore persists templates and synced orders.
type TemplateStore interface {
	SaveTemplate(ctx context.Context, productKey string, t musinsa.Template) error
	GetTemplate(ctx context.Context, productKey string) (store.TemplateRecord, error)
	ListTemplates(ctx context.Context) ([]store.TemplateRecord, error)
	DeleteTemplate(ctx context.Context, productKey string) error
	SaveOrders(ctx context.Context, orders []musinsa.Order) error
}

// ClientFactory builds a direct HTTP client carrying the cookies of src.
type ClientFactory func(ctx context.Context, src musinsa.CookieSource) (review.Client, error)

// Deps are the collaborators of a Controller. Store may be nil.
type Deps struct {
	Session       Session
	Auth          Authenticator
	Health        HealthMonitor
	Scraper       OrderScraper
	Confirmer     Confirmer
	APIWriter     APIReviewWriter
	DOMWriter     DOMReviewWriter
	Store         TemplateStore
	NewClient     ClientFactory
	Bus           *events.Broadcaster[Event]
	ReviewVisible bool
}

// Controller implements every boundary command.
type Controller struct {
	Deps
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
	flight  singleflight.Group

	mu      sync.Mutex
	baseCtx context.Context
}

// New builds a controller. A nil Bus gets a fresh broadcaster.
func New(deps Deps, metrics *observability.Metrics, logger *zap.Logger) *Controller {
	if deps.Bus == nil {
		deps.Bus = events.NewBroadcaster[Event]()
	}
	return &Controller{
		Deps:    deps,
		metrics: metrics,
		logger:  logger.Named("service"),
		now:     time.Now,
		baseCtx: context.Background(),
	}
}

// Start binds the controller to the application lifetime and runs the one automatic login
// click. The session watch started after a login lives as long as ctx.
func (c *Controller) Start(ctx context.Context) {
	c.mu.Lock()
	c.baseCtx = ctx
	c.mu.Unlock()
	if res, attempted := c.Auth.AutoLogin(ctx); attempted {
		c.logger.Info("Automatic login attempted.", zap.String("result", res))
	}
}

// Stop ends the session watch and closes the event stream.
func (c *Controller) Stop() {
	c.Health.Stop()
	c.Bus.Close()
}

func (c *Controller) lifetime() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseCtx
}

// PublishStatus forwards a health result as a sessionStatus event. The health monitor is
// built with this as its publish hook.
func (c *Controller) PublishStatus(st health.Status) {
	c.publish(EventSessionStatus, st)
}

// Login submits the credentials. A success is announced as online right away and starts
// the periodic session watch.
func (c *Controller) Login(ctx context.Context, loginID, password string) auth.Result {
	res := c.Auth.Login(ctx, loginID, password)
	c.publish(EventLoginResult, res)
	if res.Status == auth.StatusSuccess {
		c.PublishStatus(health.Status{Status: health.Online, CheckedAt: c.now().UnixMilli(), Source: health.SourceDOM})
		c.Health.Start(c.lifetime())
	}
	return res
}

// Logout signs out and always re-probes the session afterwards.
func (c *Controller) Logout(ctx context.Context) auth.Result {
	res := c.Auth.Logout(ctx)
	c.Health.Refresh(ctx)
	return res
}

// FetchSessionStatus probes the session now. Concurrent callers share one probe.
func (c *Controller) FetchSessionStatus(ctx context.Context) health.Status {
	v, err := c.shared(ctx, "status", func(ctx context.Context) interface{} {
		return c.Health.Refresh(ctx)
	})
	if err != nil {
		return health.Status{Status: health.Offline, CheckedAt: c.now().UnixMilli(), Source: health.SourceError, Reason: ReasonCanceled}
	}
	return v.(health.Status)
}

// FetchReviewTargets lists reviewable and confirmable items from the primary tab.
// Concurrent callers share one listing run.
func (c *Controller) FetchReviewTargets(ctx context.Context) scraper.TargetsResult {
	v, err := c.shared(ctx, "targets", func(ctx context.Context) interface{} {
		page, err := c.Session.Primary()
		if err != nil {
			return emptyTargets(ReasonWindowMissing)
		}
		return c.Scraper.FetchTargets(ctx, musinsa.NewPageFetcher(page))
	})
	if err != nil {
		return emptyTargets(ReasonCanceled)
	}
	return v.(scraper.TargetsResult)
}

func emptyTargets(reason string) scraper.TargetsResult {
	return scraper.TargetsResult{
		Reason:         reason,
		ReviewTargets:  []musinsa.ListingRecord{},
		ConfirmTargets: []musinsa.ListingRecord{},
		Errors:         []scraper.PageError{},
	}
}

// shared runs fn once for all concurrent callers of key. The run is detached from every
// caller and ends only with the controller's lifetime, so one caller giving up does not
// fail the others; that caller alone gets ctx.Err().
func (c *Controller) shared(ctx context.Context, key string, fn func(ctx context.Context) interface{}) (interface{}, error) {
	ch := c.flight.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := browser.CombineContext(browser.Detach(ctx), c.lifetime())
		defer cancel()
		return fn(runCtx), nil
	})
	select {
	case res := <-ch:
		return res.Val, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ConfirmOrders confirms purchases through the primary tab.
func (c *Controller) ConfirmOrders(ctx context.Context, items []confirm.Item) confirm.Result {
	page, err := c.Session.Primary()
	if err != nil {
		return confirm.Result{Reason: ReasonWindowMissing}
	}
	return c.Confirmer.Confirm(ctx, musinsa.NewPageFetcher(page), items)
}

// WriteReviews submits reviews through the site API with the primary tab's cookies.
func (c *Controller) WriteReviews(ctx context.Context, items []musinsa.WriteItem) review.Result {
	page, err := c.Session.Primary()
	if err != nil {
		return review.Result{Reason: ReasonWindowMissing}
	}
	client, err := c.NewClient(ctx, page)
	if err != nil {
		c.logger.Warn("Failed to prepare direct client.", zap.Error(err))
		return review.Result{Reason: ReasonClientFailed}
	}
	return c.APIWriter.Write(ctx, client, c.resolveTemplates(ctx, items))
}

// WriteReviewsDom submits reviews by driving the review tab. The listing is re-read in that
// tab so every item can be matched to a full record first.
func (c *Controller) WriteReviewsDom(ctx context.Context, items []musinsa.WriteItem) review.Result {
	if len(items) == 0 {
		return review.Result{Reason: review.ReasonEmptyPayload}
	}
	if _, err := c.Session.Primary(); err != nil {
		return review.Result{Reason: ReasonWindowMissing}
	}
	page, err := c.Session.EnsureReview(ctx, c.ReviewVisible)
	if err != nil {
		c.logger.Warn("Review window unavailable.", zap.Error(err))
		return review.Result{Reason: ReasonReviewWindowMissing}
	}

	targets := c.Scraper.FetchTargets(ctx, musinsa.NewPageFetcher(page))
	if !targets.OK {
		reason := targets.Reason
		if reason == "" {
			reason = ReasonReviewFetchFailed
		}
		return review.Result{Reason: reason}
	}
	trace := func(s review.Step) { c.publish(EventDebugLog, debugFromStep(s)) }
	return c.DOMWriter.Write(ctx, page, targets.ReviewTargets, c.resolveTemplates(ctx, items), trace)
}

// resolveTemplates fills in stored templates for items that arrive without content, trying
// the option-specific key before the product key.
func (c *Controller) resolveTemplates(ctx context.Context, items []musinsa.WriteItem) []musinsa.WriteItem {
	if c.Store == nil {
		return items
	}
	out := make([]musinsa.WriteItem, len(items))
	for i, it := range items {
		out[i] = it
		if strings.TrimSpace(it.Template.GeneralContent) != "" || strings.TrimSpace(it.Template.StyleContent) != "" {
			continue
		}
		keys := []string{
			validation.OptionKey(it.GoodsNo.String(), it.GoodsName, it.BrandLabel(), it.OptionName()),
			validation.ProductKey(it.GoodsNo.String(), it.GoodsName, it.BrandLabel()),
		}
		if it.ProductKey != "" {
			keys = append([]string{it.ProductKey}, keys...)
		}
		for _, key := range keys {
			rec, err := c.Store.GetTemplate(ctx, key)
			if err == nil {
				out[i].Template = rec.Template
				break
			}
			if !errors.Is(err, store.ErrNotFound) {
				c.logger.Warn("Template lookup failed.", zap.String("product_key", key), zap.Error(err))
				break
			}
		}
	}
	return out
}

// SyncOrdersRange pulls every order in the range, streaming progress events. Synced orders
// are also saved when a store is configured.
func (c *Controller) SyncOrdersRange(ctx context.Context, start, end string) scraper.RangeResult {
	page, err := c.Session.Primary()
	if err != nil {
		return scraper.RangeResult{Reason: ReasonWindowMissing}
	}
	progress := func(p scraper.Progress) { c.publish(EventSyncProgress, p) }
	res := c.Scraper.SyncRange(ctx, musinsa.NewPageFetcher(page), start, end, progress)
	if res.OK && c.Store != nil && len(res.Orders) > 0 {
		if err := c.Store.SaveOrders(ctx, res.Orders); err != nil {
			c.logger.Warn("Failed to save synced orders.", zap.Error(err))
		}
	}
	return res
}

// OKResult is the response of commands with nothing else to report.
type OKResult struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}

// CloseReviewWindow closes the review tab if it is open.
func (c *Controller) CloseReviewWindow(ctx context.Context) OKResult {
	c.Session.CloseReviewWindow(ctx)
	return OKResult{OK: true}
}

// ReadFile returns the base64 content of a local file, or nil when it cannot be read.
func (c *Controller) ReadFile(path string) *string {
	data, err := review.ReadFileBase64(path)
	if err != nil {
		c.logger.Debug("readFile failed.", zap.String("path", path), zap.Error(err))
		return nil
	}
	return &data
}

// SetFileInputFiles assigns local files to a file input in the review tab, or in the
// primary tab when no review tab is open.
func (c *Controller) SetFileInputFiles(ctx context.Context, selector string, files []string) OKResult {
	if len(files) == 0 {
		return OKResult{Reason: ReasonEmptyFiles}
	}
	page, err := c.Session.FileInputPage()
	if err != nil {
		return OKResult{Reason: ReasonFileWindowMissing}
	}
	err = page.SetFileInputFiles(ctx, selector, files)
	switch {
	case err == nil:
		return OKResult{OK: true}
	case errors.Is(err, browser.ErrNodeNotFound):
		return OKResult{Reason: ReasonNodeNotFound}
	case errors.Is(err, remote.ErrWindowMissing):
		return OKResult{Reason: ReasonFileWindowMissing}
	default:
		c.logger.Warn("setFileInputFiles failed.", zap.String("selector", selector), zap.Error(err))
		return OKResult{Reason: ReasonException}
	}
}

// TemplateResult is the response of template commands.
type TemplateResult struct {
	OK        bool                   `json:"ok"`
	Reason    string                 `json:"reason,omitempty"`
	Detail    string                 `json:"detail,omitempty"`
	Template  *store.TemplateRecord  `json:"template,omitempty"`
	Templates []store.TemplateRecord `json:"templates,omitempty"`
}

// SaveTemplate validates and stores a template. Validation runs even without a store so
// the caller always learns why a template is rejected.
func (c *Controller) SaveTemplate(ctx context.Context, productKey string, t musinsa.Template) TemplateResult {
	if c.Store == nil {
		if err := validation.ValidateTemplate(productKey, t); err != nil {
			return templateFailure(err)
		}
		return TemplateResult{Reason: ReasonStoreUnavailable}
	}
	if err := c.Store.SaveTemplate(ctx, productKey, t); err != nil {
		if validation.ReasonOf(err) == "" {
			c.logger.Warn("Failed to save template.", zap.String("product_key", productKey), zap.Error(err))
		}
		return templateFailure(err)
	}
	return TemplateResult{OK: true}
}

// GetTemplate loads one template.
func (c *Controller) GetTemplate(ctx context.Context, productKey string) TemplateResult {
	if c.Store == nil {
		return TemplateResult{Reason: ReasonStoreUnavailable}
	}
	rec, err := c.Store.GetTemplate(ctx, productKey)
	if err != nil {
		return templateFailure(err)
	}
	return TemplateResult{OK: true, Template: &rec}
}

// ListTemplates loads every template.
func (c *Controller) ListTemplates(ctx context.Context) TemplateResult {
	if c.Store == nil {
		return TemplateResult{Reason: ReasonStoreUnavailable}
	}
	recs, err := c.Store.ListTemplates(ctx)
	if err != nil {
		return templateFailure(err)
	}
	return TemplateResult{OK: true, Templates: recs}
}

// DeleteTemplate removes a template.
func (c *Controller) DeleteTemplate(ctx context.Context, productKey string) TemplateResult {
	if c.Store == nil {
		return TemplateResult{Reason: ReasonStoreUnavailable}
	}
	if err := c.Store.DeleteTemplate(ctx, productKey); err != nil {
		return templateFailure(err)
	}
	return TemplateResult{OK: true}
}

func templateFailure(err error) TemplateResult {
	if reason := validation.ReasonOf(err); reason != "" {
		var ve *validation.Error
		errors.As(err, &ve)
		return TemplateResult{Reason: reason, Detail: ve.Detail}
	}
	if errors.Is(err, store.ErrNotFound) {
		return TemplateResult{Reason: ReasonTemplateNotFound}
	}
	return TemplateResult{Reason: ReasonStoreFailed, Detail: err.Error()}
}
