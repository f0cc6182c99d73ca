package service

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/musinsa-manager/internal/auth"
	"github.com/xkilldash9x/musinsa-manager/internal/browser"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/confirm"
	"github.com/xkilldash9x/musinsa-manager/internal/health"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/review"
	"github.com/xkilldash9x/musinsa-manager/internal/scraper"
	"github.com/xkilldash9x/musinsa-manager/internal/store"
)

// fakePage is a tab that never runs scripts; tests only pass it around.
type fakePage struct {
	name    string
	fileErr error
	files   []string
}

func (p *fakePage) Evaluate(ctx context.Context, call remote.Call) ([]byte, error) {
	return nil, remote.ErrException
}
func (p *fakePage) Cookies(ctx context.Context) ([]browser.Cookie, error) { return nil, nil }
func (p *fakePage) UserAgent() string                                   { return "test-agent" }
func (p *fakePage) Navigate(ctx context.Context, url string) error      { return nil }
func (p *fakePage) SetFileInputFiles(ctx context.Context, selector string, files []string) error {
	p.files = append([]string{selector}, files...)
	return p.fileErr
}

type MockSession struct{ mock.Mock }

func (m *MockSession) Primary() (Page, error) {
	args := m.Called()
	p, _ := args.Get(0).(Page)
	return p, args.Error(1)
}

func (m *MockSession) EnsureReview(ctx context.Context, visible bool) (Page, error) {
	args := m.Called(ctx, visible)
	p, _ := args.Get(0).(Page)
	return p, args.Error(1)
}

func (m *MockSession) CloseReviewWindow(ctx context.Context) { m.Called(ctx) }

func (m *MockSession) FileInputPage() (Page, error) {
	args := m.Called()
	p, _ := args.Get(0).(Page)
	return p, args.Error(1)
}

type MockAuth struct{ mock.Mock }

func (m *MockAuth) Login(ctx context.Context, loginID, password string) auth.Result {
	return m.Called(ctx, loginID, password).Get(0).(auth.Result)
}

func (m *MockAuth) Logout(ctx context.Context) auth.Result {
	return m.Called(ctx).Get(0).(auth.Result)
}

func (m *MockAuth) AutoLogin(ctx context.Context) (string, bool) {
	args := m.Called(ctx)
	return args.String(0), args.Bool(1)
}

type MockHealth struct{ mock.Mock }

func (m *MockHealth) Refresh(ctx context.Context) health.Status {
	return m.Called(ctx).Get(0).(health.Status)
}
func (m *MockHealth) Start(ctx context.Context) { m.Called(ctx) }
func (m *MockHealth) Stop()                     { m.Called() }
func (m *MockHealth) Running() bool             { return m.Called().Bool(0) }

type MockScraper struct{ mock.Mock }

func (m *MockScraper) FetchTargets(ctx context.Context, doer musinsa.Doer) scraper.TargetsResult {
	return m.Called(ctx, doer).Get(0).(scraper.TargetsResult)
}

func (m *MockScraper) SyncRange(ctx context.Context, doer musinsa.Doer, start, end string, progress func(scraper.Progress)) scraper.RangeResult {
	return m.Called(ctx, doer, start, end, progress).Get(0).(scraper.RangeResult)
}

type MockConfirmer struct{ mock.Mock }

func (m *MockConfirmer) Confirm(ctx context.Context, doer musinsa.Doer, items []confirm.Item) confirm.Result {
	return m.Called(ctx, doer, items).Get(0).(confirm.Result)
}

type MockAPIWriter struct{ mock.Mock }

func (m *MockAPIWriter) Write(ctx context.Context, client review.Client, items []musinsa.WriteItem) review.Result {
	return m.Called(ctx, client, items).Get(0).(review.Result)
}

type MockDOMWriter struct{ mock.Mock }

func (m *MockDOMWriter) Write(ctx context.Context, page review.Page, targets []musinsa.ListingRecord, items []musinsa.WriteItem, trace review.Trace) review.Result {
	return m.Called(ctx, page, targets, items, trace).Get(0).(review.Result)
}

type MockStore struct{ mock.Mock }

func (m *MockStore) SaveTemplate(ctx context.Context, productKey string, t musinsa.Template) error {
	return m.Called(ctx, productKey, t).Error(0)
}

func (m *MockStore) GetTemplate(ctx context.Context, productKey string) (store.TemplateRecord, error) {
	args := m.Called(ctx, productKey)
	return args.Get(0).(store.TemplateRecord), args.Error(1)
}

func (m *MockStore) ListTemplates(ctx context.Context) ([]store.TemplateRecord, error) {
	args := m.Called(ctx)
	recs, _ := args.Get(0).([]store.TemplateRecord)
	return recs, args.Error(1)
}

func (m *MockStore) DeleteTemplate(ctx context.Context, productKey string) error {
	return m.Called(ctx, productKey).Error(0)
}

func (m *MockStore) SaveOrders(ctx context.Context, orders []musinsa.Order) error {
	return m.Called(ctx, orders).Error(0)
}

type MockBrowser struct{ mock.Mock }

func (m *MockBrowser) Shutdown(ctx context.Context) { m.Called(ctx) }

type MockPool struct{ mock.Mock }

func (m *MockPool) Close() { m.Called() }
