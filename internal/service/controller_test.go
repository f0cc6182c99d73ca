package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/musinsa-manager/internal/auth"
	"github.com/xkilldash9x/musinsa-manager/internal/browser"
	"github.com/xkilldash9x/musinsa-manager/internal/confirm"
	"github.com/xkilldash9x/musinsa-manager/internal/health"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/review"
	"github.com/xkilldash9x/musinsa-manager/internal/scraper"
	"github.com/xkilldash9x/musinsa-manager/internal/store"
	"github.com/xkilldash9x/musinsa-manager/internal/validation"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type harness struct {
	ctrl      *Controller
	session   *MockSession
	auth      *MockAuth
	health    *MockHealth
	scraper   *MockScraper
	confirmer *MockConfirmer
	api       *MockAPIWriter
	dom       *MockDOMWriter
	store     *MockStore
	events    <-chan Event
	clientSrc []musinsa.CookieSource
}

func newHarness(t *testing.T, withStore bool) *harness {
	t.Helper()
	h := &harness{
		session:   new(MockSession),
		auth:      new(MockAuth),
		health:    new(MockHealth),
		scraper:   new(MockScraper),
		confirmer: new(MockConfirmer),
		api:       new(MockAPIWriter),
		dom:       new(MockDOMWriter),
	}
	deps := Deps{
		Session:   h.session,
		Auth:      h.auth,
		Health:    h.health,
		Scraper:   h.scraper,
		Confirmer: h.confirmer,
		APIWriter: h.api,
		DOMWriter: h.dom,
		NewClient: func(ctx context.Context, src musinsa.CookieSource) (review.Client, error) {
			h.clientSrc = append(h.clientSrc, src)
			return nil, nil
		},
	}
	if withStore {
		h.store = new(MockStore)
		deps.Store = h.store
	}
	h.ctrl = New(deps, nil, zaptest.NewLogger(t))
	h.ctrl.now = func() time.Time { return time.UnixMilli(1700000000000) }
	var cancel func()
	h.events, cancel = h.ctrl.Subscribe(64)
	t.Cleanup(func() {
		cancel()
		mock.AssertExpectationsForObjects(t, h.session, h.auth, h.health, h.scraper, h.confirmer, h.api, h.dom)
		if h.store != nil {
			h.store.AssertExpectations(t)
		}
	})
	return h
}

func (h *harness) drain() []Event {
	var out []Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(evs []Event) []string {
	out := make([]string, len(evs))
	for i, ev := range evs {
		out[i] = ev.Type
	}
	return out
}

func TestLoginSuccessStartsSessionWatch(t *testing.T) {
	h := newHarness(t, false)
	ok := auth.Result{Status: auth.StatusSuccess}
	h.auth.On("Login", mock.Anything, "user01", "pw").Return(ok).Once()
	h.health.On("Start", mock.Anything).Return().Once()

	assert.Equal(t, ok, h.ctrl.Login(context.Background(), "user01", "pw"))

	evs := h.drain()
	require.Equal(t, []string{EventLoginResult, EventSessionStatus}, eventTypes(evs))
	assert.Equal(t, ok, evs[0].Payload)
	assert.Equal(t, health.Status{Status: health.Online, CheckedAt: 1700000000000, Source: health.SourceDOM}, evs[1].Payload)
	assert.NotEmpty(t, evs[0].ID)
	assert.NotEqual(t, evs[0].ID, evs[1].ID)
}

func TestLoginAlertLeavesWatchAlone(t *testing.T) {
	h := newHarness(t, false)
	alert := auth.Result{Status: auth.StatusAlert, Reason: "로봇이 아닙니다", RobotSuspected: true}
	h.auth.On("Login", mock.Anything, "user01", "pw").Return(alert).Once()

	assert.Equal(t, alert, h.ctrl.Login(context.Background(), "user01", "pw"))
	assert.Equal(t, []string{EventLoginResult}, eventTypes(h.drain()))
	h.health.AssertNotCalled(t, "Start", mock.Anything)
}

func TestLogoutAlwaysReprobes(t *testing.T) {
	for _, res := range []auth.Result{
		{Status: auth.StatusSuccess, Action: "clicked"},
		{Status: auth.StatusError, Reason: auth.ReasonWindowMissing},
	} {
		h := newHarness(t, false)
		h.auth.On("Logout", mock.Anything).Return(res).Once()
		h.health.On("Refresh", mock.Anything).Return(health.Status{Status: health.Offline}).Once()
		assert.Equal(t, res, h.ctrl.Logout(context.Background()))
	}
}

func TestFetchSessionStatusSharesOneProbe(t *testing.T) {
	h := newHarness(t, false)
	entered := make(chan struct{})
	release := make(chan struct{})
	online := health.Status{Status: health.Online, Source: health.SourcePing}
	h.health.On("Refresh", mock.Anything).Run(func(mock.Arguments) {
		close(entered)
		<-release
	}).Return(online).Once()

	var wg sync.WaitGroup
	results := make([]health.Status, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = h.ctrl.FetchSessionStatus(context.Background())
	}()
	<-entered
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = h.ctrl.FetchSessionStatus(context.Background())
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, []health.Status{online, online}, results)
}

func TestFetchSessionStatusSurvivesFirstCallerCancel(t *testing.T) {
	h := newHarness(t, false)
	entered := make(chan struct{})
	release := make(chan struct{})
	online := health.Status{Status: health.Online, Source: health.SourcePing}
	var probeCtx context.Context
	h.health.On("Refresh", mock.Anything).Run(func(args mock.Arguments) {
		probeCtx = args.Get(0).(context.Context)
		close(entered)
		<-release
	}).Return(online).Once()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan health.Status, 1)
	go func() { first <- h.ctrl.FetchSessionStatus(firstCtx) }()
	<-entered

	second := make(chan health.Status, 1)
	go func() { second <- h.ctrl.FetchSessionStatus(context.Background()) }()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	got := <-first
	assert.Equal(t, health.Offline, got.Status)
	assert.Equal(t, ReasonCanceled, got.Reason)
	assert.NoError(t, probeCtx.Err(), "the shared probe outlives the caller that started it")

	close(release)
	assert.Equal(t, online, <-second)
}

func TestFetchReviewTargetsCanceledCaller(t *testing.T) {
	h := newHarness(t, false)
	release := make(chan struct{})
	h.session.On("Primary").Run(func(mock.Arguments) { <-release }).Return(nil, browser.ErrWindowMissing).Once()
	h.session.On("Primary").Return(nil, browser.ErrWindowMissing)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := h.ctrl.FetchReviewTargets(ctx)
	assert.Equal(t, ReasonCanceled, res.Reason)
	assert.NotNil(t, res.ReviewTargets)

	close(release)
	assert.Eventually(t, func() bool {
		return h.ctrl.FetchReviewTargets(context.Background()).Reason == ReasonWindowMissing
	}, time.Second, 5*time.Millisecond)
}

func TestFetchReviewTargets(t *testing.T) {
	t.Run("primary window missing", func(t *testing.T) {
		h := newHarness(t, false)
		h.session.On("Primary").Return(nil, browser.ErrWindowMissing).Once()

		res := h.ctrl.FetchReviewTargets(context.Background())
		assert.False(t, res.OK)
		assert.Equal(t, ReasonWindowMissing, res.Reason)
		assert.NotNil(t, res.ReviewTargets)
		assert.NotNil(t, res.Errors)
	})

	t.Run("lists through the primary tab", func(t *testing.T) {
		h := newHarness(t, false)
		page := &fakePage{name: "primary"}
		want := scraper.TargetsResult{OK: true, TotalFetched: 47, PagesFetched: 3}
		h.session.On("Primary").Return(page, nil).Once()
		h.scraper.On("FetchTargets", mock.Anything, mock.AnythingOfType("*musinsa.PageFetcher")).Return(want).Once()

		assert.Equal(t, want, h.ctrl.FetchReviewTargets(context.Background()))
	})
}

func TestConfirmOrders(t *testing.T) {
	h := newHarness(t, false)
	items := []confirm.Item{{OrderNo: "A", OrderOptionNo: "1"}}
	h.session.On("Primary").Return(nil, browser.ErrWindowMissing).Once()
	assert.Equal(t, confirm.Result{Reason: ReasonWindowMissing}, h.ctrl.ConfirmOrders(context.Background(), items))

	want := confirm.Result{OK: true, Results: []confirm.ItemResult{{OK: true, OrderNo: "A", OrderOptionNo: "1"}}}
	h.session.On("Primary").Return(&fakePage{}, nil).Once()
	h.confirmer.On("Confirm", mock.Anything, mock.Anything, items).Return(want).Once()
	assert.Equal(t, want, h.ctrl.ConfirmOrders(context.Background(), items))
}

func TestWriteReviewsSeedsClientFromPrimary(t *testing.T) {
	h := newHarness(t, false)
	page := &fakePage{name: "primary"}
	items := []musinsa.WriteItem{{OrderNo: "A", OrderOptionNo: "1", Template: musinsa.Template{GeneralContent: "x"}}}
	want := review.Result{OK: true}
	h.session.On("Primary").Return(page, nil).Once()
	h.api.On("Write", mock.Anything, mock.Anything, items).Return(want).Once()

	assert.Equal(t, want, h.ctrl.WriteReviews(context.Background(), items))
	require.Len(t, h.clientSrc, 1)
	assert.Same(t, page, h.clientSrc[0])

	h.session.On("Primary").Return(nil, browser.ErrWindowMissing).Once()
	assert.Equal(t, review.Result{Reason: ReasonWindowMissing}, h.ctrl.WriteReviews(context.Background(), items))

	h.ctrl.NewClient = func(context.Context, musinsa.CookieSource) (review.Client, error) {
		return nil, errors.New("jar")
	}
	h.session.On("Primary").Return(page, nil).Once()
	assert.Equal(t, review.Result{Reason: ReasonClientFailed}, h.ctrl.WriteReviews(context.Background(), items))
}

func TestWriteReviewsDom(t *testing.T) {
	items := []musinsa.WriteItem{{OrderNo: "A", OrderOptionNo: "1", Template: musinsa.Template{GeneralContent: "x"}}}

	t.Run("refetches targets in the review tab and streams steps", func(t *testing.T) {
		h := newHarness(t, false)
		h.ctrl.ReviewVisible = true
		primary, reviewTab := &fakePage{name: "primary"}, &fakePage{name: "review"}
		targets := []musinsa.ListingRecord{{OrderNo: "A", OrderOptionNo: "1"}}
		want := review.Result{OK: true, Results: []review.ItemResult{{OK: true, OrderNo: "A", OrderOptionNo: "1"}}}

		h.session.On("Primary").Return(primary, nil).Once()
		h.session.On("EnsureReview", mock.Anything, true).Return(reviewTab, nil).Once()
		h.scraper.On("FetchTargets", mock.Anything, mock.Anything).Return(scraper.TargetsResult{OK: true, ReviewTargets: targets}).Once()
		h.dom.On("Write", mock.Anything, reviewTab, targets, items, mock.Anything).
			Run(func(args mock.Arguments) {
				trace := args.Get(4).(review.Trace)
				trace(review.Step{Name: "navigate:write", OrderNo: "A", OrderOptionNo: "1", Kind: musinsa.ReviewGeneral})
			}).
			Return(want).Once()

		assert.Equal(t, want, h.ctrl.WriteReviewsDom(context.Background(), items))
		evs := h.drain()
		require.Equal(t, []string{EventDebugLog}, eventTypes(evs))
		assert.Equal(t, DebugEntry{Scope: "review_dom", Step: "navigate:write", OrderNo: "A", OrderOptionNo: "1", Kind: "general"}, evs[0].Payload)
	})

	t.Run("empty payload", func(t *testing.T) {
		h := newHarness(t, false)
		assert.Equal(t, review.ReasonEmptyPayload, h.ctrl.WriteReviewsDom(context.Background(), nil).Reason)
	})

	t.Run("primary window missing", func(t *testing.T) {
		h := newHarness(t, false)
		h.session.On("Primary").Return(nil, browser.ErrWindowMissing).Once()
		assert.Equal(t, ReasonWindowMissing, h.ctrl.WriteReviewsDom(context.Background(), items).Reason)
	})

	t.Run("review window cannot open", func(t *testing.T) {
		h := newHarness(t, false)
		h.session.On("Primary").Return(&fakePage{}, nil).Once()
		h.session.On("EnsureReview", mock.Anything, false).Return(nil, errors.New("target closed")).Once()
		assert.Equal(t, ReasonReviewWindowMissing, h.ctrl.WriteReviewsDom(context.Background(), items).Reason)
	})

	t.Run("listing fails in the review tab", func(t *testing.T) {
		h := newHarness(t, false)
		h.session.On("Primary").Return(&fakePage{}, nil).Once()
		h.session.On("EnsureReview", mock.Anything, false).Return(&fakePage{}, nil).Once()
		h.scraper.On("FetchTargets", mock.Anything, mock.Anything).Return(scraper.TargetsResult{}).Once()
		assert.Equal(t, ReasonReviewFetchFailed, h.ctrl.WriteReviewsDom(context.Background(), items).Reason)
	})
}

func TestResolveTemplatesFromStore(t *testing.T) {
	h := newHarness(t, true)
	stored := musinsa.Template{ProductType: musinsa.CategoryShoes, GeneralContent: "stored general", StyleContent: "stored style"}
	bare := musinsa.WriteItem{OrderNo: "A", OrderOptionNo: "1", GoodsNo: "10", GoodsName: "Shoe", BrandName: "Brand", GoodsOptionName: "260"}
	filled := musinsa.WriteItem{OrderNo: "B", Template: musinsa.Template{GeneralContent: "typed"}}

	optionKey := validation.OptionKey("10", "Shoe", "Brand", "260")
	productKey := validation.ProductKey("10", "Shoe", "Brand")
	h.store.On("GetTemplate", mock.Anything, optionKey).Return(store.TemplateRecord{}, store.ErrNotFound).Once()
	h.store.On("GetTemplate", mock.Anything, productKey).Return(store.TemplateRecord{ProductKey: productKey, Template: stored}, nil).Once()

	got := h.ctrl.resolveTemplates(context.Background(), []musinsa.WriteItem{bare, filled})
	want := []musinsa.WriteItem{bare, filled}
	want[0].Template = stored
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolved items mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, bare.Template.GeneralContent, "the caller's slice is not modified")
}

func TestSyncOrdersRange(t *testing.T) {
	orders := []musinsa.Order{{OrderNo: "1", OrderDate: "2026-03-01"}}

	t.Run("streams progress and saves orders", func(t *testing.T) {
		h := newHarness(t, true)
		h.session.On("Primary").Return(&fakePage{}, nil).Once()
		h.scraper.On("SyncRange", mock.Anything, mock.Anything, "2026-03-01", "2026-03-31", mock.Anything).
			Run(func(args mock.Arguments) {
				progress := args.Get(4).(func(scraper.Progress))
				progress(scraper.Progress{Done: 1, Total: 1})
				progress(scraper.Progress{Reset: true})
			}).
			Return(scraper.RangeResult{OK: true, Orders: orders}).Once()
		h.store.On("SaveOrders", mock.Anything, orders).Return(errors.New("db down")).Once()

		res := h.ctrl.SyncOrdersRange(context.Background(), "2026-03-01", "2026-03-31")
		assert.True(t, res.OK, "a failed save does not fail the sync")
		evs := h.drain()
		require.Equal(t, []string{EventSyncProgress, EventSyncProgress}, eventTypes(evs))
		assert.Equal(t, scraper.Progress{Reset: true}, evs[1].Payload)
	})

	t.Run("primary window missing", func(t *testing.T) {
		h := newHarness(t, false)
		h.session.On("Primary").Return(nil, browser.ErrWindowMissing).Once()
		assert.Equal(t, scraper.RangeResult{Reason: ReasonWindowMissing}, h.ctrl.SyncOrdersRange(context.Background(), "a", "b"))
	})
}

func TestCloseReviewWindow(t *testing.T) {
	h := newHarness(t, false)
	h.session.On("CloseReviewWindow", mock.Anything).Return().Once()
	assert.Equal(t, OKResult{OK: true}, h.ctrl.CloseReviewWindow(context.Background()))
}

func TestReadFile(t *testing.T) {
	h := newHarness(t, false)
	path := filepath.Join(t.TempDir(), "img.jpg")
	require.NoError(t, os.WriteFile(path, []byte("hi!"), 0o600))

	got := h.ctrl.ReadFile(path)
	require.NotNil(t, got)
	assert.Equal(t, "aGkh", *got)
	assert.Nil(t, h.ctrl.ReadFile(filepath.Join(t.TempDir(), "missing.jpg")))
	assert.Nil(t, h.ctrl.ReadFile(""))
}

func TestSetFileInputFiles(t *testing.T) {
	cases := []struct {
		name   string
		files  []string
		page   *fakePage
		winErr error
		want   OKResult
	}{
		{"no files", nil, nil, nil, OKResult{Reason: ReasonEmptyFiles}},
		{"no window", []string{"/a.jpg"}, nil, browser.ErrWindowMissing, OKResult{Reason: ReasonFileWindowMissing}},
		{"selector misses", []string{"/a.jpg"}, &fakePage{fileErr: browser.ErrNodeNotFound}, nil, OKResult{Reason: ReasonNodeNotFound}},
		{"window closes mid call", []string{"/a.jpg"}, &fakePage{fileErr: browser.ErrWindowMissing}, nil, OKResult{Reason: ReasonFileWindowMissing}},
		{"protocol error", []string{"/a.jpg"}, &fakePage{fileErr: errors.New("boom")}, nil, OKResult{Reason: ReasonException}},
		{"assigned", []string{"/a.jpg", "/b.jpg"}, &fakePage{}, nil, OKResult{OK: true}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, false)
			if len(tc.files) > 0 {
				if tc.winErr != nil {
					h.session.On("FileInputPage").Return(nil, tc.winErr).Once()
				} else {
					h.session.On("FileInputPage").Return(tc.page, nil).Once()
				}
			}
			assert.Equal(t, tc.want, h.ctrl.SetFileInputFiles(context.Background(), "input[type=file]", tc.files))
			if tc.want.OK {
				assert.Equal(t, []string{"input[type=file]", "/a.jpg", "/b.jpg"}, tc.page.files)
			}
		})
	}
}

func TestSaveTemplate(t *testing.T) {
	valid := musinsa.Template{
		ProductType:    musinsa.CategoryAccessories,
		GeneralContent: "abcdefghij klmnopqrst",
		StyleContent:   "abcdefghij klmnopqrst",
	}
	short := valid
	short.GeneralContent = "abcdefghij klmnopqrs"

	t.Run("rejects short content without a store", func(t *testing.T) {
		h := newHarness(t, false)
		res := h.ctrl.SaveTemplate(context.Background(), "k", short)
		assert.False(t, res.OK)
		assert.Equal(t, validation.ReasonGeneralTooShort, res.Reason)
		assert.Contains(t, res.Detail, "19")
	})

	t.Run("valid template without a store", func(t *testing.T) {
		h := newHarness(t, false)
		assert.Equal(t, TemplateResult{Reason: ReasonStoreUnavailable}, h.ctrl.SaveTemplate(context.Background(), "k", valid))
	})

	t.Run("store reports validation and storage errors", func(t *testing.T) {
		h := newHarness(t, true)
		h.store.On("SaveTemplate", mock.Anything, "k", valid).Return(nil).Once()
		h.store.On("SaveTemplate", mock.Anything, "k", short).Return(validation.ValidateTemplate("k", short)).Once()
		h.store.On("SaveTemplate", mock.Anything, "j", valid).Return(errors.New("conn reset")).Once()

		assert.Equal(t, TemplateResult{OK: true}, h.ctrl.SaveTemplate(context.Background(), "k", valid))
		assert.Equal(t, validation.ReasonGeneralTooShort, h.ctrl.SaveTemplate(context.Background(), "k", short).Reason)
		assert.Equal(t, TemplateResult{Reason: ReasonStoreFailed, Detail: "conn reset"}, h.ctrl.SaveTemplate(context.Background(), "j", valid))
	})
}

func TestTemplateQueries(t *testing.T) {
	h := newHarness(t, true)
	rec := store.TemplateRecord{ProductKey: "k"}
	h.store.On("GetTemplate", mock.Anything, "k").Return(rec, nil).Once()
	h.store.On("GetTemplate", mock.Anything, "x").Return(store.TemplateRecord{}, store.ErrNotFound).Once()
	h.store.On("ListTemplates", mock.Anything).Return([]store.TemplateRecord{rec}, nil).Once()
	h.store.On("DeleteTemplate", mock.Anything, "k").Return(nil).Once()

	ctx := context.Background()
	assert.Equal(t, TemplateResult{OK: true, Template: &rec}, h.ctrl.GetTemplate(ctx, "k"))
	assert.Equal(t, TemplateResult{Reason: ReasonTemplateNotFound}, h.ctrl.GetTemplate(ctx, "x"))
	assert.Equal(t, TemplateResult{OK: true, Templates: []store.TemplateRecord{rec}}, h.ctrl.ListTemplates(ctx))
	assert.Equal(t, TemplateResult{OK: true}, h.ctrl.DeleteTemplate(ctx, "k"))

	bare := newHarness(t, false)
	assert.Equal(t, ReasonStoreUnavailable, bare.ctrl.ListTemplates(ctx).Reason)
}

func TestStartAndStop(t *testing.T) {
	h := newHarness(t, false)
	h.auth.On("AutoLogin", mock.Anything).Return("clicked", true).Once()
	h.health.On("Stop").Return().Once()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.ctrl.Start(ctx)
	assert.Equal(t, ctx, h.ctrl.lifetime())

	h.ctrl.Stop()
	_, open := <-h.events
	assert.False(t, open, "stopping closes the event stream")
}
