package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
)

func newScraper(t *testing.T) *Scraper {
	t.Helper()
	cfg := config.NewDefaultConfig()
	s, err := New(cfg.Scraper(), musinsa.NewEndpoints(cfg.Site()), nil, zaptest.NewLogger(t))
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s
}

func pageOf(t *testing.T, raw string) int {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	p, err := strconv.Atoi(u.Query().Get("page"))
	require.NoError(t, err)
	return p
}

func listingPage(n, page int) string {
	rows := make([]string, n)
	for i := range rows {
		rows[i] = fmt.Sprintf(`{"orderNo":"%d","orderOptionNo":%d,"confirmed":true,"writeItemList":[{"reviewType":"general","wrote":false},{"reviewType":"style","wrote":true}]}`, page, page*100+i)
	}
	return `{"data":{"list":[` + strings.Join(rows, ",") + `]}}`
}

func respond(status int, body string) (*musinsa.Response, error) {
	return &musinsa.Response{Status: status, Body: []byte(body)}, nil
}

func TestClassify(t *testing.T) {
	var records []musinsa.ListingRecord
	require.NoError(t, json.Unmarshal([]byte(`[
		{"orderNo":"1","confirmed":false,"writeItemList":[{"reviewType":"general","wrote":false},{"reviewType":"style","wrote":false}]},
		{"orderNo":"2","confirmed":true,"writeItemList":[{"reviewType":"general","wrote":false},{"reviewType":"style","wrote":false}]},
		{"orderNo":"3","confirmed":true,"writeItemList":[{"reviewType":"general","wrote":true},{"reviewType":"style","wrote":true}]},
		{"orderNo":"4","confirmed":true,"writeItemList":[{"reviewType":"general","wrote":false}]},
		{"orderNo":"5"}
	]`), &records))

	review, confirm := Classify(records)
	require.Len(t, confirm, 1)
	require.Len(t, review, 1)
	assert.Equal(t, "1", confirm[0].OrderNo.String())
	assert.Equal(t, "2", review[0].OrderNo.String())
}

func TestFetchTargetsThreePages(t *testing.T) {
	s := newScraper(t)
	sizes := map[int]int{1: 20, 2: 20, 3: 7}
	var (
		mu        sync.Mutex
		requested []int
	)
	doer := musinsa.DoerFunc(func(ctx context.Context, req musinsa.Request) (*musinsa.Response, error) {
		page := pageOf(t, req.URL)
		mu.Lock()
		requested = append(requested, page)
		mu.Unlock()
		return respond(200, listingPage(sizes[page], page))
	})

	res := s.FetchTargets(context.Background(), doer)
	assert.True(t, res.OK)
	assert.Equal(t, 3, res.PagesFetched)
	assert.Equal(t, 47, res.TotalFetched)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "2025-12-10", res.SearchFromYmd)
	assert.Equal(t, "2026-03-10", res.SearchToYmd)
	// Style slots are already written, so nothing qualifies.
	assert.Empty(t, res.ReviewTargets)
	assert.Empty(t, res.ConfirmTargets)

	// Every page from 3 on is short, so each worker claims at most one of them.
	mu.Lock()
	defer mu.Unlock()
	for _, p := range requested {
		assert.LessOrEqual(t, p, 2+s.cfg.Workers)
	}
}

func TestFetchTargetsKeepsPartialResults(t *testing.T) {
	s := newScraper(t)
	s.cfg.Workers = 1
	doer := musinsa.DoerFunc(func(ctx context.Context, req musinsa.Request) (*musinsa.Response, error) {
		if pageOf(t, req.URL) == 2 {
			return respond(403, "")
		}
		return respond(200, listingPage(20, 1))
	})

	res := s.FetchTargets(context.Background(), doer)
	assert.True(t, res.OK)
	assert.Equal(t, 20, res.TotalFetched)
	assert.Equal(t, 1, res.PagesFetched)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, PageError{Page: 2, Message: "status_403"}, res.Errors[0])
}

func TestFetchTargetsClassifiesRecords(t *testing.T) {
	s := newScraper(t)
	s.cfg.Workers = 1
	body := `{"data":{"list":[
		{"orderNo":"9","orderOptionNo":"91","confirmed":false},
		{"orderNo":"9","orderOptionNo":"92","confirmed":true,"writeItemList":[{"reviewType":"general","wrote":false},{"reviewType":"style","wrote":false}]}
	]}}`
	doer := musinsa.DoerFunc(func(ctx context.Context, req musinsa.Request) (*musinsa.Response, error) {
		return respond(200, body)
	})
	res := s.FetchTargets(context.Background(), doer)
	require.Len(t, res.ConfirmTargets, 1)
	require.Len(t, res.ReviewTargets, 1)

	out, err := json.Marshal(res.ReviewTargets[0])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"orderOptionNo":"92"`)
}

// rangeServer scripts the order listing and detail endpoints.
type rangeServer struct {
	mu          sync.Mutex
	pages       []string
	listCalls   int
	detail      func(orderNo string) (int, string)
	detailCalls map[string]int
	offsets     []string
}

func (r *rangeServer) Do(ctx context.Context, req musinsa.Request) (*musinsa.Response, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if strings.Contains(req.URL, "integration/order") {
		u, _ := url.Parse(req.URL)
		r.offsets = append(r.offsets, u.Query().Get("onlineOffset"))
		r.listCalls++
		idx, _ := strconv.Atoi(u.Query().Get("page"))
		idx--
		if idx >= len(r.pages) {
			return respond(200, `{"data":[]}`)
		}
		return respond(200, r.pages[idx])
	}
	orderNo := req.URL[strings.LastIndex(req.URL, "/")+1:]
	if r.detailCalls == nil {
		r.detailCalls = make(map[string]int)
	}
	r.detailCalls[orderNo]++
	status, body := r.detail(orderNo)
	return respond(status, body)
}

func simpleDetail(orderNo string) (int, string) {
	return 200, `{"orderInfo":{"ord_date":"2026-01-0` + orderNo + ` 10:00:00","recv_amt":10000,"without_recv_amt_promotion_discount_amt":10000},"orderOptionList":[{"goodsName":"g` + orderNo + `","quantity":1,"receiveAmount":10000}]}`
}

func TestSyncRangeStopsOnStaleCursor(t *testing.T) {
	s := newScraper(t)
	srv := &rangeServer{
		pages: []string{
			`{"data":[{"orderNo":"1","orderOptionNo":"11"},{"orderNo":"2","orderOptionNo":"21"}],"meta":{"onlineOffset":"abc"}}`,
			`{"data":[{"orderNo":"1","orderOptionNo":"11"}],"meta":{"onlineOffset":"def"}}`,
			`{"data":[{"orderNo":"2","orderOptionNo":"21"}],"meta":{"onlineOffset":"ghi"}}`,
			`{"data":[{"orderNo":"3","orderOptionNo":"31"}],"meta":{"onlineOffset":"jkl"}}`,
		},
		detail: simpleDetail,
	}

	res := s.SyncRange(context.Background(), srv, "2026-01-01", "2026-01-31", nil)
	require.True(t, res.OK, res.Reason)
	assert.Equal(t, 3, srv.listCalls)
	assert.Equal(t, []string{"", "abc", "def"}, srv.offsets)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, "2", res.Orders[0].OrderNo)
	assert.Equal(t, "1", res.Orders[1].OrderNo)
}

func TestSyncRangeStopsOnEmptyPage(t *testing.T) {
	s := newScraper(t)
	srv := &rangeServer{
		pages: []string{
			`{"data":[{"orderNo":"1"}],"meta":{"onlineOffset":"0"}}`,
			`{"data":[],"meta":{}}`,
		},
		detail: simpleDetail,
	}
	res := s.SyncRange(context.Background(), srv, "2026-01-01", "2026-01-31", nil)
	require.True(t, res.OK)
	assert.Equal(t, 2, srv.listCalls)
	assert.Equal(t, []string{"", ""}, srv.offsets)
}

func TestSyncRangeInvalidRange(t *testing.T) {
	s := newScraper(t)
	for _, r := range [][2]string{{"", "2026-01-01"}, {"2026-01-01", ""}, {"2026/01/01", "2026-01-02"}, {"2026-02-01", "2026-01-01"}} {
		res := s.SyncRange(context.Background(), &rangeServer{}, r[0], r[1], nil)
		assert.False(t, res.OK)
		assert.Equal(t, ReasonInvalidRange, res.Reason)
	}
}

func TestSyncRangeRetriesTransientDetailFailure(t *testing.T) {
	s := newScraper(t)
	var failures atomic.Int64
	srv := &rangeServer{
		pages: []string{`{"data":[{"orderNo":"1"},{"orderNo":"2"}]}`},
		detail: func(orderNo string) (int, string) {
			if orderNo == "2" && failures.Add(1) == 1 {
				return 429, ""
			}
			return simpleDetail(orderNo)
		},
	}

	var (
		mu       sync.Mutex
		progress []Progress
	)
	res := s.SyncRange(context.Background(), srv, "2026-01-01", "2026-01-31", func(p Progress) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
	})
	require.True(t, res.OK, res.Reason)
	assert.Len(t, res.Orders, 2)
	assert.Empty(t, res.Errors)
	// The listing is read once: the page and the empty page after it.
	assert.Equal(t, 2, srv.listCalls)
	// Only the failing detail was fetched again.
	assert.Equal(t, 1, srv.detailCalls["1"])
	assert.Equal(t, 2, srv.detailCalls["2"])

	require.NotEmpty(t, progress)
	assert.Equal(t, Progress{Reset: true}, progress[len(progress)-1])
	assert.Equal(t, Progress{Done: 2, Total: 2}, progress[len(progress)-2])
}

func TestSyncRangeKeepsOrdersWhenOneDetailKeepsFailing(t *testing.T) {
	s := newScraper(t)
	srv := &rangeServer{
		pages: []string{`{"data":[{"orderNo":"1"},{"orderNo":"2"},{"orderNo":"3"}]}`},
		detail: func(orderNo string) (int, string) {
			if orderNo == "2" {
				return 503, ""
			}
			return simpleDetail(orderNo)
		},
	}

	var (
		mu   sync.Mutex
		last Progress
	)
	res := s.SyncRange(context.Background(), srv, "2026-01-01", "2026-01-31", func(p Progress) {
		mu.Lock()
		if !p.Reset {
			last = p
		}
		mu.Unlock()
	})
	require.True(t, res.OK, res.Reason)
	require.Len(t, res.Orders, 2)
	assert.Equal(t, "3", res.Orders[0].OrderNo)
	assert.Equal(t, "1", res.Orders[1].OrderNo)
	assert.Equal(t, []OrderError{{OrderNo: "2", Reason: "detail_status_503"}}, res.Errors)

	assert.Equal(t, 1+s.cfg.Retry.MaxRetries, srv.detailCalls["2"])
	assert.Equal(t, 1, srv.detailCalls["1"])
	assert.Equal(t, 2, srv.listCalls, "a detail failure never reruns the listing")
	assert.Equal(t, Progress{Done: 2, Total: 3}, last)

	out, err := json.Marshal(res)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"errors":[{"orderNo":"2","reason":"detail_status_503"}]`)
}

func TestSyncRangeListFailures(t *testing.T) {
	s := newScraper(t)
	calls := 0
	doer := musinsa.DoerFunc(func(ctx context.Context, req musinsa.Request) (*musinsa.Response, error) {
		calls++
		return respond(401, "")
	})
	res := s.SyncRange(context.Background(), doer, "2026-01-01", "2026-01-31", nil)
	assert.False(t, res.OK)
	assert.Equal(t, "list_status_401", res.Reason)
	assert.Equal(t, 1+s.cfg.Retry.MaxRetries, calls)

	calls = 0
	doer = musinsa.DoerFunc(func(ctx context.Context, req musinsa.Request) (*musinsa.Response, error) {
		calls++
		return nil, errors.New("boom")
	})
	res = s.SyncRange(context.Background(), doer, "2026-01-01", "2026-01-31", nil)
	assert.False(t, res.OK)
	assert.Equal(t, 1, calls)
}

func TestSyncRangeSkipsMissingDetail(t *testing.T) {
	s := newScraper(t)
	srv := &rangeServer{
		pages: []string{`{"data":[{"orderNo":"1"},{"orderNo":"2"}]}`},
		detail: func(orderNo string) (int, string) {
			if orderNo == "1" {
				return 404, ""
			}
			return simpleDetail(orderNo)
		},
	}
	res := s.SyncRange(context.Background(), srv, "2026-01-01", "2026-01-31", nil)
	require.True(t, res.OK)
	require.Len(t, res.Orders, 1)
	assert.Equal(t, "2", res.Orders[0].OrderNo)
	assert.Equal(t, []OrderError{{OrderNo: "1", Reason: "detail_status_404"}}, res.Errors)
	assert.Equal(t, 1, srv.detailCalls["1"], "client errors are not retried")
}

func TestSortOrders(t *testing.T) {
	orders := []musinsa.Order{
		{OrderNo: "100", OrderDate: "2026-01-01"},
		{OrderNo: "300", OrderDate: "2026-01-02"},
		{OrderNo: "200", OrderDate: "2026-01-01"},
	}
	SortOrders(orders)
	assert.Equal(t, []string{"300", "200", "100"}, []string{orders[0].OrderNo, orders[1].OrderNo, orders[2].OrderNo})
}
