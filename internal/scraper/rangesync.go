package scraper

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"github.com/xkilldash9x/musinsa-manager/internal/retry"
)

const (
	ReasonInvalidRange = "invalid_range"
	reasonSyncFailed   = "sync_failed"
)

// Progress reports how many orders have been resolved. Reset marks the end of a sync.
type Progress struct {
	Done  int  `json:"done"`
	Total int  `json:"total"`
	Reset bool `json:"reset"`
}

// RangeResult is the outcome of SyncRange. A sync that listed orders is OK even when some
// details could not be read; those orders are reported in Errors.
type RangeResult struct {
	OK     bool            `json:"ok"`
	Orders []musinsa.Order `json:"orders,omitempty"`
	Errors []OrderError    `json:"errors,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// OrderError is an order whose detail could not be resolved.
type OrderError struct {
	OrderNo string `json:"orderNo"`
	Reason  string `json:"reason"`
}

// cursorKeys are the meta fields that may carry the next-page cursor, in priority order.
var cursorKeys = []string{"onlineOffset", "online_offset", "nextOffset", "next_offset", "offset"}

// SyncRetryable matches the failures worth rerunning a sync step for.
var SyncRetryable = retry.ContainsAny("429", "list_status_", "detail_status_")

// detailRetryable limits detail retries to rate limiting and server errors.
func detailRetryable(err error) bool {
	var se *musinsa.StatusError
	return errors.As(err, &se) && se.Transient()
}

// SyncRange pulls every order between start and end (YYYY-MM-DD, inclusive), resolves each
// order's detail and computes per-unit costs. Rate limiting and server errors on the listing
// rerun the listing under the configured backoff; the same errors on a detail rerun only that
// detail. Progress always ends with a reset.
func (s *Scraper) SyncRange(ctx context.Context, doer musinsa.Doer, start, end string, progress func(Progress)) RangeResult {
	if progress == nil {
		progress = func(Progress) {}
	}
	if !validRange(start, end) {
		return RangeResult{Reason: ReasonInvalidRange}
	}
	logger, _ := observability.WithOperation(s.logger, "sync_range")
	started := time.Now()
	defer func() { s.metrics.ObserveOperation("sync_range", time.Since(started).Seconds()) }()
	defer progress(Progress{Reset: true})

	s.details.Purge()

	var entries []listEntry
	err := s.retryPolicy(logger, SyncRetryable, "Order list failed, retrying.").Do(ctx, func(ctx context.Context, attempt int) error {
		var err error
		entries, err = s.listOrders(ctx, logger, doer, start, end)
		return err
	})
	var (
		orders []musinsa.Order
		failed []OrderError
	)
	if err == nil {
		orders, failed, err = s.resolveDetails(ctx, logger, doer, entries, progress)
	}
	if err != nil {
		s.metrics.SyncAttempt("failed")
		logger.Error("Order sync failed.", zap.Error(err))
		reason := errorMessage(err)
		if reason == "" {
			reason = reasonSyncFailed
		}
		return RangeResult{Reason: reason}
	}

	outcome := "ok"
	if len(failed) > 0 {
		outcome = "partial"
	}
	s.metrics.SyncAttempt(outcome)
	progress(Progress{Done: len(orders), Total: len(entries)})
	logger.Info("Order sync finished.", zap.Int("orders", len(orders)), zap.Int("failed", len(failed)))
	return RangeResult{OK: true, Orders: orders, Errors: failed}
}

func (s *Scraper) retryPolicy(logger *zap.Logger, retryable func(error) bool, msg string) retry.Policy {
	policy := retry.FromConfig(s.cfg.Retry, retryable)
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		s.metrics.SyncAttempt("retry")
		logger.Warn(msg, zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))
	}
	if s.sleep != nil {
		policy = policy.WithSleep(s.sleep)
	}
	return policy
}

func validRange(start, end string) bool {
	if start == "" || end == "" {
		return false
	}
	from, err := time.Parse(dateLayout, start)
	if err != nil {
		return false
	}
	to, err := time.Parse(dateLayout, end)
	if err != nil {
		return false
	}
	return !to.Before(from)
}

// listEntry is one row of the order-history listing kept for fallback item data.
type listEntry struct {
	orderNo string
	raw     json.Any
}

// listOrders walks the cursor-paged listing. It stops on an empty page, after StaleLimit
// consecutive pages that add nothing new, or at RangeMaxPages.
func (s *Scraper) listOrders(ctx context.Context, logger *zap.Logger, doer musinsa.Doer, start, end string) ([]listEntry, error) {
	var (
		entries []listEntry
		byOrder = make(map[string]bool)
		seen    = make(map[string]bool)
		cursor  string
		stale   int
	)
	for page := 1; page <= s.cfg.RangeMaxPages; page++ {
		res, err := s.do(ctx, doer, musinsa.GetJSON(s.endpoints.OrderList(page, s.cfg.RangePageSize, start, end, cursor)))
		if err != nil {
			s.metrics.ListingPage("order_list", false)
			return nil, fmt.Errorf("scraper: order list page %d: %w", page, err)
		}
		if !res.OK() {
			s.metrics.ListingPage("order_list", false)
			return nil, musinsa.NewStatusError("list_", res.Status)
		}
		s.metrics.ListingPage("order_list", true)

		doc := json.Get(res.Body)
		data, _ := arrayAt(doc, "data")
		added := 0
		for _, row := range data {
			key := rowKey(row)
			if seen[key] {
				continue
			}
			seen[key] = true
			added++
			orderNo := scalar(row.Get("orderNo"))
			if orderNo != "" && !byOrder[orderNo] {
				byOrder[orderNo] = true
				entries = append(entries, listEntry{orderNo: orderNo, raw: row})
			}
		}
		cursor = nextCursor(doc.Get("meta"))

		if added == 0 {
			stale++
		} else {
			stale = 0
		}
		logger.Debug("Order list page.", zap.Int("page", page), zap.Int("rows", len(data)), zap.Int("new", added), zap.String("cursor", cursor))
		if len(data) == 0 || stale >= s.cfg.StaleLimit {
			break
		}
	}
	return entries, nil
}

// rowKey identifies a listing row across pages.
func rowKey(row json.Any) string {
	orderNo := scalar(row.Get("orderNo"))
	optNo := scalar(row.Get("orderOptionNo"))
	if orderNo == "" && optNo == "" {
		return row.ToString()
	}
	return orderNo + "/" + optNo
}

// nextCursor reads the first cursor field present. Zero and blank mean no cursor.
func nextCursor(meta json.Any) string {
	for _, k := range cursorKeys {
		v := meta.Get(k)
		switch v.ValueType() {
		case json.InvalidValue, json.NilValue:
			continue
		}
		s := scalar(v)
		if s == "0" {
			return ""
		}
		return s
	}
	return ""
}

// resolveDetails fetches each order's detail with bounded concurrency. Each detail gets its
// own retries; an order that still fails is reported in the returned errors and the others
// are kept. Only cancellation aborts the whole resolution.
func (s *Scraper) resolveDetails(ctx context.Context, logger *zap.Logger, doer musinsa.Doer, entries []listEntry, progress func(Progress)) ([]musinsa.Order, []OrderError, error) {
	total := len(entries)
	progress(Progress{Done: 0, Total: total})

	limit := int64(s.cfg.DetailConcurrency)
	if limit < 1 {
		limit = 1
	}
	sem := semaphore.NewWeighted(limit)
	results := make([]*musinsa.Order, total)
	failures := make([]*OrderError, total)
	today := s.now().Format(dateLayout)
	policy := s.retryPolicy(logger, detailRetryable, "Order detail failed, retrying.")
	var done atomic.Int64

	var g errgroup.Group
	for i, entry := range entries {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			var order musinsa.Order
			err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
				var err error
				order, err = s.orderDetail(ctx, doer, entry, today)
				return err
			})
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				logger.Warn("Skipping order without detail.", zap.String("order_no", entry.orderNo), zap.Error(err))
				failures[i] = &OrderError{OrderNo: entry.orderNo, Reason: errorMessage(err)}
				return nil
			}
			results[i] = &order
			progress(Progress{Done: int(done.Add(1)), Total: total})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	orders := make([]musinsa.Order, 0, total)
	for _, o := range results {
		if o != nil {
			orders = append(orders, *o)
		}
	}
	var failed []OrderError
	for _, f := range failures {
		if f != nil {
			failed = append(failed, *f)
		}
	}
	SortOrders(orders)
	return orders, failed, nil
}

func (s *Scraper) orderDetail(ctx context.Context, doer musinsa.Doer, entry listEntry, today string) (musinsa.Order, error) {
	if cached, ok := s.details.Get(entry.orderNo); ok {
		return cached, nil
	}
	res, err := s.do(ctx, doer, musinsa.GetJSON(s.endpoints.OrderDetail(entry.orderNo)))
	if err != nil {
		return musinsa.Order{}, err
	}
	if !res.OK() {
		return musinsa.Order{}, musinsa.NewStatusError("detail_", res.Status)
	}
	doc := json.Get(res.Body)
	if doc.ValueType() != json.ObjectValue {
		return musinsa.Order{}, fmt.Errorf("scraper: order %s: detail is not an object", entry.orderNo)
	}
	order := BuildOrder(entry.orderNo, doc, entry.raw, today)
	s.details.Add(entry.orderNo, order)
	return order, nil
}

// SortOrders orders by date, newest first, then by order number descending.
func SortOrders(orders []musinsa.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].OrderDate != orders[j].OrderDate {
			return orders[i].OrderDate > orders[j].OrderDate
		}
		return orders[i].OrderNo > orders[j].OrderNo
	})
}
