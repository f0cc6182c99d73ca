package scraper

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

// PageError records a listing page that failed.
type PageError struct {
	Page    int    `json:"page"`
	Message string `json:"message"`
}

// TargetsResult is the outcome of FetchTargets. Errors never discard pages that were
// already collected.
type TargetsResult struct {
	OK             bool                    `json:"ok"`
	Reason         string                  `json:"reason,omitempty"`
	ReviewTargets  []musinsa.ListingRecord `json:"reviewTargets"`
	ConfirmTargets []musinsa.ListingRecord `json:"confirmTargets"`
	TotalFetched   int                     `json:"totalFetched"`
	PagesFetched   int                     `json:"pagesFetched"`
	Errors         []PageError             `json:"errors"`
	SearchFromYmd  string                  `json:"searchFromYmd"`
	SearchToYmd    string                  `json:"searchToYmd"`
}

// Classify splits listing records into confirmation and review work. Unconfirmed records
// only ever need confirmation; confirmed records need a review when both slots are open.
func Classify(records []musinsa.ListingRecord) (review, confirm []musinsa.ListingRecord) {
	review = []musinsa.ListingRecord{}
	confirm = []musinsa.ListingRecord{}
	for _, r := range records {
		switch {
		case r.NeedsConfirmation():
			confirm = append(confirm, r)
		case r.NeedsReview():
			review = append(review, r)
		}
	}
	return review, confirm
}

// FetchTargets pages the review listing over the lookback window with a fixed pool of
// workers sharing one page cursor. The first short page or failed page stops every worker
// from claiming another page; requests already in flight still complete.
func (s *Scraper) FetchTargets(ctx context.Context, doer musinsa.Doer) TargetsResult {
	logger, _ := observability.WithOperation(s.logger, "fetch_targets")
	started := time.Now()
	defer func() { s.metrics.ObserveOperation("fetch_targets", time.Since(started).Seconds()) }()

	now := s.now()
	from := now.AddDate(0, 0, -s.cfg.LookbackDays).Format(dateLayout)
	to := now.Format(dateLayout)
	size := s.cfg.PageSize
	workers := s.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	var (
		cursor atomic.Int64
		done   atomic.Bool
		mu     sync.Mutex
		pages  = make(map[int][]musinsa.ListingRecord)
		errs   = []PageError{}
	)

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for !done.Load() && ctx.Err() == nil {
				page := int(cursor.Add(1))
				list, err := s.fetchListingPage(ctx, doer, page, size, from, to)

				mu.Lock()
				if err != nil {
					errs = append(errs, PageError{Page: page, Message: errorMessage(err)})
					done.Store(true)
				} else {
					if len(list) > 0 {
						pages[page] = list
					}
					if len(list) < size {
						done.Store(true)
					}
				}
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	order := make([]int, 0, len(pages))
	for p := range pages {
		order = append(order, p)
	}
	sort.Ints(order)
	var all []musinsa.ListingRecord
	for _, p := range order {
		all = append(all, pages[p]...)
	}
	sort.Slice(errs, func(i, j int) bool { return errs[i].Page < errs[j].Page })

	review, confirm := Classify(all)
	logger.Info("Review targets fetched.",
		zap.Int("pages", len(order)),
		zap.Int("records", len(all)),
		zap.Int("review_targets", len(review)),
		zap.Int("confirm_targets", len(confirm)),
		zap.Int("errors", len(errs)))

	return TargetsResult{
		OK:             true,
		ReviewTargets:  review,
		ConfirmTargets: confirm,
		TotalFetched:   len(all),
		PagesFetched:   len(order),
		Errors:         errs,
		SearchFromYmd:  from,
		SearchToYmd:    to,
	}
}

type listingEnvelope struct {
	Data struct {
		List json.RawMessage `json:"list"`
	} `json:"data"`
}

func (s *Scraper) fetchListingPage(ctx context.Context, doer musinsa.Doer, page, size int, from, to string) ([]musinsa.ListingRecord, error) {
	res, err := s.do(ctx, doer, musinsa.GetJSON(s.endpoints.ReviewOrders(page, size, from, to, s.now())))
	if err != nil {
		s.metrics.ListingPage("review_orders", false)
		return nil, err
	}
	if !res.OK() {
		s.metrics.ListingPage("review_orders", false)
		return nil, musinsa.NewStatusError("", res.Status)
	}
	s.metrics.ListingPage("review_orders", true)

	var env listingEnvelope
	if err := res.Decode(&env); err != nil || len(env.Data.List) == 0 || env.Data.List[0] != '[' {
		return nil, nil
	}
	var list []musinsa.ListingRecord
	if err := json.Unmarshal(env.Data.List, &list); err != nil {
		return nil, err
	}
	return list, nil
}
