// Package confirm confirms purchases in bulk against the order API.
package confirm

import (
	"context"
	"sync/atomic"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

const (
	ReasonEmptyPayload = "empty_payload"
	ReasonInvalidItem  = "invalid_item"
)

// confirmBody marks the confirmation as coming from the my-page flow.
const confirmBody = `{"orderConfirmTrigger":"mypage"}`

// Item identifies one order line to confirm.
type Item struct {
	OrderNo       musinsa.FlexString `json:"orderNo"`
	OrderOptionNo musinsa.FlexString `json:"orderOptionNo"`
}

// ItemResult is the outcome for one item.
type ItemResult struct {
	OK            bool    `json:"ok"`
	OrderNo       string  `json:"orderNo"`
	OrderOptionNo string  `json:"orderOptionNo"`
	ConfirmedAt   *string `json:"confirmedAt,omitempty"`
	Reason        string  `json:"reason,omitempty"`
}

// Result is the batch outcome. OK only reports that the batch ran; each item carries its
// own outcome.
type Result struct {
	OK      bool         `json:"ok"`
	Reason  string       `json:"reason,omitempty"`
	Results []ItemResult `json:"results,omitempty"`
}

// Engine issues confirmation requests with a small worker pool.
type Engine struct {
	cfg       config.ConfirmConfig
	endpoints musinsa.Endpoints
	metrics   *observability.Metrics
	logger    *zap.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg config.ConfirmConfig, endpoints musinsa.Endpoints, metrics *observability.Metrics, logger *zap.Logger) *Engine {
	return &Engine{cfg: cfg, endpoints: endpoints, metrics: metrics, logger: logger.Named("confirm")}
}

// Confirm sends one PUT per item. Workers pull from a shared queue and pause between their
// own requests; nothing is retried here.
func (e *Engine) Confirm(ctx context.Context, doer musinsa.Doer, items []Item) Result {
	if len(items) == 0 {
		return Result{Reason: ReasonEmptyPayload}
	}
	logger, _ := observability.WithOperation(e.logger, "confirm_orders")

	workers := e.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(items) {
		workers = len(items)
	}

	results := make([]ItemResult, len(items))
	var next atomic.Int64
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		limiter := rate.NewLimiter(rate.Every(e.cfg.Delay), 1)
		if e.cfg.Delay <= 0 {
			limiter = rate.NewLimiter(rate.Inf, 1)
		}
		g.Go(func() error {
			for {
				i := int(next.Add(1)) - 1
				if i >= len(items) {
					return nil
				}
				if err := limiter.Wait(ctx); err != nil {
					results[i] = failed(items[i], err.Error())
					continue
				}
				results[i] = e.confirmOne(ctx, doer, items[i])
				e.metrics.Confirmation(results[i].OK)
			}
		})
	}
	_ = g.Wait()

	failures := 0
	for _, r := range results {
		if !r.OK {
			failures++
		}
	}
	logger.Info("Confirmation batch finished.", zap.Int("items", len(items)), zap.Int("failed", failures))
	return Result{OK: true, Results: results}
}

type confirmResponse struct {
	Meta musinsa.Meta `json:"meta"`
	Data struct {
		OrderConfirmedDate musinsa.FlexString `json:"orderConfirmedDate"`
	} `json:"data"`
}

func (e *Engine) confirmOne(ctx context.Context, doer musinsa.Doer, item Item) ItemResult {
	if item.OrderNo == "" || item.OrderOptionNo == "" {
		return failed(item, ReasonInvalidItem)
	}
	res, err := doer.Do(ctx, musinsa.Request{
		Method:  "PUT",
		URL:     e.endpoints.Confirm(item.OrderNo.String(), item.OrderOptionNo.String()),
		Headers: e.endpoints.JSONHeaders(),
		Body:    confirmBody,
	})
	if err != nil {
		e.logger.Warn("Confirmation request failed.", zap.String("order_no", item.OrderNo.String()), zap.Error(err))
		if kind := remote.KindOf(err); kind != "" {
			return failed(item, string(kind))
		}
		return failed(item, err.Error())
	}

	var body confirmResponse
	_ = json.Unmarshal(res.Body, &body)
	if !res.OK() || !body.Meta.Succeeded() {
		reason := body.Meta.ErrorCode
		if reason == "" {
			reason = musinsa.NewStatusError("", res.Status).Code()
		}
		return failed(item, reason)
	}

	out := ItemResult{OK: true, OrderNo: item.OrderNo.String(), OrderOptionNo: item.OrderOptionNo.String()}
	if at := body.Data.OrderConfirmedDate.String(); at != "" {
		out.ConfirmedAt = &at
	}
	return out
}

func failed(item Item, reason string) ItemResult {
	return ItemResult{OrderNo: item.OrderNo.String(), OrderOptionNo: item.OrderOptionNo.String(), Reason: reason}
}
