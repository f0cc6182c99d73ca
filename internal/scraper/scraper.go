// Package scraper pages through the site's listing APIs: the review/confirmation listing used
// to find work, and the order-history listing plus per-order detail used for the full sync.
package scraper

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

const dateLayout = "2006-01-02"

// Scraper runs listing and sync jobs. Requests go through whichever Doer the caller passes,
// normally a PageFetcher bound to a logged-in tab.
type Scraper struct {
	cfg       config.ScraperConfig
	endpoints musinsa.Endpoints
	metrics   *observability.Metrics
	logger    *zap.Logger
	now       func() time.Time

	// details holds orders already resolved during the current sync, so a retried attempt
	// does not fetch them again.
	details *lru.Cache[string, musinsa.Order]

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a scraper.
func New(cfg config.ScraperConfig, endpoints musinsa.Endpoints, metrics *observability.Metrics, logger *zap.Logger) (*Scraper, error) {
	size := cfg.DetailCacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[string, musinsa.Order](size)
	if err != nil {
		return nil, fmt.Errorf("scraper: failed to create detail cache: %w", err)
	}
	return &Scraper{
		cfg:       cfg,
		endpoints: endpoints,
		metrics:   metrics,
		logger:    logger.Named("scraper"),
		now:       time.Now,
		details:   cache,
	}, nil
}

// do issues one request under the per-request timeout.
func (s *Scraper) do(ctx context.Context, doer musinsa.Doer, req musinsa.Request) (*musinsa.Response, error) {
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}
	return doer.Do(ctx, req)
}

// errorMessage renders a failure the way it is reported at the boundary.
func errorMessage(err error) string {
	var se *musinsa.StatusError
	if errors.As(err, &se) {
		return se.Code()
	}
	if kind := remote.KindOf(err); kind != "" {
		return string(kind)
	}
	return err.Error()
}
