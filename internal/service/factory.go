package service

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/auth"
	"github.com/xkilldash9x/musinsa-manager/internal/browser"
	"github.com/xkilldash9x/musinsa-manager/internal/browser/remote"
	"github.com/xkilldash9x/musinsa-manager/internal/config"
	"github.com/xkilldash9x/musinsa-manager/internal/confirm"
	"github.com/xkilldash9x/musinsa-manager/internal/events"
	"github.com/xkilldash9x/musinsa-manager/internal/health"
	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/observability"
	"github.com/xkilldash9x/musinsa-manager/internal/review"
	"github.com/xkilldash9x/musinsa-manager/internal/scraper"
	"github.com/xkilldash9x/musinsa-manager/internal/store"
)

// managerSession adapts the browser manager to Session.
type managerSession struct {
	m *browser.Manager
}

func (s managerSession) Primary() (Page, error) {
	w, err := s.m.Primary()
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s managerSession) EnsureReview(ctx context.Context, visible bool) (Page, error) {
	w, err := s.m.EnsureReviewWindow(ctx, visible)
	if err != nil {
		return nil, err
	}
	return w, nil
}

func (s managerSession) CloseReviewWindow(ctx context.Context) { s.m.CloseReviewWindow(ctx) }

func (s managerSession) FileInputPage() (Page, error) {
	w, err := s.m.FileInputWindow()
	if err != nil {
		return nil, err
	}
	return w, nil
}

// NewSession wraps a browser manager.
func NewSession(m *browser.Manager) Session { return managerSession{m: m} }

// NewClientFactory returns a ClientFactory building cookie-seeded HTTP clients.
func NewClientFactory(endpoints musinsa.Endpoints, cfg config.ReviewConfig, logger *zap.Logger) ClientFactory {
	return func(ctx context.Context, src musinsa.CookieSource) (review.Client, error) {
		client, err := musinsa.NewHTTPClient(endpoints, cfg.HTTPTimeout, nil, logger)
		if err != nil {
			return nil, err
		}
		if _, err := client.Seed(ctx, src); err != nil {
			return nil, fmt.Errorf("failed to seed cookies: %w", err)
		}
		return client, nil
	}
}

// NewComponents wires every component for a running process: the optional database, the
// browser with its primary tab, and the controller on top. On failure everything created
// so far is shut down.
func NewComponents(ctx context.Context, cfg config.Interface, metrics *observability.Metrics, logger *zap.Logger) (_ *Components, err error) {
	components := &Components{Metrics: metrics}

	// Ensure cleanup happens if initialization fails midway.
	defer func() {
		if err != nil {
			logger.Warn("Initialization failed, shutting down partially created components.", zap.Error(err))
			components.Shutdown()
		}
	}()

	// 1. Database (optional)
	var templates TemplateStore
	if url := cfg.Database().URL; url != "" {
		pool, perr := pgxpool.New(ctx, url)
		if perr != nil {
			return nil, fmt.Errorf("failed to create database connection pool: %w", perr)
		}
		components.DBPool = pool

		dbStore, serr := store.New(ctx, pool, logger)
		if serr != nil {
			return nil, fmt.Errorf("failed to initialize database store: %w", serr)
		}
		if merr := dbStore.Migrate(ctx); merr != nil {
			return nil, merr
		}
		templates = dbStore
		logger.Debug("Store initialized.")
	} else {
		logger.Info("No database configured; templates and synced orders are not persisted.")
	}

	// 2. Browser manager and the primary tab.
	manager := browser.NewManager(cfg.Browser(), cfg.Site(), metrics, logger)
	components.Browser = manager
	if serr := manager.Start(ctx); serr != nil {
		return nil, serr
	}
	if _, perr := manager.CreatePrimary(ctx); perr != nil {
		return nil, fmt.Errorf("failed to open primary window: %w", perr)
	}
	logger.Debug("Browser manager initialized.")

	// 3. Domain components.
	endpoints := musinsa.NewEndpoints(cfg.Site())
	scr, serr := scraper.New(cfg.Scraper(), endpoints, metrics, logger)
	if serr != nil {
		return nil, serr
	}
	session := NewSession(manager)
	authCtl := auth.NewController(cfg.Auth(), endpoints,
		func() (auth.Page, error) {
			w, err := manager.Primary()
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		manager, metrics, logger)

	ctrl := New(Deps{
		Session:       session,
		Auth:          authCtl,
		Scraper:       scr,
		Confirmer:     confirm.NewEngine(cfg.Confirm(), endpoints, metrics, logger),
		APIWriter:     review.NewAPIWriter(cfg.Review(), endpoints, metrics, logger),
		DOMWriter:     review.NewDOMWriter(cfg.Review(), endpoints, metrics, logger),
		Store:         templates,
		NewClient:     NewClientFactory(endpoints, cfg.Review(), logger),
		Bus:           events.NewBroadcaster[Event](),
		ReviewVisible: cfg.Browser().ReviewWindowVisible,
	}, metrics, logger)
	ctrl.Health = health.NewMonitor(cfg.Health(), endpoints,
		func() (remote.Evaluator, error) {
			w, err := manager.Primary()
			if err != nil {
				return nil, err
			}
			return w, nil
		},
		ctrl.PublishStatus, metrics, logger)
	components.Controller = ctrl

	ctrl.Start(ctx)
	logger.Info("Components ready.")
	return components, nil
}
