package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/observability"
)

// BrowserShutdowner is the part of the browser manager Components tears down.
type BrowserShutdowner interface {
	Shutdown(ctx context.Context)
}

// Closer is the part of the database pool Components tears down.
type Closer interface {
	Close()
}

// Components holds everything a running process owns, so it can be torn down in order.
type Components struct {
	Controller *Controller
	Browser    BrowserShutdowner
	DBPool     Closer
	Metrics    *observability.Metrics
}

// Shutdown gracefully closes all components, ensuring resources are released in the correct order.
func (c *Components) Shutdown() {
	logger := observability.GetLogger()
	logger.Debug("Beginning components shutdown sequence.")

	// 1. Stop the session watch and the event stream so nothing new reaches the tabs.
	if c.Controller != nil {
		c.Controller.Stop()
		logger.Debug("Controller stopped.")
	}

	// 2. Shut down the browser manager.
	if c.Browser != nil {
		// Use a separate context with a timeout for shutdown to ensure it completes
		// even if the main application context was canceled.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		c.Browser.Shutdown(shutdownCtx)
		logger.Debug("Browser manager shut down.")
	}

	// 3. Close the database connection pool.
	if c.DBPool != nil {
		c.DBPool.Close()
		logger.Debug("Database connection pool closed.")
	}

	logger.Info("All components shut down.", zap.Bool("persistence", c.DBPool != nil))
}
