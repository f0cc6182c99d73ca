package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap/zaptest"
)

func TestComponentsShutdown(t *testing.T) {
	t.Run("tears down in order", func(t *testing.T) {
		health := new(MockHealth)
		browser := new(MockBrowser)
		pool := new(MockPool)

		var order []string
		health.On("Stop").Run(func(mock.Arguments) { order = append(order, "controller") }).Return().Once()
		browser.On("Shutdown", mock.Anything).Run(func(mock.Arguments) { order = append(order, "browser") }).Return().Once()
		pool.On("Close").Run(func(mock.Arguments) { order = append(order, "pool") }).Return().Once()

		c := &Components{
			Controller: New(Deps{Health: health}, nil, zaptest.NewLogger(t)),
			Browser:    browser,
			DBPool:     pool,
		}
		c.Shutdown()

		assert.Equal(t, []string{"controller", "browser", "pool"}, order)
		mock.AssertExpectationsForObjects(t, health, browser, pool)
	})

	t.Run("partial components", func(t *testing.T) {
		browser := new(MockBrowser)
		browser.On("Shutdown", mock.Anything).Return().Once()

		c := &Components{Browser: browser}
		assert.NotPanics(t, c.Shutdown)
		browser.AssertExpectations(t)
	})
}
