package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/musinsa-manager/internal/auth"
	"github.com/xkilldash9x/musinsa-manager/internal/scraper"
	"github.com/xkilldash9x/musinsa-manager/internal/validation"
)

func TestCommandsList(t *testing.T) {
	assert.Equal(t, []string{
		"closeReviewWindow",
		"confirmOrders",
		"deleteTemplate",
		"fetchReviewTargets",
		"fetchSessionStatus",
		"getTemplate",
		"listTemplates",
		"login",
		"logout",
		"readFile",
		"saveTemplate",
		"setFileInputFiles",
		"syncOrdersRange",
		"writeReviews",
		"writeReviewsDom",
	}, Commands())
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown command", func(t *testing.T) {
		h := newHarness(t, false)
		_, err := h.ctrl.Dispatch(ctx, "dropTables", nil)
		assert.True(t, errors.Is(err, ErrUnknownCommand))
	})

	t.Run("undecodable payload", func(t *testing.T) {
		h := newHarness(t, false)
		_, err := h.ctrl.Dispatch(ctx, "login", []byte(`{"loginId":`))
		assert.True(t, errors.Is(err, ErrBadPayload))
	})

	t.Run("login decodes credentials", func(t *testing.T) {
		h := newHarness(t, false)
		want := auth.Result{Status: auth.StatusError, Reason: auth.ReasonCredentials}
		h.auth.On("Login", mock.Anything, "", "pw").Return(want).Once()

		res, err := h.ctrl.Dispatch(ctx, "login", []byte(`{"loginId":"","password":"pw"}`))
		require.NoError(t, err)
		assert.Equal(t, want, res)
	})

	t.Run("payload-less command", func(t *testing.T) {
		h := newHarness(t, false)
		h.session.On("CloseReviewWindow", mock.Anything).Return().Once()

		res, err := h.ctrl.Dispatch(ctx, "closeReviewWindow", nil)
		require.NoError(t, err)
		assert.Equal(t, OKResult{OK: true}, res)
	})

	t.Run("range decodes dates", func(t *testing.T) {
		h := newHarness(t, false)
		h.session.On("Primary").Return(&fakePage{}, nil).Once()
		h.scraper.On("SyncRange", mock.Anything, mock.Anything, "2026-02-01", "2026-02-28", mock.Anything).
			Return(scraper.RangeResult{OK: true}).Once()

		res, err := h.ctrl.Dispatch(ctx, "syncOrdersRange", []byte(`{"startDate":"2026-02-01","endDate":"2026-02-28"}`))
		require.NoError(t, err)
		assert.True(t, res.(scraper.RangeResult).OK)
	})

	t.Run("template validation surfaces through dispatch", func(t *testing.T) {
		h := newHarness(t, false)
		payload := []byte(`{"productKey":"k","template":{"product_type":"잡화","general_content":"abcdefghij klmnopqrs !!!","style_content":"abcdefghij klmnopqrst"}}`)

		res, err := h.ctrl.Dispatch(ctx, "saveTemplate", payload)
		require.NoError(t, err)
		assert.Equal(t, validation.ReasonGeneralTooShort, res.(TemplateResult).Reason)
	})
}
