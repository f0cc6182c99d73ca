package store

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	json "github.com/json-iterator/go"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/validation"
)

// flexibleSQLMatcher creates a regex that is insensitive to whitespace for more robust SQL mock testing.
func flexibleSQLMatcher(sql string) string {
	trimmed := strings.TrimSpace(sql)
	return regexp.MustCompile(`\s+`).ReplaceAllString(regexp.QuoteMeta(trimmed), `\s+`)
}

// ArgumentMatcherFunc is a helper to create inline mock matchers.
type ArgumentMatcherFunc func(interface{}) bool

func (f ArgumentMatcherFunc) Match(v interface{}) bool {
	return f(v)
}

var anyTime = ArgumentMatcherFunc(func(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
})

// jsonOf matches an encoded JSON argument by its decoded content.
func jsonOf(want interface{}) ArgumentMatcherFunc {
	return func(v interface{}) bool {
		b, ok := v.([]byte)
		if !ok {
			return false
		}
		expected, err := json.Marshal(want)
		return err == nil && string(expected) == string(b)
	}
}

var templateColumns = []string{"product_key", "product_type", "gender", "height", "weight", "general_content", "general_image_path", "style_content", "style_image_path", "option_text", "updated_at"}

func newStore(t *testing.T, logger *zap.Logger) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mockPool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mockPool.Close)

	mockPool.ExpectPing()
	s, err := New(context.Background(), mockPool, logger)
	require.NoError(t, err)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s, mockPool
}

func validTemplate() musinsa.Template {
	return musinsa.Template{
		ProductType:    musinsa.CategoryClothing,
		Gender:         "남성",
		Height:         "175",
		Weight:         "68",
		GeneralContent: "사이즈가 딱 맞고 원단이 부드러워서 좋아요 추천합니다",
		StyleContent:   "코디하기 좋은 색감이라 정말 매일 자주 입을 것 같아요",
	}
}

func TestNewStore(t *testing.T) {
	t.Run("should return error if ping fails", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = New(context.Background(), mockPool, zap.NewNop())
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr, "Error from ping should be propagated")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestMigrate(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(Schema)).WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func TestSaveTemplate(t *testing.T) {
	ctx := context.Background()
	key := validation.ProductKey("1001", "Shirt", "Brand")

	t.Run("upserts a valid template", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		tpl := validTemplate()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertTemplate)).
			WithArgs(key, tpl.ProductType, tpl.Gender, "175", "68",
				tpl.GeneralContent, "", tpl.StyleContent, "", "", anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, s.SaveTemplate(ctx, key, tpl))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("rejects short content before touching the database", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		tpl := validTemplate()
		// 19 valid characters; the spaces and punctuation do not count.
		tpl.GeneralContent = "abcdefghij klmnopqrs !!!"

		err := s.SaveTemplate(ctx, key, tpl)
		require.Error(t, err)
		assert.Equal(t, validation.ReasonGeneralTooShort, validation.ReasonOf(err))
		assert.NoError(t, mockPool.ExpectationsWereMet(), "no SQL may run for a rejected template")
	})

	t.Run("rejects a missing product key", func(t *testing.T) {
		s, _ := newStore(t, zap.NewNop())
		err := s.SaveTemplate(ctx, "  ", validTemplate())
		assert.Equal(t, validation.ReasonProductKeyMissing, validation.ReasonOf(err))
	})

	t.Run("wraps database errors", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		dbErr := errors.New("disk full")
		tpl := validTemplate()
		mockPool.ExpectExec(flexibleSQLMatcher(sqlUpsertTemplate)).
			WithArgs(key, tpl.ProductType, tpl.Gender, "175", "68",
				tpl.GeneralContent, "", tpl.StyleContent, "", "", anyTime).
			WillReturnError(dbErr)

		err := s.SaveTemplate(ctx, key, tpl)
		assert.ErrorIs(t, err, dbErr)
		assert.Empty(t, validation.ReasonOf(err))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestGetTemplate(t *testing.T) {
	ctx := context.Background()
	updated := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	query := flexibleSQLMatcher(sqlSelectTemplate + " WHERE product_key = $1;")

	t.Run("found", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		rows := pgxmock.NewRows(templateColumns).
			AddRow("k", musinsa.CategoryShoes, "", "", "", "general", "/tmp/g.jpg", "style", "", "260", updated)
		mockPool.ExpectQuery(query).WithArgs("k").WillReturnRows(rows)

		rec, err := s.GetTemplate(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, TemplateRecord{
			ProductKey: "k",
			Template: musinsa.Template{
				ProductType:      musinsa.CategoryShoes,
				GeneralContent:   "general",
				GeneralImagePath: "/tmp/g.jpg",
				StyleContent:     "style",
				OptionText:       "260",
			},
			UpdatedAt: updated,
		}, rec)
	})

	t.Run("missing", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		mockPool.ExpectQuery(query).WithArgs("nope").WillReturnRows(pgxmock.NewRows(templateColumns))

		_, err := s.GetTemplate(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestListTemplates(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows(templateColumns).
		AddRow("b", musinsa.CategoryClothing, "여성", "160", "50", "g", "", "s", "", "", now).
		AddRow("a", musinsa.CategoryAccessories, "", "", "", "g", "", "s", "", "", now.Add(-time.Hour))
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectTemplate + " ORDER BY updated_at DESC;")).WillReturnRows(rows)

	recs, err := s.ListTemplates(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "b", recs[0].ProductKey)
	assert.Equal(t, musinsa.FlexString("160"), recs[0].Template.Height)
	assert.Equal(t, "a", recs[1].ProductKey)
}

func TestDeleteTemplate(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteTemplate)).WithArgs("k").WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mockPool.ExpectExec(flexibleSQLMatcher(sqlDeleteTemplate)).WithArgs("k").WillReturnResult(pgxmock.NewResult("DELETE", 0))

	require.NoError(t, s.DeleteTemplate(context.Background(), "k"))
	assert.ErrorIs(t, s.DeleteTemplate(context.Background(), "k"), ErrNotFound)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}

func sampleOrders() []musinsa.Order {
	return []musinsa.Order{
		{
			OrderNo:   "202603010001",
			OrderDate: "2026-03-01",
			BrandName: "Brand",
			Items:     []musinsa.OrderItem{{GoodsName: "Shirt", Quantity: 1, ReceiveAmount: 39000, ActualUnitCost: 37000}},
			Totals:    musinsa.OrderTotals{RecvAmt: 39000, FinalAmt: 37000, Gap: 2000},
		},
		{
			OrderNo:   "202602280002",
			OrderDate: "2026-02-28",
			Items:     []musinsa.OrderItem{},
		},
	}
}

func TestSaveOrders(t *testing.T) {
	ctx := context.Background()

	t.Run("commits one batch without rollback errors", func(t *testing.T) {
		observedZapCore, observedLogs := observer.New(zapcore.ErrorLevel)
		s, mockPool := newStore(t, zap.New(observedZapCore))
		orders := sampleOrders()

		mockPool.ExpectBegin()
		batchExp := mockPool.ExpectBatch()
		for _, o := range orders {
			batchExp.ExpectExec(flexibleSQLMatcher(sqlUpsertOrder)).
				WithArgs(o.OrderNo, o.OrderDate, o.BrandName, jsonOf(o.Items), jsonOf(o.Totals), anyTime).
				WillReturnResult(pgxmock.NewResult("INSERT", 1))
		}
		mockPool.ExpectCommit()
		mockPool.ExpectRollback().WillReturnError(pgx.ErrTxClosed)

		require.NoError(t, s.SaveOrders(ctx, orders))
		assert.NoError(t, mockPool.ExpectationsWereMet())
		assert.Empty(t, observedLogs.All(), "Expected no errors logged on successful commit")
	})

	t.Run("rolls back when an upsert fails", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		orders := sampleOrders()
		dbErr := errors.New("constraint violation")

		mockPool.ExpectBegin()
		batchExp := mockPool.ExpectBatch()
		first, second := orders[0], orders[1]
		batchExp.ExpectExec(flexibleSQLMatcher(sqlUpsertOrder)).
			WithArgs(first.OrderNo, first.OrderDate, first.BrandName, jsonOf(first.Items), jsonOf(first.Totals), anyTime).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		batchExp.ExpectExec(flexibleSQLMatcher(sqlUpsertOrder)).
			WithArgs(second.OrderNo, second.OrderDate, second.BrandName, jsonOf(second.Items), jsonOf(second.Totals), anyTime).
			WillReturnError(dbErr)
		mockPool.ExpectRollback()

		err := s.SaveOrders(ctx, orders)
		require.Error(t, err)
		assert.ErrorIs(t, err, dbErr)
		assert.Contains(t, err.Error(), "202602280002")
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("nothing to save", func(t *testing.T) {
		s, mockPool := newStore(t, zap.NewNop())
		require.NoError(t, s.SaveOrders(ctx, nil))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})
}

func TestOrdersBetween(t *testing.T) {
	s, mockPool := newStore(t, zap.NewNop())
	want := sampleOrders()[0]
	items, err := json.Marshal(want.Items)
	require.NoError(t, err)
	totals, err := json.Marshal(want.Totals)
	require.NoError(t, err)

	rows := pgxmock.NewRows([]string{"order_no", "order_date", "brand_name", "items", "totals"}).
		AddRow(want.OrderNo, want.OrderDate, want.BrandName, items, totals)
	mockPool.ExpectQuery(flexibleSQLMatcher(sqlSelectOrders)).WithArgs("2026-03-01", "2026-03-31").WillReturnRows(rows)

	got, err := s.OrdersBetween(context.Background(), "2026-03-01", "2026-03-31")
	require.NoError(t, err)
	assert.Equal(t, []musinsa.Order{want}, got)
	assert.NoError(t, mockPool.ExpectationsWereMet())
}
