package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/musinsa-manager/internal/musinsa"
	"github.com/xkilldash9x/musinsa-manager/internal/validation"
)

// ErrNotFound is returned when no template exists for a product key.
var ErrNotFound = errors.New("store: not found")

// DBPool is an interface that abstracts the pgxpool.Pool to allow for mocking in tests.
type DBPool interface {
	Ping(ctx context.Context) error
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Schema creates the tables the store writes to. It is safe to apply repeatedly.
const Schema = `
CREATE TABLE IF NOT EXISTS review_templates (
    product_key        TEXT PRIMARY KEY,
    product_type       TEXT NOT NULL,
    gender             TEXT NOT NULL DEFAULT '',
    height             TEXT NOT NULL DEFAULT '',
    weight             TEXT NOT NULL DEFAULT '',
    general_content    TEXT NOT NULL,
    general_image_path TEXT NOT NULL DEFAULT '',
    style_content      TEXT NOT NULL,
    style_image_path   TEXT NOT NULL DEFAULT '',
    option_text        TEXT NOT NULL DEFAULT '',
    updated_at         TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS synced_orders (
    order_no   TEXT PRIMARY KEY,
    order_date TEXT NOT NULL,
    brand_name TEXT NOT NULL DEFAULT '',
    items      JSONB NOT NULL,
    totals     JSONB NOT NULL,
    synced_at  TIMESTAMPTZ NOT NULL
);`

const (
	sqlUpsertTemplate = `
        INSERT INTO review_templates (product_key, product_type, gender, height, weight, general_content, general_image_path, style_content, style_image_path, option_text, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
        ON CONFLICT (product_key) DO UPDATE SET
            product_type = EXCLUDED.product_type,
            gender = EXCLUDED.gender,
            height = EXCLUDED.height,
            weight = EXCLUDED.weight,
            general_content = EXCLUDED.general_content,
            general_image_path = EXCLUDED.general_image_path,
            style_content = EXCLUDED.style_content,
            style_image_path = EXCLUDED.style_image_path,
            option_text = EXCLUDED.option_text,
            updated_at = EXCLUDED.updated_at;
    `
	sqlSelectTemplate = `
        SELECT product_key, product_type, gender, height, weight, general_content, general_image_path, style_content, style_image_path, option_text, updated_at
        FROM review_templates
    `
	sqlDeleteTemplate = `DELETE FROM review_templates WHERE product_key = $1;`
	sqlUpsertOrder    = `
        INSERT INTO synced_orders (order_no, order_date, brand_name, items, totals, synced_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (order_no) DO UPDATE SET
            order_date = EXCLUDED.order_date,
            brand_name = EXCLUDED.brand_name,
            items = EXCLUDED.items,
            totals = EXCLUDED.totals,
            synced_at = EXCLUDED.synced_at;
    `
	sqlSelectOrders = `
        SELECT order_no, order_date, brand_name, items, totals
        FROM synced_orders
        WHERE order_date BETWEEN $1 AND $2
        ORDER BY order_date DESC, order_no DESC;
    `
)

// TemplateRecord is a saved template with its product key.
type TemplateRecord struct {
	ProductKey string           `json:"product_key"`
	Template   musinsa.Template `json:"template"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Store keeps review templates and synced order snapshots in PostgreSQL.
type Store struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// New creates a new store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{
		pool: pool,
		log:  logger.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Migrate applies Schema.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveTemplate validates the template and upserts it by product key. A rejected template
// never reaches the database; the returned error carries a validation reason.
func (s *Store) SaveTemplate(ctx context.Context, productKey string, t musinsa.Template) error {
	if err := validation.ValidateTemplate(productKey, t); err != nil {
		return err
	}
	_, err := s.pool.Exec(ctx, sqlUpsertTemplate,
		productKey, t.ProductType, t.Gender, t.Height.String(), t.Weight.String(),
		t.GeneralContent, t.GeneralImagePath, t.StyleContent, t.StyleImagePath, t.OptionText,
		s.now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save template %q: %w", productKey, err)
	}
	s.log.Debug("Template saved", zap.String("product_key", productKey))
	return nil
}

// GetTemplate returns the template for a product key, or ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, productKey string) (TemplateRecord, error) {
	row := s.pool.QueryRow(ctx, sqlSelectTemplate+" WHERE product_key = $1;", productKey)
	rec, err := scanTemplate(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return TemplateRecord{}, ErrNotFound
	}
	if err != nil {
		return TemplateRecord{}, fmt.Errorf("failed to load template %q: %w", productKey, err)
	}
	return rec, nil
}

// ListTemplates returns every template, most recently updated first.
func (s *Store) ListTemplates(ctx context.Context) ([]TemplateRecord, error) {
	rows, err := s.pool.Query(ctx, sqlSelectTemplate+" ORDER BY updated_at DESC;")
	if err != nil {
		return nil, fmt.Errorf("failed to query templates: %w", err)
	}
	defer rows.Close()

	var out []TemplateRecord
	for rows.Next() {
		rec, err := scanTemplate(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan template row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// DeleteTemplate removes a template. Deleting a missing key returns ErrNotFound.
func (s *Store) DeleteTemplate(ctx context.Context, productKey string) error {
	tag, err := s.pool.Exec(ctx, sqlDeleteTemplate, productKey)
	if err != nil {
		return fmt.Errorf("failed to delete template %q: %w", productKey, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTemplate(row pgx.Row) (TemplateRecord, error) {
	var rec TemplateRecord
	var height, weight string
	err := row.Scan(
		&rec.ProductKey, &rec.Template.ProductType, &rec.Template.Gender, &height, &weight,
		&rec.Template.GeneralContent, &rec.Template.GeneralImagePath,
		&rec.Template.StyleContent, &rec.Template.StyleImagePath,
		&rec.Template.OptionText, &rec.UpdatedAt,
	)
	rec.Template.Height = musinsa.FlexString(height)
	rec.Template.Weight = musinsa.FlexString(weight)
	return rec, err
}

// SaveOrders upserts synced order snapshots in one transaction.
func (s *Store) SaveOrders(ctx context.Context, orders []musinsa.Order) error {
	if len(orders) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rollbackErr := tx.Rollback(ctx); rollbackErr != nil && !errors.Is(rollbackErr, pgx.ErrTxClosed) {
			s.log.Error("Failed to rollback transaction", zap.Error(rollbackErr))
		}
	}()

	now := s.now()
	batch := &pgx.Batch{}
	for _, o := range orders {
		items, err := json.Marshal(o.Items)
		if err != nil {
			return fmt.Errorf("failed to encode items of order %s: %w", o.OrderNo, err)
		}
		totals, err := json.Marshal(o.Totals)
		if err != nil {
			return fmt.Errorf("failed to encode totals of order %s: %w", o.OrderNo, err)
		}
		batch.Queue(sqlUpsertOrder, o.OrderNo, o.OrderDate, o.BrandName, items, totals, now)
	}

	br := tx.SendBatch(ctx, batch)
	if br == nil {
		return fmt.Errorf("failed to send batch: batch results is nil")
	}
	for i := range orders {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("failed to upsert order %s (index %d): %w", orders[i].OrderNo, i, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to close batch: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.log.Info("Orders saved", zap.Int("count", len(orders)))
	return nil
}

// OrdersBetween returns saved orders dated within [start, end], newest first.
func (s *Store) OrdersBetween(ctx context.Context, start, end string) ([]musinsa.Order, error) {
	rows, err := s.pool.Query(ctx, sqlSelectOrders, start, end)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []musinsa.Order
	for rows.Next() {
		var o musinsa.Order
		var items, totals []byte
		if err := rows.Scan(&o.OrderNo, &o.OrderDate, &o.BrandName, &items, &totals); err != nil {
			return nil, fmt.Errorf("failed to scan order row: %w", err)
		}
		if err := json.Unmarshal(items, &o.Items); err != nil {
			return nil, fmt.Errorf("failed to decode items of order %s: %w", o.OrderNo, err)
		}
		if err := json.Unmarshal(totals, &o.Totals); err != nil {
			return nil, fmt.Errorf("failed to decode totals of order %s: %w", o.OrderNo, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return orders, nil
}
