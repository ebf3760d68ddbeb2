package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/rs/zerolog"

	"github.com/BatmanBruc/gpt-bot/types"
)

//go:embed migrations/*.sql
var migrations embed.FS

const queryTimeout = 5 * time.Second

type PostgresStore struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgresStore(ctx context.Context, dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(strings.TrimSpace(dsn))
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{pool: pool, logger: logger}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func (s *PostgresStore) UpsertUser(ctx context.Context, user types.User) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	model := user.Model
	if model == "" {
		model = types.ModelGPT3
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO users (user_id, chat_id, username, first_name, last_name, language_code, model)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (user_id) DO UPDATE SET
  chat_id = EXCLUDED.chat_id,
  username = EXCLUDED.username,
  first_name = EXCLUDED.first_name,
  last_name = EXCLUDED.last_name,
  language_code = EXCLUDED.language_code,
  updated_at = NOW()
RETURNING `+userColumns,
		user.ID, user.ChatID, strings.TrimSpace(user.Username), strings.TrimSpace(user.FirstName),
		strings.TrimSpace(user.LastName), strings.TrimSpace(user.LanguageCode), string(model))
	return scanUser(row)
}

const userColumns = `user_id, chat_id, username, first_name, last_name, language_code, model, usage_stats, version, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var (
		u     types.User
		model string
		raw   []byte
	)
	err := row.Scan(&u.ID, &u.ChatID, &u.Username, &u.FirstName, &u.LastName, &u.LanguageCode,
		&model, &raw, &u.Version, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	u.Model = types.ModelCode(model)
	if err := json.Unmarshal(raw, &u.UsageStats); err != nil {
		return nil, fmt.Errorf("decode usage stats of user %d: %w", u.ID, err)
	}
	if u.UsageStats == nil {
		u.UsageStats = types.UsageStats{}
	}
	return &u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE user_id = $1`, userID))
}

func (s *PostgresStore) SetUserModel(ctx context.Context, userID int64, model types.ModelCode) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `UPDATE users SET model = $2, updated_at = NOW() WHERE user_id = $1`, userID, string(model))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return types.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateUsageStats(ctx context.Context, userID int64, stats types.UsageStats, version int64) (int64, error) {
	raw, err := json.Marshal(stats)
	if err != nil {
		return 0, err
	}
	return s.updateVersioned(ctx, "users", "user_id", "usage_stats", userID, raw, version)
}

func (s *PostgresStore) GetProduct(ctx context.Context, id string) (*types.PurchasedProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return scanProduct(s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM purchased_products WHERE id = $1`, id))
}

func (s *PostgresStore) ListUserProducts(ctx context.Context, userID int64) ([]types.PurchasedProduct, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	rows, err := s.pool.Query(ctx, `
SELECT `+productColumns+`
FROM purchased_products
WHERE user_id = $1
ORDER BY purchased_at DESC
`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.PurchasedProduct
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpdateProductUsage(ctx context.Context, id string, usage types.ProductUsage, version int64) (int64, error) {
	raw, err := json.Marshal(usage)
	if err != nil {
		return 0, err
	}
	return s.updateVersioned(ctx, "purchased_products", "id", "usage", id, raw, version)
}

const productColumns = `id::text, user_id, product, COALESCE(payment_id, ''), purchased_at, usage, version`

func scanProduct(row pgx.Row) (*types.PurchasedProduct, error) {
	var (
		p          types.PurchasedProduct
		rawProduct []byte
		rawUsage   []byte
	)
	err := row.Scan(&p.ID, &p.UserID, &rawProduct, &p.PaymentID, &p.PurchasedAt, &rawUsage, &p.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.ErrNotFound
		}
		return nil, err
	}
	if err := json.Unmarshal(rawProduct, &p.Product); err != nil {
		return nil, fmt.Errorf("decode product %s: %w", p.ID, err)
	}
	if err := json.Unmarshal(rawUsage, &p.Usage); err != nil {
		return nil, fmt.Errorf("decode usage of product %s: %w", p.ID, err)
	}
	if p.Usage == nil {
		p.Usage = types.ProductUsage{}
	}
	return &p, nil
}

// updateVersioned replaces a usage document. With a non-negative version the
// write only lands if the row still has that version.
func (s *PostgresStore) updateVersioned(ctx context.Context, table, keyCol, docCol string, key any, doc []byte, version int64) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	query := fmt.Sprintf(`
UPDATE %s
SET %s = $2, version = version + 1, updated_at = NOW()
WHERE %s = $1 AND ($3::bigint < 0 OR version = $3)
RETURNING version
`, table, docCol, keyCol)

	var next int64
	err := s.pool.QueryRow(ctx, query, key, doc, version).Scan(&next)
	if err == nil {
		return next, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}

	var exists bool
	err = s.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS(SELECT 1 FROM %s WHERE %s = $1)`, table, keyCol), key).Scan(&exists)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, types.ErrNotFound
	}
	s.logger.Debug().Str("table", table).Interface("key", key).Int64("version", version).Msg("usage write lost version race")
	return 0, types.ErrConflict
}

func (s *PostgresStore) RecordPurchase(ctx context.Context, p types.Payment, product *types.PurchasedProduct) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*queryTimeout)
	defer cancel()

	rawProduct, err := json.Marshal(product.Product)
	if err != nil {
		return false, err
	}
	rawUsage, err := json.Marshal(product.Usage)
	if err != nil {
		return false, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
INSERT INTO payments (user_id, provider, currency, total_amount, product_code, external_id)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (external_id) DO NOTHING
`, p.UserID, strings.TrimSpace(p.Provider), strings.TrimSpace(p.Currency), p.TotalAmount,
		string(p.ProductCode), strings.TrimSpace(p.ExternalID))
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx, `
INSERT INTO users (user_id, chat_id)
VALUES ($1, $1)
ON CONFLICT (user_id) DO NOTHING
`, product.UserID)
	if err != nil {
		return false, err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO purchased_products (id, user_id, product_code, product, payment_id, purchased_at, usage)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6, $7)
`, product.ID, product.UserID, string(product.Product.Code), rawProduct, product.PaymentID, product.PurchasedAt, rawUsage)
	if err != nil {
		return false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()
	return s.pool.Ping(ctx)
}
