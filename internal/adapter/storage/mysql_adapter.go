package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rl1809/cart-sync/internal/core/domain"
)

var ErrOptimisticLock = domain.ErrOptimisticLock

var schema = []string{
	`CREATE TABLE IF NOT EXISTS orders (
		id BIGINT NOT NULL AUTO_INCREMENT PRIMARY KEY,
		order_number VARCHAR(32) NOT NULL DEFAULT '',
		form_source VARCHAR(32) NOT NULL,
		status VARCHAR(16) NOT NULL,
		details TEXT NOT NULL,
		total VARCHAR(64) NOT NULL,
		frequency VARCHAR(64) NOT NULL DEFAULT '',
		payment VARCHAR(64) NOT NULL DEFAULT '',
		fields JSON NOT NULL,
		created_at DATETIME NOT NULL,
		INDEX idx_orders_number (order_number)
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		product_key VARCHAR(64) NOT NULL PRIMARY KEY,
		position INT NOT NULL DEFAULT 0,
		names JSON NOT NULL,
		infos JSON NOT NULL,
		badges JSON NOT NULL,
		image VARCHAR(512) NOT NULL DEFAULT '',
		price_box BIGINT NOT NULL DEFAULT 0,
		price_roll BIGINT NOT NULL DEFAULT 0,
		version INT NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
}

type MySQLAdapter struct {
	db *sql.DB
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{db: db}
}

func (m *MySQLAdapter) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := m.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (m *MySQLAdapter) ArchiveOrder(ctx context.Context, sub domain.Submission) error {
	fields, err := json.Marshal(sub.Fields)
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO orders (order_number, form_source, status, details, total, frequency, payment, fields, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.OrderNumber, sub.Source, sub.Status, sub.Details, sub.Total,
		sub.Frequency, sub.Payment, fields, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

// UpsertProduct seeds or replaces a feed record and bumps its version.
func (m *MySQLAdapter) UpsertProduct(ctx context.Context, position int, p domain.Product) error {
	names, infos, badges, err := encodeLocalized(p)
	if err != nil {
		return err
	}

	_, err = m.db.ExecContext(ctx, `
		INSERT INTO products (product_key, position, names, infos, badges, image, price_box, price_roll, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)
		ON DUPLICATE KEY UPDATE position = VALUES(position), names = VALUES(names), infos = VALUES(infos),
			badges = VALUES(badges), image = VALUES(image), price_box = VALUES(price_box),
			price_roll = VALUES(price_roll), version = version + 1, updated_at = NOW()`,
		p.Key, position, names, infos, badges, p.Image, p.PriceBox, p.PriceRoll,
	)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT product_key, names, infos, badges, image, price_box, price_roll
		FROM products ORDER BY position, product_key`)
	if err != nil {
		return nil, fmt.Errorf("query products: %w", err)
	}
	defer rows.Close()

	products := []domain.Product{}
	for rows.Next() {
		p, _, err := scanProduct(rows.Scan, false)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return products, nil
}

func (m *MySQLAdapter) GetProduct(ctx context.Context, key string) (*domain.Product, int, error) {
	row := m.db.QueryRowContext(ctx, `
		SELECT product_key, names, infos, badges, image, price_box, price_roll, version
		FROM products WHERE product_key = ?`, key)

	p, version, err := scanProduct(row.Scan, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return &p, version, nil
}

func (m *MySQLAdapter) UpdatePrices(ctx context.Context, key string, priceBox, priceRoll int64, version int) error {
	result, err := m.db.ExecContext(ctx, `
		UPDATE products
		SET price_box = ?, price_roll = ?, version = version + 1, updated_at = NOW()
		WHERE product_key = ? AND version = ?`,
		priceBox, priceRoll, key, version,
	)
	if err != nil {
		return fmt.Errorf("update prices: %w", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrOptimisticLock
	}

	return nil
}

func scanProduct(scan func(...any) error, withVersion bool) (domain.Product, int, error) {
	var (
		p                    domain.Product
		names, infos, badges []byte
		version              int
	)
	dest := []any{&p.Key, &names, &infos, &badges, &p.Image, &p.PriceBox, &p.PriceRoll}
	if withVersion {
		dest = append(dest, &version)
	}
	if err := scan(dest...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return p, 0, err
		}
		return p, 0, fmt.Errorf("scan product: %w", err)
	}

	for _, f := range []struct {
		raw []byte
		out *domain.Localized
	}{{names, &p.Names}, {infos, &p.Infos}, {badges, &p.Badges}} {
		*f.out = domain.Localized{}
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.out); err != nil {
			return p, 0, fmt.Errorf("decode product %s: %w", p.Key, err)
		}
	}
	return p, version, nil
}

func encodeLocalized(p domain.Product) (names, infos, badges []byte, err error) {
	enc := func(l domain.Localized) []byte {
		if err != nil {
			return nil
		}
		if l == nil {
			l = domain.Localized{}
		}
		var b []byte
		b, err = json.Marshal(l)
		return b
	}
	names, infos, badges = enc(p.Names), enc(p.Infos), enc(p.Badges)
	if err != nil {
		err = fmt.Errorf("encode product %s: %w", p.Key, err)
	}
	return names, infos, badges, err
}
