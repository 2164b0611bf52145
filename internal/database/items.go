package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"rentmarket/internal/domain"
	"rentmarket/internal/models"
)

const itemColumns = `id, owner_id, category_id, name, description, price_cents, availability,
	published, published_at, version, created_at, updated_at`

func (db *DB) GetCategory(ctx context.Context, id int64) (*models.Category, error) {
	var c models.Category
	err := db.q.QueryRowContext(ctx, `SELECT id, name, description FROM categories WHERE id = ?`, id).
		Scan(&c.ID, &c.Name, &c.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("category %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &c, nil
}

func (db *DB) ListCategories(ctx context.Context) ([]*models.Category, error) {
	rows, err := db.q.QueryContext(ctx, `SELECT id, name, description FROM categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		c := &models.Category{}
		if err := rows.Scan(&c.ID, &c.Name, &c.Description); err != nil {
			return nil, fmt.Errorf("failed to scan category: %w", err)
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

// UpsertCategory inserts or renames a category keyed by id.
func (db *DB) UpsertCategory(ctx context.Context, category *models.Category) error {
	query := `INSERT INTO categories (id, name, description) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, description = excluded.description`
	if db.driver == DriverMySQL {
		query = `INSERT INTO categories (id, name, description) VALUES (?, ?, ?)
			ON DUPLICATE KEY UPDATE name = VALUES(name), description = VALUES(description)`
	}
	if _, err := db.q.ExecContext(ctx, query, category.ID, category.Name, category.Description); err != nil {
		return fmt.Errorf("failed to upsert category: %w", err)
	}
	return nil
}

// SyncCategories upserts the configured categories in one transaction.
func (db *DB) SyncCategories(ctx context.Context, categories []models.Category) error {
	return db.InTx(ctx, func(repo domain.Repository) error {
		for i := range categories {
			if err := repo.UpsertCategory(ctx, &categories[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (db *DB) CreateItem(ctx context.Context, item *models.Item) error {
	query := `INSERT INTO items (owner_id, category_id, name, description, price_cents, availability,
				published, published_at, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.q.ExecContext(ctx, query,
		item.OwnerID,
		item.CategoryID,
		item.Name,
		item.Description,
		item.PriceCents,
		item.Availability,
		item.Published,
		item.PublishedAt,
		1,
		now,
		now,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return domain.Validationf("category %d does not exist", item.CategoryID)
		}
		return fmt.Errorf("failed to create item: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	item.ID = id
	item.Version = 1
	item.CreatedAt = now
	item.UpdatedAt = now
	return nil
}

func (db *DB) GetItem(ctx context.Context, id int64) (*models.Item, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("item %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	return item, nil
}

func (db *DB) ListItems(ctx context.Context, filter models.ItemFilter) ([]*models.Item, error) {
	var (
		where []string
		args  []any
	)
	if filter.CategoryID != 0 {
		where = append(where, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.OwnerID != 0 {
		where = append(where, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if filter.Published != nil {
		where = append(where, "published = ?")
		args = append(args, *filter.Published)
	}
	if filter.Availability != "" {
		where = append(where, "availability = ?")
		args = append(args, filter.Availability)
	}

	query := `SELECT ` + itemColumns + ` FROM items`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`
	if filter.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()

	var items []*models.Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpdateItemState writes availability and publication fields if the stored
// version still equals item.Version, then bumps item.Version.
func (db *DB) UpdateItemState(ctx context.Context, item *models.Item) error {
	now := time.Now().UTC()
	query := `UPDATE items SET availability = ?, published = ?, published_at = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?`
	err := db.execCAS(ctx, fmt.Sprintf("item %d", item.ID), query,
		item.Availability, item.Published, item.PublishedAt, now, item.ID, item.Version)
	if err != nil {
		return err
	}
	item.Version++
	item.UpdatedAt = now
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*models.Item, error) {
	var (
		item        models.Item
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&item.ID, &item.OwnerID, &item.CategoryID, &item.Name, &item.Description, &item.PriceCents,
		&item.Availability, &item.Published, &publishedAt, &item.Version, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if publishedAt.Valid {
		t := publishedAt.Time
		item.PublishedAt = &t
	}
	return &item, nil
}
