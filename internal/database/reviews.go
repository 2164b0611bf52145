package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"rentmarket/internal/domain"
	"rentmarket/internal/models"
)

const reviewColumns = `id, item_id, reviewer_id, rating, comment, created_at, updated_at`

func (db *DB) CreateReview(ctx context.Context, review *models.Review) error {
	query := `INSERT INTO reviews (item_id, reviewer_id, rating, comment, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.q.ExecContext(ctx, query, review.ItemID, review.ReviewerID, review.Rating, review.Comment, now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: item %d already reviewed by user %d", domain.ErrNotEligible, review.ItemID, review.ReviewerID)
		}
		return fmt.Errorf("failed to create review: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	review.ID = id
	review.CreatedAt = now
	review.UpdatedAt = now
	return nil
}

func (db *DB) GetReview(ctx context.Context, id int64) (*models.Review, error) {
	review, err := db.queryReview(ctx, `SELECT `+reviewColumns+` FROM reviews WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("review %d", id)
	}
	return review, err
}

func (db *DB) GetReviewByPair(ctx context.Context, reviewerID, itemID int64) (*models.Review, error) {
	review, err := db.queryReview(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE reviewer_id = ? AND item_id = ?`, reviewerID, itemID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("review of item %d by user %d", itemID, reviewerID)
	}
	return review, err
}

func (db *DB) queryReview(ctx context.Context, query string, args ...any) (*models.Review, error) {
	var r models.Review
	err := db.q.QueryRowContext(ctx, query, args...).Scan(
		&r.ID, &r.ItemID, &r.ReviewerID, &r.Rating, &r.Comment, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}
	return &r, nil
}

func (db *DB) UpdateReview(ctx context.Context, review *models.Review) error {
	now := time.Now().UTC()
	result, err := db.q.ExecContext(ctx, `UPDATE reviews SET rating = ?, comment = ?, updated_at = ? WHERE id = ?`,
		review.Rating, review.Comment, now, review.ID)
	if err != nil {
		return fmt.Errorf("failed to update review: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFoundf("review %d", review.ID)
	}
	review.UpdatedAt = now
	return nil
}

func (db *DB) DeleteReview(ctx context.Context, id int64) error {
	result, err := db.q.ExecContext(ctx, `DELETE FROM reviews WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete review: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return domain.NotFoundf("review %d", id)
	}
	return nil
}

func (db *DB) ListReviewsByItem(ctx context.Context, itemID int64) ([]*models.Review, error) {
	rows, err := db.q.QueryContext(ctx,
		`SELECT `+reviewColumns+` FROM reviews WHERE item_id = ? ORDER BY created_at DESC, id DESC`, itemID)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}
	defer rows.Close()

	var reviews []*models.Review
	for rows.Next() {
		r := &models.Review{}
		if err := rows.Scan(&r.ID, &r.ItemID, &r.ReviewerID, &r.Rating, &r.Comment, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, r)
	}
	return reviews, rows.Err()
}
