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

const reservationColumns = `id, item_id, renter_id, start_date, end_date, state, version, created_at, updated_at`

func activeStateArgs() []any {
	states := models.ActiveReservationStates()
	args := make([]any, len(states))
	for i, s := range states {
		args[i] = s
	}
	return args
}

// CreateReservation inserts a reservation. A concurrent active reservation on
// the same item surfaces as ErrConcurrentModification.
func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	query := `INSERT INTO reservations (item_id, renter_id, start_date, end_date, state, version, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.q.ExecContext(ctx, query,
		r.ItemID,
		r.RenterID,
		r.StartDate.Format(models.DateLayout),
		r.EndDate.Format(models.DateLayout),
		r.State,
		1,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) || isBusy(err) {
			return fmt.Errorf("%w: item %d already has an active reservation", domain.ErrConcurrentModification, r.ItemID)
		}
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.Version = 1
	r.CreatedAt = now
	r.UpdatedAt = now
	return nil
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+reservationColumns+` FROM reservations WHERE id = ?`, id)
	r, err := scanReservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("reservation %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return r, nil
}

// UpdateReservationState moves r to the given state if its version is unchanged.
func (db *DB) UpdateReservationState(ctx context.Context, r *models.Reservation, to models.ReservationState) error {
	now := time.Now().UTC()
	query := `UPDATE reservations SET state = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`
	if err := db.execCAS(ctx, fmt.Sprintf("reservation %d", r.ID), query, to, now, r.ID, r.Version); err != nil {
		return err
	}
	r.State = to
	r.Version++
	r.UpdatedAt = now
	return nil
}

func (db *DB) CountActiveReservations(ctx context.Context, itemID int64) (int, error) {
	query := `SELECT COUNT(*) FROM reservations WHERE item_id = ? AND state IN (?, ?, ?)`
	args := append([]any{itemID}, activeStateArgs()...)
	var count int
	if err := db.q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active reservations: %w", err)
	}
	return count, nil
}

func (db *DB) ListReservationsByRenter(ctx context.Context, renterID int64) ([]*models.Reservation, error) {
	return db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE renter_id = ? ORDER BY start_date DESC, id DESC`,
		renterID)
}

func (db *DB) ListReservationsByItem(ctx context.Context, itemID int64) ([]*models.Reservation, error) {
	return db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE item_id = ? ORDER BY start_date DESC, id DESC`,
		itemID)
}

// ListPendingReservationsForOwner returns pending requests on items owned by ownerID.
func (db *DB) ListPendingReservationsForOwner(ctx context.Context, ownerID int64) ([]*models.Reservation, error) {
	query := `SELECT r.id, r.item_id, r.renter_id, r.start_date, r.end_date, r.state, r.version, r.created_at, r.updated_at
			FROM reservations r JOIN items i ON i.id = r.item_id
			WHERE i.owner_id = ? AND r.state = ?
			ORDER BY r.created_at, r.id`
	return db.queryReservations(ctx, query, ownerID, models.ReservationPending)
}

// ListDueReservations returns confirmed reservations whose end date is on or before asOf.
func (db *DB) ListDueReservations(ctx context.Context, asOf time.Time) ([]*models.Reservation, error) {
	return db.queryReservations(ctx,
		`SELECT `+reservationColumns+` FROM reservations WHERE state = ? AND end_date <= ? ORDER BY end_date, id`,
		models.ReservationConfirmed, models.Day(asOf).Format(models.DateLayout))
}

func (db *DB) HasCompletedReservation(ctx context.Context, renterID, itemID int64) (bool, error) {
	query := `SELECT COUNT(*) FROM reservations WHERE renter_id = ? AND item_id = ? AND state = ?`
	var count int
	if err := db.q.QueryRowContext(ctx, query, renterID, itemID, models.ReservationCompleted).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check completed reservation: %w", err)
	}
	return count > 0, nil
}

func (db *DB) queryReservations(ctx context.Context, query string, args ...any) ([]*models.Reservation, error) {
	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []*models.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	return reservations, rows.Err()
}

func scanReservation(row rowScanner) (*models.Reservation, error) {
	var (
		r          models.Reservation
		start, end string
	)
	err := row.Scan(&r.ID, &r.ItemID, &r.RenterID, &start, &end, &r.State, &r.Version, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if r.StartDate, err = models.ParseDay(start); err != nil {
		return nil, fmt.Errorf("failed to parse start date %s: %w", start, err)
	}
	if r.EndDate, err = models.ParseDay(end); err != nil {
		return nil, fmt.Errorf("failed to parse end date %s: %w", end, err)
	}
	return &r, nil
}
