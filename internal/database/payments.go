package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"rentmarket/internal/domain"
	"rentmarket/internal/models"
)

const paymentColumns = `p.id, p.reservation_id, p.amount_cents, p.method, p.state, p.paid_at`

func (db *DB) CreatePayment(ctx context.Context, p *models.Payment) error {
	query := `INSERT INTO payments (reservation_id, amount_cents, method, state, paid_at) VALUES (?, ?, ?, ?, ?)`
	result, err := db.q.ExecContext(ctx, query, p.ReservationID, p.AmountCents, p.Method, p.State, p.PaidAt.UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: reservation %d", domain.ErrAlreadyPaid, p.ReservationID)
		}
		return fmt.Errorf("failed to create payment: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	p.ID = id
	return nil
}

func (db *DB) GetPaymentByReservation(ctx context.Context, reservationID int64) (*models.Payment, error) {
	row := db.q.QueryRowContext(ctx, `SELECT `+paymentColumns+` FROM payments p WHERE p.reservation_id = ?`, reservationID)
	var p models.Payment
	err := row.Scan(&p.ID, &p.ReservationID, &p.AmountCents, &p.Method, &p.State, &p.PaidAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("payment for reservation %d", reservationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment: %w", err)
	}
	return &p, nil
}

// ListPaymentsByRenter is the renter's payment history, newest first.
func (db *DB) ListPaymentsByRenter(ctx context.Context, renterID int64) ([]*models.Payment, error) {
	query := `SELECT ` + paymentColumns + `
			FROM payments p JOIN reservations r ON r.id = p.reservation_id
			WHERE r.renter_id = ?
			ORDER BY p.paid_at DESC, p.id DESC`
	rows, err := db.q.QueryContext(ctx, query, renterID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p := &models.Payment{}
		if err := rows.Scan(&p.ID, &p.ReservationID, &p.AmountCents, &p.Method, &p.State, &p.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}
