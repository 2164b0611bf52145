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

const incidentColumns = `id, reservation_id, reporter_id, description, state, reported_at, updated_at`

func (db *DB) CreateIncident(ctx context.Context, inc *models.Incident) error {
	query := `INSERT INTO incidents (reservation_id, reporter_id, description, state, reported_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`
	now := time.Now().UTC()
	result, err := db.q.ExecContext(ctx, query, inc.ReservationID, inc.ReporterID, inc.Description, inc.State, now, now)
	if err != nil {
		return fmt.Errorf("failed to create incident: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	inc.ID = id
	inc.ReportedAt = now
	inc.UpdatedAt = now
	return nil
}

func (db *DB) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	var inc models.Incident
	err := db.q.QueryRowContext(ctx, `SELECT `+incidentColumns+` FROM incidents WHERE id = ?`, id).Scan(
		&inc.ID, &inc.ReservationID, &inc.ReporterID, &inc.Description, &inc.State, &inc.ReportedAt, &inc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundf("incident %d", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident: %w", err)
	}
	return &inc, nil
}

// UpdateIncidentState advances inc to the given state if its stored state is
// still inc.State.
func (db *DB) UpdateIncidentState(ctx context.Context, inc *models.Incident, to models.IncidentState) error {
	now := time.Now().UTC()
	query := `UPDATE incidents SET state = ?, updated_at = ? WHERE id = ? AND state = ?`
	if err := db.execCAS(ctx, fmt.Sprintf("incident %d", inc.ID), query, to, now, inc.ID, inc.State); err != nil {
		return err
	}
	inc.State = to
	inc.UpdatedAt = now
	return nil
}

// ListIncidents returns incidents reported by reporterID, or all of them when
// reporterID is 0.
func (db *DB) ListIncidents(ctx context.Context, reporterID int64) ([]*models.Incident, error) {
	query := `SELECT ` + incidentColumns + ` FROM incidents`
	var args []any
	if reporterID != 0 {
		query += ` WHERE reporter_id = ?`
		args = append(args, reporterID)
	}
	query += ` ORDER BY reported_at DESC, id DESC`

	rows, err := db.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents: %w", err)
	}
	defer rows.Close()

	var incidents []*models.Incident
	for rows.Next() {
		inc := &models.Incident{}
		err := rows.Scan(&inc.ID, &inc.ReservationID, &inc.ReporterID, &inc.Description, &inc.State, &inc.ReportedAt, &inc.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}
