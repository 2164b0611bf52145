package domain

import (
	"context"
	"time"

	"rentmarket/internal/models"
)

// Repository is the keyed store of marketplace entities. Entities reference
// each other by id only.
type Repository interface {
	GetCategory(ctx context.Context, id int64) (*models.Category, error)
	ListCategories(ctx context.Context) ([]*models.Category, error)
	UpsertCategory(ctx context.Context, category *models.Category) error

	CreateItem(ctx context.Context, item *models.Item) error
	GetItem(ctx context.Context, id int64) (*models.Item, error)
	ListItems(ctx context.Context, filter models.ItemFilter) ([]*models.Item, error)
	UpdateItemState(ctx context.Context, item *models.Item) error

	CreateReservation(ctx context.Context, reservation *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	UpdateReservationState(ctx context.Context, reservation *models.Reservation, to models.ReservationState) error
	CountActiveReservations(ctx context.Context, itemID int64) (int, error)
	ListReservationsByRenter(ctx context.Context, renterID int64) ([]*models.Reservation, error)
	ListReservationsByItem(ctx context.Context, itemID int64) ([]*models.Reservation, error)
	ListPendingReservationsForOwner(ctx context.Context, ownerID int64) ([]*models.Reservation, error)
	ListDueReservations(ctx context.Context, asOf time.Time) ([]*models.Reservation, error)
	HasCompletedReservation(ctx context.Context, renterID, itemID int64) (bool, error)

	CreatePayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByReservation(ctx context.Context, reservationID int64) (*models.Payment, error)
	ListPaymentsByRenter(ctx context.Context, renterID int64) ([]*models.Payment, error)

	CreateIncident(ctx context.Context, incident *models.Incident) error
	GetIncident(ctx context.Context, id int64) (*models.Incident, error)
	UpdateIncidentState(ctx context.Context, incident *models.Incident, to models.IncidentState) error
	ListIncidents(ctx context.Context, reporterID int64) ([]*models.Incident, error)

	CreateReview(ctx context.Context, review *models.Review) error
	GetReview(ctx context.Context, id int64) (*models.Review, error)
	GetReviewByPair(ctx context.Context, reviewerID, itemID int64) (*models.Review, error)
	UpdateReview(ctx context.Context, review *models.Review) error
	DeleteReview(ctx context.Context, id int64) error
	ListReviewsByItem(ctx context.Context, itemID int64) ([]*models.Review, error)
}

// UnitOfWork is a Repository that can scope a group of writes to one
// transaction. Nested InTx calls join the outer transaction.
type UnitOfWork interface {
	Repository
	InTx(ctx context.Context, fn func(repo Repository) error) error
}

type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// GuardStore holds short-lived exclusive keys and rate-limit counters.
type GuardStore interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// Clock returns the current time; services compare calendar days in UTC.
type Clock func() time.Time
