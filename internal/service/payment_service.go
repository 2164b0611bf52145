package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"rentmarket/internal/domain"
	"rentmarket/internal/events"
	"rentmarket/internal/metrics"
	"rentmarket/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type PaymentService struct {
	repo         domain.Repository
	coordinator  *Coordinator
	reservations *ReservationService
	guards       domain.GuardStore
	guardTTL     time.Duration
	eventBus     domain.EventPublisher
	now          domain.Clock
	logger       *zerolog.Logger
}

func NewPaymentService(repo domain.Repository, coordinator *Coordinator, reservations *ReservationService, guards domain.GuardStore, guardTTL time.Duration, eventBus domain.EventPublisher, logger *zerolog.Logger) *PaymentService {
	if guardTTL <= 0 {
		guardTTL = models.PaymentGuardTTL * time.Second
	}
	return &PaymentService{
		repo:         repo,
		coordinator:  coordinator,
		reservations: reservations,
		guards:       guards,
		guardTTL:     guardTTL,
		eventBus:     eventBus,
		now:          time.Now,
		logger:       logger,
	}
}

func (s *PaymentService) SetClock(clock domain.Clock) {
	s.now = clock
}

// ComputeAmount charges the item's nightly price for every night of r.
func ComputeAmount(r *models.Reservation, item *models.Item) (int64, error) {
	nights := r.Nights()
	if nights < 1 {
		return 0, domain.Validationf("reservation %d spans %d nights", r.ID, nights)
	}
	return int64(nights) * item.PriceCents, nil
}

// ComputeAmount looks the reservation up and prices it.
func (s *PaymentService) ComputeAmount(ctx context.Context, reservationID int64) (int64, error) {
	r, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return 0, err
	}
	item, err := s.repo.GetItem(ctx, r.ItemID)
	if err != nil {
		return 0, err
	}
	return ComputeAmount(r, item)
}

// ProcessPayment records a completed payment and confirms the reservation in
// the same transaction. A reservation is paid at most once.
func (s *PaymentService) ProcessPayment(ctx context.Context, actor models.Actor, reservationID int64, method string) (*models.Payment, error) {
	method = strings.TrimSpace(method)
	if n := utf8.RuneCountInString(method); n == 0 || n > models.MaxPaymentMethodLen {
		return nil, domain.Validationf("payment method must be 1..%d characters", models.MaxPaymentMethodLen)
	}

	current, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != current.RenterID {
		return nil, domain.Forbiddenf("user %d is not the renter of reservation %d", actor.UserID, reservationID)
	}
	if err := s.ensureUnpaid(ctx, reservationID); err != nil {
		metrics.IncPayment("already_paid")
		return nil, err
	}

	release, err := s.acquireGuard(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	defer release()

	var (
		payment models.Payment
		updated models.Reservation
		ownerID int64
	)
	err = s.coordinator.Mutate(ctx, current.ItemID, "payment", func(repo domain.Repository, item *models.Item) error {
		r, err := repo.GetReservation(ctx, reservationID)
		if err != nil {
			return err
		}
		if r.State != models.ReservationPending && r.State != models.ReservationAccepted {
			return domain.InvalidTransitionf("reservation %d is %s and cannot be paid", r.ID, r.State)
		}
		if _, err := repo.GetPaymentByReservation(ctx, r.ID); err == nil {
			return fmt.Errorf("%w: reservation %d", domain.ErrAlreadyPaid, r.ID)
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		amount, err := ComputeAmount(r, item)
		if err != nil {
			return err
		}
		p := models.Payment{
			ReservationID: r.ID,
			AmountCents:   amount,
			Method:        method,
			State:         models.PaymentCompleted,
			PaidAt:        s.now().UTC(),
		}
		if err := repo.CreatePayment(ctx, &p); err != nil {
			return err
		}
		if err := s.reservations.Confirm(ctx, repo, r); err != nil {
			return err
		}
		payment = p
		updated = *r
		ownerID = item.OwnerID
		return nil
	})
	if err != nil {
		metrics.IncPayment(string(domain.KindOf(err)))
		return nil, err
	}

	metrics.IncPayment("completed")
	s.logger.Info().Int64("payment_id", payment.ID).Int64("reservation_id", reservationID).Int64("amount_cents", payment.AmountCents).Msg("payment completed")
	s.reservations.emit(events.EventReservationConfirmed, &updated, ownerID, actor)
	if s.eventBus != nil {
		payload := events.PaymentEventPayload{
			PaymentID:     payment.ID,
			ReservationID: payment.ReservationID,
			AmountCents:   payment.AmountCents,
			Method:        payment.Method,
		}
		if err := s.eventBus.PublishJSON(events.EventPaymentCompleted, payload); err != nil {
			s.logger.Error().Err(err).Int64("payment_id", payment.ID).Msg("publish event error")
		}
	}
	return &payment, nil
}

func (s *PaymentService) ensureUnpaid(ctx context.Context, reservationID int64) error {
	_, err := s.repo.GetPaymentByReservation(ctx, reservationID)
	switch {
	case err == nil:
		return fmt.Errorf("%w: reservation %d", domain.ErrAlreadyPaid, reservationID)
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}

// acquireGuard collapses concurrent submits for one reservation. Without a
// guard store the transaction and the unique payment key still hold.
func (s *PaymentService) acquireGuard(ctx context.Context, reservationID int64) (func(), error) {
	if s.guards == nil {
		return func() {}, nil
	}

	key := fmt.Sprintf("payment:reservation:%d", reservationID)
	owner := uuid.NewString()
	ok, err := s.guards.Acquire(ctx, key, owner, s.guardTTL)
	if err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("payment guard unavailable")
		return func() {}, nil
	}
	if !ok {
		if err := s.ensureUnpaid(ctx, reservationID); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: payment for reservation %d is in progress", domain.ErrBookingConflict, reservationID)
	}

	return func() {
		if err := s.guards.Release(context.WithoutCancel(ctx), key, owner); err != nil {
			s.logger.Warn().Err(err).Str("key", key).Msg("release payment guard")
		}
	}, nil
}

// ListByRenter returns the payment history of the actor, or of any renter for admins.
func (s *PaymentService) ListByRenter(ctx context.Context, actor models.Actor, renterID int64) ([]*models.Payment, error) {
	if renterID == 0 {
		renterID = actor.UserID
	}
	if renterID != actor.UserID && !actor.IsAdmin() {
		return nil, domain.Forbiddenf("user %d cannot list payments of %d", actor.UserID, renterID)
	}
	return s.repo.ListPaymentsByRenter(ctx, renterID)
}
