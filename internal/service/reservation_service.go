package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentmarket/internal/domain"
	"rentmarket/internal/events"
	"rentmarket/internal/metrics"
	"rentmarket/internal/models"

	"github.com/rs/zerolog"
)

// systemActor triggers time-based transitions.
var systemActor = models.Actor{Role: models.RoleAdmin}

type ReservationService struct {
	repo           domain.Repository
	coordinator    *Coordinator
	eventBus       domain.EventPublisher
	maxBookingDays int
	now            domain.Clock
	logger         *zerolog.Logger
}

func NewReservationService(repo domain.Repository, coordinator *Coordinator, eventBus domain.EventPublisher, maxBookingDays int, logger *zerolog.Logger) *ReservationService {
	if maxBookingDays <= 0 {
		maxBookingDays = models.DefaultMaxBookingDays
	}
	return &ReservationService{
		repo:           repo,
		coordinator:    coordinator,
		eventBus:       eventBus,
		maxBookingDays: maxBookingDays,
		now:            time.Now,
		logger:         logger,
	}
}

func (s *ReservationService) SetClock(clock domain.Clock) {
	s.now = clock
}

func (s *ReservationService) today() time.Time {
	return models.Day(s.now())
}

// ValidateDates checks a requested range against today and the booking horizon.
func (s *ReservationService) ValidateDates(start, end time.Time) error {
	start, end = models.Day(start), models.Day(end)
	today := s.today()

	if !start.Before(end) {
		return domain.Validationf("start date %s must be before end date %s", start.Format(models.DateLayout), end.Format(models.DateLayout))
	}
	// Проверяем, что дата не в прошлом
	if start.Before(today) {
		return domain.Validationf("start date %s is in the past", start.Format(models.DateLayout))
	}
	// Проверяем максимальную дату
	if models.DaysBetween(today, end) > s.maxBookingDays {
		return domain.Validationf("reservations can be made at most %d days ahead", s.maxBookingDays)
	}
	return nil
}

// Create reserves an item for [start, end). The reservation row and the item
// flip to reserved commit together or not at all.
func (s *ReservationService) Create(ctx context.Context, actor models.Actor, itemID int64, start, end time.Time) (*models.Reservation, error) {
	if err := s.ValidateDates(start, end); err != nil {
		return nil, err
	}

	var (
		created models.Reservation
		owner   int64
	)
	err := s.coordinator.Mutate(ctx, itemID, "create", func(repo domain.Repository, item *models.Item) error {
		if actor.UserID == item.OwnerID {
			return fmt.Errorf("%w: item %d", domain.ErrSelfBooking, item.ID)
		}
		if actor.Role == models.RoleOwner {
			return domain.Forbiddenf("owners cannot reserve items")
		}
		if !item.Published || item.Availability != models.AvailabilityAvailable {
			return fmt.Errorf("%w: item %d is %s", domain.ErrItemUnavailable, item.ID, item.Availability)
		}

		r := models.Reservation{
			ItemID:    item.ID,
			RenterID:  actor.UserID,
			StartDate: models.Day(start),
			EndDate:   models.Day(end),
			State:     models.ReservationPending,
		}
		if err := repo.CreateReservation(ctx, &r); err != nil {
			return err
		}
		if err := SetAvailability(ctx, repo, item, models.AvailabilityReserved); err != nil {
			return err
		}
		created = r
		owner = item.OwnerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("reservation_id", created.ID).Int64("item_id", itemID).Int64("renter_id", actor.UserID).Msg("reservation created")
	s.emit(events.EventReservationCreated, &created, owner, actor)
	return &created, nil
}

// Accept is the owner's approval of a pending reservation.
func (s *ReservationService) Accept(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	return s.transition(ctx, actor, id, transitionSpec{
		op:    "accept",
		to:    models.ReservationAccepted,
		event: events.EventReservationAccepted,
		check: requireReservationOwner,
	})
}

// Reject declines a pending reservation and frees the item.
func (s *ReservationService) Reject(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	return s.transition(ctx, actor, id, transitionSpec{
		op:      "reject",
		to:      models.ReservationRejected,
		event:   events.EventReservationRejected,
		check:   requireReservationOwner,
		release: true,
	})
}

// Cancel withdraws a reservation before it starts. Payments are left as is.
func (s *ReservationService) Cancel(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	return s.transition(ctx, actor, id, transitionSpec{
		op:    "cancel",
		to:    models.ReservationCancelled,
		event: events.EventReservationCancelled,
		check: func(actor models.Actor, r *models.Reservation, item *models.Item) error {
			if actor.UserID != r.RenterID && actor.UserID != item.OwnerID {
				return domain.Forbiddenf("user %d is neither renter nor owner of reservation %d", actor.UserID, r.ID)
			}
			if !s.today().Before(r.StartDate) {
				return domain.InvalidTransitionf("reservation %d already started on %s", r.ID, r.StartDate.Format(models.DateLayout))
			}
			return nil
		},
		release: true,
	})
}

// Complete closes a confirmed reservation once its end date is reached.
func (s *ReservationService) Complete(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	return s.transition(ctx, actor, id, transitionSpec{
		op:      "complete",
		to:      models.ReservationCompleted,
		event:   events.EventReservationCompleted,
		check:   s.checkCompletion,
		release: true,
	})
}

func (s *ReservationService) checkCompletion(actor models.Actor, r *models.Reservation, item *models.Item) error {
	if !actor.IsAdmin() && actor.UserID != r.RenterID && actor.UserID != item.OwnerID {
		return domain.Forbiddenf("user %d cannot complete reservation %d", actor.UserID, r.ID)
	}
	if r.State == models.ReservationConfirmed && s.today().Before(r.EndDate) {
		return domain.InvalidTransitionf("reservation %d ends on %s", r.ID, r.EndDate.Format(models.DateLayout))
	}
	return nil
}

// CompleteDue completes every confirmed reservation whose end date has passed.
// Failures are logged and do not stop the sweep.
func (s *ReservationService) CompleteDue(ctx context.Context) (int, error) {
	due, err := s.repo.ListDueReservations(ctx, s.today())
	if err != nil {
		return 0, err
	}

	var (
		completed int
		errs      []error
	)
	for _, r := range due {
		if _, err := s.Complete(ctx, systemActor, r.ID); err != nil {
			// Кто-то мог отменить или завершить бронь раньше нас
			if errors.Is(err, domain.ErrInvalidStateTransition) {
				continue
			}
			s.logger.Error().Err(err).Int64("reservation_id", r.ID).Msg("complete due reservation")
			errs = append(errs, err)
			continue
		}
		completed++
	}
	return completed, errors.Join(errs...)
}

// Confirm marks a reservation as paid. It runs inside the Payment Gate's
// transaction; a pending reservation is accepted on the way.
func (s *ReservationService) Confirm(ctx context.Context, repo domain.Repository, r *models.Reservation) error {
	if r.State == models.ReservationPending {
		if err := repo.UpdateReservationState(ctx, r, models.ReservationAccepted); err != nil {
			return err
		}
	}
	if !r.State.CanTransitionTo(models.ReservationConfirmed) {
		return domain.InvalidTransitionf("reservation %d: %s -> %s", r.ID, r.State, models.ReservationConfirmed)
	}
	return repo.UpdateReservationState(ctx, r, models.ReservationConfirmed)
}

// Get returns a reservation visible to its renter, the item owner or an admin.
func (s *ReservationService) Get(ctx context.Context, actor models.Actor, id int64) (*models.Reservation, error) {
	r, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.IsAdmin() || actor.UserID == r.RenterID {
		return r, nil
	}
	item, err := s.repo.GetItem(ctx, r.ItemID)
	if err != nil {
		return nil, err
	}
	if actor.UserID != item.OwnerID {
		return nil, domain.Forbiddenf("user %d cannot view reservation %d", actor.UserID, id)
	}
	return r, nil
}

func (s *ReservationService) ListByRenter(ctx context.Context, actor models.Actor, renterID int64) ([]*models.Reservation, error) {
	if renterID == 0 {
		renterID = actor.UserID
	}
	if renterID != actor.UserID && !actor.IsAdmin() {
		return nil, domain.Forbiddenf("user %d cannot list reservations of %d", actor.UserID, renterID)
	}
	return s.repo.ListReservationsByRenter(ctx, renterID)
}

// ListPendingForOwner lists pending requests on items the actor owns.
func (s *ReservationService) ListPendingForOwner(ctx context.Context, actor models.Actor) ([]*models.Reservation, error) {
	if actor.Role != models.RoleOwner && !actor.IsAdmin() {
		return nil, domain.Forbiddenf("role %s has no pending requests to review", actor.Role)
	}
	return s.repo.ListPendingReservationsForOwner(ctx, actor.UserID)
}

func (s *ReservationService) ListByItem(ctx context.Context, actor models.Actor, itemID int64) ([]*models.Reservation, error) {
	item, err := s.repo.GetItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := requireItemOwner(actor, item); err != nil {
		return nil, err
	}
	return s.repo.ListReservationsByItem(ctx, itemID)
}

type transitionSpec struct {
	op      string
	to      models.ReservationState
	event   string
	check   func(actor models.Actor, r *models.Reservation, item *models.Item) error
	release bool
}

func (s *ReservationService) transition(ctx context.Context, actor models.Actor, id int64, spec transitionSpec) (*models.Reservation, error) {
	current, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	var (
		updated models.Reservation
		owner   int64
	)
	err = s.coordinator.Mutate(ctx, current.ItemID, spec.op, func(repo domain.Repository, item *models.Item) error {
		r, err := repo.GetReservation(ctx, id)
		if err != nil {
			return err
		}
		if err := spec.check(actor, r, item); err != nil {
			return err
		}
		if !r.State.CanTransitionTo(spec.to) {
			return domain.InvalidTransitionf("reservation %d: %s -> %s", r.ID, r.State, spec.to)
		}
		if err := repo.UpdateReservationState(ctx, r, spec.to); err != nil {
			return err
		}
		if spec.release {
			if err := SetAvailability(ctx, repo, item, models.AvailabilityAvailable); err != nil {
				return err
			}
		}
		updated = *r
		owner = item.OwnerID
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().Int64("reservation_id", id).Str("state", string(spec.to)).Int64("actor_id", actor.UserID).Msg("reservation updated")
	s.emit(spec.event, &updated, owner, actor)
	return &updated, nil
}

func (s *ReservationService) emit(eventType string, r *models.Reservation, ownerID int64, actor models.Actor) {
	metrics.IncTransition(string(r.State))
	if s.eventBus == nil {
		return
	}

	payload := events.ReservationEventPayload{
		ReservationID: r.ID,
		ItemID:        r.ItemID,
		OwnerID:       ownerID,
		RenterID:      r.RenterID,
		State:         string(r.State),
		StartDate:     r.StartDate.Format(models.DateLayout),
		EndDate:       r.EndDate.Format(models.DateLayout),
		ChangedByID:   actor.UserID,
		ChangedByRole: string(actor.Role),
		OccurredAt:    s.now().UTC(),
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("reservation_id", r.ID).Msg("publish event error")
	}
}

func requireReservationOwner(actor models.Actor, r *models.Reservation, item *models.Item) error {
	if actor.UserID != item.OwnerID {
		return domain.Forbiddenf("user %d does not own item %d", actor.UserID, item.ID)
	}
	return nil
}

// CompletionSweeper periodically completes due reservations.
type CompletionSweeper struct {
	reservations *ReservationService
	interval     time.Duration
	logger       *zerolog.Logger
}

func NewCompletionSweeper(reservations *ReservationService, interval time.Duration, logger *zerolog.Logger) *CompletionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &CompletionSweeper{reservations: reservations, interval: interval, logger: logger}
}

func (c *CompletionSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.sweep(ctx)
		}
	}
}

func (c *CompletionSweeper) sweep(ctx context.Context) {
	n, err := c.reservations.CompleteDue(ctx)
	if err != nil {
		c.logger.Error().Err(err).Int("completed", n).Msg("completion sweep finished with errors")
		return
	}
	if n > 0 {
		c.logger.Info().Int("completed", n).Msg("completion sweep")
	}
}
