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
	"rentmarket/internal/models"

	"github.com/rs/zerolog"
)

// PostRentalService handles incident reports and reviews.
type PostRentalService struct {
	repo     domain.UnitOfWork
	eventBus domain.EventPublisher
	now      domain.Clock
	logger   *zerolog.Logger
}

func NewPostRentalService(repo domain.UnitOfWork, eventBus domain.EventPublisher, logger *zerolog.Logger) *PostRentalService {
	return &PostRentalService{
		repo:     repo,
		eventBus: eventBus,
		now:      time.Now,
		logger:   logger,
	}
}

func (s *PostRentalService) SetClock(clock domain.Clock) {
	s.now = clock
}

// IsReviewEligible is true when renterID completed a rental of itemID and has
// not reviewed it yet.
func (s *PostRentalService) IsReviewEligible(ctx context.Context, renterID, itemID int64) (bool, error) {
	return isReviewEligible(ctx, s.repo, renterID, itemID)
}

func isReviewEligible(ctx context.Context, repo domain.Repository, renterID, itemID int64) (bool, error) {
	completed, err := repo.HasCompletedReservation(ctx, renterID, itemID)
	if err != nil || !completed {
		return false, err
	}
	_, err = repo.GetReviewByPair(ctx, renterID, itemID)
	switch {
	case err == nil:
		return false, nil
	case errors.Is(err, domain.ErrNotFound):
		return true, nil
	default:
		return false, err
	}
}

func (s *PostRentalService) CreateReview(ctx context.Context, actor models.Actor, itemID int64, rating int, comment string) (*models.Review, error) {
	if err := validateReview(rating, comment); err != nil {
		return nil, err
	}

	review := models.Review{
		ItemID:     itemID,
		ReviewerID: actor.UserID,
		Rating:     rating,
		Comment:    strings.TrimSpace(comment),
	}
	err := s.repo.InTx(ctx, func(repo domain.Repository) error {
		eligible, err := isReviewEligible(ctx, repo, actor.UserID, itemID)
		if err != nil {
			return err
		}
		if !eligible {
			return fmt.Errorf("%w: user %d has no completed rental of item %d to review", domain.ErrNotEligible, actor.UserID, itemID)
		}
		return repo.CreateReview(ctx, &review)
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.EventReviewCreated, events.PostRentalEventPayload{
		ID:     review.ID,
		ItemID: itemID,
		UserID: actor.UserID,
	})
	return &review, nil
}

// UpdateReview lets the author change rating and comment.
func (s *PostRentalService) UpdateReview(ctx context.Context, actor models.Actor, reviewID int64, rating int, comment string) (*models.Review, error) {
	if err := validateReview(rating, comment); err != nil {
		return nil, err
	}

	review, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if review.ReviewerID != actor.UserID {
		return nil, domain.Forbiddenf("user %d is not the author of review %d", actor.UserID, reviewID)
	}

	review.Rating = rating
	review.Comment = strings.TrimSpace(comment)
	if err := s.repo.UpdateReview(ctx, review); err != nil {
		return nil, err
	}
	return review, nil
}

func (s *PostRentalService) DeleteReview(ctx context.Context, actor models.Actor, reviewID int64) error {
	review, err := s.repo.GetReview(ctx, reviewID)
	if err != nil {
		return err
	}
	if review.ReviewerID != actor.UserID {
		return domain.Forbiddenf("user %d is not the author of review %d", actor.UserID, reviewID)
	}
	return s.repo.DeleteReview(ctx, reviewID)
}

func (s *PostRentalService) ListReviewsByItem(ctx context.Context, itemID int64) ([]*models.Review, error) {
	return s.repo.ListReviewsByItem(ctx, itemID)
}

// ReportIncident opens an incident against the renter's own reservation.
func (s *PostRentalService) ReportIncident(ctx context.Context, actor models.Actor, reservationID int64, description string) (*models.Incident, error) {
	description = strings.TrimSpace(description)
	if n := utf8.RuneCountInString(description); n == 0 || n > models.MaxDescriptionLength {
		return nil, domain.Validationf("description must be 1..%d characters", models.MaxDescriptionLength)
	}

	r, err := s.repo.GetReservation(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.RenterID != actor.UserID {
		return nil, domain.Forbiddenf("user %d is not the renter of reservation %d", actor.UserID, reservationID)
	}

	incident := models.Incident{
		ReservationID: reservationID,
		ReporterID:    actor.UserID,
		Description:   description,
		State:         models.IncidentOpen,
		ReportedAt:    s.now().UTC(),
	}
	if err := s.repo.CreateIncident(ctx, &incident); err != nil {
		return nil, err
	}

	s.logger.Info().Int64("incident_id", incident.ID).Int64("reservation_id", reservationID).Msg("incident reported")
	s.publish(events.EventIncidentReported, events.PostRentalEventPayload{
		ID:            incident.ID,
		ReservationID: reservationID,
		UserID:        actor.UserID,
		State:         string(incident.State),
	})
	return &incident, nil
}

// AdvanceIncident moves an incident forward. Admins only.
func (s *PostRentalService) AdvanceIncident(ctx context.Context, actor models.Actor, incidentID int64, to models.IncidentState) (*models.Incident, error) {
	if !actor.IsAdmin() {
		return nil, domain.Forbiddenf("only admins can advance incidents")
	}
	if !to.Valid() {
		return nil, domain.Validationf("unknown incident state %q", to)
	}

	incident, err := s.repo.GetIncident(ctx, incidentID)
	if err != nil {
		return nil, err
	}
	if !incident.State.CanAdvanceTo(to) {
		return nil, domain.InvalidTransitionf("incident %d: %s -> %s", incidentID, incident.State, to)
	}
	if err := s.repo.UpdateIncidentState(ctx, incident, to); err != nil {
		// Состояние поменялось между чтением и записью
		if errors.Is(err, domain.ErrConcurrentModification) {
			return nil, domain.InvalidTransitionf("incident %d changed concurrently", incidentID)
		}
		return nil, err
	}

	s.publish(events.EventIncidentAdvanced, events.PostRentalEventPayload{
		ID:            incident.ID,
		ReservationID: incident.ReservationID,
		UserID:        actor.UserID,
		State:         string(incident.State),
	})
	return incident, nil
}

// ListIncidents returns every incident to admins and own reports to others.
func (s *PostRentalService) ListIncidents(ctx context.Context, actor models.Actor) ([]*models.Incident, error) {
	if actor.IsAdmin() {
		return s.repo.ListIncidents(ctx, 0)
	}
	return s.repo.ListIncidents(ctx, actor.UserID)
}

func (s *PostRentalService) publish(eventType string, payload events.PostRentalEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("id", payload.ID).Msg("publish event error")
	}
}

func validateReview(rating int, comment string) error {
	if rating < models.MinRating || rating > models.MaxRating {
		return domain.Validationf("rating must be between %d and %d", models.MinRating, models.MaxRating)
	}
	if utf8.RuneCountInString(strings.TrimSpace(comment)) > models.MaxCommentLength {
		return domain.Validationf("comment must be at most %d characters", models.MaxCommentLength)
	}
	return nil
}
