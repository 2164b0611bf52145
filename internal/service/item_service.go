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

type ItemService struct {
	repo        domain.Repository
	coordinator *Coordinator
	eventBus    domain.EventPublisher
	now         domain.Clock
	logger      *zerolog.Logger
}

func NewItemService(repo domain.Repository, coordinator *Coordinator, eventBus domain.EventPublisher, logger *zerolog.Logger) *ItemService {
	return &ItemService{
		repo:        repo,
		coordinator: coordinator,
		eventBus:    eventBus,
		now:         time.Now,
		logger:      logger,
	}
}

func (s *ItemService) SetClock(clock domain.Clock) {
	s.now = clock
}

// CreateItem stores a new Draft item owned by the actor.
func (s *ItemService) CreateItem(ctx context.Context, actor models.Actor, item *models.Item) error {
	if actor.Role != models.RoleOwner && !actor.IsAdmin() {
		return domain.Forbiddenf("role %q cannot create items", actor.Role)
	}

	item.Name = strings.TrimSpace(item.Name)
	if n := utf8.RuneCountInString(item.Name); n == 0 || n > models.MaxItemNameLength {
		return domain.Validationf("name must be 1..%d characters", models.MaxItemNameLength)
	}
	if utf8.RuneCountInString(item.Description) > models.MaxDescriptionLength {
		return domain.Validationf("description must be at most %d characters", models.MaxDescriptionLength)
	}
	if item.PriceCents < 0 {
		return domain.Validationf("price must not be negative")
	}
	if err := requireCategory(ctx, s.repo, item.CategoryID); err != nil {
		return err
	}

	if !actor.IsAdmin() || item.OwnerID == 0 {
		item.OwnerID = actor.UserID
	}
	item.Availability = models.AvailabilityUnavailable
	item.Published = false
	item.PublishedAt = nil

	if err := s.repo.CreateItem(ctx, item); err != nil {
		return err
	}

	s.logger.Info().Int64("item_id", item.ID).Int64("owner_id", item.OwnerID).Msg("item created")
	return nil
}

// Publish makes a Draft item available for booking.
func (s *ItemService) Publish(ctx context.Context, actor models.Actor, itemID int64) (*models.Item, error) {
	var published models.Item
	err := s.coordinator.Mutate(ctx, itemID, "publish", func(repo domain.Repository, item *models.Item) error {
		if err := requireItemOwner(actor, item); err != nil {
			return err
		}
		if item.Published {
			return domain.Validationf("item %d is already published", item.ID)
		}
		if item.PriceCents <= 0 {
			return domain.Validationf("item %d: price must be positive to publish", item.ID)
		}
		if err := requireCategory(ctx, repo, item.CategoryID); err != nil {
			return err
		}

		now := s.now().UTC()
		item.Published = true
		item.PublishedAt = &now
		if err := SetAvailability(ctx, repo, item, models.AvailabilityAvailable); err != nil {
			return err
		}
		published = *item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.EventItemPublished, &published, actor)
	return &published, nil
}

// Retire withdraws an item from the catalog.
func (s *ItemService) Retire(ctx context.Context, actor models.Actor, itemID int64) (*models.Item, error) {
	var retired models.Item
	err := s.coordinator.Mutate(ctx, itemID, "retire", func(repo domain.Repository, item *models.Item) error {
		if err := requireItemOwner(actor, item); err != nil {
			return err
		}
		active, err := repo.CountActiveReservations(ctx, item.ID)
		if err != nil {
			return err
		}
		if active > 0 {
			return fmt.Errorf("%w: item %d has %d active reservations", domain.ErrItemInUse, item.ID, active)
		}

		item.Published = false
		item.PublishedAt = nil
		if item.Availability == models.AvailabilityUnavailable {
			// черновик: доступность не меняется
			if err := repo.UpdateItemState(ctx, item); err != nil {
				return err
			}
		} else if err := SetAvailability(ctx, repo, item, models.AvailabilityUnavailable); err != nil {
			return err
		}
		retired = *item
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.publishEvent(events.EventItemRetired, &retired, actor)
	return &retired, nil
}

func (s *ItemService) Get(ctx context.Context, id int64) (*models.Item, error) {
	return s.repo.GetItem(ctx, id)
}

func (s *ItemService) List(ctx context.Context, filter models.ItemFilter) ([]*models.Item, error) {
	if filter.Availability != "" && !filter.Availability.Valid() {
		return nil, domain.Validationf("unknown availability %q", filter.Availability)
	}
	if filter.Limit <= 0 {
		filter.Limit = models.DefaultPageSize
	}
	if filter.Limit > models.MaxPageSize {
		filter.Limit = models.MaxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListItems(ctx, filter)
}

func (s *ItemService) ListCategories(ctx context.Context) ([]*models.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *ItemService) publishEvent(eventType string, item *models.Item, actor models.Actor) {
	if s.eventBus == nil {
		return
	}
	payload := events.ItemEventPayload{
		ItemID:       item.ID,
		OwnerID:      item.OwnerID,
		Availability: string(item.Availability),
		ChangedByID:  actor.UserID,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("item_id", item.ID).Msg("publish event error")
	}
}

func requireItemOwner(actor models.Actor, item *models.Item) error {
	if actor.IsAdmin() || actor.UserID == item.OwnerID {
		return nil
	}
	return domain.Forbiddenf("user %d does not own item %d", actor.UserID, item.ID)
}

func requireCategory(ctx context.Context, repo domain.Repository, id int64) error {
	_, err := repo.GetCategory(ctx, id)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Validationf("category %d does not exist", id)
	}
	return err
}
