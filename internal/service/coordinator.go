package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"rentmarket/internal/domain"
	"rentmarket/internal/metrics"
	"rentmarket/internal/models"
	"rentmarket/internal/worker"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("rentmarket/service")

// MutateFunc runs inside the item's transaction. repo is scoped to that
// transaction and item is the state read at its start.
type MutateFunc func(repo domain.Repository, item *models.Item) error

// Coordinator linearizes writes to an item and the reservation holding it.
// Each attempt is one transaction; a lost version race rolls it back and the
// whole attempt is replayed.
type Coordinator struct {
	uow         domain.UnitOfWork
	retry       worker.RetryPolicy
	maxAttempts int
	logger      *zerolog.Logger
}

func NewCoordinator(uow domain.UnitOfWork, maxAttempts int, retry worker.RetryPolicy, logger *zerolog.Logger) *Coordinator {
	if maxAttempts <= 0 {
		maxAttempts = models.DefaultCoordinatorAttempts
	}
	if retry.InitialDelay <= 0 {
		retry.InitialDelay = 10 * time.Millisecond
	}
	if retry.MaxDelay <= 0 {
		retry.MaxDelay = 200 * time.Millisecond
	}
	if retry.Jitter == 0 {
		retry.Jitter = 0.2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Coordinator{
		uow:         uow,
		retry:       retry,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Mutate reads the item and runs fn in one transaction, retrying on
// ErrConcurrentModification. Business errors from fn are returned as is.
func (c *Coordinator) Mutate(ctx context.Context, itemID int64, op string, fn MutateFunc) error {
	ctx, span := tracer.Start(ctx, "coordinator."+op,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int64("item.id", itemID)),
	)
	defer span.End()

	started := time.Now()
	defer func() {
		metrics.ObserveCoordinator(op, time.Since(started).Seconds())
	}()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		err := c.uow.InTx(ctx, func(repo domain.Repository) error {
			item, err := repo.GetItem(ctx, itemID)
			if err != nil {
				return err
			}
			return fn(repo, item)
		})
		if err == nil {
			span.SetAttributes(attribute.Int("attempts", attempt))
			return nil
		}
		if !errors.Is(err, domain.ErrConcurrentModification) {
			span.SetStatus(codes.Error, err.Error())
			return err
		}

		lastErr = err
		metrics.IncRetry(op)
		c.logger.Debug().Err(err).Int64("item_id", itemID).Str("op", op).Int("attempt", attempt).Msg("version conflict, retrying")

		if attempt == c.maxAttempts {
			break
		}
		if err := c.retry.Wait(ctx, attempt); err != nil {
			return err
		}
	}

	metrics.IncConflict(op)
	span.SetStatus(codes.Error, "retries exhausted")
	c.logger.Warn().Err(lastErr).Int64("item_id", itemID).Str("op", op).Msg("coordinator gave up")
	return fmt.Errorf("%w: item %d after %d attempts", domain.ErrBookingConflict, itemID, c.maxAttempts)
}

// SetAvailability moves item to the given availability. Only code running
// under Mutate may call it.
func SetAvailability(ctx context.Context, repo domain.Repository, item *models.Item, to models.AvailabilityState) error {
	if !item.Availability.CanTransitionTo(to) {
		return domain.InvalidTransitionf("item %d: %s -> %s", item.ID, item.Availability, to)
	}
	prev := item.Availability
	item.Availability = to
	if err := repo.UpdateItemState(ctx, item); err != nil {
		item.Availability = prev
		return err
	}
	return nil
}
