package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"rentmarket/internal/database"
	"rentmarket/internal/events"
	"rentmarket/internal/models"
	"rentmarket/internal/repository"
	"rentmarket/internal/worker"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

var (
	owner   = models.Actor{UserID: 1, Role: models.RoleOwner}
	renter  = models.Actor{UserID: 2, Role: models.RoleRenter}
	renter2 = models.Actor{UserID: 3, Role: models.RoleRenter}
	admin   = models.Actor{UserID: 99, Role: models.RoleAdmin}
)

type testEnv struct {
	db           *database.DB
	guards       *repository.MemoryGuardStore
	items        *ItemService
	reservations *ReservationService
	payments     *PaymentService
	postRental   *PostRentalService

	mu        sync.Mutex
	today     time.Time
	published []string
}

func setupServices(t *testing.T) *testEnv {
	t.Helper()
	logger := zerolog.Nop()
	db, err := database.NewDB(filepath.Join(t.TempDir(), "service.db"), &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SyncCategories(context.Background(), []models.Category{
		{ID: 1, Name: "Tools"},
		{ID: 2, Name: "Camping"},
	}))

	env := &testEnv{db: db, today: day("2025-01-05"), guards: repository.NewMemoryGuardStore()}

	bus := events.NewEventBus()
	record := func(event *events.Event) error {
		env.mu.Lock()
		env.published = append(env.published, event.Type)
		env.mu.Unlock()
		return nil
	}
	for _, typ := range append(events.ReservationEventTypes(),
		events.EventItemPublished, events.EventItemRetired, events.EventPaymentCompleted,
		events.EventIncidentReported, events.EventIncidentAdvanced, events.EventReviewCreated) {
		bus.Subscribe(typ, record)
	}

	coordinator := NewCoordinator(db, 3, worker.RetryPolicy{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}, &logger)
	env.items = NewItemService(db, coordinator, bus, &logger)
	env.reservations = NewReservationService(db, coordinator, bus, 365, &logger)
	env.payments = NewPaymentService(db, coordinator, env.reservations, env.guards, time.Minute, bus, &logger)
	env.postRental = NewPostRentalService(db, bus, &logger)

	clock := func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.today.Add(9 * time.Hour)
	}
	env.items.SetClock(clock)
	env.reservations.SetClock(clock)
	env.payments.SetClock(clock)
	env.postRental.SetClock(clock)
	return env
}

func (e *testEnv) setToday(s string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.today = day(s)
}

func (e *testEnv) events() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.published...)
}

// publishedItem creates and publishes an item of owner priced at priceCents per night.
func (e *testEnv) publishedItem(t *testing.T, priceCents int64) *models.Item {
	t.Helper()
	ctx := context.Background()
	item := &models.Item{CategoryID: 1, Name: "Tent", PriceCents: priceCents}
	require.NoError(t, e.items.CreateItem(ctx, owner, item))
	published, err := e.items.Publish(ctx, owner, item.ID)
	require.NoError(t, err)
	return published
}

func (e *testEnv) itemState(t *testing.T, id int64) models.AvailabilityState {
	t.Helper()
	item, err := e.db.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.Availability
}

func day(s string) time.Time {
	d, err := models.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}
