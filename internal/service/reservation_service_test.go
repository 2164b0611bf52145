package service

import (
	"context"
	"sync"
	"testing"

	"rentmarket/internal/domain"
	"rentmarket/internal/events"
	"rentmarket/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReservationService_ValidateDates(t *testing.T) {
	env := setupServices(t)
	svc := env.reservations

	tests := []struct {
		name       string
		start, end string
		ok         bool
	}{
		{"Valid", "2025-01-10", "2025-01-12", true},
		{"StartsToday", "2025-01-05", "2025-01-06", true},
		{"EmptyRange", "2025-01-10", "2025-01-10", false},
		{"Inverted", "2025-01-12", "2025-01-10", false},
		{"InThePast", "2025-01-04", "2025-01-06", false},
		{"TooFar", "2025-06-01", "2026-01-06", false},
		{"AtHorizon", "2025-06-01", "2026-01-05", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.ValidateDates(day(tt.start), day(tt.end))
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, domain.ErrValidation)
			}
		})
	}
}

func TestReservationService_Create(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 5000)

	t.Run("SelfBooking", func(t *testing.T) {
		_, err := env.reservations.Create(ctx, owner, item.ID, day("2025-01-10"), day("2025-01-12"))
		assert.ErrorIs(t, err, domain.ErrSelfBooking)
	})

	t.Run("OwnersCannotReserve", func(t *testing.T) {
		other := models.Actor{UserID: 50, Role: models.RoleOwner}
		_, err := env.reservations.Create(ctx, other, item.ID, day("2025-01-10"), day("2025-01-12"))
		assert.ErrorIs(t, err, domain.ErrAuthorization)
	})

	t.Run("UnknownItem", func(t *testing.T) {
		_, err := env.reservations.Create(ctx, renter, 404, day("2025-01-10"), day("2025-01-12"))
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("DraftItem", func(t *testing.T) {
		draft := &models.Item{CategoryID: 1, Name: "Kayak", PriceCents: 100}
		require.NoError(t, env.items.CreateItem(ctx, owner, draft))

		_, err := env.reservations.Create(ctx, renter, draft.ID, day("2025-01-10"), day("2025-01-12"))
		assert.ErrorIs(t, err, domain.ErrItemUnavailable)
	})

	t.Run("InvalidRangeMutatesNothing", func(t *testing.T) {
		_, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-12"), day("2025-01-10"))
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Equal(t, models.AvailabilityAvailable, env.itemState(t, item.ID))
	})

	t.Run("Success", func(t *testing.T) {
		r, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-10"), day("2025-01-12"))
		require.NoError(t, err)
		assert.Equal(t, models.ReservationPending, r.State)
		assert.Equal(t, renter.UserID, r.RenterID)
		assert.Equal(t, models.AvailabilityReserved, env.itemState(t, item.ID))
		assert.Contains(t, env.events(), events.EventReservationCreated)
	})
}

// Scenarios 1-3: book, reject, and a competing renter while pending.
func TestReservationService_Scenarios(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 5000)

	r, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-10"), day("2025-01-12"))
	require.NoError(t, err)
	assert.Equal(t, models.AvailabilityReserved, env.itemState(t, item.ID))

	amount, err := env.payments.ComputeAmount(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), amount)

	_, err = env.reservations.Create(ctx, renter2, item.ID, day("2025-01-20"), day("2025-01-22"))
	assert.ErrorIs(t, err, domain.ErrItemUnavailable)
	second, err := env.db.ListReservationsByRenter(ctx, renter2.UserID)
	require.NoError(t, err)
	assert.Empty(t, second)

	rejected, err := env.reservations.Reject(ctx, owner, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationRejected, rejected.State)
	assert.Equal(t, models.AvailabilityAvailable, env.itemState(t, item.ID))
}

func TestReservationService_ConcurrentCreate(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 5000)

	const renters = 10
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		failures  []error
	)
	for i := 0; i < renters; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			actor := models.Actor{UserID: userID, Role: models.RoleRenter}
			_, err := env.reservations.Create(ctx, actor, item.ID, day("2025-01-10"), day("2025-01-12"))
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
				return
			}
			failures = append(failures, err)
		}(int64(100 + i))
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	for _, err := range failures {
		kind := domain.KindOf(err)
		assert.Contains(t, []domain.Kind{domain.KindItemUnavailable, domain.KindConflict}, kind, "unexpected error: %v", err)
	}

	active, err := env.db.CountActiveReservations(ctx, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, active)
	assert.Equal(t, models.AvailabilityReserved, env.itemState(t, item.ID))
}

func TestReservationService_AcceptThenRejectIsImpossible(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 5000)

	r, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-10"), day("2025-01-12"))
	require.NoError(t, err)

	_, err = env.reservations.Accept(ctx, renter, r.ID)
	assert.ErrorIs(t, err, domain.ErrAuthorization, "only the item owner may accept")

	accepted, err := env.reservations.Accept(ctx, owner, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationAccepted, accepted.State)

	_, err = env.reservations.Reject(ctx, owner, r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	_, err = env.reservations.Accept(ctx, owner, r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationAccepted, got.State)
	assert.Equal(t, models.AvailabilityReserved, env.itemState(t, item.ID))
}

func TestReservationService_CanonicalPath(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 5000)

	r, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-10"), day("2025-01-12"))
	require.NoError(t, err)
	_, err = env.reservations.Accept(ctx, owner, r.ID)
	require.NoError(t, err)

	payment, err := env.payments.ProcessPayment(ctx, renter, r.ID, "card")
	require.NoError(t, err)
	assert.Equal(t, int64(10000), payment.AmountCents)

	got, err := env.db.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationConfirmed, got.State)

	_, err = env.reservations.Complete(ctx, renter, r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition, "cannot complete before the end date")

	env.setToday("2025-01-12")
	_, err = env.reservations.Complete(ctx, renter2, r.ID)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	completed, err := env.reservations.Complete(ctx, renter, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, completed.State)
	assert.Equal(t, models.AvailabilityAvailable, env.itemState(t, item.ID))

	for _, step := range []func() error{
		func() error { _, err := env.reservations.Accept(ctx, owner, r.ID); return err },
		func() error { _, err := env.reservations.Cancel(ctx, renter, r.ID); return err },
		func() error { _, err := env.reservations.Complete(ctx, renter, r.ID); return err },
	} {
		assert.ErrorIs(t, step(), domain.ErrInvalidStateTransition)
	}

	assert.Subset(t, env.events(), []string{
		events.EventReservationCreated,
		events.EventReservationAccepted,
		events.EventReservationConfirmed,
		events.EventPaymentCompleted,
		events.EventReservationCompleted,
	})
}

// Scenario 4: cancel a confirmed reservation before it starts.
func TestReservationService_CancelConfirmed(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 5000)

	r, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-10"), day("2025-01-12"))
	require.NoError(t, err)
	payment, err := env.payments.ProcessPayment(ctx, renter, r.ID, "card")
	require.NoError(t, err)

	_, err = env.reservations.Cancel(ctx, renter2, r.ID)
	assert.ErrorIs(t, err, domain.ErrAuthorization)

	cancelled, err := env.reservations.Cancel(ctx, renter, r.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCancelled, cancelled.State)
	assert.Equal(t, models.AvailabilityAvailable, env.itemState(t, item.ID))

	kept, err := env.db.GetPaymentByReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.ID, kept.ID)
	assert.Equal(t, models.PaymentCompleted, kept.State)
}

func TestReservationService_CancelAfterStart(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 5000)

	r, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-10"), day("2025-01-12"))
	require.NoError(t, err)

	env.setToday("2025-01-10")
	_, err = env.reservations.Cancel(ctx, owner, r.ID)
	assert.ErrorIs(t, err, domain.ErrInvalidStateTransition)
	assert.Equal(t, models.AvailabilityReserved, env.itemState(t, item.ID))
}

func TestReservationService_CompleteDue(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	first := env.publishedItem(t, 1000)
	second := env.publishedItem(t, 1000)

	due, err := env.reservations.Create(ctx, renter, first.ID, day("2025-01-06"), day("2025-01-08"))
	require.NoError(t, err)
	_, err = env.payments.ProcessPayment(ctx, renter, due.ID, "cash")
	require.NoError(t, err)

	later, err := env.reservations.Create(ctx, renter, second.ID, day("2025-01-06"), day("2025-01-20"))
	require.NoError(t, err)
	_, err = env.payments.ProcessPayment(ctx, renter, later.ID, "cash")
	require.NoError(t, err)

	env.setToday("2025-01-09")
	n, err := env.reservations.CompleteDue(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := env.db.GetReservation(ctx, due.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCompleted, got.State)
	assert.Equal(t, models.AvailabilityAvailable, env.itemState(t, first.ID))

	got, err = env.db.GetReservation(ctx, later.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationConfirmed, got.State)
}

func TestReservationService_Reads(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	item := env.publishedItem(t, 1000)

	r, err := env.reservations.Create(ctx, renter, item.ID, day("2025-01-10"), day("2025-01-12"))
	require.NoError(t, err)

	t.Run("Get", func(t *testing.T) {
		for _, actor := range []models.Actor{renter, owner, admin} {
			got, err := env.reservations.Get(ctx, actor, r.ID)
			require.NoError(t, err)
			assert.Equal(t, r.ID, got.ID)
		}
		_, err := env.reservations.Get(ctx, renter2, r.ID)
		assert.ErrorIs(t, err, domain.ErrAuthorization)
	})

	t.Run("ListByRenter", func(t *testing.T) {
		list, err := env.reservations.ListByRenter(ctx, renter, 0)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = env.reservations.ListByRenter(ctx, renter2, renter.UserID)
		assert.ErrorIs(t, err, domain.ErrAuthorization)

		list, err = env.reservations.ListByRenter(ctx, admin, renter.UserID)
		require.NoError(t, err)
		assert.Len(t, list, 1)
	})

	t.Run("ListPendingForOwner", func(t *testing.T) {
		list, err := env.reservations.ListPendingForOwner(ctx, owner)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, r.ID, list[0].ID)

		_, err = env.reservations.ListPendingForOwner(ctx, renter)
		assert.ErrorIs(t, err, domain.ErrAuthorization)

		list, err = env.reservations.ListPendingForOwner(ctx, admin)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("ListByItem", func(t *testing.T) {
		list, err := env.reservations.ListByItem(ctx, owner, item.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = env.reservations.ListByItem(ctx, renter, item.ID)
		assert.ErrorIs(t, err, domain.ErrAuthorization)
	})
}
