package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"rentmarket/internal/config"
	"rentmarket/internal/domain"
	"rentmarket/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *DB {
	logger := zerolog.New(os.Stdout)
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.SyncCategories(context.Background(), []models.Category{
		{ID: 1, Name: "Tools"},
		{ID: 2, Name: "Camping"},
	}))
	return db
}

// createPublishedItem stores an item that can be reserved right away.
func createPublishedItem(t *testing.T, db *DB, ownerID int64) *models.Item {
	now := time.Now().UTC()
	item := &models.Item{
		OwnerID:      ownerID,
		CategoryID:   1,
		Name:         "Drill",
		PriceCents:   5000,
		Availability: models.AvailabilityAvailable,
		Published:    true,
		PublishedAt:  &now,
	}
	require.NoError(t, db.CreateItem(context.Background(), item))
	return item
}

func day(s string) time.Time {
	d, err := models.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestNewDB_DirectoryCreation(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()

	assert.FileExists(t, dbPath)
	assert.Equal(t, DriverSQLite, db.Driver())
}

func TestNewDB_SchemaIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "twice.db")
	logger := zerolog.Nop()

	db, err := NewDB(dbPath, &logger)
	require.NoError(t, err)
	require.NoError(t, db.Close())

	db, err = NewDB(dbPath, &logger)
	require.NoError(t, err)
	defer db.Close()
	assert.NoError(t, db.PingContext(context.Background()))
}

func TestOpen_Drivers(t *testing.T) {
	logger := zerolog.Nop()

	db, err := Open(config.DatabaseConfig{Driver: "sqlite3", Path: ":memory:"}, &logger)
	require.NoError(t, err)
	db.Close()

	_, err = Open(config.DatabaseConfig{Driver: "postgres"}, &logger)
	assert.Error(t, err)

	_, err = Open(config.DatabaseConfig{Driver: "mysql", DSN: "::not a dsn"}, &logger)
	assert.Error(t, err)
}

func TestInTx(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	t.Run("RollbackOnError", func(t *testing.T) {
		boom := errors.New("boom")
		err := db.InTx(ctx, func(repo domain.Repository) error {
			require.NoError(t, repo.CreateItem(ctx, &models.Item{OwnerID: 1, CategoryID: 1, Name: "Tent", Availability: models.AvailabilityUnavailable}))
			return boom
		})
		assert.ErrorIs(t, err, boom)

		items, err := db.ListItems(ctx, models.ItemFilter{})
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("NestedJoinsOuter", func(t *testing.T) {
		err := db.InTx(ctx, func(repo domain.Repository) error {
			uow, ok := repo.(domain.UnitOfWork)
			require.True(t, ok)
			return uow.InTx(ctx, func(inner domain.Repository) error {
				return inner.CreateItem(ctx, &models.Item{OwnerID: 1, CategoryID: 1, Name: "Tent", Availability: models.AvailabilityUnavailable})
			})
		})
		require.NoError(t, err)

		items, err := db.ListItems(ctx, models.ItemFilter{})
		require.NoError(t, err)
		assert.Len(t, items, 1)
	})
}

func TestClosedDBErrors(t *testing.T) {
	logger := zerolog.Nop()
	db, err := NewDB(":memory:", &logger)
	require.NoError(t, err)
	db.Close()

	ctx := context.Background()
	_, err = db.GetItem(ctx, 1)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrNotFound)

	err = db.CreateReservation(ctx, &models.Reservation{ItemID: 1, StartDate: day("2030-01-01"), EndDate: day("2030-01-02")})
	assert.Error(t, err)

	_, err = db.ListIncidents(ctx, 0)
	assert.Error(t, err)

	err = db.CreateNotification(ctx, &models.Notification{EventType: "x"})
	assert.Error(t, err)
}
