package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"rentmarket/internal/database"
	"rentmarket/internal/events"
	"rentmarket/internal/metrics"
	"rentmarket/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Notifier hands a notification to downstream consumers.
type Notifier interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// LogNotifier writes deliveries to the log. Used when no Redis is configured.
type LogNotifier struct {
	Logger *zerolog.Logger
}

func (n LogNotifier) Deliver(_ context.Context, notification models.Notification) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.Info().
		Int64("notification_id", notification.ID).
		Str("event_type", notification.EventType).
		Int64("reservation_id", notification.ReservationID).
		Msg("notification delivered")
	return nil
}

// NotificationStore is the persisted outbox.
type NotificationStore interface {
	CreateNotification(ctx context.Context, n *models.Notification) error
	GetPendingNotifications(ctx context.Context, limit int) ([]models.Notification, error)
	UpdateNotificationStatus(ctx context.Context, id int64, status, errMsg string, nextRetryAt *time.Time) error
}

// NotificationWorker persists domain events to the outbox and delivers them
// at least once, retrying with backoff and dead-lettering after MaxRetries.
type NotificationWorker struct {
	store         NotificationStore
	notifier      Notifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.Notification
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewNotificationWorker builds a worker with sane defaults. redisClient is only
// used for the dead-letter list and may be nil.
func NewNotificationWorker(store NotificationStore, notifier Notifier, redisClient *redis.Client, retry RetryPolicy, logger *zerolog.Logger) *NotificationWorker {
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 5
	}
	if retry.InitialDelay == 0 {
		retry.InitialDelay = 2 * time.Second
	}
	if retry.MaxDelay == 0 {
		retry.MaxDelay = time.Minute
	}
	if retry.BackoffFactor == 0 {
		retry.BackoffFactor = 2
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &NotificationWorker{
		store:         store,
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry,
		queue:         make(chan models.Notification, models.NotificationQueueSize),
		deadLetterKey: "rentmarket:notifications:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

func (w *NotificationWorker) SetPollInterval(d time.Duration) {
	if d > 0 {
		w.pollInterval = d
	}
}

// Subscribe wires the worker to every event type it forwards.
func (w *NotificationWorker) Subscribe(bus *events.EventBus) {
	types := append(events.ReservationEventTypes(),
		events.EventPaymentCompleted,
		events.EventIncidentReported,
		events.EventIncidentAdvanced,
		events.EventReviewCreated,
	)
	for _, typ := range types {
		bus.Subscribe(typ, func(event *events.Event) error {
			return w.Enqueue(context.Background(), event.Type, event.Payload)
		})
	}
}

// Enqueue persists the event and schedules immediate delivery.
func (w *NotificationWorker) Enqueue(ctx context.Context, eventType string, payload []byte) error {
	if eventType == "" {
		return errors.New("event type is required")
	}

	var ref struct {
		ReservationID int64 `json:"reservation_id"`
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &ref); err != nil {
			return fmt.Errorf("decode payload: %w", err)
		}
	}

	n := models.Notification{
		EventType:     eventType,
		ReservationID: ref.ReservationID,
		Payload:       string(payload),
		Status:        database.NotificationPending,
	}
	if err := w.store.CreateNotification(ctx, &n); err != nil {
		return fmt.Errorf("persist notification: %w", err)
	}

	select {
	case w.queue <- n:
	default:
		w.logger.Warn().Int64("notification_id", n.ID).Msg("notification queue full, left to polling")
	}
	return nil
}

// Start launches main loop; stops when ctx is done.
func (w *NotificationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("notification worker started")
	defer w.logger.Info().Msg("notification worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}
		if n, ok := w.tryLocalQueue(); ok {
			w.process(ctx, &n)
			continue
		}

		pending, err := w.store.GetPendingNotifications(ctx, w.batchSize)
		if err != nil {
			w.logger.Error().Err(err).Msg("fetch pending notifications")
		}
		for i := range pending {
			w.process(ctx, &pending[i])
		}
		if len(pending) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case n := <-w.queue:
			w.process(ctx, &n)
		case <-time.After(w.pollInterval):
		}
	}
}

func (w *NotificationWorker) tryLocalQueue() (models.Notification, bool) {
	select {
	case n := <-w.queue:
		return n, true
	default:
		return models.Notification{}, false
	}
}

func (w *NotificationWorker) process(ctx context.Context, n *models.Notification) {
	if err := w.notifier.Deliver(ctx, *n); err != nil {
		w.retryOrFail(ctx, n, err)
		return
	}

	metrics.IncNotification(database.NotificationCompleted)
	if err := w.store.UpdateNotificationStatus(ctx, n.ID, database.NotificationCompleted, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark completed")
	}
}

func (w *NotificationWorker) retryOrFail(ctx context.Context, n *models.Notification, cause error) {
	attempt := n.RetryCount + 1
	if attempt >= w.retryPolicy.MaxRetries {
		metrics.IncNotification(database.NotificationFailed)
		if err := w.store.UpdateNotificationStatus(ctx, n.ID, database.NotificationFailed, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark failed")
		}
		w.pushDeadLetter(ctx, n)
		return
	}

	metrics.IncNotification(database.NotificationRetry)
	next := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.store.UpdateNotificationStatus(ctx, n.ID, database.NotificationRetry, cause.Error(), &next); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("mark retry")
	}
}

func (w *NotificationWorker) pushDeadLetter(ctx context.Context, n *models.Notification) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(n)
	if err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("notification_id", n.ID).Msg("deadletter push")
	}
}
