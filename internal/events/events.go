package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventReservationCreated   = "reservation.created"
	EventReservationAccepted  = "reservation.accepted"
	EventReservationRejected  = "reservation.rejected"
	EventReservationConfirmed = "reservation.confirmed"
	EventReservationCancelled = "reservation.cancelled"
	EventReservationCompleted = "reservation.completed"

	EventItemPublished = "item.published"
	EventItemRetired   = "item.retired"

	EventPaymentCompleted = "payment.completed"
	EventIncidentReported = "incident.reported"
	EventIncidentAdvanced = "incident.advanced"
	EventReviewCreated    = "review.created"
)

// ReservationEventTypes lists the events emitted by reservation transitions.
func ReservationEventTypes() []string {
	return []string{
		EventReservationCreated,
		EventReservationAccepted,
		EventReservationRejected,
		EventReservationConfirmed,
		EventReservationCancelled,
		EventReservationCompleted,
	}
}

// ReservationEventPayload is the reservation snapshot sent to event consumers.
type ReservationEventPayload struct {
	ReservationID int64     `json:"reservation_id"`
	ItemID        int64     `json:"item_id"`
	OwnerID       int64     `json:"owner_id"`
	RenterID      int64     `json:"renter_id"`
	State         string    `json:"state"`
	StartDate     string    `json:"start_date"`
	EndDate       string    `json:"end_date"`
	ChangedByID   int64     `json:"changed_by_id,omitempty"`
	ChangedByRole string    `json:"changed_by_role,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

type ItemEventPayload struct {
	ItemID       int64  `json:"item_id"`
	OwnerID      int64  `json:"owner_id"`
	Availability string `json:"availability"`
	ChangedByID  int64  `json:"changed_by_id,omitempty"`
}

type PaymentEventPayload struct {
	PaymentID     int64  `json:"payment_id"`
	ReservationID int64  `json:"reservation_id"`
	AmountCents   int64  `json:"amount_cents"`
	Method        string `json:"method"`
}

type PostRentalEventPayload struct {
	ID            int64  `json:"id"`
	ReservationID int64  `json:"reservation_id,omitempty"`
	ItemID        int64  `json:"item_id,omitempty"`
	UserID        int64  `json:"user_id"`
	State         string `json:"state,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	ID        int64
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	mu          sync.RWMutex
	onError     func(event *Event, err error)
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError sets a callback for handler failures. Handlers never fail the publisher.
func (b *EventBus) OnError(fn func(event *Event, err error)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = fn
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	onError := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && onError != nil {
			onError(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
