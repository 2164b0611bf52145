package models

import (
	"time"
)

type Category struct {
	ID          int64  `yaml:"id" json:"id"`
	Name        string `yaml:"name" json:"name"`
	Description string `yaml:"description" json:"description"`
}

type Item struct {
	ID           int64             `json:"id"`
	OwnerID      int64             `json:"owner_id"`
	CategoryID   int64             `json:"category_id"`
	Name         string            `json:"name"`
	Description  string            `json:"description"`
	PriceCents   int64             `json:"price_cents"`
	Availability AvailabilityState `json:"availability"`
	Published    bool              `json:"published"`
	PublishedAt  *time.Time        `json:"published_at,omitempty"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// ItemFilter narrows item listings. Zero values mean "any".
type ItemFilter struct {
	CategoryID   int64
	OwnerID      int64
	Published    *bool
	Availability AvailabilityState
	Limit        int
	Offset       int
}

type Reservation struct {
	ID        int64            `json:"id"`
	ItemID    int64            `json:"item_id"`
	RenterID  int64            `json:"renter_id"`
	StartDate time.Time        `json:"start_date"`
	EndDate   time.Time        `json:"end_date"`
	State     ReservationState `json:"state"`
	Version   int64            `json:"version"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Nights is the number of whole days between start and end.
func (r *Reservation) Nights() int {
	return DaysBetween(r.StartDate, r.EndDate)
}

type Payment struct {
	ID            int64        `json:"id"`
	ReservationID int64        `json:"reservation_id"`
	AmountCents   int64        `json:"amount_cents"`
	Method        string       `json:"method"`
	State         PaymentState `json:"state"`
	PaidAt        time.Time    `json:"paid_at"`
}

type Incident struct {
	ID            int64         `json:"id"`
	ReservationID int64         `json:"reservation_id"`
	ReporterID    int64         `json:"reporter_id"`
	Description   string        `json:"description"`
	State         IncidentState `json:"state"`
	ReportedAt    time.Time     `json:"reported_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type Review struct {
	ID         int64     `json:"id"`
	ItemID     int64     `json:"item_id"`
	ReviewerID int64     `json:"reviewer_id"`
	Rating     int       `json:"rating"`
	Comment    string    `json:"comment"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Actor is the authenticated caller supplied by the identity layer.
type Actor struct {
	UserID int64 `json:"user_id"`
	Role   Role  `json:"role"`
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// Notification is a queued delivery of a domain event to downstream consumers.
type Notification struct {
	ID            int64      `json:"id"`
	EventType     string     `json:"event_type"`
	ReservationID int64      `json:"reservation_id"`
	Payload       string     `json:"payload"`
	Status        string     `json:"status"`
	RetryCount    int        `json:"retry_count"`
	LastError     *string    `json:"last_error"`
	CreatedAt     time.Time  `json:"created_at"`
	ProcessedAt   *time.Time `json:"processed_at"`
	NextRetryAt   *time.Time `json:"next_retry_at"`
}

// Day truncates t to its calendar date in UTC.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// DaysBetween counts calendar days from start to end.
func DaysBetween(start, end time.Time) int {
	return int(Day(end).Sub(Day(start)).Hours() / 24)
}
