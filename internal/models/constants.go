package models

// AvailabilityState is the rentability of an item.
type AvailabilityState string

const (
	AvailabilityAvailable   AvailabilityState = "available"
	AvailabilityReserved    AvailabilityState = "reserved"
	AvailabilityUnavailable AvailabilityState = "unavailable"
)

// ReservationState is a node of the reservation state machine.
type ReservationState string

const (
	ReservationPending   ReservationState = "pending"
	ReservationAccepted  ReservationState = "accepted"
	ReservationRejected  ReservationState = "rejected"
	ReservationConfirmed ReservationState = "confirmed"
	ReservationCancelled ReservationState = "cancelled"
	ReservationCompleted ReservationState = "completed"
)

type PaymentState string

const (
	PaymentCompleted PaymentState = "completed"
	PaymentPending   PaymentState = "pending"
	PaymentCancelled PaymentState = "cancelled"
)

type IncidentState string

const (
	IncidentOpen       IncidentState = "open"
	IncidentInProgress IncidentState = "in_progress"
	IncidentResolved   IncidentState = "resolved"
)

// Role is the marketplace role carried by an Actor.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
	RoleRenter Role = "renter"
)

// DateLayout is the storage and wire format of reservation dates.
const DateLayout = "2006-01-02"

const (
	MaxItemNameLength    = 100
	MaxDescriptionLength = 255
	MaxPaymentMethodLen  = 30
	MaxCommentLength     = 255

	MinRating = 1
	MaxRating = 5
)

const (
	// DefaultMaxBookingDays ограничивает, насколько далеко вперёд можно бронировать
	DefaultMaxBookingDays = 365

	// DefaultCoordinatorAttempts количество попыток транзакции при конфликте версий
	DefaultCoordinatorAttempts = 3

	// DefaultPageSize размер страницы списка предметов по умолчанию
	DefaultPageSize = 20

	// MaxPageSize верхняя граница размера страницы
	MaxPageSize = 100

	// NotificationQueueSize размер очереди воркера уведомлений
	NotificationQueueSize = 128

	// PaymentGuardTTL время жизни ключа защиты от двойной оплаты в секундах
	PaymentGuardTTL = 30

	// RateLimitWrites количество изменяющих запросов одного пользователя в окне
	RateLimitWrites = 30

	// RateLimitWindow окно ограничения частоты в секундах
	RateLimitWindow = 60
)
