package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation failed")
	ErrAuthorization          = errors.New("not authorized")
	ErrNotFound               = errors.New("not found")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrBookingConflict        = errors.New("booking conflict, please retry")
	ErrItemUnavailable        = errors.New("item is not available")
	ErrAlreadyPaid            = errors.New("reservation already paid")
	ErrSelfBooking            = errors.New("owners cannot book their own items")
	ErrItemInUse              = errors.New("item has active reservations")
	ErrNotEligible            = errors.New("not eligible")

	// ErrConcurrentModification signals a lost version race. The coordinator
	// retries on it and never lets it reach callers.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// Kind is a stable, transport-independent error code.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state_transition"
	KindConflict        Kind = "booking_conflict"
	KindItemUnavailable Kind = "item_unavailable"
	KindAlreadyPaid     Kind = "already_paid"
	KindSelfBooking     Kind = "self_booking"
	KindItemInUse       Kind = "item_in_use"
	KindNotEligible     Kind = "not_eligible"
	KindInternal        Kind = "internal"
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrValidation, KindValidation},
	{ErrAuthorization, KindAuthorization},
	{ErrNotFound, KindNotFound},
	{ErrInvalidStateTransition, KindInvalidState},
	{ErrBookingConflict, KindConflict},
	{ErrConcurrentModification, KindConflict},
	{ErrItemUnavailable, KindItemUnavailable},
	{ErrAlreadyPaid, KindAlreadyPaid},
	{ErrSelfBooking, KindSelfBooking},
	{ErrItemInUse, KindItemInUse},
	{ErrNotEligible, KindNotEligible},
}

// KindOf classifies err; unknown errors are KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindInternal
}

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

func InvalidTransitionf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidStateTransition, fmt.Sprintf(format, args...))
}
