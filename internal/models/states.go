package models

var availabilityTransitions = map[AvailabilityState][]AvailabilityState{
	AvailabilityAvailable:   {AvailabilityReserved, AvailabilityUnavailable},
	AvailabilityReserved:    {AvailabilityAvailable},
	AvailabilityUnavailable: {AvailabilityAvailable},
}

func (s AvailabilityState) Valid() bool {
	_, ok := availabilityTransitions[s]
	return ok
}

// CanTransitionTo reports whether the availability table allows s -> to.
func (s AvailabilityState) CanTransitionTo(to AvailabilityState) bool {
	for _, next := range availabilityTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

var reservationTransitions = map[ReservationState][]ReservationState{
	ReservationPending:   {ReservationAccepted, ReservationRejected, ReservationCancelled},
	ReservationAccepted:  {ReservationConfirmed, ReservationCancelled},
	ReservationConfirmed: {ReservationCompleted, ReservationCancelled},
	ReservationRejected:  nil,
	ReservationCancelled: nil,
	ReservationCompleted: nil,
}

func (s ReservationState) Valid() bool {
	_, ok := reservationTransitions[s]
	return ok
}

func (s ReservationState) CanTransitionTo(to ReservationState) bool {
	for _, next := range reservationTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal is true for rejected, cancelled and completed.
func (s ReservationState) IsTerminal() bool {
	return s.Valid() && len(reservationTransitions[s]) == 0
}

// IsActive is true while the reservation holds its item.
func (s ReservationState) IsActive() bool {
	return s.Valid() && !s.IsTerminal()
}

// ActiveReservationStates lists the states that hold an item.
func ActiveReservationStates() []ReservationState {
	return []ReservationState{ReservationPending, ReservationAccepted, ReservationConfirmed}
}

var incidentRank = map[IncidentState]int{
	IncidentOpen:       0,
	IncidentInProgress: 1,
	IncidentResolved:   2,
}

func (s IncidentState) Valid() bool {
	_, ok := incidentRank[s]
	return ok
}

// CanAdvanceTo allows forward moves only: open -> in_progress -> resolved.
func (s IncidentState) CanAdvanceTo(to IncidentState) bool {
	from, ok := incidentRank[s]
	if !ok {
		return false
	}
	next, ok := incidentRank[to]
	if !ok {
		return false
	}
	return next > from
}

func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleOwner, RoleRenter:
		return true
	default:
		return false
	}
}
