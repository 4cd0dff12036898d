package operation

// AllowedTransitions defines the valid lifecycle transitions.
// Completada, Cancelado and Expirada are terminal.
func AllowedTransitions() map[Status][]Status {
	return map[Status][]Status{
		StatusPendiente:  {StatusEnProceso, StatusCancelado, StatusExpirada},
		StatusEnProceso:  {StatusCompletada, StatusCancelado, StatusExpirada},
		StatusCompletada: {},
		StatusCancelado:  {},
		StatusExpirada:   {},
	}
}

// IsValidTransition checks whether moving from one status to another is allowed.
func IsValidTransition(from, to Status) bool {
	for _, allowed := range AllowedTransitions()[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves the given status.
func IsTerminal(s Status) bool {
	return len(AllowedTransitions()[s]) == 0
}

// validateTransition returns the typed error for an attempted transition.
// When the caller recorded an expected pre-state and the operation has moved
// on since, the failure is a stale read rather than a bad request.
func validateTransition(op *Operation, expected, to Status) error {
	if op.Status != expected {
		return &StaleStateError{
			OperationCode: op.Code,
			Expected:      expected,
			Actual:        op.Status,
		}
	}
	if !IsValidTransition(op.Status, to) {
		return &InvalidTransitionError{
			OperationCode: op.Code,
			From:          op.Status,
			To:            to,
		}
	}
	return nil
}
