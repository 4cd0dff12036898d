package operation

import "fmt"

// InvalidTransitionError reports a status change that the state machine does
// not allow from the operation's current state. Reported, never retried.
type InvalidTransitionError struct {
	OperationCode string
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition from %q to %q for operation %s", e.From, e.To, e.OperationCode)
}

// StaleStateError reports that the operation's state changed between the
// caller's read and their action: they lost the race. The caller must
// re-fetch and re-decide; the core never retries on their behalf.
type StaleStateError struct {
	OperationCode string
	Expected      Status
	Actual        Status
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("operation %s is %q, not %q: re-fetch and retry", e.OperationCode, e.Actual, e.Expected)
}

// ConstraintViolationError reports a uniqueness or referential-integrity
// failure at the store, e.g. a duplicate operation code.
type ConstraintViolationError struct {
	Constraint string
	Detail     string
}

func (e *ConstraintViolationError) Error() string {
	return fmt.Sprintf("constraint violation (%s): %s", e.Constraint, e.Detail)
}

// NotFoundError reports an unknown operation code.
type NotFoundError struct {
	OperationCode string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("operation %s not found", e.OperationCode)
}
