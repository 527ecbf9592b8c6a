package domain

import "errors"

// Failure reasons reported back to the order-intake collaborator. These map
// onto order statuses; none of them is surfaced as a Go error.
const (
	ReasonPending  = OrderStatusPending
	ReasonNoMargin = OrderStatusNoMargin
	ReasonInvalid  = OrderStatusInvalid
)

var (
	// ErrDelivered is returned when orders arrive after final delivery.
	ErrDelivered = errors.New("contract delivered, order intake closed")

	// ErrUnknownAccount is returned when an intent names an account that
	// was never initialized.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrNotInitialized is returned when the session is used before Init.
	ErrNotInitialized = errors.New("session not initialized")
)

// IntegrityError marks a violated core invariant or a persistence failure.
// It aborts the current round; the ledger must not be assumed consistent
// afterward, so the caller performs no partial-state continuation.
type IntegrityError struct {
	Op  string
	Err error
}

func (e *IntegrityError) Error() string {
	return "integrity [" + e.Op + "]: " + e.Err.Error()
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}

// IsIntegrity reports whether err carries an IntegrityError.
func IsIntegrity(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
