package sale

import (
	"errors"
	"fmt"
)

// ErrInsufficientFunds is returned when the recomputed sale total exceeds the
// tendered amount. Deterministic from the caller's point of view, so it is
// never retried.
var ErrInsufficientFunds = errors.New("insufficient funds")

// RejectionError is a deterministic, caller-fixable validation failure. The
// reason is written for humans at the register and is surfaced verbatim.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	return e.Reason
}

func rejectf(format string, args ...any) *RejectionError {
	return &RejectionError{Reason: fmt.Sprintf(format, args...)}
}
