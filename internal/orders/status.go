package orders

import "errors"

type Status string

// remember to add new statuses to the validNext map
const (
	StatusPending       Status = "pending"
	StatusConfirmed     Status = "confirmed"
	StatusFulfilled     Status = "fulfilled"
	StatusPaymentFailed Status = "payment_failed"
	StatusRefunded      Status = "refunded"
	StatusDisputed      Status = "disputed"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:       {StatusConfirmed: true, StatusPaymentFailed: true, StatusRefunded: true},
	StatusConfirmed:     {StatusFulfilled: true, StatusRefunded: true, StatusDisputed: true},
	StatusFulfilled:     {StatusRefunded: true}, // refund path only
	StatusDisputed:      {StatusRefunded: true},
	StatusPaymentFailed: {},
	StatusRefunded:      {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// IsTerminal reports whether reconciliation-driven transitions out of s are
// over. A terminal order only moves again via an explicit refund or a forced
// admin override.
func IsTerminal(s Status) bool {
	switch s {
	case StatusFulfilled, StatusPaymentFailed, StatusRefunded:
		return true
	}
	return false
}

func ToStatus(s string) (Status, error) {
	status := Status(s)
	if _, ok := validNext[status]; ok {
		return status, nil
	}
	return "", errors.New("invalid order status")
}
