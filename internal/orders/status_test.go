package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to Status }{
		{StatusPending, StatusConfirmed},
		{StatusPending, StatusPaymentFailed},
		{StatusPending, StatusRefunded},
		{StatusConfirmed, StatusFulfilled},
		{StatusConfirmed, StatusRefunded},
		{StatusConfirmed, StatusDisputed},
		{StatusFulfilled, StatusRefunded},
		{StatusDisputed, StatusRefunded},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	denied := []struct{ from, to Status }{
		{StatusPending, StatusFulfilled},
		{StatusConfirmed, StatusPending},
		{StatusConfirmed, StatusPaymentFailed},
		{StatusPaymentFailed, StatusConfirmed},
		{StatusPaymentFailed, StatusRefunded},
		{StatusRefunded, StatusConfirmed},
		{StatusRefunded, StatusRefunded},
		{StatusFulfilled, StatusConfirmed},
	}
	for _, tc := range denied {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be denied", tc.from, tc.to)
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, IsTerminal(StatusFulfilled))
	assert.True(t, IsTerminal(StatusPaymentFailed))
	assert.True(t, IsTerminal(StatusRefunded))

	assert.False(t, IsTerminal(StatusPending))
	assert.False(t, IsTerminal(StatusConfirmed))
	assert.False(t, IsTerminal(StatusDisputed))
}

func TestToStatus(t *testing.T) {
	st, err := ToStatus("confirmed")
	assert.NoError(t, err)
	assert.Equal(t, StatusConfirmed, st)

	_, err = ToStatus("shipped")
	assert.Error(t, err)
}
