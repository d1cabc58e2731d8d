package order

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to Status
		want     bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusShipped, false},
		{StatusPaid, StatusShipped, true},
		{StatusPaid, StatusPending, false},
		{StatusShipped, StatusDelivered, true},
		{StatusDelivered, StatusReturnRequested, true},
		{StatusDelivered, StatusReturned, false},
		{StatusReturnRequested, StatusReturned, true},
		{StatusReturnRequested, StatusDelivered, true},
		{StatusReturned, StatusDelivered, false},
		{StatusFailed, StatusPaid, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, CanTransition(tt.from, tt.to))
		})
	}
}

func TestStatus_Terminal(t *testing.T) {
	assert.True(t, StatusReturned.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusDelivered.Terminal())
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, StatusShipped, st)

	_, err = ParseStatus("LOST")
	require.ErrorIs(t, err, ErrUnknownStatus)
}

func TestParseReturnStatus(t *testing.T) {
	st, err := ParseReturnStatus("approved")
	require.NoError(t, err)
	assert.Equal(t, ReturnApproved, st)

	_, err = ParseReturnStatus("maybe")
	require.ErrorIs(t, err, ErrInvalidDecision)
}

func TestShippingAddress_Validate(t *testing.T) {
	a := ShippingAddress{Address: "1 Main St", City: "Pune", Pincode: "411001"}
	require.NoError(t, a.Validate())

	a.Pincode = ""
	require.ErrorIs(t, a.Validate(), ErrAddressRequired)
}

func TestIsClientError(t *testing.T) {
	assert.True(t, IsClientError(ErrWindowExpired))
	assert.True(t, IsClientError(&TransitionError{From: StatusPaid, To: StatusReturned}))
	assert.True(t, IsClientError(&InvalidStateError{Status: StatusPaid, Op: "request return"}))
	assert.False(t, IsClientError(&UpdateError{Op: "x", Err: ErrUnknownStatus}))
}
