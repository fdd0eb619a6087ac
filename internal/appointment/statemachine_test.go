package appointment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	legal := []struct{ from, to Status }{
		{StatusScheduled, StatusCheckedIn},
		{StatusScheduled, StatusInProgress},
		{StatusScheduled, StatusCancelled},
		{StatusScheduled, StatusNoShow},
		{StatusCheckedIn, StatusInProgress},
		{StatusCheckedIn, StatusCancelled},
		{StatusCheckedIn, StatusNoShow},
		{StatusInProgress, StatusCompleted},
		{StatusInProgress, StatusCancelled},
		{StatusCancelled, StatusScheduled},
		{StatusNoShow, StatusScheduled},
		{StatusRescheduled, StatusScheduled},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct{ from, to Status }{
		{StatusCompleted, StatusScheduled},
		{StatusCompleted, StatusInProgress},
		{StatusCompleted, StatusCancelled},
		{StatusScheduled, StatusCompleted},
		{StatusCheckedIn, StatusScheduled},
		{StatusInProgress, StatusNoShow},
		{StatusInProgress, StatusCheckedIn},
		{StatusCancelled, StatusCheckedIn},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestCheckTransition(t *testing.T) {
	t.Parallel()

	require.NoError(t, CheckTransition(StatusScheduled, StatusCheckedIn))

	err := CheckTransition(StatusCompleted, StatusScheduled)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Contains(t, err.Error(), "COMPLETED -> SCHEDULED")
}

func TestNormalizeStatus(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw  string
		want Status
	}{
		{"SCHEDULED", StatusScheduled},
		{"scheduled", StatusScheduled},
		{"booked", StatusScheduled},
		{"Pending", StatusScheduled},
		{"CHECKED_IN", StatusCheckedIn},
		{"checked-in", StatusCheckedIn},
		{"arrived", StatusCheckedIn},
		{"Waiting", StatusCheckedIn},
		{"IN_PROGRESS", StatusInProgress},
		{"in consultation", StatusInProgress},
		{"ongoing", StatusInProgress},
		{"COMPLETED", StatusCompleted},
		{"done", StatusCompleted},
		{"Finished", StatusCompleted},
		{"CANCELLED", StatusCancelled},
		{"canceled", StatusCancelled},
		{"NO_SHOW", StatusNoShow},
		{"no-show", StatusNoShow},
		{"missed", StatusNoShow},
		{"RESCHEDULED", StatusRescheduled},
		{"moved", StatusRescheduled},
	}

	for _, tc := range cases {
		got, err := NormalizeStatus(tc.raw)
		require.NoError(t, err, "normalize %q", tc.raw)
		assert.Equal(t, tc.want, got, "normalize %q", tc.raw)
	}
}

func TestNormalizeStatus_Unmappable(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "unknown", "deleted", "SCHEDULD"} {
		_, err := NormalizeStatus(raw)
		require.Error(t, err, "normalize %q", raw)
		assert.ErrorIs(t, err, ErrDataIntegrity)
	}
}
