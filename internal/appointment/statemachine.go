package appointment

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidTransition rejects a status change absent from the
	// transition table. Nothing is mutated on this error.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrDataIntegrity flags a status string no mapping exists for.
	// Unknown values are never silently coerced.
	ErrDataIntegrity = errors.New("data integrity error")
)

// transitions is the full lifecycle table. Terminal COMPLETED has no exits;
// CANCELLED, NO_SHOW and RESCHEDULED can be put back on the schedule.
var transitions = map[Status][]Status{
	StatusScheduled:   {StatusCheckedIn, StatusInProgress, StatusCancelled, StatusNoShow},
	StatusCheckedIn:   {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress:  {StatusCompleted, StatusCancelled},
	StatusCompleted:   {},
	StatusCancelled:   {StatusScheduled},
	StatusNoShow:      {StatusScheduled},
	StatusRescheduled: {StatusScheduled},
}

// CanTransition reports whether from -> to appears in the table.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CheckTransition returns ErrInvalidTransition when from -> to is illegal.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// legacyStatuses maps status spellings from older callers onto the canonical
// enum. Matching is case-insensitive with separators stripped.
var legacyStatuses = map[string]Status{
	"scheduled":      StatusScheduled,
	"booked":         StatusScheduled,
	"pending":        StatusScheduled,
	"checkedin":      StatusCheckedIn,
	"arrived":        StatusCheckedIn,
	"waiting":        StatusCheckedIn,
	"inprogress":     StatusInProgress,
	"inconsultation": StatusInProgress,
	"ongoing":        StatusInProgress,
	"completed":      StatusCompleted,
	"done":           StatusCompleted,
	"finished":       StatusCompleted,
	"cancelled":      StatusCancelled,
	"canceled":       StatusCancelled,
	"noshow":         StatusNoShow,
	"missed":         StatusNoShow,
	"rescheduled":    StatusRescheduled,
	"moved":          StatusRescheduled,
}

// NormalizeStatus resolves a raw status string from an external caller to a
// canonical Status. An unmappable value is an ErrDataIntegrity.
func NormalizeStatus(raw string) (Status, error) {
	key := strings.ToLower(raw)
	key = strings.NewReplacer("_", "", "-", "", " ", "").Replace(key)

	if s, ok := legacyStatuses[key]; ok {
		return s, nil
	}
	return "", fmt.Errorf("%w: unmappable status %q", ErrDataIntegrity, raw)
}
