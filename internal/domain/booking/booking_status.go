package booking

import (
	"fmt"
	"strings"

	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// BookingStatus represents the current state of a booking in its lifecycle.
type BookingStatus string

const (
	StatusPending    BookingStatus = "PENDING"
	StatusAccepted   BookingStatus = "ACCEPTED"
	StatusInProgress BookingStatus = "IN_PROGRESS"
	StatusCompleted  BookingStatus = "COMPLETED"
	StatusCancelled  BookingStatus = "CANCELLED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []BookingStatus{
	StatusPending,
	StatusAccepted,
	StatusInProgress,
	StatusCompleted,
	StatusCancelled,
}

// validTransitions defines the state machine for booking status transitions.
var validTransitions = map[BookingStatus][]BookingStatus{
	StatusPending:    {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

type edge struct{ from, to BookingStatus }

// transitionEvents names the event appended when each edge executes.
var transitionEvents = map[edge]EventType{
	{StatusPending, StatusAccepted}:     EventAccepted,
	{StatusPending, StatusCancelled}:    EventCancelled,
	{StatusAccepted, StatusInProgress}:  EventCheckedIn,
	{StatusAccepted, StatusCancelled}:   EventCancelled,
	{StatusInProgress, StatusCompleted}: EventCheckedOut,
	{StatusInProgress, StatusCancelled}: EventCancelled,
}

// requiredEvents lists the events a booking's log must contain to legitimately be in a status.
var requiredEvents = map[BookingStatus][]EventType{
	StatusPending:    {EventCreated},
	StatusAccepted:   {EventCreated, EventAccepted},
	StatusInProgress: {EventCreated, EventAccepted, EventCheckedIn},
	StatusCompleted:  {EventCreated, EventAccepted, EventCheckedIn, EventCheckedOut, EventCompleted},
	StatusCancelled:  {EventCreated, EventCancelled},
}

// TransitionCheck is the outcome of CanTransitionTo.
type TransitionCheck struct {
	CanTransition bool   `json:"can_transition"`
	Reason        string `json:"reason,omitempty"`
}

// IsValid returns true if the status is a recognized booking status.
func (s BookingStatus) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if a transition from this status to the target is allowed.
func (s BookingStatus) CanTransitionTo(target BookingStatus) bool {
	return ValidateTransition(s, target)
}

// IsTerminal returns true if no further transitions are possible from this status.
func (s BookingStatus) IsTerminal() bool {
	return IsTerminalState(s)
}

// CanBeCancelled reports whether a cancel request may be accepted. A cancelled booking
// accepts repeat cancels; only a completed one refuses.
func (s BookingStatus) CanBeCancelled() bool {
	return s.IsValid() && s != StatusCompleted
}

// String returns the string representation of the status.
func (s BookingStatus) String() string {
	return string(s)
}

// ParseBookingStatus converts a string to a BookingStatus, returning an error if invalid.
func ParseBookingStatus(s string) (BookingStatus, error) {
	status := BookingStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !status.IsValid() {
		return "", fmt.Errorf("invalid booking status: %s", s)
	}
	return status, nil
}

// ValidateTransition reports whether from→to is an edge of the lifecycle graph.
func ValidateTransition(from, to BookingStatus) bool {
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// RequiredEventType returns the event that must be appended when from→to executes.
func RequiredEventType(from, to BookingStatus) (EventType, error) {
	evt, ok := transitionEvents[edge{from, to}]
	if !ok {
		return "", domain.NewInvalidStateError(string(from), string(to))
	}
	return evt, nil
}

// ValidateRequiredEvents reports whether seen contains every event needed to be in status.
func ValidateRequiredEvents(status BookingStatus, seen []EventType) bool {
	return status.IsValid() && len(missingEvents(status, seen)) == 0
}

// CanTransitionTo checks the edge first, then the preconditions of the current status.
func CanTransitionTo(from, to BookingStatus, seen []EventType) TransitionCheck {
	if !ValidateTransition(from, to) {
		return TransitionCheck{Reason: fmt.Sprintf("Cannot transition from %s to %s", from, to)}
	}
	if missing := missingEvents(from, seen); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = string(m)
		}
		return TransitionCheck{Reason: "Missing required events for current status: " + strings.Join(names, ", ")}
	}
	return TransitionCheck{CanTransition: true}
}

// GetNextPossibleStatuses returns the statuses reachable in one step.
func GetNextPossibleStatuses(status BookingStatus) []BookingStatus {
	next := validTransitions[status]
	out := make([]BookingStatus, len(next))
	copy(out, next)
	return out
}

// IsTerminalState is true for COMPLETED and CANCELLED.
func IsTerminalState(status BookingStatus) bool {
	return status == StatusCompleted || status == StatusCancelled
}

// RequiresCheckInOut is true only while the professional is on site.
func RequiresCheckInOut(status BookingStatus) bool {
	return status == StatusInProgress
}

func missingEvents(status BookingStatus, seen []EventType) []EventType {
	required, ok := requiredEvents[status]
	if !ok {
		return nil
	}
	have := make(map[EventType]struct{}, len(seen))
	for _, e := range seen {
		have[e] = struct{}{}
	}
	var missing []EventType
	for _, r := range required {
		if _, ok := have[r]; !ok {
			missing = append(missing, r)
		}
	}
	return missing
}
