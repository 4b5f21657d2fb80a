package booking

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an entry in a booking's append-only audit log.
type EventType string

const (
	EventCreated    EventType = "CREATED"
	EventAccepted   EventType = "ACCEPTED"
	EventRejected   EventType = "REJECTED"
	EventCheckedIn  EventType = "CHECKED_IN"
	EventCheckedOut EventType = "CHECKED_OUT"
	EventCompleted  EventType = "COMPLETED"
	EventCancelled  EventType = "CANCELLED"
)

// IsValid returns true if the event type is recognized.
func (t EventType) IsValid() bool {
	switch t {
	case EventCreated, EventAccepted, EventRejected, EventCheckedIn,
		EventCheckedOut, EventCompleted, EventCancelled:
		return true
	}
	return false
}

// Event is an immutable lifecycle record. Events are never updated or deleted.
type Event struct {
	id         uuid.UUID
	bookingID  uuid.UUID
	eventType  EventType
	metadata   map[string]any
	occurredAt time.Time
}

// NewEvent creates an event for the booking.
func NewEvent(bookingID uuid.UUID, eventType EventType, metadata map[string]any, occurredAt time.Time) *Event {
	if metadata == nil {
		metadata = map[string]any{}
	}
	return &Event{
		id:         uuid.New(),
		bookingID:  bookingID,
		eventType:  eventType,
		metadata:   metadata,
		occurredAt: occurredAt.UTC(),
	}
}

// ReconstructEvent rebuilds an Event from persistence data.
func ReconstructEvent(id, bookingID uuid.UUID, eventType EventType, metadata map[string]any, occurredAt time.Time) *Event {
	return &Event{
		id:         id,
		bookingID:  bookingID,
		eventType:  eventType,
		metadata:   metadata,
		occurredAt: occurredAt,
	}
}

func (e *Event) ID() uuid.UUID            { return e.id }
func (e *Event) BookingID() uuid.UUID     { return e.bookingID }
func (e *Event) Type() EventType          { return e.eventType }
func (e *Event) Metadata() map[string]any { return e.metadata }
func (e *Event) OccurredAt() time.Time    { return e.occurredAt }

// EventTypes extracts the types from a history in order.
func EventTypes(events []*Event) []EventType {
	types := make([]EventType, len(events))
	for i, e := range events {
		types[i] = e.eventType
	}
	return types
}

func hasEvent(seen []EventType, t EventType) bool {
	for _, s := range seen {
		if s == t {
			return true
		}
	}
	return false
}
