package events

// Kafka topics used by the service.
const (
	TopicBookingEvents   = "booking.events"
	TopicPaymentEvents   = "payment.events"
	TopicDirectoryEvents = "directory.events"
)

// Directory event types published by the user and catalog services.
const (
	UserUpserted     = "user.upserted"
	CategoryUpserted = "category.upserted"
)

// EventSource is the CloudEvents source of everything this service publishes.
const EventSource = "service-booking"
