package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/domain"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID    uuid.UUID
	Roles []auth.Role
}

// HasRole reports whether the actor holds role.
func (a Actor) HasRole(role auth.Role) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor is an administrator.
func (a Actor) IsAdmin() bool { return a.HasRole(auth.RoleAdmin) }

// SystemActor is used by scheduled jobs that run with administrator rights.
var SystemActor = Actor{ID: uuid.Nil, Roles: []auth.Role{auth.RoleAdmin}}

// Notification event names.
const (
	NotifyBookingCreated   = "booking.created"
	NotifyBookingAccepted  = "booking.accepted"
	NotifyBookingRejected  = "booking.rejected"
	NotifyBookingCheckedIn = "booking.checked_in"
	NotifyBookingCheckOut  = "booking.checked_out"
	NotifyBookingCompleted = "booking.completed"
	NotifyBookingCancelled = "booking.cancelled"
	NotifyPayoutCreated    = "payout.created"
	NotifyPayoutPaid       = "payout.paid"
	NotifyRefundIssued     = "payment.refund_issued"
)

// Notifier delivers notifications. Delivery is fire-and-forget: implementations log
// failures and never report them to the caller.
type Notifier interface {
	Notify(ctx context.Context, event string, key string, payload any)
}

// Locker serializes work across replicas.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// PaymentIntent is a gateway authorization for a booking.
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret,omitempty"`
	Status       string `json:"status"`
	AmountPoisha int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Refund is a gateway refund.
type Refund struct {
	ID           string `json:"id"`
	AmountPoisha int64  `json:"amount"`
	Status       string `json:"status"`
}

// PaymentEventType is a normalized payment notification.
type PaymentEventType string

const (
	PaymentCaptured PaymentEventType = "payment.captured"
	PaymentRefunded PaymentEventType = "payment.refunded"
)

// PaymentEvent is a gateway notification mapped onto booking bookkeeping.
// For PaymentCaptured the amount is the captured total; for PaymentRefunded it is the
// cumulative refunded total.
type PaymentEvent struct {
	Type         PaymentEventType `json:"type"`
	IntentID     string           `json:"payment_intent_id"`
	BookingID    uuid.UUID        `json:"booking_id,omitempty"`
	AmountPoisha int64            `json:"amount"`
}

// WebhookEvent is a verified, not yet interpreted gateway webhook.
type WebhookEvent struct {
	ID      string
	Type    string
	Payload json.RawMessage
}

// PaymentGateway is the external payment provider.
type PaymentGateway interface {
	CreateIntent(ctx context.Context, bookingID uuid.UUID, amountPoisha int64, currency string) (*PaymentIntent, error)
	CapturePayment(ctx context.Context, intentID string, amountPoisha int64) (*PaymentIntent, error)
	RefundPayment(ctx context.Context, intentID string, amountPoisha int64, reason string) (*Refund, error)
	VerifyWebhook(payload []byte, signature string) (*WebhookEvent, error)
	// ProcessWebhook maps a verified webhook to a PaymentEvent, or nil for event types
	// the service does not act on.
	ProcessWebhook(evt *WebhookEvent) (*PaymentEvent, error)
}

var validate = validator.New()

// validateRequest runs struct validation and flattens failures into one BadRequest.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return domain.NewValidationError(err.Error())
	}
	msgs := make([]string, len(verrs))
	for i, fe := range verrs {
		msgs[i] = fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
	}
	return domain.NewValidationError("validation failed: " + strings.Join(msgs, "; "))
}
