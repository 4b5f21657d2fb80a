// Package stripegw adapts Stripe PaymentIntents to the booking payment port.
package stripegw

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
)

const metadataBookingID = "booking_id"

var (
	ErrInvalidSignature = errors.New("stripe: invalid webhook signature")
	ErrInvalidPayload   = errors.New("stripe: invalid webhook payload")
)

// Gateway implements application.PaymentGateway on the Stripe API. Intents are created
// with manual capture so the final amount is only taken once the booking completes.
type Gateway struct {
	api           *client.API
	webhookSecret string
	logger        *zap.Logger
}

// New creates a Gateway for the given secret key and webhook signing secret.
func New(secretKey, webhookSecret string, logger *zap.Logger) *Gateway {
	return &Gateway{
		api:           client.New(secretKey, nil),
		webhookSecret: webhookSecret,
		logger:        logger.Named("stripe"),
	}
}

// CreateIntent authorizes amountPoisha for the booking.
func (g *Gateway) CreateIntent(ctx context.Context, bookingID uuid.UUID, amountPoisha int64, currency string) (*application.PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(amountPoisha),
		Currency:      stripe.String(strings.ToLower(currency)),
		CaptureMethod: stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	params.AddMetadata(metadataBookingID, bookingID.String())
	params.SetIdempotencyKey("booking-intent-" + bookingID.String())

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create payment intent: %w", err)
	}
	g.logger.Info("payment intent created",
		zap.String("booking_id", bookingID.String()),
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount", pi.Amount),
	)
	return toPaymentIntent(pi, pi.Amount), nil
}

// CapturePayment captures amountPoisha of an authorized intent.
func (g *Gateway) CapturePayment(ctx context.Context, intentID string, amountPoisha int64) (*application.PaymentIntent, error) {
	params := &stripe.PaymentIntentCaptureParams{
		AmountToCapture: stripe.Int64(amountPoisha),
	}
	params.Context = ctx

	pi, err := g.api.PaymentIntents.Capture(intentID, params)
	if err != nil {
		return nil, fmt.Errorf("stripe: capture payment intent %s: %w", intentID, err)
	}
	g.logger.Info("payment captured",
		zap.String("payment_intent_id", pi.ID),
		zap.Int64("amount_received", pi.AmountReceived),
	)
	return toPaymentIntent(pi, pi.AmountReceived), nil
}

// RefundPayment refunds amountPoisha of a captured intent. Stripe only accepts a fixed set
// of reasons, so the free-text reason travels in metadata.
func (g *Gateway) RefundPayment(ctx context.Context, intentID string, amountPoisha int64, reason string) (*application.Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(intentID),
		Amount:        stripe.Int64(amountPoisha),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if reason != "" {
		params.AddMetadata("reason", reason)
	}

	r, err := g.api.Refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: refund payment intent %s: %w", intentID, err)
	}
	g.logger.Info("refund created",
		zap.String("payment_intent_id", intentID),
		zap.String("refund_id", r.ID),
		zap.Int64("amount", r.Amount),
	)
	return &application.Refund{ID: r.ID, AmountPoisha: r.Amount, Status: string(r.Status)}, nil
}

// VerifyWebhook checks the Stripe-Signature header against the signing secret.
func (g *Gateway) VerifyWebhook(payload []byte, signature string) (*application.WebhookEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		Tolerance:                webhook.DefaultTolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if evt.Data == nil {
		return nil, ErrInvalidPayload
	}
	return &application.WebhookEvent{ID: evt.ID, Type: string(evt.Type), Payload: evt.Data.Raw}, nil
}

type intentObject struct {
	ID             string            `json:"id"`
	Amount         int64             `json:"amount"`
	AmountReceived int64             `json:"amount_received"`
	Metadata       map[string]string `json:"metadata"`
}

type chargeObject struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	AmountRefunded int64             `json:"amount_refunded"`
	Metadata       map[string]string `json:"metadata"`
}

// ProcessWebhook maps payment_intent.succeeded to a capture and charge.refunded to a
// cumulative refund total. Other event types return nil.
func (g *Gateway) ProcessWebhook(evt *application.WebhookEvent) (*application.PaymentEvent, error) {
	switch stripe.EventType(evt.Type) {
	case stripe.EventTypePaymentIntentSucceeded:
		var pi intentObject
		if err := json.Unmarshal(evt.Payload, &pi); err != nil || pi.ID == "" {
			return nil, ErrInvalidPayload
		}
		amount := pi.AmountReceived
		if amount <= 0 {
			amount = pi.Amount
		}
		return &application.PaymentEvent{
			Type:         application.PaymentCaptured,
			IntentID:     pi.ID,
			BookingID:    bookingIDFrom(pi.Metadata),
			AmountPoisha: amount,
		}, nil

	case stripe.EventTypeChargeRefunded:
		var ch chargeObject
		if err := json.Unmarshal(evt.Payload, &ch); err != nil || ch.PaymentIntent == "" {
			return nil, ErrInvalidPayload
		}
		return &application.PaymentEvent{
			Type:         application.PaymentRefunded,
			IntentID:     ch.PaymentIntent,
			BookingID:    bookingIDFrom(ch.Metadata),
			AmountPoisha: ch.AmountRefunded,
		}, nil

	default:
		return nil, nil
	}
}

func bookingIDFrom(metadata map[string]string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(metadata[metadataBookingID]))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func toPaymentIntent(pi *stripe.PaymentIntent, amount int64) *application.PaymentIntent {
	return &application.PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       string(pi.Status),
		AmountPoisha: amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
	}
}
