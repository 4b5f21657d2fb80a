package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/domain/directory"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/kafka"
)

type published struct {
	topic string
	key   string
	event kafka.CloudEvent
}

type fakePublisher struct {
	sent []published
	err  error
}

func (p *fakePublisher) PublishKeyed(_ context.Context, topic, key string, event kafka.CloudEvent) error {
	if p.err != nil {
		return p.err
	}
	p.sent = append(p.sent, published{topic: topic, key: key, event: event})
	return nil
}

func TestKafkaNotifier_PublishesCloudEvent(t *testing.T) {
	pub := &fakePublisher{}
	n := NewKafkaNotifier(pub, TopicBookingEvents, zap.NewNop())

	n.Notify(context.Background(), application.NotifyBookingAccepted, "booking-1", map[string]string{"status": "ACCEPTED"})

	require.Len(t, pub.sent, 1)
	msg := pub.sent[0]
	assert.Equal(t, TopicBookingEvents, msg.topic)
	assert.Equal(t, "booking-1", msg.key)
	assert.Equal(t, application.NotifyBookingAccepted, msg.event.Type)
	assert.Equal(t, EventSource, msg.event.Source)
	assert.JSONEq(t, `{"status":"ACCEPTED"}`, string(msg.event.Data))
}

func TestKafkaNotifier_SwallowsPublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("broker down")}
	n := NewKafkaNotifier(pub, TopicBookingEvents, zap.NewNop())

	assert.NotPanics(t, func() {
		n.Notify(context.Background(), application.NotifyPayoutCreated, "payout-1", struct{}{})
	})
}

type fakePaymentHandler struct {
	events []application.PaymentEvent
	err    error
}

func (h *fakePaymentHandler) HandlePaymentEvent(_ context.Context, evt application.PaymentEvent) error {
	h.events = append(h.events, evt)
	return h.err
}

func encode(t *testing.T, eventType string, data any) []byte {
	t.Helper()
	ce, err := kafka.NewCloudEvent("service-payment", eventType, data)
	require.NoError(t, err)
	raw, err := json.Marshal(ce)
	require.NoError(t, err)
	return raw
}

func TestPaymentEventConsumer_Handle(t *testing.T) {
	bookingID := uuid.New()

	t.Run("refund event is forwarded with its type", func(t *testing.T) {
		h := &fakePaymentHandler{}
		c := &PaymentEventConsumer{handler: h, logger: zap.NewNop()}

		err := c.handle(context.Background(), encode(t, "payment.refunded", map[string]any{
			"payment_intent_id": "pi_1",
			"booking_id":        bookingID,
			"amount":            2500,
		}))

		require.NoError(t, err)
		require.Len(t, h.events, 1)
		assert.Equal(t, application.PaymentRefunded, h.events[0].Type)
		assert.Equal(t, "pi_1", h.events[0].IntentID)
		assert.Equal(t, bookingID, h.events[0].BookingID)
		assert.Equal(t, int64(2500), h.events[0].AmountPoisha)
	})

	t.Run("handler errors are returned so the offset is not committed", func(t *testing.T) {
		h := &fakePaymentHandler{err: errors.New("db down")}
		c := &PaymentEventConsumer{handler: h, logger: zap.NewNop()}

		err := c.handle(context.Background(), encode(t, "payment.captured", map[string]any{"payment_intent_id": "pi_1", "amount": 100}))
		assert.Error(t, err)
	})

	t.Run("malformed and unknown messages are skipped", func(t *testing.T) {
		h := &fakePaymentHandler{}
		c := &PaymentEventConsumer{handler: h, logger: zap.NewNop()}

		assert.NoError(t, c.handle(context.Background(), []byte("not json")))
		assert.NoError(t, c.handle(context.Background(), encode(t, "payment.escrow_held", map[string]any{})))
		assert.Empty(t, h.events)
	})
}

type fakeDirectoryWriter struct {
	users      []directory.User
	categories []directory.Category
}

func (w *fakeDirectoryWriter) UpsertUser(_ context.Context, u directory.User, _ time.Time) error {
	w.users = append(w.users, u)
	return nil
}

func (w *fakeDirectoryWriter) UpsertCategory(_ context.Context, c directory.Category, _ time.Time) error {
	w.categories = append(w.categories, c)
	return nil
}

func TestDirectoryConsumer_Handle(t *testing.T) {
	w := &fakeDirectoryWriter{}
	c := &DirectoryConsumer{writer: w, clock: clock.NewFakeClock(time.Now()), logger: zap.NewNop()}
	userID, categoryID := uuid.New(), uuid.New()

	require.NoError(t, c.handle(context.Background(), encode(t, UserUpserted, UserUpsertedEvent{
		ID:     userID,
		Name:   "Rahim",
		Active: true,
		Roles:  []string{"professional"},
	})))
	require.NoError(t, c.handle(context.Background(), encode(t, CategoryUpserted, CategoryUpsertedEvent{
		ID:   categoryID,
		Name: "Plumbing",
	})))
	require.NoError(t, c.handle(context.Background(), encode(t, UserUpserted, UserUpsertedEvent{Name: "no id"})))

	require.Len(t, w.users, 1)
	assert.Equal(t, userID, w.users[0].ID)
	assert.True(t, w.users[0].HasRole(auth.RoleProfessional))
	require.Len(t, w.categories, 1)
	assert.Equal(t, "Plumbing", w.categories[0].Name)
}
