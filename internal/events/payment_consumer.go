package events

import (
	"context"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/application"
	"github.com/kaajbazar/service-booking/internal/platform/kafka"
)

// PaymentEventHandler applies normalized payment events to bookings.
type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, evt application.PaymentEvent) error
}

// PaymentEventConsumer listens to payment events published by the payment service and
// records captures and refunds on bookings.
type PaymentEventConsumer struct {
	consumer *kafka.Consumer
	handler  PaymentEventHandler
	logger   *zap.Logger
}

// NewPaymentEventConsumer creates a new PaymentEventConsumer.
func NewPaymentEventConsumer(
	brokers []string,
	groupID string,
	handler PaymentEventHandler,
	logger *zap.Logger,
) *PaymentEventConsumer {
	return &PaymentEventConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, TopicPaymentEvents, logger),
		handler:  handler,
		logger:   logger.Named("payment_consumer"),
	}
}

// Start begins consuming payment events. This blocks until the context is cancelled.
func (c *PaymentEventConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *PaymentEventConsumer) Close() error {
	return c.consumer.Close()
}

func (c *PaymentEventConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	return c.handle(ctx, msg.Value)
}

func (c *PaymentEventConsumer) handle(ctx context.Context, value []byte) error {
	cloudEvent, err := kafka.ParseCloudEvent(value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from payment topic",
			zap.Error(err),
			zap.String("raw", string(value)),
		)
		return nil // Don't retry malformed messages
	}

	eventType := application.PaymentEventType(cloudEvent.Type)
	switch eventType {
	case application.PaymentCaptured, application.PaymentRefunded:
	default:
		c.logger.Debug("ignoring unhandled payment event type",
			zap.String("type", cloudEvent.Type),
		)
		return nil
	}

	var evt application.PaymentEvent
	if err := cloudEvent.ParseData(&evt); err != nil {
		c.logger.Error("failed to parse payment event data",
			zap.String("type", cloudEvent.Type),
			zap.Error(err),
		)
		return nil // Don't retry malformed data
	}
	evt.Type = eventType

	if err := c.handler.HandlePaymentEvent(ctx, evt); err != nil {
		c.logger.Error("failed to apply payment event",
			zap.String("type", cloudEvent.Type),
			zap.String("payment_intent_id", evt.IntentID),
			zap.String("booking_id", evt.BookingID.String()),
			zap.Error(err),
		)
		return err
	}

	c.logger.Info("payment event applied",
		zap.String("type", cloudEvent.Type),
		zap.String("payment_intent_id", evt.IntentID),
		zap.Int64("amount", evt.AmountPoisha),
	)
	return nil
}
