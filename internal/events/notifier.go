package events

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/platform/kafka"
)

const publishTimeout = 5 * time.Second

// Publisher writes a keyed CloudEvent to a topic.
type Publisher interface {
	PublishKeyed(ctx context.Context, topic, key string, event kafka.CloudEvent) error
}

// KafkaNotifier publishes booking and settlement notifications as CloudEvents. Failures are
// logged and never returned, so a broker outage cannot fail the action that triggered them.
type KafkaNotifier struct {
	publisher Publisher
	topic     string
	logger    *zap.Logger
}

// NewKafkaNotifier creates a KafkaNotifier that writes to topic.
func NewKafkaNotifier(publisher Publisher, topic string, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		publisher: publisher,
		topic:     topic,
		logger:    logger.Named("notifier"),
	}
}

// Notify publishes payload as event, partitioned by key.
func (n *KafkaNotifier) Notify(ctx context.Context, event string, key string, payload any) {
	ce, err := kafka.NewCloudEvent(EventSource, event, payload)
	if err != nil {
		n.logger.Error("failed to build notification", zap.String("event", event), zap.Error(err))
		return
	}

	// The request may finish before the broker acknowledges.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if err := n.publisher.PublishKeyed(pubCtx, n.topic, key, ce); err != nil {
		n.logger.Warn("failed to publish notification",
			zap.String("event", event),
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
