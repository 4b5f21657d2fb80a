package events

import (
	"context"
	"time"

	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/kaajbazar/service-booking/internal/domain/directory"
	"github.com/kaajbazar/service-booking/internal/platform/auth"
	"github.com/kaajbazar/service-booking/internal/platform/clock"
	"github.com/kaajbazar/service-booking/internal/platform/kafka"
)

// DirectoryWriter stores the local copy of users and categories.
type DirectoryWriter interface {
	UpsertUser(ctx context.Context, u directory.User, now time.Time) error
	UpsertCategory(ctx context.Context, c directory.Category, now time.Time) error
}

// UserUpsertedEvent is published whenever a user is created or changed.
type UserUpsertedEvent struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Active bool      `json:"active"`
	Roles  []string  `json:"roles"`
}

// CategoryUpsertedEvent is published whenever a service category is created or renamed.
type CategoryUpsertedEvent struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

// DirectoryConsumer keeps the booking service's view of users and categories current.
type DirectoryConsumer struct {
	consumer *kafka.Consumer
	writer   DirectoryWriter
	clock    clock.Clock
	logger   *zap.Logger
}

// NewDirectoryConsumer creates a new DirectoryConsumer.
func NewDirectoryConsumer(
	brokers []string,
	groupID string,
	writer DirectoryWriter,
	clk clock.Clock,
	logger *zap.Logger,
) *DirectoryConsumer {
	return &DirectoryConsumer{
		consumer: kafka.NewConsumer(brokers, groupID, TopicDirectoryEvents, logger),
		writer:   writer,
		clock:    clk,
		logger:   logger.Named("directory_consumer"),
	}
}

// Start begins consuming directory events. This blocks until the context is cancelled.
func (c *DirectoryConsumer) Start(ctx context.Context) error {
	return c.consumer.Consume(ctx, c.handleMessage)
}

// Close closes the underlying Kafka consumer.
func (c *DirectoryConsumer) Close() error {
	return c.consumer.Close()
}

func (c *DirectoryConsumer) handleMessage(ctx context.Context, msg kafkago.Message) error {
	return c.handle(ctx, msg.Value)
}

func (c *DirectoryConsumer) handle(ctx context.Context, value []byte) error {
	cloudEvent, err := kafka.ParseCloudEvent(value)
	if err != nil {
		c.logger.Error("failed to parse cloud event from directory topic", zap.Error(err))
		return nil
	}

	switch cloudEvent.Type {
	case UserUpserted:
		var evt UserUpsertedEvent
		if err := cloudEvent.ParseData(&evt); err != nil || evt.ID == uuid.Nil {
			c.logger.Error("invalid user event", zap.String("event_id", cloudEvent.ID), zap.Error(err))
			return nil
		}
		roles := make([]auth.Role, len(evt.Roles))
		for i, r := range evt.Roles {
			roles[i] = auth.Role(r)
		}
		return c.writer.UpsertUser(ctx, directory.User{
			ID:     evt.ID,
			Name:   evt.Name,
			Active: evt.Active,
			Roles:  roles,
		}, c.clock.Now())

	case CategoryUpserted:
		var evt CategoryUpsertedEvent
		if err := cloudEvent.ParseData(&evt); err != nil || evt.ID == uuid.Nil {
			c.logger.Error("invalid category event", zap.String("event_id", cloudEvent.ID), zap.Error(err))
			return nil
		}
		return c.writer.UpsertCategory(ctx, directory.Category{ID: evt.ID, Name: evt.Name}, c.clock.Now())

	default:
		c.logger.Debug("ignoring unhandled directory event type", zap.String("type", cloudEvent.Type))
		return nil
	}
}
