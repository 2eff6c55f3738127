package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"affiliate-pipeline/internal/models"
	"affiliate-pipeline/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing pipeline events.
// A nil producer turns every publish into a no-op.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// NewBaseEvent stamps an event id, type and time
func NewBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (ep *EventPublisher) publish(ctx context.Context, key, eventType string, event interface{}) error {
	if ep == nil || ep.producer == nil {
		return nil
	}
	err := ep.producer.PublishEvent(ctx, key, event)
	result := "ok"
	if err != nil {
		result = "error"
	}
	util.EventsPublishedTotal.WithLabelValues(eventType, result).Inc()
	return err
}

// PublishProductIngested publishes ProductIngested event
func (ep *EventPublisher) PublishProductIngested(ctx context.Context, event *models.ProductIngestedEvent) error {
	event.BaseEvent = NewBaseEvent(models.EventTypeProductIngested)
	return ep.publish(ctx, fmt.Sprintf("product-%d", event.ProductID), event.EventType, event)
}

// PublishPriceChanged publishes PriceChanged event
func (ep *EventPublisher) PublishPriceChanged(ctx context.Context, event *models.PriceChangedEvent) error {
	event.BaseEvent = NewBaseEvent(models.EventTypePriceChanged)
	return ep.publish(ctx, fmt.Sprintf("product-%d", event.ProductID), event.EventType, event)
}

// PublishAlertTriggered publishes AlertTriggered event
func (ep *EventPublisher) PublishAlertTriggered(ctx context.Context, event *models.AlertTriggeredEvent) error {
	event.BaseEvent = NewBaseEvent(models.EventTypeAlertTriggered)
	return ep.publish(ctx, fmt.Sprintf("product-%d", event.ProductID), event.EventType, event)
}

// PublishJobCompleted publishes JobCompleted event
func (ep *EventPublisher) PublishJobCompleted(ctx context.Context, event *models.JobCompletedEvent) error {
	event.BaseEvent = NewBaseEvent(models.EventTypeJobCompleted)
	return ep.publish(ctx, "job-"+event.JobName, event.EventType, event)
}

// EventHandler routes incoming events to registered handlers
type EventHandler struct {
	onPriceChanged    func(context.Context, *models.PriceChangedEvent) error
	onProductIngested func(context.Context, *models.ProductIngestedEvent) error
	logger            *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPriceChanged registers a handler for PriceChanged events
func (eh *EventHandler) OnPriceChanged(handler func(context.Context, *models.PriceChangedEvent) error) {
	eh.onPriceChanged = handler
}

// OnProductIngested registers a handler for ProductIngested events
func (eh *EventHandler) OnProductIngested(handler func(context.Context, *models.ProductIngestedEvent) error) {
	eh.onProductIngested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		// undecodable messages are skipped and committed
		eh.logger.Error("Dropping undecodable event", zap.Error(err))
		return nil
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePriceChanged:
		if eh.onPriceChanged != nil {
			var event models.PriceChangedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PriceChanged event: %w", err)
			}
			return eh.onPriceChanged(ctx, &event)
		}

	case models.EventTypeProductIngested:
		if eh.onProductIngested != nil {
			var event models.ProductIngestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal ProductIngested event: %w", err)
			}
			return eh.onProductIngested(ctx, &event)
		}
	}

	return nil
}
