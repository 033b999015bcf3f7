package app

import (
	"context"
	"time"
)

const notificationRoutingKey = "notification.created"

// NotificationEvent is the message consumed by the marketplace notification service.
type NotificationEvent struct {
	RecipientID string    `json:"recipient_id"`
	Message     string    `json:"message"`
	Source      string    `json:"source"`
	CreatedAt   time.Time `json:"created_at"`
}

// EventNotifier delivers notifications as events on the message broker.
type EventNotifier struct {
	publisher EventPublisher
	exchange  string
}

// NewEventNotifier creates a notifier publishing to exchange.
func NewEventNotifier(publisher EventPublisher, exchange string) *EventNotifier {
	return &EventNotifier{publisher: publisher, exchange: exchange}
}

// Notify publishes one notification event.
func (n *EventNotifier) Notify(ctx context.Context, recipientID, message string) error {
	return n.publisher.Publish(ctx, n.exchange, notificationRoutingKey, NotificationEvent{
		RecipientID: recipientID,
		Message:     message,
		Source:      "billing-service",
		CreatedAt:   time.Now().UTC(),
	})
}
