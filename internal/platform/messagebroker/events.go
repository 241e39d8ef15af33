package messagebroker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

const SubjectPrefix = "dashboard.events."

const (
	EventLedgerPosted        = "ledger.posted"
	EventNumberPurchased     = "number.purchased"
	EventMessageSent         = "message.sent"
	EventMessageReceived     = "message.received"
	EventCallReceived        = "call.received"
	EventNotificationCreated = "notification.created"
)

// Publisher is the raw transport used by EventBus.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Envelope is the JSON body of every published event.
type Envelope struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	UserID     string    `json:"user_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
	Data       any       `json:"data"`
}

// EventBus publishes domain events after the originating transaction committed.
// Delivery is best effort: failures are logged and never returned to the caller.
type EventBus struct {
	pub    Publisher
	logger *slog.Logger
}

// NewEventBus returns a bus over pub. A nil pub yields a bus that drops every event.
func NewEventBus(pub Publisher, logger *slog.Logger) *EventBus {
	return &EventBus{pub: pub, logger: logger.With("component", "event_bus")}
}

func (b *EventBus) Emit(ctx context.Context, eventType, userID string, data any) {
	if b == nil || b.pub == nil {
		return
	}
	env := Envelope{
		ID:         uuid.NewString(),
		Type:       eventType,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(env)
	if err != nil {
		b.logger.ErrorContext(ctx, "Failed to marshal event", "type", eventType, "error", err)
		return
	}
	if err := b.pub.Publish(ctx, SubjectPrefix+eventType, payload); err != nil {
		b.logger.WarnContext(ctx, "Failed to publish event", "type", eventType, "user_id", userID, "error", err)
		return
	}
	eventsPublished.WithLabelValues(eventType).Inc()
}
