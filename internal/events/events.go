package events

import "context"

// Redis pub/sub streams
const (
	StreamDeal = "events:deal"
	StreamBot  = "events:bot"
)

// Event types
const (
	EventDealStatusChanged = "deal_status_changed"
	EventPaymentReceived   = "payment_received"
	EventDealCompleted     = "deal_completed"
	EventBotNotification   = "bot_notification"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
	// NotifyActor publishes a bot notification addressed to one actor.
	NotifyActor(ctx context.Context, actorID, text string) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
