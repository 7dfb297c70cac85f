package events

import "time"

// Topic identifies an event stream on the bus.
type Topic string

const (
	TopicOrderPlaced     Topic = "order.placed"
	TopicOrderFilled     Topic = "order.filled"
	TopicOrderStale      Topic = "order.stale"
	TopicOrderFailed     Topic = "order.failed"
	TopicPositionDrift   Topic = "position.drift"
	TopicDrawdownAlert   Topic = "risk.drawdown"
	TopicSettingsApplied Topic = "settings.applied"
)

// Message is one bus delivery: what happened, to which symbol, with a
// human-readable detail line. Symbol is empty for account-level topics.
type Message struct {
	Topic  Topic
	Symbol string
	Detail string
	At     time.Time
}
