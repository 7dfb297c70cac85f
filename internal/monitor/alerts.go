package monitor

import (
	"fmt"
	"log"

	"rotation-trader/internal/events"
)

// AlertSink is the pluggable delivery interface for operator alerts.
type AlertSink interface {
	Send(message string) error
}

// LogSink writes alerts to the process log.
type LogSink struct{}

func (LogSink) Send(message string) error {
	log.Printf("ALERT: %s", message)
	return nil
}

// Relay forwards alert-worthy bus events to a sink. It runs until the
// subscription channels close.
type Relay struct {
	sink AlertSink
}

func NewRelay(sink AlertSink) *Relay {
	return &Relay{sink: sink}
}

// Start subscribes to failure and drift topics and relays them.
func (r *Relay) Start(bus *events.Bus) {
	for _, topic := range []events.Topic{
		events.TopicOrderFailed,
		events.TopicOrderStale,
		events.TopicPositionDrift,
		events.TopicDrawdownAlert,
	} {
		ch, _ := bus.Subscribe(topic, 32)
		go r.forward(ch)
	}
}

func (r *Relay) forward(ch <-chan events.Message) {
	for msg := range ch {
		line := fmt.Sprintf("[%s] %s", msg.Topic, msg.Detail)
		if msg.Symbol != "" {
			line = fmt.Sprintf("[%s] %s: %s", msg.Topic, msg.Symbol, msg.Detail)
		}
		if err := r.sink.Send(line); err != nil {
			log.Printf("monitor: alert delivery failed: %v", err)
		}
	}
}
