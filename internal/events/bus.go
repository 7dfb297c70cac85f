package events

import (
	"sync"
	"time"
)

// Bus fans messages out to per-topic subscribers. Publishing never blocks:
// a subscriber that falls behind loses messages rather than stalling the
// trading path.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]*subscriber
}

type subscriber struct {
	ch chan Message
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]*subscriber)}
}

// Subscribe registers a buffered listener on a topic. The returned cancel
// function removes the listener and closes its channel.
func (b *Bus) Subscribe(topic Topic, buffer int) (<-chan Message, func()) {
	sub := &subscriber{ch: make(chan Message, buffer)}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[topic]
		for i, s := range list {
			if s == sub {
				b.subs[topic] = append(list[:i], list[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return sub.ch, cancel
}

// Publish delivers msg to the topic's subscribers, stamping the delivery time
// when the caller left it zero. Full subscriber buffers are skipped.
func (b *Bus) Publish(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs[msg.Topic] {
		select {
		case s.ch <- msg:
		default:
		}
	}
}
