// Package eventbus is the Event Bus half of the Persistence & Event Bus
// component (spec.md §4 table, §6: "the UI/observability publish-subscribe
// bus — only event shapes [are specified]"). Grounded on
// internal/observability/events.go's Event/EventType shape, generalized
// from a single timeline recorder into a topic-keyed fan-out pub/sub
// (spec.md §6: "agents:<id> — agent_spawned, agent_dismissed,
// agent_terminated").
package eventbus

import (
	"sync"
	"time"
)

// Kind enumerates the lifecycle/runtime event shapes spec.md §6 names.
type Kind string

const (
	KindAgentSpawned    Kind = "agent_spawned"
	KindAgentRestored   Kind = "agent_restored"
	KindAgentDismissed  Kind = "agent_dismissed"
	KindAgentTerminated Kind = "agent_terminated"
	KindConsensusRound  Kind = "consensus_round"
	KindActionExecuted  Kind = "action_executed"
	KindCondensation    Kind = "ace_condensation"
)

// Event is one published record. Data is intentionally a loosely-typed
// map — spec.md §6 specifies event *shapes*, not a closed schema, and
// different Kinds carry different fields.
type Event struct {
	Topic     string         `json:"topic"`
	Kind      Kind           `json:"kind"`
	AgentID   string         `json:"agent_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Subscriber receives every Event published to a topic it subscribed to.
// Implementations must not block for long — Bus.Publish delivers
// synchronously to a buffered channel per subscriber and drops the event
// for that subscriber if its buffer is full (spec.md places no delivery
// guarantee on the UI bus; the agent runtime itself never blocks on a
// slow observer).
type Subscriber struct {
	ch     chan Event
	topics map[string]bool
}

// Events returns the channel new events for this subscriber arrive on.
// The channel is closed when Unsubscribe is called.
func (s *Subscriber) Events() <-chan Event { return s.ch }

const subscriberBuffer = 64

// Bus is a topic-keyed in-memory pub/sub. A topic of "" on Subscribe
// means "every topic" (used by eventbus.WSPublisher to fan everything out
// to connected UI clients).
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscriber]struct{}
}

// New builds an empty Bus.
func New() *Bus {
	return &Bus{subs: map[*Subscriber]struct{}{}}
}

// Subscribe registers a new Subscriber listening to topics (empty slice
// means all topics).
func (b *Bus) Subscribe(topics ...string) *Subscriber {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	sub := &Subscriber{ch: make(chan Event, subscriberBuffer), topics: set}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[sub] = struct{}{}
	return sub
}

// Unsubscribe removes sub and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; ok {
		delete(b.subs, sub)
		close(sub.ch)
	}
}

func (s *Subscriber) matches(topic string) bool {
	if len(s.topics) == 0 {
		return true
	}
	return s.topics[topic]
}

// Publish implements tree.Publisher: fan event out to every subscriber
// whose topic filter matches. event is accepted as `any` to satisfy that
// interface's signature; non-Event values are wrapped as KindCustom-ish
// best-effort records so a caller publishing a plain string (as
// tree.Supervisor does for its lifecycle markers) still reaches
// subscribers.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, Timestamp: time.Now()}
	switch v := payload.(type) {
	case Event:
		evt = v
		if evt.Topic == "" {
			evt.Topic = topic
		}
		if evt.Timestamp.IsZero() {
			evt.Timestamp = time.Now()
		}
	case string:
		evt.Kind = Kind(v)
	default:
		evt.Data = map[string]any{"value": v}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if !sub.matches(evt.Topic) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Slow subscriber: drop rather than block the publisher.
		}
	}
}
