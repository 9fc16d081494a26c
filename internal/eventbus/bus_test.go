package eventbus

import "testing"

func TestPublishDeliversToMatchingTopicOnly(t *testing.T) {
	b := New()
	subA := b.Subscribe("agents:a1")
	subAll := b.Subscribe()

	b.Publish("agents:a1", "agent_spawned")
	b.Publish("agents:a2", "agent_spawned")

	select {
	case evt := <-subA.Events():
		if evt.Topic != "agents:a1" {
			t.Fatalf("subA got topic %q, want agents:a1", evt.Topic)
		}
	default:
		t.Fatalf("expected subA to receive the agents:a1 event")
	}
	if len(subA.Events()) != 0 {
		t.Fatalf("expected subA to not receive the agents:a2 event")
	}

	gotAll := 0
	for i := 0; i < 2; i++ {
		select {
		case <-subAll.Events():
			gotAll++
		default:
		}
	}
	if gotAll != 2 {
		t.Fatalf("expected wildcard subscriber to receive both events, got %d", gotAll)
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	sub := b.Subscribe("x")
	b.Unsubscribe(sub)

	_, ok := <-sub.Events()
	if ok {
		t.Fatalf("expected channel closed after Unsubscribe")
	}
}

func TestPublishStringPayloadBecomesKind(t *testing.T) {
	b := New()
	sub := b.Subscribe("agents:a1")
	b.Publish("agents:a1", "agent_terminated")

	evt := <-sub.Events()
	if evt.Kind != KindAgentTerminated {
		t.Fatalf("Kind = %q, want %q", evt.Kind, KindAgentTerminated)
	}
}

func TestPublishDoesNotBlockOnFullSubscriberBuffer(t *testing.T) {
	b := New()
	sub := b.Subscribe("busy")
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish("busy", "agent_spawned")
	}
	// No deadlock/panic means the slow-subscriber drop path held.
	_ = sub
}
