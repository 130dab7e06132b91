package events

import (
	"testing"
	"time"
)

func TestPublishReachesSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	broker.Publish(&Event{
		Type:    EventRecoverySucceeded,
		Message: "job retried",
	})

	select {
	case event := <-sub:
		if event.Type != EventRecoverySucceeded {
			t.Errorf("unexpected event type %s", event.Type)
		}
		if event.Timestamp.IsZero() {
			t.Error("timestamp should be stamped on publish")
		}
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}

func TestMultipleSubscribers(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	a := broker.Subscribe()
	b := broker.Subscribe()

	if broker.SubscriberCount() != 2 {
		t.Fatalf("expected 2 subscribers, got %d", broker.SubscriberCount())
	}

	broker.Publish(&Event{Type: EventBreakerOpened})

	for _, sub := range []Subscriber{a, b} {
		select {
		case <-sub:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	broker := NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	broker.Unsubscribe(sub)

	if broker.SubscriberCount() != 0 {
		t.Errorf("expected 0 subscribers, got %d", broker.SubscriberCount())
	}
}

func TestNilBrokerPublishIsNoop(t *testing.T) {
	var broker *Broker
	// must not panic
	broker.Publish(&Event{Type: EventRecoveryFailed})
}
