package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "list.")
	defer unsub()

	b.Publish(Event{Topic: TopicListUpdated, At: time.Now(), Payload: "snapshot"})

	select {
	case evt := <-ch:
		if evt.Topic != TopicListUpdated {
			t.Errorf("got topic %q, want %q", evt.Topic, TopicListUpdated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestPrefixFiltering(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "rt.")
	defer unsub()

	b.Publish(Event{Topic: TopicListUpdated})
	b.Publish(Event{Topic: TopicMessageCreated})

	select {
	case evt := <-ch:
		if evt.Topic != TopicMessageCreated {
			t.Errorf("got topic %q, want %q", evt.Topic, TopicMessageCreated)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}

	select {
	case evt := <-ch:
		t.Errorf("unexpected event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultiplePrefixes(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "list.", "thread.")
	defer unsub()

	b.Publish(Event{Topic: TopicThreadUpdated})
	b.Publish(Event{Topic: TopicListUpdated})

	got := 0
	for got < 2 {
		select {
		case <-ch:
			got++
		case <-time.After(time.Second):
			t.Fatalf("got %d events, want 2", got)
		}
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(10, "list.")
	unsub()

	b.Publish(Event{Topic: TopicListUpdated})

	select {
	case evt := <-ch:
		t.Errorf("received event after unsubscribe: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestDropOnFullBuffer(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(1, "rt.")
	defer unsub()

	b.Publish(Event{Topic: TopicMessageCreated, Payload: "first"})
	b.Publish(Event{Topic: TopicMessageCreated, Payload: "second"})

	evt := <-ch
	if evt.Payload != "first" {
		t.Errorf("got %v, want first", evt.Payload)
	}
	if b.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", b.Dropped())
	}
}
