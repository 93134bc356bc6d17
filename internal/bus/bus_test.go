package bus

import (
	"testing"
	"time"
)

func TestPublishSubscribe(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("chat.", 10)
	defer cancel()

	b.Emit(KindChatMessage, "payload")

	select {
	case evt := <-ch:
		if evt.Kind != KindChatMessage {
			t.Errorf("got kind %q, want %q", evt.Kind, KindChatMessage)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
}

func TestTopicFiltering(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("call.", 10)
	defer cancel()

	b.Emit(KindChatMessage, nil)
	b.Emit(KindCallState, nil)

	select {
	case evt := <-ch:
		if evt.Kind != KindCallState {
			t.Errorf("got kind %q, want %q", evt.Kind, KindCallState)
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

func TestCancelStopsDelivery(t *testing.T) {
	b := New()
	ch, cancel := b.Subscribe("chat.", 10)
	cancel()

	b.Emit(KindChatMessage, nil)

	select {
	case evt := <-ch:
		t.Errorf("received event after cancel: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestFullSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	_, cancel := b.Subscribe("chat.", 1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			b.Emit(KindChatMessage, i)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}
