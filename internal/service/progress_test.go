package service

import (
	"testing"
	"time"

	"wifi_provisioner/internal/models"
)

func TestProgressHub_FanOut(t *testing.T) {
	hub := NewProgressHub()
	a, cancelA := hub.Subscribe()
	defer cancelA()
	b, cancelB := hub.Subscribe()
	defer cancelB()

	hub.Publish(models.AttemptEvent{EventID: "e1", Type: models.EventStarted})

	for i, ch := range []<-chan models.AttemptEvent{a, b} {
		select {
		case e := <-ch:
			if e.EventID != "e1" {
				t.Errorf("subscriber %d got %+v", i, e)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d got nothing", i)
		}
	}
}

func TestProgressHub_CancelClosesOnce(t *testing.T) {
	hub := NewProgressHub()
	ch, cancel := hub.Subscribe()
	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
	// publishing after unsubscribe must not panic on the closed channel
	hub.Publish(models.AttemptEvent{EventID: "late"})
}

func TestProgressHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	hub := NewProgressHub()
	ch, cancel := hub.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < subscriberBuffer*3; i++ {
			hub.Publish(models.AttemptEvent{Type: models.EventPolling})
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if got := len(ch); got != subscriberBuffer {
		t.Errorf("buffered events: got %d, want %d", got, subscriberBuffer)
	}
}
