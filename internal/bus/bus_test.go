package bus

import (
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	b := New()
	a := b.Subscribe()
	c := b.Subscribe()
	b.Publish(Event{Kind: TaskCountChanged, ProjectID: 3, Count: 5})
	for _, ch := range []chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Kind != TaskCountChanged || e.Count != 5 || e.TS.IsZero() {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatalf("event not delivered")
		}
	}
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 200; i++ {
			b.Publish(Event{Kind: TaskMoved, TaskID: int64(i)})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected full buffer, got %d/%d", len(ch), cap(ch))
	}
}

func TestUnsubscribeClosesOnce(t *testing.T) {
	b := New()
	ch := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel")
	}
	if b.Subscribers() != 0 {
		t.Fatalf("expected no subscribers")
	}
	b.Publish(Event{Kind: MoveFailed})
	var nilBus *Bus
	nilBus.Publish(Event{Kind: MoveFailed})
}
