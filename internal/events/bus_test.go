package events

import (
	"sync"
	"testing"
	"time"
)

func TestNilBus(t *testing.T) {
	var b *Bus
	b.Publish(Event{Source: SourceAgent, Kind: KindRequestStart})
	b.Emit(SourceActivity, KindActivityParsed, nil)
	if got := b.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() on nil bus = %d, want 0", got)
	}
}

func recv(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestEmit(t *testing.T) {
	b := New()
	ch := b.Subscribe(8)
	defer b.Unsubscribe(ch)

	before := time.Now()
	b.Emit(SourceAgent, KindToolDone, map[string]any{"tool": "get_weather", "ok": true})

	got := recv(t, ch)
	if got.Source != SourceAgent || got.Kind != KindToolDone {
		t.Errorf("event = %+v", got)
	}
	if got.Data["tool"] != "get_weather" {
		t.Errorf("data = %v", got.Data)
	}
	if got.Timestamp.Before(before) {
		t.Errorf("timestamp %v not stamped at emit", got.Timestamp)
	}
}

func TestPublishStampsZeroTimestamp(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	b.Publish(Event{Source: SourceMemory, Kind: KindMemoryExtracted})
	if recv(t, ch).Timestamp.IsZero() {
		t.Error("zero timestamp not filled")
	}
}

func TestFanOut(t *testing.T) {
	b := New()
	const n = 4
	subs := make([]<-chan Event, n)
	for i := range n {
		subs[i] = b.Subscribe(4)
	}

	b.Emit(SourceActivity, KindActivityParsed, map[string]any{"type": "spray"})
	for i, ch := range subs {
		if e := recv(t, ch); e.Data["type"] != "spray" {
			t.Errorf("subscriber %d got %+v", i, e)
		}
		b.Unsubscribe(ch)
	}
	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d after unsubscribing all", b.SubscriberCount())
	}
}

func TestSlowSubscriberDropsEvents(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	defer b.Unsubscribe(ch)

	done := make(chan struct{})
	go func() {
		for i := range 10 {
			b.Emit(SourceAgent, KindLLMCall, map[string]any{"iter": i})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}

	if e := recv(t, ch); e.Data["iter"] != 0 {
		t.Errorf("first buffered event = %v, want iter 0", e.Data)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New()
	ch := b.Subscribe(1)
	b.Unsubscribe(ch)

	if _, ok := <-ch; ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	b.Unsubscribe(ch) // no-op
	b.Emit(SourceAgent, KindRequestComplete, nil)
}

func TestConcurrentPublishSubscribe(t *testing.T) {
	b := New()
	var wg sync.WaitGroup

	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				b.Emit(SourceAgent, KindToolCall, nil)
			}
		}()
	}
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				ch := b.Subscribe(2)
				b.Unsubscribe(ch)
			}
		}()
	}
	wg.Wait()

	if b.SubscriberCount() != 0 {
		t.Errorf("SubscriberCount = %d, want 0", b.SubscriberCount())
	}
}
