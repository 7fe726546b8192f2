package connwatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nugget/furrow/internal/events"
)

func fastBackoff() Backoff {
	return Backoff{
		Initial:      time.Millisecond,
		Max:          5 * time.Millisecond,
		Multiplier:   2.0,
		Retries:      5,
		Poll:         5 * time.Millisecond,
		ProbeTimeout: 100 * time.Millisecond,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// nextEvent returns the next event of kind from ch.
func nextEvent(t *testing.T, ch <-chan events.Event, kind string) events.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("no %s event", kind)
		}
	}
}

func TestBackoffDefaults(t *testing.T) {
	got := Backoff{Retries: 3}.withDefaults()
	want := DefaultBackoff()
	want.Retries = 3
	if got != want {
		t.Errorf("withDefaults = %+v, want %+v", got, want)
	}
}

func TestWatch_ImmediateSuccess(t *testing.T) {
	bus := events.New()
	ch := bus.Subscribe(16)
	m := NewManager(bus, quietLogger())
	defer m.Stop()

	m.Watch(context.Background(), Service{
		Name:    "llm",
		Probe:   func(context.Context) error { return nil },
		Backoff: fastBackoff(),
	})

	e := nextEvent(t, ch, events.KindServiceReady)
	if e.Source != events.SourceHealth || e.Data["service"] != "llm" || e.Data["attempts"] != 1 {
		t.Errorf("event = %+v", e)
	}
	if !m.Ready("llm") {
		t.Error("llm should be ready")
	}
}

func TestWatch_BackoffThenSuccess(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(nil, quietLogger())
	defer m.Stop()

	m.Watch(context.Background(), Service{
		Name: "mqtt",
		Probe: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("connection refused")
			}
			return nil
		},
		Backoff: fastBackoff(),
	})

	waitFor(t, "mqtt ready", func() bool { return m.Ready("mqtt") })
	if calls.Load() < 3 {
		t.Errorf("probe calls = %d, want at least 3", calls.Load())
	}
}

func TestWatch_DownAndRecover(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)

	bus := events.New()
	ch := bus.Subscribe(64)
	m := NewManager(bus, quietLogger())
	defer m.Stop()

	m.Watch(context.Background(), Service{
		Name: "llm",
		Probe: func(context.Context) error {
			if healthy.Load() {
				return nil
			}
			return errors.New("502 bad gateway")
		},
		Backoff: fastBackoff(),
	})
	nextEvent(t, ch, events.KindServiceReady)

	healthy.Store(false)
	e := nextEvent(t, ch, events.KindServiceDown)
	if e.Data["error"] != "502 bad gateway" {
		t.Errorf("down event = %+v", e)
	}
	if m.Ready("llm") {
		t.Error("llm should be down")
	}
	if st := m.Status(); st[0].LastError != "502 bad gateway" {
		t.Errorf("status = %+v", st)
	}

	healthy.Store(true)
	e = nextEvent(t, ch, events.KindServiceReady)
	if _, ok := e.Data["attempts"]; ok {
		t.Error("recovery events carry no attempt count")
	}
}

func TestWatch_ExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	m := NewManager(nil, quietLogger())
	defer m.Stop()

	b := fastBackoff()
	b.Poll = time.Hour
	m.Watch(context.Background(), Service{
		Name: "down",
		Probe: func(context.Context) error {
			calls.Add(1)
			return errors.New("no route to host")
		},
		Backoff: b,
	})

	waitFor(t, "retries", func() bool { return calls.Load() == 5 })
	time.Sleep(20 * time.Millisecond)
	if calls.Load() != 5 {
		t.Errorf("probe calls = %d, want exactly the 5 startup retries", calls.Load())
	}
	if m.Ready("down") {
		t.Error("service should not be ready")
	}
}

func TestWatch_ProbeTimeout(t *testing.T) {
	m := NewManager(nil, quietLogger())
	defer m.Stop()

	b := fastBackoff()
	b.ProbeTimeout = 5 * time.Millisecond
	b.Retries = 1
	m.Watch(context.Background(), Service{
		Name: "slow",
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
		Backoff: b,
	})

	waitFor(t, "timeout recorded", func() bool {
		st := m.Status()
		return len(st) == 1 && st[0].LastError != ""
	})
}

func TestManager_DuplicateAndStatus(t *testing.T) {
	m := NewManager(nil, quietLogger())
	ok := func(context.Context) error { return nil }

	if !m.Watch(context.Background(), Service{Name: "mqtt", Probe: ok, Backoff: fastBackoff()}) {
		t.Fatal("first Watch should start")
	}
	if m.Watch(context.Background(), Service{Name: "mqtt", Probe: ok, Backoff: fastBackoff()}) {
		t.Error("duplicate name should be refused")
	}
	m.Watch(context.Background(), Service{Name: "llm", Probe: ok, Backoff: fastBackoff()})

	waitFor(t, "both ready", func() bool { return m.Ready("llm") && m.Ready("mqtt") })
	st := m.Status()
	if len(st) != 2 || st[0].Name != "llm" || st[1].Name != "mqtt" {
		t.Errorf("Status = %+v, want sorted by name", st)
	}
	if m.Ready("unknown") {
		t.Error("unknown service is never ready")
	}

	m.Stop()
	m.Stop()
}

func TestManager_StopOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	m := NewManager(nil, quietLogger())
	m.Watch(ctx, Service{Name: "x", Probe: func(context.Context) error { return nil }, Backoff: fastBackoff()})
	cancel()

	done := make(chan struct{})
	go func() {
		m.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return after context cancel")
	}
}
