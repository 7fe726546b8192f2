// Package connwatch tracks the reachability of Furrow's external
// dependencies (the model gateway, the MQTT broker) so the health
// endpoint can report them and operators see outages as events.
//
// Each watched service is probed in two phases:
//  1. Startup: exponential backoff (2s, 4s, 8s, ... capped at 60s)
//  2. Steady state: a probe every poll interval, emitting an event on
//     each ready/down transition
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/nugget/furrow/internal/events"
)

// Probe checks whether a service is reachable. nil means healthy.
type Probe func(ctx context.Context) error

// Backoff controls startup retries and steady-state polling.
type Backoff struct {
	Initial      time.Duration
	Max          time.Duration
	Multiplier   float64
	Retries      int
	Poll         time.Duration
	ProbeTimeout time.Duration
}

// DefaultBackoff returns 2s doubling to 60s over ten startup attempts,
// then a probe every minute.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:      2 * time.Second,
		Max:          60 * time.Second,
		Multiplier:   2.0,
		Retries:      10,
		Poll:         60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero fields from DefaultBackoff.
func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.Retries <= 0 {
		b.Retries = d.Retries
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// Service describes one dependency to watch.
type Service struct {
	Name    string
	Probe   Probe
	Backoff Backoff
}

// Status is a service's health as reported by /v1/health.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

type watcher struct {
	svc    Service
	bus    *events.Bus
	logger *slog.Logger
	done   chan struct{}

	mu        sync.Mutex
	ready     bool
	lastErr   error
	lastCheck time.Time
}

func (w *watcher) status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := Status{Name: w.svc.Name, Ready: w.ready, LastCheck: w.lastCheck}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

func (w *watcher) run(ctx context.Context) {
	defer close(w.done)
	b := w.svc.Backoff

	delay := b.Initial
	for attempt := 1; attempt <= b.Retries; attempt++ {
		err := w.check(ctx)
		if err == nil {
			w.transition(true, nil, attempt)
			break
		}
		if attempt == b.Retries {
			w.logger.Warn("service unreachable at startup, polling in background",
				"service", w.svc.Name, "attempts", attempt, "error", err)
			break
		}
		w.logger.Debug("startup probe failed",
			"service", w.svc.Name, "attempt", attempt, "next_delay", delay, "error", err)

		if !sleepCtx(ctx, delay) {
			return
		}
		delay = min(time.Duration(float64(delay)*b.Multiplier), b.Max)
	}

	ticker := time.NewTicker(b.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := w.check(ctx)
			w.transition(err == nil, err, 0)
		}
	}
}

// check runs one probe under the probe timeout and records the result.
func (w *watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.svc.Backoff.ProbeTimeout)
	defer cancel()
	err := w.svc.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// transition records readiness and emits an event only when it changes.
func (w *watcher) transition(ready bool, err error, attempts int) {
	w.mu.Lock()
	was := w.ready
	w.ready = ready
	w.mu.Unlock()

	switch {
	case ready && !was:
		w.logger.Info("service ready", "service", w.svc.Name)
		data := map[string]any{"service": w.svc.Name}
		if attempts > 0 {
			data["attempts"] = attempts
		}
		w.bus.Emit(events.SourceHealth, events.KindServiceReady, data)
	case !ready && was:
		w.logger.Warn("service down", "service", w.svc.Name, "error", err)
		w.bus.Emit(events.SourceHealth, events.KindServiceDown, map[string]any{
			"service": w.svc.Name,
			"error":   err.Error(),
		})
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager owns the watchers for every service.
type Manager struct {
	bus    *events.Bus
	logger *slog.Logger

	mu       sync.RWMutex
	watchers map[string]*watcher
	cancels  []context.CancelFunc
}

// NewManager creates a manager that reports transitions on bus, which
// may be nil.
func NewManager(bus *events.Bus, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{bus: bus, logger: logger, watchers: make(map[string]*watcher)}
}

// Watch starts probing svc in the background until ctx ends or Stop is
// called. Watching a name twice replaces nothing and returns false.
func (m *Manager) Watch(ctx context.Context, svc Service) bool {
	if svc.Name == "" || svc.Probe == nil {
		panic("connwatch: Service needs a Name and a Probe")
	}
	svc.Backoff = svc.Backoff.withDefaults()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.watchers[svc.Name]; ok {
		return false
	}

	w := &watcher{svc: svc, bus: m.bus, logger: m.logger, done: make(chan struct{})}
	watchCtx, cancel := context.WithCancel(ctx)
	m.watchers[svc.Name] = w
	m.cancels = append(m.cancels, cancel)
	go w.run(watchCtx)
	return true
}

// Ready reports whether the named service is reachable. Unknown names
// are not ready.
func (m *Manager) Ready(name string) bool {
	m.mu.RLock()
	w := m.watchers[name]
	m.mu.RUnlock()
	return w != nil && w.status().Ready
}

// Status returns every service's status sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Stop cancels every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	watchers := make([]*watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.Unlock()

	for _, c := range cancels {
		c()
	}
	for _, w := range watchers {
		<-w.done
	}
}
