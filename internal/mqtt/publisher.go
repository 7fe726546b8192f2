package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"github.com/nugget/furrow/internal/buildinfo"
	"github.com/nugget/furrow/internal/config"
	"github.com/nugget/furrow/internal/events"
)

// statsInterval is how often the retained stats message is refreshed.
const statsInterval = time.Minute

// publishFunc sends one message. Replaced in tests.
type publishFunc func(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error

// Publisher forwards bus events to the broker.
type Publisher struct {
	cfg     config.MQTTConfig
	bus     *events.Bus
	tokens  *DailyTokens
	logger  *slog.Logger
	publish publishFunc

	// cm is set once Start has connected; Stop and AwaitConnection may
	// run on other goroutines.
	cm atomic.Pointer[autopaho.ConnectionManager]
}

// New creates a Publisher but does not connect. Call [Publisher.Start].
func New(cfg config.MQTTConfig, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "furrow"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "furrow-" + uuid.NewString()[:8]
	}
	return &Publisher{
		cfg:    cfg,
		bus:    bus,
		tokens: NewDailyTokens(nil),
		logger: logger,
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	statusTopic := p.statusTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   statusTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			if _, err := cm.Publish(ctx, &paho.Publish{Topic: statusTopic, Payload: []byte("online"), QoS: 1, Retain: true}); err != nil {
				p.logger.Warn("mqtt status publish failed", "error", err)
			}
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.publish = func(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
		_, err := cm.Publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
		return err
	}
	p.cm.Store(cm)

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		// autopaho keeps retrying in the background.
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	p.run(ctx)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return nil
	}
	if err := p.publish(ctx, p.statusTopic(), []byte("offline"), 1, true); err != nil {
		p.logger.Warn("mqtt status publish failed", "error", err)
	}
	return cm.Disconnect(ctx)
}

// AwaitConnection blocks until the broker connection is up or ctx
// expires.
func (p *Publisher) AwaitConnection(ctx context.Context) error {
	cm := p.cm.Load()
	if cm == nil {
		return errors.New("mqtt publisher not started")
	}
	return cm.AwaitConnection(ctx)
}

func (p *Publisher) run(ctx context.Context) {
	ch := p.bus.Subscribe(256)
	defer p.bus.Unsubscribe(ch)

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.forward(ctx, e)
		case <-ticker.C:
			p.publishStats(ctx)
		}
	}
}

// forward publishes one event and folds token counts into the daily
// totals.
func (p *Publisher) forward(ctx context.Context, e events.Event) {
	if e.Kind == events.KindLLMResponse {
		p.tokens.OnTokens(intData(e.Data, "tokens_in"), intData(e.Data, "tokens_out"))
	}

	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("mqtt marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e)
	if err := p.publish(ctx, topic, payload, 0, false); err != nil {
		p.logger.Debug("mqtt event publish failed", "topic", topic, "error", err)
	}
}

type stats struct {
	Version      string `json:"version"`
	Uptime       string `json:"uptime"`
	InputTokens  int64  `json:"input_tokens_today"`
	OutputTokens int64  `json:"output_tokens_today"`
	ModelCalls   int64  `json:"model_calls_today"`
}

func (p *Publisher) publishStats(ctx context.Context) {
	in, out, calls := p.tokens.Snapshot()
	payload, _ := json.Marshal(stats{
		Version:      buildinfo.Version,
		Uptime:       buildinfo.Uptime().Truncate(time.Second).String(),
		InputTokens:  in,
		OutputTokens: out,
		ModelCalls:   calls,
	})
	if err := p.publish(ctx, p.topic("stats"), payload, 0, true); err != nil {
		p.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

func (p *Publisher) topic(parts ...string) string {
	return strings.TrimSuffix(p.cfg.TopicPrefix, "/") + "/" + strings.Join(parts, "/")
}

func (p *Publisher) statusTopic() string { return p.topic("status") }

func (p *Publisher) eventTopic(e events.Event) string {
	return p.topic("events", e.Source, e.Kind)
}

// intData reads a numeric event value that may be an int or a float64
// (after a JSON round trip).
func intData(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
