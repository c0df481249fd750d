// Package events implements the Event Bus (C11): a thin publisher the
// Research Graph (C8) and Summary Coordinator (C4) push lifecycle events
// through. There is no teacher file for a pub/sub bus specifically; the
// in-process backend is grounded on the teacher's observability package's
// preference for a narrow, swappable interface over a concrete logger, and
// the Kafka backend is grounded on the teacher's internal/tools/kafka
// producer shape (segmentio/kafka-go Writer, comma-split broker-list
// parsing), reimplemented here directly against this package's own
// config/apperr types instead of importing that orchestrator-specific tool.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/scholiabot/core/internal/apperr"
	"github.com/scholiabot/core/internal/config"
	"github.com/scholiabot/core/internal/observability"
)

// Event types the Research Graph (C8) and Summary Coordinator (C4) publish.
// spec.md has no dedicated event model; these names are the ones
// SPEC_FULL.md's Event Bus section commits to.
const (
	RoleEntered         = "role_entered"
	KeyAcquired         = "key_acquired"
	KeyEscalated        = "key_escalated"
	GenerationCompleted = "generation_completed"
)

// Event is one lifecycle notification. Data carries type-specific detail
// (e.g. role name for RoleEntered, escalation epoch for KeyEscalated)
// without forcing every event through a shared rigid schema.
type Event struct {
	Type    string         `json:"type"`
	Subject string         `json:"subject"` // session id (C8) or summary key string (C4)
	Data    map[string]any `json:"data,omitempty"`
	At      time.Time      `json:"at"`
}

// Publisher is the narrow interface C8 and C4 depend on. A nil Publisher
// field on either component is valid and treated as a no-op, so callers
// that don't care about events never have to construct one.
type Publisher interface {
	Publish(ctx context.Context, ev Event)
}

// Publish is a nil-safe helper: Publish(ctx, pub, ...) is a no-op when pub
// is nil, letting C4/C8 call it unconditionally instead of guarding every
// call site with an if.
func Publish(ctx context.Context, pub Publisher, typ, subject string, data map[string]any) {
	if pub == nil {
		return
	}
	pub.Publish(ctx, Event{Type: typ, Subject: subject, Data: data, At: time.Now()})
}

// New builds a Publisher from cfg, defaulting to the in-process bus.
func New(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "", "inproc":
		return NewBus(), nil
	case "kafka":
		return NewKafkaPublisher(cfg)
	default:
		return nil, apperr.New(apperr.Validation, nil, "events: unknown backend %q", cfg.Backend)
	}
}

// Bus is an in-process fan-out publisher: each Subscribe call gets its own
// buffered channel fed by Publish. A slow or absent subscriber never blocks
// a publisher; a full subscriber channel drops the event and logs a warning
// rather than backing up the caller (C8/C4 are on the critical path).
type Bus struct {
	subs chan chan Event
	pub  chan Event
}

const busBufferSize = 64

// NewBus starts an in-process Bus. The Bus runs its own dispatch loop for
// the process lifetime; there is no Close, matching the Job Registry's
// (C10) process-lifetime, no-teardown convention.
func NewBus() *Bus {
	b := &Bus{
		subs: make(chan chan Event),
		pub:  make(chan Event, busBufferSize),
	}
	go b.run()
	return b
}

func (b *Bus) run() {
	subscribers := make([]chan Event, 0, 4)
	for {
		select {
		case ch := <-b.subs:
			subscribers = append(subscribers, ch)
		case ev := <-b.pub:
			for _, ch := range subscribers {
				select {
				case ch <- ev:
				default:
					observability.LoggerWithTrace(context.Background()).
						Warn().Str("event_type", ev.Type).Msg("events_bus_subscriber_full_dropped")
				}
			}
		}
	}
}

// Publish enqueues ev for delivery to all current subscribers.
func (b *Bus) Publish(ctx context.Context, ev Event) {
	select {
	case b.pub <- ev:
	case <-ctx.Done():
	}
}

// Subscribe registers a new listener and returns a channel of events
// published from this point on. The Job Registry (C10) is one such
// subscriber among others (SPEC_FULL.md §3.1); it does not need this
// channel itself since its progress comes from direct Start/Finish calls,
// but any other observer (metrics, audit log) can attach the same way.
func (b *Bus) Subscribe() <-chan Event {
	ch := make(chan Event, busBufferSize)
	b.subs <- ch
	return ch
}

// KafkaPublisher publishes events as JSON-encoded Kafka messages, one topic
// per bus, keyed by Subject so a consumer group can partition by session or
// summary key.
type KafkaPublisher struct {
	writer kafkaWriter
	topic  string
}

// kafkaWriter mirrors the teacher's tools/kafka.Writer interface so tests
// can substitute a fake without pulling in a real broker.
type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaPublisher builds a KafkaPublisher from cfg, grounded on the
// teacher's kafka.NewProducerFromBrokers shape: a plain *kafka.Writer with
// Addr set to the broker list and LeastBytes partitioning.
func NewKafkaPublisher(cfg config.EventsConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, apperr.New(apperr.Validation, nil, "events: kafka backend requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, apperr.New(apperr.Validation, nil, "events: kafka backend requires a topic")
	}
	w := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return &KafkaPublisher{writer: w, topic: cfg.Topic}, nil
}

// Publish writes ev to the configured topic. Errors are logged, not
// returned: a dropped lifecycle event must never fail the C8/C4 operation
// that raised it.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Msg("events_kafka_marshal_failed")
		return
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(ev.Subject),
		Value: body,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.LoggerWithTrace(ctx).Warn().Err(err).Str("event_type", ev.Type).Msg("events_kafka_publish_failed")
	}
}
