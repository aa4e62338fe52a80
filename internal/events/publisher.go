package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/tilegraph/internal/core/observability"
)

// Publisher sends events asynchronously. Publish never blocks: when the
// queue is full the event is dropped. A nil *Publisher discards everything.
type Publisher struct {
	topic   string
	log     *slog.Logger
	events  chan Event
	prod    sarama.AsyncProducer
	stopped chan struct{}
	drained chan struct{}
}

func NewPublisher(brokers []string, topic string, queueSize int, logger *slog.Logger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = false
	cfg.Producer.Timeout = 5 * time.Second

	prod, err := sarama.NewAsyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(prod, topic, queueSize, logger), nil
}

func newPublisher(prod sarama.AsyncProducer, topic string, queueSize int, logger *slog.Logger) *Publisher {
	if queueSize <= 0 {
		queueSize = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	p := &Publisher{
		topic:   topic,
		log:     logger.With("component", "events"),
		events:  make(chan Event, queueSize),
		prod:    prod,
		stopped: make(chan struct{}),
		drained: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("marshal event", "type", ev.Type, "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				Key:   sarama.StringEncoder(ev.RunID),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		defer close(p.drained)
		for perr := range p.prod.Errors() {
			if perr == nil {
				continue
			}
			typ := "unknown"
			if b, err := perr.Msg.Value.Encode(); err == nil {
				var ev Event
				if json.Unmarshal(b, &ev) == nil {
					typ = ev.Type
				}
			}
			observability.IncRunEvent(typ, "failed")
			p.log.Warn("producer error", "type", typ, "err", perr.Err)
		}
	}()

	return p
}

// Publish stamps and queues ev. It reports whether the event was queued.
func (p *Publisher) Publish(ev Event) bool {
	if p == nil {
		return false
	}
	if ev.Version == 0 {
		ev.Version = 1
	}
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	if err := ev.Validate(); err != nil {
		p.log.Error("invalid event", "type", ev.Type, "err", err)
		return false
	}
	select {
	case p.events <- ev:
		observability.IncRunEvent(ev.Type, "queued")
		return true
	default:
		// queue full; never block a run on telemetry
		observability.IncRunEvent(ev.Type, "dropped")
		return false
	}
}

// Close flushes queued events and closes the producer.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	close(p.events)
	<-p.stopped

	err := p.prod.Close()
	<-p.drained
	if err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}
