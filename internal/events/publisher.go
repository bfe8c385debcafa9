// Package events publishes pipeline completion events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"speech2text/internal/models"
	"speech2text/internal/observability/metrics"
)

// Publisher publishes completion events to one Kafka topic per stage.
// When disabled, events are only logged.
type Publisher struct {
	writerTranscript *kafka.Writer
	writerAnalysis   *kafka.Writer
	principal        string
	topicTranscript  string
	topicAnalysis    string
	enabled          bool
	metrics          *metrics.Metrics
}

// Config holds Kafka publisher configuration.
type Config struct {
	Brokers         []string
	TopicTranscript string
	TopicAnalysis   string
	Principal       string
	Enabled         bool
	// Metrics defaults to metrics.DefaultMetrics.
	Metrics *metrics.Metrics
}

// New creates a publisher. A nil config, Enabled=false or no brokers yields
// a log-only publisher.
func New(cfg *Config) *Publisher {
	if cfg == nil {
		log.Debug().Msg("Kafka disabled (nil config), using log-only mode")
		return &Publisher{metrics: metrics.DefaultMetrics}
	}

	m := cfg.Metrics
	if m == nil {
		m = metrics.DefaultMetrics
	}

	if !cfg.Enabled || len(cfg.Brokers) == 0 {
		log.Debug().Msg("Kafka disabled, using log-only mode")
		return &Publisher{
			principal:       cfg.Principal,
			topicTranscript: cfg.TopicTranscript,
			topicAnalysis:   cfg.TopicAnalysis,
			metrics:         m,
		}
	}

	dialer := &kafka.Dialer{
		Timeout:   10 * time.Second,
		DualStack: true,
	}
	transport := &kafka.Transport{
		Dial: dialer.DialFunc,
	}

	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: 10 * time.Millisecond,
			WriteTimeout: 10 * time.Second,
			RequiredAcks: kafka.RequireOne,
			Transport:    transport,
		}
	}

	log.Info().
		Strs("brokers", cfg.Brokers).
		Str("topicTranscript", cfg.TopicTranscript).
		Str("topicAnalysis", cfg.TopicAnalysis).
		Str("principal", cfg.Principal).
		Msg("Kafka publisher initialized")

	return &Publisher{
		writerTranscript: newWriter(cfg.TopicTranscript),
		writerAnalysis:   newWriter(cfg.TopicAnalysis),
		principal:        cfg.Principal,
		topicTranscript:  cfg.TopicTranscript,
		topicAnalysis:    cfg.TopicAnalysis,
		enabled:          true,
		metrics:          m,
	}
}

// Enabled reports whether events go to Kafka.
func (p *Publisher) Enabled() bool {
	return p.enabled
}

// PublishTranscript publishes a transcript completion keyed by run id.
func (p *Publisher) PublishTranscript(ctx context.Context, ev models.TranscriptCompleted) error {
	return p.publish(ctx, p.writerTranscript, p.topicTranscript, ev.EventType, ev.RunID, ev)
}

// PublishAnalysis publishes an analysis completion keyed by run id.
func (p *Publisher) PublishAnalysis(ctx context.Context, ev models.AnalysisCompleted) error {
	return p.publish(ctx, p.writerAnalysis, p.topicAnalysis, ev.EventType, ev.RunID, ev)
}

func (p *Publisher) publish(ctx context.Context, writer *kafka.Writer, topic, eventType, key string, event any) error {
	start := time.Now()

	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("Failed to marshal event")
		return err
	}

	log.Debug().
		Str("principal", p.principal).
		Str("topic", topic).
		Str("key", key).
		RawJSON("payload", payload).
		Msg("Publishing event")

	if !p.enabled || writer == nil {
		p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
		return nil
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "eventType", Value: []byte(eventType)},
			{Key: "principal", Value: []byte(p.principal)},
		},
	}

	if err := writer.WriteMessages(ctx, msg); err != nil {
		log.Error().
			Err(err).
			Str("topic", topic).
			Str("key", key).
			Msg("Failed to write to Kafka")
		p.metrics.RecordKafkaPublish(topic, eventType, err, time.Since(start).Seconds())
		return err
	}

	p.metrics.RecordKafkaPublish(topic, eventType, nil, time.Since(start).Seconds())
	return nil
}

// Close flushes and closes both writers.
func (p *Publisher) Close() error {
	var errs []error
	if p.writerTranscript != nil {
		if err := p.writerTranscript.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing transcript writer")
			errs = append(errs, err)
		}
	}
	if p.writerAnalysis != nil {
		if err := p.writerAnalysis.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing analysis writer")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
