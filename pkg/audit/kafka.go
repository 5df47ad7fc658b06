package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/decred/slog"
)

// DefaultAlertTopic is the Kafka topic security alerts are published to.
const DefaultAlertTopic = "cardroom.security-alerts"

// AlertPublisher mirrors security alerts to Kafka so downstream fraud
// tooling sees them without polling the sink.
type AlertPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      slog.Logger
}

// NewAlertPublisher connects a synchronous producer to the brokers.
func NewAlertPublisher(brokers []string, topic string, log slog.Logger) (*AlertPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 5 * time.Second

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("audit: kafka producer: %w", err)
	}
	if topic == "" {
		topic = DefaultAlertTopic
	}
	return &AlertPublisher{producer: producer, topic: topic, log: log}, nil
}

// newAlertPublisherWith wires an existing producer, for tests.
func newAlertPublisherWith(producer sarama.SyncProducer, topic string, log slog.Logger) *AlertPublisher {
	return &AlertPublisher{producer: producer, topic: topic, log: log}
}

// Publish sends one alert, keyed by table so a table's alerts stay ordered
// within a partition.
func (p *AlertPublisher) Publish(alert Alert) error {
	value, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("audit: marshal alert: %w", err)
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(alert.TableID),
		Value: sarama.ByteEncoder(value),
	})
	if err != nil {
		return fmt.Errorf("audit: publish alert: %w", err)
	}
	return nil
}

func (p *AlertPublisher) Close() error { return p.producer.Close() }

// TeeAlerts wraps a Sink so every alert also goes to the publisher.
// Record batches pass straight through.
type TeeAlerts struct {
	Sink
	publisher *AlertPublisher
	log       slog.Logger
}

// NewTeeAlerts wraps sink with the publisher.
func NewTeeAlerts(sink Sink, publisher *AlertPublisher, log slog.Logger) *TeeAlerts {
	return &TeeAlerts{Sink: sink, publisher: publisher, log: log}
}

// AppendAlert writes to the sink first; a broker failure is logged but
// never loses the durable copy.
func (t *TeeAlerts) AppendAlert(ctx context.Context, alert Alert) error {
	if err := t.Sink.AppendAlert(ctx, alert); err != nil {
		return err
	}
	if err := t.publisher.Publish(alert); err != nil {
		t.log.Errorf("alert %s published to sink but not broker: %v", alert.ID, err)
	}
	return nil
}

func (t *TeeAlerts) Close() error {
	if err := t.publisher.Close(); err != nil {
		t.log.Errorf("close alert publisher: %v", err)
	}
	return t.Sink.Close()
}
