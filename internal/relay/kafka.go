// File: internal/relay/kafka.go
package relay

import (
	"context"
	"encoding/json"
	"time"

	"github.com/IBM/sarama"

	"github.com/smartdevs17/solana-mint-listener/internal/models"
	"github.com/smartdevs17/solana-mint-listener/pkg/utils"
)

// KafkaSink produces each event as JSON keyed by mint address
type KafkaSink struct {
	topic    string
	producer sarama.SyncProducer
}

// NewKafkaSink connects a synchronous producer to brokers
func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if len(brokers) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Kafka relay requires brokers")
	}
	if topic == "" {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Kafka relay requires a topic")
	}

	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Producer.Retry.Max = 5
		cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	}
	// SyncProducer requires both
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, utils.WrapError(utils.ErrCodeConnection, "Failed to create Kafka producer", err)
	}
	return NewKafkaSinkWithProducer(producer, topic), nil
}

// NewKafkaSinkWithProducer wraps an existing producer
func NewKafkaSinkWithProducer(producer sarama.SyncProducer, topic string) *KafkaSink {
	return &KafkaSink{topic: topic, producer: producer}
}

func (s *KafkaSink) Name() string { return "kafka" }

// Deliver sends evt and waits for the broker ack. SendMessage takes no context,
// so ctx is only checked before sending.
func (s *KafkaSink) Deliver(ctx context.Context, evt models.EnrichedMintEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(evt)
	if err != nil {
		return utils.WrapError(utils.ErrCodeInternal, "Failed to marshal event", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(evt.MintAddress),
		Value: sarama.ByteEncoder(payload),
		Headers: []sarama.RecordHeader{
			{Key: []byte("signature"), Value: []byte(evt.Signature)},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return utils.WrapError(utils.ErrCodeExternal, "Kafka produce failed", err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	if s.producer != nil {
		return s.producer.Close()
	}
	return nil
}
