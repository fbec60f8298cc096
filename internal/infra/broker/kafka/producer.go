package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/IBM/sarama"
)

var ErrNoBrokers = errors.New("kafka: no brokers configured")

// Producer publishes outbox entries with idempotent, fully acknowledged writes.
type Producer struct {
	sync   sarama.SyncProducer
	logger *slog.Logger
}

func NewProducer(brokers []string, clientID string, logger *slog.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, ErrNoBrokers
	}
	cfg := sarama.NewConfig()
	if clientID != "" {
		cfg.ClientID = clientID
	}
	cfg.Version = sarama.V2_8_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Idempotent = true
	cfg.Producer.Return.Successes = true
	cfg.Net.MaxOpenRequests = 1
	sync, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return newProducer(sync, logger), nil
}

func newProducer(sync sarama.SyncProducer, logger *slog.Logger) *Producer {
	return &Producer{sync: sync, logger: logger}
}

// Publish keys the record by conversation so one conversation's events stay ordered.
func (p *Producer) Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(payload),
		Headers: recordHeaders(headers),
	}
	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("kafka: send to %s: %w", topic, err)
	}
	if p.logger != nil {
		p.logger.Debug("kafka message sent", "topic", topic, "conversation_id", key, "partition", partition, "offset", offset)
	}
	return nil
}

// recordHeaders emits headers in key order so retried records are byte-identical.
func recordHeaders(headers map[string]string) []sarama.RecordHeader {
	out := make([]sarama.RecordHeader, 0, len(headers))
	for _, k := range slices.Sorted(maps.Keys(headers)) {
		out = append(out, sarama.RecordHeader{Key: []byte(k), Value: []byte(headers[k])})
	}
	return out
}

func (p *Producer) Close() error {
	if p.sync == nil {
		return nil
	}
	return p.sync.Close()
}
