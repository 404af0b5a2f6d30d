package publisher

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"

	"stock-exchange/src/engine"
)

// SaramaSink is the synchronous-producer alternative to KafkaSink.
type SaramaSink struct {
	producer sarama.SyncProducer
	topic    string
	codec    Codec
}

func NewSaramaSink(brokers []string, topic string, codec Codec) (*SaramaSink, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("sarama producer: %w", err)
	}
	return newSaramaSink(producer, topic, codec), nil
}

func newSaramaSink(producer sarama.SyncProducer, topic string, codec Codec) *SaramaSink {
	return &SaramaSink{producer: producer, topic: topic, codec: codec}
}

func (s *SaramaSink) HandleTrade(_ context.Context, trade engine.Trade) error {
	ev := NewTradeEvent(trade)
	value, err := s.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode trade %s: %w", trade.ID, err)
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(trade.Symbol),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("content-type"), Value: []byte(s.codec.ContentType())},
			{Key: []byte("event-id"), Value: []byte(ev.ID.String())},
		},
	}
	if _, _, err := s.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("sarama send trade %s: %w", trade.ID, err)
	}
	return nil
}

func (s *SaramaSink) Close() error {
	return s.producer.Close()
}
