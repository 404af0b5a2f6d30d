package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"stock-exchange/src/engine"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes each trade to a topic keyed by symbol, so one
// partition carries a symbol's trades in execution order.
type KafkaSink struct {
	writer messageWriter
	codec  Codec
}

func NewKafkaSink(brokers []string, topic string, codec Codec) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        false,
			BatchTimeout: 10 * time.Millisecond,
		},
		codec: codec,
	}
}

func (s *KafkaSink) HandleTrade(ctx context.Context, trade engine.Trade) error {
	ev := NewTradeEvent(trade)
	value, err := s.codec.Encode(ev)
	if err != nil {
		return fmt.Errorf("encode trade %s: %w", trade.ID, err)
	}
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(trade.Symbol),
		Value: value,
		Headers: []kafka.Header{
			{Key: "content-type", Value: []byte(s.codec.ContentType())},
			{Key: "event-id", Value: []byte(ev.ID.String())},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka write trade %s: %w", trade.ID, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}
