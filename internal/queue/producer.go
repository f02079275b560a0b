package queue

import (
	"context"
	"time"

	"takeout/internal/model"

	"github.com/segmentio/kafka-go"
)

// Publisher 投递一批 outbox 事件，返回 nil 表示整批已被确认。
type Publisher interface {
	Publish(ctx context.Context, events ...model.OutboxEvent) error
}

// Producer 封装 Kafka 写入器。
type Producer struct {
	w *kafka.Writer
}

// NewProducer 创建生产者并配置可靠性参数：
// - Hash + Key: key 为订单号，同一订单的事件落到同一分区，保持先后顺序。
// - RequireAll: 等待 ISR 副本确认，降低消息丢失风险。
// - MaxAttempts/Timeout: 控制重试与超时边界。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

// Close 释放 writer 资源。
func (p *Producer) Close() error { return p.w.Close() }

// Publish 同步写入一批订单事件，payload 即 outbox 中的 JSON。
func (p *Producer) Publish(ctx context.Context, events ...model.OutboxEvent) error {
	if len(events) == 0 {
		return nil
	}
	return p.w.WriteMessages(ctx, kafkaMessages(events)...)
}

func kafkaMessages(events []model.OutboxEvent) []kafka.Message {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Key),
			Value: []byte(e.Payload),
			Headers: []kafka.Header{
				{Key: "event_id", Value: []byte(e.EventID)},
				{Key: "type", Value: []byte(e.Type)},
			},
		})
	}
	return msgs
}
