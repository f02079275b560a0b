package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"takeout/internal/model"

	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

// Handler 处理一条订单事件。返回错误只记录日志，不阻塞后续消息。
type Handler func(ctx context.Context, ev OrderEvent) error

// Dispatcher 解码事件并依次交给各个 handler。
type Dispatcher struct {
	handlers []Handler
	logger   *logrus.Logger
}

func NewDispatcher(logger *logrus.Logger, handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers, logger: logger}
}

// DecodeOrderEvent 解析并校验事件 JSON。
func DecodeOrderEvent(b []byte) (OrderEvent, error) {
	var ev OrderEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	if err := ev.Validate(); err != nil {
		return OrderEvent{}, fmt.Errorf("invalid order event: %w", err)
	}
	return ev, nil
}

// Dispatch 脏消息返回错误由调用方丢弃；handler 失败只记日志。
func (d *Dispatcher) Dispatch(ctx context.Context, payload []byte) error {
	ev, err := DecodeOrderEvent(payload)
	if err != nil {
		return err
	}
	for _, h := range d.handlers {
		if err := h(ctx, ev); err != nil {
			d.logger.WithFields(logrus.Fields{
				"event_id": ev.EventID,
				"type":     ev.Type,
				"number":   ev.Number,
			}).WithError(err).Warn("Order event handler failed")
		}
	}
	return nil
}

// LocalPublisher 未启用 Kafka 时直接在进程内分发 outbox 事件。
type LocalPublisher struct {
	Dispatcher *Dispatcher
}

func (p LocalPublisher) Publish(ctx context.Context, events ...model.OutboxEvent) error {
	for _, e := range events {
		if err := p.Dispatcher.Dispatch(ctx, e.Payload); err != nil {
			p.Dispatcher.logger.WithField("event_id", e.EventID).WithError(err).Warn("Dropping malformed outbox event")
		}
	}
	return nil
}

// Consumer 从 Kafka 读取订单事件，处理完成后再提交 offset。
type Consumer struct {
	r          *kafka.Reader
	dispatcher *Dispatcher
	logger     *logrus.Logger
}

func NewConsumer(brokers []string, topic, groupID string, dispatcher *Dispatcher, logger *logrus.Logger) *Consumer {
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 1e3,
			MaxBytes: 1e6,
		}),
		dispatcher: dispatcher,
		logger:     logger,
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.logger.WithError(err).Error("Order event consumer stopped")
			}
			return // ctx cancel / 连接断开等
		}

		if err := c.dispatcher.Dispatch(ctx, m.Value); err != nil {
			c.logger.WithFields(logrus.Fields{
				"partition": m.Partition,
				"offset":    m.Offset,
			}).WithError(err).Warn("Skipping malformed order event")
		}
		if err := c.r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.WithError(err).Warn("Commit order event offset failed")
		}
	}
}
