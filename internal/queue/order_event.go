package queue

import (
	"encoding/json"
	"fmt"
	"time"

	"takeout/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// 订单事件类型，同时作为 outbox 行的 type。
const (
	EventOrderSubmitted    = "order.submitted"
	EventOrderPaid         = "order.paid"
	EventOrderConfirmed    = "order.confirmed"
	EventOrderRejected     = "order.rejected"
	EventOrderCancelled    = "order.cancelled"
	EventOrderDelivering   = "order.delivering"
	EventOrderCompleted    = "order.completed"
	EventOrderReminded     = "order.reminded"
	EventOrderRefundFailed = "order.refund_failed"
)

// OrderEvent 是写入 Kafka 的订单状态变更事件。
type OrderEvent struct {
	EventID    string            `json:"event_id"`
	Type       string            `json:"type"`
	OrderID    uint              `json:"order_id"`
	Number     string            `json:"number"`
	UserID     int64             `json:"user_id"`
	Status     model.OrderStatus `json:"status"`
	PayStatus  model.PayStatus   `json:"pay_status"`
	Amount     decimal.Decimal   `json:"amount"`
	Reason     string            `json:"reason,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// NewOrderEvent 以订单当前快照构造事件。
func NewOrderEvent(eventType string, o model.Order, reason string, at time.Time) OrderEvent {
	return OrderEvent{
		EventID:    uuid.NewString(),
		Type:       eventType,
		OrderID:    o.ID,
		Number:     o.Number,
		UserID:     o.UserID,
		Status:     o.Status,
		PayStatus:  o.PayStatus,
		Amount:     o.Amount,
		Reason:     reason,
		OccurredAt: at,
	}
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (e OrderEvent) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("event_id is required")
	}
	if e.Type == "" {
		return fmt.Errorf("type is required")
	}
	if e.OrderID == 0 {
		return fmt.Errorf("order_id is required")
	}
	if e.Number == "" {
		return fmt.Errorf("number is required")
	}
	if !e.Status.Valid() {
		return fmt.Errorf("invalid status %d", e.Status)
	}
	return nil
}

// Outbox 转成待投递的 outbox 行。
func (e OrderEvent) Outbox() (model.OutboxEvent, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return model.OutboxEvent{}, err
	}
	return model.OutboxEvent{
		EventID:   e.EventID,
		Type:      e.Type,
		Key:       e.Number,
		Payload:   datatypes.JSON(b),
		CreatedAt: e.OccurredAt,
	}, nil
}
