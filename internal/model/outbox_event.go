package model

import (
	"time"

	"gorm.io/datatypes"
)

// OutboxEvent 与订单状态变更在同一事务内写入，由 relay 异步投递 Kafka。
// SentAt 为空表示尚未投递成功。
type OutboxEvent struct {
	ID        uint           `gorm:"primarykey" json:"id"`
	EventID   string         `gorm:"size:64;uniqueIndex;not null" json:"event_id"`
	Type      string         `gorm:"size:64;not null;index" json:"type"`
	Key       string         `gorm:"size:64;not null" json:"key"`
	Payload   datatypes.JSON `json:"payload"`
	CreatedAt time.Time      `gorm:"index" json:"created_at"`
	SentAt    *time.Time     `gorm:"index" json:"sent_at"`
}

func (OutboxEvent) TableName() string { return "outbox_events" }
