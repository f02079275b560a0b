package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"takeout/internal/model"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Relay 将 outbox 表里未投递的事件异步转发出去。
// 语义：发布成功后才写 sent_at，失败则保留等待下一轮重试（至少一次）。
type Relay struct {
	db        *gorm.DB
	publisher Publisher
	logger    *logrus.Logger

	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewRelay(db *gorm.DB, publisher Publisher, interval time.Duration, batch int, logger *logrus.Logger) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batch <= 0 {
		batch = 64
	}
	return &Relay{
		db:        db,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		batch:     batch,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		// 一批满了说明还有积压，不等下一个 tick
		for {
			n, err := r.RelayOnce(ctx)
			if err != nil {
				if ctx.Err() != nil || errors.Is(err, context.Canceled) {
					return
				}
				r.logger.WithError(err).Warn("Outbox relay failed, will retry")
				break
			}
			if n < r.batch {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RelayOnce 投递一批未发送事件，返回成功投递的条数。
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var rows []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("sent_at IS NULL").
		Order("id").
		Limit(r.batch).
		Find(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("load outbox: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.publisher.Publish(pubCtx, rows...); err != nil {
		return 0, fmt.Errorf("publish %d events: %w", len(rows), err)
	}

	ids := make([]uint, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	if err := r.db.WithContext(ctx).Model(&model.OutboxEvent{}).
		Where("id IN ?", ids).
		Update("sent_at", r.now()).Error; err != nil {
		// 已发布但未标记，下一轮会重复投递，消费端按 event_id 可识别
		return 0, fmt.Errorf("mark outbox sent: %w", err)
	}

	r.logger.WithFields(logrus.Fields{
		"count":    len(rows),
		"first_id": ids[0],
		"last_id":  ids[len(ids)-1],
	}).Debug("Outbox events relayed")
	return len(rows), nil
}
