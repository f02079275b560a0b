package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"takeout/internal/model"
	"takeout/internal/queue"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func requireStatus(want model.OrderStatus) func(model.Order) error {
	return func(o model.Order) error {
		if o.Status != want {
			return ErrInvalidState
		}
		return nil
	}
}

// cancelFields 取消/拒单公共字段；已支付的订单同时置为退款。
func cancelFields(o model.Order, now time.Time) map[string]any {
	fields := map[string]any{
		"status":      model.OrderCancelled,
		"cancel_time": now,
	}
	if o.PayStatus == model.PayPaid {
		fields["pay_status"] = model.PayRefund
	}
	return fields
}

// Confirm 商家接单：待接单 → 已接单。
func (s *Service) Confirm(ctx context.Context, orderID uint) (model.Order, error) {
	_, after, err := s.transit(ctx, orderKey{id: orderID}, transition{
		op:    "confirm",
		event: queue.EventOrderConfirmed,
		check: requireStatus(model.OrderToBeConfirmed),
		apply: func(model.Order, time.Time) map[string]any {
			return map[string]any{"status": model.OrderConfirmed}
		},
	})
	if err != nil {
		return model.Order{}, err
	}
	s.logTransition(after, "Order confirmed")
	return after, nil
}

// Reject 商家拒单：仅待接单可拒，已付款的订单提交后发起退款。
func (s *Service) Reject(ctx context.Context, orderID uint, reason string) (model.Order, error) {
	before, after, err := s.transit(ctx, orderKey{id: orderID}, transition{
		op:     "reject",
		event:  queue.EventOrderRejected,
		reason: reason,
		check:  requireStatus(model.OrderToBeConfirmed),
		apply: func(o model.Order, now time.Time) map[string]any {
			fields := cancelFields(o, now)
			fields["rejection_reason"] = reason
			return fields
		},
	})
	if err != nil {
		return model.Order{}, err
	}
	s.logTransition(after, "Order rejected")
	if before.PayStatus == model.PayPaid {
		s.refund(ctx, after)
	}
	return after, nil
}

// AdminCancel 管理端取消：任意非终态订单均可取消。
func (s *Service) AdminCancel(ctx context.Context, orderID uint, reason string) (model.Order, error) {
	before, after, err := s.transit(ctx, orderKey{id: orderID}, transition{
		op:     "admin_cancel",
		event:  queue.EventOrderCancelled,
		reason: reason,
		check: func(o model.Order) error {
			if o.Status.IsTerminal() {
				return ErrInvalidState
			}
			return nil
		},
		apply: func(o model.Order, now time.Time) map[string]any {
			fields := cancelFields(o, now)
			fields["cancel_reason"] = reason
			return fields
		},
	})
	if err != nil {
		return model.Order{}, err
	}
	s.logTransition(after, "Order cancelled by admin")
	if before.PayStatus == model.PayPaid {
		s.refund(ctx, after)
	}
	return after, nil
}

// UserCancel 用户取消：只能取消自己的待付款/待接单订单。他人订单按不存在处理。
func (s *Service) UserCancel(ctx context.Context, userID int64, orderID uint) (model.Order, error) {
	before, after, err := s.transit(ctx, orderKey{id: orderID}, transition{
		op:     "user_cancel",
		event:  queue.EventOrderCancelled,
		reason: UserCancelReason,
		check: func(o model.Order) error {
			if o.UserID != userID {
				return ErrOrderNotFound
			}
			if !o.Status.IsCancellable() {
				return ErrInvalidState
			}
			return nil
		},
		apply: func(o model.Order, now time.Time) map[string]any {
			fields := cancelFields(o, now)
			fields["cancel_reason"] = UserCancelReason
			return fields
		},
	})
	if err != nil {
		return model.Order{}, err
	}
	s.logTransition(after, "Order cancelled by user")
	if before.PayStatus == model.PayPaid {
		s.refund(ctx, after)
	}
	return after, nil
}

// Deliver 开始派送：已接单 → 派送中。
func (s *Service) Deliver(ctx context.Context, orderID uint) (model.Order, error) {
	_, after, err := s.transit(ctx, orderKey{id: orderID}, transition{
		op:    "deliver",
		event: queue.EventOrderDelivering,
		check: requireStatus(model.OrderConfirmed),
		apply: func(model.Order, time.Time) map[string]any {
			return map[string]any{"status": model.OrderDeliveryInProgress}
		},
	})
	if err != nil {
		return model.Order{}, err
	}
	s.logTransition(after, "Order out for delivery")
	return after, nil
}

// Complete 完成：派送中 → 已完成，记录送达时间。
func (s *Service) Complete(ctx context.Context, orderID uint) (model.Order, error) {
	_, after, err := s.transit(ctx, orderKey{id: orderID}, transition{
		op:    "complete",
		event: queue.EventOrderCompleted,
		check: requireStatus(model.OrderDeliveryInProgress),
		apply: func(_ model.Order, now time.Time) map[string]any {
			return map[string]any{
				"status":        model.OrderCompleted,
				"delivery_time": now,
			}
		},
	})
	if err != nil {
		return model.Order{}, err
	}
	s.logTransition(after, "Order completed")
	return after, nil
}

// Remind 用户催单：只对待接单的订单生效，不改状态，只发事件通知商家。
func (s *Service) Remind(ctx context.Context, userID int64, orderID uint) (err error) {
	defer func() { s.observe("remind", err) }()

	o, err := s.loadOwned(ctx, "remind", userID, orderID)
	if err != nil {
		return err
	}
	if o.Status != model.OrderToBeConfirmed {
		return &TransitionError{Op: "remind", OrderID: o.ID, Number: o.Number, From: o.Status, Err: ErrInvalidState}
	}
	if err := appendEvent(s.db.WithContext(ctx), queue.EventOrderReminded, o, "", s.now()); err != nil {
		return err
	}
	s.logTransition(o, "Order reminder sent")
	return nil
}

// Repeat 再来一单：把历史订单明细重新加入购物车，与已有行按 (kind, item, flavor) 合并。
func (s *Service) Repeat(ctx context.Context, userID int64, orderID uint) (lines []model.CartLine, err error) {
	defer func() { s.observe("repeat", err) }()

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var o model.Order
		if err := tx.First(&o, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &TransitionError{Op: "repeat", OrderID: orderID, Err: ErrOrderNotFound}
			}
			return fmt.Errorf("repeat: load order: %w", err)
		}
		if o.UserID != userID {
			return &TransitionError{Op: "repeat", OrderID: orderID, Err: ErrOrderNotFound}
		}

		var history []model.OrderLine
		if err := tx.Where("order_id = ?", o.ID).Order("id").Find(&history).Error; err != nil {
			return fmt.Errorf("repeat: load order lines: %w", err)
		}
		for _, h := range history {
			line, err := addLine(tx, model.CartLine{
				UserID:     userID,
				ItemKind:   h.ItemKind,
				ItemID:     h.ItemID,
				Flavor:     h.Flavor,
				Name:       h.Name,
				UnitAmount: h.UnitAmount,
				Quantity:   h.Quantity,
				CreateTime: now,
			})
			if err != nil {
				return err
			}
			lines = append(lines, line)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *Service) loadOwned(ctx context.Context, op string, userID int64, orderID uint) (model.Order, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).First(&o, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Order{}, &TransitionError{Op: op, OrderID: orderID, Err: ErrOrderNotFound}
		}
		return model.Order{}, fmt.Errorf("%s: load order: %w", op, err)
	}
	if o.UserID != userID {
		return model.Order{}, &TransitionError{Op: op, OrderID: orderID, Err: ErrOrderNotFound}
	}
	return o, nil
}

func (s *Service) logTransition(o model.Order, msg string) {
	s.logger.WithFields(logrus.Fields{
		"order_id":   o.ID,
		"number":     o.Number,
		"status":     o.Status.String(),
		"pay_status": o.PayStatus.String(),
	}).Info(msg)
}
