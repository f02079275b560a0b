package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"takeout/internal/metrics"
	"takeout/internal/model"
	"takeout/internal/payment"
	"takeout/internal/queue"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// UserCancelReason 用户主动取消时写入的取消原因。
const UserCancelReason = "cancelled by user"

// submitAttempts 订单号撞上唯一索引时最多换号重试的次数（含首次）。
const submitAttempts = 3

// AddressBook 地址簿查询，由地址管理模块提供。找不到时返回 ErrAddressNotFound。
type AddressBook interface {
	Get(ctx context.Context, id uint) (model.AddressBook, error)
}

// Gateway 支付网关。
type Gateway interface {
	Pay(ctx context.Context, req payment.PayRequest) (payment.Payload, error)
	Refund(ctx context.Context, req payment.RefundRequest) error
}

// GormAddressBook 直接读 address_books 表。
type GormAddressBook struct {
	DB *gorm.DB
}

func (a GormAddressBook) Get(ctx context.Context, id uint) (model.AddressBook, error) {
	var addr model.AddressBook
	if err := a.DB.WithContext(ctx).First(&addr, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.AddressBook{}, ErrAddressNotFound
		}
		return model.AddressBook{}, fmt.Errorf("load address book: %w", err)
	}
	return addr, nil
}

// Service 订单生命周期：下单、支付回调、接单/拒单/取消、派送、完成。
// 所有写操作都在单个事务内完成「加锁读 → 校验状态 → 条件更新 → 写 outbox」。
type Service struct {
	db      *gorm.DB
	address AddressBook
	gateway Gateway
	numbers NumberGenerator
	logger  *logrus.Logger
	metrics *metrics.Metrics

	now           func() time.Time
	refundTimeout time.Duration
}

type Option func(*Service)

// WithClock 替换时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithRefundTimeout(d time.Duration) Option {
	return func(s *Service) { s.refundTimeout = d }
}

func NewService(db *gorm.DB, address AddressBook, gateway Gateway, numbers NumberGenerator, logger *logrus.Logger, opts ...Option) *Service {
	s := &Service{
		db:            db,
		address:       address,
		gateway:       gateway,
		numbers:       numbers,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		refundTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SubmitRequest 用户下单参数。
type SubmitRequest struct {
	AddressBookID uint
	Remark        string
}

// OrderDetail 订单及其明细。
type OrderDetail struct {
	model.Order
	Lines []model.OrderLine `json:"lines"`
}

// Submit 用户下单：购物车 → 订单 + 明细，并清掉已消费的购物车行。三张表的写入同一事务提交。
func (s *Service) Submit(ctx context.Context, userID int64, req SubmitRequest) (detail OrderDetail, err error) {
	defer func() { s.observe("submit", err) }()

	addr, err := s.address.Get(ctx, req.AddressBookID)
	if err != nil {
		return OrderDetail{}, err
	}
	if addr.UserID != userID {
		return OrderDetail{}, ErrAddressNotFound
	}

	for attempt := 1; ; attempt++ {
		var number string
		if number, err = s.numbers.Next(ctx); err != nil {
			return OrderDetail{}, fmt.Errorf("generate order number: %w", err)
		}
		detail, err = s.insertOrder(ctx, userID, addr, req.Remark, number)
		if err == nil {
			break
		}
		if !errors.Is(err, ErrDuplicateNumber) || attempt == submitAttempts {
			return OrderDetail{}, err
		}
		s.logger.WithFields(logrus.Fields{
			"number":  number,
			"attempt": attempt,
		}).Warn("Order number taken, retrying with a new one")
	}

	s.logger.WithFields(logrus.Fields{
		"order_id": detail.ID,
		"number":   detail.Number,
		"user_id":  userID,
		"amount":   detail.Amount.StringFixed(2),
		"lines":    len(detail.Lines),
	}).Info("Order submitted")
	return detail, nil
}

// insertOrder 单个事务内消费购物车并写入订单与明细。
func (s *Service) insertOrder(ctx context.Context, userID int64, addr model.AddressBook, remark, number string) (detail OrderDetail, err error) {
	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cart, err := ConsumeCart(tx, userID)
		if err != nil {
			return err
		}

		o := model.Order{
			Number:        number,
			UserID:        userID,
			AddressBookID: addr.ID,
			Consignee:     addr.Consignee,
			Phone:         addr.Phone,
			Address:       addr.FullAddress(),
			Status:        model.OrderPendingPayment,
			PayStatus:     model.PayUnpaid,
			Remark:        remark,
			OrderTime:     now,
		}

		lines := make([]model.OrderLine, 0, len(cart))
		consumed := make([]uint, 0, len(cart))
		amount := decimal.Zero
		for _, c := range cart {
			l := model.OrderLine{
				ItemKind:   c.ItemKind,
				ItemID:     c.ItemID,
				Flavor:     c.Flavor,
				Name:       c.Name,
				UnitAmount: c.UnitAmount,
				Quantity:   c.Quantity,
			}
			amount = amount.Add(l.Subtotal())
			lines = append(lines, l)
			consumed = append(consumed, c.ID)
		}
		o.Amount = amount

		if err := tx.Create(&o).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: %s", ErrDuplicateNumber, number)
			}
			return fmt.Errorf("insert order: %w", err)
		}
		for i := range lines {
			lines[i].OrderID = o.ID
		}
		if err := tx.Create(&lines).Error; err != nil {
			return fmt.Errorf("insert order lines: %w", err)
		}
		if err := deleteConsumed(tx, userID, consumed); err != nil {
			return err
		}
		if err := appendEvent(tx, queue.EventOrderSubmitted, o, "", now); err != nil {
			return err
		}

		detail = OrderDetail{Order: o, Lines: lines}
		return nil
	})
	return detail, err
}

// Pay 向支付网关发起预支付。网关同步确认收款（Settled）时直接走支付成功流程。
func (s *Service) Pay(ctx context.Context, userID int64, number string) (payload payment.Payload, err error) {
	defer func() { s.observe("pay", err) }()

	var o model.Order
	if err := s.db.WithContext(ctx).Where("number = ?", number).First(&o).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return payment.Payload{}, &TransitionError{Op: "pay", Number: number, Err: ErrOrderNotFound}
		}
		return payment.Payload{}, fmt.Errorf("load order: %w", err)
	}
	if o.UserID != userID {
		return payment.Payload{}, &TransitionError{Op: "pay", Number: number, Err: ErrOrderNotFound}
	}
	if err := checkPayable(o); err != nil {
		return payment.Payload{}, &TransitionError{Op: "pay", OrderID: o.ID, Number: number, From: o.Status, Err: err}
	}

	payload, err = s.gateway.Pay(ctx, payment.PayRequest{
		OrderNumber: o.Number,
		Amount:      o.Amount,
		Description: "takeout order " + o.Number,
		BuyerID:     s.buyerIdentity(ctx, userID),
	})
	if errors.Is(err, payment.ErrOrderPaid) {
		return payment.Payload{}, &TransitionError{Op: "pay", OrderID: o.ID, Number: number, From: o.Status, Err: ErrAlreadyPaid}
	}
	if err != nil {
		return payment.Payload{}, err
	}

	if payload.Settled {
		if _, err := s.HandlePaymentCallback(ctx, number); err != nil {
			return payment.Payload{}, err
		}
	}
	return payload, nil
}

// HandlePaymentCallback 支付成功回调：待付款 → 待接单，记录结账时间。重复回调返回 ErrAlreadyPaid。
func (s *Service) HandlePaymentCallback(ctx context.Context, number string) (model.Order, error) {
	_, after, err := s.transit(ctx, orderKey{number: number}, transition{
		op:    "pay_success",
		event: queue.EventOrderPaid,
		check: checkPayable,
		apply: func(_ model.Order, now time.Time) map[string]any {
			return map[string]any{
				"status":        model.OrderToBeConfirmed,
				"pay_status":    model.PayPaid,
				"checkout_time": now,
			}
		},
	})
	if err != nil {
		return model.Order{}, err
	}
	s.logger.WithFields(logrus.Fields{
		"order_id": after.ID,
		"number":   after.Number,
		"amount":   after.Amount.StringFixed(2),
	}).Info("Order paid")
	return after, nil
}

// checkPayable 已支付或已退款都视为重复支付。
func checkPayable(o model.Order) error {
	if o.PayStatus != model.PayUnpaid {
		return ErrAlreadyPaid
	}
	if o.Status != model.OrderPendingPayment {
		return ErrInvalidState
	}
	return nil
}

type orderKey struct {
	id     uint
	number string
}

type transition struct {
	op     string
	event  string
	reason string
	// check 在加锁读到的订单上校验前置条件，返回哨兵错误
	check func(o model.Order) error
	apply func(o model.Order, now time.Time) map[string]any
}

// transit 执行一次状态流转，返回流转前后的订单。
// 更新语句带上读到的 status/pay_status 作为条件，并发流转只有一个能成功。
func (s *Service) transit(ctx context.Context, key orderKey, t transition) (before, after model.Order, err error) {
	defer func() { s.observe(t.op, err) }()

	now := s.now()
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := lockOrder(tx, key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &TransitionError{Op: t.op, OrderID: key.id, Number: key.number, Err: ErrOrderNotFound}
			}
			return fmt.Errorf("%s: load order: %w", t.op, err)
		}
		if err := t.check(o); err != nil {
			return &TransitionError{Op: t.op, OrderID: o.ID, Number: o.Number, From: o.Status, Err: err}
		}

		res := tx.Model(&model.Order{}).
			Where("id = ? AND status = ? AND pay_status = ?", o.ID, o.Status, o.PayStatus).
			Updates(t.apply(o, now))
		if res.Error != nil {
			return fmt.Errorf("%s: update order: %w", t.op, res.Error)
		}
		if res.RowsAffected == 0 {
			cur, err := lockOrder(tx, orderKey{id: o.ID})
			if err != nil {
				return fmt.Errorf("%s: reload order: %w", t.op, err)
			}
			cause := t.check(cur)
			if cause == nil {
				cause = ErrInvalidState
			}
			return &TransitionError{Op: t.op, OrderID: cur.ID, Number: cur.Number, From: cur.Status, Err: cause}
		}

		var updated model.Order
		if err := tx.First(&updated, o.ID).Error; err != nil {
			return fmt.Errorf("%s: reload order: %w", t.op, err)
		}
		if err := appendEvent(tx, t.event, updated, t.reason, now); err != nil {
			return err
		}
		before, after = o, updated
		return nil
	})
	return before, after, err
}

func lockOrder(tx *gorm.DB, key orderKey) (model.Order, error) {
	q := tx.Clauses(clause.Locking{Strength: "UPDATE"})
	if key.number != "" {
		q = q.Where("number = ?", key.number)
	} else {
		q = q.Where("id = ?", key.id)
	}
	var o model.Order
	err := q.First(&o).Error
	return o, err
}

// refund 在状态已提交后调用网关退款。失败只记录日志和 refund_failed 事件，取消结果不回滚。
func (s *Service) refund(ctx context.Context, o model.Order) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.refundTimeout)
	defer cancel()

	err := s.gateway.Refund(rctx, payment.RefundRequest{
		OrderNumber:    o.Number,
		RefundNumber:   "RF" + o.Number,
		RefundAmount:   o.Amount,
		OriginalAmount: o.Amount,
	})
	s.observe("refund", err)
	fields := logrus.Fields{
		"order_id": o.ID,
		"number":   o.Number,
		"amount":   o.Amount.StringFixed(2),
	}
	if err == nil {
		s.logger.WithFields(fields).Info("Refund issued")
		return
	}

	s.logger.WithFields(fields).WithError(err).Error("Refund failed, order stays cancelled")
	// rctx 可能已超时，失败记录单独用不可取消的上下文写
	if werr := appendEvent(s.db.WithContext(context.WithoutCancel(ctx)), queue.EventOrderRefundFailed, o, err.Error(), s.now()); werr != nil {
		s.logger.WithFields(fields).WithError(werr).Error("Failed to record refund failure")
	}
}

func (s *Service) buyerIdentity(ctx context.Context, userID int64) string {
	var u model.User
	if err := s.db.WithContext(ctx).Select("open_id").First(&u, userID).Error; err == nil && u.OpenID != "" {
		return u.OpenID
	}
	return strconv.FormatInt(userID, 10)
}

func (s *Service) observe(op string, err error) {
	s.metrics.ObserveTransition(op, errorLabel(err))
}

func appendEvent(tx *gorm.DB, eventType string, o model.Order, reason string, at time.Time) error {
	row, err := queue.NewOrderEvent(eventType, o, reason, at).Outbox()
	if err != nil {
		return fmt.Errorf("encode %s event: %w", eventType, err)
	}
	if err := tx.Create(&row).Error; err != nil {
		return fmt.Errorf("insert %s event: %w", eventType, err)
	}
	return nil
}
