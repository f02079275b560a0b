package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态。整数值对外稳定（前端、报表依赖），不要调整顺序。
type OrderStatus int

const (
	OrderPendingPayment     OrderStatus = 1 // 待付款
	OrderToBeConfirmed      OrderStatus = 2 // 待接单
	OrderConfirmed          OrderStatus = 3 // 已接单
	OrderDeliveryInProgress OrderStatus = 4 // 派送中
	OrderCompleted          OrderStatus = 5 // 已完成
	OrderCancelled          OrderStatus = 6 // 已取消
)

func (s OrderStatus) String() string {
	switch s {
	case OrderPendingPayment:
		return "PENDING_PAYMENT"
	case OrderToBeConfirmed:
		return "TO_BE_CONFIRMED"
	case OrderConfirmed:
		return "CONFIRMED"
	case OrderDeliveryInProgress:
		return "DELIVERY_IN_PROGRESS"
	case OrderCompleted:
		return "COMPLETED"
	case OrderCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// Valid 判断是否为已定义的状态码。
func (s OrderStatus) Valid() bool {
	return s >= OrderPendingPayment && s <= OrderCancelled
}

// IsCancellable 用户侧可取消：仅待付款、待接单。
func (s OrderStatus) IsCancellable() bool {
	return s == OrderPendingPayment || s == OrderToBeConfirmed
}

// IsTerminal 已完成、已取消为终态。
func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderCancelled
}

// PayStatus 支付状态。
type PayStatus int

const (
	PayUnpaid PayStatus = iota // 未支付
	PayPaid                    // 已支付
	PayRefund                  // 退款
)

func (p PayStatus) String() string {
	switch p {
	case PayUnpaid:
		return "UNPAID"
	case PayPaid:
		return "PAID"
	case PayRefund:
		return "REFUND"
	default:
		return "UNKNOWN"
	}
}

// Order 订单主表。创建后只由状态流转修改，不做物理删除。
type Order struct {
	ID     uint   `gorm:"primarykey" json:"id"`
	Number string `gorm:"size:64;uniqueIndex;not null" json:"number"`
	UserID int64  `gorm:"not null;index" json:"user_id"`

	// 下单时从地址簿拷贝的快照，之后地址簿改动不影响订单。
	AddressBookID uint   `gorm:"not null" json:"address_book_id"`
	Consignee     string `gorm:"size:64" json:"consignee"`
	Phone         string `gorm:"size:32;index" json:"phone"`
	Address       string `gorm:"size:255" json:"address"`

	Amount    decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"amount"`
	Status    OrderStatus     `gorm:"not null;default:1;index" json:"status"`
	PayStatus PayStatus       `gorm:"not null;default:0" json:"pay_status"`
	Remark    string          `gorm:"size:255" json:"remark"`

	OrderTime    time.Time  `gorm:"not null;index" json:"order_time"`
	CheckoutTime *time.Time `gorm:"index" json:"checkout_time"`
	CancelTime   *time.Time `json:"cancel_time"`
	DeliveryTime *time.Time `json:"delivery_time"`

	// 两者互斥：CancelReason 表示用户/管理端取消，RejectionReason 表示商家拒单。
	CancelReason    string `gorm:"size:255" json:"cancel_reason"`
	RejectionReason string `gorm:"size:255" json:"rejection_reason"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Order) TableName() string { return "orders" }
