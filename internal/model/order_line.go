package model

import "github.com/shopspring/decimal"

// ItemKind 区分菜品与套餐，二者互斥。
type ItemKind string

const (
	ItemDish  ItemKind = "dish"
	ItemCombo ItemKind = "combo"
)

func (k ItemKind) Valid() bool { return k == ItemDish || k == ItemCombo }

// OrderLine 订单明细，下单时由购物车行拷贝而来，之后不再修改。
type OrderLine struct {
	ID      uint `gorm:"primarykey" json:"id"`
	OrderID uint `gorm:"not null;index" json:"order_id"`

	ItemKind   ItemKind        `gorm:"size:16;not null" json:"item_kind"`
	ItemID     uint            `gorm:"not null" json:"item_id"`
	Flavor     string          `gorm:"size:128" json:"flavor"`
	Name       string          `gorm:"size:128;not null;index" json:"name"`
	UnitAmount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_amount"`
	Quantity   int             `gorm:"not null" json:"quantity"`
}

func (OrderLine) TableName() string { return "order_lines" }

// Subtotal 单价 × 数量
func (l OrderLine) Subtotal() decimal.Decimal {
	return l.UnitAmount.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
