package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CartLine 购物车行。同一用户下 (ItemKind, ItemID, Flavor) 唯一，重复加入只累加数量。
type CartLine struct {
	ID     uint  `gorm:"primarykey" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	ItemKind   ItemKind        `gorm:"size:16;not null" json:"item_kind"`
	ItemID     uint            `gorm:"not null" json:"item_id"`
	Flavor     string          `gorm:"size:128" json:"flavor"`
	Name       string          `gorm:"size:128;not null" json:"name"`
	UnitAmount decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"unit_amount"`
	Quantity   int             `gorm:"not null;default:1" json:"quantity"`

	CreateTime time.Time `gorm:"not null" json:"create_time"`
}

func (CartLine) TableName() string { return "cart_lines" }
