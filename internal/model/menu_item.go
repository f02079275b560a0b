package model

import "github.com/shopspring/decimal"

// MenuItem 在售菜品/套餐的名称与现价，由菜品管理模块维护，这里只读。
type MenuItem struct {
	ID     uint            `gorm:"primarykey" json:"id"`
	Kind   ItemKind        `gorm:"size:16;not null;uniqueIndex:idx_menu_item" json:"kind"`
	ItemID uint            `gorm:"not null;uniqueIndex:idx_menu_item" json:"item_id"`
	Name   string          `gorm:"size:128;not null" json:"name"`
	Price  decimal.Decimal `gorm:"type:decimal(10,2);not null" json:"price"`
	OnSale bool            `gorm:"not null;default:true" json:"on_sale"`
}

func (MenuItem) TableName() string { return "menu_items" }
