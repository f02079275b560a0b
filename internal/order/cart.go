package order

import (
	"context"
	"fmt"
	"time"

	"takeout/internal/model"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CartItem 加入购物车的请求。名称和单价以菜品服务为准，不接受调用方传入。
type CartItem struct {
	ItemKind model.ItemKind
	ItemID   uint
	Flavor   string
	Quantity int
}

func (i CartItem) validate() error {
	if !i.ItemKind.Valid() {
		return fmt.Errorf("%w: item kind %q", ErrInvalidCartItem, i.ItemKind)
	}
	if i.ItemID == 0 {
		return fmt.Errorf("%w: item_id is required", ErrInvalidCartItem)
	}
	if i.Quantity < 0 {
		return fmt.Errorf("%w: quantity must be >= 0", ErrInvalidCartItem)
	}
	return nil
}

// MenuEntry 菜品/套餐的当前名称与售价。
type MenuEntry struct {
	Name  string
	Price decimal.Decimal
}

// Catalog 菜品/套餐查询，由菜品管理模块提供。不存在或已停售时返回 ErrItemNotFound。
type Catalog interface {
	Get(ctx context.Context, kind model.ItemKind, id uint) (MenuEntry, error)
}

// GormCatalog 直接读 menu_items 表。
type GormCatalog struct {
	DB *gorm.DB
}

func (g GormCatalog) Get(ctx context.Context, kind model.ItemKind, id uint) (MenuEntry, error) {
	var items []model.MenuItem
	err := g.DB.WithContext(ctx).
		Where("kind = ? AND item_id = ? AND on_sale = ?", kind, id, true).
		Limit(1).Find(&items).Error
	if err != nil {
		return MenuEntry{}, fmt.Errorf("load menu item: %w", err)
	}
	if len(items) == 0 {
		return MenuEntry{}, fmt.Errorf("%w: %s %d", ErrItemNotFound, kind, id)
	}
	return MenuEntry{Name: items[0].Name, Price: items[0].Price}, nil
}

// Cart 购物车读写。下单时的消费走 ConsumeCart，与订单写入同一事务。
type Cart struct {
	db      *gorm.DB
	catalog Catalog
	now     func() time.Time
}

func NewCart(db *gorm.DB, catalog Catalog) *Cart {
	return &Cart{db: db, catalog: catalog, now: func() time.Time { return time.Now().UTC() }}
}

// Add 同一 (kind, item, flavor) 已存在时累加数量，否则插入新行。名称和单价取自 Catalog。
func (c *Cart) Add(ctx context.Context, userID int64, item CartItem) (model.CartLine, error) {
	if err := item.validate(); err != nil {
		return model.CartLine{}, err
	}
	if item.Quantity == 0 {
		item.Quantity = 1
	}
	entry, err := c.catalog.Get(ctx, item.ItemKind, item.ItemID)
	if err != nil {
		return model.CartLine{}, err
	}

	var line model.CartLine
	err = c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		line, err = addLine(tx, model.CartLine{
			UserID:     userID,
			ItemKind:   item.ItemKind,
			ItemID:     item.ItemID,
			Flavor:     item.Flavor,
			Name:       entry.Name,
			UnitAmount: entry.Price,
			Quantity:   item.Quantity,
			CreateTime: c.now(),
		})
		return err
	})
	return line, err
}

// List 当前用户购物车，按加入顺序。
func (c *Cart) List(ctx context.Context, userID int64) ([]model.CartLine, error) {
	var lines []model.CartLine
	err := c.db.WithContext(ctx).Where("user_id = ?", userID).Order("id").Find(&lines).Error
	return lines, err
}

// Clean 清空购物车。
func (c *Cart) Clean(ctx context.Context, userID int64) error {
	return c.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&model.CartLine{}).Error
}

// ConsumeCart 在调用方事务内锁定并读取用户全部购物车行；为空时返回 ErrEmptyCart。
// 删除由调用方在同一事务里通过 deleteConsumed 完成，订单写入失败时购物车原样保留。
func ConsumeCart(tx *gorm.DB, userID int64) ([]model.CartLine, error) {
	var lines []model.CartLine
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("user_id = ?", userID).Order("id").Find(&lines).Error
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	if len(lines) == 0 {
		return nil, ErrEmptyCart
	}
	return lines, nil
}

// deleteConsumed 只删本次读到的行。少删一行说明购物车已被并发的下单消费，整单作废。
func deleteConsumed(tx *gorm.DB, userID int64, ids []uint) error {
	res := tx.Where("user_id = ? AND id IN ?", userID, ids).Delete(&model.CartLine{})
	if res.Error != nil {
		return fmt.Errorf("clear cart: %w", res.Error)
	}
	if res.RowsAffected != int64(len(ids)) {
		return fmt.Errorf("%w: %d of %d cart lines already consumed", ErrEmptyCart, int64(len(ids))-res.RowsAffected, len(ids))
	}
	return nil
}

// addLine 按 (user, kind, item, flavor) 合并。合并时刷新加入时间。
func addLine(tx *gorm.DB, line model.CartLine) (model.CartLine, error) {
	var existing []model.CartLine
	err := tx.Where("user_id = ? AND item_kind = ? AND item_id = ? AND flavor = ?",
		line.UserID, line.ItemKind, line.ItemID, line.Flavor).
		Limit(1).Find(&existing).Error
	if err != nil {
		return model.CartLine{}, fmt.Errorf("load cart line: %w", err)
	}

	if len(existing) > 0 {
		merged := existing[0]
		merged.Quantity += line.Quantity
		merged.CreateTime = line.CreateTime
		err := tx.Model(&merged).Updates(map[string]any{
			"quantity":    merged.Quantity,
			"create_time": merged.CreateTime,
		}).Error
		if err != nil {
			return model.CartLine{}, fmt.Errorf("update cart line: %w", err)
		}
		return merged, nil
	}

	if err := tx.Create(&line).Error; err != nil {
		return model.CartLine{}, fmt.Errorf("insert cart line: %w", err)
	}
	return line, nil
}
