package order

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"takeout/internal/model"

	"gorm.io/gorm"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Page 分页结果。
type Page[T any] struct {
	Total int64 `json:"total"`
	Items []T   `json:"records"`
}

// StatusCounts 工作台订单数量概览。
type StatusCounts struct {
	ToBeConfirmed      int64 `json:"to_be_confirmed"`
	Confirmed          int64 `json:"confirmed"`
	DeliveryInProgress int64 `json:"delivery_in_progress"`
}

// HistoryQuery 用户历史订单查询，Status 为 0 表示不过滤。
type HistoryQuery struct {
	Page     int
	PageSize int
	Status   model.OrderStatus
}

// SearchQuery 管理端条件搜索，零值字段不参与过滤。时间区间按下单时间，左闭右开。
type SearchQuery struct {
	Page     int
	PageSize int
	Number   string
	Phone    string
	Status   model.OrderStatus
	Begin    *time.Time
	End      *time.Time
}

// OrderSummary 搜索结果行，Dishes 形如「宫保鸡丁*2;米饭*1;」。
type OrderSummary struct {
	model.Order
	Dishes string `json:"order_dishes"`
}

func normalizePage(page, size int) (offset, limit int) {
	if page < 1 {
		page = 1
	}
	if size <= 0 {
		size = defaultPageSize
	}
	if size > maxPageSize {
		size = maxPageSize
	}
	return (page - 1) * size, size
}

// CountByStatus 统计某状态的订单数。
func (s *Service) CountByStatus(ctx context.Context, status model.OrderStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.Order{}).Where("status = ?", status).Count(&n).Error
	return n, err
}

func (s *Service) StatusCounts(ctx context.Context) (StatusCounts, error) {
	var rows []struct {
		Status model.OrderStatus
		N      int64
	}
	err := s.db.WithContext(ctx).Model(&model.Order{}).
		Select("status, COUNT(*) AS n").
		Where("status IN ?", []model.OrderStatus{model.OrderToBeConfirmed, model.OrderConfirmed, model.OrderDeliveryInProgress}).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return StatusCounts{}, fmt.Errorf("count orders by status: %w", err)
	}

	var out StatusCounts
	for _, r := range rows {
		switch r.Status {
		case model.OrderToBeConfirmed:
			out.ToBeConfirmed = r.N
		case model.OrderConfirmed:
			out.Confirmed = r.N
		case model.OrderDeliveryInProgress:
			out.DeliveryInProgress = r.N
		}
	}
	return out, nil
}

// Get 管理端订单详情。
func (s *Service) Get(ctx context.Context, orderID uint) (OrderDetail, error) {
	var o model.Order
	if err := s.db.WithContext(ctx).First(&o, orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OrderDetail{}, &TransitionError{Op: "get", OrderID: orderID, Err: ErrOrderNotFound}
		}
		return OrderDetail{}, fmt.Errorf("load order: %w", err)
	}
	return s.withLines(ctx, o)
}

// GetForUser 用户侧订单详情，他人订单按不存在处理。
func (s *Service) GetForUser(ctx context.Context, userID int64, orderID uint) (OrderDetail, error) {
	o, err := s.loadOwned(ctx, "get", userID, orderID)
	if err != nil {
		return OrderDetail{}, err
	}
	return s.withLines(ctx, o)
}

func (s *Service) withLines(ctx context.Context, o model.Order) (OrderDetail, error) {
	var lines []model.OrderLine
	if err := s.db.WithContext(ctx).Where("order_id = ?", o.ID).Order("id").Find(&lines).Error; err != nil {
		return OrderDetail{}, fmt.Errorf("load order lines: %w", err)
	}
	return OrderDetail{Order: o, Lines: lines}, nil
}

// History 用户历史订单，按下单时间倒序，附带明细。
func (s *Service) History(ctx context.Context, userID int64, q HistoryQuery) (Page[OrderDetail], error) {
	base := s.db.WithContext(ctx).Model(&model.Order{}).Where("user_id = ?", userID)
	if q.Status != 0 {
		base = base.Where("status = ?", q.Status)
	}
	base = base.Session(&gorm.Session{})

	var page Page[OrderDetail]
	if err := base.Count(&page.Total).Error; err != nil {
		return page, fmt.Errorf("count orders: %w", err)
	}

	offset, limit := normalizePage(q.Page, q.PageSize)
	var orders []model.Order
	if err := base.Order("order_time DESC, id DESC").Offset(offset).Limit(limit).Find(&orders).Error; err != nil {
		return page, fmt.Errorf("list orders: %w", err)
	}

	lines, err := s.linesByOrder(ctx, orders)
	if err != nil {
		return page, err
	}
	page.Items = make([]OrderDetail, 0, len(orders))
	for _, o := range orders {
		page.Items = append(page.Items, OrderDetail{Order: o, Lines: lines[o.ID]})
	}
	return page, nil
}

// Search 管理端条件搜索。
func (s *Service) Search(ctx context.Context, q SearchQuery) (Page[OrderSummary], error) {
	base := s.db.WithContext(ctx).Model(&model.Order{})
	if q.Number != "" {
		base = base.Where("number LIKE ?", "%"+q.Number+"%")
	}
	if q.Phone != "" {
		base = base.Where("phone LIKE ?", "%"+q.Phone+"%")
	}
	if q.Status != 0 {
		base = base.Where("status = ?", q.Status)
	}
	if q.Begin != nil {
		base = base.Where("order_time >= ?", q.Begin.UTC())
	}
	if q.End != nil {
		base = base.Where("order_time < ?", q.End.UTC())
	}
	base = base.Session(&gorm.Session{})

	var page Page[OrderSummary]
	if err := base.Count(&page.Total).Error; err != nil {
		return page, fmt.Errorf("count orders: %w", err)
	}

	offset, limit := normalizePage(q.Page, q.PageSize)
	var orders []model.Order
	if err := base.Order("order_time DESC, id DESC").Offset(offset).Limit(limit).Find(&orders).Error; err != nil {
		return page, fmt.Errorf("search orders: %w", err)
	}

	lines, err := s.linesByOrder(ctx, orders)
	if err != nil {
		return page, err
	}
	page.Items = make([]OrderSummary, 0, len(orders))
	for _, o := range orders {
		page.Items = append(page.Items, OrderSummary{Order: o, Dishes: dishesText(lines[o.ID])})
	}
	return page, nil
}

func (s *Service) linesByOrder(ctx context.Context, orders []model.Order) (map[uint][]model.OrderLine, error) {
	out := make(map[uint][]model.OrderLine, len(orders))
	if len(orders) == 0 {
		return out, nil
	}
	ids := make([]uint, 0, len(orders))
	for _, o := range orders {
		ids = append(ids, o.ID)
	}
	var lines []model.OrderLine
	if err := s.db.WithContext(ctx).Where("order_id IN ?", ids).Order("id").Find(&lines).Error; err != nil {
		return nil, fmt.Errorf("load order lines: %w", err)
	}
	for _, l := range lines {
		out[l.OrderID] = append(out[l.OrderID], l)
	}
	return out, nil
}

func dishesText(lines []model.OrderLine) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Name)
		b.WriteByte('*')
		b.WriteString(strconv.Itoa(l.Quantity))
		b.WriteByte(';')
	}
	return b.String()
}
