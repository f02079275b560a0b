// Package report 按自然日统计营业额、用户增长、订单量和销量排行。
package report

import (
	"context"
	"errors"
	"fmt"
	"time"

	"takeout/internal/model"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const dateLayout = "2006-01-02"

// DefaultTopLimit 销量排行默认条数。
const DefaultTopLimit = 10

// MaxRangeDays 单次统计最多覆盖的天数。
const MaxRangeDays = 366

var ErrInvalidRange = errors.New("report: invalid date range")

// OrderWindow 订单聚合条件，时间左闭右开；Status 为空表示不过滤状态。
type OrderWindow struct {
	Begin  time.Time
	End    time.Time
	Status *model.OrderStatus
}

// UserWindow 用户聚合条件，Begin 为空表示从最早的用户开始累计。
type UserWindow struct {
	Begin *time.Time
	End   time.Time
}

type TurnoverReport struct {
	Dates    []string          `json:"dates"`
	Turnover []decimal.Decimal `json:"turnover"`
}

type UserReport struct {
	Dates      []string `json:"dates"`
	TotalUsers []int64  `json:"total_users"`
	NewUsers   []int64  `json:"new_users"`
}

type OrderReport struct {
	Dates            []string `json:"dates"`
	OrderCounts      []int64  `json:"order_counts"`
	ValidOrderCounts []int64  `json:"valid_order_counts"`
	TotalOrderCount  int64    `json:"total_order_count"`
	ValidOrderCount  int64    `json:"valid_order_count"`
	CompletionRate   float64  `json:"completion_rate"`
}

type SalesTopReport struct {
	Names      []string `json:"names"`
	Quantities []int64  `json:"quantities"`
}

// BusinessData 区间经营概览：营业额、有效订单、完成率、客单价、新增用户。
type BusinessData struct {
	Turnover        decimal.Decimal `json:"turnover"`
	ValidOrderCount int64           `json:"valid_order_count"`
	CompletionRate  float64         `json:"completion_rate"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	NewUsers        int64           `json:"new_users"`
}

// Cache 报表结果缓存，键带版本号。读失败按未命中处理，不影响统计。
// 一次统计只读一次版本：构建期间版本被推进时，结果写在旧版本下，不会冒充新数据。
type Cache interface {
	Version(ctx context.Context) (int64, error)
	Load(ctx context.Context, version int64, name string, dest any) (bool, error)
	Store(ctx context.Context, version int64, name string, v any) error
}

// Aggregator 只读统计。日期按 loc 切分，每天窗口为 [00:00, 次日 00:00)。
type Aggregator struct {
	db     *gorm.DB
	loc    *time.Location
	cache  Cache
	logger *logrus.Logger
}

func NewAggregator(db *gorm.DB, loc *time.Location, logger *logrus.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{db: db, loc: loc, logger: logger}
}

// WithCache 挂上结果缓存，返回自身便于链式调用。
func (a *Aggregator) WithCache(c Cache) *Aggregator {
	a.cache = c
	return a
}

// dayRange 把 [begin, end] 展开成逐日的起点，最后多放一个 end 次日零点作为右边界。
func (a *Aggregator) dayRange(begin, end time.Time) ([]time.Time, error) {
	b := a.midnight(begin)
	e := a.midnight(end)
	if e.Before(b) {
		return nil, fmt.Errorf("%w: end date is before begin date", ErrInvalidRange)
	}
	if b.AddDate(0, 0, MaxRangeDays-1).Before(e) {
		return nil, fmt.Errorf("%w: more than %d days", ErrInvalidRange, MaxRangeDays)
	}
	var days []time.Time
	for d := b; !d.After(e); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return append(days, e.AddDate(0, 0, 1)), nil
}

func (a *Aggregator) midnight(t time.Time) time.Time {
	y, m, d := t.In(a.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, a.loc)
}

// bucket 返回 t 落在第几天，不在区间内返回 -1。
func bucket(bounds []time.Time, t time.Time) int {
	if t.Before(bounds[0]) || !t.Before(bounds[len(bounds)-1]) {
		return -1
	}
	for i := 1; i < len(bounds); i++ {
		if t.Before(bounds[i]) {
			return i - 1
		}
	}
	return -1
}

func dates(bounds []time.Time) []string {
	out := make([]string, 0, len(bounds)-1)
	for _, d := range bounds[:len(bounds)-1] {
		out = append(out, d.Format(dateLayout))
	}
	return out
}

func completed() *model.OrderStatus {
	s := model.OrderCompleted
	return &s
}

// Turnover 每日已完成订单金额合计，按结账时间归日。
func (a *Aggregator) Turnover(ctx context.Context, begin, end time.Time) (TurnoverReport, error) {
	bounds, err := a.dayRange(begin, end)
	if err != nil {
		return TurnoverReport{}, err
	}
	return cached(ctx, a, "turnover:"+rangeKey(bounds), func() (TurnoverReport, error) {
		rows, err := a.orderRows(ctx, "checkout_time", OrderWindow{
			Begin:  bounds[0],
			End:    bounds[len(bounds)-1],
			Status: completed(),
		})
		if err != nil {
			return TurnoverReport{}, err
		}

		sums := make([]decimal.Decimal, len(bounds)-1)
		for i := range sums {
			sums[i] = decimal.Zero
		}
		for _, r := range rows {
			if i := bucket(bounds, r.At); i >= 0 {
				sums[i] = sums[i].Add(r.Amount)
			}
		}
		return TurnoverReport{Dates: dates(bounds), Turnover: sums}, nil
	})
}

// UserGrowth 每日新增用户数和截至当天结束的累计用户数。
// 用户由身份服务写入，本服务收不到注册事件，所以不走缓存。
func (a *Aggregator) UserGrowth(ctx context.Context, begin, end time.Time) (UserReport, error) {
	bounds, err := a.dayRange(begin, end)
	if err != nil {
		return UserReport{}, err
	}
	base, err := a.countUsers(ctx, UserWindow{End: bounds[0]})
	if err != nil {
		return UserReport{}, err
	}
	start := bounds[0]
	created, err := a.userRows(ctx, UserWindow{Begin: &start, End: bounds[len(bounds)-1]})
	if err != nil {
		return UserReport{}, err
	}

	n := len(bounds) - 1
	out := UserReport{Dates: dates(bounds), TotalUsers: make([]int64, n), NewUsers: make([]int64, n)}
	for _, at := range created {
		if i := bucket(bounds, at); i >= 0 {
			out.NewUsers[i]++
		}
	}
	total := base
	for i := range out.NewUsers {
		total += out.NewUsers[i]
		out.TotalUsers[i] = total
	}
	return out, nil
}

// OrderVolume 每日订单数与有效（已完成）订单数，按下单时间归日。
func (a *Aggregator) OrderVolume(ctx context.Context, begin, end time.Time) (OrderReport, error) {
	bounds, err := a.dayRange(begin, end)
	if err != nil {
		return OrderReport{}, err
	}
	return cached(ctx, a, "orders:"+rangeKey(bounds), func() (OrderReport, error) {
		rows, err := a.orderRows(ctx, "order_time", OrderWindow{Begin: bounds[0], End: bounds[len(bounds)-1]})
		if err != nil {
			return OrderReport{}, err
		}

		n := len(bounds) - 1
		out := OrderReport{Dates: dates(bounds), OrderCounts: make([]int64, n), ValidOrderCounts: make([]int64, n)}
		for _, r := range rows {
			i := bucket(bounds, r.At)
			if i < 0 {
				continue
			}
			out.OrderCounts[i]++
			out.TotalOrderCount++
			if r.Status == model.OrderCompleted {
				out.ValidOrderCounts[i]++
				out.ValidOrderCount++
			}
		}
		out.CompletionRate = rate(out.ValidOrderCount, out.TotalOrderCount)
		return out, nil
	})
}

// TopSellers 区间内已完成订单的商品销量排行，销量相同时按名称升序。
func (a *Aggregator) TopSellers(ctx context.Context, begin, end time.Time, limit int) (SalesTopReport, error) {
	bounds, err := a.dayRange(begin, end)
	if err != nil {
		return SalesTopReport{}, err
	}
	if limit <= 0 {
		limit = DefaultTopLimit
	}
	return cached(ctx, a, fmt.Sprintf("top%d:%s", limit, rangeKey(bounds)), func() (SalesTopReport, error) {
		var rows []struct {
			Name  string
			Total int64
		}
		err := a.db.WithContext(ctx).
			Table("order_lines AS l").
			Select("l.name AS name, SUM(l.quantity) AS total").
			Joins("JOIN orders AS o ON o.id = l.order_id").
			Where("o.status = ? AND o.checkout_time >= ? AND o.checkout_time < ?",
				model.OrderCompleted, bounds[0].UTC(), bounds[len(bounds)-1].UTC()).
			Group("l.name").
			Order("total DESC, l.name ASC").
			Limit(limit).
			Scan(&rows).Error
		if err != nil {
			return SalesTopReport{}, fmt.Errorf("query top sellers: %w", err)
		}

		out := SalesTopReport{Names: make([]string, 0, len(rows)), Quantities: make([]int64, 0, len(rows))}
		for _, r := range rows {
			out.Names = append(out.Names, r.Name)
			out.Quantities = append(out.Quantities, r.Total)
		}
		return out, nil
	})
}

// Overview 区间经营概览，工作台使用，不走缓存。
func (a *Aggregator) Overview(ctx context.Context, begin, end time.Time) (BusinessData, error) {
	bounds, err := a.dayRange(begin, end)
	if err != nil {
		return BusinessData{}, err
	}
	lo, hi := bounds[0], bounds[len(bounds)-1]

	placed, err := a.orderRows(ctx, "order_time", OrderWindow{Begin: lo, End: hi})
	if err != nil {
		return BusinessData{}, err
	}
	settled, err := a.orderRows(ctx, "checkout_time", OrderWindow{Begin: lo, End: hi, Status: completed()})
	if err != nil {
		return BusinessData{}, err
	}
	newUsers, err := a.countUsers(ctx, UserWindow{Begin: &lo, End: hi})
	if err != nil {
		return BusinessData{}, err
	}

	out := BusinessData{Turnover: decimal.Zero, UnitPrice: decimal.Zero, NewUsers: newUsers}
	for _, r := range settled {
		out.Turnover = out.Turnover.Add(r.Amount)
	}
	var valid int64
	for _, r := range placed {
		if r.Status == model.OrderCompleted {
			valid++
		}
	}
	out.ValidOrderCount = valid
	out.CompletionRate = rate(valid, int64(len(placed)))
	if valid > 0 {
		out.UnitPrice = out.Turnover.DivRound(decimal.NewFromInt(valid), 2)
	}
	return out, nil
}

func rate(valid, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(valid) / float64(total)
}

type orderRow struct {
	At     time.Time
	Amount decimal.Decimal
	Status model.OrderStatus
}

// orderRows 取窗口内订单的时间列、金额、状态，时间列为 order_time 或 checkout_time。
func (a *Aggregator) orderRows(ctx context.Context, timeColumn string, w OrderWindow) ([]orderRow, error) {
	q := a.db.WithContext(ctx).Model(&model.Order{}).
		Select(timeColumn+" AS at, amount, status").
		Where(timeColumn+" >= ? AND "+timeColumn+" < ?", w.Begin.UTC(), w.End.UTC())
	if w.Status != nil {
		q = q.Where("status = ?", *w.Status)
	}
	var rows []orderRow
	if err := q.Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("query orders by %s: %w", timeColumn, err)
	}
	return rows, nil
}

func (a *Aggregator) countUsers(ctx context.Context, w UserWindow) (int64, error) {
	q := a.db.WithContext(ctx).Model(&model.User{}).Where("create_time < ?", w.End.UTC())
	if w.Begin != nil {
		q = q.Where("create_time >= ?", w.Begin.UTC())
	}
	var n int64
	if err := q.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return n, nil
}

func (a *Aggregator) userRows(ctx context.Context, w UserWindow) ([]time.Time, error) {
	q := a.db.WithContext(ctx).Model(&model.User{}).Where("create_time < ?", w.End.UTC())
	if w.Begin != nil {
		q = q.Where("create_time >= ?", w.Begin.UTC())
	}
	var out []time.Time
	if err := q.Pluck("create_time", &out).Error; err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	return out, nil
}

func rangeKey(bounds []time.Time) string {
	return bounds[0].Format(dateLayout) + ":" + bounds[len(bounds)-2].Format(dateLayout)
}

func cached[T any](ctx context.Context, a *Aggregator, name string, build func() (T, error)) (T, error) {
	if a.cache == nil {
		return build()
	}
	log := a.logger.WithField("report", name)

	version, err := a.cache.Version(ctx)
	if err != nil {
		log.WithError(err).Warn("Report cache version read failed")
		return build()
	}
	var hit T
	ok, err := a.cache.Load(ctx, version, name, &hit)
	if err != nil {
		log.WithError(err).Warn("Report cache read failed")
	}
	if ok {
		return hit, nil
	}

	out, err := build()
	if err != nil {
		return out, err
	}
	if err := a.cache.Store(ctx, version, name, out); err != nil {
		log.WithError(err).Warn("Report cache write failed")
	}
	return out, nil
}
