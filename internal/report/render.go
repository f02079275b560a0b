package report

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// 导出端要求的格式：逗号分隔、无括号的纯文本序列。

type TurnoverView struct {
	DateList     string `json:"dateList"`
	TurnoverList string `json:"turnoverList"`
}

type UserView struct {
	DateList      string `json:"dateList"`
	TotalUserList string `json:"totalUserList"`
	NewUserList   string `json:"newUserList"`
}

type OrderView struct {
	DateList            string  `json:"dateList"`
	OrderCountList      string  `json:"orderCountList"`
	ValidOrderCountList string  `json:"validOrderCountList"`
	TotalOrderCount     int64   `json:"totalOrderCount"`
	ValidOrderCount     int64   `json:"validOrderCount"`
	OrderCompletionRate float64 `json:"orderCompletionRate"`
}

type SalesTopView struct {
	NameList   string `json:"nameList"`
	NumberList string `json:"numberList"`
}

func (r TurnoverReport) View() TurnoverView {
	return TurnoverView{DateList: JoinStrings(r.Dates), TurnoverList: JoinAmounts(r.Turnover)}
}

func (r UserReport) View() UserView {
	return UserView{
		DateList:      JoinStrings(r.Dates),
		TotalUserList: JoinInts(r.TotalUsers),
		NewUserList:   JoinInts(r.NewUsers),
	}
}

func (r OrderReport) View() OrderView {
	return OrderView{
		DateList:            JoinStrings(r.Dates),
		OrderCountList:      JoinInts(r.OrderCounts),
		ValidOrderCountList: JoinInts(r.ValidOrderCounts),
		TotalOrderCount:     r.TotalOrderCount,
		ValidOrderCount:     r.ValidOrderCount,
		OrderCompletionRate: r.CompletionRate,
	}
}

func (r SalesTopReport) View() SalesTopView {
	return SalesTopView{NameList: JoinStrings(r.Names), NumberList: JoinInts(r.Quantities)}
}

func JoinStrings(v []string) string { return strings.Join(v, ",") }

func JoinInts(v []int64) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ",")
}

// JoinAmounts 金额统一保留两位小数。
func JoinAmounts(v []decimal.Decimal) string {
	parts := make([]string, len(v))
	for i, d := range v {
		parts[i] = d.StringFixed(2)
	}
	return strings.Join(parts, ",")
}
