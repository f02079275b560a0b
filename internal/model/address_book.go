package model

import "strings"

// AddressBook 用户地址簿，由地址管理模块维护，这里只读。
type AddressBook struct {
	ID        uint   `gorm:"primarykey" json:"id"`
	UserID    int64  `gorm:"not null;index" json:"user_id"`
	Consignee string `gorm:"size:64;not null" json:"consignee"`
	Phone     string `gorm:"size:32;not null" json:"phone"`
	Province  string `gorm:"size:64" json:"province"`
	City      string `gorm:"size:64" json:"city"`
	District  string `gorm:"size:64" json:"district"`
	Detail    string `gorm:"size:255" json:"detail"`
}

func (AddressBook) TableName() string { return "address_books" }

// FullAddress 省市区 + 详细地址
func (a AddressBook) FullAddress() string {
	var b strings.Builder
	for _, part := range []string{a.Province, a.City, a.District, a.Detail} {
		b.WriteString(strings.TrimSpace(part))
	}
	return b.String()
}
