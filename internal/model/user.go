package model

import "time"

// User 顾客账号。登录由第三方身份服务完成，本服务只在统计时读取。
type User struct {
	ID         int64     `gorm:"primarykey" json:"id"`
	OpenID     string    `gorm:"size:64;uniqueIndex" json:"open_id"`
	Name       string    `gorm:"size:64" json:"name"`
	Phone      string    `gorm:"size:32" json:"phone"`
	CreateTime time.Time `gorm:"not null;index" json:"create_time"`
}

func (User) TableName() string { return "users" }
