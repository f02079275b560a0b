// Package dbtest 为各包测试提供独立的内存 sqlite 库。
package dbtest

import (
	"fmt"
	"testing"

	"takeout/internal/database"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// New 每次调用得到一个全新的、已建表的内存库，测试结束时关闭。
func New(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	db, err := database.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
