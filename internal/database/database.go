package database

import (
	"fmt"
	"log"
	"os"
	"time"

	"takeout/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open 按驱动名打开数据库。时间统一以 UTC 落库，避免 sqlite 按文本比较时区不一致。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "sqlite":
		dialector = sqlite.Open(dsn)
	case "mysql":
		dialector = mysql.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	// 唯一索引冲突等驱动错误翻译成 gorm.ErrDuplicatedKey 之类的通用错误
	db, err := gorm.Open(dialector, &gorm.Config{
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
		Logger: logger.New(log.New(os.Stdout, "\r\n", log.LstdFlags), logger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, fmt.Errorf("db open: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("db handle: %w", err)
	}
	if driver == "sqlite" {
		// sqlite 单写者，串行化写事务，避免 database is locked
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(50)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return db, nil
}

// Migrate 自动建表。
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.User{},
		&model.AddressBook{},
		&model.MenuItem{},
		&model.CartLine{},
		&model.Order{},
		&model.OrderLine{},
		&model.OutboxEvent{},
	)
}
