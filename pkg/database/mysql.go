package database

import (
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"studyforge-go/internal/model"
	"studyforge-go/pkg/log"
)

// NewMySQL 打开 MySQL 连接、配置连接池并迁移表结构。
// DSN 需要带 clientFoundRows=true，阶段的 compare-and-set 依赖匹配行数。
func NewMySQL(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}
	sqlDB.SetMaxIdleConns(10)           // 设置空闲连接池中连接的最大数量
	sqlDB.SetMaxOpenConns(100)          // 设置打开数据库连接的最大数量
	sqlDB.SetConnMaxLifetime(time.Hour) // 设置了连接可复用的最大时间

	if err := db.AutoMigrate(&model.Document{}); err != nil {
		return nil, fmt.Errorf("failed to migrate documents table: %w", err)
	}

	log.Info("MySQL database connected successfully")
	return db, nil
}
