package repository

import (
	"github.com/pkg/errors"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"seckill/internal/model"
)

// ErrNotFound 记录不存在。
var ErrNotFound = errors.New("record not found")

// Open 按驱动名打开数据库：sqlite（默认）或 mysql。
func Open(driver, dsn string) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch driver {
	case "", "sqlite":
		dial = sqlite.Open(dsn)
	case "mysql":
		dial = mysql.Open(dsn)
	default:
		return nil, errors.Errorf("unsupported db driver %q", driver)
	}
	db, err := gorm.Open(dial, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", driver)
	}
	return db, nil
}

// Migrate 自动建表。
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(&model.SeckillSpu{}, &model.SeckillSku{}, &model.Success{}, &model.DeadLetter{})
	return errors.Wrap(err, "auto migrate")
}
