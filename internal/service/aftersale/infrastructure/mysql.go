package infrastructure

import (
	"context"
	"time"

	"aftersale/internal/pkg/bootstrap"
	"aftersale/internal/pkg/logger"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DSN 由驱动负责转义，时间统一按 UTC 解析
func DSN(cfg bootstrap.MySQLConfig) string {
	c := mysql.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	c.Addr = cfg.Addr
	c.DBName = cfg.Database
	c.ParseTime = true
	c.Loc = time.UTC
	c.Params = map[string]string{"charset": "utf8mb4"}
	return c.FormatDSN()
}

// OpenMySQL 建立连接池并确认数据库可达
func OpenMySQL(ctx context.Context, cfg bootstrap.MySQLConfig) (*gorm.DB, error) {
	db, err := Open(gormmysql.Open(DSN(cfg)))
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(err, "get sql.DB")
	}
	if cfg.MaxOpen > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	}
	if cfg.MaxIdle > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	}
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, errors.Wrapf(err, "ping mysql %s", cfg.Addr)
	}
	logger.Ctx(ctx).Info().Str("addr", cfg.Addr).Str("database", cfg.Database).Msg("✅ Connected to MySQL")
	return db, nil
}

// Open 使用任意方言打开 gorm，慢查询和错误写入 zerolog
func Open(dialector gorm.Dialector) (*gorm.DB, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		TranslateError: true,
		Logger: gormlogger.New(&logger.Logger, gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
		}),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open gorm")
	}
	return db, nil
}

// AutoMigrate 创建或升级售后相关的表
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return errors.Wrap(err, "auto migrate aftersale tables")
	}
	return nil
}
