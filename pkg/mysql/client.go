package mysql

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// Client 封裝 GORM DB 實例
type Client struct {
	db  *gorm.DB
	log *zap.Logger
}

// NewClient 連線 MySQL，資料庫還沒準備好時依設定重試
//
// 參數:
//
//	ctx: 取消時停止重試
//	cfg: 連線與連線池設定，未設定的欄位會補預設值
//	log: 連線過程與 SQL 的紀錄，可為 nil
//
// 回傳值:
//
//	*Client: 已通過 Ping 的客戶端
//	error: 重試用盡或 ctx 取消
func NewClient(ctx context.Context, cfg Config, log *zap.Logger) (*Client, error) {
	cfg.ApplyDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "mysql"))

	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	gormConfig := &gorm.Config{
		// 需要原子性的地方 (交易入帳、發號) 自己開 Transaction
		SkipDefaultTransaction: true,
		// duplicate key 轉成 gorm.ErrDuplicatedKey
		TranslateError: true,
		Logger:         newGormLogger(log, cfg.LogLevel, cfg.SlowThreshold),
	}

	var db *gorm.DB
	for attempt := 1; ; attempt++ {
		db, err = open(ctx, dsn, gormConfig)
		if err == nil {
			break
		}
		if attempt >= cfg.ConnectRetries {
			return nil, fmt.Errorf("connect mysql after %d attempts: %w", attempt, err)
		}
		log.Warn("mysql not ready, retrying",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", cfg.ConnectRetries),
			zap.Duration("retry_in", cfg.RetryInterval),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("connect mysql: %w", ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	log.Info("connected to mysql",
		zap.String("addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)),
		zap.String("db", cfg.DBName),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)
	return &Client{db: db, log: log}, nil
}

// open 開啟並 Ping 一次，失敗時關掉已開的連線
func open(ctx context.Context, dsn string, gormConfig *gorm.Config) (*gorm.DB, error) {
	db, err := gorm.Open(mysql.Open(dsn), gormConfig)
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// DB 回傳底層的 *gorm.DB，供儲存層使用
func (c *Client) DB() *gorm.DB {
	return c.db
}

// Ping 健康檢查用
func (c *Client) Ping(ctx context.Context) error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close 關閉連線池
func (c *Client) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	stats := sqlDB.Stats()
	c.log.Info("closing mysql pool",
		zap.Int("open", stats.OpenConnections),
		zap.Int64("wait_count", stats.WaitCount),
		zap.Duration("wait_duration", stats.WaitDuration),
	)
	return sqlDB.Close()
}
