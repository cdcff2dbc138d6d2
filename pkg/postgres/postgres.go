package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // goose 透過 database/sql 使用 pgx driver
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

// Config PostgreSQL 連線設定
type Config struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
	ConnectRetries  int           `yaml:"connect_retries"`
	RetryInterval   time.Duration `yaml:"retry_interval"`
}

// ApplyDefaults 補上未設定的欄位
func (c *Config) ApplyDefaults() {
	if c.MaxConns <= 0 {
		c.MaxConns = 20
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = time.Hour
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 30 * time.Minute
	}
	if c.ConnectRetries <= 0 {
		c.ConnectRetries = 10
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 2 * time.Second
	}
}

// NewPool 建立連線池，資料庫還沒準備好時依設定重試
//
// 參數:
//
//	ctx: 上下文，取消時停止重試
//	cfg: 連線設定
//	log: 連線重試的紀錄
func NewPool(ctx context.Context, cfg Config, log *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, errors.New("empty postgres dsn")
	}
	cfg.ApplyDefaults()
	if log == nil {
		log = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}

	for i := 0; i < cfg.ConnectRetries; i++ {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		if i < cfg.ConnectRetries-1 {
			log.Warn("postgres not ready, retrying",
				zap.Int("attempt", i+1),
				zap.Int("max_attempts", cfg.ConnectRetries),
				zap.Duration("retry_in", cfg.RetryInterval),
				zap.Error(err),
			)
			select {
			case <-ctx.Done():
				pool.Close()
				return nil, fmt.Errorf("connect postgres: %w", ctx.Err())
			case <-time.After(cfg.RetryInterval):
			}
		}
	}
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres after %d attempts: %w", cfg.ConnectRetries, err)
	}

	log.Info("connected to postgres", zap.String("host", poolCfg.ConnConfig.Host), zap.String("db", poolCfg.ConnConfig.Database))
	return pool, nil
}

// Migrate 以 goose 套用 migrations 內尚未執行的版本
//
// 參數:
//
//	migrations: 含 .sql 檔的檔案系統 (通常是 embed.FS)
//	dir: migrations 內的目錄
func Migrate(ctx context.Context, dsn string, migrations fs.FS, dir string, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open sql connection: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping sql connection: %w", err)
	}

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("configure goose: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()

	log.Info("applying migrations", zap.String("dir", dir))
	if err := goose.UpContext(runCtx, db, dir); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	version, err := goose.GetDBVersionContext(runCtx, db)
	if err != nil {
		return fmt.Errorf("read migration version: %w", err)
	}
	log.Info("migrations applied", zap.Int64("version", version))
	return nil
}
