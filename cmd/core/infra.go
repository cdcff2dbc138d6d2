package main

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/mysql"
	postgres_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/postgres"
	redis_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/internal/config"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
	"github.com/JoeShih716/go-wallet-ledger/pkg/wal"
)

// infra 依設定選出的儲存層與快取，以及關閉它們的方法
type infra struct {
	store     usecase.LedgerStore
	cache     usecase.BalanceCache
	publisher usecase.Publisher // 未設定 kafka 時為 nil
	health    func(ctx context.Context) error
	closers   []func() error
	logger    *zap.Logger
}

func openInfra(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *infra, err error) {
	in := &infra{
		logger: logger,
		health: func(context.Context) error { return nil },
	}
	defer func() {
		if err != nil {
			in.Close()
		}
	}()

	switch cfg.Store.Driver {
	case config.StoreMySQL:
		client, err := mysql.NewClient(ctx, cfg.MySQL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect mysql: %w", err)
		}
		in.closers = append(in.closers, client.Close)

		store := mysql_adapter.NewLedgerStore(client.DB())
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
		in.store = store
		in.health = client.Ping
	case config.StorePostgres:
		pool, err := postgres.NewPool(ctx, cfg.Postgres, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		in.closers = append(in.closers, func() error {
			pool.Close()
			return nil
		})
		if err := postgres_adapter.Migrate(ctx, cfg.Postgres.DSN, logger); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}

		store := postgres_adapter.NewLedgerStore(pool)
		in.store = store
		in.health = store.Ping
	default:
		w, err := wal.Open(cfg.Store.WALPath)
		if err != nil {
			return nil, fmt.Errorf("open wal: %w", err)
		}
		in.closers = append(in.closers, w.Close)

		// 啟動時會重播 WAL 還原帳戶、交易與流水號
		store, err := memory.NewLedgerStore(w)
		if err != nil {
			return nil, fmt.Errorf("recover ledger: %w", err)
		}
		logger.Info("wal replayed", zap.String("path", w.Path()), zap.Uint64("lsn", w.LastLSN()))
		in.store = store
	}
	logger.Info("ledger store ready", zap.String("driver", string(cfg.Store.Driver)))

	switch cfg.Cache.Driver {
	case config.CacheRedis:
		cache, err := redis_adapter.NewBalanceCache(ctx, cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		in.closers = append(in.closers, cache.Close)
		in.cache = cache
	default:
		in.cache = memory.NewBalanceCache()
	}
	logger.Info("balance cache ready", zap.String("driver", string(cfg.Cache.Driver)))

	if cfg.Kafka.Enabled() {
		publisher := kafka.NewPublisher(cfg.Kafka, logger)
		in.closers = append(in.closers, publisher.Close)
		in.publisher = publisher
		logger.Info("transaction events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}
	return in, nil
}

// Close 反向關閉，錯誤只記錄
func (in *infra) Close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		if err := in.closers[i](); err != nil {
			in.logger.Warn("close resource failed", zap.Error(err))
		}
	}
	in.closers = nil
}

// seedAccounts 註冊設定檔內的帳戶，已存在的帳戶只更新資料不改餘額
func seedAccounts(ctx context.Context, store usecase.LedgerStore, seeds []config.AccountSeed, logger *zap.Logger) error {
	for _, seed := range seeds {
		// 空字串或 0 代表零餘額開戶
		balance := decimal.Zero
		if seed.Balance != "" && seed.Balance != "0" {
			var err error
			if balance, err = domain.ParseAmount(seed.Balance); err != nil {
				return fmt.Errorf("seed account %s: %w", seed.Key, err)
			}
		}

		// Status 與 RegisteredAt 留空，已存在的帳戶保留原值
		saved, err := store.UpsertAccount(ctx, domain.Account{
			Key:      seed.Key,
			Document: seed.Document,
			Email:    seed.Email,
			Balance:  balance,
		})
		if err != nil {
			return fmt.Errorf("seed account %s: %w", seed.Key, err)
		}
		logger.Info("account registered",
			zap.String("account_key", saved.Key),
			zap.String("balance", saved.Balance.StringFixed(2)),
		)
	}
	return nil
}
