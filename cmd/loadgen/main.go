package main

import (
	"context"
	"flag"
	"log"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/types/known/structpb"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/config"
	"github.com/JoeShih716/go-wallet-ledger/pkg/grpc"
	"github.com/JoeShih716/go-wallet-ledger/pkg/jwt"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

func main() {
	target := flag.String("target", "localhost:50051", "grpc server address")
	account := flag.String("account", "demo", "account key to post against")
	total := flag.Int("n", 100000, "total requests")
	concurrency := flag.Int("c", 200, "concurrent requests")
	amount := flag.String("amount", "1.00", "amount per request")
	withdrawEvery := flag.Int("withdraw-every", 4, "every Nth request is a withdrawal, 0 disables")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	// 與 server 共用同一份設定取得 JWT secret
	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	zl, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	token, err := jwt.GenerateToken(*account, jwt.NewSessionID(), "", cfg.Auth.JWTSecret, *timeout+time.Minute)
	if err != nil {
		zl.Fatal("generate token", zap.Error(err))
	}

	pool := grpc.NewPool(
		grpc.WithBearerToken(token),
		grpc.WithCallTimeout(5*time.Second),
		grpc.WithLogger(zl),
	)
	defer pool.Close()
	conn, err := pool.GetConnection(*target)
	if err != nil {
		zl.Fatal("connect", zap.String("target", *target), zap.Error(err))
	}
	client := grpc_adapter.NewLedgerServiceClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var succeeded, rejected, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*concurrency)

	startTime := time.Now()
	for i := 0; i < *total; i++ {
		kind := domain.TransactionKindDeposit
		if *withdrawEvery > 0 && i%*withdrawEvery == *withdrawEvery-1 {
			kind = domain.TransactionKindWithdrawal
		}
		idx := i
		g.Go(func() error {
			req, err := structpb.NewStruct(map[string]any{
				"kind":   string(kind),
				"amount": *amount,
				"ref_id": uuid.NewString(),
			})
			if err != nil {
				return err
			}
			resp, err := client.Post(gctx, req)
			switch {
			case err != nil:
				failed.Add(1)
				if idx%10000 == 0 {
					zl.Warn("post failed", zap.Int("idx", idx), zap.Error(err))
				}
			case resp.GetFields()["status"].GetStringValue() == domain.StatusSuccess:
				succeeded.Add(1)
			default:
				// 餘額不足等業務拒絕
				rejected.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		zl.Error("load run aborted", zap.Error(err))
	}

	elapsed := time.Since(startTime)
	balance, err := client.GetBalance(context.Background(), &structpb.Struct{})
	if err != nil {
		zl.Warn("get balance", zap.Error(err))
	}
	zl.Info("load run completed",
		zap.Int("requests", *total),
		zap.Int64("succeeded", succeeded.Load()),
		zap.Int64("rejected", rejected.Load()),
		zap.Int64("failed", failed.Load()),
		zap.Duration("elapsed", elapsed),
		zap.Float64("tps", float64(*total)/elapsed.Seconds()),
		zap.String("balance", balance.GetFields()["balance"].GetStringValue()),
	)
}
