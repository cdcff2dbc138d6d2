package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/in/rest"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/metrics"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/internal/config"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default $LEDGER_CONFIG or config/config.yaml)")
	flag.Parse()

	// 1. 載入設定
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 2. 初始化 Logger
	zl, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer zl.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, zl); err != nil {
		zl.Fatal("server exited with error", zap.Error(err))
	}
	zl.Info("server exited")
}

func run(ctx context.Context, cfg *config.Config, zl *zap.Logger) error {
	// 3. 初始化儲存層與快取 (Driven Adapters)
	infra, err := openInfra(ctx, cfg, zl)
	if err != nil {
		return err
	}
	defer infra.Close()

	if err := seedAccounts(ctx, infra.store, cfg.Accounts, zl); err != nil {
		return err
	}

	// 4. 初始化 UseCase
	m := metrics.New()
	processor := usecase.NewProcessor(infra.store, usecase.NewIssuer(infra.store),
		usecase.WithLogger(zl),
		usecase.WithRecorder(m),
		usecase.WithTimeout(cfg.Processor.Timeout),
		usecase.WithPublisher(infra.publisher),
	)
	reports := usecase.NewReportGenerator(infra.store, cfg.Report, zl)
	auditor := usecase.NewAuditor(infra.store)

	// 5. 初始化 HTTP / gRPC Adapter (Driving Adapters)
	httpServer := &http.Server{
		Addr: cfg.HTTP.Addr,
		Handler: rest.NewRouter(rest.Deps{
			Processor:      processor,
			Reports:        reports,
			Auditor:        auditor,
			Cache:          infra.cache,
			JWTSecret:      cfg.Auth.JWTSecret,
			Observer:       m,
			MetricsHandler: m.Handler(),
			Health:         infra.health,
			Logger:         zl,
			Timeout:        cfg.Processor.Timeout * 2,
			CORSOrigins:    cfg.HTTP.CORSOrigins,
		}),
	}

	grpcServer := grpc.NewServer(grpc.ChainUnaryInterceptor(
		grpc_adapter.ObserveInterceptor(m, zl),
		grpc_adapter.AuthInterceptor(cfg.Auth.JWTSecret),
	))
	grpc_adapter.RegisterLedgerServiceServer(grpcServer, grpc_adapter.NewGrpcServer(processor, reports, infra.cache, zl))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer) // 方便 grpcurl 之類的工具測試
	}

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	// 6. 啟動 Server，收到訊號後 Graceful Shutdown
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		zl.Info("starting http server", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		zl.Info("starting grpc server", zap.String("addr", cfg.GRPC.Addr))
		healthServer.SetServingStatus(grpc_adapter.ServiceName, healthpb.HealthCheckResponse_SERVING)
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		zl.Info("shutting down servers")
		healthServer.Shutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		grpcServer.GracefulStop()
		return err
	})
	return g.Wait()
}
