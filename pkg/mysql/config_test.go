package mysql

import (
	"context"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm/logger"
)

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", User: "ledger", Password: "p@ss", DBName: "wallet_ledger"}
	cfg.ApplyDefaults()

	dsn, err := cfg.DSN()
	if err != nil {
		t.Fatalf("dsn: %v", err)
	}
	for _, want := range []string{"ledger:p@ss@tcp(db:3306)/wallet_ledger?", "charset=utf8mb4", "parseTime=true"} {
		if !strings.Contains(dsn, want) {
			t.Fatalf("dsn %q missing %q", dsn, want)
		}
	}
	if cfg.MaxOpenConns != 100 || cfg.ConnectRetries != 10 || cfg.SlowThreshold != 200*time.Millisecond {
		t.Fatalf("defaults = %+v", cfg)
	}

	if _, err := (&Config{}).DSN(); err == nil {
		t.Fatal("expected error without host")
	}
}

func TestGormLoggerTrace(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := newGormLogger(zap.New(core), "warn", 10*time.Millisecond)
	fc := func() (string, int64) { return "SELECT 1", 1 }

	l.Trace(context.Background(), time.Now(), fc, nil)
	l.Trace(context.Background(), time.Now().Add(-time.Second), fc, nil)
	if logs.Len() != 1 || logs.All()[0].Message != "slow sql" {
		t.Fatalf("logs = %v", logs.All())
	}

	if l.LogMode(logger.Silent).(*gormLogger).level != logger.Silent || l.level != logger.Warn {
		t.Fatal("LogMode should return a copy")
	}
}
