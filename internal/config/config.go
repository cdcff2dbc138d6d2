package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/kafka"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/adapter/out/redis"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/logger"
	"github.com/JoeShih716/go-wallet-ledger/pkg/mysql"
	"github.com/JoeShih716/go-wallet-ledger/pkg/postgres"
)

// DefaultPath 設定檔預設位置，可用 LEDGER_CONFIG 覆蓋
const DefaultPath = "config/config.yaml"

// StoreDriver 帳本儲存層
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory" // 記憶體 + WAL
	StoreMySQL    StoreDriver = "mysql"
	StorePostgres StoreDriver = "postgres"
)

// CacheDriver session 餘額快取
type CacheDriver string

const (
	CacheMemory CacheDriver = "memory"
	CacheRedis  CacheDriver = "redis"
)

type Config struct {
	Logger    logger.Config        `yaml:"logger"`
	HTTP      HTTPConfig           `yaml:"http"`
	GRPC      GRPCConfig           `yaml:"grpc"`
	Auth      AuthConfig           `yaml:"auth"`
	Store     StoreConfig          `yaml:"store"`
	MySQL     mysql.Config         `yaml:"mysql"`
	Postgres  postgres.Config      `yaml:"postgres"`
	Cache     CacheConfig          `yaml:"cache"`
	Redis     redis.Config         `yaml:"redis"`
	Kafka     kafka.Config         `yaml:"kafka"`
	Processor ProcessorConfig      `yaml:"processor"`
	Report    usecase.ReportConfig `yaml:"report"`

	// Accounts 啟動時註冊的帳戶 (註冊流程在外部服務，這裡只給單機部署與壓測使用)
	Accounts []AccountSeed `yaml:"accounts"`
}

// AccountSeed 啟動時註冊的帳戶，已存在時不改餘額
type AccountSeed struct {
	Key      string `yaml:"key"`
	Document string `yaml:"document"`
	Email    string `yaml:"email"`
	Balance  string `yaml:"balance"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

type GRPCConfig struct {
	Addr       string `yaml:"addr"`
	Reflection bool   `yaml:"reflection"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

type StoreConfig struct {
	Driver  StoreDriver `yaml:"driver"`
	WALPath string      `yaml:"wal_path"`
}

type CacheConfig struct {
	Driver CacheDriver `yaml:"driver"`
}

type ProcessorConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// Load 讀取設定
//
// 順序: .env (若存在) -> YAML 檔 -> 環境變數覆蓋 -> 預設值
//
// 參數:
//
//	path: 設定檔路徑，空字串時使用 LEDGER_CONFIG 或 DefaultPath
func Load(path string) (*Config, error) {
	// .env 不存在是正常的 (正式環境直接用系統環境變數)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if path == "" {
		path = getEnv("LEDGER_CONFIG", DefaultPath)
	}

	var cfg Config
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
		// 沒有設定檔時全部走環境變數與預設值
	default:
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv 機密與位址可以用環境變數覆蓋
func (c *Config) applyEnv() error {
	overrideString(&c.Logger.Level, "LEDGER_LOG_LEVEL")
	overrideString(&c.Logger.Env, "LEDGER_ENV")
	overrideString(&c.HTTP.Addr, "LEDGER_HTTP_ADDR")
	overrideString(&c.GRPC.Addr, "LEDGER_GRPC_ADDR")
	overrideString(&c.Auth.JWTSecret, "LEDGER_JWT_SECRET")
	overrideString(&c.MySQL.Host, "LEDGER_MYSQL_HOST")
	overrideString(&c.MySQL.User, "LEDGER_MYSQL_USER")
	overrideString(&c.MySQL.Password, "LEDGER_MYSQL_PASSWORD")
	overrideString(&c.MySQL.DBName, "LEDGER_MYSQL_DB")
	overrideString(&c.Postgres.DSN, "LEDGER_POSTGRES_DSN")
	overrideString(&c.Redis.Addr, "LEDGER_REDIS_ADDR")
	overrideString(&c.Redis.Password, "LEDGER_REDIS_PASSWORD")
	overrideString(&c.Store.WALPath, "LEDGER_WAL_PATH")
	overrideString(&c.Report.ExportDir, "LEDGER_EXPORT_DIR")

	overrideString(&c.Kafka.Topic, "LEDGER_KAFKA_TOPIC")
	if v, ok := os.LookupEnv("LEDGER_KAFKA_BROKERS"); ok {
		c.Kafka.Brokers = splitList(v)
	}
	if v, ok := os.LookupEnv("LEDGER_STORE_DRIVER"); ok {
		c.Store.Driver = StoreDriver(v)
	}
	if v, ok := os.LookupEnv("LEDGER_CACHE_DRIVER"); ok {
		c.Cache.Driver = CacheDriver(v)
	}
	if v, ok := os.LookupEnv("LEDGER_MYSQL_PORT"); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LEDGER_MYSQL_PORT: %w", err)
		}
		c.MySQL.Port = port
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if c.GRPC.Addr == "" {
		c.GRPC.Addr = ":50051"
	}
	if c.Store.Driver == "" {
		c.Store.Driver = StoreMemory
	}
	if c.Store.Driver == StoreMemory && c.Store.WALPath == "" {
		c.Store.WALPath = "wal.log"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = CacheMemory
	}
	if c.Processor.Timeout == 0 {
		c.Processor.Timeout = usecase.DefaultTimeout
	}
	if c.Report.DefaultDays == 0 {
		c.Report.DefaultDays = usecase.DefaultReportDays
	}
	if c.Kafka.Enabled() && c.Kafka.Topic == "" {
		c.Kafka.Topic = "ledger.transactions"
	}
	switch c.Store.Driver {
	case StoreMySQL:
		c.MySQL.ApplyDefaults()
	case StorePostgres:
		c.Postgres.ApplyDefaults()
	}
}

// Validate 檢查設定是否可用
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory, StoreMySQL, StorePostgres:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	switch c.Cache.Driver {
	case CacheMemory:
	case CacheRedis:
		if c.Redis.Addr == "" {
			return errors.New("cache driver redis requires redis.addr")
		}
	default:
		return fmt.Errorf("unknown cache driver %q", c.Cache.Driver)
	}
	if c.Store.Driver == StoreMySQL && c.MySQL.Host == "" {
		return errors.New("store driver mysql requires mysql.host")
	}
	if c.Store.Driver == StorePostgres && c.Postgres.DSN == "" {
		return errors.New("store driver postgres requires postgres.dsn")
	}
	for i, seed := range c.Accounts {
		if seed.Key == "" {
			return fmt.Errorf("accounts[%d]: key is required", i)
		}
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret (LEDGER_JWT_SECRET) is required")
	}
	return nil
}

func overrideString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

// Helper to get env with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// splitList 逗號分隔，忽略空白項目
func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
