package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
)

// EventTransactionCommitted 交易寫入後發出的事件名稱
const EventTransactionCommitted = "transaction.committed"

// Config Kafka 設定，Brokers 為空時不發送事件
type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled 是否有設定 broker
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

// TransactionEvent 事件內容，金額以字串表示避免精度問題
type TransactionEvent struct {
	Event         string    `json:"event"`
	TransactionID string    `json:"transaction_id"`
	Kind          string    `json:"kind"`
	RefID         string    `json:"ref_id"`
	AccountKey    string    `json:"account_key"`
	Amount        string    `json:"amount"`
	BalanceAfter  string    `json:"balance_after"`
	CreatedAt     time.Time `json:"created_at"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher 把交易事件寫到 Kafka
// 以 AccountKey 當 message key，同一帳戶的事件會落在同一個 partition，維持順序
type Publisher struct {
	writer messageWriter
	logger *zap.Logger
}

// NewPublisher 建立非同步的 Kafka writer
func NewPublisher(cfg Config, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true, // 不拖慢交易回應，錯誤由 Completion 記錄
		MaxAttempts:  3,
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("kafka write failed", zap.Int("messages", len(msgs)), zap.Error(err))
			}
		},
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Warn(fmt.Sprintf(msg, args...))
		}),
	}
	return newPublisher(writer, logger)
}

func newPublisher(writer messageWriter, logger *zap.Logger) *Publisher {
	return &Publisher{writer: writer, logger: logger}
}

// PublishTransaction 實作 usecase.Publisher
func (p *Publisher) PublishTransaction(ctx context.Context, tran domain.Transaction) error {
	payload, err := json.Marshal(TransactionEvent{
		Event:         EventTransactionCommitted,
		TransactionID: tran.ID,
		Kind:          string(tran.Kind),
		RefID:         tran.RefID.String(),
		AccountKey:    tran.AccountKey,
		Amount:        tran.Amount.StringFixed(domain.AmountScale),
		BalanceAfter:  tran.BalanceAfter.StringFixed(domain.AmountScale),
		CreatedAt:     tran.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", tran.ID, err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tran.AccountKey),
		Value: payload,
		Time:  tran.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event", Value: []byte(EventTransactionCommitted)},
		},
	})
}

// Close 送出緩衝中的訊息並關閉 writer
func (p *Publisher) Close() error {
	return p.writer.Close()
}

var _ usecase.Publisher = (*Publisher)(nil)
