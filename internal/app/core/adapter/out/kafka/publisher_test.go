package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
)

type stubWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *stubWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *stubWriter) Close() error {
	w.closed = true
	return nil
}

func TestPublishTransaction(t *testing.T) {
	w := &stubWriter{}
	p := newPublisher(w, nil)

	ref := uuid.New()
	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	err := p.PublishTransaction(context.Background(), domain.Transaction{
		ID:           "REC-1000",
		Seq:          1000,
		RefID:        ref,
		Kind:         domain.TransactionKindDeposit,
		AccountKey:   "acc-1",
		Amount:       decimal.RequireFromString("100"),
		BalanceAfter: decimal.RequireFromString("100.5"),
		CreatedAt:    at,
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("messages = %d", len(w.msgs))
	}
	msg := w.msgs[0]
	if string(msg.Key) != "acc-1" || !msg.Time.Equal(at) {
		t.Fatalf("key = %s time = %v", msg.Key, msg.Time)
	}

	var event TransactionEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if !event.CreatedAt.Equal(at) {
		t.Fatalf("created_at = %v", event.CreatedAt)
	}
	event.CreatedAt = at
	want := TransactionEvent{
		Event:         EventTransactionCommitted,
		TransactionID: "REC-1000",
		Kind:          "deposit",
		RefID:         ref.String(),
		AccountKey:    "acc-1",
		Amount:        "100.00",
		BalanceAfter:  "100.50",
		CreatedAt:     at,
	}
	if event != want {
		t.Fatalf("event = %+v, want %+v", event, want)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Fatalf("close = %v closed = %v", err, w.closed)
	}
}

func TestPublishTransactionWriteError(t *testing.T) {
	boom := errors.New("broker down")
	p := newPublisher(&stubWriter{err: boom}, nil)
	err := p.PublishTransaction(context.Background(), domain.Transaction{ID: "RET-1000", Kind: domain.TransactionKindWithdrawal})
	if !errors.Is(err, boom) {
		t.Fatalf("expected write error, got %v", err)
	}
}

func TestConfigEnabled(t *testing.T) {
	if (Config{}).Enabled() {
		t.Fatal("empty config should be disabled")
	}
	if !(Config{Brokers: []string{"localhost:9092"}}).Enabled() {
		t.Fatal("config with brokers should be enabled")
	}
}
