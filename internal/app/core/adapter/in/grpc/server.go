package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-wallet-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-wallet-ledger/pkg/jwt"
)

// Observer gRPC 層用到的 metrics
type Observer interface {
	ObserveRequest(transport, method, route string, status int, elapsed time.Duration)
}

type GrpcServer struct {
	processor *usecase.Processor
	reports   *usecase.ReportGenerator
	cache     usecase.BalanceCache
	logger    *zap.Logger
}

func NewGrpcServer(processor *usecase.Processor, reports *usecase.ReportGenerator, cache usecase.BalanceCache, logger *zap.Logger) *GrpcServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GrpcServer{
		processor: processor,
		reports:   reports,
		cache:     cache,
		logger:    logger,
	}
}

// Post 送出一筆交易
// 業務錯誤以 status=error 回傳 (Soft Failure)，不轉成 gRPC 錯誤
func (s *GrpcServer) Post(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	resp := session.Handle(ctx, domain.Request{
		Kind:   stringField(req, "kind"),
		Amount: stringField(req, "amount"),
		RefID:  stringField(req, "ref_id"),
	})
	return toStruct(resp)
}

// GetBalance 讀取權威餘額
func (s *GrpcServer) GetBalance(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	balance, err := s.processor.Balance(ctx, session.AccountKey)
	if err != nil {
		return nil, toStatus(err)
	}
	return structpb.NewStruct(map[string]any{
		"account_key": session.AccountKey,
		"balance":     balance.StringFixed(domain.AmountScale),
	})
}

// GenerateReport 產生報表 (只限營運人員)
func (s *GrpcServer) GenerateReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	claims, ok := jwt.FromContext(ctx)
	if !ok || claims.Role != jwt.RoleOperator {
		return nil, status.Error(codes.PermissionDenied, "forbidden")
	}
	kind, err := domain.ParseKind(stringField(req, "kind"))
	if err != nil {
		return nil, toStatus(err)
	}
	record, err := s.reports.Generate(ctx, domain.ReportRequest{
		Kind:     kind,
		DateFrom: stringField(req, "date_from"),
		DateTo:   stringField(req, "date_fin"),
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return toStruct(record)
}

func (s *GrpcServer) session(ctx context.Context) (*usecase.Session, error) {
	claims, ok := jwt.FromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "missing credentials")
	}
	sessionID := claims.SessionID
	if sessionID == "" {
		sessionID = claims.AccountKey()
	}
	return s.processor.AttachSession(sessionID, claims.AccountKey(), s.cache), nil
}

// AuthInterceptor 從 metadata 的 authorization 取出 Bearer token
func AuthInterceptor(secret string) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)
		values := md.Get("authorization")
		if len(values) == 0 {
			return nil, status.Error(codes.Unauthenticated, "missing authorization metadata")
		}
		raw, ok := jwt.BearerToken(values[0])
		if !ok {
			return nil, status.Error(codes.Unauthenticated, "missing bearer token")
		}
		claims, err := jwt.Parse(raw, secret)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		return handler(jwt.NewContext(ctx, claims), req)
	}
}

// ObserveInterceptor 紀錄每次呼叫的結果與耗時
func ObserveInterceptor(observer Observer, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		elapsed := time.Since(start)
		code := status.Code(err)
		if observer != nil {
			observer.ObserveRequest("grpc", "unary", info.FullMethod, int(code), elapsed)
		}
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("duration", elapsed),
		)
		return resp, err
	}
}

// toStatus 錯誤轉成 gRPC status，訊息只帶分類文字
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidKind),
		errors.Is(err, domain.ErrInvalidDate),
		errors.Is(err, domain.ErrInvalidReference):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrAccountNotFound),
		errors.Is(err, domain.ErrTransactionNotFound),
		errors.Is(err, domain.ErrNoData):
		code = codes.NotFound
	case errors.Is(err, domain.ErrAccountDisabled):
		code = codes.PermissionDenied
	case errors.Is(err, domain.ErrInsufficientFunds):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrTransactionAlreadyProcessed):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = codes.Unavailable
	}
	return status.Error(code, domain.Message(err))
}

func stringField(s *structpb.Struct, name string) string {
	if s == nil {
		return ""
	}
	v, ok := s.GetFields()[name]
	if !ok {
		return ""
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		return kind.StringValue
	case *structpb.Value_NumberValue:
		// 金額允許用數字傳，轉回字串交給 decimal 解析
		b, _ := json.Marshal(kind.NumberValue)
		return string(b)
	default:
		return ""
	}
}

// toStruct 以 JSON 為中介轉成 Struct，欄位名稱與 HTTP 回應一致
func toStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	out := &structpb.Struct{}
	if err := protojson.Unmarshal(b, out); err != nil {
		return nil, status.Error(codes.Internal, "encode response")
	}
	return out, nil
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
