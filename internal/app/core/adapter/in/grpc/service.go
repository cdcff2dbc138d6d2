package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// 服務沒有 .proto 產生的程式碼，訊息一律用 google.protobuf.Struct，
// 欄位與 HTTP 的 JSON 格式相同。
const (
	ServiceName = "ledger.v1.LedgerService"

	MethodPost           = "/" + ServiceName + "/Post"
	MethodGetBalance     = "/" + ServiceName + "/GetBalance"
	MethodGenerateReport = "/" + ServiceName + "/GenerateReport"
)

// LedgerServiceServer 服務端介面
type LedgerServiceServer interface {
	Post(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GetBalance(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	GenerateReport(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// RegisterLedgerServiceServer 註冊服務
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

func unaryHandler(method string, call func(LedgerServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(LedgerServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(LedgerServiceServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Post",
			Handler: unaryHandler(MethodPost, func(s LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.Post(ctx, in)
			}),
		},
		{
			MethodName: "GetBalance",
			Handler: unaryHandler(MethodGetBalance, func(s LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GetBalance(ctx, in)
			}),
		},
		{
			MethodName: "GenerateReport",
			Handler: unaryHandler(MethodGenerateReport, func(s LedgerServiceServer, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
				return s.GenerateReport(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "ledger/v1/ledger.proto",
}

// LedgerServiceClient 客戶端
type LedgerServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewLedgerServiceClient(cc grpc.ClientConnInterface) *LedgerServiceClient {
	return &LedgerServiceClient{cc: cc}
}

func (c *LedgerServiceClient) Post(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodPost, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) GetBalance(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGetBalance, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *LedgerServiceClient) GenerateReport(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, MethodGenerateReport, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
