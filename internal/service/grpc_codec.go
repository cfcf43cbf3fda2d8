package service

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype clients select with
// grpc.CallContentSubtype to talk to the claim escrow service.
const CodecName = "json"

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "claimescrow.ClaimEscrowService"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// ClaimEscrowServer is the server side of claimescrow.ClaimEscrowService.
type ClaimEscrowServer interface {
	CreateRegistry(context.Context, *CreateRegistryMessage) (*RegistryResponse, error)
	CreateClaim(context.Context, *CreateClaimMessage) (*ClaimResponse, error)
	InitiateClaim(context.Context, *InitiateClaimMessage) (*TicketResponse, error)
	CompleteClaim(context.Context, *CompleteClaimMessage) (*ClaimResponse, error)
	CancelClaim(context.Context, *CancelClaimMessage) (*ClaimResponse, error)
	ExtendClaimExpiry(context.Context, *ExtendClaimMessage) (*ClaimResponse, error)
	ExpireClaim(context.Context, *ClaimIDMessage) (*ClaimResponse, error)
	GetClaim(context.Context, *ClaimIDMessage) (*ClaimResponse, error)
	ListClaims(context.Context, *RegistryIDMessage) (*ClaimListResponse, error)
	GetRegistry(context.Context, *RegistryIDMessage) (*RegistryResponse, error)
	GetStats(context.Context, *RegistryIDMessage) (*StatsResponse, error)
	ClaimExists(context.Context, *ClaimExistsMessage) (*ClaimExistsResponse, error)
}

func unaryMethod[Req any, Resp any](name string, call func(ClaimEscrowServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(ClaimEscrowServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}

			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + name,
			}

			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*Req))
			})
		},
	}
}

var claimEscrowServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ClaimEscrowServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod("CreateRegistry", ClaimEscrowServer.CreateRegistry),
		unaryMethod("CreateClaim", ClaimEscrowServer.CreateClaim),
		unaryMethod("InitiateClaim", ClaimEscrowServer.InitiateClaim),
		unaryMethod("CompleteClaim", ClaimEscrowServer.CompleteClaim),
		unaryMethod("CancelClaim", ClaimEscrowServer.CancelClaim),
		unaryMethod("ExtendClaimExpiry", ClaimEscrowServer.ExtendClaimExpiry),
		unaryMethod("ExpireClaim", ClaimEscrowServer.ExpireClaim),
		unaryMethod("GetClaim", ClaimEscrowServer.GetClaim),
		unaryMethod("ListClaims", ClaimEscrowServer.ListClaims),
		unaryMethod("GetRegistry", ClaimEscrowServer.GetRegistry),
		unaryMethod("GetStats", ClaimEscrowServer.GetStats),
		unaryMethod("ClaimExists", ClaimEscrowServer.ClaimExists),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "claimescrow.proto",
}

// ClaimEscrowClient is a thin client for claimescrow.ClaimEscrowService.
type ClaimEscrowClient struct {
	conn grpc.ClientConnInterface
}

func NewClaimEscrowClient(conn grpc.ClientConnInterface) *ClaimEscrowClient {
	return &ClaimEscrowClient{conn: conn}
}

func invoke[Resp any](ctx context.Context, c *ClaimEscrowClient, method string, in any, opts ...grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}

	return out, nil
}

func (c *ClaimEscrowClient) CreateRegistry(ctx context.Context, in *CreateRegistryMessage, opts ...grpc.CallOption) (*RegistryResponse, error) {
	return invoke[RegistryResponse](ctx, c, "CreateRegistry", in, opts...)
}

func (c *ClaimEscrowClient) CreateClaim(ctx context.Context, in *CreateClaimMessage, opts ...grpc.CallOption) (*ClaimResponse, error) {
	return invoke[ClaimResponse](ctx, c, "CreateClaim", in, opts...)
}

func (c *ClaimEscrowClient) InitiateClaim(ctx context.Context, in *InitiateClaimMessage, opts ...grpc.CallOption) (*TicketResponse, error) {
	return invoke[TicketResponse](ctx, c, "InitiateClaim", in, opts...)
}

func (c *ClaimEscrowClient) CompleteClaim(ctx context.Context, in *CompleteClaimMessage, opts ...grpc.CallOption) (*ClaimResponse, error) {
	return invoke[ClaimResponse](ctx, c, "CompleteClaim", in, opts...)
}

func (c *ClaimEscrowClient) CancelClaim(ctx context.Context, in *CancelClaimMessage, opts ...grpc.CallOption) (*ClaimResponse, error) {
	return invoke[ClaimResponse](ctx, c, "CancelClaim", in, opts...)
}

func (c *ClaimEscrowClient) ExtendClaimExpiry(ctx context.Context, in *ExtendClaimMessage, opts ...grpc.CallOption) (*ClaimResponse, error) {
	return invoke[ClaimResponse](ctx, c, "ExtendClaimExpiry", in, opts...)
}

func (c *ClaimEscrowClient) ExpireClaim(ctx context.Context, in *ClaimIDMessage, opts ...grpc.CallOption) (*ClaimResponse, error) {
	return invoke[ClaimResponse](ctx, c, "ExpireClaim", in, opts...)
}

func (c *ClaimEscrowClient) GetClaim(ctx context.Context, in *ClaimIDMessage, opts ...grpc.CallOption) (*ClaimResponse, error) {
	return invoke[ClaimResponse](ctx, c, "GetClaim", in, opts...)
}

func (c *ClaimEscrowClient) ListClaims(ctx context.Context, in *RegistryIDMessage, opts ...grpc.CallOption) (*ClaimListResponse, error) {
	return invoke[ClaimListResponse](ctx, c, "ListClaims", in, opts...)
}

func (c *ClaimEscrowClient) GetRegistry(ctx context.Context, in *RegistryIDMessage, opts ...grpc.CallOption) (*RegistryResponse, error) {
	return invoke[RegistryResponse](ctx, c, "GetRegistry", in, opts...)
}

func (c *ClaimEscrowClient) GetStats(ctx context.Context, in *RegistryIDMessage, opts ...grpc.CallOption) (*StatsResponse, error) {
	return invoke[StatsResponse](ctx, c, "GetStats", in, opts...)
}

func (c *ClaimEscrowClient) ClaimExists(ctx context.Context, in *ClaimExistsMessage, opts ...grpc.CallOption) (*ClaimExistsResponse, error) {
	return invoke[ClaimExistsResponse](ctx, c, "ClaimExists", in, opts...)
}
