package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "segmentkeeper.v1.SegmentService"

// Method names.
const (
	MethodValidateRuleTree    = "ValidateRuleTree"
	MethodPreviewAudience     = "PreviewAudience"
	MethodCreateSegment       = "CreateSegment"
	MethodListSegments        = "ListSegments"
	MethodGetSegment          = "GetSegment"
	MethodUpdateSegment       = "UpdateSegment"
	MethodDeleteSegment       = "DeleteSegment"
	MethodRecordUsage         = "RecordUsage"
	MethodListFields          = "ListFields"
	MethodSetSegmentActive    = "SetSegmentActive"
	MethodMaterializeAudience = "MaterializeAudience"
)

// FullMethod returns the gRPC path of method.
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// SegmentServiceServer is the server API. Payloads are JSON-shaped
// google.protobuf.Struct messages.
type SegmentServiceServer interface {
	ValidateRuleTree(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PreviewAudience(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateSegment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListSegments(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetSegment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateSegment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteSegment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordUsage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListFields(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetSegmentActive(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MaterializeAudience(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(SegmentServiceServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryMethod(name string, call unaryFunc) grpc.MethodDesc {
	fullMethod := FullMethod(name)
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			server := srv.(SegmentServiceServer)
			if interceptor == nil {
				return call(server, ctx, in)
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(server, ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}, handler)
		},
	}
}

// ServiceDesc describes SegmentService for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SegmentServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryMethod(MethodValidateRuleTree, SegmentServiceServer.ValidateRuleTree),
		unaryMethod(MethodPreviewAudience, SegmentServiceServer.PreviewAudience),
		unaryMethod(MethodCreateSegment, SegmentServiceServer.CreateSegment),
		unaryMethod(MethodListSegments, SegmentServiceServer.ListSegments),
		unaryMethod(MethodGetSegment, SegmentServiceServer.GetSegment),
		unaryMethod(MethodUpdateSegment, SegmentServiceServer.UpdateSegment),
		unaryMethod(MethodDeleteSegment, SegmentServiceServer.DeleteSegment),
		unaryMethod(MethodRecordUsage, SegmentServiceServer.RecordUsage),
		unaryMethod(MethodListFields, SegmentServiceServer.ListFields),
		unaryMethod(MethodSetSegmentActive, SegmentServiceServer.SetSegmentActive),
		unaryMethod(MethodMaterializeAudience, SegmentServiceServer.MaterializeAudience),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "segmentkeeper/v1/segment_service.proto",
}

// RegisterSegmentServiceServer registers srv with s.
func RegisterSegmentServiceServer(s grpc.ServiceRegistrar, srv SegmentServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls SegmentService over a client connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient creates a client on conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Call invokes method with a JSON-shaped request and returns the JSON-shaped
// response. Request values must be acceptable to structpb.NewValue.
func (c *Client) Call(ctx context.Context, method string, req map[string]any, opts ...grpc.CallOption) (map[string]any, error) {
	in, err := structpb.NewStruct(req)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out.AsMap(), nil
}
