package receiver

import (
	"context"

	"google.golang.org/grpc"

	"github.com/wardwatch/wardwatch/server/internal/alert"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "wardwatch.v1.AlertService"

// AppliedTrailer carries the JSON alert state applied in memory when a
// command fails with Unavailable.
const AppliedTrailer = "wardwatch-applied-alert"

// AcknowledgeRequest is the request of AlertService/Acknowledge.
type AcknowledgeRequest struct {
	ID        string `json:"id"`
	Responder string `json:"responder"`
	Role      string `json:"role"`
}

// ResolveRequest is the request of AlertService/Resolve.
type ResolveRequest struct {
	ID       string `json:"id"`
	Resolver string `json:"resolver"`
}

// GetRequest is the request of AlertService/Get.
type GetRequest struct {
	ID string `json:"id"`
}

// AlertServiceServer is the server API for wardwatch.v1.AlertService.
type AlertServiceServer interface {
	Create(context.Context, *alert.CreateRequest) (*alert.Alert, error)
	Acknowledge(context.Context, *AcknowledgeRequest) (*alert.Alert, error)
	Resolve(context.Context, *ResolveRequest) (*alert.Alert, error)
	Get(context.Context, *GetRequest) (*alert.Alert, error)
}

// RegisterAlertServiceServer registers srv on s.
func RegisterAlertServiceServer(s grpc.ServiceRegistrar, srv AlertServiceServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AlertServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Create", Handler: createHandler},
		{MethodName: "Acknowledge", Handler: acknowledgeHandler},
		{MethodName: "Resolve", Handler: resolveHandler},
		{MethodName: "Get", Handler: getHandler},
	},
	Streams: []grpc.StreamDesc{},
}

func createHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(alert.CreateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).Create(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Create"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AlertServiceServer).Create(ctx, req.(*alert.CreateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func acknowledgeHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AcknowledgeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).Acknowledge(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Acknowledge"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AlertServiceServer).Acknowledge(ctx, req.(*AcknowledgeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func resolveHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ResolveRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).Resolve(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Resolve"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AlertServiceServer).Resolve(ctx, req.(*ResolveRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AlertServiceServer).Get(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Get"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(AlertServiceServer).Get(ctx, req.(*GetRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// Client is a client stub for wardwatch.v1.AlertService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps cc.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Create raises an alert.
func (c *Client) Create(ctx context.Context, in *alert.CreateRequest, opts ...grpc.CallOption) (*alert.Alert, error) {
	return c.invoke(ctx, "Create", in, opts)
}

// Acknowledge acknowledges an alert.
func (c *Client) Acknowledge(ctx context.Context, in *AcknowledgeRequest, opts ...grpc.CallOption) (*alert.Alert, error) {
	return c.invoke(ctx, "Acknowledge", in, opts)
}

// Resolve resolves an alert.
func (c *Client) Resolve(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*alert.Alert, error) {
	return c.invoke(ctx, "Resolve", in, opts)
}

// Get fetches one alert.
func (c *Client) Get(ctx context.Context, in *GetRequest, opts ...grpc.CallOption) (*alert.Alert, error) {
	return c.invoke(ctx, "Get", in, opts)
}

func (c *Client) invoke(ctx context.Context, method string, in interface{}, opts []grpc.CallOption) (*alert.Alert, error) {
	out := new(alert.Alert)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
