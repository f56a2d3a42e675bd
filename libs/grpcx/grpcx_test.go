package grpcx

import (
	"context"
	"io"
	"log/slog"
	"net"
	"testing"

	"github.com/bookwell/bookwell/libs/httpx"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type echoRequest struct {
	Text string `json:"text"`
}

type echoReply struct {
	Text      string `json:"text"`
	RequestID string `json:"requestId"`
}

type echoServer interface {
	Echo(context.Context, *echoRequest) (*echoReply, error)
}

type echoImpl struct{}

func (echoImpl) Echo(ctx context.Context, in *echoRequest) (*echoReply, error) {
	if in.Text == "panic" {
		panic("boom")
	}
	return &echoReply{Text: in.Text, RequestID: RequestIDFromContext(ctx)}, nil
}

var echoDesc = grpc.ServiceDesc{
	ServiceName: "test.Echo",
	HandlerType: (*echoServer)(nil),
	Methods: []grpc.MethodDesc{{
		MethodName: "Echo",
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(echoRequest)
			if err := dec(in); err != nil {
				return nil, err
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/test.Echo/Echo"}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return srv.(echoServer).Echo(ctx, req.(*echoRequest))
			})
		},
	}},
}

func TestJSONCodecRoundTripWithRequestID(t *testing.T) {
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(slog.New(slog.NewTextHandler(io.Discard, nil)))
	srv.RegisterService(&echoDesc, echoImpl{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := Dial("passthrough:///bufnet", DialOptions{}, grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
		return lis.DialContext(ctx)
	}))
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	ctx := httpx.ContextWithRequestID(context.Background(), "req-42")
	var out echoReply
	if err := conn.Invoke(ctx, "/test.Echo/Echo", &echoRequest{Text: "hi"}, &out); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if out.Text != "hi" || out.RequestID != "req-42" {
		t.Fatalf("unexpected reply %+v", out)
	}

	err = conn.Invoke(context.Background(), "/test.Echo/Echo", &echoRequest{Text: "panic"}, &out)
	if status.Code(err) != codes.Internal {
		t.Fatalf("expected Internal after panic, got %v", err)
	}
}
