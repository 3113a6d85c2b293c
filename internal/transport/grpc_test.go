package transport

import (
	"context"
	"encoding/json"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

func startGRPC(t *testing.T, handler grpc.StreamHandler) *GRPCTransport {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnknownServiceHandler(handler))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	tr, err := NewGRPCTransport(GRPCConfig{Address: "passthrough:///bufnet"}, StaticToken("tok"), nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(tr.Close)
	return tr
}

func echoHandler(_ any, ss grpc.ServerStream) error {
	method, _ := grpc.MethodFromServerStream(ss)
	if method != StreamMethod {
		return status.Errorf(codes.Unimplemented, "unknown method %s", method)
	}
	md, _ := metadata.FromIncomingContext(ss.Context())
	if auth := md.Get("authorization"); len(auth) == 0 || auth[0] != "Bearer tok" {
		return status.Error(codes.Unauthenticated, "bad token")
	}

	in := &wrapperspb.BytesValue{}
	if err := ss.RecvMsg(in); err != nil {
		return err
	}
	var req Request
	if err := json.Unmarshal(in.GetValue(), &req); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	for _, chunk := range []string{"data: {\"rep", "ly\":\"" + req.Message + "\"}\n", "data: {\"conversation_id\":\"c-g\"}\n"} {
		if err := ss.SendMsg(wrapperspb.Bytes([]byte(chunk))); err != nil {
			return err
		}
	}
	return nil
}

func TestGRPCTransportStreams(t *testing.T) {
	t.Parallel()

	tr := startGRPC(t, echoHandler)
	require.NoError(t, tr.WaitReady(context.Background()))

	res := drain(tr.Send(context.Background(), Request{Message: "hey"}))
	require.NoError(t, res.err)
	assert.Equal(t, "hey", res.text)
	assert.True(t, res.done)
	assert.Equal(t, "c-g", res.conversationID)
}

func TestGRPCTransportUnauthenticated(t *testing.T) {
	t.Parallel()

	tr := startGRPC(t, func(any, grpc.ServerStream) error {
		return status.Error(codes.Unauthenticated, "expired")
	})

	res := drain(tr.Send(context.Background(), Request{Message: "x"}))
	require.Error(t, res.err)
	assert.ErrorIs(t, res.err, ErrUnauthorized)
	assert.True(t, IsUnauthorized(res.err))
}

func TestGRPCTransportServerError(t *testing.T) {
	t.Parallel()

	tr := startGRPC(t, func(_ any, ss grpc.ServerStream) error {
		_ = ss.SendMsg(wrapperspb.Bytes([]byte("{\"reply\":\"ab\"}\n")))
		return status.Error(codes.Unavailable, "overloaded")
	})

	res := drain(tr.Send(context.Background(), Request{Message: "x"}))
	require.Error(t, res.err)
	assert.Equal(t, codes.Unavailable, status.Code(res.err))
	assert.False(t, IsUnauthorized(res.err))
	assert.Equal(t, "ab", res.text)
}
