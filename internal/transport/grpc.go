package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/ashureev/companion/internal/stream"
)

// StreamMethod is the full name of the server-streaming reply method. The
// request is a BytesValue holding the JSON Request; each response is a
// BytesValue holding an arbitrary chunk of the reply stream.
const StreamMethod = "/companion.v1.Companion/StreamReply"

// StreamDesc describes StreamMethod for clients and servers.
var StreamDesc = grpc.StreamDesc{StreamName: "StreamReply", ServerStreams: true}

var errConnectionShutdown = errors.New("connection shutdown")

// GRPCConfig holds connection settings for GRPCTransport.
type GRPCConfig struct {
	Address          string
	KeepaliveTime    time.Duration
	KeepaliveTimeout time.Duration
}

// DefaultGRPCConfig returns keepalive defaults for addr.
func DefaultGRPCConfig(addr string) GRPCConfig {
	return GRPCConfig{
		Address:          addr,
		KeepaliveTime:    2 * time.Minute,
		KeepaliveTimeout: 10 * time.Second,
	}
}

// GRPCTransport streams replies over a gRPC server stream.
type GRPCTransport struct {
	conn   *grpc.ClientConn
	tokens TokenSource
	opts   []stream.Option
	logger *slog.Logger
}

// NewGRPCTransport builds a client connection (no network I/O yet).
func NewGRPCTransport(cfg GRPCConfig, tokens TokenSource, logger *slog.Logger, dialOpts ...grpc.DialOption) (*GRPCTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultGRPCConfig(cfg.Address)
	if cfg.KeepaliveTime <= 0 {
		cfg.KeepaliveTime = defaults.KeepaliveTime
	}
	if cfg.KeepaliveTimeout <= 0 {
		cfg.KeepaliveTimeout = defaults.KeepaliveTimeout
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:    cfg.KeepaliveTime,
			Timeout: cfg.KeepaliveTimeout,
		}),
	}
	conn, err := grpc.NewClient(cfg.Address, append(opts, dialOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client for %s: %w", cfg.Address, err)
	}
	return &GRPCTransport{conn: conn, tokens: tokens, logger: logger}, nil
}

// WithStreamOptions sets decoder options for every send.
func (t *GRPCTransport) WithStreamOptions(opts ...stream.Option) *GRPCTransport {
	t.opts = opts
	return t
}

// WaitReady forces a connection attempt so a bad address fails fast.
func (t *GRPCTransport) WaitReady(ctx context.Context) error {
	for {
		state := t.conn.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Idle:
			t.conn.Connect()
		case connectivity.Shutdown:
			return errConnectionShutdown
		}
		if !t.conn.WaitForStateChange(ctx, state) {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("connection stuck in %s", state)
		}
	}
}

// Close closes the connection.
func (t *GRPCTransport) Close() {
	if err := t.conn.Close(); err != nil {
		t.logger.Warn("failed to close gRPC connection", "error", err)
	}
}

// Send implements Transport.
func (t *GRPCTransport) Send(ctx context.Context, req Request) iter.Seq2[stream.Event, error] {
	tok, err := token(ctx, t.tokens)
	if err != nil {
		return fail(err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fail(fmt.Errorf("marshal chat request: %w", err))
	}

	return func(yield func(stream.Event, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)

		cs, err := t.conn.NewStream(ctx, &StreamDesc, StreamMethod)
		if err != nil {
			yield(stream.Event{}, grpcError("open reply stream", err))
			return
		}
		// io.EOF means the server already ended the stream; RecvMsg reports its status.
		if err := cs.SendMsg(wrapperspb.Bytes(body)); err != nil && !errors.Is(err, io.EOF) {
			yield(stream.Event{}, grpcError("send chat request", err))
			return
		}
		if err := cs.CloseSend(); err != nil {
			yield(stream.Event{}, grpcError("close send", err))
			return
		}

		chunks := func(yield func([]byte, error) bool) {
			for {
				msg := &wrapperspb.BytesValue{}
				err := cs.RecvMsg(msg)
				if errors.Is(err, io.EOF) {
					return
				}
				if err != nil {
					yield(nil, grpcError("receive reply chunk", err))
					return
				}
				if !yield(msg.GetValue(), nil) {
					return
				}
			}
		}

		for ev, err := range stream.Decode(ctx, chunks, t.opts...) {
			if !yield(ev, err) || err != nil {
				return
			}
		}
	}
}

func grpcError(op string, err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated, codes.PermissionDenied:
		return fmt.Errorf("%s: %w: %w", op, ErrUnauthorized, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
