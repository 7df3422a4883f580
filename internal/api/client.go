package api

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client talks to a daemon's control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, fmt.Errorf("dial daemon: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, method, req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetStatus(ctx context.Context) (*structpb.Struct, error) {
	return invoke[structpb.Struct](ctx, c, MethodGetStatus, &emptypb.Empty{})
}

func (c *Client) PendingCount(ctx context.Context) (int64, error) {
	v, err := invoke[wrapperspb.Int64Value](ctx, c, MethodPendingCount, &emptypb.Empty{})
	if err != nil {
		return 0, err
	}
	return v.GetValue(), nil
}

func (c *Client) SetOnline(ctx context.Context, online bool) error {
	_, err := invoke[emptypb.Empty](ctx, c, MethodSetOnline, wrapperspb.Bool(online))
	return err
}

func (c *Client) SyncNow(ctx context.Context) error {
	_, err := invoke[emptypb.Empty](ctx, c, MethodSyncNow, &emptypb.Empty{})
	return err
}

func (c *Client) ListFailed(ctx context.Context, limit int32) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c, MethodListFailed, wrapperspb.Int32(limit))
}

func (c *Client) RetryAction(ctx context.Context, seq int64) error {
	_, err := invoke[emptypb.Empty](ctx, c, MethodRetryAction, wrapperspb.Int64(seq))
	return err
}

func (c *Client) DiscardAction(ctx context.Context, seq int64) error {
	_, err := invoke[emptypb.Empty](ctx, c, MethodDiscardAction, wrapperspb.Int64(seq))
	return err
}

// WatchFailures streams permanent failures until ctx is cancelled.
func (c *Client) WatchFailures(ctx context.Context) (grpc.ServerStreamingClient[structpb.Struct], error) {
	desc := &ControlServiceDesc.Streams[0]
	stream, err := c.conn.NewStream(ctx, desc, MethodWatchFailures)
	if err != nil {
		return nil, err
	}
	x := &grpc.GenericClientStream[emptypb.Empty, structpb.Struct]{ClientStream: stream}
	if err := x.ClientStream.SendMsg(&emptypb.Empty{}); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

// Write issues one of the mutation methods (MethodSendMessage,
// MethodCreatePost, ...) and returns the receipt.
func (c *Client) Write(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return invoke[structpb.Struct](ctx, c, method, req)
}

func (c *Client) ListChats(ctx context.Context, limit int32) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c, MethodListChats, wrapperspb.Int32(limit))
}

func (c *Client) ListMessages(ctx context.Context, chatID string, limit int32) (*structpb.ListValue, error) {
	req := record(map[string]any{"chat_id": chatID, "limit": limit})
	return invoke[structpb.ListValue](ctx, c, MethodListMessages, req)
}

func (c *Client) MarkChatRead(ctx context.Context, chatID string) error {
	_, err := invoke[emptypb.Empty](ctx, c, MethodMarkChatRead, wrapperspb.String(chatID))
	return err
}

func (c *Client) GetFeed(ctx context.Context, limit int32) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c, MethodGetFeed, wrapperspb.Int32(limit))
}

func (c *Client) ListStories(ctx context.Context) (*structpb.ListValue, error) {
	return invoke[structpb.ListValue](ctx, c, MethodListStories, &emptypb.Empty{})
}
