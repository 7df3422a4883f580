// Package api exposes the daemon over gRPC on the profile's unix socket.
// The Control service is declared by hand over the protobuf well-known
// types, so no generated code is needed on either side.
package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "feedsync.v1.Control"

// Full method names.
const (
	MethodGetStatus     = "/" + ServiceName + "/GetStatus"
	MethodPendingCount  = "/" + ServiceName + "/PendingCount"
	MethodSetOnline     = "/" + ServiceName + "/SetOnline"
	MethodSyncNow       = "/" + ServiceName + "/SyncNow"
	MethodListFailed    = "/" + ServiceName + "/ListFailed"
	MethodRetryAction   = "/" + ServiceName + "/RetryAction"
	MethodDiscardAction = "/" + ServiceName + "/DiscardAction"
	MethodWatchFailures = "/" + ServiceName + "/WatchFailures"
	MethodSendMessage   = "/" + ServiceName + "/SendMessage"
	MethodEditMessage   = "/" + ServiceName + "/EditMessage"
	MethodDeleteMessage = "/" + ServiceName + "/DeleteMessage"
	MethodCreatePost    = "/" + ServiceName + "/CreatePost"
	MethodToggleLike    = "/" + ServiceName + "/ToggleLike"
	MethodAddComment    = "/" + ServiceName + "/AddComment"
	MethodUploadStory   = "/" + ServiceName + "/UploadStory"
	MethodListChats     = "/" + ServiceName + "/ListChats"
	MethodListMessages  = "/" + ServiceName + "/ListMessages"
	MethodMarkChatRead  = "/" + ServiceName + "/MarkChatRead"
	MethodGetFeed       = "/" + ServiceName + "/GetFeed"
	MethodListStories   = "/" + ServiceName + "/ListStories"
)

// ControlServer is the server side of feedsync.v1.Control.
type ControlServer interface {
	GetStatus(context.Context, *emptypb.Empty) (*structpb.Struct, error)
	PendingCount(context.Context, *emptypb.Empty) (*wrapperspb.Int64Value, error)
	SetOnline(context.Context, *wrapperspb.BoolValue) (*emptypb.Empty, error)
	SyncNow(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	ListFailed(context.Context, *wrapperspb.Int32Value) (*structpb.ListValue, error)
	RetryAction(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	DiscardAction(context.Context, *wrapperspb.Int64Value) (*emptypb.Empty, error)
	WatchFailures(*emptypb.Empty, grpc.ServerStreamingServer[structpb.Struct]) error

	SendMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	EditMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteMessage(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreatePost(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ToggleLike(context.Context, *structpb.Struct) (*structpb.Struct, error)
	AddComment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UploadStory(context.Context, *structpb.Struct) (*structpb.Struct, error)

	ListChats(context.Context, *wrapperspb.Int32Value) (*structpb.ListValue, error)
	ListMessages(context.Context, *structpb.Struct) (*structpb.ListValue, error)
	MarkChatRead(context.Context, *wrapperspb.StringValue) (*emptypb.Empty, error)
	GetFeed(context.Context, *wrapperspb.Int32Value) (*structpb.ListValue, error)
	ListStories(context.Context, *emptypb.Empty) (*structpb.ListValue, error)
}

// RegisterControlServer registers srv on s.
func RegisterControlServer(s grpc.ServiceRegistrar, srv ControlServer) {
	s.RegisterService(&ControlServiceDesc, srv)
}

// unary builds a method handler that decodes a Req, runs call and honors
// interceptors the same way generated handlers do.
func unary[Req any, Resp any](method string, call func(ControlServer, context.Context, *Req) (*Resp, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(ControlServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(ControlServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

func watchFailuresHandler(srv any, stream grpc.ServerStream) error {
	in := new(emptypb.Empty)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ControlServer).WatchFailures(in, &grpc.GenericServerStream[emptypb.Empty, structpb.Struct]{ServerStream: stream})
}

// ControlServiceDesc describes feedsync.v1.Control.
var ControlServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetStatus", Handler: unary(MethodGetStatus, ControlServer.GetStatus)},
		{MethodName: "PendingCount", Handler: unary(MethodPendingCount, ControlServer.PendingCount)},
		{MethodName: "SetOnline", Handler: unary(MethodSetOnline, ControlServer.SetOnline)},
		{MethodName: "SyncNow", Handler: unary(MethodSyncNow, ControlServer.SyncNow)},
		{MethodName: "ListFailed", Handler: unary(MethodListFailed, ControlServer.ListFailed)},
		{MethodName: "RetryAction", Handler: unary(MethodRetryAction, ControlServer.RetryAction)},
		{MethodName: "DiscardAction", Handler: unary(MethodDiscardAction, ControlServer.DiscardAction)},
		{MethodName: "SendMessage", Handler: unary(MethodSendMessage, ControlServer.SendMessage)},
		{MethodName: "EditMessage", Handler: unary(MethodEditMessage, ControlServer.EditMessage)},
		{MethodName: "DeleteMessage", Handler: unary(MethodDeleteMessage, ControlServer.DeleteMessage)},
		{MethodName: "CreatePost", Handler: unary(MethodCreatePost, ControlServer.CreatePost)},
		{MethodName: "ToggleLike", Handler: unary(MethodToggleLike, ControlServer.ToggleLike)},
		{MethodName: "AddComment", Handler: unary(MethodAddComment, ControlServer.AddComment)},
		{MethodName: "UploadStory", Handler: unary(MethodUploadStory, ControlServer.UploadStory)},
		{MethodName: "ListChats", Handler: unary(MethodListChats, ControlServer.ListChats)},
		{MethodName: "ListMessages", Handler: unary(MethodListMessages, ControlServer.ListMessages)},
		{MethodName: "MarkChatRead", Handler: unary(MethodMarkChatRead, ControlServer.MarkChatRead)},
		{MethodName: "GetFeed", Handler: unary(MethodGetFeed, ControlServer.GetFeed)},
		{MethodName: "ListStories", Handler: unary(MethodListStories, ControlServer.ListStories)},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchFailures", Handler: watchFailuresHandler, ServerStreams: true},
	},
	Metadata: "feedsync/v1/control.proto",
}
